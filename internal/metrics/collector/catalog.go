// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CatalogCollector counts traffic between the arr clients and their
// catalogs. The catalog label is the media kind ("series" or "movie")
// so the series stays bounded no matter how many instances exist.
type CatalogCollector struct {
	RequestTotal  *prometheus.CounterVec
	RetryTotal    *prometheus.CounterVec
	TagWriteTotal *prometheus.CounterVec
}

func NewCatalogCollector(r *prometheus.Registry) *CatalogCollector {
	m := &CatalogCollector{
		RequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dubarr",
			Subsystem: "catalog",
			Name:      "request_total",
			Help:      "Total number of catalog API requests by final outcome",
		}, []string{"catalog", "outcome"}),
		RetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dubarr",
			Subsystem: "catalog",
			Name:      "retry_total",
			Help:      "Total number of catalog API request retries",
		}, []string{"catalog"}),
		TagWriteTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dubarr",
			Subsystem: "catalog",
			Name:      "tag_write_total",
			Help:      "Total number of catalog entries whose tags were rewritten",
		}, []string{"catalog"}),
	}

	r.MustRegister(m.RequestTotal)
	r.MustRegister(m.RetryTotal)
	r.MustRegister(m.TagWriteTotal)
	return m
}
