package collector

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ScanCollector counts scanner activity. Counters reset with the
// process; point-in-time library state is exported by the metrics
// package's status collector instead.
type ScanCollector struct {
	PassTotal  *prometheus.CounterVec
	TitleTotal *prometheus.CounterVec
}

func NewScanCollector(r *prometheus.Registry) *ScanCollector {
	m := &ScanCollector{
		PassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dubarr",
			Subsystem: "scan",
			Name:      "pass_total",
			Help:      "Total number of scan passes run",
		}, []string{"instance_id", "instance_name", "mode"}),
		TitleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dubarr",
			Subsystem: "scan",
			Name:      "title_total",
			Help:      "Total number of titles handled during scan passes",
		}, []string{"instance_id", "instance_name", "outcome"}),
	}

	r.MustRegister(m.PassTotal)
	r.MustRegister(m.TitleTotal)
	return m
}

func (m *ScanCollector) GetPassTotal(instanceID int, instanceName, mode string) prometheus.Counter {
	return m.PassTotal.With(prometheus.Labels{
		"instance_id":   strconv.Itoa(instanceID),
		"instance_name": instanceName,
		"mode":          mode,
	})
}

func (m *ScanCollector) GetTitleTotal(instanceID int, instanceName string) *prometheus.CounterVec {
	return m.TitleTotal.MustCurryWith(prometheus.Labels{
		"instance_id":   strconv.Itoa(instanceID),
		"instance_name": instanceName,
	})
}
