package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const RefererKey = "X-Referer"

// HTTPBuckets covers API latencies; anything past 10s is already a timeout
// at the proxy.
var HTTPBuckets = []float64{
	10, 25, 50, 100, 150, 250, 400, 600,
	1000, 1500, 2500, 4000, 6000, 10000,
}

// JobBuckets covers OCR calls and maintenance steps, which run for minutes.
var JobBuckets = []float64{
	50, 250, 1000, 2500, 5000, 10000, 20000,
	30000, 60000, 120000, 300000, 600000,
}

// Metric describes one collector. Type is one of counter_vec, gauge_vec,
// histogram_vec or summary_vec.
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
	// Buckets overrides HTTPBuckets for histograms.
	Buckets []float64
}

// NewMetric builds the collector described by m. It returns nil for an
// unknown type.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "histogram_vec":
		buckets := m.Buckets
		if buckets == nil {
			buckets = HTTPBuckets
		}
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
			Buckets:   buckets,
		}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	}
	return nil
}
