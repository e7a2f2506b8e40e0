package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const businessSubsystem = "handbok"

var MetricsMaintenanceStep = &Metric{
	ID:          "maintenanceStep",
	Name:        "maintenance_step_dur_ms",
	Description: "subscription maintenance step latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"step", "outcome"},
	Buckets:     JobBuckets,
}

var MetricsGDPRRequest = &Metric{
	ID:          "gdprRequest",
	Name:        "gdpr_request_total",
	Description: "GDPR requests partitioned by type and outcome",
	Type:        "counter_vec",
	Args:        []string{"type", "outcome"},
}

var MetricsExtraction = &Metric{
	ID:          "extraction",
	Name:        "document_extraction_dur_ms",
	Description: "document text extraction latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"method", "outcome"},
	Buckets:     JobBuckets,
}

var MetricsAccessCache = &Metric{
	ID:          "accessCache",
	Name:        "access_cache_lookup_total",
	Description: "access check cache lookups partitioned by hit or miss",
	Type:        "counter_vec",
	Args:        []string{"result"},
}

var businessMetrics = []*Metric{
	MetricsMaintenanceStep,
	MetricsGDPRRequest,
	MetricsExtraction,
	MetricsAccessCache,
}

var (
	maintenanceStep = NewMetric(MetricsMaintenanceStep, businessSubsystem).(*prometheus.HistogramVec)
	gdprRequest     = NewMetric(MetricsGDPRRequest, businessSubsystem).(*prometheus.CounterVec)
	extraction      = NewMetric(MetricsExtraction, businessSubsystem).(*prometheus.HistogramVec)
	accessCache     = NewMetric(MetricsAccessCache, businessSubsystem).(*prometheus.CounterVec)
)

func init() {
	MetricsMaintenanceStep.MetricCollector = maintenanceStep
	MetricsGDPRRequest.MetricCollector = gdprRequest
	MetricsExtraction.MetricCollector = extraction
	MetricsAccessCache.MetricCollector = accessCache
}

// RegisterBusinessMetrics registers the domain collectors. Registering twice is not an error.
func RegisterBusinessMetrics(reg prometheus.Registerer) error {
	for _, m := range businessMetrics {
		if err := reg.Register(m.MetricCollector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveMaintenanceStep(step string, start time.Time, err error) {
	maintenanceStep.WithLabelValues(step, outcome(err)).Observe(MillisecondsSince(start))
}

func ObserveExtraction(method, result string, start time.Time) {
	extraction.WithLabelValues(method, result).Observe(MillisecondsSince(start))
}

func IncGDPRRequest(requestType, result string) {
	gdprRequest.WithLabelValues(requestType, result).Inc()
}

func IncAccessCache(hit bool) {
	if hit {
		accessCache.WithLabelValues("hit").Inc()
		return
	}
	accessCache.WithLabelValues("miss").Inc()
}
