package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds the metric handles recorded by the services. A nil
// *AppMetrics is valid and records nothing.
type AppMetrics struct {
	// Transport
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	GRPCRequestsTotal   CounterVec

	// Evaluation
	EvaluationsTotal   CounterVec
	EvaluationDuration HistogramVec
	BatchSize          HistogramVec
	ExtrapolationTotal CounterVec

	// Coefficient sets
	CoefficientSetsLoaded GaugeVec

	// Infrastructure
	CacheHitsTotal         CounterVec
	CacheMissesTotal       CounterVec
	DBQueryDuration        HistogramVec
	MessagesTotal          CounterVec
	MessageProcessDuration HistogramVec

	// Health
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

var (
	DefaultHTTPDurationBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}
	// A single evaluation takes microseconds; batches reach seconds.
	DefaultEvalDurationBuckets = []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 1e-2, .1, 1, 10}
	DefaultBatchSizeBuckets    = []float64{1, 4, 16, 64, 256, 1024, 4096, 16384}
	DefaultDBDurationBuckets   = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewAppMetrics registers every metric on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.GRPCRequestsTotal = collector.RegisterCounter("grpc_requests_total", "Total gRPC requests", "method", "code")

	m.EvaluationsTotal = collector.RegisterCounter("evaluations_total", "Polynomial evaluations", "source", "mode", "status")
	m.EvaluationDuration = collector.RegisterHistogram("evaluation_duration_seconds", "Evaluation request duration", DefaultEvalDurationBuckets, "source", "mode")
	m.BatchSize = collector.RegisterHistogram("evaluation_batch_size", "Configurations per evaluation request", DefaultBatchSizeBuckets, "source")
	m.ExtrapolationTotal = collector.RegisterCounter("extrapolation_checks_total", "Training coverage lookups", "result")

	m.CoefficientSetsLoaded = collector.RegisterGauge("coefficient_sets_loaded", "Coefficient sets held in the local cache", "tier")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DefaultDBDurationBuckets, "db", "operation")
	m.MessagesTotal = collector.RegisterCounter("messages_total", "Consumed and produced messages", "topic", "status")
	m.MessageProcessDuration = collector.RegisterHistogram("message_process_duration_seconds", "Message handling duration", DefaultHTTPDurationBuckets, "topic")

	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type")

	return m
}

// Evaluation modes.
const (
	ModeEnergy   = "energy"
	ModeGradient = "gradient"
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func RecordHTTPRequest(m *AppMetrics, method, path string, statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func RecordGRPCRequest(m *AppMetrics, method, code string) {
	if m == nil {
		return
	}
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}

// RecordEvaluation counts n configurations evaluated by one request.
func RecordEvaluation(m *AppMetrics, source, mode string, n int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(source, mode, status(err)).Add(float64(n))
	m.EvaluationDuration.WithLabelValues(source, mode).Observe(d.Seconds())
	m.BatchSize.WithLabelValues(source).Observe(float64(n))
}

func RecordExtrapolation(m *AppMetrics, inside bool) {
	if m == nil {
		return
	}
	result := "inside"
	if !inside {
		result = "outside"
	}
	m.ExtrapolationTotal.WithLabelValues(result).Inc()
}

func RecordCacheAccess(m *AppMetrics, cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordSetsLoaded sets the number of sets held by a cache tier.
func RecordSetsLoaded(m *AppMetrics, tier string, n int) {
	if m == nil {
		return
	}
	m.CoefficientSetsLoaded.WithLabelValues(tier).Set(float64(n))
}

func RecordDBQuery(m *AppMetrics, db, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(db, operation).Observe(d.Seconds())
	if err != nil {
		m.ErrorsTotal.WithLabelValues(db, "query_error").Inc()
	}
}

func RecordMessage(m *AppMetrics, topic string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(topic, status(err)).Inc()
	m.MessageProcessDuration.WithLabelValues(topic).Observe(d.Seconds())
}

func RecordHealth(m *AppMetrics, component string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

func RecordError(m *AppMetrics, component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
