package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/tokenlens/pkg/db"
)

const (
	IngestReasonDeadlineExceeded     = "deadline_exceeded"
	IngestReasonCanceled             = "canceled"
	IngestReasonStoreUnavailable     = "store_unavailable"
	IngestReasonUniqueViolation      = "unique_violation"
	IngestReasonConstraint           = "constraint"
	IngestReasonSerializationFailure = "serialization_failure"
	IngestReasonUnknown              = "unknown"
)

// IngestMetrics captures bulk ingestion throughput and failure signals.
type IngestMetrics struct {
	batchDuration *prometheus.HistogramVec
	batchRows     *prometheus.CounterVec
	storeFailures *prometheus.CounterVec
	inFlight      *prometheus.GaugeVec
}

var (
	ingestMetricsOnce sync.Once
	ingestMetrics     *IngestMetrics
)

// Ingest returns the singleton ingestion metrics registry.
func Ingest() *IngestMetrics {
	return IngestWithConfig(Config{})
}

// IngestWithConfig returns the singleton ingestion metrics registry using config labels.
func IngestWithConfig(cfg Config) *IngestMetrics {
	ingestMetricsOnce.Do(func() {
		ingestMetrics = newIngestMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ingestMetrics
}

// ResetIngestMetricsForTest resets the ingestion metrics singleton for tests.
func ResetIngestMetricsForTest() {
	ingestMetricsOnce = sync.Once{}
	ingestMetrics = nil
}

func newIngestMetrics(registerer prometheus.Registerer, cfg Config) *IngestMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "tokenlens"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "tokenlens_ingest_batch_duration_seconds",
		Help:        "Time spent writing one ingestion batch.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"entity"})
	batchRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenlens_ingest_batch_rows_total",
		Help:        "Rows written by ingestion batches by outcome.",
		ConstLabels: constLabels,
	}, []string{"entity", "outcome"})
	storeFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tokenlens_ingest_store_failures_total",
		Help:        "Ingestion store failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"entity", "reason"})
	inFlight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "tokenlens_ingest_batches_in_flight",
		Help:        "Ingestion batches currently being written.",
		ConstLabels: constLabels,
	}, []string{"entity"})

	batchDuration = registerCollector(registerer, batchDuration)
	batchRows = registerCollector(registerer, batchRows)
	storeFailures = registerCollector(registerer, storeFailures)
	inFlight = registerCollector(registerer, inFlight)

	return &IngestMetrics{
		batchDuration: batchDuration,
		batchRows:     batchRows,
		storeFailures: storeFailures,
		inFlight:      inFlight,
	}
}

// registerCollector registers c, reusing an identical collector that is already registered.
func registerCollector[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ObserveBatch records the duration and outcome of one ingestion batch.
func (m *IngestMetrics) ObserveBatch(entity string, duration time.Duration, accepted, rejected int) {
	if m == nil {
		return
	}
	entity = strings.TrimSpace(entity)
	m.batchDuration.WithLabelValues(entity).Observe(duration.Seconds())
	if accepted > 0 {
		m.batchRows.WithLabelValues(entity, OutcomeImported).Add(float64(accepted))
	}
	if rejected > 0 {
		m.batchRows.WithLabelValues(entity, OutcomeRejected).Add(float64(rejected))
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *IngestMetrics) TrackInFlight(entity string) func() {
	if m == nil {
		return func() {}
	}
	gauge := m.inFlight.WithLabelValues(strings.TrimSpace(entity))
	gauge.Inc()
	return gauge.Dec
}

// IncStoreFailure counts a store failure under its classified reason.
func (m *IngestMetrics) IncStoreFailure(entity string, err error) {
	if m == nil || err == nil {
		return
	}
	m.storeFailures.WithLabelValues(strings.TrimSpace(entity), ClassifyIngestFailure(err)).Inc()
}

// ClassifyIngestFailure maps a store error to a low-cardinality reason.
func ClassifyIngestFailure(err error) string {
	switch {
	case err == nil:
		return IngestReasonUnknown
	case errors.Is(err, context.Canceled):
		return IngestReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return IngestReasonDeadlineExceeded
	case db.HasPGCode(err, "40001"):
		return IngestReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return IngestReasonUniqueViolation
	case db.IsConstraintErr(err):
		return IngestReasonConstraint
	case db.IsUnavailableErr(err):
		return IngestReasonStoreUnavailable
	default:
		return IngestReasonUnknown
	}
}
