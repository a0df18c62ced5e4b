package loader

import (
	"github.com/picatz/josekit/pkg/serialization"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// ResultSuccess indicates a successful operation
	ResultSuccess = "success"
	// ResultError indicates a failed operation
	ResultError = "error"
)

// Metrics counts the operations of a Loader. A nil *Metrics records
// nothing.
type Metrics struct {
	// LoadsTotal is a counter for loaded inputs
	LoadsTotal *prometheus.CounterVec

	// LoadDuration is a histogram for the time spent loading an input
	LoadDuration *prometheus.HistogramVec

	// VerificationsTotal is a counter for signature verification attempts
	VerificationsTotal *prometheus.CounterVec

	// DecryptionsTotal is a counter for decryption attempts
	DecryptionsTotal *prometheus.CounterVec
}

// NewMetrics creates the loader metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "josekit_loader_loads_total",
				Help: "Total number of loaded inputs",
			},
			[]string{"kind", "mode", "result"}, // kind: jws, jwe, unknown, mode: compact, flattened, general, unknown
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "josekit_loader_load_duration_seconds",
				Help:    "Duration of input loading in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
			},
			[]string{"result"},
		),
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "josekit_loader_verifications_total",
				Help: "Total number of signature verification attempts",
			},
			[]string{"result"},
		),
		DecryptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "josekit_loader_decryptions_total",
				Help: "Total number of decryption attempts",
			},
			[]string{"result"},
		),
	}
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// RecordLoad records a load attempt. The kind and mode of inputs that
// could not be detected are recorded as "unknown".
func (m *Metrics) RecordLoad(kind serialization.Kind, mode string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(kind.String(), mode, result(err)).Inc()
	m.LoadDuration.WithLabelValues(result(err)).Observe(seconds)
}

// RecordVerification records a signature verification attempt.
func (m *Metrics) RecordVerification(err error) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(result(err)).Inc()
}

// RecordDecryption records a decryption attempt.
func (m *Metrics) RecordDecryption(err error) {
	if m == nil {
		return
	}
	m.DecryptionsTotal.WithLabelValues(result(err)).Inc()
}
