package ai

import (
	"context"
	"time"

	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of the request counter.
const (
	OutcomeOK              = "ok"
	OutcomeAPIError        = "api_error"
	OutcomeMalformed       = "malformed"
	OutcomeSchemaViolation = "schema_violation"
	OutcomeError           = "error"
)

// Metrics holds the Prometheus collectors for generation requests.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct // this is better for readability
				Name: "storyweaver_generation_requests_total",
				Help: "Total number of story generation requests by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{ //nolint:exhaustruct // this is better for readability
				Name:    "storyweaver_generation_duration_seconds",
				Help:    "Histogram of story generation request durations.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), //nolint:mnd // 0.25s .. 32s
			},
			[]string{"backend"},
		),
	}
}

// Outcome classifies err into one of the outcome labels.
func Outcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &apiErr):
		return OutcomeAPIError
	case errors.Is(err, ErrMalformedResponse):
		return OutcomeMalformed
	case errors.Is(err, ErrSchemaViolation):
		return OutcomeSchemaViolation
	default:
		return OutcomeError
	}
}

type instrumented struct {
	next    Generator
	backend string
	metrics *Metrics
}

// Instrument wraps g so that every request is counted and timed.
func Instrument(g Generator, backend string, m *Metrics) Generator {
	return &instrumented{next: g, backend: backend, metrics: m}
}

func (g *instrumented) Generate(ctx context.Context, turns []models.Turn, instruction string) (Generation, error) {
	start := time.Now()
	generation, err := g.next.Generate(ctx, turns, instruction)
	g.metrics.duration.WithLabelValues(g.backend).Observe(time.Since(start).Seconds())
	g.metrics.requests.WithLabelValues(g.backend, Outcome(err)).Inc()
	return generation, err
}
