package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance
	Logger *zap.Logger

	// Metrics
	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifications_total",
			Help: "Total number of message classifications by resulting category",
		},
		[]string{"category"},
	)

	enforcementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enforcements_total",
			Help: "Total number of enforcement outcomes by tier",
		},
		[]string{"tier"},
	)

	dispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_failures_total",
			Help: "Enforcement actions that exhausted their retries",
		},
		[]string{"action"},
	)

	messageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_processing_duration_seconds",
			Help:    "Time spent processing messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	var err error
	Logger, err = zap.NewProduction()
	if err != nil {
		return err
	}

	prometheus.MustRegister(classificationsTotal)
	prometheus.MustRegister(enforcementsTotal)
	prometheus.MustRegister(dispatchFailuresTotal)
	prometheus.MustRegister(messageProcessingDuration)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			Logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// RecordClassification records a classification result by category.
func RecordClassification(category string) {
	classificationsTotal.WithLabelValues(category).Inc()
}

// RecordEnforcement records a chosen enforcement tier.
func RecordEnforcement(tier string) {
	enforcementsTotal.WithLabelValues(tier).Inc()
}

// RecordDispatchFailure records an action that failed after all retries.
func RecordDispatchFailure(action string) {
	dispatchFailuresTotal.WithLabelValues(action).Inc()
}

// StartMessageProcessing returns a function to record message processing duration
func StartMessageProcessing() func(status string) {
	start := time.Now()
	return func(status string) {
		messageProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
