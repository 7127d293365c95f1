// Package metrics holds the gateway's Prometheus collectors.  They are
// created eagerly so callers never see nil collectors, and become visible
// on /metrics once Register is called.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	AuthOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_auth_operations_total",
		Help: "Credential operations by operation and result.",
	}, []string{"operation", "result"})

	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_tokens_issued_total",
		Help: "Total number of token pairs issued.",
	})

	AdmissionRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_admission_rejected_total",
		Help: "Requests rejected by the admission chain, by guard.",
	}, []string{"guard"})

	RateLimitBackendErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_ratelimit_backend_errors_total",
		Help: "Rate-limit counter failures that were let through.",
	})

	DownstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_downstream_requests_total",
		Help: "Dispatched requests by method and outcome.",
	}, []string{"method", "outcome"})

	DownstreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_downstream_duration_seconds",
		Help:    "Time until the downstream response headers arrived.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	EventPublishFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_event_publish_failures_total",
		Help: "Identity events that could not be published.",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		AuthOperationsTotal,
		TokensIssuedTotal,
		AdmissionRejectedTotal,
		RateLimitBackendErrorsTotal,
		DownstreamRequestsTotal,
		DownstreamDuration,
		EventPublishFailuresTotal,
	}
}

// Register adds every collector to reg.  Duplicate registration is logged
// and skipped so tests can build several servers in one process.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register metrics.")
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				log.Warn().Err(err).Msg("Failed to register metric")
			}
		}
	}
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Result labels an operation outcome.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
