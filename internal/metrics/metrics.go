package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/cumulusfn/cumulus/internal/config"
)

var Enabled bool
var registry = prometheus.NewRegistry()

var (
	RequestsArrived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cumulus_requests_total",
		Help: "Total number of invocation requests received.",
	})
	ColdStarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cumulus_cold_starts_total",
		Help: "Total number of cold container starts.",
	})
	Throttles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cumulus_throttles_total",
		Help: "Total number of throttled requests.",
	})
	invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cumulus_invocations_total",
		Help: "Invocations by function and outcome.",
	}, []string{"function", "outcome"})
	ExecutionTimes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cumulus_execution_seconds",
		Help:    "Function execution time in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	})
	warmContainers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cumulus_warm_containers",
		Help: "Idle warm containers by function.",
	}, []string{"function"})
)

func Init() {
	if config.GetBool(config.METRICS_ENABLED, false) {
		log.Info("Metrics enabled.")
		Enabled = true
	} else {
		log.Info("Metrics disabled.")
		Enabled = false
		return
	}

	registry.MustRegister(RequestsArrived, ColdStarts, Throttles, invocations, ExecutionTimes, warmContainers)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true})
	http.Handle("/metrics", handler)
	port := config.GetInt(config.METRICS_PORT, 2112)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), nil); err != nil {
		log.Errorf("metrics server failed: %v", err)
	}
}

// CountInvocation counts one terminal invocation outcome.
func CountInvocation(funcName, outcome string) {
	if !Enabled {
		return
	}
	invocations.WithLabelValues(funcName, outcome).Inc()
}

// SetWarmContainers updates the warm pool gauge of a function.
func SetWarmContainers(funcName string, n int) {
	if !Enabled {
		return
	}
	warmContainers.WithLabelValues(funcName).Set(float64(n))
}

// ObserveExecution records one execution duration.
func ObserveExecution(seconds float64) {
	if !Enabled {
		return
	}
	ExecutionTimes.Observe(seconds)
}
