// Package telemetry exposes Prometheus metrics about analytics computations.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perfline"

// Recorder owns a private registry so several engines (and tests) can coexist in one
// process. A nil *Recorder is valid and records nothing.
type Recorder struct {
	reg          *prometheus.Registry
	computations *prometheus.CounterVec
	readiness    *prometheus.CounterVec
	quality      *prometheus.GaugeVec
	duration     *prometheus.HistogramVec
	imports      *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		computations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "computations_total",
			Help:      "Analytics computations by kind.",
		}, []string{"kind"}),
		readiness: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_verdicts_total",
			Help:      "Decision readiness verdicts.",
		}, []string{"ready"}),
		quality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_quality_score",
			Help:      "Data quality score of the most recent validation per org.",
		}, []string{"org"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "computation_duration_seconds",
			Help:      "Time spent loading data and computing analytics.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imported_records_total",
			Help:      "Records imported by entity kind.",
		}, []string{"entity"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by outcome.",
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(
		r.computations, r.readiness, r.quality, r.duration, r.imports, r.webhooks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveComputation counts one computation of kind and records how long it took.
func (r *Recorder) ObserveComputation(kind string, started time.Time) {
	if r == nil {
		return
	}
	r.computations.WithLabelValues(kind).Inc()
	r.duration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

func (r *Recorder) ObserveReadiness(orgID string, ready bool, qualityScore int) {
	if r == nil {
		return
	}
	r.readiness.WithLabelValues(strconv.FormatBool(ready)).Inc()
	r.quality.WithLabelValues(orgID).Set(float64(qualityScore))
}

func (r *Recorder) AddImported(entity string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.imports.WithLabelValues(entity).Add(float64(n))
}

// WebhookDelivery records a delivery outcome: delivered, failed or rejected.
func (r *Recorder) WebhookDelivery(outcome string) {
	if r == nil {
		return
	}
	r.webhooks.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
