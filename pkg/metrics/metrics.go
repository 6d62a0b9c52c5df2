// Package metrics records transfer progress as Prometheus metrics that can
// be pushed to a Pushgateway once the run ends.
package metrics

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/mercury2269/sqsmover/v2/pkg/transfer"
)

const namespace = "sqsmover"

// Reporter is a transfer.Reporter backed by a private registry.
type Reporter struct {
	registry *prometheus.Registry
	runID    string

	messages    prometheus.Counter
	batches     prometheus.Counter
	halts       prometheus.Counter
	approximate prometheus.Gauge
}

// New registers the run metrics for mode.
func New(mode transfer.Mode, runID string) *Reporter {
	labels := prometheus.Labels{"mode": mode.String()}

	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Messages fully processed by the run.",
	}, []string{"mode"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_total",
		Help:      "Batches fully processed by the run.",
	}, []string{"mode"})
	halts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "halts_total",
		Help:      "Runs stopped before the source was exhausted.",
	}, []string{"mode"})
	approximate := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "source_approximate_messages",
		Help:      "Last known approximate number of messages in the source queue.",
	})

	r := &Reporter{
		registry:    prometheus.NewRegistry(),
		runID:       runID,
		messages:    messages.With(labels),
		batches:     batches.With(labels),
		halts:       halts.With(labels),
		approximate: approximate,
	}
	r.registry.MustRegister(messages, batches, halts, approximate)

	return r
}

// Gatherer exposes the registry.
func (r *Reporter) Gatherer() prometheus.Gatherer {
	return r.registry
}

func (r *Reporter) Start(estimate int) {
	r.observe(estimate)
}

func (r *Reporter) Add(n int) {
	r.messages.Add(float64(n))
	r.batches.Inc()
}

func (r *Reporter) Milestone(_, estimate int) {
	r.observe(estimate)
}

func (r *Reporter) Done(transfer.Summary) {}

func (r *Reporter) Halt(error) {
	r.halts.Inc()
}

// unknown estimates keep the last known value
func (r *Reporter) observe(estimate int) {
	if estimate >= 0 {
		r.approximate.Set(float64(estimate))
	}
}

// Push sends every metric to the Pushgateway at url, grouped by run id.
func (r *Reporter) Push(ctx context.Context, url, job string) error {
	err := push.New(url, job).
		Gatherer(r.registry).
		Grouping("run_id", r.runID).
		PushContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "pushing metrics to %s", url)
	}
	return nil
}
