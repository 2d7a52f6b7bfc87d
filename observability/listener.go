// Package observability provides a lifecycle listener that records
// queue-wide counters via the go-utils metrics factory. Register it with
// the hook registry to track enqueue rates, completion counts, failure
// rates, retries, cancellations, dead-letter entries, and maintenance
// fires. Per-attempt histograms live in the middleware layer; this
// listener covers the lifecycle totals.
package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cancel"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/hook"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// Compile-time interface checks.
var (
	_ hook.Listener     = (*MetricsListener)(nil)
	_ hook.JobEnqueued  = (*MetricsListener)(nil)
	_ hook.JobClaimed   = (*MetricsListener)(nil)
	_ hook.JobCompleted = (*MetricsListener)(nil)
	_ hook.JobFailed    = (*MetricsListener)(nil)
	_ hook.JobRetrying  = (*MetricsListener)(nil)
	_ hook.JobCancelled = (*MetricsListener)(nil)
	_ hook.JobDLQ       = (*MetricsListener)(nil)
	_ hook.CronFired    = (*MetricsListener)(nil)
)

// MetricsListener records lifecycle counters via a go-utils MetricFactory.
type MetricsListener struct {
	JobEnqueued  gu.Counter
	JobClaimed   gu.Counter
	JobCompleted gu.Counter
	JobFailed    gu.Counter
	JobRetried   gu.Counter
	JobCancelled gu.Counter
	JobDLQ       gu.Counter
	CronFired    gu.Counter
}

// NewMetricsListener creates a MetricsListener using a default collector.
func NewMetricsListener() *MetricsListener {
	return NewMetricsListenerWithFactory(gu.NewMetricsCollector("jobqueue/observability"))
}

// NewMetricsListenerWithFactory creates a MetricsListener with the
// provided MetricFactory. Use fapp.Metrics() in forge extensions, or
// gu.NewMetricsCollector for testing.
func NewMetricsListenerWithFactory(factory gu.MetricFactory) *MetricsListener {
	return &MetricsListener{
		JobEnqueued:  factory.Counter("jobqueue.job.enqueued"),
		JobClaimed:   factory.Counter("jobqueue.job.claimed"),
		JobCompleted: factory.Counter("jobqueue.job.completed"),
		JobFailed:    factory.Counter("jobqueue.job.failed"),
		JobRetried:   factory.Counter("jobqueue.job.retried"),
		JobCancelled: factory.Counter("jobqueue.job.cancelled"),
		JobDLQ:       factory.Counter("jobqueue.job.dlq"),
		CronFired:    factory.Counter("jobqueue.cron.fired"),
	}
}

// Name implements hook.Listener.
func (m *MetricsListener) Name() string { return "observability-metrics" }

// OnJobEnqueued implements hook.JobEnqueued.
func (m *MetricsListener) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	m.JobEnqueued.Inc()
	return nil
}

// OnJobClaimed implements hook.JobClaimed.
func (m *MetricsListener) OnJobClaimed(_ context.Context, _ *job.Job) error {
	m.JobClaimed.Inc()
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsListener) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Inc()
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsListener) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Inc()
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (m *MetricsListener) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Inc()
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (m *MetricsListener) OnJobCancelled(_ context.Context, _ *job.Job, _ cancel.Reason, _ cancel.Method) error {
	m.JobCancelled.Inc()
	return nil
}

// OnJobDLQ implements hook.JobDLQ.
func (m *MetricsListener) OnJobDLQ(_ context.Context, _ *job.Job, _ error) error {
	m.JobDLQ.Inc()
	return nil
}

// OnCronFired implements hook.CronFired.
func (m *MetricsListener) OnCronFired(_ context.Context, _ string, _ id.JobID) error {
	m.CronFired.Inc()
	return nil
}
