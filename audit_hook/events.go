package audithook

// Audit event actions. Each constant corresponds to one hook lifecycle
// interface and becomes the Action field of the audit event.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobClaimed   = "job.claimed"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobRetrying  = "job.retrying"
	ActionJobCancelled = "job.cancelled"
	ActionJobDLQ       = "job.dlq"
	ActionCronFired    = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryJob  = "jobqueue.job"
	CategoryCron = "jobqueue.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob  = "job"
	ResourceCron = "cron_entry"
)

// AllActions returns every action this listener can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobClaimed,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobCancelled,
		ActionJobDLQ,
		ActionCronFired,
	}
}
