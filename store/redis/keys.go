package redis

import "strconv"

// Redis key naming conventions for job queue data.
// All keys are prefixed with "jobqueue:" to avoid collisions.

const keyPrefix = "jobqueue:"

// ── Job keys ──

// jobKey returns the key for a job entity: jobqueue:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// pendingKey returns the Sorted Set key for a priority tier, scored by
// NotBefore: jobqueue:pending:{priority}
func pendingKey(priority int) string {
	return keyPrefix + "pending:" + strconv.Itoa(priority)
}

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── DLQ keys ──

// dlqKey returns the key for a dead-letter entry: jobqueue:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Set tracking all dead-letter entry IDs for enumeration.
const dlqIDsKey = keyPrefix + "dlq_ids"

// ── Event keys ──

// eventKey returns the key for an event entity: jobqueue:event:{id}
func eventKey(id string) string { return keyPrefix + "event:" + id }

// eventStreamKey returns the Stream key for an event type: jobqueue:events:{type}
func eventStreamKey(eventType string) string { return keyPrefix + "events:" + eventType }

// jobEventsKey returns the List key holding a job's event IDs in
// publication order: jobqueue:job_events:{jobID}
func jobEventsKey(jobID string) string { return keyPrefix + "job_events:" + jobID }

// eventIDsKey is the Set tracking all event IDs for enumeration.
const eventIDsKey = keyPrefix + "event_ids"

// ── Cron keys ──

// cronKey returns the key for a schedule entry: jobqueue:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronIDsKey is the Set tracking all schedule entry IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps schedule names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"
