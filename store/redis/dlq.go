package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/dlq"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// PushDLQ adds a failed job entry to the dead-letter index.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	key := dlqKey(eID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, dlqToMap(entry))
	pipe.SAdd(ctx, dlqIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns dead-letter entries matching the given options.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: list dlq: %w", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, dlqKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToDLQ(vals)
		if convErr != nil {
			continue
		}
		if opts.JobType != "" && e.JobType != opts.JobType {
			continue
		}
		if opts.OrgID != "" && e.OrgID != opts.OrgID {
			continue
		}
		entries = append(entries, e)
	}

	sortDLQNewestFirst(entries)

	if opts.Offset > 0 {
		if opts.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a dead-letter entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	vals, err := s.client.HGetAll(ctx, dlqKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: get dlq: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobqueue.ErrDLQNotFound
	}
	return mapToDLQ(vals)
}

// ReplayDLQ marks a dead-letter entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	key := dlqKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: replay dlq exists: %w", err)
	}
	if exists == 0 {
		return jobqueue.ErrDLQNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"replayed_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: replay dlq: %w", err)
	}
	return nil
}

// PurgeDLQ removes dead-letter entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue/redis: purge dlq smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := dlqKey(eID)
		failedAtStr, getErr := s.client.HGet(ctx, key, "failed_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("jobqueue/redis: purge dlq get: %w", getErr)
		}

		failedAt, _ := time.Parse(time.RFC3339Nano, failedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if failedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, dlqIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("jobqueue/redis: purge dlq del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// CountDLQ returns the total number of dead-letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, dlqIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue/redis: count dlq: %w", err)
	}
	return count, nil
}

// ── helpers ──

func sortDLQNewestFirst(entries []*dlq.Entry) {
	for i := 1; i < len(entries); i++ {
		for k := i; k > 0 && entries[k].FailedAt.After(entries[k-1].FailedAt); k-- {
			entries[k], entries[k-1] = entries[k-1], entries[k]
		}
	}
}

func dlqToMap(e *dlq.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":            e.ID.String(),
		"job_id":        e.JobID.String(),
		"job_type":      e.JobType,
		"payload":       string(e.Payload),
		"error":         e.Error,
		"error_class":   e.ErrorClass,
		"attempts":      strconv.Itoa(e.Attempts),
		"max_retries":   strconv.Itoa(e.MaxRetries),
		"retry_history": marshalJSON(e.RetryHistory),
		"app_id":        e.AppID,
		"org_id":        e.OrgID,
		"failed_at":     e.FailedAt.Format(time.RFC3339Nano),
		"created_at":    e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ReplayedAt != nil {
		m["replayed_at"] = e.ReplayedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToDLQ(m map[string]string) (*dlq.Entry, error) {
	eID, err := id.ParseDLQID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: parse dlq id: %w", err)
	}
	jobID, _ := id.ParseJobID(m["job_id"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	failedAt, _ := time.Parse(time.RFC3339Nano, m["failed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &dlq.Entry{
		ID:         eID,
		JobID:      jobID,
		JobType:    m["job_type"],
		Payload:    []byte(m["payload"]),
		Error:      m["error"],
		ErrorClass: m["error_class"],
		Attempts:   attempts,
		MaxRetries: maxRetries,
		AppID:      m["app_id"],
		OrgID:      m["org_id"],
		FailedAt:   failedAt,
		CreatedAt:  createdAt,
	}

	if v := m["retry_history"]; v != "" && v != "null" {
		var hist []job.RetryRecord
		_ = json.Unmarshal([]byte(v), &hist) //nolint:errcheck // best-effort parse from trusted Redis data
		e.RetryHistory = hist
	}
	if v := m["replayed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ReplayedAt = &t
	}
	return e, nil
}
