package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/job"
)

// claimTiers is the claim scan order: highest priority tier first.
var claimTiers = []job.Priority{
	job.PriorityCritical,
	job.PriorityHigh,
	job.PriorityNormal,
	job.PriorityLow,
}

// Guarded write scripts. Each runs its status or ownership check and the
// write as one atomic unit on the server, so a concurrent claim or
// finalization can never interleave between the check and the HSET.
//
// Shared layout: KEYS[1] is the job hash, KEYS[2..5] the tier pending
// sets in claim order, KEYS[6] the job's own tier. ARGV[1] claim token,
// ARGV[2] new status, ARGV[3] claimable flag, ARGV[4] NotBefore score,
// ARGV[5] job ID, ARGV[6..] hash field/value pairs.
var (
	updateJobScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'not_found' end
if (status == 'completed' or status == 'failed' or status == 'cancelled') and status ~= ARGV[2] then
  return 'terminal'
end
redis.call('HSET', KEYS[1], unpack(ARGV, 6))
for i = 2, 6 do redis.call('ZREM', KEYS[i], ARGV[5]) end
if ARGV[3] == '1' then redis.call('ZADD', KEYS[6], ARGV[4], ARGV[5]) end
return 'ok'`)

	finalizeJobScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'not_found' end
if status == 'completed' or status == 'failed' or status == 'cancelled' then
  if status == ARGV[2] then return 'noop' end
  return 'terminal'
end
if redis.call('HGET', KEYS[1], 'claim_token') ~= ARGV[1] then return 'not_owner' end
redis.call('HSET', KEYS[1], unpack(ARGV, 6))
for i = 2, 6 do redis.call('ZREM', KEYS[i], ARGV[5]) end
if ARGV[3] == '1' then redis.call('ZADD', KEYS[6], ARGV[4], ARGV[5]) end
return 'ok'`)

	cancelWaitingScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'not_found' end
if status ~= 'pending' and status ~= 'retrying' then return 'conflict' end
redis.call('HSET', KEYS[1], unpack(ARGV, 6))
for i = 2, 6 do redis.call('ZREM', KEYS[i], ARGV[5]) end
return 'ok'`)

	saveProgressScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 'not_found' end
if status == 'completed' or status == 'failed' or status == 'cancelled' then return 'terminal' end
if redis.call('HGET', KEYS[1], 'claim_token') ~= ARGV[1] then return 'not_owner' end
local cur = cjson.decode(redis.call('HGET', KEYS[1], 'progress'))
local p = cjson.decode(ARGV[2])
if (p.percent or 0) < (cur.percent or 0) then p.percent = cur.percent end
redis.call('HSET', KEYS[1], 'progress', cjson.encode(p), 'updated_at', ARGV[3])
return 'ok'`)
)

// CreateJob stores the job as a Hash and indexes it in its priority
// tier's pending Sorted Set, scored by NotBefore.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return jobqueue.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.ZAdd(ctx, pendingKey(int(j.Priority)), goredis.Z{
		Score:  float64(j.NotBefore.UnixMilli()),
		Member: jID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: create job: %w", err)
	}
	return nil
}

// ClaimNextJob claims the next eligible job: tiers are scanned highest
// first and within a tier the lowest NotBefore wins. The ZRem on the
// pending set is the atomic gate: if another worker removed the member
// first, the claim is lost and ErrClaimContention is returned so the
// caller can retry.
func (s *Store) ClaimNextJob(ctx context.Context, workerID id.WorkerID, token string) (*job.Job, error) {
	now := time.Now().UTC()
	max := strconv.FormatInt(now.UnixMilli(), 10)

	for _, tier := range claimTiers {
		pk := pendingKey(int(tier))

		ids, err := s.client.ZRangeByScore(ctx, pk, &goredis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("jobqueue/redis: claim zrangebyscore: %w", err)
		}
		if len(ids) == 0 {
			continue
		}
		jID := ids[0]

		removed, err := s.client.ZRem(ctx, pk, jID).Result()
		if err != nil {
			return nil, fmt.Errorf("jobqueue/redis: claim zrem: %w", err)
		}
		if removed == 0 {
			return nil, jobqueue.ErrClaimContention
		}

		j, err := s.getJobByKey(ctx, jobKey(jID))
		if err != nil {
			return nil, err
		}

		j.Status = job.StatusProcessing
		j.Attempt++
		j.ClaimToken = token
		j.WorkerID = workerID
		started := now
		j.StartedAt = &started
		j.TouchedAt = &started
		j.UpdatedAt = now
		// Progress resets per attempt; the work estimate carries over.
		j.Progress = job.Progress{TotalCount: j.Progress.TotalCount}

		if _, err := s.client.HSet(ctx, jobKey(jID), jobToMap(j)).Result(); err != nil {
			return nil, fmt.Errorf("jobqueue/redis: claim update: %w", err)
		}
		return j, nil
	}

	return nil, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and reindexes the
// pending set. Terminal statuses are never overwritten except
// idempotently with the same status; the guard runs server-side in the
// same script as the write.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now().UTC()
	keys, args := scriptKeysArgs(j, "")
	res, err := updateJobScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: update job: %w", err)
	}
	return scriptReplyErr(res)
}

// FinalizeJob persists a transition out of processing, guarded by the
// claim token. Guard and write run in one script.
func (s *Store) FinalizeJob(ctx context.Context, j *job.Job, token string) error {
	j.UpdatedAt = time.Now().UTC()
	keys, args := scriptKeysArgs(j, token)
	res, err := finalizeJobScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: finalize job: %w", err)
	}
	return scriptReplyErr(res)
}

// CancelWaiting finalizes a pending or retrying job as cancelled. The
// read below only supplies the row data; the status guard runs in the
// script, so a claim that slips in between makes this a clean conflict.
func (s *Store) CancelWaiting(ctx context.Context, jobID id.JobID, info *job.CancelInfo) (*job.Job, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	cp := *info
	completed := info.RequestedAt
	j.Status = job.StatusCancelled
	j.Cancellation = &cp
	j.CompletedAt = &completed
	j.ClaimToken = ""
	j.WorkerID = id.Nil
	j.UpdatedAt = time.Now().UTC()

	keys, args := scriptKeysArgs(j, "")
	res, err := cancelWaitingScript.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: cancel waiting job: %w", err)
	}
	if err := scriptReplyErr(res); err != nil {
		return nil, err
	}
	return j, nil
}

// SaveProgress records a progress report under the claim token. Percent
// never decreases within the attempt; the floor is applied server-side.
func (s *Store) SaveProgress(ctx context.Context, jobID id.JobID, token string, p job.Progress) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := saveProgressScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		token, marshalJSON(p), now,
	).Text()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: save progress: %w", err)
	}
	return scriptReplyErr(res)
}

// TouchJob refreshes the liveness mark on a processing job.
func (s *Store) TouchJob(ctx context.Context, jobID id.JobID, token string, at time.Time) error {
	key := jobKey(jobID.String())

	current, err := s.client.HGet(ctx, key, "claim_token").Result()
	if err != nil {
		if isRedisNil(err) {
			return jobqueue.ErrJobNotFound
		}
		return fmt.Errorf("jobqueue/redis: touch get token: %w", err)
	}
	if current != token {
		return jobqueue.ErrNotOwner
	}

	_, err = s.client.HSet(ctx, key,
		"touched_at", at.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: touch job: %w", err)
	}
	return nil
}

// StaleJobs returns processing jobs whose liveness mark is older than
// the cutoff.
func (s *Store) StaleJobs(ctx context.Context, olderThan time.Time) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: stale smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.Status != job.StatusProcessing {
			continue
		}
		mark := j.TouchedAt
		if mark == nil {
			mark = j.StartedAt
		}
		if mark != nil && mark.Before(olderThan) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: list smembers: %w", err)
	}

	statusSet := make(map[job.Status]struct{}, len(opts.Statuses))
	for _, st := range opts.Statuses {
		statusSet[st] = struct{}{}
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if len(statusSet) > 0 {
			if _, ok := statusSet[j.Status]; !ok {
				continue
			}
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.OrgID != "" && j.OrgID != opts.OrgID {
			continue
		}
		jobs = append(jobs, j)
	}

	sortJobsNewestFirst(jobs)

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.OrgID != "" && j.OrgID != opts.OrgID {
			continue
		}
		count++
	}
	return count, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: delete exists: %w", err)
	}
	if exists == 0 {
		return jobqueue.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	for _, tier := range claimTiers {
		pipe.ZRem(ctx, pendingKey(int(tier)), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: delete job: %w", err)
	}
	return nil
}

// ── helpers ──

// scriptKeysArgs builds the KEYS and leading ARGV shared by the guarded
// write scripts. KEYS[6] doubles as the reindex target so jobs on a
// nonstandard priority tier still leave and re-enter the right set.
func scriptKeysArgs(j *job.Job, token string) ([]string, []interface{}) {
	jID := j.ID.String()
	keys := make([]string, 0, 6)
	keys = append(keys, jobKey(jID))
	for _, tier := range claimTiers {
		keys = append(keys, pendingKey(int(tier)))
	}
	keys = append(keys, pendingKey(int(j.Priority)))

	claimable := "0"
	if j.Status.Claimable() {
		claimable = "1"
	}
	args := []interface{}{
		token,
		string(j.Status),
		claimable,
		strconv.FormatInt(j.NotBefore.UnixMilli(), 10),
		jID,
	}
	for field, val := range jobToMap(j) {
		args = append(args, field, val)
	}
	return keys, args
}

// scriptReplyErr maps a guarded write script's reply to the sentinel the
// caller expects.
func scriptReplyErr(res string) error {
	switch res {
	case "ok", "noop":
		return nil
	case "not_found":
		return jobqueue.ErrJobNotFound
	case "terminal":
		return jobqueue.ErrTerminal
	case "not_owner":
		return jobqueue.ErrNotOwner
	case "conflict":
		return jobqueue.ErrInvalidTransition
	default:
		return fmt.Errorf("jobqueue/redis: unexpected script reply %q", res)
	}
}

func sortJobsNewestFirst(jobs []*job.Job) {
	for i := 1; i < len(jobs); i++ {
		for k := i; k > 0 && jobs[k].CreatedAt.After(jobs[k-1].CreatedAt); k-- {
			jobs[k], jobs[k-1] = jobs[k-1], jobs[k]
		}
	}
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":                 j.ID.String(),
		"type":               j.Type,
		"payload":            string(j.Payload),
		"status":             string(j.Status),
		"priority":           strconv.Itoa(int(j.Priority)),
		"attempt":            strconv.Itoa(j.Attempt),
		"max_retries":        strconv.Itoa(j.Config.MaxRetries),
		"retry_delay_base":   strconv.FormatInt(int64(j.Config.RetryDelayBase), 10),
		"timeout":            strconv.FormatInt(int64(j.Config.Timeout), 10),
		"estimated_duration": strconv.FormatInt(int64(j.EstimatedDuration), 10),
		"progress":           marshalJSON(j.Progress),
		"retry_history":      marshalJSON(j.RetryHistory),
		"last_error":         j.LastError,
		"claim_token":        j.ClaimToken,
		"worker_id":          j.WorkerID.String(),
		"app_id":             j.AppID,
		"org_id":             j.OrgID,
		"not_before":         j.NotBefore.Format(time.RFC3339Nano),
		"created_at":         j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":         j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.Result != nil {
		m["result"] = marshalJSON(j.Result)
	} else {
		m["result"] = ""
	}
	if j.Cancellation != nil {
		m["cancellation"] = marshalJSON(j.Cancellation)
	} else {
		m["cancellation"] = ""
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	if j.TouchedAt != nil {
		m["touched_at"] = j.TouchedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, jobqueue.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                            //nolint:errcheck // best-effort parse from trusted Redis data
	attempt, _ := strconv.Atoi(m["attempt"])                              //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])                       //nolint:errcheck // best-effort parse from trusted Redis data
	retryDelayBase, _ := strconv.ParseInt(m["retry_delay_base"], 10, 64)  //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)                  //nolint:errcheck // best-effort parse from trusted Redis data
	estimated, _ := strconv.ParseInt(m["estimated_duration"], 10, 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	notBefore, _ := time.Parse(time.RFC3339Nano, m["not_before"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])         //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: jobqueue.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:       jID,
		Type:     m["type"],
		Payload:  []byte(m["payload"]),
		Status:   job.Status(m["status"]),
		Priority: job.Priority(priority),
		Config: job.Config{
			MaxRetries:     maxRetries,
			RetryDelayBase: time.Duration(retryDelayBase),
			Timeout:        time.Duration(timeout),
		},
		Attempt:           attempt,
		EstimatedDuration: time.Duration(estimated),
		LastError:         m["last_error"],
		ClaimToken:        m["claim_token"],
		AppID:             m["app_id"],
		OrgID:             m["org_id"],
		NotBefore:         notBefore,
	}

	_ = json.Unmarshal([]byte(m["progress"]), &j.Progress) //nolint:errcheck // best-effort parse from trusted Redis data
	if v := m["retry_history"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &j.RetryHistory) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["result"]; v != "" && v != "null" {
		var r job.Result
		_ = json.Unmarshal([]byte(v), &r) //nolint:errcheck // best-effort parse from trusted Redis data
		j.Result = &r
	}
	if v := m["cancellation"]; v != "" && v != "null" {
		var c job.CancelInfo
		_ = json.Unmarshal([]byte(v), &c) //nolint:errcheck // best-effort parse from trusted Redis data
		j.Cancellation = &c
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["touched_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.TouchedAt = &t
	}

	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}
