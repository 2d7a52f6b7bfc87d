package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jobqueue "github.com/lazylmf-ai/Easy-e-Invoice-sub002"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/cron"
	"github.com/lazylmf-ai/Easy-e-Invoice-sub002/id"
)

// Schedule entries are stored whole as JSON strings; unlike jobs they
// have no hot per-field updates worth a Hash layout.

type cronEntity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	JobType     string     `json:"job_type"`
	Payload     []byte     `json:"payload,omitempty"`
	AppID       string     `json:"app_id"`
	OrgID       string     `json:"org_id"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func toCronEntity(e *cron.Entry) *cronEntity {
	return &cronEntity{
		ID:          e.ID.String(),
		Name:        e.Name,
		Schedule:    e.Schedule,
		JobType:     e.JobType,
		Payload:     e.Payload,
		AppID:       e.AppID,
		OrgID:       e.OrgID,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCronEntity(e *cronEntity) (*cron.Entry, error) {
	eID, err := id.ParseCronID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: parse cron id: %w", err)
	}

	return &cron.Entry{
		Entity: jobqueue.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:          eID,
		Name:        e.Name,
		Schedule:    e.Schedule,
		JobType:     e.JobType,
		Payload:     e.Payload,
		AppID:       e.AppID,
		OrgID:       e.OrgID,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
	}, nil
}

func (s *Store) getCronEntity(ctx context.Context, key string) (*cronEntity, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, jobqueue.ErrCronNotFound
		}
		return nil, fmt.Errorf("jobqueue/redis: get cron entity: %w", err)
	}
	var e cronEntity
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("jobqueue/redis: decode cron entity: %w", err)
	}
	return &e, nil
}

func (s *Store) setCronEntity(ctx context.Context, key string, e *cronEntity) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("jobqueue/redis: encode cron entity: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("jobqueue/redis: set cron entity: %w", err)
	}
	return nil
}

// RegisterCron persists a new schedule entry. Names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	eID := entry.ID.String()

	// Check for duplicate name.
	existing, err := s.client.HGet(ctx, cronNamesKey, entry.Name).Result()
	if err != nil && !isRedisNil(err) {
		return fmt.Errorf("jobqueue/redis: register cron check name: %w", err)
	}
	if existing != "" {
		return jobqueue.ErrDuplicateCron
	}

	if err := s.setCronEntity(ctx, cronKey(eID), toCronEntity(entry)); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, cronIDsKey, eID)
	pipe.HSet(ctx, cronNamesKey, entry.Name, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: register cron indexes: %w", err)
	}
	return nil
}

// GetCron retrieves a schedule entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	e, err := s.getCronEntity(ctx, cronKey(entryID.String()))
	if err != nil {
		return nil, err
	}
	return fromCronEntity(e)
}

// ListCrons returns all schedule entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: list crons: %w", err)
	}

	entries := make([]*cron.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getCronEntity(ctx, cronKey(eID))
		if getErr != nil {
			continue
		}
		entry, convErr := fromCronEntity(e)
		if convErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire the firing lock for an entry.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	key := cronKey(entryID.String())
	wID := workerID.String()
	now := time.Now().UTC()
	until := now.Add(ttl)

	e, err := s.getCronEntity(ctx, key)
	if err != nil {
		return false, err
	}

	// Someone else holds the lock and it hasn't expired.
	if e.LockedBy != "" && e.LockedBy != wID {
		if e.LockedUntil != nil && e.LockedUntil.After(now) {
			return false, nil
		}
	}

	e.LockedBy = wID
	e.LockedUntil = &until
	e.UpdatedAt = now
	if err := s.setCronEntity(ctx, key, e); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseCronLock releases the firing lock for an entry.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	key := cronKey(entryID.String())

	e, err := s.getCronEntity(ctx, key)
	if err != nil {
		if errors.Is(err, jobqueue.ErrCronNotFound) {
			return nil // entry gone, no-op
		}
		return err
	}

	if e.LockedBy != workerID.String() {
		return nil // not our lock, no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	e.UpdatedAt = time.Now().UTC()
	return s.setCronEntity(ctx, key, e)
}

// UpdateCronLastRun records when a schedule entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	key := cronKey(entryID.String())

	e, err := s.getCronEntity(ctx, key)
	if err != nil {
		return err
	}

	e.LastRunAt = &at
	e.UpdatedAt = time.Now().UTC()
	return s.setCronEntity(ctx, key, e)
}

// UpdateCronEntry updates a schedule entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := cronKey(entry.ID.String())

	if _, err := s.getCronEntity(ctx, key); err != nil {
		return err
	}

	e := toCronEntity(entry)
	e.UpdatedAt = time.Now().UTC()
	return s.setCronEntity(ctx, key, e)
}

// DeleteCron removes a schedule entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	eID := entryID.String()
	key := cronKey(eID)

	e, err := s.getCronEntity(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, cronIDsKey, eID)
	if e.Name != "" {
		pipe.HDel(ctx, cronNamesKey, e.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: delete cron: %w", err)
	}
	return nil
}
