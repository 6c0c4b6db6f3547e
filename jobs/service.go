// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"storj.io/common/uuid"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/private/kvstore"
)

const jobKeyPrefix = "job:"

func jobKey(tenantID string, id uuid.UUID) kvstore.Key {
	return kvstore.Key(jobKeyPrefix + tenantID + ":" + id.String())
}

// transitionRetries bounds how often a racing transition is retried.
const transitionRetries = 10

// Service creates jobs and drives them through the state machine.
type Service struct {
	log   *zap.Logger
	store kvstore.Store
	nowFn func() time.Time
}

// NewService creates a job service.
func NewService(log *zap.Logger, store kvstore.Store) *Service {
	return &Service{
		log:   log,
		store: store,
		nowFn: time.Now,
	}
}

// SetNowFn overrides the clock, for tests.
func (service *Service) SetNowFn(now func() time.Time) { service.nowFn = now }

// Create persists a new pending job.
func (service *Service) Create(ctx context.Context, tenantID string, category accounting.Category, params json.RawMessage) (_ Job, err error) {
	defer mon.Task()(&ctx)(&err)

	if !category.Valid() {
		return Job{}, Error.New("unknown job category %q", category)
	}

	id, err := uuid.New()
	if err != nil {
		return Job{}, Error.Wrap(err)
	}

	job := Job{
		ID:        id,
		TenantID:  tenantID,
		Category:  category,
		Status:    StatusPending,
		Params:    params,
		CreatedAt: service.nowFn().UTC(),
	}

	value, err := json.Marshal(job)
	if err != nil {
		return Job{}, Error.Wrap(err)
	}
	if err := service.store.CompareAndSwap(ctx, jobKey(tenantID, id), nil, value); err != nil {
		return Job{}, Error.Wrap(err)
	}

	service.log.Info("job created",
		zap.Stringer("id", id),
		zap.String("tenant", tenantID),
		zap.String("category", string(category)))
	mon.Counter("jobs_created").Inc(1)
	return job, nil
}

// Get returns a tenant's job by id.
func (service *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (_ Job, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := service.store.Get(ctx, jobKey(tenantID, id))
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return Job{}, ErrNotFound.New("%s", id)
		}
		return Job{}, Error.Wrap(err)
	}

	var job Job
	if err := json.Unmarshal(value, &job); err != nil {
		return Job{}, Error.Wrap(err)
	}
	return job, nil
}

// List returns all jobs owned by a tenant, newest first.
func (service *Service) List(ctx context.Context, tenantID string) (_ []Job, err error) {
	defer mon.Task()(&ctx)(&err)

	prefix := jobKeyPrefix + tenantID + ":"
	var list []Job
	err = service.store.Range(ctx, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		if !strings.HasPrefix(key.String(), prefix) {
			return nil
		}
		var job Job
		if err := json.Unmarshal(value, &job); err != nil {
			return Error.Wrap(err)
		}
		list = append(list, job)
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	sortJobsNewestFirst(list)
	return list, nil
}

// Pending returns all pending jobs across tenants, oldest first.
func (service *Service) Pending(ctx context.Context) (_ []Job, err error) {
	defer mon.Task()(&ctx)(&err)

	var list []Job
	err = service.store.Range(ctx, func(ctx context.Context, key kvstore.Key, value kvstore.Value) error {
		if !strings.HasPrefix(key.String(), jobKeyPrefix) {
			return nil
		}
		var job Job
		if err := json.Unmarshal(value, &job); err != nil {
			return Error.Wrap(err)
		}
		if job.Status == StatusPending {
			list = append(list, job)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	sortJobsOldestFirst(list)
	return list, nil
}

// Start claims a pending job. It returns ErrInvalidTransition when the
// job is no longer pending, which a worker racing another claim treats
// as a lost claim rather than a failure.
func (service *Service) Start(ctx context.Context, tenantID string, id uuid.UUID) (_ Job, err error) {
	defer mon.Task()(&ctx)(&err)

	return service.transition(ctx, tenantID, id, func(job *Job) error {
		if job.Status != StatusPending {
			return ErrInvalidTransition.New("start from %s", job.Status)
		}
		now := service.nowFn().UTC()
		job.Status = StatusRunning
		job.StartedAt = &now
		return nil
	})
}

// UpdateProgress records execution progress on a running job. Values are
// clamped to the range 0 to 100. Monotonicity is the caller's contract.
func (service *Service) UpdateProgress(ctx context.Context, tenantID string, id uuid.UUID, progress float64, message string) (err error) {
	defer mon.Task()(&ctx)(&err)

	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}

	_, err = service.transition(ctx, tenantID, id, func(job *Job) error {
		if job.Status != StatusRunning {
			return ErrInvalidTransition.New("progress update from %s", job.Status)
		}
		job.Progress = progress
		job.Message = message
		return nil
	})
	return err
}

// Cancelled reports whether cancellation has been requested for a job.
// Executors poll this between coarse steps.
func (service *Service) Cancelled(ctx context.Context, tenantID string, id uuid.UUID) (bool, error) {
	job, err := service.Get(ctx, tenantID, id)
	if err != nil {
		return false, err
	}
	return job.Status == StatusCancelled, nil
}

// Complete marks a running job as completed. Completing an already
// completed job with an identical result is a no-op, so a worker that
// retried after a lost response does not error out.
func (service *Service) Complete(ctx context.Context, tenantID string, id uuid.UUID, result json.RawMessage) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = service.transition(ctx, tenantID, id, func(job *Job) error {
		if job.Status == StatusCompleted && bytes.Equal(job.Result, result) {
			return errNoChange
		}
		if job.Status != StatusRunning {
			return ErrInvalidTransition.New("complete from %s", job.Status)
		}
		now := service.nowFn().UTC()
		job.Status = StatusCompleted
		job.Progress = 100
		job.Result = result
		job.FinishedAt = &now
		return nil
	})
	if err == nil {
		mon.Counter("jobs_completed").Inc(1)
	}
	return err
}

// Fail marks a running job as failed. Failing an already failed job with
// an identical cause is a no-op.
func (service *Service) Fail(ctx context.Context, tenantID string, id uuid.UUID, cause, trace string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = service.transition(ctx, tenantID, id, func(job *Job) error {
		if job.Status == StatusFailed && job.Cause == cause && job.Trace == trace {
			return errNoChange
		}
		if job.Status != StatusRunning {
			return ErrInvalidTransition.New("fail from %s", job.Status)
		}
		now := service.nowFn().UTC()
		job.Status = StatusFailed
		job.Cause = cause
		job.Trace = trace
		job.FinishedAt = &now
		return nil
	})
	if err == nil {
		mon.Counter("jobs_failed").Inc(1)
	}
	return err
}

// Cancel marks a pending or running job as cancelled. Cancellation is
// advisory: a worker already executing the job may still finish it, and
// Complete on a cancelled job reports ErrInvalidTransition. Cancelling
// an already cancelled job is a no-op.
func (service *Service) Cancel(ctx context.Context, tenantID string, id uuid.UUID) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = service.transition(ctx, tenantID, id, func(job *Job) error {
		if job.Status == StatusCancelled {
			return errNoChange
		}
		if job.Status.Terminal() {
			return ErrInvalidTransition.New("cancel from %s", job.Status)
		}
		now := service.nowFn().UTC()
		job.Status = StatusCancelled
		job.FinishedAt = &now
		return nil
	})
	return err
}

// errNoChange signals an idempotent repeat inside a transition callback.
var errNoChange = Error.New("no change")

func (service *Service) transition(ctx context.Context, tenantID string, id uuid.UUID, apply func(*Job) error) (Job, error) {
	key := jobKey(tenantID, id)

	for attempt := 0; attempt < transitionRetries; attempt++ {
		value, err := service.store.Get(ctx, key)
		if err != nil {
			if kvstore.ErrKeyNotFound.Has(err) {
				return Job{}, ErrNotFound.New("%s", id)
			}
			return Job{}, Error.Wrap(err)
		}

		var job Job
		if err := json.Unmarshal(value, &job); err != nil {
			return Job{}, Error.Wrap(err)
		}

		if err := apply(&job); err != nil {
			if errors.Is(err, errNoChange) {
				return job, nil
			}
			return Job{}, err
		}

		updated, err := json.Marshal(job)
		if err != nil {
			return Job{}, Error.Wrap(err)
		}

		err = service.store.CompareAndSwap(ctx, key, value, updated)
		if err == nil {
			return job, nil
		}
		if !kvstore.ErrValueChanged.Has(err) {
			return Job{}, Error.Wrap(err)
		}
		// raced with a concurrent transition, reload and revalidate
	}
	return Job{}, Error.New("transition for %s kept racing", id)
}

func sortJobsNewestFirst(list []Job) {
	sort.Slice(list, func(i, k int) bool {
		return list[i].CreatedAt.After(list[k].CreatedAt)
	})
}

func sortJobsOldestFirst(list []Job) {
	sort.Slice(list, func(i, k int) bool {
		return list[i].CreatedAt.Before(list[k].CreatedAt)
	})
}
