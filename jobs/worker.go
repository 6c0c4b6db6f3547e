// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package jobs

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"storj.io/common/sync2"

	"github.com/cropsight/cropsight/accounting"
)

// Executor runs one category of job. The progress callback may be called
// at any point during execution with a value between 0 and 100 and a
// short status message.
type Executor interface {
	Execute(ctx context.Context, job Job, progress func(float64, string)) (result json.RawMessage, err error)
}

// WorkerConfig configures the job worker.
type WorkerConfig struct {
	Interval    time.Duration `help:"how often to poll for pending jobs" default:"5s"`
	Concurrency int           `help:"how many jobs to execute at once" default:"4"`
}

// Worker polls for pending jobs and executes them. Claims go through the
// job state machine, so several workers can share one store without
// double-executing a job.
type Worker struct {
	log       *zap.Logger
	service   *Service
	usage     *accounting.UsageTracker
	executors map[accounting.Category]Executor
	limiter   *sync2.Limiter

	Loop *sync2.Cycle
}

// NewWorker creates a job worker.
func NewWorker(log *zap.Logger, service *Service, usage *accounting.UsageTracker, config WorkerConfig) *Worker {
	return &Worker{
		log:       log,
		service:   service,
		usage:     usage,
		executors: make(map[accounting.Category]Executor),
		limiter:   sync2.NewLimiter(config.Concurrency),
		Loop:      sync2.NewCycle(config.Interval),
	}
}

// Register installs the executor for a job category. It must be called
// before Run.
func (worker *Worker) Register(category accounting.Category, executor Executor) {
	worker.executors[category] = executor
}

// Run polls for pending jobs until the context is cancelled.
func (worker *Worker) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	return worker.Loop.Run(ctx, worker.runOnce)
}

// Close stops the polling loop and waits for in-flight jobs.
func (worker *Worker) Close() error {
	worker.Loop.Close()
	worker.limiter.Wait()
	return nil
}

func (worker *Worker) runOnce(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	pending, err := worker.service.Pending(ctx)
	if err != nil {
		worker.log.Error("failed to list pending jobs", zap.Error(err))
		return nil
	}

	for _, job := range pending {
		job := job
		started := worker.limiter.Go(ctx, func() {
			worker.process(ctx, job)
		})
		if !started {
			return nil
		}
	}
	return nil
}

func (worker *Worker) process(ctx context.Context, pending Job) {
	job, err := worker.service.Start(ctx, pending.TenantID, pending.ID)
	if err != nil {
		if !ErrInvalidTransition.Has(err) && !ErrNotFound.Has(err) {
			worker.log.Error("failed to claim job",
				zap.Stringer("id", pending.ID), zap.Error(err))
		}
		// lost the claim to another worker or the job was cancelled
		return
	}

	result, trace, err := worker.execute(ctx, job)
	if err != nil {
		worker.fail(ctx, job, err.Error(), trace)
		return
	}

	if err := worker.service.Complete(ctx, job.TenantID, job.ID, result); err != nil {
		if ErrInvalidTransition.Has(err) {
			worker.log.Info("job finished after cancellation",
				zap.Stringer("id", job.ID))
			return
		}
		worker.log.Error("failed to complete job",
			zap.Stringer("id", job.ID), zap.Error(err))
		return
	}
	if err := worker.usage.RecordCompleted(ctx, job.TenantID); err != nil {
		worker.log.Warn("failed to record completion",
			zap.String("tenant", job.TenantID), zap.Error(err))
	}
	worker.log.Info("job completed",
		zap.Stringer("id", job.ID),
		zap.String("category", string(job.Category)))
}

func (worker *Worker) execute(ctx context.Context, job Job) (result json.RawMessage, trace string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Error.New("executor panic: %v", rec)
			trace = string(debug.Stack())
		}
	}()

	executor, ok := worker.executors[job.Category]
	if !ok {
		return nil, "", Error.New("no executor for category %q", job.Category)
	}

	progress := func(value float64, message string) {
		if err := worker.service.UpdateProgress(ctx, job.TenantID, job.ID, value, message); err != nil {
			worker.log.Debug("progress update dropped",
				zap.Stringer("id", job.ID), zap.Error(err))
		}
	}
	result, err = executor.Execute(ctx, job, progress)
	return result, "", err
}

func (worker *Worker) fail(ctx context.Context, job Job, cause, trace string) {
	if err := worker.service.Fail(ctx, job.TenantID, job.ID, cause, trace); err != nil {
		worker.log.Error("failed to mark job failed",
			zap.Stringer("id", job.ID), zap.Error(err))
		return
	}
	if err := worker.usage.RecordFailed(ctx, job.TenantID); err != nil {
		worker.log.Warn("failed to record failure",
			zap.String("tenant", job.TenantID), zap.Error(err))
	}
	worker.log.Warn("job failed",
		zap.Stringer("id", job.ID),
		zap.String("category", string(job.Category)),
		zap.String("cause", cause))
}
