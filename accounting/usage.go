// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package accounting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cropsight/cropsight/private/kvstore"
)

// MonthlyUsage aggregates a tenant's usage within one calendar month.
type MonthlyUsage struct {
	HaProcessed   float64 `json:"ha_processed"`
	JobsCreated   int64   `json:"jobs_created"`
	JobsCompleted int64   `json:"jobs_completed"`
	JobsFailed    int64   `json:"jobs_failed"`
	DownloadJobs  int64   `json:"download_jobs"`
	ProcessJobs   int64   `json:"process_jobs"`
	CalculateJobs int64   `json:"calculate_jobs"`
}

// UsageTracker records per-tenant monthly usage in the metadata store.
// Updates go through compare-and-swap so concurrent jobs never lose counts.
type UsageTracker struct {
	log   *zap.Logger
	store kvstore.Store
	nowFn func() time.Time
}

// NewUsageTracker creates a usage tracker.
func NewUsageTracker(log *zap.Logger, store kvstore.Store) *UsageTracker {
	return &UsageTracker{
		log:   log,
		store: store,
		nowFn: time.Now,
	}
}

// SetNowFn overrides the clock, for tests.
func (tracker *UsageTracker) SetNowFn(now func() time.Time) { tracker.nowFn = now }

func usageKey(tenantID string, now time.Time) kvstore.Key {
	return kvstore.Key(fmt.Sprintf("usage:%s:%04d-%02d", tenantID, now.Year(), int(now.Month())))
}

// casRetries bounds how often a racing update is retried before giving up.
const casRetries = 10

// RecordAdmission adds an admitted job to the current month's totals.
func (tracker *UsageTracker) RecordAdmission(ctx context.Context, tenantID string, category Category, hectares float64) (err error) {
	defer mon.Task()(&ctx)(&err)

	return tracker.update(ctx, tenantID, func(usage *MonthlyUsage) {
		usage.HaProcessed += hectares
		usage.JobsCreated++
		switch category {
		case CategoryDownload:
			usage.DownloadJobs++
		case CategoryProcess:
			usage.ProcessJobs++
		case CategoryCalculate:
			usage.CalculateJobs++
		}
	})
}

// RecordCompleted counts a finished job in the current month's totals.
func (tracker *UsageTracker) RecordCompleted(ctx context.Context, tenantID string) error {
	return tracker.update(ctx, tenantID, func(usage *MonthlyUsage) {
		usage.JobsCompleted++
	})
}

// RecordFailed counts a failed job in the current month's totals.
func (tracker *UsageTracker) RecordFailed(ctx context.Context, tenantID string) error {
	return tracker.update(ctx, tenantID, func(usage *MonthlyUsage) {
		usage.JobsFailed++
	})
}

// CurrentMonth returns the tenant's usage for the current calendar month.
// A missing row means no usage yet.
func (tracker *UsageTracker) CurrentMonth(ctx context.Context, tenantID string) (_ MonthlyUsage, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := tracker.store.Get(ctx, usageKey(tenantID, tracker.nowFn()))
	if err != nil {
		if kvstore.ErrKeyNotFound.Has(err) {
			return MonthlyUsage{}, nil
		}
		return MonthlyUsage{}, Error.Wrap(err)
	}

	var usage MonthlyUsage
	if err := json.Unmarshal(value, &usage); err != nil {
		return MonthlyUsage{}, Error.Wrap(err)
	}
	return usage, nil
}

func (tracker *UsageTracker) update(ctx context.Context, tenantID string, apply func(*MonthlyUsage)) error {
	key := usageKey(tenantID, tracker.nowFn())

	for attempt := 0; attempt < casRetries; attempt++ {
		var old kvstore.Value
		var usage MonthlyUsage

		value, err := tracker.store.Get(ctx, key)
		switch {
		case err == nil:
			if err := json.Unmarshal(value, &usage); err != nil {
				return Error.Wrap(err)
			}
			old = value
		case kvstore.ErrKeyNotFound.Has(err):
			old = nil
		default:
			return Error.Wrap(err)
		}

		apply(&usage)

		updated, err := json.Marshal(usage)
		if err != nil {
			return Error.Wrap(err)
		}

		err = tracker.store.CompareAndSwap(ctx, key, old, updated)
		if err == nil {
			return nil
		}
		if !kvstore.ErrValueChanged.Has(err) && !kvstore.ErrKeyNotFound.Has(err) {
			return Error.Wrap(err)
		}
		// raced with a concurrent update, reload and retry
	}
	return Error.New("usage update for %q kept racing", tenantID)
}
