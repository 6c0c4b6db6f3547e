// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package accounting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cropsight/cropsight/private/kvstore"
)

// Denial describes why a request was refused and what the tenant's
// standing was at the moment of the decision.
type Denial struct {
	Reason    string  `json:"reason"`
	Limit     float64 `json:"limit"`
	Current   float64 `json:"current"`
	Requested float64 `json:"requested,omitempty"`
}

func (denial *Denial) Error() string {
	return fmt.Sprintf("%s: limit %v, current %v, requested %v",
		denial.Reason, denial.Limit, denial.Current, denial.Requested)
}

// Validator admits or denies job submissions against a tenant's plan.
//
// Volume checks compare accumulated hectares against monthly and
// per-request limits. Frequency checks count submissions per category
// per day through an atomic counter whose expiry is pinned to local
// midnight when the first submission of the day creates it.
//
// Infrastructure outages fail open: a tenant is never locked out because
// the counter store is down. A confirmed over-limit reading always
// denies.
type Validator struct {
	log      *zap.Logger
	plans    *Plans
	usage    *UsageTracker
	counters kvstore.Counters
	nowFn    func() time.Time
}

// NewValidator creates a quota validator.
func NewValidator(log *zap.Logger, plans *Plans, usage *UsageTracker, counters kvstore.Counters) *Validator {
	return &Validator{
		log:      log,
		plans:    plans,
		usage:    usage,
		counters: counters,
		nowFn:    time.Now,
	}
}

// SetNowFn overrides the clock, for tests.
func (validator *Validator) SetNowFn(now func() time.Time) { validator.nowFn = now }

// Admit validates a submission against both quota layers and, on
// success, consumes one unit of the daily frequency budget. The
// returned error is ErrQuotaExceeded-classed when the tenant is over
// a limit and carries a *Denial describing the decision.
func (validator *Validator) Admit(ctx context.Context, tenantID string, category Category, hectares float64) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !category.Valid() {
		return Error.New("unknown job category %q", category)
	}

	limits := validator.plans.Get(ctx, tenantID)

	if err := validator.checkVolume(ctx, tenantID, limits, hectares); err != nil {
		return err
	}
	return validator.checkFrequency(ctx, tenantID, category, limits)
}

func (validator *Validator) checkVolume(ctx context.Context, tenantID string, limits Limits, hectares float64) error {
	if hectares > limits.DailyHa {
		return ErrQuotaExceeded.Wrap(&Denial{
			Reason:    "request area exceeds per-request limit",
			Limit:     limits.DailyHa,
			Current:   0,
			Requested: hectares,
		})
	}

	usage, err := validator.usage.CurrentMonth(ctx, tenantID)
	if err != nil {
		// fail open: the tenant should not be blocked by a store outage
		validator.log.Warn("monthly usage unavailable, admitting",
			zap.String("tenant", tenantID), zap.Error(err))
		mon.Counter("quota_fail_open").Inc(1)
		return nil
	}

	if usage.HaProcessed+hectares > limits.MonthlyHa {
		return ErrQuotaExceeded.Wrap(&Denial{
			Reason:    "monthly area quota exceeded",
			Limit:     limits.MonthlyHa,
			Current:   usage.HaProcessed,
			Requested: hectares,
		})
	}
	return nil
}

func (validator *Validator) checkFrequency(ctx context.Context, tenantID string, category Category, limits Limits) error {
	now := validator.nowFn()
	key := frequencyKey(tenantID, category, now)

	count, err := validator.counters.Increment(ctx, key)
	if err != nil {
		validator.log.Warn("frequency counter unavailable, admitting",
			zap.String("tenant", tenantID), zap.String("category", string(category)), zap.Error(err))
		mon.Counter("quota_fail_open").Inc(1)
		return nil
	}

	if count == 1 {
		// first submission today owns the expiry, pinned to local midnight
		// so the counter never drifts across day boundaries
		if err := validator.counters.ExpireAt(ctx, key, nextMidnight(now)); err != nil {
			validator.log.Warn("failed to set counter expiry",
				zap.String("tenant", tenantID), zap.Error(err))
		}
	}

	limit := limits.DailyJobs(category)
	if count > limit {
		return ErrQuotaExceeded.Wrap(&Denial{
			Reason:  fmt.Sprintf("daily %s job limit exceeded", category),
			Limit:   float64(limit),
			Current: float64(count),
		})
	}
	return nil
}

func frequencyKey(tenantID string, category Category, now time.Time) kvstore.Key {
	return kvstore.Key(fmt.Sprintf("rate:%s:%s:%s", tenantID, category, now.Format("2006-01-02")))
}

func nextMidnight(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
}
