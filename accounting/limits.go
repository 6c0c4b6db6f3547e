// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package accounting

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cropsight/cropsight/private/kvstore"
)

// Limits holds the volume and frequency ceilings for a tenant plan.
type Limits struct {
	MonthlyHa          float64 `json:"monthly_ha"           help:"monthly processed-area limit in hectares"          default:"10"`
	DailyHa            float64 `json:"daily_ha"             help:"area ceiling in hectares for any single request"   default:"5"`
	DailyDownloadJobs  int64   `json:"daily_download_jobs"  help:"daily ceiling for download jobs"                   default:"3"`
	DailyProcessJobs   int64   `json:"daily_process_jobs"   help:"daily ceiling for process jobs"                    default:"10"`
	DailyCalculateJobs int64   `json:"daily_calculate_jobs" help:"daily ceiling for calculate_index jobs"            default:"20"`
}

// DefaultLimits returns the limits applied to tenants without a stored plan.
func DefaultLimits() Limits {
	return Limits{
		MonthlyHa:          10,
		DailyHa:            5,
		DailyDownloadJobs:  3,
		DailyProcessJobs:   10,
		DailyCalculateJobs: 20,
	}
}

// DailyJobs returns the daily ceiling for a job category.
func (limits Limits) DailyJobs(category Category) int64 {
	switch category {
	case CategoryDownload:
		return limits.DailyDownloadJobs
	case CategoryProcess:
		return limits.DailyProcessJobs
	case CategoryCalculate:
		return limits.DailyCalculateJobs
	default:
		return 0
	}
}

// Plans resolves the limits for a tenant, falling back to the configured
// defaults when the tenant has no stored plan.
type Plans struct {
	log      *zap.Logger
	store    kvstore.Store
	defaults Limits
}

// NewPlans creates a plan resolver.
func NewPlans(log *zap.Logger, store kvstore.Store, defaults Limits) *Plans {
	return &Plans{log: log, store: store, defaults: defaults}
}

func planKey(tenantID string) kvstore.Key {
	return kvstore.Key("plan:" + tenantID)
}

// Get returns the limits for a tenant. Lookup failures fall back to the
// defaults so a metadata outage never blocks admission outright.
func (plans *Plans) Get(ctx context.Context, tenantID string) Limits {
	value, err := plans.store.Get(ctx, planKey(tenantID))
	if err != nil {
		if !kvstore.ErrKeyNotFound.Has(err) {
			plans.log.Warn("plan lookup failed, using defaults",
				zap.String("tenant", tenantID), zap.Error(err))
		}
		return plans.defaults
	}

	var limits Limits
	if err := json.Unmarshal(value, &limits); err != nil {
		plans.log.Warn("stored plan is malformed, using defaults",
			zap.String("tenant", tenantID), zap.Error(err))
		return plans.defaults
	}
	return limits
}

// Set stores a tenant plan.
func (plans *Plans) Set(ctx context.Context, tenantID string, limits Limits) error {
	value, err := json.Marshal(limits)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(plans.store.Put(ctx, planKey(tenantID), value))
}
