// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package accounting_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/private/kvstore"
	"github.com/cropsight/cropsight/private/kvstore/teststore"
)

func newValidator(t *testing.T) (*accounting.Validator, *accounting.UsageTracker, *accounting.Plans, *teststore.Client) {
	log := zaptest.NewLogger(t)
	store := teststore.New()
	plans := accounting.NewPlans(log, store, accounting.DefaultLimits())
	usage := accounting.NewUsageTracker(log, store)
	validator := accounting.NewValidator(log, plans, usage, store)
	return validator, usage, plans, store
}

func TestAdmitFrequencyLimit(t *testing.T) {
	ctx := testcontext.New(t)
	validator, _, plans, store := newValidator(t)

	limits := accounting.DefaultLimits()
	limits.DailyDownloadJobs = 5
	require.NoError(t, plans.Set(ctx, "farm-a", limits))

	for i := 0; i < 5; i++ {
		require.NoError(t, validator.Admit(ctx, "farm-a", accounting.CategoryDownload, 1))
	}

	err := validator.Admit(ctx, "farm-a", accounting.CategoryDownload, 1)
	require.True(t, accounting.ErrQuotaExceeded.Has(err))

	var denial *accounting.Denial
	require.ErrorAs(t, err, &denial)
	require.Equal(t, float64(5), denial.Limit)
	require.Equal(t, float64(6), denial.Current)

	// the denied attempt still consumed a counter slot
	count, err := store.GetInt64(ctx, kvstore.Key("rate:farm-a:download:"+time.Now().Format("2006-01-02")))
	require.NoError(t, err)
	require.EqualValues(t, 6, count)
}

func TestAdmitDefaultLimits(t *testing.T) {
	ctx := testcontext.New(t)
	validator, _, _, _ := newValidator(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, validator.Admit(ctx, "farm-b", accounting.CategoryDownload, 1))
	}
	err := validator.Admit(ctx, "farm-b", accounting.CategoryDownload, 1)
	require.True(t, accounting.ErrQuotaExceeded.Has(err))

	// categories are budgeted independently
	require.NoError(t, validator.Admit(ctx, "farm-b", accounting.CategoryProcess, 1))
	require.NoError(t, validator.Admit(ctx, "farm-b", accounting.CategoryCalculate, 1))
}

func TestAdmitPerRequestVolume(t *testing.T) {
	ctx := testcontext.New(t)
	validator, _, _, _ := newValidator(t)

	err := validator.Admit(ctx, "farm-c", accounting.CategoryProcess, 6)
	require.True(t, accounting.ErrQuotaExceeded.Has(err))

	var denial *accounting.Denial
	require.ErrorAs(t, err, &denial)
	require.Equal(t, float64(5), denial.Limit)
	require.Equal(t, float64(6), denial.Requested)
}

func TestAdmitMonthlyVolume(t *testing.T) {
	ctx := testcontext.New(t)
	validator, usage, _, _ := newValidator(t)

	require.NoError(t, validator.Admit(ctx, "farm-d", accounting.CategoryProcess, 4))
	require.NoError(t, usage.RecordAdmission(ctx, "farm-d", accounting.CategoryProcess, 4))

	require.NoError(t, validator.Admit(ctx, "farm-d", accounting.CategoryProcess, 4))
	require.NoError(t, usage.RecordAdmission(ctx, "farm-d", accounting.CategoryProcess, 4))

	// 8 ha used of 10, a further 4 would overshoot
	err := validator.Admit(ctx, "farm-d", accounting.CategoryProcess, 4)
	require.True(t, accounting.ErrQuotaExceeded.Has(err))

	var denial *accounting.Denial
	require.ErrorAs(t, err, &denial)
	require.Equal(t, float64(10), denial.Limit)
	require.Equal(t, float64(8), denial.Current)

	// a smaller request still fits
	require.NoError(t, validator.Admit(ctx, "farm-d", accounting.CategoryProcess, 2))
}

func TestAdmitFailsOpenOnStoreOutage(t *testing.T) {
	ctx := testcontext.New(t)
	log := zaptest.NewLogger(t)

	planStore := teststore.New()
	counterStore := teststore.New()
	plans := accounting.NewPlans(log, planStore, accounting.DefaultLimits())
	usage := accounting.NewUsageTracker(log, counterStore)
	validator := accounting.NewValidator(log, plans, usage, counterStore)

	counterStore.SetError(errs.New("connection refused"))

	// outage on usage lookups and counters must not lock the tenant out
	for i := 0; i < 10; i++ {
		require.NoError(t, validator.Admit(ctx, "farm-e", accounting.CategoryDownload, 1))
	}
}

func TestAdmitUnknownCategory(t *testing.T) {
	ctx := testcontext.New(t)
	validator, _, _, _ := newValidator(t)

	err := validator.Admit(ctx, "farm-f", accounting.Category("reticulate"), 1)
	require.Error(t, err)
	require.False(t, accounting.ErrQuotaExceeded.Has(err))
}

func TestCounterExpiresAtMidnight(t *testing.T) {
	ctx := testcontext.New(t)
	validator, _, _, store := newValidator(t)

	now := time.Date(2025, 6, 10, 23, 50, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	validator.SetNowFn(clock)
	store.SetNowFn(clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, validator.Admit(ctx, "farm-g", accounting.CategoryDownload, 1))
	}
	err := validator.Admit(ctx, "farm-g", accounting.CategoryDownload, 1)
	require.True(t, accounting.ErrQuotaExceeded.Has(err))

	// a new day resets the budget
	now = time.Date(2025, 6, 11, 0, 1, 0, 0, time.UTC)
	require.NoError(t, validator.Admit(ctx, "farm-g", accounting.CategoryDownload, 1))

	count, err := store.GetInt64(ctx, kvstore.Key("rate:farm-g:download:2025-06-11"))
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestCounterExpiryNotExtended(t *testing.T) {
	ctx := testcontext.New(t)
	validator, _, _, store := newValidator(t)

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	validator.SetNowFn(clock)
	store.SetNowFn(clock)

	require.NoError(t, validator.Admit(ctx, "farm-h", accounting.CategoryDownload, 1))

	// later submissions must not push the expiry past midnight
	now = time.Date(2025, 6, 10, 23, 59, 0, 0, time.UTC)
	require.NoError(t, validator.Admit(ctx, "farm-h", accounting.CategoryDownload, 1))

	now = time.Date(2025, 6, 11, 0, 1, 0, 0, time.UTC)
	count, err := store.GetInt64(ctx, kvstore.Key("rate:farm-h:download:2025-06-10"))
	require.NoError(t, err)
	require.Zero(t, count)
}
