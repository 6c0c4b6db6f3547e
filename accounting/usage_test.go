// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package accounting_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/private/kvstore/teststore"
)

func TestUsageRecordAndRead(t *testing.T) {
	ctx := testcontext.New(t)
	store := teststore.New()
	tracker := accounting.NewUsageTracker(zaptest.NewLogger(t), store)

	usage, err := tracker.CurrentMonth(ctx, "farm-a")
	require.NoError(t, err)
	require.Zero(t, usage)

	require.NoError(t, tracker.RecordAdmission(ctx, "farm-a", accounting.CategoryDownload, 0))
	require.NoError(t, tracker.RecordAdmission(ctx, "farm-a", accounting.CategoryProcess, 2.5))
	require.NoError(t, tracker.RecordAdmission(ctx, "farm-a", accounting.CategoryCalculate, 1.5))
	require.NoError(t, tracker.RecordCompleted(ctx, "farm-a"))
	require.NoError(t, tracker.RecordCompleted(ctx, "farm-a"))
	require.NoError(t, tracker.RecordFailed(ctx, "farm-a"))

	usage, err = tracker.CurrentMonth(ctx, "farm-a")
	require.NoError(t, err)
	require.Equal(t, accounting.MonthlyUsage{
		HaProcessed:   4,
		JobsCreated:   3,
		JobsCompleted: 2,
		JobsFailed:    1,
		DownloadJobs:  1,
		ProcessJobs:   1,
		CalculateJobs: 1,
	}, usage)

	// tenants are isolated
	usage, err = tracker.CurrentMonth(ctx, "farm-b")
	require.NoError(t, err)
	require.Zero(t, usage)
}

func TestUsageMonthRollover(t *testing.T) {
	ctx := testcontext.New(t)
	store := teststore.New()
	tracker := accounting.NewUsageTracker(zaptest.NewLogger(t), store)

	now := time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC)
	tracker.SetNowFn(func() time.Time { return now })

	require.NoError(t, tracker.RecordAdmission(ctx, "farm-c", accounting.CategoryProcess, 3))

	now = time.Date(2025, 7, 1, 1, 0, 0, 0, time.UTC)

	usage, err := tracker.CurrentMonth(ctx, "farm-c")
	require.NoError(t, err)
	require.Zero(t, usage)

	// the old month stays intact
	now = time.Date(2025, 6, 30, 23, 30, 0, 0, time.UTC)
	usage, err = tracker.CurrentMonth(ctx, "farm-c")
	require.NoError(t, err)
	require.Equal(t, float64(3), usage.HaProcessed)
}

func TestUsageConcurrentUpdates(t *testing.T) {
	ctx := testcontext.New(t)
	store := teststore.New()
	tracker := accounting.NewUsageTracker(zaptest.NewLogger(t), store)

	const workers = 8
	for i := 0; i < workers; i++ {
		ctx.Go(func() error {
			return tracker.RecordAdmission(ctx, "farm-d", accounting.CategoryProcess, 1)
		})
	}
	ctx.Wait()

	usage, err := tracker.CurrentMonth(ctx, "farm-d")
	require.NoError(t, err)
	require.EqualValues(t, workers, usage.JobsCreated)
	require.Equal(t, float64(workers), usage.HaProcessed)
}
