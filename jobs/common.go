// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package jobs implements the asynchronous job pipeline. Jobs move
// through a fixed state machine and are persisted as JSON rows in the
// metadata store; transitions go through compare-and-swap so concurrent
// workers never double-claim or regress a job.
package jobs

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error class for the jobs package.
	Error = errs.Class("jobs")

	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errs.Class("job not found")

	// ErrInvalidTransition is returned when a requested state change is
	// not allowed from the job's current status.
	ErrInvalidTransition = errs.Class("invalid job transition")

	mon = monkit.Package()
)
