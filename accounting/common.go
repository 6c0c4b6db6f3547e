// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

// Package accounting implements usage tracking and the dual-layer quota
// validator gating job admission.
package accounting

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default accounting errs class.
	Error = errs.Class("accounting")

	// ErrQuotaExceeded is returned when a volume or frequency limit blocks
	// a job.
	ErrQuotaExceeded = errs.Class("quota exceeded")

	mon = monkit.Package()
)

// Category is the job category a frequency limit applies to.
type Category string

// Job categories with independent daily ceilings.
const (
	CategoryDownload  Category = "download"
	CategoryProcess   Category = "process"
	CategoryCalculate Category = "calculate_index"
)

// Valid reports whether the category is known.
func (category Category) Valid() bool {
	switch category {
	case CategoryDownload, CategoryProcess, CategoryCalculate:
		return true
	}
	return false
}
