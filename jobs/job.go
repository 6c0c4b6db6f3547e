// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package jobs

import (
	"encoding/json"
	"time"

	"storj.io/common/uuid"

	"github.com/cropsight/cropsight/accounting"
)

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is queued and not yet picked up.
	StatusPending Status = "pending"
	// StatusRunning means a worker is executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job finished with an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled before completion.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (status Status) Terminal() bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one unit of asynchronous work owned by a tenant.
type Job struct {
	ID         uuid.UUID           `json:"id"`
	TenantID   string              `json:"tenant_id"`
	Category   accounting.Category `json:"category"`
	Status     Status              `json:"status"`
	Progress   float64             `json:"progress"`
	Message    string              `json:"message,omitempty"`
	Params     json.RawMessage     `json:"params,omitempty"`
	Result     json.RawMessage     `json:"result,omitempty"`
	Cause      string              `json:"cause,omitempty"`
	Trace      string              `json:"trace,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  *time.Time          `json:"started_at,omitempty"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// DownloadParams describes a scene download request.
type DownloadParams struct {
	Geometry     json.RawMessage `json:"geometry"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	CloudCeiling float64         `json:"cloud_ceiling"`
	Bands        []string        `json:"bands"`
}

// ProcessParams describes a scene preprocessing request.
type ProcessParams struct {
	SceneID  string          `json:"scene_id"`
	Geometry json.RawMessage `json:"geometry"`
}

// CalculateParams describes a vegetation index calculation request.
type CalculateParams struct {
	SceneID  string          `json:"scene_id"`
	Index    string          `json:"index"`
	Geometry json.RawMessage `json:"geometry"`
}
