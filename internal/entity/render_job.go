package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// RenderJob is one render attempt. The state machine is strictly forward:
// queued -> processing -> {completed | failed}. A failed job is never
// retried; the caller submits a new one.
type RenderJob struct {
	ID            uuid.UUID `json:"id"`
	TenantID      string    `json:"tenant_id"`
	RoomSessionID uuid.UUID `json:"room_session_id"`

	// Exactly one of AssetID / ProductImageRef is set: a prepared asset or
	// an ad-hoc product image.
	AssetID         *uuid.UUID `json:"asset_id,omitempty"`
	ProductImageRef *string    `json:"product_image_ref,omitempty"`

	Placement Placement    `json:"placement"`
	Config    RenderConfig `json:"config"`

	Status    JobStatus `json:"status"`
	OutputKey *string   `json:"output_key,omitempty"`
	Error     *string   `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func NewRenderJob(tenantID string, roomSessionID uuid.UUID, assetID *uuid.UUID, productImageRef *string, placement Placement, config RenderConfig, now time.Time) *RenderJob {
	return &RenderJob{
		ID:              uuid.New(),
		TenantID:        tenantID,
		RoomSessionID:   roomSessionID,
		AssetID:         assetID,
		ProductImageRef: productImageRef,
		Placement:       placement,
		Config:          config,
		Status:          JobQueued,
		CreatedAt:       now,
	}
}

func (j *RenderJob) Start(now time.Time) error {
	if j.Status != JobQueued {
		return fmt.Errorf("render job %s: cannot start from status %q", j.ID, j.Status)
	}
	j.Status = JobProcessing
	j.StartedAt = &now
	return nil
}

func (j *RenderJob) Complete(outputKey string, now time.Time) error {
	if j.Status != JobProcessing {
		return fmt.Errorf("render job %s: cannot complete from status %q", j.ID, j.Status)
	}
	if outputKey == "" {
		return fmt.Errorf("render job %s: completion requires an output key", j.ID)
	}
	j.Status = JobCompleted
	j.OutputKey = &outputKey
	j.FinishedAt = &now
	return nil
}

func (j *RenderJob) Fail(cause string, now time.Time) error {
	if j.Status != JobProcessing {
		return fmt.Errorf("render job %s: cannot fail from status %q", j.ID, j.Status)
	}
	msg := Truncate(cause, MaxErrorLen)
	j.Status = JobFailed
	j.Error = &msg
	j.FinishedAt = &now
	return nil
}
