package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AssetStatus string

const (
	AssetUnprepared AssetStatus = "unprepared"
	AssetPreparing  AssetStatus = "preparing"
	AssetReady      AssetStatus = "ready"
	AssetLive       AssetStatus = "live"
	AssetFailed     AssetStatus = "failed"
)

// MaxErrorLen bounds persisted error messages.
const MaxErrorLen = 512

// ProductAsset is one prepared product cutout per (tenant, product).
// Status moves only through the methods below; direct writes would let
// illegal transitions slip in.
type ProductAsset struct {
	ID             uuid.UUID `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ProductID      string    `json:"product_id"`
	SourceImageRef string    `json:"source_image_ref"`

	Status     AssetStatus `json:"status"`
	RetryCount int         `json:"retry_count"`
	LastError  *string     `json:"last_error,omitempty"`

	CutoutKey *string            `json:"cutout_key,omitempty"`
	Placement *PlacementMetadata `json:"placement,omitempty"`
	Enabled   bool               `json:"enabled"`

	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func NewProductAsset(tenantID, productID, sourceImageRef string, now time.Time) *ProductAsset {
	return &ProductAsset{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ProductID:      productID,
		SourceImageRef: sourceImageRef,
		Status:         AssetUnprepared,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Claim moves the asset into preparing under the caller's lease. Only
// unclaimed work is claimable; the repo layer additionally enforces this
// atomically so two workers cannot claim the same asset.
func (a *ProductAsset) Claim(now time.Time) error {
	if a.Status != AssetUnprepared && a.Status != AssetPreparing {
		return fmt.Errorf("asset %s: cannot claim from status %q", a.ID, a.Status)
	}
	a.Status = AssetPreparing
	a.ClaimedAt = &now
	a.UpdatedAt = now
	return nil
}

// MarkReady finishes the pipeline. Enabled stays false: storefront
// visibility requires an explicit merchant action.
func (a *ProductAsset) MarkReady(cutoutKey string, placement *PlacementMetadata, now time.Time) error {
	if a.Status != AssetPreparing {
		return fmt.Errorf("asset %s: cannot mark ready from status %q", a.ID, a.Status)
	}
	if cutoutKey == "" {
		return fmt.Errorf("asset %s: ready requires a cutout key", a.ID)
	}
	a.Status = AssetReady
	a.CutoutKey = &cutoutKey
	a.Placement = placement
	a.Enabled = false
	a.LastError = nil
	a.RetryCount = 0
	a.ClaimedAt = nil
	a.UpdatedAt = now
	return nil
}

// ReleaseForRetry puts the asset back on the queue after a transient
// failure, consuming one attempt and dropping the lease.
func (a *ProductAsset) ReleaseForRetry(cause string, now time.Time) error {
	if a.Status != AssetPreparing {
		return fmt.Errorf("asset %s: cannot release from status %q", a.ID, a.Status)
	}
	msg := Truncate(cause, MaxErrorLen)
	a.RetryCount++
	a.LastError = &msg
	a.ClaimedAt = nil
	a.UpdatedAt = now
	return nil
}

// MarkFailed is terminal for the automatic pipeline; only an explicit
// resubmission revives the asset.
func (a *ProductAsset) MarkFailed(cause string, now time.Time) error {
	if a.Status != AssetPreparing {
		return fmt.Errorf("asset %s: cannot fail from status %q", a.ID, a.Status)
	}
	msg := Truncate(cause, MaxErrorLen)
	a.Status = AssetFailed
	a.LastError = &msg
	a.ClaimedAt = nil
	a.UpdatedAt = now
	return nil
}

// Enable flips ready -> live. Invariant: live implies a cutout key.
func (a *ProductAsset) Enable(now time.Time) error {
	if a.Status != AssetReady {
		return fmt.Errorf("asset %s: cannot enable from status %q", a.ID, a.Status)
	}
	if a.CutoutKey == nil {
		return fmt.Errorf("asset %s: cannot enable without a cutout key", a.ID)
	}
	a.Status = AssetLive
	a.Enabled = true
	a.UpdatedAt = now
	return nil
}

// Disable flips live -> ready.
func (a *ProductAsset) Disable(now time.Time) error {
	if a.Status != AssetLive {
		return fmt.Errorf("asset %s: cannot disable from status %q", a.ID, a.Status)
	}
	a.Status = AssetReady
	a.Enabled = false
	a.UpdatedAt = now
	return nil
}

// ResetForResubmission re-enters a failed asset into the pipeline with a
// fresh retry budget.
func (a *ProductAsset) ResetForResubmission(sourceImageRef string, now time.Time) error {
	if a.Status != AssetFailed {
		return fmt.Errorf("asset %s: cannot resubmit from status %q", a.ID, a.Status)
	}
	a.Status = AssetUnprepared
	a.SourceImageRef = sourceImageRef
	a.RetryCount = 0
	a.LastError = nil
	a.ClaimedAt = nil
	a.UpdatedAt = now
	return nil
}

// IsLive is the storefront visibility check: live status and enabled flag
// must both hold.
func (a *ProductAsset) IsLive() bool {
	return a.Status == AssetLive && a.Enabled
}

func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
