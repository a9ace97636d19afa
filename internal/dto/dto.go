package dto

import (
	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/entity"
)

// SubmitAsset triggers asset preparation. Idempotent on (tenant, product).
type SubmitAsset struct {
	TenantID       string `json:"tenant_id"`
	ProductID      string `json:"product_id"`
	SourceImageRef string `json:"source_image_ref"`
}

// SubmitRender asks for a composite of a placed product over a room session.
type SubmitRender struct {
	TenantID        string              `json:"tenant_id"`
	RoomSessionID   uuid.UUID           `json:"room_session_id"`
	AssetID         *uuid.UUID          `json:"asset_id,omitempty"`
	ProductImageRef *string             `json:"product_image_ref,omitempty"`
	Placement       entity.Placement    `json:"placement"`
	Config          entity.RenderConfig `json:"config"`
}

// RenderDispatch is the payload of a render.requested outbox event; the
// executor re-reads everything else from the job row.
type RenderDispatch struct {
	JobID    uuid.UUID `json:"job_id"`
	TenantID string    `json:"tenant_id"`
}

// UploadTarget is a client-direct upload slot: the key is already persisted
// on the session, the URL is short-lived.
type UploadTarget struct {
	SessionID uuid.UUID `json:"session_id"`
	WriteURL  string    `json:"write_url"`
	Key       string    `json:"key"`
}

// JobView is the polling read model. OutputURL is re-signed per read and
// present only for completed jobs.
type JobView struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	OutputURL *string   `json:"output_url,omitempty"`
	Error     *string   `json:"error,omitempty"`
}

// QuotaView reports today's consumption per category for one tenant.
type QuotaView struct {
	TenantID   string              `json:"tenant_id"`
	Day        string              `json:"day"`
	Categories []QuotaCategoryView `json:"categories"`
}

type QuotaCategoryView struct {
	Category string `json:"category"`
	Used     int    `json:"used"`
	Limit    int    `json:"limit"`
}

// AssetView is the merchant-facing read model of a ProductAsset.
type AssetView struct {
	ID         uuid.UUID                 `json:"id"`
	TenantID   string                    `json:"tenant_id"`
	ProductID  string                    `json:"product_id"`
	Status     string                    `json:"status"`
	Enabled    bool                      `json:"enabled"`
	RetryCount int                       `json:"retry_count"`
	LastError  *string                   `json:"last_error,omitempty"`
	CutoutURL  *string                   `json:"cutout_url,omitempty"`
	Placement  *entity.PlacementMetadata `json:"placement,omitempty"`
}
