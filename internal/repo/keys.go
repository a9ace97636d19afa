package repo

import (
	"fmt"

	"github.com/google/uuid"
)

// Object keys are namespaced by tenant and entity so independent pipelines
// can never collide. Keys are deterministic per entity: redoing a step
// overwrites its own object and nothing else.

func RoomOriginalKey(tenantID string, sessionID uuid.UUID) string {
	return fmt.Sprintf("tenant/%s/room/%s/original", tenantID, sessionID)
}

func RoomCleanedKey(tenantID string, sessionID uuid.UUID) string {
	return fmt.Sprintf("tenant/%s/room/%s/cleaned", tenantID, sessionID)
}

func AssetCutoutKey(tenantID string, assetID uuid.UUID) string {
	return fmt.Sprintf("tenant/%s/asset/%s/cutout", tenantID, assetID)
}

func RenderOutputKey(tenantID string, jobID uuid.UUID) string {
	return fmt.Sprintf("tenant/%s/render/%s/output", tenantID, jobID)
}
