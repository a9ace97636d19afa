package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/internal/entity"
)

func dispatchEvent(job *entity.RenderJob, now time.Time) (*entity.OutboxEvent, error) {
	payload, err := json.Marshal(dto.RenderDispatch{
		JobID:    job.ID,
		TenantID: job.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return entity.NewOutboxEvent(job.ID, entity.EventRenderRequested, payload, now), nil
}

type jobEventPayload struct {
	JobID    string  `json:"job_id"`
	TenantID string  `json:"tenant_id"`
	Status   string  `json:"status"`
	Error    *string `json:"error,omitempty"`
}

func jobEvent(job *entity.RenderJob, kind entity.EventKind, now time.Time) (*entity.OutboxEvent, error) {
	payload, err := json.Marshal(jobEventPayload{
		JobID:    job.ID.String(),
		TenantID: job.TenantID,
		Status:   string(job.Status),
		Error:    job.Error,
	})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return entity.NewOutboxEvent(job.ID, kind, payload, now), nil
}

type roomCleanedPayload struct {
	SessionID  string `json:"session_id"`
	TenantID   string `json:"tenant_id"`
	CleanedKey string `json:"cleaned_key"`
}

func roomCleanedEvent(session *entity.RoomSession, cleanedKey string, now time.Time) (*entity.OutboxEvent, error) {
	payload, err := json.Marshal(roomCleanedPayload{
		SessionID:  session.ID.String(),
		TenantID:   session.TenantID,
		CleanedKey: cleanedKey,
	})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return entity.NewOutboxEvent(session.ID, entity.EventRoomCleaned, payload, now), nil
}

// renderInstructions flattens the optional style hints into the provider
// prompt suffix.
func renderInstructions(job *entity.RenderJob) string {
	var parts []string
	if job.Config.Style != "" {
		parts = append(parts, "style: "+job.Config.Style)
	}
	if job.Config.Quality != "" {
		parts = append(parts, "quality: "+job.Config.Quality)
	}
	return strings.Join(parts, ", ")
}
