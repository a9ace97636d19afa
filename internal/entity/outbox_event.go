package entity

import (
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the lifecycle of an outbox row, not of any domain entity.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxProcessed  OutboxStatus = "processed"
	OutboxFailed     OutboxStatus = "failed"
)

// EventKind routes an outbox event: render.requested dispatches work to the
// jobs topic, everything else is an observer notification emitted after the
// owning transition committed.
type EventKind string

const (
	EventRenderRequested EventKind = "render.requested"
	EventRenderCompleted EventKind = "render.completed"
	EventRenderFailed    EventKind = "render.failed"
	EventAssetReady      EventKind = "asset.ready"
	EventAssetFailed     EventKind = "asset.failed"
	EventRoomCleaned     EventKind = "room.cleaned"
)

// IsDispatch reports whether the event carries work for the render executor
// rather than telemetry for observers.
func (k EventKind) IsDispatch() bool {
	return k == EventRenderRequested
}

// OutboxEvent is written in the same transaction as the state change it
// announces, then relayed to Kafka by a background worker.
type OutboxEvent struct {
	ID          uuid.UUID    `json:"id"`
	AggregateID uuid.UUID    `json:"aggregate_id"`
	Kind        EventKind    `json:"kind"`
	Payload     []byte       `json:"payload"`
	Status      OutboxStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	RetryCount  int          `json:"retry_count"`
}

func NewOutboxEvent(aggregateID uuid.UUID, kind EventKind, payload []byte, now time.Time) *OutboxEvent {
	return &OutboxEvent{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Kind:        kind,
		Payload:     payload,
		Status:      OutboxPending,
		CreatedAt:   now,
		RetryCount:  0,
	}
}
