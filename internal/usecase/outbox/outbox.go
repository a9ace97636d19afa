package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/internal/repo"
	"github.com/roomviz/render-engine/pkg/logger"
)

// OutboxUseCase exposes the outbox table to the relay worker.
type OutboxUseCase struct {
	outboxRepo repo.OutboxRepo
	logger     logger.Interface
}

func New(outboxRepo repo.OutboxRepo, l logger.Interface) *OutboxUseCase {
	return &OutboxUseCase{
		outboxRepo: outboxRepo,
		logger:     l,
	}
}

func (uc *OutboxUseCase) GetPendingEvents(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxEvent, error) {
	events, err := uc.outboxRepo.GetPendingEvents(ctx, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("OutboxUseCase - GetPendingEvents - uc.outboxRepo.GetPendingEvents: %w", err)
	}
	return events, nil
}

func (uc *OutboxUseCase) MarkAsProcessingBatch(ctx context.Context, events []*entity.OutboxEvent) error {
	if err := uc.outboxRepo.MarkAsProcessingBatch(ctx, eventIDs(events)); err != nil {
		return fmt.Errorf("OutboxUseCase - MarkAsProcessingBatch - uc.outboxRepo.MarkAsProcessingBatch: %w", err)
	}
	return nil
}

func (uc *OutboxUseCase) MarkAsProcessedBatch(ctx context.Context, events []*entity.OutboxEvent) error {
	if err := uc.outboxRepo.MarkAsProcessedBatch(ctx, eventIDs(events)); err != nil {
		return fmt.Errorf("OutboxUseCase - MarkAsProcessedBatch - uc.outboxRepo.MarkAsProcessedBatch: %w", err)
	}
	return nil
}

func (uc *OutboxUseCase) IncrementRetryCountBatch(ctx context.Context, events []*entity.OutboxEvent) error {
	if err := uc.outboxRepo.IncrementRetryCountBatch(ctx, eventIDs(events)); err != nil {
		return fmt.Errorf("OutboxUseCase - IncrementRetryCountBatch - uc.outboxRepo.IncrementRetryCountBatch: %w", err)
	}
	return nil
}

func (uc *OutboxUseCase) MarkMaxRetriesAsFailed(ctx context.Context, maxRetries int) error {
	if err := uc.outboxRepo.MarkMaxRetriesAsFailed(ctx, maxRetries); err != nil {
		return fmt.Errorf("OutboxUseCase - MarkMaxRetriesAsFailed - uc.outboxRepo.MarkMaxRetriesAsFailed: %w", err)
	}
	return nil
}

func (uc *OutboxUseCase) CleanupOutbox(ctx context.Context) error {
	deleted, err := uc.outboxRepo.DeleteOldProcessedAndFailed(ctx)
	if err != nil {
		return fmt.Errorf("OutboxUseCase - CleanupOutbox - uc.outboxRepo.DeleteOldProcessedAndFailed: %w", err)
	}

	if deleted > 0 {
		uc.logger.Info("outbox cleanup removed %d old events", deleted)
	}

	return nil
}

func eventIDs(events []*entity.OutboxEvent) uuid.UUIDs {
	ids := make(uuid.UUIDs, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
