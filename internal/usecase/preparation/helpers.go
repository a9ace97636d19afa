package preparation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/internal/repo"
)

// assetEventPayload is what observers receive about an asset transition.
type assetEventPayload struct {
	AssetID   string  `json:"asset_id"`
	TenantID  string  `json:"tenant_id"`
	ProductID string  `json:"product_id"`
	Status    string  `json:"status"`
	LastError *string `json:"last_error,omitempty"`
}

// persistWithEvent commits the asset transition and its outbox row together,
// so the announced state is always the persisted state.
func (uc *PreparationUseCase) persistWithEvent(ctx context.Context, asset *entity.ProductAsset, kind entity.EventKind) error {
	payload, err := json.Marshal(assetEventPayload{
		AssetID:   asset.ID.String(),
		TenantID:  asset.TenantID,
		ProductID: asset.ProductID,
		Status:    string(asset.Status),
		LastError: asset.LastError,
	})
	if err != nil {
		return fmt.Errorf("json.Marshal: %w", err)
	}

	event := entity.NewOutboxEvent(asset.ID, kind, payload, time.Now())

	return uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := uc.assetRepo.Update(ctx, asset); err != nil {
			return fmt.Errorf("uc.assetRepo.Update: %w", err)
		}
		if err := uc.outboxRepo.Create(ctx, event); err != nil {
			return fmt.Errorf("uc.outboxRepo.Create: %w", err)
		}
		return nil
	})
}

func (uc *PreparationUseCase) cutoutKey(asset *entity.ProductAsset) string {
	return repo.AssetCutoutKey(asset.TenantID, asset.ID)
}
