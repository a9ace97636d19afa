package infrastructure

import (
	"context"

	"github.com/roomviz/render-engine/internal/entity"
)

type (
	// ImageGenerator is the external generative-AI boundary. Every call is
	// a black box with a binary outcome: bytes, or an error classified via
	// errs.Classify. invalid_input is never retried by callers; the
	// transient classes are retried up to the calling stage's budget.
	ImageGenerator interface {
		RemoveBackground(ctx context.Context, image []byte) ([]byte, error)
		GenerateComposite(ctx context.Context, roomImageRef, productImageRef string, placement entity.Placement, instructions string) ([]byte, error)
		RemoveObjects(ctx context.Context, roomImageRef string, mask []byte) ([]byte, error)
		// DerivePlacement is best-effort enrichment; callers treat a failure
		// as a soft warning, never as a pipeline failure.
		DerivePlacement(ctx context.Context, cutout []byte) (*entity.PlacementMetadata, error)
	}

	// ImageNormalizer re-encodes arbitrary source images into the canonical
	// format the rest of the pipeline assumes.
	ImageNormalizer interface {
		Normalize(ctx context.Context, data []byte) ([]byte, error)
	}

	// ImageFetcher resolves a source image reference into bytes, enforcing
	// the size guards of the download stage.
	ImageFetcher interface {
		Fetch(ctx context.Context, ref string) ([]byte, error)
	}

	EventsSender interface {
		SendEvents(ctx context.Context, events []*entity.OutboxEvent) error
		Close() error
	}
)
