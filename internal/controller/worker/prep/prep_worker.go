package prep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
)

// PrepWorker drives the asset preparation pipeline: every tick it asks the
// use case to claim and process a batch. Multiple instances are safe; the
// claim query hands each asset to exactly one of them.
type PrepWorker struct {
	prep   usecase.PreparationUseCase
	logger logger.Interface

	pollInterval        time.Duration
	processBatchTimeout time.Duration
	batchSize           int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

func New(
	prep usecase.PreparationUseCase,
	l logger.Interface,
	pollInterval time.Duration,
	processBatchTimeout time.Duration,
	batchSize int,
) *PrepWorker {
	return &PrepWorker{
		prep:                prep,
		logger:              l,
		pollInterval:        pollInterval,
		processBatchTimeout: processBatchTimeout,
		batchSize:           batchSize,
	}
}

func (w *PrepWorker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("PrepWorker - Start - worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				batchCtx, batchCancel := context.WithTimeout(w.ctx, w.processBatchTimeout)
				w.processBatch(batchCtx)
				batchCancel()
			}
		}
	}()

	return nil
}

func (w *PrepWorker) processBatch(ctx context.Context) {
	claimed, err := w.prep.ProcessBatch(ctx, w.batchSize)
	if err != nil {
		w.logger.Error(err, "PrepWorker - processBatch - w.prep.ProcessBatch")

		return
	}

	if claimed > 0 {
		w.logger.Debug("prep worker processed %d assets", claimed)
	}
}

func (w *PrepWorker) Shutdown(ctx context.Context) error {
	if !w.started.Load() {
		return nil
	}

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})

	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return nil
	}
}
