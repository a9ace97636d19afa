package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roomviz/render-engine/internal/dto"
	kafkapc "github.com/roomviz/render-engine/internal/infrastructure/kafka"
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// RenderController consumes dispatched render jobs and executes them with a
// bounded worker pool. A message is committed only after the executor
// reached a verdict; crashed instances replay their in-flight jobs, and the
// executor tolerates replays of already-terminal jobs.
type RenderController struct {
	render usecase.RenderUseCase
	jc     *kafkapc.JobConsumer
	logger logger.Interface

	commitTimeout  time.Duration
	processTimeout time.Duration

	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	started atomic.Bool
}

func New(
	render usecase.RenderUseCase,
	jc *kafkapc.JobConsumer,
	l logger.Interface,
	commitTimeout time.Duration,
	processTimeout time.Duration,
	workers int,
) *RenderController {
	return &RenderController{
		render:         render,
		jc:             jc,
		logger:         l,
		commitTimeout:  commitTimeout,
		processTimeout: processTimeout,
		workers:        workers,
	}
}

func (c *RenderController) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("RenderController - Start - controller already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	tasks := make(chan kafka.Message, c.workers*2)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(tasks)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(tasks)

		for {
			select {
			case <-c.ctx.Done():
				return
			default:
				msg, err := c.jc.ReadMessage(c.ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						c.logger.Error(err, "RenderController - Start - c.jc.ReadMessage")
					}
					continue
				}

				select {
				case tasks <- msg:
				case <-c.ctx.Done():
					return
				}
			}
		}
	}()

	return nil
}

func (c *RenderController) executeRender(ctx context.Context, msg kafka.Message) error {
	var dispatch dto.RenderDispatch
	err := json.Unmarshal(msg.Value, &dispatch)
	if err != nil {
		return fmt.Errorf("RenderController - executeRender - json.Unmarshal: %w", err)
	}

	err = c.render.ExecuteRender(ctx, dispatch)
	if err != nil {
		return fmt.Errorf("RenderController - executeRender - c.render.ExecuteRender: %w", err)
	}

	return nil
}

func (c *RenderController) worker(tasks <-chan kafka.Message) {
	defer c.wg.Done()

	for msg := range tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error(fmt.Errorf("panic %v", r), "RenderController - worker - panic")
				}
			}()

			processCtx, processCancel := context.WithTimeout(c.ctx, c.processTimeout)
			err := c.executeRender(processCtx, msg)
			processCancel()
			if err != nil {
				// not committed: the dispatch is redelivered
				c.logger.Error(err, "RenderController - worker - c.executeRender")

				return
			}

			commitCtx, commitCancel := context.WithTimeout(c.ctx, c.commitTimeout)
			err = c.jc.CommitMessage(commitCtx, msg)
			commitCancel()
			if err != nil {
				c.logger.Error(err, "RenderController - worker - c.jc.CommitMessage")
			}
		}()
	}
}

func (c *RenderController) Shutdown(ctx context.Context) error {
	if !c.started.Load() {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		c.jc.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return nil
	}
}
