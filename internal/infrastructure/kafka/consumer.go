package kafka

import (
	"context"
	"fmt"

	"github.com/roomviz/render-engine/pkg/kafka/consumer"
	"github.com/segmentio/kafka-go"
)

// JobConsumer reads render dispatch messages from the jobs topic. Commits
// happen only after the executor finished with the message, so a crashed
// instance replays its in-flight work.
type JobConsumer struct {
	*consumer.Consumer
}

func NewJobConsumer(consumer *consumer.Consumer) *JobConsumer {
	return &JobConsumer{consumer}
}

func (jc *JobConsumer) ReadMessage(ctx context.Context) (kafka.Message, error) {
	msg, err := jc.Reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("JobConsumer - ReadMessage - jc.Reader.FetchMessage: %w", err)
	}

	return msg, nil
}

func (jc *JobConsumer) CommitMessage(ctx context.Context, msg kafka.Message) error {
	err := jc.Reader.CommitMessages(ctx, msg)
	if err != nil {
		return fmt.Errorf("JobConsumer - CommitMessage - jc.Reader.CommitMessages: %w", err)
	}

	return nil
}

func (jc *JobConsumer) Close() error {
	err := jc.Consumer.Close()
	if err != nil {
		return fmt.Errorf("JobConsumer - Close: %w", err)
	}

	return nil
}
