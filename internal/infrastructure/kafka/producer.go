package kafka

import (
	"context"
	"fmt"

	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/pkg/kafka/producer"
	"github.com/segmentio/kafka-go"
)

// EventProducer publishes relayed outbox events. Dispatch events (work for
// the render executor) go to the jobs topic, observer events to the events
// topic; both carry the aggregate id as the partitioning key so per-entity
// ordering holds.
type EventProducer struct {
	*producer.Producer
	jobsTopic   string
	eventsTopic string
}

func NewEventProducer(producer *producer.Producer, jobsTopic, eventsTopic string) *EventProducer {
	return &EventProducer{
		producer,
		jobsTopic,
		eventsTopic,
	}
}

func (ep *EventProducer) SendEvents(ctx context.Context, events []*entity.OutboxEvent) error {
	var msgsToSend []kafka.Message

	for _, event := range events {
		topic := ep.eventsTopic
		if event.Kind.IsDispatch() {
			topic = ep.jobsTopic
		}

		msg := kafka.Message{
			Topic: topic,
			Key:   []byte(event.AggregateID.String()),
			Value: event.Payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(event.ID.String())},
				{Key: "kind", Value: []byte(event.Kind)},
			},
		}
		msgsToSend = append(msgsToSend, msg)
	}

	if len(msgsToSend) == 0 {
		return nil
	}

	err := ep.Writer.WriteMessages(ctx, msgsToSend...)
	if err != nil {
		return fmt.Errorf("EventProducer - SendEvents - ep.Writer.WriteMessages: %w", err)
	}

	return nil
}

func (ep *EventProducer) Close() error {
	err := ep.Producer.Close()
	if err != nil {
		return fmt.Errorf("EventProducer - Close: %w", err)
	}

	return nil
}
