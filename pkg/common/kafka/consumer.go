package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
}

type EventHandler func(ctx context.Context, event models.Event) error

func NewConsumer(brokers []string, topic string, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader}
}

func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			message, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				logger.Log.WithError(err).Error("Failed to fetch message")
				continue
			}

			var event models.Event
			if err := json.Unmarshal(message.Value, &event); err != nil {
				logger.Log.WithError(err).Error("Failed to unmarshal event")
				c.reader.CommitMessages(ctx, message)
				continue
			}

			if err := handler(ctx, event); err != nil {
				logger.Log.WithError(err).WithFields(map[string]interface{}{
					"event_id": event.ID,
				}).Error("Failed to process event")
				// Don't commit on error, will retry
				continue
			}

			if err := c.reader.CommitMessages(ctx, message); err != nil {
				logger.Log.WithError(err).Error("Failed to commit message")
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
