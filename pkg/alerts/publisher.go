package alerts

import (
	"context"
	"fmt"
	"sync"

	"github.com/haslamdb/aegis-sub000/pkg/common/kafka"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
)

const (
	EventViolation = "bundle_violation"
	EventAck       = "alert_ack"
	eventSource    = "bundle-monitor"
)

// KafkaPublisher emits violation events keyed by episode.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, alert models.Alert) error {
	_, err := p.producer.PublishEvent(ctx, EventViolation, eventSource, alert.EpisodeID, map[string]interface{}{
		"alert_id":   alert.ID,
		"episode_id": alert.EpisodeID,
		"element_id": alert.ElementID,
		"severity":   alert.Severity,
		"message":    alert.Message,
		"created_at": alert.CreatedAt,
	})
	return err
}

// RecordingPublisher keeps alerts in memory. The fixture mode uses it to log
// alerts instead of sending them.
type RecordingPublisher struct {
	mu     sync.Mutex
	alerts []models.Alert
	err    error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(ctx context.Context, alert models.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.alerts = append(p.alerts, alert)
	logger.WithField("episode_id", alert.EpisodeID).WithField("element_id", alert.ElementID).Info(alert.Message)
	return nil
}

// FailWith makes subsequent publishes fail with err; nil restores delivery.
func (p *RecordingPublisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *RecordingPublisher) Alerts() []models.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Alert(nil), p.alerts...)
}

// AckHandler consumes alert_ack events from the acknowledgement topic.
func AckHandler(d *Dispatcher) kafka.EventHandler {
	return func(ctx context.Context, event models.Event) error {
		if event.Type != EventAck {
			return nil
		}
		episodeID, _ := event.Data["episode_id"].(string)
		elementID, _ := event.Data["element_id"].(string)
		if episodeID == "" || elementID == "" {
			return fmt.Errorf("ack event %s missing episode_id or element_id", event.ID)
		}
		return d.Acknowledge(ctx, episodeID, elementID)
	}
}
