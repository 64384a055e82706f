// Package alerts delivers guideline violation alerts.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Ack reports how the sink handled a notification.
type Ack struct {
	AlertID string
	// Duplicate is set when an unacknowledged alert already exists for the element.
	Duplicate bool
}

// Sink accepts violation alerts. Notify is idempotent per (episode, element)
// until the alert is acknowledged.
type Sink interface {
	Notify(ctx context.Context, episodeID, elementID, severity, message string) (Ack, error)
}

// Ledger tracks which (episode, element) pairs have an open alert.
type Ledger interface {
	// Reserve records an open alert and reports false if one already exists.
	Reserve(ctx context.Context, episodeID, elementID, alertID string) (bool, error)
	Release(ctx context.Context, episodeID, elementID string) error
}

// Publisher delivers an alert downstream.
type Publisher interface {
	Publish(ctx context.Context, alert models.Alert) error
}

// Dispatcher is the Sink used by the monitor: a Ledger for deduplication in
// front of a Publisher for delivery.
type Dispatcher struct {
	ledger    Ledger
	publisher Publisher
	now       func() time.Time
}

func NewDispatcher(ledger Ledger, publisher Publisher) *Dispatcher {
	return &Dispatcher{ledger: ledger, publisher: publisher, now: func() time.Time { return time.Now().UTC() }}
}

func (d *Dispatcher) Notify(ctx context.Context, episodeID, elementID, severity, message string) (Ack, error) {
	alert := models.Alert{
		ID:        uuid.NewString(),
		EpisodeID: episodeID,
		ElementID: elementID,
		Severity:  severity,
		Message:   message,
		CreatedAt: d.now(),
	}
	fields := logrus.Fields{"episode_id": episodeID, "element_id": elementID, "severity": severity}

	reserved, err := d.ledger.Reserve(ctx, episodeID, elementID, alert.ID)
	if err != nil {
		return Ack{}, fmt.Errorf("reserve alert: %w", err)
	}
	if !reserved {
		logger.WithFields(fields).Debug("Alert already open, skipping")
		return Ack{Duplicate: true}, nil
	}

	if err := d.publisher.Publish(ctx, alert); err != nil {
		if relErr := d.ledger.Release(ctx, episodeID, elementID); relErr != nil {
			logger.WithFields(fields).WithError(relErr).Warn("Failed to release alert reservation")
		}
		return Ack{}, fmt.Errorf("publish alert: %w", err)
	}

	logger.WithFields(fields).WithField("alert_id", alert.ID).Info("Violation alert sent")
	return Ack{AlertID: alert.ID}, nil
}

// Acknowledge clears the open alert so a later violation alerts again.
func (d *Dispatcher) Acknowledge(ctx context.Context, episodeID, elementID string) error {
	if err := d.ledger.Release(ctx, episodeID, elementID); err != nil {
		return fmt.Errorf("release alert: %w", err)
	}
	logger.WithFields(logrus.Fields{"episode_id": episodeID, "element_id": elementID}).Info("Alert acknowledged")
	return nil
}
