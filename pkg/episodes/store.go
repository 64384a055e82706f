// Package episodes persists bundle episodes and their element results.
package episodes

import (
	"context"
	"errors"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
)

var (
	ErrEpisodeNotFound = errors.New("episode not found")
	ErrElementNotFound = errors.New("element result not found")
	// ErrPendingElements rejects completing an episode that still has PENDING elements.
	ErrPendingElements = errors.New("episode has pending elements")
	// ErrNotComplete rejects closing an episode that is not COMPLETE.
	ErrNotComplete = errors.New("episode is not complete")
)

// Key identifies a trigger occurrence. Two triggers with the same key are
// the same episode.
type Key struct {
	PatientID   string
	EncounterID string
	BundleID    string
	TriggerTime time.Time
}

// Snapshot is the patient and trigger context captured at episode creation.
type Snapshot struct {
	PatientMRN         string
	PatientName        string
	BirthDate          *time.Time
	TriggerKind        string
	TriggerCode        string
	TriggerDescription string
	AgeDays            *int
}

// Store is the episode and element state store. Every write is scoped to
// one episode or one element and is atomic.
type Store interface {
	// CreateEpisodeIfAbsent creates the episode and one PENDING element per
	// bundle element. It returns nil when the key already exists.
	CreateEpisodeIfAbsent(ctx context.Context, def bundles.Definition, key Key, snap Snapshot) (*models.Episode, error)
	Get(ctx context.Context, episodeID string) (*models.Episode, error)
	// ListActive returns ACTIVE episodes, optionally for one bundle, ordered by trigger time.
	ListActive(ctx context.Context, bundleID string) ([]models.Episode, error)
	Elements(ctx context.Context, episodeID string) ([]models.ElementResult, error)
	PendingElements(ctx context.Context, episodeID string) ([]models.ElementResult, error)
	// ApplyResult writes a check result to a PENDING element. Terminal
	// elements are never modified and an identical result changes nothing.
	ApplyResult(ctx context.Context, elementResultID string, result models.CheckResult) (bool, error)
	RecomputeAdherence(ctx context.Context, episodeID string) (*models.Episode, error)
	MarkComplete(ctx context.Context, episodeID string, at time.Time) error
	SetAdvisory(ctx context.Context, episodeID, advisory string) error
	// UnalertedViolations returns NOT_MET elements of ACTIVE or COMPLETE
	// episodes whose alert has not been delivered.
	UnalertedViolations(ctx context.Context) ([]models.ElementResult, error)
	MarkAlerted(ctx context.Context, elementResultID string, at time.Time) error
	// Close records reviewer sign-off and moves a COMPLETE episode to CLOSED.
	Close(ctx context.Context, episodeID, reviewer string) error
}

// newElements builds the PENDING element rows for a new episode.
func newElements(def bundles.Definition, episodeID string, trigger, now time.Time, newID func() string) []models.ElementResult {
	out := make([]models.ElementResult, 0, len(def.Elements))
	for _, el := range def.Elements {
		out = append(out, models.ElementResult{
			ID:          newID(),
			EpisodeID:   episodeID,
			ElementID:   el.ID,
			ElementName: el.Name,
			Description: el.Description,
			Required:    el.Required,
			CheckerKind: string(el.Checker),
			Status:      models.ElementPending,
			Deadline:    el.Deadline(trigger),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return out
}

func newEpisode(def bundles.Definition, key Key, snap Snapshot, id string, now time.Time) models.Episode {
	return models.Episode{
		ID:                 id,
		PatientID:          key.PatientID,
		PatientMRN:         snap.PatientMRN,
		PatientName:        snap.PatientName,
		BirthDate:          snap.BirthDate,
		EncounterID:        key.EncounterID,
		BundleID:           def.ID,
		BundleName:         def.Name,
		BundleVersion:      def.Version,
		TriggerKind:        snap.TriggerKind,
		TriggerCode:        snap.TriggerCode,
		TriggerDescription: snap.TriggerDescription,
		TriggerTime:        key.TriggerTime,
		PatientAgeDays:     snap.AgeDays,
		Status:             models.EpisodeActive,
		ElementsTotal:      len(def.Elements),
		ElementsPending:    len(def.Elements),
		ReviewStatus:       models.ReviewUnreviewed,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// applyTo merges result into el and reports whether anything changed.
func applyTo(el *models.ElementResult, result models.CheckResult, now time.Time) bool {
	if el.Status != models.ElementPending || !result.Status.Valid() {
		return false
	}
	if result.Status == models.ElementPending {
		if el.Value == result.Value && el.Notes == result.Notes {
			return false
		}
		el.Value = result.Value
		el.Notes = result.Notes
		el.UpdatedAt = now
		return true
	}
	el.Status = result.Status
	el.Value = result.Value
	el.Notes = result.Notes
	if result.CompletedAt != nil {
		completed := *result.CompletedAt
		el.CompletedAt = &completed
	}
	el.UpdatedAt = now
	return true
}
