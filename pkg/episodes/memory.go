package episodes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
)

// MemoryStore is a mutex-protected Store used by tests and the fixture mode.
type MemoryStore struct {
	mu        sync.RWMutex
	tolerance time.Duration
	now       func() time.Time

	episodes  map[string]*models.Episode
	elements  map[string]*models.ElementResult
	byEpisode map[string][]string
}

// NewMemoryStore treats triggers within tolerance of an existing episode for
// the same patient, encounter and bundle as duplicates. Zero means exact match.
func NewMemoryStore(tolerance time.Duration) *MemoryStore {
	return &MemoryStore{
		tolerance: tolerance,
		now:       func() time.Time { return time.Now().UTC() },
		episodes:  make(map[string]*models.Episode),
		elements:  make(map[string]*models.ElementResult),
		byEpisode: make(map[string][]string),
	}
}

// SetClock replaces the timestamp source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) CreateEpisodeIfAbsent(ctx context.Context, def bundles.Definition, key Key, snap Snapshot) (*models.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ep := range s.episodes {
		if ep.PatientID == key.PatientID && ep.EncounterID == key.EncounterID && ep.BundleID == key.BundleID &&
			withinTolerance(ep.TriggerTime, key.TriggerTime, s.tolerance) {
			return nil, nil
		}
	}

	now := s.now()
	ep := newEpisode(def, key, snap, uuid.NewString(), now)
	elements := newElements(def, ep.ID, key.TriggerTime, now, uuid.NewString)
	s.episodes[ep.ID] = &ep
	ids := make([]string, 0, len(elements))
	for i := range elements {
		el := elements[i]
		s.elements[el.ID] = &el
		ids = append(ids, el.ID)
	}
	s.byEpisode[ep.ID] = ids

	out := ep
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, episodeID string) (*models.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	out := *ep
	return &out, nil
}

func (s *MemoryStore) ListActive(ctx context.Context, bundleID string) ([]models.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Episode
	for _, ep := range s.episodes {
		if ep.Status != models.EpisodeActive || (bundleID != "" && ep.BundleID != bundleID) {
			continue
		}
		out = append(out, *ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggerTime.Equal(out[j].TriggerTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].TriggerTime.Before(out[j].TriggerTime)
	})
	return out, nil
}

func (s *MemoryStore) Elements(ctx context.Context, episodeID string) ([]models.ElementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elementsLocked(episodeID, false)
}

func (s *MemoryStore) PendingElements(ctx context.Context, episodeID string) ([]models.ElementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elementsLocked(episodeID, true)
}

func (s *MemoryStore) elementsLocked(episodeID string, pendingOnly bool) ([]models.ElementResult, error) {
	ids, ok := s.byEpisode[episodeID]
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	out := make([]models.ElementResult, 0, len(ids))
	for _, id := range ids {
		el := s.elements[id]
		if pendingOnly && el.Status != models.ElementPending {
			continue
		}
		out = append(out, *el)
	}
	return out, nil
}

func (s *MemoryStore) ApplyResult(ctx context.Context, elementResultID string, result models.CheckResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[elementResultID]
	if !ok {
		return false, ErrElementNotFound
	}
	return applyTo(el, result, s.now()), nil
}

func (s *MemoryStore) RecomputeAdherence(ctx context.Context, episodeID string) (*models.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	elements, err := s.elementsLocked(episodeID, false)
	if err != nil {
		return nil, err
	}
	a := ComputeAdherence(elements)
	if !a.equals(*ep) {
		a.applyTo(ep)
		ep.UpdatedAt = s.now()
	}
	out := *ep
	return &out, nil
}

func (s *MemoryStore) MarkComplete(ctx context.Context, episodeID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return ErrEpisodeNotFound
	}
	if ep.Status != models.EpisodeActive {
		return nil
	}
	for _, id := range s.byEpisode[episodeID] {
		if s.elements[id].Status == models.ElementPending {
			return ErrPendingElements
		}
	}
	completed := at
	ep.Status = models.EpisodeComplete
	ep.CompletedAt = &completed
	ep.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetAdvisory(ctx context.Context, episodeID, advisory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return ErrEpisodeNotFound
	}
	if ep.Advisory != advisory {
		ep.Advisory = advisory
		ep.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) UnalertedViolations(ctx context.Context) ([]models.ElementResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ElementResult
	for _, el := range s.elements {
		if el.Status != models.ElementNotMet || el.AlertedAt != nil {
			continue
		}
		if ep := s.episodes[el.EpisodeID]; ep == nil || ep.Status == models.EpisodeClosed {
			continue
		}
		out = append(out, *el)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) MarkAlerted(ctx context.Context, elementResultID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[elementResultID]
	if !ok {
		return ErrElementNotFound
	}
	if el.AlertedAt == nil {
		alerted := at
		el.AlertedAt = &alerted
	}
	return nil
}

func (s *MemoryStore) Close(ctx context.Context, episodeID, reviewer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[episodeID]
	if !ok {
		return ErrEpisodeNotFound
	}
	if ep.Status != models.EpisodeComplete {
		return ErrNotComplete
	}
	ep.Status = models.EpisodeClosed
	ep.ReviewStatus = models.ReviewReviewed
	ep.ReviewedBy = reviewer
	ep.UpdatedAt = s.now()
	return nil
}

func withinTolerance(a, b time.Time, tolerance time.Duration) bool {
	if tolerance <= 0 {
		return a.Equal(b)
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
