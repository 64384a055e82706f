package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/checkers"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/observability/metrics"
)

type RecomputeSummary struct {
	EpisodesProcessed int       `json:"episodes_processed"`
	ElementsEvaluated int       `json:"elements_evaluated"`
	ElementsResolved  int       `json:"elements_resolved"`
	AlertsSent        int       `json:"alerts_sent"`
	EpisodesCompleted int       `json:"episodes_completed"`
	Failures          []Failure `json:"failures,omitempty"`
}

// RecomputeAdherence re-evaluates every PENDING element of every ACTIVE
// episode, refreshes adherence and completes episodes with nothing left
// pending. Patient data is read through one per-pass context per patient.
func (m *Monitor) RecomputeAdherence(ctx context.Context) (RecomputeSummary, error) {
	start := time.Now()
	now := m.now()
	fails := &failures{}
	var evaluated, resolvedCount, alertsSent, completed atomic.Int64

	active, err := m.store.ListActive(ctx, "")
	if err != nil {
		return RecomputeSummary{}, fmt.Errorf("list active episodes: %w", err)
	}

	pass := checkers.NewPass(m.source, now)
	defer pass.Close()
	advisors := m.checkers.Advisors()

	var mu sync.Mutex
	perBundle := make(map[string]int)

	err = m.forEachPatient(ctx, active, func(ctx context.Context, ep models.Episode) {
		pending, err := m.store.PendingElements(ctx, ep.ID)
		if err != nil {
			fails.add(JobRecompute, ep.ID, err)
			return
		}
		for _, el := range pending {
			item := ep.ID + "/" + el.ElementID
			ev, err := m.evaluate(ctx, pass, ep, el)
			if err != nil {
				fails.add(JobRecompute, item, err)
				continue
			}
			evaluated.Add(1)
			if ev.Outcome == checkers.OutcomeFailure {
				fails.add(JobRecompute, item, ev.Err)
				continue
			}
			changed, alerted := m.apply(ctx, JobRecompute, ep, el, ev.Result, fails)
			if changed && ev.Outcome == checkers.OutcomeResolved {
				resolvedCount.Add(1)
			}
			if alerted {
				alertsSent.Add(1)
			}
		}

		m.advise(ctx, ep, advisors, fails)
		if m.settle(ctx, JobRecompute, ep, now, fails) {
			completed.Add(1)
			return
		}
		mu.Lock()
		perBundle[ep.BundleID]++
		mu.Unlock()
	})

	metrics.SetActiveEpisodes(perBundle)
	summary := RecomputeSummary{
		EpisodesProcessed: len(active),
		ElementsEvaluated: int(evaluated.Load()),
		ElementsResolved:  int(resolvedCount.Load()),
		AlertsSent:        int(alertsSent.Load()),
		EpisodesCompleted: int(completed.Load()),
		Failures:          fails.list(),
	}
	metrics.ObservePass(JobRecompute, time.Since(start), len(summary.Failures))
	logger.WithFields(logrus.Fields{
		"job":       JobRecompute,
		"episodes":  summary.EpisodesProcessed,
		"resolved":  summary.ElementsResolved,
		"completed": summary.EpisodesCompleted,
		"failures":  len(summary.Failures),
	}).Info("Adherence recompute finished")
	return summary, err
}

// advise stores the advisory of the checker kinds used by the episode.
func (m *Monitor) advise(ctx context.Context, ep models.Episode, advisors map[bundles.CheckerKind]checkers.Advisor, fails *failures) {
	if len(advisors) == 0 {
		return
	}
	elements, err := m.store.Elements(ctx, ep.ID)
	if err != nil {
		fails.add(JobRecompute, ep.ID, err)
		return
	}

	kinds := make([]string, 0, len(advisors))
	for kind := range advisors {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		advice, ok := advisors[bundles.CheckerKind(kind)].Advise(elements)
		if !ok {
			continue
		}
		if err := m.store.SetAdvisory(ctx, ep.ID, advice); err != nil {
			fails.add(JobRecompute, ep.ID, err)
		}
		return
	}
}
