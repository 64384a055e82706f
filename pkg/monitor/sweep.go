package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haslamdb/aegis-sub000/pkg/checkers"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/observability/metrics"
)

type DeadlineSweepSummary struct {
	EpisodesScanned   int       `json:"episodes_scanned"`
	ElementsExpired   int       `json:"elements_expired"`
	ResolvedOnRecheck int       `json:"resolved_on_recheck"`
	ForcedNotMet      int       `json:"forced_not_met"`
	ForcedUnable      int       `json:"forced_unable_to_assess"`
	LeftPending       int       `json:"left_pending"`
	AlertsSent        int       `json:"alerts_sent"`
	AlertsRedelivered int       `json:"alerts_redelivered"`
	EpisodesCompleted int       `json:"episodes_completed"`
	Failures          []Failure `json:"failures,omitempty"`
}

// DeadlineSweep resolves PENDING elements whose deadline has passed. Each
// one gets a final check first so the sweep agrees with what recompute
// would decide; only elements still without evidence are forced to
// NOT_MET. Elements whose data source is unavailable stay PENDING; a
// checker that keeps faulting past the deadline yields UNABLE_TO_ASSESS.
// NOT_MET elements whose alert was never delivered are re-notified.
func (m *Monitor) DeadlineSweep(ctx context.Context) (DeadlineSweepSummary, error) {
	start := time.Now()
	now := m.now()
	fails := &failures{}
	var expired, resolved, forced, unassessed, leftPending, alertsSent, completed atomic.Int64

	active, err := m.store.ListActive(ctx, "")
	if err != nil {
		return DeadlineSweepSummary{}, fmt.Errorf("list active episodes: %w", err)
	}

	// Earlier failed deliveries go first so this pass's own failures wait
	// for the next sweep.
	redelivered := m.redeliver(ctx, JobDeadlineSweep, fails)

	pass := checkers.NewPass(m.source, now)
	defer pass.Close()

	err = m.forEachPatient(ctx, active, func(ctx context.Context, ep models.Episode) {
		pending, err := m.store.PendingElements(ctx, ep.ID)
		if err != nil {
			fails.add(JobDeadlineSweep, ep.ID, err)
			return
		}
		touched := false
		for _, el := range pending {
			if el.Deadline == nil || !now.After(*el.Deadline) {
				continue
			}
			expired.Add(1)
			item := ep.ID + "/" + el.ElementID

			ev, err := m.evaluate(ctx, pass, ep, el)
			if err != nil {
				fails.add(JobDeadlineSweep, item, err)
				continue
			}

			var result models.CheckResult
			switch ev.Outcome {
			case checkers.OutcomeFailure:
				fails.add(JobDeadlineSweep, item, ev.Err)
				if errors.Is(ev.Err, datasource.ErrUnavailable) {
					leftPending.Add(1)
					continue
				}
				result = faultedResult(el, ev.Err)
				unassessed.Add(1)
			case checkers.OutcomeResolved:
				result = ev.Result
				resolved.Add(1)
			default:
				result = expiredResult(el, ev.Result)
				forced.Add(1)
			}

			changed, alerted := m.apply(ctx, JobDeadlineSweep, ep, el, result, fails)
			touched = touched || changed
			if alerted {
				alertsSent.Add(1)
			}
		}
		if touched && m.settle(ctx, JobDeadlineSweep, ep, now, fails) {
			completed.Add(1)
		}
	})

	summary := DeadlineSweepSummary{
		EpisodesScanned:   len(active),
		ElementsExpired:   int(expired.Load()),
		ResolvedOnRecheck: int(resolved.Load()),
		ForcedNotMet:      int(forced.Load()),
		ForcedUnable:      int(unassessed.Load()),
		LeftPending:       int(leftPending.Load()),
		AlertsSent:        int(alertsSent.Load()),
		AlertsRedelivered: redelivered,
		EpisodesCompleted: int(completed.Load()),
		Failures:          fails.list(),
	}
	metrics.ObservePass(JobDeadlineSweep, time.Since(start), len(summary.Failures))
	logger.WithFields(logrus.Fields{
		"job":            JobDeadlineSweep,
		"expired":        summary.ElementsExpired,
		"forced_not_met": summary.ForcedNotMet,
		"left_pending":   summary.LeftPending,
		"redelivered":    summary.AlertsRedelivered,
		"failures":       len(summary.Failures),
	}).Info("Deadline sweep finished")
	return summary, err
}

func expiredResult(el models.ElementResult, last models.CheckResult) models.CheckResult {
	notes := fmt.Sprintf("Deadline %s passed without qualifying evidence", el.Deadline.UTC().Format("2006-01-02 15:04Z"))
	if last.Notes != "" {
		notes += "; " + last.Notes
	}
	return models.CheckResult{
		ElementID: el.ElementID,
		Status:    models.ElementNotMet,
		Value:     last.Value,
		Notes:     notes,
	}
}

func faultedResult(el models.ElementResult, err error) models.CheckResult {
	return models.CheckResult{
		ElementID: el.ElementID,
		Status:    models.ElementUnableToAssess,
		Notes:     fmt.Sprintf("Checker failed past deadline %s: %v", el.Deadline.UTC().Format("2006-01-02 15:04Z"), err),
	}
}
