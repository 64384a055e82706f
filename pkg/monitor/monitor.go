// Package monitor runs the trigger scan, deadline sweep and adherence
// recompute passes over the episode store.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/haslamdb/aegis-sub000/pkg/alerts"
	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/checkers"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/episodes"
	"github.com/haslamdb/aegis-sub000/pkg/observability/metrics"
)

const (
	JobTriggerScan   = "trigger-scan"
	JobDeadlineSweep = "deadline-sweep"
	JobRecompute     = "recompute"
)

type Options struct {
	// MaxParallelPatients bounds concurrent patients in one pass.
	MaxParallelPatients int
	Now                 func() time.Time
}

type Monitor struct {
	bundles  *bundles.Registry
	checkers *checkers.Registry
	source   datasource.Source
	store    episodes.Store
	sink     alerts.Sink

	maxParallel int
	now         func() time.Time
}

func New(reg *bundles.Registry, chk *checkers.Registry, source datasource.Source, store episodes.Store, sink alerts.Sink, opts Options) *Monitor {
	m := &Monitor{
		bundles:     reg,
		checkers:    chk,
		source:      source,
		store:       store,
		sink:        sink,
		maxParallel: opts.MaxParallelPatients,
		now:         opts.Now,
	}
	if m.maxParallel <= 0 {
		m.maxParallel = 1
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// Failure is one item a pass could not process. The pass continues.
type Failure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

type failures struct {
	mu    sync.Mutex
	items []Failure
}

func (f *failures) add(job, item string, err error) {
	f.mu.Lock()
	f.items = append(f.items, Failure{Item: item, Error: err.Error()})
	f.mu.Unlock()
	logger.WithFields(logrus.Fields{"job": job, "item": item}).WithError(err).Warn("Pass item failed")
}

func (f *failures) list() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Failure(nil), f.items...)
}

// forEachPatient runs fn over each patient's episodes sequentially, with
// patients processed in parallel up to the configured bound. A patient
// context is therefore never shared between goroutines.
func (m *Monitor) forEachPatient(ctx context.Context, eps []models.Episode, fn func(ctx context.Context, ep models.Episode)) error {
	var order []string
	groups := make(map[string][]models.Episode)
	for _, ep := range eps {
		if _, ok := groups[ep.PatientID]; !ok {
			order = append(order, ep.PatientID)
		}
		groups[ep.PatientID] = append(groups[ep.PatientID], ep)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxParallel)
	for _, patientID := range order {
		group := groups[patientID]
		g.Go(func() error {
			for _, ep := range group {
				if err := gctx.Err(); err != nil {
					return err
				}
				fn(gctx, ep)
			}
			return nil
		})
	}
	return g.Wait()
}

// evaluate runs one pending element through its checker.
func (m *Monitor) evaluate(ctx context.Context, pass *checkers.Pass, ep models.Episode, el models.ElementResult) (checkers.Evaluation, error) {
	def, ok := m.bundles.Get(ep.BundleID)
	if !ok {
		return checkers.Evaluation{}, fmt.Errorf("bundle %s not registered", ep.BundleID)
	}
	element, ok := def.Element(el.ElementID)
	if !ok {
		return checkers.Evaluation{}, fmt.Errorf("bundle %s has no element %s", ep.BundleID, el.ElementID)
	}
	checker, ok := m.checkers.For(element.Checker)
	if !ok {
		return checkers.Evaluation{}, fmt.Errorf("no checker bound for kind %s", element.Checker)
	}

	ev := checkers.Evaluate(ctx, checker, checkers.Request{
		Element:     element,
		EpisodeID:   ep.ID,
		PatientID:   ep.PatientID,
		TriggerTime: ep.TriggerTime,
		Now:         pass.Now(),
		AgeDays:     ep.PatientAgeDays,
		Context:     pass.Context(ep.PatientID),
	})
	metrics.ObserveEvaluation(string(element.Checker), ev.Outcome.String())
	return ev, nil
}

// apply writes a result and alerts when the element moved into NOT_MET.
func (m *Monitor) apply(ctx context.Context, job string, ep models.Episode, el models.ElementResult, result models.CheckResult, fails *failures) (changed, alerted bool) {
	item := ep.ID + "/" + el.ElementID
	changed, err := m.store.ApplyResult(ctx, el.ID, result)
	if err != nil {
		fails.add(job, item, err)
		return false, false
	}
	if !changed || result.Status != models.ElementNotMet {
		return changed, false
	}
	return true, m.alert(ctx, job, ep, el, result, fails)
}

func (m *Monitor) alert(ctx context.Context, job string, ep models.Episode, el models.ElementResult, result models.CheckResult, fails *failures) bool {
	severity := alerts.SeverityMedium
	if el.Required {
		severity = alerts.SeverityHigh
	}
	patient := ep.PatientMRN
	if patient == "" {
		patient = ep.PatientID
	}
	message := fmt.Sprintf("%s: %s not met for patient %s", ep.BundleName, el.ElementName, patient)
	if result.Notes != "" {
		message += " (" + result.Notes + ")"
	}

	item := ep.ID + "/" + el.ElementID
	ack, err := m.sink.Notify(ctx, ep.ID, el.ElementID, severity, message)
	if err != nil {
		metrics.ObserveAlert(severity, "failed")
		fails.add(job, item, fmt.Errorf("alert: %w", err))
		return false
	}
	// A duplicate means the open alert already went out.
	if err := m.store.MarkAlerted(ctx, el.ID, m.now()); err != nil {
		fails.add(job, item, fmt.Errorf("mark alerted: %w", err))
	}
	if ack.Duplicate {
		metrics.ObserveAlert(severity, "duplicate")
		return false
	}
	metrics.ObserveAlert(severity, "sent")
	return true
}

// redeliver re-notifies NOT_MET elements whose alert never went out, such
// as violations resolved while the publisher was down. The sink ledger
// keeps this idempotent against a concurrent first delivery.
func (m *Monitor) redeliver(ctx context.Context, job string, fails *failures) int {
	violations, err := m.store.UnalertedViolations(ctx)
	if err != nil {
		fails.add(job, "unalerted violations", err)
		return 0
	}
	sent := 0
	cache := make(map[string]*models.Episode)
	for _, el := range violations {
		if ctx.Err() != nil {
			break
		}
		ep, ok := cache[el.EpisodeID]
		if !ok {
			ep, err = m.store.Get(ctx, el.EpisodeID)
			if err != nil {
				fails.add(job, el.EpisodeID+"/"+el.ElementID, err)
				continue
			}
			cache[el.EpisodeID] = ep
		}
		result := models.CheckResult{ElementID: el.ElementID, Status: el.Status, Value: el.Value, Notes: el.Notes}
		if m.alert(ctx, job, *ep, el, result, fails) {
			sent++
		}
	}
	if sent > 0 {
		logger.WithFields(logrus.Fields{"job": job, "alerts": sent}).Info("Redelivered violation alerts")
	}
	return sent
}

// settle recomputes adherence and completes the episode once nothing is
// pending. It reports whether the episode completed.
func (m *Monitor) settle(ctx context.Context, job string, ep models.Episode, at time.Time, fails *failures) bool {
	updated, err := m.store.RecomputeAdherence(ctx, ep.ID)
	if err != nil {
		fails.add(job, ep.ID, err)
		return false
	}
	if updated.Status != models.EpisodeActive || updated.ElementsPending > 0 {
		return false
	}
	if err := m.store.MarkComplete(ctx, ep.ID, at); err != nil {
		fails.add(job, ep.ID, err)
		return false
	}
	logger.WithFields(logrus.Fields{
		"episode_id": ep.ID,
		"bundle_id":  ep.BundleID,
		"adherence":  fmt.Sprintf("%.1f%%", updated.AdherencePercentage),
	}).Info("Episode complete")
	return true
}
