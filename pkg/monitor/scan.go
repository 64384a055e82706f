package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/episodes"
	"github.com/haslamdb/aegis-sub000/pkg/observability/metrics"
)

type TriggerScanSummary struct {
	BundlesScanned  int       `json:"bundles_scanned"`
	Candidates      int       `json:"candidates"`
	EpisodesCreated int       `json:"episodes_created"`
	Duplicates      int       `json:"duplicates"`
	Failures        []Failure `json:"failures,omitempty"`
}

// TriggerScan queries the data source for every enabled bundle trigger and
// creates an episode per new trigger occurrence. Repeated scans over the
// same data create nothing new.
func (m *Monitor) TriggerScan(ctx context.Context) (TriggerScanSummary, error) {
	start := time.Now()
	var summary TriggerScanSummary
	fails := &failures{}

	for _, def := range m.bundles.ListEnabled() {
		if err := ctx.Err(); err != nil {
			summary.Failures = fails.list()
			return summary, err
		}
		summary.BundlesScanned++
		for _, trigger := range def.Triggers {
			candidates, err := m.findCandidates(ctx, trigger)
			if err != nil {
				fails.add(JobTriggerScan, fmt.Sprintf("%s/%s", def.ID, trigger.Kind), err)
				continue
			}
			for _, c := range candidates {
				if !trigger.MatchesAge(c.AgeDays) {
					continue
				}
				summary.Candidates++
				created, err := m.createEpisode(ctx, def, trigger, c)
				switch {
				case err != nil:
					fails.add(JobTriggerScan, fmt.Sprintf("%s/%s", def.ID, c.PatientID), err)
				case created:
					summary.EpisodesCreated++
				default:
					summary.Duplicates++
				}
			}
		}
	}

	summary.Failures = fails.list()
	metrics.ObservePass(JobTriggerScan, time.Since(start), len(summary.Failures))
	logger.WithFields(logrus.Fields{
		"job":      JobTriggerScan,
		"bundles":  summary.BundlesScanned,
		"created":  summary.EpisodesCreated,
		"failures": len(summary.Failures),
	}).Info("Trigger scan finished")
	return summary, nil
}

func (m *Monitor) findCandidates(ctx context.Context, t bundles.TriggerCriteria) ([]datasource.TriggerCandidate, error) {
	switch t.Kind {
	case bundles.TriggerDiagnosis:
		return m.source.FindPatientsByCondition(ctx, t.CodePrefixes, t.MinAgeDays, t.MaxAgeDays)
	case bundles.TriggerOrder:
		return m.source.FindPatientsByOrder(ctx, t.CodePrefixes, t.MinAgeDays, t.MaxAgeDays)
	case bundles.TriggerLab:
		return m.source.FindPatientsByLabResult(ctx, t.CodePrefixes, t.MinAgeDays, t.MaxAgeDays)
	default:
		return nil, fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

func (m *Monitor) createEpisode(ctx context.Context, def bundles.Definition, t bundles.TriggerCriteria, c datasource.TriggerCandidate) (bool, error) {
	patient, err := m.source.GetPatient(ctx, c.PatientID)
	if err != nil {
		return false, err
	}
	age := c.AgeDays
	if age == nil {
		age = datasource.AgeDays(patient.BirthDate, c.Time)
	}
	description := c.Description
	if description == "" {
		description = t.Description
	}

	ep, err := m.store.CreateEpisodeIfAbsent(ctx, def,
		episodes.Key{PatientID: c.PatientID, EncounterID: c.EncounterID, BundleID: def.ID, TriggerTime: c.Time},
		episodes.Snapshot{
			PatientMRN:         patient.MRN,
			PatientName:        patient.Name,
			BirthDate:          patient.BirthDate,
			TriggerKind:        string(t.Kind),
			TriggerCode:        c.Code,
			TriggerDescription: description,
			AgeDays:            age,
		})
	if err != nil || ep == nil {
		return false, err
	}

	metrics.ObserveEpisodeCreated(def.ID)
	logger.WithFields(logrus.Fields{
		"episode_id":   ep.ID,
		"bundle_id":    def.ID,
		"patient_id":   c.PatientID,
		"trigger_code": c.Code,
		"trigger_time": c.Time,
	}).Info("Episode created")
	return true, nil
}
