package checkers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

const (
	cdiffExposureLookback  = 48 * time.Hour
	cdiffExceptionLookback = 7 * 24 * time.Hour
	cdiffRiskLookback      = 90 * 24 * time.Hour
	cdiffSymptomLookback   = 14 * 24 * time.Hour
	cdiffStoolLookback     = 24 * time.Hour
)

const (
	cdiffAge            = "cdiff_age"
	cdiffStoolFrequency = "cdiff_stool_frequency"
	cdiffNoLaxatives    = "cdiff_no_laxatives"
	cdiffNoContrast     = "cdiff_no_contrast"
	cdiffNoTubeFeed     = "cdiff_no_tube_feed_change"
	cdiffNoGIBleed      = "cdiff_no_gi_bleed"
	cdiffRiskFactor     = "cdiff_risk_factor"
	cdiffSymptomDur     = "cdiff_symptom_duration"
)

// Appropriateness is the overall verdict on a C. diff test order.
type Appropriateness string

const (
	Appropriate              Appropriateness = "appropriate"
	PotentiallyInappropriate Appropriateness = "potentially_inappropriate"
	Inappropriate            Appropriateness = "inappropriate"
	AppropriatenessUnknown   Appropriateness = "unable_to_assess"
)

// CDiffTestingChecker scores a C. diff test order against diagnostic
// stewardship criteria. Every criterion is evaluated relative to the order
// time, so most resolve on the first pass.
type CDiffTestingChecker struct {
	catalog    terminology.Catalog
	thresholds config.Thresholds
}

func NewCDiffTestingChecker(deps Deps) *CDiffTestingChecker {
	return &CDiffTestingChecker{catalog: deps.Catalog, thresholds: deps.Thresholds}
}

func (c *CDiffTestingChecker) Kind() bundles.CheckerKind {
	return bundles.KindCDiffTesting
}

func (c *CDiffTestingChecker) Supports(elementID string) bool {
	switch elementID {
	case cdiffAge, cdiffStoolFrequency, cdiffNoLaxatives, cdiffNoContrast,
		cdiffNoTubeFeed, cdiffNoGIBleed, cdiffRiskFactor, cdiffSymptomDur:
		return true
	}
	return false
}

func (c *CDiffTestingChecker) Check(ctx context.Context, req Request) (models.CheckResult, error) {
	switch req.Element.ID {
	case cdiffAge:
		return c.checkAge(ctx, req)
	case cdiffStoolFrequency:
		return c.checkStoolFrequency(ctx, req)
	case cdiffNoLaxatives:
		return c.checkNoMedication(ctx, req, terminology.SetLaxatives, "laxative")
	case cdiffNoContrast:
		return c.checkNoMedication(ctx, req, terminology.SetEnteralContrast, "enteral contrast")
	case cdiffNoTubeFeed:
		return c.checkNoTubeFeedChange(ctx, req)
	case cdiffNoGIBleed:
		return c.checkNoGIBleed(ctx, req)
	case cdiffRiskFactor:
		factors, err := c.RiskFactors(ctx, req)
		if err != nil {
			return models.CheckResult{}, err
		}
		if len(factors) == 0 {
			return notMet(req.Element.ID, "", "No antibiotic, acid suppression or high-risk history found"), nil
		}
		return met(req.Element.ID, strings.Join(factors, "; "), "Risk factors present", req.TriggerTime), nil
	case cdiffSymptomDur:
		return c.checkSymptomDuration(ctx, req)
	default:
		return models.CheckResult{}, configError(req.Element.ID, "not a C. diff testing criterion")
	}
}

func (c *CDiffTestingChecker) checkAge(ctx context.Context, req Request) (models.CheckResult, error) {
	age, err := req.Context.AgeDays(ctx, req)
	if err != nil {
		return models.CheckResult{}, err
	}
	if age == nil {
		return unable(req.Element.ID, "Age unknown"), nil
	}
	years := YearsFromDays(*age)
	value := fmt.Sprintf("%.1f years", years)
	minYears := c.thresholds.CDiffMinAgeYears
	if years >= minYears {
		return met(req.Element.ID, value, fmt.Sprintf("Age at least %g years", minYears), req.TriggerTime), nil
	}

	notes, err := req.Context.Notes(ctx, req.TriggerTime.Add(-cdiffExceptionLookback), nil)
	if err != nil {
		return models.CheckResult{}, err
	}
	if exc := notesMentioning(notes, c.catalog.KeywordSet(terminology.SetCDiffException), req.TriggerTime); len(exc) > 0 {
		return met(req.Element.ID, value, fmt.Sprintf("Under %g years with documented exception in %s", minYears, noteLabel(exc[0])), req.TriggerTime), nil
	}
	return notMet(req.Element.ID, value, fmt.Sprintf("Testing not recommended under %g years without documented exception", minYears)), nil
}

func (c *CDiffTestingChecker) checkStoolFrequency(ctx context.Context, req Request) (models.CheckResult, error) {
	count, seen, err := c.stoolCount(ctx, req, req.TriggerTime.Add(-cdiffStoolLookback), req.TriggerTime)
	if err != nil {
		return models.CheckResult{}, err
	}
	minStools := c.thresholds.CDiffMinStools
	value := fmt.Sprintf("%d stools", count)
	switch {
	case count >= minStools:
		return met(req.Element.ID, value, fmt.Sprintf("%d unformed stools in 24 hours before order", count), req.TriggerTime), nil
	case seen:
		return notMet(req.Element.ID, value, fmt.Sprintf("Fewer than %d unformed stools in 24 hours", minStools)), nil
	case WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now):
		return pending(req.Element.ID, "Stool output not documented"), nil
	default:
		return notMet(req.Element.ID, "", "No stool output documented"), nil
	}
}

// stoolCount sums stool vitals in [since, until].
func (c *CDiffTestingChecker) stoolCount(ctx context.Context, req Request, since, until time.Time) (int, bool, error) {
	vitals, err := req.Context.Vitals(ctx, since)
	if err != nil {
		return 0, false, err
	}
	total, seen := 0, false
	for _, v := range stoolVitals(vitals, c.catalog.KeywordSet(terminology.SetStoolVitals)) {
		if v.Time.After(until) {
			continue
		}
		seen = true
		total += int(v.Value)
	}
	return total, seen, nil
}

func (c *CDiffTestingChecker) checkNoMedication(ctx context.Context, req Request, set, label string) (models.CheckResult, error) {
	meds, err := req.Context.Medications(ctx, req.TriggerTime.Add(-cdiffExposureLookback))
	if err != nil {
		return models.CheckResult{}, err
	}
	for _, med := range matchingMedications(meds, c.catalog.KeywordSet(set)) {
		if med.Time.After(req.TriggerTime) {
			continue
		}
		return notMet(req.Element.ID, med.Name, fmt.Sprintf("%s given at %s, within 48 hours of order", med.Name, stamp(med.Time))), nil
	}
	return met(req.Element.ID, "none", fmt.Sprintf("No %s in 48 hours before order", label), req.TriggerTime), nil
}

func (c *CDiffTestingChecker) checkNoTubeFeedChange(ctx context.Context, req Request) (models.CheckResult, error) {
	notes, err := req.Context.Notes(ctx, req.TriggerTime.Add(-cdiffExposureLookback), nil)
	if err != nil {
		return models.CheckResult{}, err
	}
	if hits := notesMentioning(notes, c.catalog.KeywordSet(terminology.SetTubeFeedChange), req.TriggerTime); len(hits) > 0 {
		return notMet(req.Element.ID, "feed change", fmt.Sprintf("Tube feed change documented in %s at %s", noteLabel(hits[0]), stamp(hits[0].Time))), nil
	}
	return met(req.Element.ID, "none", "No tube feed change in 48 hours before order", req.TriggerTime), nil
}

func (c *CDiffTestingChecker) checkNoGIBleed(ctx context.Context, req Request) (models.CheckResult, error) {
	conditions, err := req.Context.Conditions(ctx)
	if err != nil {
		return models.CheckResult{}, err
	}
	for _, cond := range activeConditions(conditions) {
		if terminology.HasPrefixAny(cond.Code, c.catalog.CodeSet(terminology.CodeSetGIBleed)) {
			return notMet(req.Element.ID, cond.Code, fmt.Sprintf("Active GI bleed diagnosis %s %s", cond.Code, cond.Display)), nil
		}
	}
	notes, err := req.Context.Notes(ctx, req.TriggerTime.Add(-cdiffExposureLookback), nil)
	if err != nil {
		return models.CheckResult{}, err
	}
	if hits := notesMentioning(notes, c.catalog.KeywordSet(terminology.SetGIBleed), req.TriggerTime); len(hits) > 0 {
		return notMet(req.Element.ID, "gi bleed", fmt.Sprintf("GI bleeding documented in %s at %s", noteLabel(hits[0]), stamp(hits[0].Time))), nil
	}
	return met(req.Element.ID, "none", "No active GI bleeding", req.TriggerTime), nil
}

// RiskFactors lists the C. diff risk factors found, memoized per pass.
func (c *CDiffTestingChecker) RiskFactors(ctx context.Context, req Request) ([]string, error) {
	return memo(req.Context, "cdiff.risk_factors", func(datasource.Source) ([]string, error) {
		var factors []string
		since := req.TriggerTime.Add(-cdiffRiskLookback)

		meds, err := req.Context.Medications(ctx, since)
		if err != nil {
			return nil, err
		}
		if abx := matchingMedications(meds, c.catalog.KeywordSet(terminology.SetAntibiotics)); len(abx) > 0 {
			factors = append(factors, "recent antibiotics ("+abx[0].Name+")")
		}
		if acid := matchingMedications(meds, c.catalog.KeywordSet(terminology.SetAcidSuppression)); len(acid) > 0 {
			factors = append(factors, "acid suppression ("+acid[0].Name+")")
		}

		conditions, err := req.Context.Conditions(ctx)
		if err != nil {
			return nil, err
		}
		for _, cond := range activeConditions(conditions) {
			if terminology.HasPrefixAny(cond.Code, c.catalog.CodeSet(terminology.CodeSetCDiffRisk)) {
				factors = append(factors, "condition "+cond.Code)
				break
			}
		}

		notes, err := req.Context.Notes(ctx, since, nil)
		if err != nil {
			return nil, err
		}
		for _, n := range notes {
			if n.Time.After(req.TriggerTime) {
				break
			}
			if kw, ok := terminology.ContainsAny(n.Text, c.catalog.KeywordSet(terminology.SetCDiffRiskHistory)); ok {
				factors = append(factors, "history of "+kw)
				break
			}
		}
		return factors, nil
	})
}

func (c *CDiffTestingChecker) checkSymptomDuration(ctx context.Context, req Request) (models.CheckResult, error) {
	factors, err := c.RiskFactors(ctx, req)
	if err != nil {
		return models.CheckResult{}, err
	}
	if len(factors) > 0 {
		return notApplicable(req.Element.ID, "Risk factors present; duration criterion applies to low-risk patients"), nil
	}

	since := req.TriggerTime.Add(-cdiffSymptomLookback)
	var onset *time.Time
	notes, err := req.Context.Notes(ctx, since, nil)
	if err != nil {
		return models.CheckResult{}, err
	}
	if hits := notesMentioning(notes, c.catalog.KeywordSet(terminology.SetDiarrhea), req.TriggerTime); len(hits) > 0 {
		t := hits[0].Time
		onset = &t
	}
	vitals, err := req.Context.Vitals(ctx, since)
	if err != nil {
		return models.CheckResult{}, err
	}
	for _, v := range stoolVitals(vitals, c.catalog.KeywordSet(terminology.SetStoolVitals)) {
		if v.Value > 0 && !v.Time.After(req.TriggerTime) && (onset == nil || v.Time.Before(*onset)) {
			t := v.Time
			onset = &t
			break
		}
	}

	if onset == nil {
		if WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now) {
			return pending(req.Element.ID, "Symptom onset not documented"), nil
		}
		return notMet(req.Element.ID, "", "Symptom onset not documented"), nil
	}
	hours := req.TriggerTime.Sub(*onset).Hours()
	value := fmt.Sprintf("%.0f hours", hours)
	if hours >= c.thresholds.CDiffSymptomHours {
		return met(req.Element.ID, value, fmt.Sprintf("Diarrhea since %s", stamp(*onset)), req.TriggerTime), nil
	}
	return notMet(req.Element.ID, value, fmt.Sprintf("Diarrhea for less than %g hours in a low-risk patient", c.thresholds.CDiffSymptomHours)), nil
}

// Assess folds criterion statuses into an appropriateness verdict.
func (c *CDiffTestingChecker) Assess(elements []models.ElementResult) Appropriateness {
	var unmet, waiting, unassessable int
	for _, el := range elements {
		if !c.Supports(el.ElementID) {
			continue
		}
		switch el.Status {
		case models.ElementNotMet:
			unmet++
		case models.ElementPending:
			waiting++
		case models.ElementUnableToAssess:
			unassessable++
		}
	}
	switch {
	case unmet >= 3:
		return Inappropriate
	case waiting > 0:
		return AppropriatenessUnknown
	case unmet == 0 && unassessable > 0:
		return AppropriatenessUnknown
	case unmet == 0:
		return Appropriate
	default:
		return PotentiallyInappropriate
	}
}

// Advise implements Advisor. It stays silent for episodes of other bundles.
func (c *CDiffTestingChecker) Advise(elements []models.ElementResult) (string, bool) {
	owned := 0
	for _, el := range elements {
		if c.Supports(el.ElementID) {
			owned++
		}
	}
	if owned == 0 {
		return "", false
	}
	return "C. diff testing " + string(c.Assess(elements)), true
}

func stoolVitals(vitals []datasource.VitalSign, types []string) []datasource.VitalSign {
	var out []datasource.VitalSign
	for _, v := range vitals {
		if _, ok := terminology.ContainsAny(v.Type, types); ok {
			out = append(out, v)
		}
	}
	return out
}

func activeConditions(conditions []datasource.Condition) []datasource.Condition {
	var out []datasource.Condition
	for _, cond := range conditions {
		switch strings.ToLower(cond.ClinicalStatus) {
		case "", "active", "recurrence", "relapse":
			out = append(out, cond)
		}
	}
	return out
}
