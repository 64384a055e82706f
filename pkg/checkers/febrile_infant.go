package checkers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/nlp"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

// Lookback for pre-trigger evidence such as ED triage notes and initial labs.
const febrileInfantLookback = 24 * time.Hour

type gate int

const (
	gateNone gate = iota
	// gateMarkersOrIll applies when inflammatory markers are abnormal or the infant is ill-appearing.
	gateMarkersOrIll
	// gateLowRisk applies only to low-risk infants.
	gateLowRisk
)

type route int

const (
	routeLab route = iota
	routeMedication
	routeNote
	routeDischargeChecklist
)

type ageRule struct {
	minDays int
	maxDays int
	gate    gate
	route   route
}

var febrileInfantRules = map[string]ageRule{
	"fi_urinalysis":            {8, 60, gateNone, routeLab},
	"fi_blood_culture":         {8, 60, gateNone, routeLab},
	"fi_inflammatory_markers":  {8, 60, gateNone, routeLab},
	"fi_lp_8_21d":              {8, 21, gateNone, routeLab},
	"fi_lp_22_28d":             {22, 28, gateMarkersOrIll, routeLab},
	"fi_abx_8_21d":             {8, 21, gateNone, routeMedication},
	"fi_abx_22_28d":            {22, 28, gateMarkersOrIll, routeMedication},
	"fi_hsv_risk_assessment":   {8, 28, gateNone, routeNote},
	"fi_admission_8_21d":       {8, 21, gateNone, routeNote},
	"fi_safe_discharge_29_60d": {29, 60, gateLowRisk, routeDischargeChecklist},
}

type MarkerStatus string

const (
	MarkersUnknown  MarkerStatus = "unknown"
	MarkersNormal   MarkerStatus = "normal"
	MarkersAbnormal MarkerStatus = "abnormal"
)

type markerAssessment struct {
	Status   MarkerStatus
	Findings []string
	// Missing lists markers not yet resulted. A normal status is only
	// final once nothing is missing.
	Missing []string
}

func (m markerAssessment) settled() bool {
	return m.Status == MarkersAbnormal || len(m.Missing) == 0
}

// Impression is the derived clinical impression. Confidence is LOW or
// MEDIUM; Provenance records whether the assist or the keyword vote decided.
type Impression struct {
	IllAppearing bool
	Confidence   nlp.Confidence
	Provenance   nlp.Provenance
}

func (i Impression) String() string {
	label := "well-appearing"
	if i.IllAppearing {
		label = "ill-appearing"
	}
	return fmt.Sprintf("%s (confidence %s, %s)", label, i.Confidence, i.Provenance)
}

// FebrileInfantChecker applies the age-stratified febrile infant pathway.
type FebrileInfantChecker struct {
	catalog    terminology.Catalog
	thresholds config.Thresholds
	classifier nlp.Classifier
}

func NewFebrileInfantChecker(deps Deps) *FebrileInfantChecker {
	return &FebrileInfantChecker{catalog: deps.Catalog, thresholds: deps.Thresholds, classifier: deps.Classifier}
}

func (c *FebrileInfantChecker) Kind() bundles.CheckerKind {
	return bundles.KindFebrileInfant
}

func (c *FebrileInfantChecker) Supports(elementID string) bool {
	_, ok := febrileInfantRules[elementID]
	return ok
}

func (c *FebrileInfantChecker) Check(ctx context.Context, req Request) (models.CheckResult, error) {
	rule, ok := febrileInfantRules[req.Element.ID]
	if !ok {
		return models.CheckResult{}, configError(req.Element.ID, "not a febrile infant element")
	}

	age, err := req.Context.AgeDays(ctx, req)
	if err != nil {
		return models.CheckResult{}, err
	}
	if age == nil {
		return unable(req.Element.ID, "Age unknown; febrile infant pathway requires a birth date"), nil
	}
	if *age < rule.minDays || *age > rule.maxDays {
		return notApplicable(req.Element.ID, fmt.Sprintf("Applies to ages %d-%d days; patient is %d days (%.1f months)",
			rule.minDays, rule.maxDays, *age, MonthsFromDays(*age))), nil
	}

	if rule.gate != gateNone {
		result, proceed, err := c.applyGate(ctx, req, rule.gate)
		if err != nil || !proceed {
			return result, err
		}
	}

	switch rule.route {
	case routeLab:
		codes, err := elementLabCodes(c.catalog, req.Element.ID)
		if err != nil {
			return models.CheckResult{}, err
		}
		labs, err := req.Context.Labs(ctx, codes, req.TriggerTime)
		if err != nil {
			return models.CheckResult{}, err
		}
		return resolve(req, labEvidence(labs), "result"), nil
	case routeMedication:
		mapping, ok := c.catalog.Element(req.Element.ID)
		if !ok || len(mapping.MedicationKeywords) == 0 {
			return models.CheckResult{}, configError(req.Element.ID, "no medication keywords mapped")
		}
		found, err := medicationEvidence(ctx, req, mapping.MedicationKeywords, req.TriggerTime)
		if err != nil {
			return models.CheckResult{}, err
		}
		return resolve(req, found, "administration"), nil
	case routeNote:
		mapping, ok := c.catalog.Element(req.Element.ID)
		if !ok || len(mapping.NoteKeywords) == 0 {
			return models.CheckResult{}, configError(req.Element.ID, "no note keywords mapped")
		}
		found, err := noteEvidence(ctx, req, mapping.NoteKeywords, mapping.NoteTypes, req.TriggerTime)
		if err != nil {
			return models.CheckResult{}, err
		}
		return resolve(req, found, "documentation"), nil
	case routeDischargeChecklist:
		return c.checkDischargeChecklist(ctx, req)
	default:
		return models.CheckResult{}, configError(req.Element.ID, "unknown route %d", rule.route)
	}
}

// applyGate returns proceed=true when the conditional element applies.
func (c *FebrileInfantChecker) applyGate(ctx context.Context, req Request, g gate) (models.CheckResult, bool, error) {
	markers, err := c.Markers(ctx, req)
	if err != nil {
		return models.CheckResult{}, false, err
	}
	impression, err := c.Impression(ctx, req)
	if err != nil {
		return models.CheckResult{}, false, err
	}

	switch g {
	case gateMarkersOrIll:
		if markers.Status == MarkersAbnormal || impression.IllAppearing {
			return models.CheckResult{}, true, nil
		}
		if markers.Status == MarkersUnknown {
			return pendingOrUnable(req, "Inflammatory markers not resulted; applicability undetermined"), false, nil
		}
		if awaitingMarkers(req, markers) {
			return pending(req.Element.ID, "Resulted markers normal; awaiting "+strings.Join(markers.Missing, ", ")), false, nil
		}
		return notApplicable(req.Element.ID, "Conditional not met: inflammatory markers normal and "+impression.String()), false, nil
	case gateLowRisk:
		if markers.Status == MarkersUnknown {
			return pendingOrUnable(req, "Inflammatory markers not resulted; risk stratification undetermined"), false, nil
		}
		if markers.Status == MarkersAbnormal || impression.IllAppearing {
			reason := "inflammatory markers abnormal (" + strings.Join(markers.Findings, ", ") + ")"
			if markers.Status != MarkersAbnormal {
				reason = impression.String()
			}
			return notApplicable(req.Element.ID, "Conditional not met: not low risk, "+reason), false, nil
		}
		if awaitingMarkers(req, markers) {
			return pending(req.Element.ID, "Low risk provisional; awaiting "+strings.Join(markers.Missing, ", ")), false, nil
		}
		return models.CheckResult{}, true, nil
	default:
		return models.CheckResult{}, true, nil
	}
}

// awaitingMarkers reports whether a normal marker status may still change
// before the element window closes. After the window, partial results decide.
func awaitingMarkers(req Request, m markerAssessment) bool {
	return !m.settled() && WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now)
}

// Markers derives the inflammatory marker status once per patient per pass.
func (c *FebrileInfantChecker) Markers(ctx context.Context, req Request) (markerAssessment, error) {
	return memo(req.Context, "febrile_infant.markers", func(datasource.Source) (markerAssessment, error) {
		since := req.TriggerTime.Add(-febrileInfantLookback)
		until := req.TriggerTime.Add(febrileInfantLookback)
		t := c.thresholds
		var findings, missing []string
		resulted := false

		check := func(concept string, threshold float64, normalize func(datasource.LabResult) float64, label string) error {
			labs, err := conceptLabs(ctx, req, c.catalog, since, concept)
			if err != nil {
				return err
			}
			seen := false
			for _, l := range labs {
				if l.Value == nil || l.Time.After(until) {
					continue
				}
				seen = true
				if v := normalize(l); v > threshold {
					findings = append(findings, fmt.Sprintf("%s %g", label, v))
				}
			}
			if !seen {
				missing = append(missing, label)
			}
			resulted = resulted || seen
			return nil
		}
		raw := func(l datasource.LabResult) float64 { return *l.Value }

		if err := check(terminology.ConceptProcalcitonin, t.ProcalcitoninNgML, raw, "procalcitonin"); err != nil {
			return markerAssessment{}, err
		}
		if err := check(terminology.ConceptANC, t.ANCPerUL, normalizeANC, "ANC"); err != nil {
			return markerAssessment{}, err
		}
		if err := check(terminology.ConceptCRP, t.CRPMgDL, raw, "CRP"); err != nil {
			return markerAssessment{}, err
		}

		vitals, err := req.Context.Vitals(ctx, since)
		if err != nil {
			return markerAssessment{}, err
		}
		for _, v := range vitals {
			if strings.Contains(strings.ToLower(v.Type), "temp") && !v.Time.After(until) && v.Value > t.FebrileInfantTempC {
				findings = append(findings, fmt.Sprintf("temperature %gC", v.Value))
				break
			}
		}

		switch {
		case len(findings) > 0:
			return markerAssessment{Status: MarkersAbnormal, Findings: findings, Missing: missing}, nil
		case resulted:
			return markerAssessment{Status: MarkersNormal, Missing: missing}, nil
		default:
			return markerAssessment{Status: MarkersUnknown, Missing: missing}, nil
		}
	})
}

// Impression derives the ill/well-appearing signal once per patient per
// pass, preferring the classifier and falling back to a keyword vote.
func (c *FebrileInfantChecker) Impression(ctx context.Context, req Request) (Impression, error) {
	return memo(req.Context, "febrile_infant.impression", func(datasource.Source) (Impression, error) {
		notes, err := req.Context.Notes(ctx, req.TriggerTime.Add(-febrileInfantLookback), nil)
		if err != nil {
			return Impression{}, err
		}
		texts := noteTexts(notes)

		if c.classifier != nil && len(texts) > 0 {
			ext, err := c.classifier.Extract(ctx, texts)
			if err == nil {
				return Impression{IllAppearing: ext.IsHighRisk, Confidence: tier(ext.Confidence), Provenance: ext.Source}, nil
			}
			logger.WithField("patient_id", req.PatientID).WithError(err).Warn("Impression classifier failed, using keyword vote")
		}

		vote := nlp.KeywordVote(texts,
			c.catalog.KeywordSet(terminology.SetIllAppearing),
			c.catalog.KeywordSet(terminology.SetWellAppearing))
		return Impression{IllAppearing: vote.IsHighRisk, Confidence: tier(vote.Confidence), Provenance: nlp.ProvenanceKeyword}, nil
	})
}

func (c *FebrileInfantChecker) checkDischargeChecklist(ctx context.Context, req Request) (models.CheckResult, error) {
	items := []struct {
		label string
		set   string
	}{
		{"follow-up within 24h", terminology.SetDischargeFollowUp},
		{"caregiver education", terminology.SetDischargeEducation},
		{"return precautions", terminology.SetDischargeReturn},
		{"reliable contact", terminology.SetDischargeContact},
	}
	required := c.thresholds.DischargeChecklistMin
	if required <= 0 || required > len(items) {
		return models.CheckResult{}, configError(req.Element.ID, "discharge checklist minimum %d out of range", required)
	}

	notes, err := req.Context.Notes(ctx, req.TriggerTime, nil)
	if err != nil {
		return models.CheckResult{}, err
	}
	deadline := Deadline(req.TriggerTime, req.Element.WindowHours)
	documented := make(map[string]bool)
	var labels []string
	for _, n := range notes {
		if deadline != nil && n.Time.After(*deadline) {
			break
		}
		for _, item := range items {
			if documented[item.label] {
				continue
			}
			if _, ok := terminology.ContainsAny(n.Text, c.catalog.KeywordSet(item.set)); ok {
				documented[item.label] = true
				labels = append(labels, item.label)
			}
		}
		if len(documented) >= required {
			return met(req.Element.ID, fmt.Sprintf("%d of %d items", len(documented), len(items)),
				"Documented: "+strings.Join(labels, ", "), n.Time), nil
		}
	}

	summary := fmt.Sprintf("Discharge checklist %d of %d items documented, %d required", len(documented), len(items), required)
	if WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now) {
		return pending(req.Element.ID, summary), nil
	}
	return notMet(req.Element.ID, fmt.Sprintf("%d of %d items", len(documented), len(items)), summary), nil
}

// tier collapses classifier confidence to LOW or MEDIUM.
func tier(c nlp.Confidence) nlp.Confidence {
	if c == nlp.ConfidenceHigh || c == nlp.ConfidenceMedium {
		return nlp.ConfidenceMedium
	}
	return nlp.ConfidenceLow
}

// normalizeANC converts counts reported in thousands per uL.
func normalizeANC(l datasource.LabResult) float64 {
	v := *l.Value
	unit := strings.ToLower(l.Unit)
	if strings.Contains(unit, "10*3") || strings.Contains(unit, "10^3") || strings.HasPrefix(unit, "k/") || v < 100 {
		return v * 1000
	}
	return v
}
