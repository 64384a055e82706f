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

const hsvLookback = 24 * time.Hour

// HSVClassification is the derived neonatal HSV disease category.
type HSVClassification string

const (
	HSVUnknown      HSVClassification = "unknown"
	HSVSEM          HSVClassification = "SEM"
	HSVCNS          HSVClassification = "CNS"
	HSVDisseminated HSVClassification = "disseminated"
)

// TreatmentDays is the recommended acyclovir course for a classification.
func (c HSVClassification) TreatmentDays() int {
	switch c {
	case HSVSEM:
		return 14
	case HSVCNS, HSVDisseminated:
		return 21
	default:
		return 0
	}
}

const (
	hsvOphthalmology     = "hsv_ophthalmology"
	hsvNeuroimaging      = "hsv_neuroimaging"
	hsvTreatmentDuration = "hsv_treatment_duration"
)

var hsvRoutes = map[string]route{
	"hsv_csf_pcr":          routeLab,
	"hsv_blood_pcr":        routeLab,
	"hsv_surface_cultures": routeLab,
	"hsv_lfts":             routeLab,
	"hsv_acyclovir":        routeMedication,
	"hsv_id_consult":       routeNote,
	hsvOphthalmology:       routeNote,
	hsvNeuroimaging:        routeNote,
	hsvTreatmentDuration:   routeNote,
}

// NeonatalHSVChecker evaluates the neonatal HSV bundle, deriving disease
// classification to decide conditional elements and treatment duration.
type NeonatalHSVChecker struct {
	catalog    terminology.Catalog
	thresholds config.Thresholds
}

func NewNeonatalHSVChecker(deps Deps) *NeonatalHSVChecker {
	return &NeonatalHSVChecker{catalog: deps.Catalog, thresholds: deps.Thresholds}
}

func (c *NeonatalHSVChecker) Kind() bundles.CheckerKind {
	return bundles.KindNeonatalHSV
}

func (c *NeonatalHSVChecker) Supports(elementID string) bool {
	_, ok := hsvRoutes[elementID]
	return ok
}

func (c *NeonatalHSVChecker) Check(ctx context.Context, req Request) (models.CheckResult, error) {
	r, ok := hsvRoutes[req.Element.ID]
	if !ok {
		return models.CheckResult{}, configError(req.Element.ID, "not a neonatal HSV element")
	}

	switch req.Element.ID {
	case hsvOphthalmology:
		notes, err := req.Context.Notes(ctx, req.TriggerTime.Add(-hsvLookback), nil)
		if err != nil {
			return models.CheckResult{}, err
		}
		if len(notesMentioning(notes, c.catalog.KeywordSet(terminology.SetOcularFindings), req.Now)) == 0 {
			if WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now) {
				return pending(req.Element.ID, "No ocular findings documented yet"), nil
			}
			return notApplicable(req.Element.ID, "No ocular findings documented"), nil
		}
	case hsvNeuroimaging:
		a, err := c.classification(ctx, req)
		if err != nil {
			return models.CheckResult{}, err
		}
		if waiting, ok := c.awaitClassification(req, a); ok {
			return waiting, nil
		}
		switch a.Class {
		case HSVUnknown:
			return pendingOrUnable(req, "HSV classification undetermined; CSF and blood results pending"), nil
		case HSVSEM:
			return notApplicable(req.Element.ID, "Skin, eye, mouth disease; neuroimaging not indicated"+a.basis()), nil
		}
	case hsvTreatmentDuration:
		return c.checkTreatmentDuration(ctx, req)
	}

	switch r {
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
	default:
		mapping, ok := c.catalog.Element(req.Element.ID)
		if !ok || len(mapping.NoteKeywords) == 0 {
			return models.CheckResult{}, configError(req.Element.ID, "no note keywords mapped")
		}
		found, err := noteEvidence(ctx, req, mapping.NoteKeywords, mapping.NoteTypes, req.TriggerTime)
		if err != nil {
			return models.CheckResult{}, err
		}
		return resolve(req, found, "documentation"), nil
	}
}

func (c *NeonatalHSVChecker) checkTreatmentDuration(ctx context.Context, req Request) (models.CheckResult, error) {
	a, err := c.classification(ctx, req)
	if err != nil {
		return models.CheckResult{}, err
	}
	if waiting, ok := c.awaitClassification(req, a); ok {
		return waiting, nil
	}
	if a.Class == HSVUnknown {
		return pendingOrUnable(req, "HSV classification undetermined; treatment duration cannot be set"), nil
	}
	days := a.Class.TreatmentDays()
	return met(req.Element.ID, fmt.Sprintf("%d days", days),
		fmt.Sprintf("Classification %s; recommended acyclovir course %d days%s", a.Class, days, a.basis()), req.Now), nil
}

// hsvAssessment is a classification plus the CSF studies still outstanding.
// CNS and disseminated findings are final; SEM is provisional until the CSF
// has resulted because pleocytosis or a positive CSF PCR would upgrade it.
type hsvAssessment struct {
	Class   HSVClassification
	Missing []string
}

func (a hsvAssessment) provisional() bool {
	return a.Class == HSVSEM && len(a.Missing) > 0
}

func (a hsvAssessment) basis() string {
	if !a.provisional() {
		return ""
	}
	return "; based on partial results, " + strings.Join(a.Missing, " and ") + " not resulted"
}

// awaitClassification holds classification-driven elements pending while
// the classification is provisional and the element window is open.
func (c *NeonatalHSVChecker) awaitClassification(req Request, a hsvAssessment) (models.CheckResult, bool) {
	if !a.provisional() || !WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now) {
		return models.CheckResult{}, false
	}
	return pending(req.Element.ID, "Provisional SEM classification; awaiting "+strings.Join(a.Missing, ", ")), true
}

// Classify derives the HSV classification once per patient per pass.
func (c *NeonatalHSVChecker) Classify(ctx context.Context, req Request) (HSVClassification, error) {
	a, err := c.classification(ctx, req)
	return a.Class, err
}

func (c *NeonatalHSVChecker) classification(ctx context.Context, req Request) (hsvAssessment, error) {
	return memo(req.Context, "hsv.classification", func(datasource.Source) (hsvAssessment, error) {
		since := req.TriggerTime.Add(-hsvLookback)
		unknown := hsvAssessment{Class: HSVUnknown}

		csfPCR, err := conceptLabs(ctx, req, c.catalog, since, terminology.ConceptCSFHSVPCR)
		if err != nil {
			return unknown, err
		}
		bloodPCR, err := conceptLabs(ctx, req, c.catalog, since, terminology.ConceptBloodHSVPCR)
		if err != nil {
			return unknown, err
		}
		csfWBC, err := conceptLabs(ctx, req, c.catalog, since, terminology.ConceptCSFWBC)
		if err != nil {
			return unknown, err
		}
		alt, err := conceptLabs(ctx, req, c.catalog, since, terminology.ConceptALT)
		if err != nil {
			return unknown, err
		}

		var missing []string
		if !anyValue(csfWBC) {
			missing = append(missing, "CSF WBC")
		}
		if len(csfPCR) == 0 {
			missing = append(missing, "CSF HSV PCR")
		}

		switch {
		case anyAbove(alt, c.thresholds.ALTElevatedUL) && anyPositive(bloodPCR):
			return hsvAssessment{Class: HSVDisseminated}, nil
		case anyPositive(csfPCR) || anyAbove(csfWBC, c.thresholds.CSFWBCPleocytosis):
			return hsvAssessment{Class: HSVCNS}, nil
		case len(csfPCR) == 0 && len(bloodPCR) == 0 && len(csfWBC) == 0:
			return hsvAssessment{Class: HSVUnknown, Missing: missing}, nil
		}
		return hsvAssessment{Class: HSVSEM, Missing: missing}, nil
	})
}

func anyValue(labs []datasource.LabResult) bool {
	for _, l := range labs {
		if l.Value != nil {
			return true
		}
	}
	return false
}

func anyPositive(labs []datasource.LabResult) bool {
	for _, l := range labs {
		if l.Positive() {
			return true
		}
	}
	return false
}

func anyAbove(labs []datasource.LabResult, threshold float64) bool {
	for _, l := range labs {
		if l.Value != nil && *l.Value > threshold {
			return true
		}
	}
	return false
}
