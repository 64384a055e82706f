package checkers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/nlp"
)

const febrileInfant = "febrile_infant_2024"

func TestFebrileInfantAgeGate(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 29)

	res := check(t, NewFebrileInfantChecker(testDeps()), request(src, element(t, febrileInfant, "fi_lp_8_21d"), "p1", t0.Add(time.Hour)))
	if res.Status != models.ElementNotApplicable {
		t.Fatalf("expected NOT_APPLICABLE, got %s", res.Status)
	}
	if !strings.Contains(res.Notes, "29 days") || !strings.Contains(res.Notes, "1.0 months") {
		t.Fatalf("notes should cite the patient age: %q", res.Notes)
	}
}

func TestFebrileInfantUnknownAge(t *testing.T) {
	src := datasource.NewMemorySource()
	src.AddPatient(datasource.Patient{ID: "p1"})

	res := check(t, NewFebrileInfantChecker(testDeps()), request(src, element(t, febrileInfant, "fi_urinalysis"), "p1", t0))
	if res.Status != models.ElementUnableToAssess {
		t.Fatalf("expected UNABLE_TO_ASSESS, got %s", res.Status)
	}
}

func TestFebrileInfantConditionalLP(t *testing.T) {
	el := element(t, febrileInfant, "fi_lp_22_28d")
	c := NewFebrileInfantChecker(testDeps())

	t.Run("normal markers well appearing", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 25)
		src.AddLab("p1", datasource.LabResult{Code: "33959-8", Value: num(0.1), Time: t0.Add(-time.Hour)})
		src.AddLab("p1", datasource.LabResult{Code: "1988-5", Value: num(0.4), Time: t0.Add(-time.Hour)})
		src.AddLab("p1", datasource.LabResult{Code: "751-8", Value: num(2.5), Unit: "10*3/uL", Time: t0.Add(-time.Hour)})
		src.AddNote("p1", datasource.Note{ID: "n1", Type: "ED provider", Text: "Well-appearing infant, feeding well", Time: t0.Add(-30 * time.Minute)})

		res := check(t, c, request(src, el, "p1", t0.Add(time.Hour)))
		if res.Status != models.ElementNotApplicable {
			t.Fatalf("expected NOT_APPLICABLE, got %s (%s)", res.Status, res.Notes)
		}
	})

	t.Run("elevated procalcitonin requires LP", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 25)
		src.AddLab("p1", datasource.LabResult{Code: "33959-8", Value: num(1.6), Time: t0.Add(-time.Hour)})
		src.AddLab("p1", datasource.LabResult{Code: "26465-5", Value: num(4), Time: t0.Add(3 * time.Hour)})

		res := check(t, c, request(src, el, "p1", t0.Add(4*time.Hour)))
		if res.Status != models.ElementMet {
			t.Fatalf("expected MET, got %s (%s)", res.Status, res.Notes)
		}
	})

	t.Run("one normal marker waits for the rest", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 25)
		src.AddLab("p1", datasource.LabResult{Code: "1988-5", Value: num(0.4), Time: t0.Add(30 * time.Minute)})
		abx := element(t, febrileInfant, "fi_abx_22_28d")

		for _, e := range []string{"fi_lp_22_28d", "fi_abx_22_28d"} {
			res := check(t, c, request(src, element(t, febrileInfant, e), "p1", t0.Add(time.Hour)))
			if res.Status != models.ElementPending {
				t.Fatalf("%s: expected PENDING with procalcitonin and ANC outstanding, got %s (%s)", e, res.Status, res.Notes)
			}
		}

		src.AddLab("p1", datasource.LabResult{Code: "33959-8", Value: num(1.6), Time: t0.Add(2 * time.Hour)})
		src.AddLab("p1", datasource.LabResult{Code: "26465-5", Value: num(4), Time: t0.Add(150 * time.Minute)})
		if res := check(t, c, request(src, el, "p1", t0.Add(3*time.Hour))); res.Status != models.ElementMet {
			t.Fatalf("abnormal procalcitonin should require LP, got %s (%s)", res.Status, res.Notes)
		}
		if res := check(t, c, request(src, abx, "p1", t0.Add(3*time.Hour))); res.Status != models.ElementPending {
			t.Fatalf("abnormal procalcitonin should require antibiotics, got %s (%s)", res.Status, res.Notes)
		}
	})

	t.Run("partial normal markers decide after the window", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 25)
		src.AddLab("p1", datasource.LabResult{Code: "1988-5", Value: num(0.4), Time: t0.Add(30 * time.Minute)})
		src.AddNote("p1", datasource.Note{ID: "n1", Text: "Well-appearing infant", Time: t0})

		res := check(t, c, request(src, el, "p1", t0.Add(25*time.Hour)))
		if res.Status != models.ElementNotApplicable {
			t.Fatalf("expected NOT_APPLICABLE after window, got %s (%s)", res.Status, res.Notes)
		}
	})

	t.Run("markers not resulted stays pending", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 25)

		res := check(t, c, request(src, el, "p1", t0.Add(time.Hour)))
		if res.Status != models.ElementPending {
			t.Fatalf("expected PENDING, got %s", res.Status)
		}
	})
}

type failingClassifier struct{}

func (failingClassifier) Extract(context.Context, []string) (nlp.Extraction, error) {
	return nlp.Extraction{}, errors.New("assist down")
}

func TestFebrileInfantImpressionFallsBackToKeywords(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 25)
	src.AddNote("p1", datasource.Note{ID: "n1", Text: "Infant lethargic and mottled", Time: t0.Add(-time.Hour)})

	deps := testDeps()
	deps.Classifier = failingClassifier{}
	c := NewFebrileInfantChecker(deps)
	req := request(src, element(t, febrileInfant, "fi_abx_22_28d"), "p1", t0.Add(time.Hour))

	imp, err := c.Impression(context.Background(), req)
	if err != nil {
		t.Fatalf("impression: %v", err)
	}
	if !imp.IllAppearing || imp.Provenance != nlp.ProvenanceKeyword || imp.Confidence != nlp.ConfidenceMedium {
		t.Fatalf("unexpected impression %+v", imp)
	}

	res := check(t, c, req)
	if res.Status != models.ElementPending {
		t.Fatalf("ill-appearing infant needs antibiotics; expected PENDING, got %s (%s)", res.Status, res.Notes)
	}
}

func TestFebrileInfantSafeDischarge(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 45)
	src.AddLab("p1", datasource.LabResult{Code: "33959-8", Value: num(0.1), Time: t0.Add(-time.Hour)})
	src.AddLab("p1", datasource.LabResult{Code: "1988-5", Value: num(0.3), Time: t0.Add(-time.Hour)})
	src.AddLab("p1", datasource.LabResult{Code: "751-8", Value: num(2.1), Unit: "10*3/uL", Time: t0.Add(-time.Hour)})
	src.AddNote("p1", datasource.Note{ID: "n1", Text: "Well appearing. Return precautions reviewed.", Time: t0.Add(2 * time.Hour)})
	src.AddNote("p1", datasource.Note{ID: "n2", Text: "Family verbalized understanding. Follow-up appointment booked.", Time: t0.Add(5 * time.Hour)})

	res := check(t, NewFebrileInfantChecker(testDeps()), request(src, element(t, febrileInfant, "fi_safe_discharge_29_60d"), "p1", t0.Add(6*time.Hour)))
	if res.Status != models.ElementMet {
		t.Fatalf("expected MET, got %s (%s)", res.Status, res.Notes)
	}
	if res.Value != "3 of 4 items" || !res.CompletedAt.Equal(t0.Add(5*time.Hour)) {
		t.Fatalf("unexpected checklist result %+v", res)
	}
}

const hsvBundle = "neonatal_hsv_2024"

func TestHSVTreatmentDuration(t *testing.T) {
	el := element(t, hsvBundle, "hsv_treatment_duration")
	c := NewNeonatalHSVChecker(testDeps())

	t.Run("CSF pleocytosis is CNS disease", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 12)
		src.AddLab("p1", datasource.LabResult{Code: "26465-5", Value: num(85), Time: t0.Add(2 * time.Hour)})
		src.AddLab("p1", datasource.LabResult{Code: "16955-9", ValueText: "Not detected", Time: t0.Add(6 * time.Hour)})

		res := check(t, c, request(src, el, "p1", t0.Add(8*time.Hour)))
		if res.Status != models.ElementMet || res.Value != "21 days" {
			t.Fatalf("expected MET 21 days, got %s %q", res.Status, res.Value)
		}
	})

	t.Run("normal CSF is SEM disease", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 12)
		src.AddLab("p1", datasource.LabResult{Code: "26465-5", Value: num(5), Time: t0.Add(2 * time.Hour)})
		src.AddLab("p1", datasource.LabResult{Code: "16955-9", ValueText: "Not detected", Time: t0.Add(6 * time.Hour)})

		req := request(src, el, "p1", t0.Add(8*time.Hour))
		res := check(t, c, req)
		if res.Status != models.ElementMet || res.Value != "14 days" {
			t.Fatalf("expected MET 14 days, got %s %q", res.Status, res.Value)
		}
		neuro := check(t, c, Request{Element: element(t, hsvBundle, "hsv_neuroimaging"), PatientID: "p1", TriggerTime: t0, Now: req.Now, Context: req.Context})
		if neuro.Status != models.ElementNotApplicable {
			t.Fatalf("neuroimaging should not apply to SEM disease, got %s", neuro.Status)
		}
	})

	t.Run("negative blood PCR alone is provisional", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 10)
		src.AddLab("p1", datasource.LabResult{Code: "49987-1", ValueText: "Not detected", Time: t0.Add(time.Hour)})
		neuroEl := element(t, hsvBundle, "hsv_neuroimaging")

		if res := check(t, c, request(src, el, "p1", t0.Add(2*time.Hour))); res.Status != models.ElementPending {
			t.Fatalf("expected PENDING while CSF outstanding, got %s %q", res.Status, res.Value)
		}
		if res := check(t, c, request(src, neuroEl, "p1", t0.Add(2*time.Hour))); res.Status != models.ElementPending {
			t.Fatalf("neuroimaging should wait for CSF, got %s", res.Status)
		}

		src.AddLab("p1", datasource.LabResult{Code: "26465-5", Value: num(80), Time: t0.Add(5 * time.Hour)})
		res := check(t, c, request(src, el, "p1", t0.Add(6*time.Hour)))
		if res.Status != models.ElementMet || res.Value != "21 days" {
			t.Fatalf("expected MET 21 days after pleocytosis, got %s %q", res.Status, res.Value)
		}
		if res := check(t, c, request(src, neuroEl, "p1", t0.Add(6*time.Hour))); res.Status != models.ElementPending {
			t.Fatalf("CNS disease needs neuroimaging, got %s (%s)", res.Status, res.Notes)
		}
	})

	t.Run("provisional SEM resolves when the window closes", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 10)
		src.AddLab("p1", datasource.LabResult{Code: "49987-1", ValueText: "Not detected", Time: t0.Add(time.Hour)})

		res := check(t, c, request(src, el, "p1", t0.Add(73*time.Hour)))
		if res.Status != models.ElementMet || res.Value != "14 days" || !strings.Contains(res.Notes, "partial results") {
			t.Fatalf("expected MET 14 days on partial results, got %s %q (%s)", res.Status, res.Value, res.Notes)
		}
	})

	t.Run("no CSF or blood data waits", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 12)
		res := check(t, c, request(src, el, "p1", t0.Add(8*time.Hour)))
		if res.Status != models.ElementPending {
			t.Fatalf("expected PENDING, got %s", res.Status)
		}
	})
}

func TestHSVDisseminated(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 9)
	src.AddLab("p1", datasource.LabResult{Code: "1742-6", Value: num(340), Time: t0.Add(time.Hour)})
	src.AddLab("p1", datasource.LabResult{Code: "49987-1", ValueText: "Detected", Time: t0.Add(5 * time.Hour)})

	c := NewNeonatalHSVChecker(testDeps())
	req := request(src, element(t, hsvBundle, "hsv_treatment_duration"), "p1", t0.Add(6*time.Hour))
	class, err := c.Classify(context.Background(), req)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if class != HSVDisseminated {
		t.Fatalf("expected disseminated, got %s", class)
	}
}

func TestHSVOphthalmologyNeedsOcularFindings(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 9)
	el := element(t, hsvBundle, "hsv_ophthalmology")
	c := NewNeonatalHSVChecker(testDeps())

	if res := check(t, c, request(src, el, "p1", t0.Add(2*time.Hour))); res.Status != models.ElementPending {
		t.Fatalf("expected PENDING while findings may still be documented, got %s", res.Status)
	}
	if res := check(t, c, request(src, el, "p1", t0.Add(49*time.Hour))); res.Status != models.ElementNotApplicable {
		t.Fatalf("expected NOT_APPLICABLE after window without ocular findings, got %s", res.Status)
	}

	src.AddNote("p1", datasource.Note{ID: "n1", Text: "Left eye conjunctivitis with periocular vesicle", Time: t0.Add(2 * time.Hour)})
	if res := check(t, c, request(src, el, "p1", t0.Add(3*time.Hour))); res.Status != models.ElementPending {
		t.Fatalf("expected PENDING awaiting consult, got %s", res.Status)
	}
}

const cdiffBundle = "cdiff_testing_2024"

func TestCDiffAge(t *testing.T) {
	el := element(t, cdiffBundle, "cdiff_age")
	c := NewCDiffTestingChecker(testDeps())

	src := datasource.NewMemorySource()
	patientAged(src, "p1", 731)
	res := check(t, c, request(src, el, "p1", t0))
	if res.Status != models.ElementNotMet {
		t.Fatalf("expected NOT_MET for a 2 year old, got %s", res.Status)
	}
	if !strings.Contains(res.Notes, "3 years") {
		t.Fatalf("notes should cite the age threshold: %q", res.Notes)
	}

	src.AddNote("p1", datasource.Note{ID: "n1", Text: "ID approved testing given recent outbreak", Time: t0.Add(-2 * 24 * time.Hour)})
	res = check(t, c, request(src, el, "p1", t0))
	if res.Status != models.ElementMet {
		t.Fatalf("expected MET with documented exception, got %s", res.Status)
	}
}

func TestCDiffExposuresAndAssessment(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 3650)
	src.AddMedication("p1", datasource.MedicationAdministration{Name: "Polyethylene glycol 17 g", Time: t0.Add(-20 * time.Hour)})
	src.AddMedication("p1", datasource.MedicationAdministration{Name: "Cefazolin", Time: t0.Add(-10 * 24 * time.Hour)})
	src.AddVital("p1", datasource.VitalSign{Type: "stool_count", Value: 1, Time: t0.Add(-6 * time.Hour)})

	c := NewCDiffTestingChecker(testDeps())
	var results []models.ElementResult
	for _, id := range []string{"cdiff_age", "cdiff_stool_frequency", "cdiff_no_laxatives", "cdiff_no_contrast",
		"cdiff_no_tube_feed_change", "cdiff_no_gi_bleed", "cdiff_risk_factor", "cdiff_symptom_duration"} {
		res := check(t, c, request(src, element(t, cdiffBundle, id), "p1", t0.Add(time.Hour)))
		results = append(results, models.ElementResult{ElementID: id, Status: res.Status})
	}

	want := map[string]models.ElementStatus{
		"cdiff_age":              models.ElementMet,
		"cdiff_stool_frequency":  models.ElementNotMet,
		"cdiff_no_laxatives":     models.ElementNotMet,
		"cdiff_no_contrast":      models.ElementMet,
		"cdiff_risk_factor":      models.ElementMet,
		"cdiff_symptom_duration": models.ElementNotApplicable,
	}
	for _, r := range results {
		if w, ok := want[r.ElementID]; ok && r.Status != w {
			t.Fatalf("%s: expected %s, got %s", r.ElementID, w, r.Status)
		}
	}
	if got := c.Assess(results); got != PotentiallyInappropriate {
		t.Fatalf("expected potentially inappropriate, got %s", got)
	}
	advice, ok := c.Advise(results)
	if !ok || advice != "C. diff testing potentially_inappropriate" {
		t.Fatalf("unexpected advisory %q", advice)
	}
}

func TestCDiffAssess(t *testing.T) {
	c := NewCDiffTestingChecker(testDeps())
	el := func(id string, s models.ElementStatus) models.ElementResult {
		return models.ElementResult{ElementID: id, Status: s}
	}

	cases := []struct {
		name string
		in   []models.ElementResult
		want Appropriateness
	}{
		{"all met", []models.ElementResult{el("cdiff_age", models.ElementMet), el("cdiff_no_gi_bleed", models.ElementMet)}, Appropriate},
		{"three unmet", []models.ElementResult{
			el("cdiff_age", models.ElementNotMet), el("cdiff_no_laxatives", models.ElementNotMet),
			el("cdiff_no_contrast", models.ElementNotMet), el("cdiff_stool_frequency", models.ElementPending),
		}, Inappropriate},
		{"pending", []models.ElementResult{el("cdiff_age", models.ElementNotMet), el("cdiff_stool_frequency", models.ElementPending)}, AppropriatenessUnknown},
		{"unable", []models.ElementResult{el("cdiff_age", models.ElementUnableToAssess), el("cdiff_no_gi_bleed", models.ElementMet)}, AppropriatenessUnknown},
	}
	for _, tc := range cases {
		if got := c.Assess(tc.in); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}

	if _, ok := c.Advise([]models.ElementResult{el("sepsis_lactate", models.ElementMet)}); ok {
		t.Fatalf("advisory should be silent for other bundles")
	}
}
