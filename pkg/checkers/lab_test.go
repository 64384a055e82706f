package checkers

import (
	"strings"
	"testing"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
)

func TestBloodCultureWithinWindowIsMet(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 2000)
	drawn := t0.Add(2 * time.Hour)
	src.AddLab("p1", datasource.LabResult{Code: "600-7", Display: "Blood culture", ValueText: "pending", Time: drawn})

	res := check(t, NewLabChecker(testDeps()), request(src, element(t, "sepsis_peds_2024", "sepsis_blood_culture"), "p1", t0.Add(2*time.Hour+time.Minute)))
	if res.Status != models.ElementMet {
		t.Fatalf("expected MET, got %s (%s)", res.Status, res.Notes)
	}
	if res.CompletedAt == nil || !res.CompletedAt.Equal(drawn) {
		t.Fatalf("completed_at should be the result time, got %v", res.CompletedAt)
	}
}

func TestBloodCulturePendingThenNotMet(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 2000)
	el := element(t, "sepsis_peds_2024", "sepsis_blood_culture")
	c := NewLabChecker(testDeps())

	if res := check(t, c, request(src, el, "p1", t0.Add(time.Hour))); res.Status != models.ElementPending {
		t.Fatalf("expected PENDING inside window, got %s", res.Status)
	}

	src.AddLab("p1", datasource.LabResult{Code: "600-7", ValueText: "pending", Time: t0.Add(4 * time.Hour)})
	res := check(t, c, request(src, el, "p1", t0.Add(5*time.Hour)))
	if res.Status != models.ElementNotMet {
		t.Fatalf("expected NOT_MET after deadline, got %s", res.Status)
	}
	if !strings.Contains(res.Notes, "after deadline") {
		t.Fatalf("notes should explain the late result: %q", res.Notes)
	}
}

func TestRepeatLactate(t *testing.T) {
	el := element(t, "sepsis_peds_2024", RepeatLactateElementID)
	c := NewLabChecker(testDeps())

	t.Run("normal initial is not applicable", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 2000)
		src.AddLab("p1", datasource.LabResult{Code: "2524-7", Value: num(1.8), Time: t0.Add(30 * time.Minute)})
		src.AddLab("p1", datasource.LabResult{Code: "2524-7", Value: num(1.2), Time: t0.Add(3 * time.Hour)})

		res := check(t, c, request(src, el, "p1", t0.Add(7*time.Hour)))
		if res.Status != models.ElementNotApplicable {
			t.Fatalf("expected NOT_APPLICABLE, got %s", res.Status)
		}
	})

	t.Run("elevated initial with repeat is met", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 2000)
		src.AddLab("p1", datasource.LabResult{Code: "2524-7", Value: num(5.0), Time: t0.Add(30 * time.Minute)})
		src.AddLab("p1", datasource.LabResult{Code: "2524-7", Value: num(2.4), Time: t0.Add(4 * time.Hour)})

		res := check(t, c, request(src, el, "p1", t0.Add(5*time.Hour)))
		if res.Status != models.ElementMet {
			t.Fatalf("expected MET, got %s (%s)", res.Status, res.Notes)
		}
		if !res.CompletedAt.Equal(t0.Add(4 * time.Hour)) {
			t.Fatalf("completed_at should be the repeat draw, got %v", res.CompletedAt)
		}
	})

	t.Run("no initial result waits", func(t *testing.T) {
		src := datasource.NewMemorySource()
		patientAged(src, "p1", 2000)
		res := check(t, c, request(src, el, "p1", t0.Add(time.Hour)))
		if res.Status != models.ElementPending {
			t.Fatalf("expected PENDING, got %s", res.Status)
		}
	})
}

func TestMedicationIgnoresNotGiven(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 2000)
	src.AddMedication("p1", datasource.MedicationAdministration{Name: "Ceftriaxone 50 mg/kg", Status: "not-done", Time: t0.Add(10 * time.Minute)})
	src.AddMedication("p1", datasource.MedicationAdministration{Name: "Ceftriaxone 50 mg/kg", Status: "completed", Time: t0.Add(40 * time.Minute)})

	res := check(t, NewMedicationChecker(testDeps()), request(src, element(t, "sepsis_peds_2024", "sepsis_antibiotics"), "p1", t0.Add(2*time.Hour)))
	if res.Status != models.ElementMet || !res.CompletedAt.Equal(t0.Add(40*time.Minute)) {
		t.Fatalf("expected MET at the given administration, got %s %v", res.Status, res.CompletedAt)
	}
}

func TestNoteCheckerHonorsNoteTypes(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 2000)
	src.AddNote("p1", datasource.Note{ID: "n1", Type: "nursing", Text: "Sepsis reassessment done", Time: t0.Add(time.Hour)})
	el := element(t, "sepsis_peds_2024", "sepsis_reassessment")
	c := NewNoteChecker(testDeps())

	if res := check(t, c, request(src, el, "p1", t0.Add(2*time.Hour))); res.Status != models.ElementPending {
		t.Fatalf("nursing note should not count, got %s", res.Status)
	}

	src.AddNote("p1", datasource.Note{ID: "n2", Type: "Progress Note", Text: "Sepsis reassessment: perfusion improved", Time: t0.Add(3 * time.Hour)})
	if res := check(t, c, request(src, el, "p1", t0.Add(4*time.Hour))); res.Status != models.ElementMet {
		t.Fatalf("expected MET from progress note, got %s", res.Status)
	}
}
