package datasource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindPatientsByConditionAgeFilter(t *testing.T) {
	src := NewMemorySource()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	young := t0.AddDate(0, 0, -15)
	older := t0.AddDate(0, 0, -90)
	src.AddPatient(Patient{ID: "p1", BirthDate: &young})
	src.AddPatient(Patient{ID: "p2", BirthDate: &older})
	src.AddCondition("p1", Condition{Code: "R50.9", EncounterID: "e1", RecordedTime: t0})
	src.AddCondition("p2", Condition{Code: "R50.9", EncounterID: "e2", RecordedTime: t0})
	src.AddCondition("p2", Condition{Code: "R50.9", ClinicalStatus: "resolved", RecordedTime: t0})

	minAge, maxAge := 8, 60
	got, err := src.FindPatientsByCondition(context.Background(), []string{"R50"}, &minAge, &maxAge)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].PatientID != "p1" || *got[0].AgeDays != 15 {
		t.Fatalf("unexpected candidates %+v", got)
	}

	got, _ = src.FindPatientsByCondition(context.Background(), []string{"R50"}, nil, nil)
	if len(got) != 2 {
		t.Fatalf("expected resolved condition to be skipped, got %d", len(got))
	}
}

func TestGetLabResultsFiltersAndSorts(t *testing.T) {
	src := NewMemorySource()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	v1, v2 := 3.1, 1.2
	src.AddLab("p1", LabResult{Code: "2524-7", Value: &v1, Time: t0.Add(2 * time.Hour)})
	src.AddLab("p1", LabResult{Code: "2524-7", Value: &v2, Time: t0.Add(time.Hour)})
	src.AddLab("p1", LabResult{Code: "2524-7", Value: &v2, Time: t0.Add(-time.Hour)})
	src.AddLab("p1", LabResult{Code: "600-7", ValueText: "pending", Time: t0})

	labs, err := src.GetLabResults(context.Background(), "p1", []string{"2524-7"}, t0)
	if err != nil {
		t.Fatalf("labs: %v", err)
	}
	if len(labs) != 2 || !labs[0].Time.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected labs %+v", labs)
	}
	if src.Calls("GetLabResults") != 1 {
		t.Fatalf("expected one recorded call")
	}
}

func TestUnavailable(t *testing.T) {
	src := NewMemorySource()
	src.SetUnavailable(true)
	_, err := src.GetVitalSigns(context.Background(), "p1", time.Time{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	src.SetUnavailable(false)
	if _, err := src.GetVitalSigns(context.Background(), "p1", time.Time{}); err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
}

func TestLabResultPositive(t *testing.T) {
	cases := map[string]bool{
		"Detected":     true,
		"Not Detected": false,
		"NEGATIVE":     false,
		"Positive":     true,
		"":             false,
	}
	for text, want := range cases {
		if got := (LabResult{ValueText: text}).Positive(); got != want {
			t.Fatalf("Positive(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	content := `patients:
  - id: p1
    mrn: "MRN001"
    name: Baby Doe
    birth_date: 2024-04-16T00:00:00Z
    conditions:
      - code: R50.9
        display: Fever
        encounter_id: enc-1
        recorded_time: 2024-05-01T10:00:00Z
    notes:
      - id: n1
        type: ED Provider Note
        text: Well-appearing infant
        time: 2024-05-01T11:00:00Z
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := src.GetPatient(context.Background(), "p1")
	if err != nil || p.MRN != "MRN001" || p.BirthDate == nil {
		t.Fatalf("unexpected patient %+v err=%v", p, err)
	}
	notes, _ := src.GetRecentNotes(context.Background(), "p1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), []string{"ed provider"})
	if len(notes) != 1 {
		t.Fatalf("expected one note, got %d", len(notes))
	}
	if _, err := src.GetPatient(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
