package fhir

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/datasource"
)

const conditionBundle = `{
  "resourceType": "Bundle",
  "type": "searchset",
  "entry": [
    {"resource": {
      "resourceType": "Condition",
      "id": "c1",
      "subject": {"reference": "Patient/p1"},
      "encounter": {"reference": "Encounter/e1"},
      "code": {"coding": [{"system": "http://hl7.org/fhir/sid/icd-10-cm", "code": "R50.9", "display": "Fever, unspecified"}]},
      "recordedDate": "2024-05-01T10:00:00Z"
    }},
    {"resource": {
      "resourceType": "Condition",
      "id": "c2",
      "subject": {"reference": "Patient/p1"},
      "code": {"coding": [{"code": "J18.9"}]},
      "recordedDate": "2024-05-01T11:00:00Z"
    }},
    {"resource": {
      "resourceType": "Patient",
      "id": "p1",
      "birthDate": "2024-04-16",
      "name": [{"given": ["Baby"], "family": "Doe"}]
    }}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(context.Background(), Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RetryAttempts: 2})
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestFindPatientsByCondition(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Condition" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("_include") != "Condition:subject" {
			t.Errorf("expected subject include, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		w.Write([]byte(conditionBundle))
	})

	minAge, maxAge := 8, 60
	got, err := c.FindPatientsByCondition(context.Background(), []string{"R50"}, &minAge, &maxAge)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %+v", got)
	}
	cand := got[0]
	if cand.PatientID != "p1" || cand.EncounterID != "e1" || cand.Code != "R50.9" {
		t.Fatalf("unexpected candidate %+v", cand)
	}
	if cand.AgeDays == nil || *cand.AgeDays != 15 {
		t.Fatalf("expected age 15 days, got %v", cand.AgeDays)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.GetLabResults(context.Background(), "p1", []string{"2524-7"}, time.Time{})
	if !errors.Is(err, datasource.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected retry, got %d calls", calls)
	}
}

func TestGetPatientNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := c.GetPatient(context.Background(), "missing"); !errors.Is(err, datasource.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseObservationAndNotes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Observation":
			w.Write([]byte(`{"resourceType":"Bundle","entry":[{"resource":{
				"resourceType":"Observation",
				"code":{"coding":[{"code":"2524-7","display":"Lactate"}]},
				"valueQuantity":{"value":4.2,"unit":"mmol/L"},
				"effectiveDateTime":"2024-05-01T11:00:00Z"}}]}`))
		case "/DocumentReference":
			w.Write([]byte(`{"resourceType":"Bundle","entry":[{"resource":{
				"resourceType":"DocumentReference",
				"id":"d1",
				"type":{"text":"Progress Note"},
				"date":"2024-05-01T11:30:00Z",
				"content":[{"attachment":{"contentType":"text/plain","data":"SW5mYW50IGlzIHdlbGwtYXBwZWFyaW5n"}}]}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	since := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	labs, err := c.GetLabResults(context.Background(), "p1", []string{"2524-7"}, since)
	if err != nil {
		t.Fatalf("labs: %v", err)
	}
	if len(labs) != 1 || labs[0].Value == nil || *labs[0].Value != 4.2 || labs[0].Unit != "mmol/L" {
		t.Fatalf("unexpected labs %+v", labs)
	}

	notes, err := c.GetRecentNotes(context.Background(), "p1", since, []string{"progress"})
	if err != nil {
		t.Fatalf("notes: %v", err)
	}
	if len(notes) != 1 || notes[0].Text != "Infant is well-appearing" {
		t.Fatalf("unexpected notes %+v", notes)
	}
}
