package checkers

import (
	"context"
	"testing"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func testDeps() Deps {
	return Deps{Catalog: terminology.DefaultCatalog(), Thresholds: config.DefaultThresholds()}
}

func element(t *testing.T, bundleID, elementID string) bundles.Element {
	t.Helper()
	for _, def := range bundles.DefaultCatalog().Bundles {
		if def.ID != bundleID {
			continue
		}
		if el, ok := def.Element(elementID); ok {
			return el
		}
	}
	t.Fatalf("element %s/%s not found", bundleID, elementID)
	return bundles.Element{}
}

func patientAged(src *datasource.MemorySource, id string, ageDays int) {
	birth := t0.AddDate(0, 0, -ageDays)
	src.AddPatient(datasource.Patient{ID: id, BirthDate: &birth})
}

func request(src datasource.Source, el bundles.Element, patientID string, now time.Time) Request {
	return Request{
		Element:     el,
		EpisodeID:   "ep-1",
		PatientID:   patientID,
		TriggerTime: t0,
		Now:         now,
		Context:     NewPatientContext(patientID, src),
	}
}

func check(t *testing.T, c Checker, req Request) models.CheckResult {
	t.Helper()
	res, err := c.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("check %s: %v", req.Element.ID, err)
	}
	return res
}

func num(v float64) *float64 {
	return &v
}
