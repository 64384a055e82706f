package checkers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

func TestDefaultRegistryCoversCatalog(t *testing.T) {
	reg := DefaultRegistry(testDeps())
	for _, kind := range bundles.Kinds() {
		if _, ok := reg.For(kind); !ok {
			t.Fatalf("kind %s unbound", kind)
		}
	}
	if err := reg.Validate(bundles.DefaultCatalog().Bundles); err != nil {
		t.Fatalf("default catalog should validate: %v", err)
	}
	if _, ok := reg.Advisors()[bundles.KindCDiffTesting]; !ok {
		t.Fatalf("C. diff checker should advise")
	}
}

func TestValidateReportsUnmappedElement(t *testing.T) {
	deps := testDeps()
	deps.Catalog = terminology.Catalog{}
	reg := DefaultRegistry(deps)

	err := reg.Validate(bundles.DefaultCatalog().Bundles)
	if err == nil || !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "sepsis_blood_culture") {
		t.Fatalf("error should name the element: %v", err)
	}
}

func TestNewRegistryRejectsDuplicateKind(t *testing.T) {
	deps := testDeps()
	if _, err := NewRegistry(NewLabChecker(deps), NewLabChecker(deps)); err == nil {
		t.Fatalf("expected duplicate kind error")
	}
}

type stubChecker struct {
	result models.CheckResult
	err    error
	panics bool
}

func (s stubChecker) Kind() bundles.CheckerKind { return bundles.KindLab }
func (s stubChecker) Supports(string) bool      { return true }
func (s stubChecker) Check(context.Context, Request) (models.CheckResult, error) {
	if s.panics {
		panic("boom")
	}
	return s.result, s.err
}

func TestEvaluateBoundary(t *testing.T) {
	req := Request{Element: bundles.Element{ID: "sepsis_lactate"}, TriggerTime: t0, Now: t0}

	cases := []struct {
		name    string
		checker stubChecker
		outcome Outcome
		status  models.ElementStatus
	}{
		{"panic", stubChecker{panics: true}, OutcomeFailure, ""},
		{"unavailable", stubChecker{err: datasource.ErrUnavailable}, OutcomeFailure, ""},
		{"internal", stubChecker{err: errors.New("nil map")}, OutcomeFailure, ""},
		{"config", stubChecker{err: configError("sepsis_lactate", "no codes")}, OutcomeResolved, models.ElementUnableToAssess},
		{"not found", stubChecker{err: datasource.ErrNotFound}, OutcomeResolved, models.ElementUnableToAssess},
		{"pending", stubChecker{result: models.CheckResult{Status: models.ElementPending}}, OutcomeNoData, models.ElementPending},
		{"met", stubChecker{result: models.CheckResult{Status: models.ElementMet}}, OutcomeResolved, models.ElementMet},
		{"invalid", stubChecker{result: models.CheckResult{Status: "MAYBE"}}, OutcomeFailure, ""},
	}
	for _, tc := range cases {
		ev := Evaluate(context.Background(), tc.checker, req)
		if ev.Outcome != tc.outcome {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.outcome, ev.Outcome)
		}
		if tc.status != "" && ev.Result.Status != tc.status {
			t.Fatalf("%s: expected status %s, got %s", tc.name, tc.status, ev.Result.Status)
		}
	}

	ev := Evaluate(context.Background(), stubChecker{panics: true}, req)
	var internal *InternalError
	if !errors.As(ev.Err, &internal) || internal.ElementID != "sepsis_lactate" {
		t.Fatalf("panic should surface as InternalError, got %v", ev.Err)
	}
}

func TestPassMemoizesReads(t *testing.T) {
	src := datasource.NewMemorySource()
	patientAged(src, "p1", 30)
	pass := NewPass(src, t0.Add(time.Hour))

	pc := pass.Context("p1")
	if pass.Context("p1") != pc {
		t.Fatalf("same patient should share a context within a pass")
	}
	for i := 0; i < 3; i++ {
		if _, err := pc.Labs(context.Background(), []string{"2524-7"}, t0); err != nil {
			t.Fatalf("labs: %v", err)
		}
	}
	if src.Calls("GetLabResults") != 1 {
		t.Fatalf("expected one source call, got %d", src.Calls("GetLabResults"))
	}

	pass.Close()
	if pass.Size() != 0 {
		t.Fatalf("close should discard contexts")
	}
	if _, err := pc.Labs(context.Background(), []string{"2524-7"}, t0); err == nil {
		t.Fatalf("context should be unusable after the pass ends")
	}

	next := NewPass(src, t0.Add(2*time.Hour))
	if _, err := next.Context("p1").Labs(context.Background(), []string{"2524-7"}, t0); err != nil {
		t.Fatalf("labs: %v", err)
	}
	if src.Calls("GetLabResults") != 2 {
		t.Fatalf("a new pass must not reuse cached data")
	}
}

func TestPassMemoizesErrors(t *testing.T) {
	src := datasource.NewMemorySource()
	src.SetUnavailable(true)
	pc := NewPass(src, t0).Context("p1")

	for i := 0; i < 2; i++ {
		if _, err := pc.Notes(context.Background(), t0, nil); !errors.Is(err, datasource.ErrUnavailable) {
			t.Fatalf("expected unavailable, got %v", err)
		}
	}
	if src.Calls("GetRecentNotes") != 1 {
		t.Fatalf("failed reads should be cached for the pass")
	}
}

func TestAgeConversions(t *testing.T) {
	if y := YearsFromDays(731); y >= 3 || y < 2 {
		t.Fatalf("731 days should be 2.x years, got %f", y)
	}
	if m := MonthsFromDays(61); m < 2 || m > 2.01 {
		t.Fatalf("61 days should be about 2 months, got %f", m)
	}
}
