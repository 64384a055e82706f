package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/episodes"
)

func seededStore(t *testing.T) (*episodes.MemoryStore, string) {
	t.Helper()
	store := episodes.NewMemoryStore(0)
	reg, err := bundles.NewRegistry(bundles.DefaultCatalog().Bundles, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	def, ok := reg.Get("sepsis_peds_2024")
	if !ok {
		t.Fatal("sepsis bundle missing")
	}
	trigger := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ep, err := store.CreateEpisodeIfAbsent(context.Background(), def,
		episodes.Key{PatientID: "p1", EncounterID: "e1", BundleID: def.ID, TriggerTime: trigger},
		episodes.Snapshot{PatientMRN: "MRN1", TriggerKind: "diagnosis", TriggerCode: "A41.9"})
	if err != nil || ep == nil {
		t.Fatalf("create episode: %v", err)
	}
	return store, ep.ID
}

var tokenHash = func() string {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(hash)
}()

func newTestRouter(store episodes.Store, probe Probe) http.Handler {
	return NewRouter(RouterConfig{
		Store:  store,
		Probes: map[string]Probe{"store": probe},
		Jobs: map[string]JobFunc{
			"recompute": func(ctx context.Context) (interface{}, error) {
				return map[string]int{"episodes_processed": 1}, nil
			},
		},
		TokenHash: tokenHash,
	})
}

func serve(h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEpisodeDetailIncludesElements(t *testing.T) {
	store, id := seededStore(t)
	h := newTestRouter(store, func(context.Context) error { return nil })

	rec := serve(h, http.MethodGet, "/api/v1/episodes/"+id, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var detail EpisodeDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.ID != id || len(detail.Elements) != 6 {
		t.Fatalf("unexpected detail: id=%s elements=%d", detail.ID, len(detail.Elements))
	}

	if rec := serve(h, http.MethodGet, "/api/v1/episodes/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCloseRequiresToken(t *testing.T) {
	store, id := seededStore(t)
	h := newTestRouter(store, func(context.Context) error { return nil })

	path := "/api/v1/episodes/" + id + "/close"
	if rec := serve(h, http.MethodPost, path, `{"reviewer":"dr.a"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodPost, path, `{}`, "secret"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reviewer, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodPost, path, `{"reviewer":"dr.a"}`, "secret"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for an active episode, got %d", rec.Code)
	}

	ctx := context.Background()
	elements, err := store.Elements(ctx, id)
	if err != nil {
		t.Fatalf("elements: %v", err)
	}
	for _, el := range elements {
		if _, err := store.ApplyResult(ctx, el.ID, models.CheckResult{ElementID: el.ElementID, Status: models.ElementNotApplicable}); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	if err := store.MarkComplete(ctx, id, time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec := serve(h, http.MethodPost, path, `{"reviewer":"dr.a"}`, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	ep, _ := store.Get(ctx, id)
	if ep.Status != models.EpisodeClosed || ep.ReviewedBy != "dr.a" {
		t.Fatalf("episode not closed: %+v", ep)
	}

	active := serve(h, http.MethodGet, "/api/v1/episodes", "", "")
	if strings.TrimSpace(active.Body.String()) != "[]" {
		t.Fatalf("closed episode still listed: %s", active.Body.String())
	}
}

func TestReadyReflectsProbes(t *testing.T) {
	store, _ := seededStore(t)
	down := newTestRouter(store, func(context.Context) error { return errors.New("connection refused") })
	if rec := serve(down, http.MethodGet, "/ready", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	up := newTestRouter(store, func(context.Context) error { return nil })
	if rec := serve(up, http.MethodGet, "/ready", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := serve(up, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
}

func TestManualJobRun(t *testing.T) {
	store, _ := seededStore(t)
	h := newTestRouter(store, func(context.Context) error { return nil })

	rec := serve(h, http.MethodPost, "/api/v1/jobs/recompute/run", "", "secret")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "episodes_processed") {
		t.Fatalf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
	if rec := serve(h, http.MethodPost, "/api/v1/jobs/nope/run", "", "secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
