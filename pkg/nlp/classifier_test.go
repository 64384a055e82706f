package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

func TestKeywordVote(t *testing.T) {
	high := []string{"lethargic", "mottled"}
	low := []string{"well-appearing"}

	cases := []struct {
		name     string
		texts    []string
		highRisk bool
		conf     Confidence
	}{
		{"ill only", []string{"Lethargic infant, mottled extremities"}, true, ConfidenceMedium},
		{"well only", []string{"Well-appearing, feeding"}, false, ConfidenceMedium},
		{"mixed", []string{"well-appearing earlier", "now lethargic and mottled"}, true, ConfidenceLow},
		{"tie", []string{"well-appearing", "lethargic"}, false, ConfidenceLow},
		{"none", nil, false, ConfidenceLow},
	}
	for _, tc := range cases {
		got := KeywordVote(tc.texts, high, low)
		if got.IsHighRisk != tc.highRisk || got.Confidence != tc.conf || got.Source != ProvenanceKeyword {
			t.Fatalf("%s: unexpected extraction %+v", tc.name, got)
		}
	}
}

func TestNewSelectsByMode(t *testing.T) {
	cfg := &config.Config{NLPMode: "keyword"}
	c, err := New(cfg, terminology.DefaultCatalog())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := c.(*KeywordClassifier); !ok {
		t.Fatalf("expected keyword classifier, got %T", c)
	}

	if _, err := New(&config.Config{NLPMode: "llm"}, terminology.DefaultCatalog()); err == nil {
		t.Fatalf("llm mode without api key must fail")
	}
	if _, err := New(&config.Config{NLPMode: "bert"}, terminology.DefaultCatalog()); err == nil {
		t.Fatalf("unknown mode must fail")
	}
}

func TestLLMClassifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		content := "```json\n{\"is_high_risk\": true, \"confidence\": \"high\", \"evidence\": [\"lethargic\"]}\n```"
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
	defer srv.Close()

	c := NewLLMClassifier(srv.URL, "key", "test-model", time.Second)
	got, err := c.Extract(context.Background(), []string{"Infant lethargic"})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !got.IsHighRisk || got.Confidence != ConfidenceHigh || got.Source != ProvenanceNLP {
		t.Fatalf("unexpected extraction %+v", got)
	}
}

func TestLLMClassifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewLLMClassifier(srv.URL, "key", "m", time.Second)
	if _, err := c.Extract(context.Background(), []string{"note"}); err == nil {
		t.Fatalf("expected error on 500")
	}
}

func TestLLMClassifierRedactsNoteText(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			prompt = req.Messages[0].Content
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"is_high_risk": false, "confidence": "MEDIUM"}`}},
			},
		})
	}))
	defer srv.Close()

	cfg := &config.Config{NLPMode: "llm", LLMAPIKey: "key", LLMBaseURL: srv.URL, LLMModelName: "m", LLMTimeout: time.Second}
	c, err := New(cfg, terminology.DefaultCatalog())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Extract(context.Background(), []string{"MRN 7654321 well appearing, call (555) 222-3333"}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if strings.Contains(prompt, "7654321") || strings.Contains(prompt, "222-3333") {
		t.Fatalf("identifiers reached the classifier: %s", prompt)
	}
	if !strings.Contains(prompt, "well appearing") {
		t.Fatalf("clinical text missing from prompt: %s", prompt)
	}
}
