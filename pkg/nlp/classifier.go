// Package nlp extracts a structured clinical impression from note text.
package nlp

import (
	"context"
	"fmt"
	"strings"

	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/dlp"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

type Provenance string

const (
	ProvenanceNLP     Provenance = "nlp"
	ProvenanceKeyword Provenance = "keyword"
)

// Extraction is the classifier output. Both implementations fill every field.
type Extraction struct {
	IsHighRisk bool       `json:"is_high_risk"`
	Confidence Confidence `json:"confidence"`
	Source     Provenance `json:"source"`
	Evidence   []string   `json:"evidence,omitempty"`
}

type Classifier interface {
	Extract(ctx context.Context, texts []string) (Extraction, error)
}

// New selects the classifier named by cfg.NLPMode.
func New(cfg *config.Config, cat terminology.Catalog) (Classifier, error) {
	keyword := NewKeywordClassifier(cat.KeywordSet(terminology.SetIllAppearing), cat.KeywordSet(terminology.SetWellAppearing))
	switch strings.ToLower(cfg.NLPMode) {
	case "", "keyword":
		return keyword, nil
	case "llm":
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("NLP_MODE=llm requires LLM_API_KEY")
		}
		rules, err := dlp.LoadRules(cfg.RedactionRulesPath)
		if err != nil {
			return nil, err
		}
		redactor, err := dlp.NewRedactor(rules)
		if err != nil {
			return nil, fmt.Errorf("compile redaction rules: %w", err)
		}
		return NewLLMClassifier(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName, cfg.LLMTimeout).WithRedactor(redactor), nil
	default:
		return nil, fmt.Errorf("unknown NLP_MODE %q", cfg.NLPMode)
	}
}

type KeywordClassifier struct {
	highRisk []string
	lowRisk  []string
}

func NewKeywordClassifier(highRisk, lowRisk []string) *KeywordClassifier {
	return &KeywordClassifier{highRisk: highRisk, lowRisk: lowRisk}
}

func (k *KeywordClassifier) Extract(ctx context.Context, texts []string) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	return KeywordVote(texts, k.highRisk, k.lowRisk), nil
}

// KeywordVote counts high and low risk keyword hits across texts. A
// one-sided vote is MEDIUM confidence; mixed or absent evidence is LOW and
// ties resolve to low risk.
func KeywordVote(texts []string, highRisk, lowRisk []string) Extraction {
	var high, low int
	var evidence []string
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, kw := range highRisk {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				high++
				evidence = append(evidence, kw)
			}
		}
		for _, kw := range lowRisk {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				low++
				evidence = append(evidence, kw)
			}
		}
	}

	out := Extraction{Source: ProvenanceKeyword, Confidence: ConfidenceLow, Evidence: evidence}
	switch {
	case high > 0 && low == 0:
		out.IsHighRisk = true
		out.Confidence = ConfidenceMedium
	case low > 0 && high == 0:
		out.Confidence = ConfidenceMedium
	default:
		out.IsHighRisk = high > low
	}
	return out
}
