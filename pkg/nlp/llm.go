package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/common/httpclient"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/dlp"
)

const impressionPrompt = `You are reviewing clinical notes for a febrile infant.
Decide whether the documented clinical impression is ill-appearing (high risk) or well-appearing (low risk).

Notes:
%s

Return only a JSON object: {"is_high_risk": true|false, "confidence": "LOW"|"MEDIUM"|"HIGH", "evidence": ["short quote", ...]}`

// LLMClassifier calls an OpenAI-compatible chat completions endpoint.
type LLMClassifier struct {
	apiKey    string
	baseURL   string
	modelName string
	client    *http.Client
	redactor  *dlp.Redactor
}

func NewLLMClassifier(baseURL, apiKey, modelName string, timeout time.Duration) *LLMClassifier {
	return &LLMClassifier{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		modelName: modelName,
		client:    httpclient.New(timeout),
	}
}

// WithRedactor masks identifiers in note text before each request.
func (l *LLMClassifier) WithRedactor(r *dlp.Redactor) *LLMClassifier {
	l.redactor = r
	return l
}

func (l *LLMClassifier) Extract(ctx context.Context, texts []string) (Extraction, error) {
	if len(texts) == 0 {
		return Extraction{Confidence: ConfidenceLow, Source: ProvenanceNLP}, nil
	}
	texts, masked := l.redactor.RedactAll(texts)
	if len(masked) > 0 {
		logger.WithField("types", masked).Debug("Redacted identifiers from classifier input")
	}
	content, err := l.callLLM(ctx, fmt.Sprintf(impressionPrompt, strings.Join(texts, "\n---\n")))
	if err != nil {
		return Extraction{}, err
	}

	var parsed struct {
		IsHighRisk bool     `json:"is_high_risk"`
		Confidence string   `json:"confidence"`
		Evidence   []string `json:"evidence"`
	}
	if err := json.Unmarshal([]byte(stripFence(content)), &parsed); err != nil {
		return Extraction{}, fmt.Errorf("parse classifier response: %w", err)
	}

	conf := Confidence(strings.ToUpper(strings.TrimSpace(parsed.Confidence)))
	switch conf {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
	default:
		return Extraction{}, fmt.Errorf("classifier returned unknown confidence %q", parsed.Confidence)
	}
	return Extraction{
		IsHighRisk: parsed.IsHighRisk,
		Confidence: conf,
		Source:     ProvenanceNLP,
		Evidence:   parsed.Evidence,
	}, nil
}

func (l *LLMClassifier) callLLM(ctx context.Context, prompt string) (string, error) {
	payload := map[string]interface{}{
		"model": l.modelName,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(payloadBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpclient.StatusError{Code: resp.StatusCode, URL: req.URL.Path}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if len(result.Choices) > 0 {
		return result.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("no response from LLM")
}

func stripFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
