// Package fhir adapts a FHIR R4 REST server to the clinical data source contract.
package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/httpclient"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
)

type Options struct {
	BaseURL         string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	Scopes          []string
	Timeout         time.Duration
	RetryAttempts   int
	RequestsPerSec  int
	TriggerLookback time.Duration
	MaxPages        int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:         cfg.FHIRBaseURL,
		TokenURL:        cfg.FHIRTokenURL,
		ClientID:        cfg.FHIRClientID,
		ClientSecret:    cfg.FHIRClientSecret,
		Scopes:          cfg.FHIRScopes,
		Timeout:         cfg.FHIRTimeout,
		RetryAttempts:   cfg.FHIRRetryAttempts,
		RequestsPerSec:  cfg.FHIRRequestsPerSec,
		TriggerLookback: 24 * time.Hour,
		MaxPages:        20,
	}
}

// Client implements datasource.Source against a FHIR server. Failures are
// wrapped in datasource.ErrUnavailable.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	retries  int
	lookback time.Duration
	maxPages int
	now      func() time.Time
}

var _ datasource.Source = (*Client)(nil)

func New(ctx context.Context, opts Options) *Client {
	base := httpclient.New(opts.Timeout)
	client := base
	if opts.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		client = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
		client.Timeout = opts.Timeout
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.TriggerLookback <= 0 {
		opts.TriggerLookback = 24 * time.Hour
	}

	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     client,
		limiter:  rate.NewLimiter(limit, max(opts.RequestsPerSec, 1)),
		retries:  opts.RetryAttempts,
		lookback: opts.TriggerLookback,
		maxPages: opts.MaxPages,
		now:      time.Now,
	}
}

func (c *Client) GetPatient(ctx context.Context, patientID string) (*datasource.Patient, error) {
	res, err := c.get(ctx, c.baseURL+"/Patient/"+url.PathEscape(patientID))
	if err != nil {
		return nil, err
	}
	p := parsePatient(res)
	return &p, nil
}

func (c *Client) GetPatientConditions(ctx context.Context, patientID string) ([]datasource.Condition, error) {
	q := url.Values{}
	q.Set("patient", patientID)
	entries, err := c.search(ctx, "Condition", q)
	if err != nil {
		return nil, err
	}
	var out []datasource.Condition
	for _, res := range entries {
		if getString(res["resourceType"]) == "Condition" {
			out = append(out, parseCondition(res))
		}
	}
	return out, nil
}

func (c *Client) FindPatientsByCondition(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]datasource.TriggerCandidate, error) {
	q := url.Values{}
	q.Set("clinical-status", "active")
	q.Set("recorded-date", "ge"+c.since())
	q.Set("_include", "Condition:subject")
	entries, err := c.search(ctx, "Condition", q)
	if err != nil {
		return nil, err
	}
	return candidates(entries, "Condition", codePrefixes, minAgeDays, maxAgeDays, func(res map[string]interface{}) (string, string, string, time.Time) {
		cond := parseCondition(res)
		return matchingCode(extractMap(res["code"]), codePrefixes), cond.Display, cond.EncounterID, cond.RecordedTime
	}), nil
}

func (c *Client) FindPatientsByOrder(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]datasource.TriggerCandidate, error) {
	q := url.Values{}
	q.Set("status", "active,completed")
	q.Set("authored", "ge"+c.since())
	q.Set("_include", "ServiceRequest:subject")
	entries, err := c.search(ctx, "ServiceRequest", q)
	if err != nil {
		return nil, err
	}
	return candidates(entries, "ServiceRequest", codePrefixes, minAgeDays, maxAgeDays, func(res map[string]interface{}) (string, string, string, time.Time) {
		order := parseServiceRequest(res)
		return matchingCode(extractMap(res["code"]), codePrefixes), order.Display, order.EncounterID, order.Time
	}), nil
}

func (c *Client) FindPatientsByLabResult(ctx context.Context, codePrefixes []string, minAgeDays, maxAgeDays *int) ([]datasource.TriggerCandidate, error) {
	q := url.Values{}
	q.Set("category", "laboratory")
	q.Set("date", "ge"+c.since())
	q.Set("_include", "Observation:subject")
	entries, err := c.search(ctx, "Observation", q)
	if err != nil {
		return nil, err
	}
	return candidates(entries, "Observation", codePrefixes, minAgeDays, maxAgeDays, func(res map[string]interface{}) (string, string, string, time.Time) {
		lab := parseLabObservation(res)
		return matchingCode(extractMap(res["code"]), codePrefixes), lab.Display, lab.EncounterID, lab.Time
	}), nil
}

func (c *Client) GetLabResults(ctx context.Context, patientID string, codes []string, since time.Time) ([]datasource.LabResult, error) {
	q := url.Values{}
	q.Set("patient", patientID)
	q.Set("date", "ge"+since.UTC().Format(time.RFC3339))
	if len(codes) > 0 {
		q.Set("code", strings.Join(codes, ","))
	}
	entries, err := c.search(ctx, "Observation", q)
	if err != nil {
		return nil, err
	}
	var out []datasource.LabResult
	for _, res := range entries {
		if getString(res["resourceType"]) != "Observation" {
			continue
		}
		lab := parseLabObservation(res)
		if lab.Time.Before(since) {
			continue
		}
		out = append(out, lab)
	}
	sortByTime(out, func(l datasource.LabResult) time.Time { return l.Time })
	return out, nil
}

func (c *Client) GetVitalSigns(ctx context.Context, patientID string, since time.Time) ([]datasource.VitalSign, error) {
	q := url.Values{}
	q.Set("patient", patientID)
	q.Set("category", "vital-signs")
	q.Set("date", "ge"+since.UTC().Format(time.RFC3339))
	entries, err := c.search(ctx, "Observation", q)
	if err != nil {
		return nil, err
	}
	var out []datasource.VitalSign
	for _, res := range entries {
		if v, ok := parseVitalObservation(res); ok && !v.Time.Before(since) {
			out = append(out, v)
		}
	}
	sortByTime(out, func(v datasource.VitalSign) time.Time { return v.Time })
	return out, nil
}

func (c *Client) GetMedicationAdministrations(ctx context.Context, patientID string, since time.Time) ([]datasource.MedicationAdministration, error) {
	q := url.Values{}
	q.Set("patient", patientID)
	q.Set("effective-time", "ge"+since.UTC().Format(time.RFC3339))
	entries, err := c.search(ctx, "MedicationAdministration", q)
	if err != nil {
		return nil, err
	}
	var out []datasource.MedicationAdministration
	for _, res := range entries {
		med := parseMedicationAdministration(res)
		if med.Name != "" && !med.Time.Before(since) {
			out = append(out, med)
		}
	}
	sortByTime(out, func(m datasource.MedicationAdministration) time.Time { return m.Time })
	return out, nil
}

func (c *Client) GetRecentNotes(ctx context.Context, patientID string, since time.Time, types []string) ([]datasource.Note, error) {
	q := url.Values{}
	q.Set("patient", patientID)
	q.Set("date", "ge"+since.UTC().Format(time.RFC3339))
	entries, err := c.search(ctx, "DocumentReference", q)
	if err != nil {
		return nil, err
	}
	var out []datasource.Note
	for _, res := range entries {
		note := parseDocumentReference(res)
		if note.Time.Before(since) || !noteTypeAllowed(types, note.Type) {
			continue
		}
		out = append(out, note)
	}
	sortByTime(out, func(n datasource.Note) time.Time { return n.Time })
	return out, nil
}

func (c *Client) since() string {
	return c.now().Add(-c.lookback).UTC().Format(time.RFC3339)
}

// search runs a searchset query and follows next links up to maxPages.
func (c *Client) search(ctx context.Context, resource string, q url.Values) ([]map[string]interface{}, error) {
	if q.Get("_count") == "" {
		q.Set("_count", "200")
	}
	next := fmt.Sprintf("%s/%s?%s", c.baseURL, resource, q.Encode())
	var out []map[string]interface{}
	for page := 0; next != "" && page < c.maxPages; page++ {
		bundle, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		out = append(out, resources(bundle)...)
		next = nextLink(bundle)
	}
	if next != "" {
		logger.Log.WithFields(map[string]interface{}{
			"resource":  resource,
			"max_pages": c.maxPages,
		}).Warn("FHIR search truncated at page limit")
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, target string) (map[string]interface{}, error) {
	var body map[string]interface{}
	err := httpclient.Retry(ctx, c.retries, 200*time.Millisecond, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/fhir+json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return datasource.ErrNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, resp.Body)
			return &httpclient.StatusError{Code: resp.StatusCode, URL: req.URL.Path}
		}
		body = nil
		return json.NewDecoder(resp.Body).Decode(&body)
	})
	if err != nil {
		if errors.Is(err, datasource.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fhir get %s: %w: %w", redact(target), datasource.ErrUnavailable, err)
	}
	return body, nil
}

func candidates(entries []map[string]interface{}, resourceType string, codePrefixes []string, minAgeDays, maxAgeDays *int,
	extract func(map[string]interface{}) (code, display, encounterID string, at time.Time)) []datasource.TriggerCandidate {
	patients := make(map[string]datasource.Patient)
	for _, res := range entries {
		if getString(res["resourceType"]) == "Patient" {
			p := parsePatient(res)
			patients[p.ID] = p
		}
	}

	var out []datasource.TriggerCandidate
	for _, res := range entries {
		if getString(res["resourceType"]) != resourceType {
			continue
		}
		code, display, encounterID, at := extract(res)
		if code == "" || at.IsZero() {
			continue
		}
		patientID := extractPatientReference(res)
		if patientID == "" {
			continue
		}
		var age *int
		if p, ok := patients[patientID]; ok {
			age = datasource.AgeDays(p.BirthDate, at)
		}
		if !datasource.WithinAge(age, minAgeDays, maxAgeDays) {
			continue
		}
		out = append(out, datasource.TriggerCandidate{
			PatientID:   patientID,
			EncounterID: encounterID,
			Code:        code,
			Description: display,
			Time:        at,
			AgeDays:     age,
		})
	}
	return out
}

// matchingCode returns the first coding that matches one of the prefixes.
func matchingCode(concept map[string]interface{}, prefixes []string) string {
	for _, code := range codingCodes(concept) {
		if datasource.MatchesPrefix(code, prefixes) {
			return code
		}
	}
	return ""
}

func noteTypeAllowed(types []string, noteType string) bool {
	if len(types) == 0 {
		return true
	}
	lower := strings.ToLower(noteType)
	for _, t := range types {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func sortByTime[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool { return at(items[i]).Before(at(items[j])) })
}

func redact(target string) string {
	if u, err := url.Parse(target); err == nil {
		return u.Path
	}
	return target
}
