package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // bundle_violation, alert_ack
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

type EpisodeStatus string

const (
	EpisodeActive   EpisodeStatus = "ACTIVE"
	EpisodeComplete EpisodeStatus = "COMPLETE"
	EpisodeClosed   EpisodeStatus = "CLOSED"
)

type ElementStatus string

const (
	ElementPending        ElementStatus = "PENDING"
	ElementMet            ElementStatus = "MET"
	ElementNotMet         ElementStatus = "NOT_MET"
	ElementNotApplicable  ElementStatus = "NOT_APPLICABLE"
	ElementUnableToAssess ElementStatus = "UNABLE_TO_ASSESS"
)

// Terminal reports whether the status is a final evaluation outcome.
func (s ElementStatus) Terminal() bool {
	switch s {
	case ElementMet, ElementNotMet, ElementNotApplicable, ElementUnableToAssess:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known element statuses.
func (s ElementStatus) Valid() bool {
	return s == ElementPending || s.Terminal()
}

const (
	ReviewUnreviewed = "unreviewed"
	ReviewReviewed   = "reviewed"
)

const (
	AdherenceFull    = "full"
	AdherencePartial = "partial"
	AdherenceLow     = "low"
)

// Episode is one instantiation of a bundle for one patient encounter trigger.
type Episode struct {
	ID                  string        `json:"id"`
	PatientID           string        `json:"patient_id"`
	PatientMRN          string        `json:"patient_mrn,omitempty"`
	PatientName         string        `json:"patient_name,omitempty"`
	BirthDate           *time.Time    `json:"birth_date,omitempty"`
	EncounterID         string        `json:"encounter_id,omitempty"`
	BundleID            string        `json:"bundle_id"`
	BundleName          string        `json:"bundle_name"`
	BundleVersion       string        `json:"bundle_version"`
	TriggerKind         string        `json:"trigger_kind"`
	TriggerCode         string        `json:"trigger_code"`
	TriggerDescription  string        `json:"trigger_description,omitempty"`
	TriggerTime         time.Time     `json:"trigger_time"`
	PatientAgeDays      *int          `json:"patient_age_days,omitempty"`
	Status              EpisodeStatus `json:"status"`
	ElementsTotal       int           `json:"elements_total"`
	ElementsApplicable  int           `json:"elements_applicable"`
	ElementsMet         int           `json:"elements_met"`
	ElementsNotMet      int           `json:"elements_not_met"`
	ElementsPending     int           `json:"elements_pending"`
	AdherencePercentage float64       `json:"adherence_percentage"`
	AdherenceLevel      string        `json:"adherence_level,omitempty"`
	ReviewStatus        string        `json:"review_status"`
	ReviewedBy          string        `json:"reviewed_by,omitempty"`
	Advisory            string        `json:"advisory,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
}

// ElementResult is the persisted evaluation state of one bundle element.
// AlertedAt is set once the NOT_MET alert for the element was delivered.
type ElementResult struct {
	ID          string        `json:"id"`
	EpisodeID   string        `json:"episode_id"`
	ElementID   string        `json:"element_id"`
	ElementName string        `json:"element_name"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	CheckerKind string        `json:"checker_kind"`
	Status      ElementStatus `json:"status"`
	Value       string        `json:"value,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	AlertedAt   *time.Time    `json:"alerted_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CheckResult is the transient outcome of one element check. It is applied
// to an ElementResult and never stored on its own.
type CheckResult struct {
	ElementID   string        `json:"element_id"`
	Status      ElementStatus `json:"status"`
	Value       string        `json:"value,omitempty"`
	Notes       string        `json:"notes,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Alert is a guideline violation notification for one episode element.
type Alert struct {
	ID        string    `json:"id"`
	EpisodeID string    `json:"episode_id"`
	ElementID string    `json:"element_id"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
