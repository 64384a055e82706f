package checkers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/datasource"
)

// Pass owns the patient contexts of one evaluation pass. Contexts are
// created on first use and dropped by Close; nothing survives into the
// next pass.
type Pass struct {
	mu       sync.Mutex
	source   datasource.Source
	now      time.Time
	contexts map[string]*PatientContext
	closed   bool
}

func NewPass(source datasource.Source, now time.Time) *Pass {
	return &Pass{
		source:   source,
		now:      now,
		contexts: make(map[string]*PatientContext),
	}
}

func (p *Pass) Now() time.Time {
	return p.now
}

// Context returns the patient's context for this pass, building it lazily.
// After Close it returns a context whose every read fails.
func (p *Pass) Context(patientID string) *PatientContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &PatientContext{PatientID: patientID}
	}
	pc, ok := p.contexts[patientID]
	if !ok {
		pc = newPatientContext(patientID, p.source)
		p.contexts[patientID] = pc
	}
	return pc
}

// Close discards every patient context built during the pass.
func (p *Pass) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pc := range p.contexts {
		pc.discard()
		delete(p.contexts, id)
	}
	p.closed = true
}

// Size is the number of live patient contexts.
func (p *Pass) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

type memoEntry struct {
	value interface{}
	err   error
}

// PatientContext memoizes data source reads and derived clinical flags for
// one patient within one pass. Errors are memoized too, so an unavailable
// source is hit once per query per pass.
type PatientContext struct {
	PatientID string

	mu      sync.Mutex
	source  datasource.Source
	entries map[string]memoEntry
}

func newPatientContext(patientID string, source datasource.Source) *PatientContext {
	return &PatientContext{
		PatientID: patientID,
		source:    source,
		entries:   make(map[string]memoEntry),
	}
}

// NewPatientContext builds a standalone context, mainly for tests and one-off checks.
func NewPatientContext(patientID string, source datasource.Source) *PatientContext {
	return newPatientContext(patientID, source)
}

func (pc *PatientContext) discard() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.entries = nil
	pc.source = nil
}

// memo computes and caches a value under key. Derived values may call
// other memoized reads, so the lock is not held during compute.
func memo[T any](pc *PatientContext, key string, compute func(datasource.Source) (T, error)) (T, error) {
	var zero T
	pc.mu.Lock()
	if pc.entries == nil {
		pc.mu.Unlock()
		return zero, fmt.Errorf("patient context for %s used after pass end", pc.PatientID)
	}
	entry, ok := pc.entries[key]
	source := pc.source
	pc.mu.Unlock()

	if ok {
		if entry.err != nil {
			return zero, entry.err
		}
		return entry.value.(T), nil
	}

	value, err := compute(source)

	pc.mu.Lock()
	if pc.entries != nil {
		pc.entries[key] = memoEntry{value: value, err: err}
	}
	pc.mu.Unlock()
	return value, err
}

func (pc *PatientContext) Patient(ctx context.Context) (*datasource.Patient, error) {
	return memo(pc, "patient", func(src datasource.Source) (*datasource.Patient, error) {
		return src.GetPatient(ctx, pc.PatientID)
	})
}

// AgeDays returns the age at trigger, preferring the episode snapshot.
func (pc *PatientContext) AgeDays(ctx context.Context, req Request) (*int, error) {
	if req.AgeDays != nil {
		return req.AgeDays, nil
	}
	p, err := pc.Patient(ctx)
	if err != nil {
		return nil, err
	}
	return AgeDays(p.BirthDate, req.TriggerTime), nil
}

func (pc *PatientContext) Conditions(ctx context.Context) ([]datasource.Condition, error) {
	return memo(pc, "conditions", func(src datasource.Source) ([]datasource.Condition, error) {
		return src.GetPatientConditions(ctx, pc.PatientID)
	})
}

func (pc *PatientContext) Labs(ctx context.Context, codes []string, since time.Time) ([]datasource.LabResult, error) {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	key := fmt.Sprintf("labs|%s|%d", strings.Join(sorted, ","), since.UnixNano())
	return memo(pc, key, func(src datasource.Source) ([]datasource.LabResult, error) {
		return src.GetLabResults(ctx, pc.PatientID, codes, since)
	})
}

func (pc *PatientContext) Vitals(ctx context.Context, since time.Time) ([]datasource.VitalSign, error) {
	key := fmt.Sprintf("vitals|%d", since.UnixNano())
	return memo(pc, key, func(src datasource.Source) ([]datasource.VitalSign, error) {
		return src.GetVitalSigns(ctx, pc.PatientID, since)
	})
}

func (pc *PatientContext) Medications(ctx context.Context, since time.Time) ([]datasource.MedicationAdministration, error) {
	key := fmt.Sprintf("meds|%d", since.UnixNano())
	return memo(pc, key, func(src datasource.Source) ([]datasource.MedicationAdministration, error) {
		return src.GetMedicationAdministrations(ctx, pc.PatientID, since)
	})
}

func (pc *PatientContext) Notes(ctx context.Context, since time.Time, types []string) ([]datasource.Note, error) {
	sorted := append([]string(nil), types...)
	sort.Strings(sorted)
	key := fmt.Sprintf("notes|%s|%d", strings.Join(sorted, ","), since.UnixNano())
	return memo(pc, key, func(src datasource.Source) ([]datasource.Note, error) {
		return src.GetRecentNotes(ctx, pc.PatientID, since, types)
	})
}
