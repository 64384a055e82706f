// Package checkers evaluates bundle elements against clinical evidence.
package checkers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/nlp"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

// Request is one element check for one patient as of a trigger time.
type Request struct {
	Element     bundles.Element
	EpisodeID   string
	PatientID   string
	TriggerTime time.Time
	Now         time.Time
	// AgeDays is the age snapshot taken at episode creation, if any.
	AgeDays *int
	Context *PatientContext
}

// Checker decides the status of one element. Missing evidence is reported
// as PENDING or NOT_MET, never as an error.
type Checker interface {
	Kind() bundles.CheckerKind
	Supports(elementID string) bool
	Check(ctx context.Context, req Request) (models.CheckResult, error)
}

// Advisor is implemented by checkers that derive an episode-level advisory
// from the element results they own.
type Advisor interface {
	Advise(elements []models.ElementResult) (string, bool)
}

// Deps are the collaborators shared by the built-in checkers.
type Deps struct {
	Catalog    terminology.Catalog
	Thresholds config.Thresholds
	// Classifier is optional; protocol checkers fall back to keyword voting.
	Classifier nlp.Classifier
}

// Registry binds each checker kind to exactly one implementation.
type Registry struct {
	checkers map[bundles.CheckerKind]Checker
}

func NewRegistry(cs ...Checker) (*Registry, error) {
	r := &Registry{checkers: make(map[bundles.CheckerKind]Checker, len(cs))}
	for _, c := range cs {
		if !c.Kind().Valid() {
			return nil, fmt.Errorf("checker %T has unknown kind %q", c, c.Kind())
		}
		if _, dup := r.checkers[c.Kind()]; dup {
			return nil, fmt.Errorf("checker kind %q bound twice", c.Kind())
		}
		r.checkers[c.Kind()] = c
	}
	return r, nil
}

// DefaultRegistry binds every built-in checker kind.
func DefaultRegistry(deps Deps) *Registry {
	r, err := NewRegistry(
		NewLabChecker(deps),
		NewMedicationChecker(deps),
		NewNoteChecker(deps),
		NewFebrileInfantChecker(deps),
		NewNeonatalHSVChecker(deps),
		NewCDiffTestingChecker(deps),
	)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) For(kind bundles.CheckerKind) (Checker, bool) {
	c, ok := r.checkers[kind]
	return c, ok
}

// Advisors returns the bound checkers that produce episode advisories.
func (r *Registry) Advisors() map[bundles.CheckerKind]Advisor {
	out := make(map[bundles.CheckerKind]Advisor)
	for kind, c := range r.checkers {
		if a, ok := c.(Advisor); ok {
			out[kind] = a
		}
	}
	return out
}

// Validate fails when a bundle element names an unbound kind or an element
// its checker cannot evaluate. It runs at startup.
func (r *Registry) Validate(defs []bundles.Definition) error {
	var errs []error
	for _, def := range defs {
		for _, el := range def.Elements {
			c, ok := r.checkers[el.Checker]
			if !ok {
				errs = append(errs, &ConfigurationError{ElementID: el.ID, Reason: fmt.Sprintf("bundle %s: no checker bound for kind %q", def.ID, el.Checker)})
				continue
			}
			if !c.Supports(el.ID) {
				errs = append(errs, &ConfigurationError{ElementID: el.ID, Reason: fmt.Sprintf("bundle %s: %s checker has no mapping for element", def.ID, el.Checker)})
			}
		}
	}
	return errors.Join(errs...)
}
