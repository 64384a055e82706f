package bundles

import (
	"errors"
	"fmt"
	"sort"
)

// Registry is the read-only set of bundle definitions loaded at startup.
type Registry struct {
	defs    map[string]Definition
	order   []string
	enabled map[string]bool
}

// NewRegistry validates defs and restricts the enabled set to enabledIDs.
// An empty enabledIDs enables every definition whose Enabled flag is unset or true.
func NewRegistry(defs []Definition, enabledIDs []string) (*Registry, error) {
	r := &Registry{
		defs:    make(map[string]Definition, len(defs)),
		enabled: make(map[string]bool, len(defs)),
	}
	for _, def := range defs {
		if err := Validate(def); err != nil {
			return nil, err
		}
		if _, dup := r.defs[def.ID]; dup {
			return nil, fmt.Errorf("duplicate bundle id %q", def.ID)
		}
		r.defs[def.ID] = def
		r.order = append(r.order, def.ID)
	}

	if len(enabledIDs) == 0 {
		for _, id := range r.order {
			r.enabled[id] = r.defs[id].IsEnabled()
		}
		return r, nil
	}
	for _, id := range enabledIDs {
		if _, ok := r.defs[id]; !ok {
			return nil, fmt.Errorf("enabled bundle %q not in catalog", id)
		}
		r.enabled[id] = true
	}
	return r, nil
}

func (r *Registry) Get(id string) (Definition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// All returns every definition in catalog order, enabled or not.
func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

func (r *Registry) ListEnabled() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		if r.enabled[id] {
			out = append(out, r.defs[id])
		}
	}
	return out
}

// ApplicableBundles returns the enabled bundles with at least one trigger
// matching the supplied signals.
func (r *Registry) ApplicableBundles(signals PatientSignals) []Definition {
	var out []Definition
	for _, def := range r.ListEnabled() {
		if matchesAnyTrigger(def, signals) {
			out = append(out, def)
		}
	}
	return out
}

func matchesAnyTrigger(def Definition, signals PatientSignals) bool {
	for _, trig := range def.Triggers {
		if !trig.MatchesAge(signals.AgeDays) {
			continue
		}
		for _, code := range signals.codes(trig.Kind) {
			if trig.MatchesCode(code) {
				return true
			}
		}
	}
	return false
}

// CheckerKinds lists the distinct checker kinds referenced by enabled bundles.
func (r *Registry) CheckerKinds() []CheckerKind {
	seen := make(map[CheckerKind]bool)
	for _, def := range r.ListEnabled() {
		for _, el := range def.Elements {
			seen[el.Checker] = true
		}
	}
	out := make([]CheckerKind, 0, len(seen))
	for kind := range seen {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate reports structural problems in one definition.
func Validate(def Definition) error {
	var errs []error
	if def.ID == "" {
		return errors.New("bundle id is required")
	}
	if def.Name == "" {
		errs = append(errs, fmt.Errorf("bundle %s: name is required", def.ID))
	}
	if len(def.Elements) == 0 {
		errs = append(errs, fmt.Errorf("bundle %s: no elements", def.ID))
	}
	if len(def.Triggers) == 0 {
		errs = append(errs, fmt.Errorf("bundle %s: no trigger criteria", def.ID))
	}

	ids := make(map[string]bool, len(def.Elements))
	for _, el := range def.Elements {
		if el.ID == "" {
			errs = append(errs, fmt.Errorf("bundle %s: element without id", def.ID))
			continue
		}
		if ids[el.ID] {
			errs = append(errs, fmt.Errorf("bundle %s: duplicate element %s", def.ID, el.ID))
		}
		ids[el.ID] = true
		if !el.Checker.Valid() {
			errs = append(errs, fmt.Errorf("bundle %s: element %s has unknown checker kind %q", def.ID, el.ID, el.Checker))
		}
		if el.WindowHours != nil && *el.WindowHours <= 0 {
			errs = append(errs, fmt.Errorf("bundle %s: element %s window must be positive", def.ID, el.ID))
		}
	}

	for i, trig := range def.Triggers {
		if !trig.Kind.Valid() {
			errs = append(errs, fmt.Errorf("bundle %s: trigger %d has unknown kind %q", def.ID, i, trig.Kind))
		}
		if len(trig.CodePrefixes) == 0 {
			errs = append(errs, fmt.Errorf("bundle %s: trigger %d has no code prefixes", def.ID, i))
		}
		if trig.MinAgeDays != nil && trig.MaxAgeDays != nil && *trig.MinAgeDays > *trig.MaxAgeDays {
			errs = append(errs, fmt.Errorf("bundle %s: trigger %d min age exceeds max age", def.ID, i))
		}
	}
	return errors.Join(errs...)
}
