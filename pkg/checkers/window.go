package checkers

import (
	"fmt"
	"sort"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/common/models"
)

// Deadline is trigger + window, or nil when there is no window.
func Deadline(trigger time.Time, windowHours *float64) *time.Time {
	if windowHours == nil {
		return nil
	}
	d := trigger.Add(time.Duration(*windowHours * float64(time.Hour)))
	return &d
}

// WithinWindow reports whether now is at or before the deadline. Elements
// without a window are always within it.
func WithinWindow(trigger time.Time, windowHours *float64, now time.Time) bool {
	deadline := Deadline(trigger, windowHours)
	return deadline == nil || !now.After(*deadline)
}

// evidence is one timestamped observation that can satisfy an element.
type evidence struct {
	at    time.Time
	value string
	notes string
}

// resolve picks the earliest evidence at or before the deadline. Without
// qualifying evidence the element stays PENDING until the window expires,
// then becomes NOT_MET.
func resolve(req Request, found []evidence, what string) models.CheckResult {
	sort.SliceStable(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	deadline := Deadline(req.TriggerTime, req.Element.WindowHours)

	for _, ev := range found {
		if deadline == nil || !ev.at.After(*deadline) {
			return met(req.Element.ID, ev.value, ev.notes, ev.at)
		}
	}

	if WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now) {
		if len(found) > 0 {
			return pending(req.Element.ID, fmt.Sprintf("%s found after deadline; window still open", what))
		}
		return pending(req.Element.ID, fmt.Sprintf("Awaiting %s", what))
	}
	if len(found) > 0 {
		return notMet(req.Element.ID, found[0].value, fmt.Sprintf("First %s at %s, after deadline %s",
			what, stamp(found[0].at), stamp(*deadline)))
	}
	return notMet(req.Element.ID, "", fmt.Sprintf("No %s within %s-hour window", what, hoursLabel(req.Element.WindowHours)))
}

// pendingOrUnable keeps the element pending while its window is open and
// reports it unassessable afterwards.
func pendingOrUnable(req Request, reason string) models.CheckResult {
	if WithinWindow(req.TriggerTime, req.Element.WindowHours, req.Now) {
		return pending(req.Element.ID, reason)
	}
	return unable(req.Element.ID, reason)
}

func met(elementID, value, notes string, at time.Time) models.CheckResult {
	completed := at
	return models.CheckResult{ElementID: elementID, Status: models.ElementMet, Value: value, Notes: notes, CompletedAt: &completed}
}

func notMet(elementID, value, notes string) models.CheckResult {
	return models.CheckResult{ElementID: elementID, Status: models.ElementNotMet, Value: value, Notes: notes}
}

func pending(elementID, notes string) models.CheckResult {
	return models.CheckResult{ElementID: elementID, Status: models.ElementPending, Notes: notes}
}

func notApplicable(elementID, notes string) models.CheckResult {
	return models.CheckResult{ElementID: elementID, Status: models.ElementNotApplicable, Notes: notes}
}

func unable(elementID, notes string) models.CheckResult {
	return models.CheckResult{ElementID: elementID, Status: models.ElementUnableToAssess, Notes: notes}
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04Z")
}

func hoursLabel(windowHours *float64) string {
	if windowHours == nil {
		return "unbounded"
	}
	return fmt.Sprintf("%g", *windowHours)
}
