package episodes

import (
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
)

// Adherence is the aggregate view of an episode's elements.
type Adherence struct {
	Total      int
	Applicable int
	Met        int
	NotMet     int
	Pending    int
	Percentage float64
	Level      string
}

// ComputeAdherence counts element statuses. Applicable is MET + NOT_MET;
// percentage is exactly met/applicable*100, or 0 when nothing is applicable.
// Rounding is left to whoever displays it.
func ComputeAdherence(elements []models.ElementResult) Adherence {
	a := Adherence{Total: len(elements)}
	for _, el := range elements {
		switch el.Status {
		case models.ElementMet:
			a.Met++
		case models.ElementNotMet:
			a.NotMet++
		case models.ElementPending:
			a.Pending++
		}
	}
	a.Applicable = a.Met + a.NotMet
	if a.Applicable > 0 {
		a.Percentage = float64(a.Met) / float64(a.Applicable) * 100
	}
	a.Level = AdherenceLevel(a.Percentage, a.Applicable)
	return a
}

// AdherenceLevel is full at 100%, partial at 50% or more, low below. It is
// empty while no element is applicable.
func AdherenceLevel(pct float64, applicable int) string {
	switch {
	case applicable == 0:
		return ""
	case pct >= 100:
		return models.AdherenceFull
	case pct >= 50:
		return models.AdherencePartial
	default:
		return models.AdherenceLow
	}
}

func (a Adherence) applyTo(ep *models.Episode) {
	ep.ElementsTotal = a.Total
	ep.ElementsApplicable = a.Applicable
	ep.ElementsMet = a.Met
	ep.ElementsNotMet = a.NotMet
	ep.ElementsPending = a.Pending
	ep.AdherencePercentage = a.Percentage
	ep.AdherenceLevel = a.Level
}

func (a Adherence) equals(ep models.Episode) bool {
	return ep.ElementsTotal == a.Total &&
		ep.ElementsApplicable == a.Applicable &&
		ep.ElementsMet == a.Met &&
		ep.ElementsNotMet == a.NotMet &&
		ep.ElementsPending == a.Pending &&
		ep.AdherencePercentage == a.Percentage &&
		ep.AdherenceLevel == a.Level
}
