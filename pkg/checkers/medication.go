package checkers

import (
	"context"
	"fmt"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

type MedicationChecker struct {
	catalog terminology.Catalog
}

func NewMedicationChecker(deps Deps) *MedicationChecker {
	return &MedicationChecker{catalog: deps.Catalog}
}

func (c *MedicationChecker) Kind() bundles.CheckerKind {
	return bundles.KindMedication
}

func (c *MedicationChecker) Supports(elementID string) bool {
	m, ok := c.catalog.Element(elementID)
	return ok && len(m.MedicationKeywords) > 0
}

func (c *MedicationChecker) Check(ctx context.Context, req Request) (models.CheckResult, error) {
	mapping, ok := c.catalog.Element(req.Element.ID)
	if !ok || len(mapping.MedicationKeywords) == 0 {
		return models.CheckResult{}, configError(req.Element.ID, "no medication keywords mapped")
	}
	found, err := medicationEvidence(ctx, req, mapping.MedicationKeywords, req.TriggerTime)
	if err != nil {
		return models.CheckResult{}, err
	}
	return resolve(req, found, "administration"), nil
}

func medicationEvidence(ctx context.Context, req Request, keywords []string, since time.Time) ([]evidence, error) {
	meds, err := req.Context.Medications(ctx, since)
	if err != nil {
		return nil, err
	}
	var out []evidence
	for _, med := range matchingMedications(meds, keywords) {
		out = append(out, evidence{
			at:    med.Time,
			value: med.Name,
			notes: fmt.Sprintf("%s administered at %s", med.Name, stamp(med.Time)),
		})
	}
	return out, nil
}

// matchingMedications keeps given administrations whose name contains a keyword.
func matchingMedications(meds []datasource.MedicationAdministration, keywords []string) []datasource.MedicationAdministration {
	var out []datasource.MedicationAdministration
	for _, med := range meds {
		if !med.Given() {
			continue
		}
		if _, ok := terminology.ContainsAny(med.Name, keywords); ok {
			out = append(out, med)
		}
	}
	return out
}
