package checkers

import (
	"context"
	"fmt"
	"time"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

// RepeatLactateElementID selects the conditional repeat-lactate variant.
const RepeatLactateElementID = "sepsis_repeat_lactate"

type LabChecker struct {
	catalog    terminology.Catalog
	thresholds config.Thresholds
}

func NewLabChecker(deps Deps) *LabChecker {
	return &LabChecker{catalog: deps.Catalog, thresholds: deps.Thresholds}
}

func (c *LabChecker) Kind() bundles.CheckerKind {
	return bundles.KindLab
}

func (c *LabChecker) Supports(elementID string) bool {
	m, ok := c.catalog.Element(elementID)
	return ok && len(m.Concepts) > 0
}

func (c *LabChecker) Check(ctx context.Context, req Request) (models.CheckResult, error) {
	codes, err := elementLabCodes(c.catalog, req.Element.ID)
	if err != nil {
		return models.CheckResult{}, err
	}
	if req.Element.ID == RepeatLactateElementID {
		return c.checkRepeatLactate(ctx, req, codes)
	}
	labs, err := req.Context.Labs(ctx, codes, req.TriggerTime)
	if err != nil {
		return models.CheckResult{}, err
	}
	return resolve(req, labEvidence(labs), "result"), nil
}

// checkRepeatLactate is NOT_APPLICABLE whenever the initial lactate did not
// exceed the threshold, regardless of later draws.
func (c *LabChecker) checkRepeatLactate(ctx context.Context, req Request, codes []string) (models.CheckResult, error) {
	labs, err := req.Context.Labs(ctx, codes, req.TriggerTime)
	if err != nil {
		return models.CheckResult{}, err
	}

	var initial *datasource.LabResult
	for i := range labs {
		if labs[i].Value != nil {
			initial = &labs[i]
			break
		}
	}
	if initial == nil {
		return pendingOrUnable(req, "Initial lactate not resulted; repeat cannot be assessed"), nil
	}

	threshold := c.thresholds.LactateMmolL
	if *initial.Value <= threshold {
		return notApplicable(req.Element.ID, fmt.Sprintf("Initial lactate %g mmol/L did not exceed %g mmol/L", *initial.Value, threshold)), nil
	}

	var repeats []evidence
	for _, l := range labs {
		if l.Value == nil || !l.Time.After(initial.Time) {
			continue
		}
		repeats = append(repeats, evidence{
			at:    l.Time,
			value: l.DisplayValue(),
			notes: fmt.Sprintf("Repeat lactate at %s after initial %g mmol/L", stamp(l.Time), *initial.Value),
		})
	}
	return resolve(req, repeats, "repeat lactate"), nil
}

func elementLabCodes(cat terminology.Catalog, elementID string) ([]string, error) {
	mapping, ok := cat.Element(elementID)
	if !ok || len(mapping.Concepts) == 0 {
		return nil, configError(elementID, "no lab concepts mapped")
	}
	codes, err := cat.LabCodes(mapping.Concepts...)
	if err != nil {
		return nil, configError(elementID, "%v", err)
	}
	return codes, nil
}

func labEvidence(labs []datasource.LabResult) []evidence {
	out := make([]evidence, 0, len(labs))
	for _, l := range labs {
		name := l.Display
		if name == "" {
			name = l.Code
		}
		out = append(out, evidence{
			at:    l.Time,
			value: l.DisplayValue(),
			notes: fmt.Sprintf("%s resulted at %s", name, stamp(l.Time)),
		})
	}
	return out
}

// conceptLabs fetches results for catalog concepts from since onward.
func conceptLabs(ctx context.Context, req Request, cat terminology.Catalog, since time.Time, concepts ...string) ([]datasource.LabResult, error) {
	codes, err := cat.LabCodes(concepts...)
	if err != nil {
		return nil, configError(req.Element.ID, "%v", err)
	}
	return req.Context.Labs(ctx, codes, since)
}
