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

type NoteChecker struct {
	catalog terminology.Catalog
}

func NewNoteChecker(deps Deps) *NoteChecker {
	return &NoteChecker{catalog: deps.Catalog}
}

func (c *NoteChecker) Kind() bundles.CheckerKind {
	return bundles.KindNote
}

func (c *NoteChecker) Supports(elementID string) bool {
	m, ok := c.catalog.Element(elementID)
	return ok && len(m.NoteKeywords) > 0
}

func (c *NoteChecker) Check(ctx context.Context, req Request) (models.CheckResult, error) {
	mapping, ok := c.catalog.Element(req.Element.ID)
	if !ok || len(mapping.NoteKeywords) == 0 {
		return models.CheckResult{}, configError(req.Element.ID, "no note keywords mapped")
	}
	found, err := noteEvidence(ctx, req, mapping.NoteKeywords, mapping.NoteTypes, req.TriggerTime)
	if err != nil {
		return models.CheckResult{}, err
	}
	return resolve(req, found, "documentation"), nil
}

func noteEvidence(ctx context.Context, req Request, keywords, types []string, since time.Time) ([]evidence, error) {
	notes, err := req.Context.Notes(ctx, since, types)
	if err != nil {
		return nil, err
	}
	var out []evidence
	for _, n := range notes {
		kw, ok := terminology.ContainsAny(n.Text, keywords)
		if !ok {
			continue
		}
		out = append(out, evidence{
			at:    n.Time,
			value: kw,
			notes: fmt.Sprintf("Documented in %s at %s", noteLabel(n), stamp(n.Time)),
		})
	}
	return out, nil
}

// notesMentioning returns notes at or before until that contain any keyword.
func notesMentioning(notes []datasource.Note, keywords []string, until time.Time) []datasource.Note {
	var out []datasource.Note
	for _, n := range notes {
		if n.Time.After(until) {
			continue
		}
		if _, ok := terminology.ContainsAny(n.Text, keywords); ok {
			out = append(out, n)
		}
	}
	return out
}

func noteTexts(notes []datasource.Note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		if n.Text != "" {
			out = append(out, n.Text)
		}
	}
	return out
}

func noteLabel(n datasource.Note) string {
	if n.Type == "" {
		return "note"
	}
	return n.Type
}
