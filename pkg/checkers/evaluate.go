package checkers

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/common/models"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
)

// Outcome classifies one element evaluation.
type Outcome int

const (
	// OutcomeNoData means evidence is not available yet; the element stays PENDING.
	OutcomeNoData Outcome = iota
	// OutcomeFailure is a hard failure; the element is left untouched and retried next pass.
	OutcomeFailure
	// OutcomeResolved carries a terminal status.
	OutcomeResolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoData:
		return "no_data"
	case OutcomeFailure:
		return "failure"
	case OutcomeResolved:
		return "resolved"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Evaluation struct {
	Outcome Outcome
	Result  models.CheckResult
	Err     error
}

// Evaluate runs one check behind the per-element failure boundary. Panics
// and errors never escape; they are logged and classified.
func Evaluate(ctx context.Context, c Checker, req Request) (ev Evaluation) {
	fields := logrus.Fields{
		"episode_id": req.EpisodeID,
		"element_id": req.Element.ID,
		"checker":    string(c.Kind()),
		"patient_id": req.PatientID,
	}

	defer func() {
		if r := recover(); r != nil {
			err := &InternalError{Checker: c.Kind(), ElementID: req.Element.ID, Err: fmt.Errorf("panic: %v", r)}
			logger.WithFields(fields).WithError(err).Error("Checker panicked")
			ev = Evaluation{Outcome: OutcomeFailure, Err: err}
		}
	}()

	result, err := c.Check(ctx, req)
	if err != nil {
		return classify(c, req, err, fields)
	}

	result.ElementID = req.Element.ID
	if !result.Status.Valid() {
		err := &InternalError{Checker: c.Kind(), ElementID: req.Element.ID, Err: fmt.Errorf("invalid status %q", result.Status)}
		logger.WithFields(fields).WithError(err).Error("Checker returned invalid status")
		return Evaluation{Outcome: OutcomeFailure, Err: err}
	}
	if result.Status == models.ElementPending {
		return Evaluation{Outcome: OutcomeNoData, Result: result}
	}
	return Evaluation{Outcome: OutcomeResolved, Result: result}
}

func classify(c Checker, req Request, err error, fields logrus.Fields) Evaluation {
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		logger.WithFields(fields).WithError(err).Error("Element misconfigured")
		return Evaluation{
			Outcome: OutcomeResolved,
			Result:  unable(req.Element.ID, "Configuration error: "+cfgErr.Reason),
			Err:     err,
		}
	case errors.Is(err, datasource.ErrNotFound):
		logger.WithFields(fields).WithError(err).Warn("Patient record not found")
		return Evaluation{
			Outcome: OutcomeResolved,
			Result:  unable(req.Element.ID, "Patient record not found in clinical data source"),
			Err:     err,
		}
	case errors.Is(err, datasource.ErrUnavailable):
		logger.WithFields(fields).WithError(err).Warn("Clinical data source unavailable")
		return Evaluation{Outcome: OutcomeFailure, Err: err}
	default:
		internal := &InternalError{Checker: c.Kind(), ElementID: req.Element.ID, Err: err}
		logger.WithFields(fields).WithError(internal).Error("Checker failed")
		return Evaluation{Outcome: OutcomeFailure, Err: internal}
	}
}
