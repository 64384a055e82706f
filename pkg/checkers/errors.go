package checkers

import (
	"errors"
	"fmt"

	"github.com/haslamdb/aegis-sub000/pkg/bundles"
)

// InternalError is an unexpected fault inside one checker, including a
// recovered panic. It is isolated to the element being evaluated.
type InternalError struct {
	Checker   bundles.CheckerKind
	ElementID string
	Err       error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s checker failed on %s: %v", e.Checker, e.ElementID, e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an element that cannot be evaluated as configured,
// such as an unknown element id or a missing code mapping.
type ConfigurationError struct {
	ElementID string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for element %s: %s", e.ElementID, e.Reason)
}

func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func configError(elementID, format string, args ...interface{}) error {
	return &ConfigurationError{ElementID: elementID, Reason: fmt.Sprintf(format, args...)}
}
