package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidWorkflow is the sentinel every ConfigError matches.
var ErrInvalidWorkflow = errors.New("invalid workflow configuration")

// ConfigError lists every problem found while validating one workflow.
type ConfigError struct {
	WorkflowID string
	Problems   []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("workflow %s rejected: %s", e.WorkflowID, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidWorkflow) hold for every ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidWorkflow
}

// Add records a problem.
func (e *ConfigError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Err returns e when it holds problems, nil otherwise.
func (e *ConfigError) Err() error {
	if len(e.Problems) == 0 {
		return nil
	}

	return e
}

// IsConfigError reports whether err is a workflow configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow)
}
