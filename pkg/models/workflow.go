// Package models defines the core domain models of the custody workflow engine.
package models

import "time"

// TriggerType is the event class that makes a workflow eligible for evaluation.
type TriggerType string

const (
	TriggerIoTAlert     TriggerType = "IOT_ALERT"
	TriggerCustodyEvent TriggerType = "CUSTODY_EVENT"
	TriggerManual       TriggerType = "MANUAL"
	TriggerSchedule     TriggerType = "SCHEDULE"
)

// TriggerTypes lists every supported trigger type in a stable order.
var TriggerTypes = []TriggerType{TriggerIoTAlert, TriggerCustodyEvent, TriggerManual, TriggerSchedule}

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Workflow is a named, versioned rule. A workflow loaded into a registry snapshot
// is never mutated; updates produce a new version.
type Workflow struct {
	ID            string         `json:"id"             validate:"required"`
	Name          string         `json:"name"           validate:"required,min=3"`
	Description   string         `json:"description,omitempty"`
	Version       int            `json:"version"`
	Priority      int            `json:"priority"`
	IsActive      bool           `json:"is_active"`
	TriggerType   TriggerType    `json:"trigger_type"   validate:"required"`
	TriggerConfig map[string]any `json:"trigger_config"`
	Conditions    []Condition    `json:"conditions"     validate:"dive"`
	Actions       []Action       `json:"actions"        validate:"required,min=1,dive"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the workflow so that a registry snapshot never
// shares mutable state with the caller that loaded it.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	clone := *w
	clone.TriggerConfig = cloneMap(w.TriggerConfig)

	clone.Conditions = make([]Condition, len(w.Conditions))
	for i, c := range w.Conditions {
		clone.Conditions[i] = Condition{Field: c.Field, Operator: c.Operator, Value: cloneValue(c.Value)}
	}

	clone.Actions = make([]Action, len(w.Actions))
	for i, a := range w.Actions {
		clone.Actions[i] = Action{Type: a.Type, Config: cloneMap(a.Config)}
	}

	return &clone
}

// Key identifies one version of a workflow.
func (w *Workflow) Key() VersionKey {
	return VersionKey{WorkflowID: w.ID, Version: w.Version}
}

// VersionKey identifies a workflow version.
type VersionKey struct {
	WorkflowID string
	Version    int
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}

	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}

		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
