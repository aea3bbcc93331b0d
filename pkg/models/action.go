package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActionType names one unit of effect dispatched when a workflow matches.
type ActionType string

const (
	ActionQuarantine ActionType = "QUARANTINE"
	ActionUpdate     ActionType = "UPDATE"
	ActionNotify     ActionType = "NOTIFY"
	ActionAlert      ActionType = "ALERT"
	ActionApprove    ActionType = "APPROVE"
	ActionMintReward ActionType = "MINT_REWARD"
)

var actionTypes = map[ActionType]struct{}{
	ActionQuarantine: {},
	ActionUpdate:     {},
	ActionNotify:     {},
	ActionAlert:      {},
	ActionApprove:    {},
	ActionMintReward: {},
}

// Valid reports whether t is a supported action type.
func (t ActionType) Valid() bool {
	_, ok := actionTypes[t]

	return ok
}

// Mutates reports whether the action changes subject state through the state store.
func (t ActionType) Mutates() bool {
	return t == ActionQuarantine || t == ActionUpdate
}

// Action is one configured step of a workflow.
type Action struct {
	Type   ActionType     `json:"type"   validate:"required"`
	Config map[string]any `json:"config"`
}

// String returns the config value under key when it is a string.
func (a Action) String(key string) string {
	s, _ := a.Config[key].(string)

	return s
}

// Strings returns the config value under key as a string slice. Both []string
// and []any holding strings are accepted, the latter being what JSON decoding produces.
func (a Action) Strings(key string) []string {
	switch v := a.Config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}

		return out
	case string:
		if v == "" {
			return nil
		}

		return []string{v}
	default:
		return nil
	}
}

// Int returns the config value under key as an int, accepting the numeric
// representations produced by JSON and YAML decoders.
func (a Action) Int(key string) (int, bool) {
	switch v := a.Config[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}

		return int(v), true
	default:
		return 0, false
	}
}

// Float returns the config value under key as a float64.
func (a Action) Float(key string) (float64, bool) {
	switch v := a.Config[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

// Duration parses the config value under key as a Go duration string, falling
// back to def when the key is absent.
func (a Action) Duration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := a.Config[key]
	if !ok || raw == nil {
		return def, nil
	}

	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("%s must be a duration string", key)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}

	return d, nil
}
