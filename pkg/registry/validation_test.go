package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodychain/custodyflow/pkg/models"
)

func TestValidator_Validate(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		mutate  func(w *models.Workflow)
		problem string
	}{
		{
			name:   "valid workflow",
			mutate: func(*models.Workflow) {},
		},
		{
			name:    "short name",
			mutate:  func(w *models.Workflow) { w.Name = "ab" },
			problem: "Workflow.Name failed on min",
		},
		{
			name:    "no actions",
			mutate:  func(w *models.Workflow) { w.Actions = nil },
			problem: "Workflow.Actions failed on required",
		},
		{
			name:    "unknown trigger type",
			mutate:  func(w *models.Workflow) { w.TriggerType = "WEBHOOK" },
			problem: "unknown trigger type",
		},
		{
			name:    "iot without metric",
			mutate:  func(w *models.Workflow) { w.TriggerConfig = nil },
			problem: "metric is required",
		},
		{
			name: "iot comparison without threshold",
			mutate: func(w *models.Workflow) {
				w.TriggerConfig = map[string]any{"metric": "TEMP_HIGH", "comparison": "GREATER_THAN"}
			},
			problem: "trigger_config",
		},
		{
			name: "iot comparison not allowed",
			mutate: func(w *models.Workflow) {
				w.TriggerConfig = map[string]any{"metric": "TEMP_HIGH", "comparison": "CONTAINS", "threshold": 8}
			},
			problem: "trigger_config",
		},
		{
			name: "unknown operator",
			mutate: func(w *models.Workflow) {
				w.Conditions = []models.Condition{{Field: "value", Operator: "LIKE", Value: 1}}
			},
			problem: `conditions[0]: unknown operator "LIKE"`,
		},
		{
			name: "in with scalar",
			mutate: func(w *models.Workflow) {
				w.Conditions = []models.Condition{{Field: "value", Operator: models.OperatorIn, Value: 1}}
			},
			problem: "IN requires a sequence value",
		},
		{
			name: "unknown action",
			mutate: func(w *models.Workflow) {
				w.Actions = []models.Action{{Type: "EMAIL"}}
			},
			problem: `actions[0]: unknown action type "EMAIL"`,
		},
		{
			name: "notify without roles",
			mutate: func(w *models.Workflow) {
				w.Actions = []models.Action{{Type: models.ActionNotify, Config: map[string]any{"message": "x"}}}
			},
			problem: "roles is required",
		},
		{
			name: "update without fields",
			mutate: func(w *models.Workflow) {
				w.Actions = []models.Action{{Type: models.ActionUpdate, Config: map[string]any{"fields": map[string]any{}}}}
			},
			problem: "actions[0].config",
		},
		{
			name: "approve with zero approvals",
			mutate: func(w *models.Workflow) {
				w.Actions = []models.Action{{Type: models.ActionApprove, Config: map[string]any{
					"required_approvals": 0,
					"approver_roles":     []any{"supervisor"},
				}}}
			},
			problem: "actions[0].config",
		},
		{
			name: "approve with bad timeout",
			mutate: func(w *models.Workflow) {
				w.Actions = []models.Action{{Type: models.ActionApprove, Config: map[string]any{
					"approver_roles": []any{"supervisor"},
					"timeout":        "soon",
				}}}
			},
			problem: "actions[0].config: timeout",
		},
		{
			name: "mint reward with negative amount",
			mutate: func(w *models.Workflow) {
				w.Actions = []models.Action{{Type: models.ActionMintReward, Config: map[string]any{
					"address": "0xabc",
					"amount":  -5,
				}}}
			},
			problem: "amount must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := notifyWorkflow("wf", 1, true)
			tt.mutate(w)

			err := validator.Validate(w)
			if tt.problem == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)

			var cfgErr *models.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Error(), tt.problem)
		})
	}
}

func TestValidator_ScheduleTrigger(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{name: "valid cron utc", config: map[string]any{"cron": "0 9 * * *"}},
		{name: "valid cron with timezone", config: map[string]any{"cron": "*/15 * * * *", "timezone": "America/New_York"}},
		{name: "descriptor", config: map[string]any{"cron": "@hourly"}},
		{name: "missing cron", config: map[string]any{}, wantErr: true},
		{name: "bad cron", config: map[string]any{"cron": "every day"}, wantErr: true},
		{name: "bad timezone", config: map[string]any{"cron": "0 9 * * *", "timezone": "Mars/Olympus"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := notifyWorkflow("nightly", 1, true)
			w.TriggerType = models.TriggerSchedule
			w.TriggerConfig = tt.config

			err := validator.Validate(w)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
