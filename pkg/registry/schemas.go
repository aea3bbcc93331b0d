package registry

import "github.com/custodychain/custodyflow/pkg/models"

var triggerConfigSchemas = map[models.TriggerType]map[string]any{
	models.TriggerIoTAlert: {
		"type":     "object",
		"required": []any{"metric"},
		"properties": map[string]any{
			"metric": map[string]any{"type": "string", "minLength": 1},
			"comparison": map[string]any{
				"type": "string",
				"enum": []any{
					string(models.OperatorGreaterThan),
					string(models.OperatorLessThan),
					string(models.OperatorEquals),
				},
			},
			"threshold": map[string]any{"type": "number"},
		},
		"dependencies": map[string]any{
			"comparison": []any{"threshold"},
			"threshold":  []any{"comparison"},
		},
	},
	models.TriggerCustodyEvent: {
		"type": "object",
		"properties": map[string]any{
			"event_type": map[string]any{"type": "string", "minLength": 1},
			"from_role":  map[string]any{"type": "string", "minLength": 1},
			"to_role":    map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.TriggerManual: {
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.TriggerSchedule: {
		"type":     "object",
		"required": []any{"cron"},
		"properties": map[string]any{
			"cron":     map[string]any{"type": "string", "minLength": 1},
			"timezone": map[string]any{"type": "string"},
		},
	},
}

var rolesSchema = map[string]any{
	"type":     "array",
	"minItems": 1,
	"items":    map[string]any{"type": "string", "minLength": 1},
}

var actionConfigSchemas = map[models.ActionType]map[string]any{
	models.ActionQuarantine: {
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string"},
		},
	},
	models.ActionUpdate: {
		"type":     "object",
		"required": []any{"fields"},
		"properties": map[string]any{
			"fields": map[string]any{"type": "object", "minProperties": 1},
		},
	},
	models.ActionNotify: {
		"type":     "object",
		"required": []any{"roles", "message"},
		"properties": map[string]any{
			"roles":   rolesSchema,
			"message": map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.ActionAlert: {
		"type":     "object",
		"required": []any{"roles", "message"},
		"properties": map[string]any{
			"roles":    rolesSchema,
			"message":  map[string]any{"type": "string", "minLength": 1},
			"severity": map[string]any{"type": "string", "enum": []any{"LOW", "MEDIUM", "HIGH", "CRITICAL"}},
		},
	},
	models.ActionApprove: {
		"type":     "object",
		"required": []any{"approver_roles"},
		"properties": map[string]any{
			"required_approvals": map[string]any{"type": "integer", "minimum": 1},
			"approver_roles":     rolesSchema,
			"timeout":            map[string]any{"type": "string", "minLength": 1},
		},
	},
	models.ActionMintReward: {
		"type":     "object",
		"required": []any{"address", "amount"},
		"properties": map[string]any{
			"address": map[string]any{"type": "string", "minLength": 1},
			"amount":  map[string]any{"type": "number"},
			"reason":  map[string]any{"type": "string"},
		},
	},
}
