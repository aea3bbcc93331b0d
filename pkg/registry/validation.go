package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/custodychain/custodyflow/pkg/models"
)

// Validator checks workflow definitions before they enter a snapshot.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a workflow validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns a *models.ConfigError listing every problem of w, or nil.
func (v *Validator) Validate(w *models.Workflow) error {
	cfgErr := &models.ConfigError{WorkflowID: w.ID}

	if err := v.validate.Struct(w); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				cfgErr.Add("%s failed on %s", fe.Namespace(), fe.Tag())
			}
		} else {
			cfgErr.Add("%v", err)
		}
	}

	if !w.TriggerType.Valid() {
		cfgErr.Add("unknown trigger type %q", w.TriggerType)
	} else {
		v.validateTrigger(w, cfgErr)
	}

	for i, condition := range w.Conditions {
		validateCondition(i, condition, cfgErr)
	}

	for i, action := range w.Actions {
		validateAction(i, action, cfgErr)
	}

	return cfgErr.Err()
}

func (v *Validator) validateTrigger(w *models.Workflow, cfgErr *models.ConfigError) {
	config := w.TriggerConfig
	if config == nil {
		config = map[string]any{}
	}

	for _, problem := range validateSchema(triggerConfigSchemas[w.TriggerType], config) {
		cfgErr.Add("trigger_config: %s", problem)
	}

	if w.TriggerType != models.TriggerSchedule {
		return
	}

	schedule := w.ScheduleConfig()
	if schedule.Cron != "" {
		if _, err := models.ParseCron(schedule.Cron); err != nil {
			cfgErr.Add("trigger_config.cron: %v", err)
		}
	}

	if _, err := models.LoadLocation(schedule.Timezone); err != nil {
		cfgErr.Add("trigger_config.timezone: %v", err)
	}
}

func validateCondition(i int, condition models.Condition, cfgErr *models.ConfigError) {
	if strings.TrimSpace(condition.Field) == "" {
		cfgErr.Add("conditions[%d].field is empty", i)
	}

	if !condition.Operator.Valid() {
		cfgErr.Add("conditions[%d]: unknown operator %q", i, condition.Operator)

		return
	}

	if condition.Operator == models.OperatorIn && !isSequence(condition.Value) {
		cfgErr.Add("conditions[%d]: IN requires a sequence value", i)
	}
}

func validateAction(i int, action models.Action, cfgErr *models.ConfigError) {
	if !action.Type.Valid() {
		cfgErr.Add("actions[%d]: unknown action type %q", i, action.Type)

		return
	}

	config := action.Config
	if config == nil {
		config = map[string]any{}
	}

	for _, problem := range validateSchema(actionConfigSchemas[action.Type], config) {
		cfgErr.Add("actions[%d].config: %s", i, problem)
	}

	switch action.Type {
	case models.ActionApprove:
		if _, err := action.Duration("timeout", models.DefaultApprovalTimeout); err != nil {
			cfgErr.Add("actions[%d].config: %v", i, err)
		}
	case models.ActionMintReward:
		if amount, ok := action.Float("amount"); ok && amount <= 0 {
			cfgErr.Add("actions[%d].config: amount must be positive", i)
		}
	}
}

func validateSchema(schema map[string]any, data map[string]any) []string {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return []string{fmt.Sprintf("schema validation failed: %v", err)}
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		problems = append(problems, resultErr.String())
	}

	return problems
}

func isSequence(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []float64:
		return true
	default:
		return false
	}
}
