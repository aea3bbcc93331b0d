// Package conditions evaluates workflow conditions against entity snapshots.
//
// Evaluation is pure: it never performs I/O and never mutates the snapshot.
// Anything that cannot be evaluated (missing field, incomparable operands,
// unknown operator) makes the condition false and is reported through the
// logger, never as an error.
package conditions

import (
	"log/slog"
	"strings"

	"github.com/custodychain/custodyflow/pkg/models"
)

// Evaluator matches condition lists against snapshots.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an evaluator that logs diagnostics to logger.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With("module", "condition_evaluator")}
}

// Matches reports whether every condition holds for the snapshot. An empty
// condition list matches unconditionally. The error result is always nil;
// evaluation problems degrade to false.
func (e *Evaluator) Matches(snapshot map[string]any, conditions []models.Condition) (bool, error) {
	for i, condition := range conditions {
		if !e.evaluate(snapshot, condition) {
			e.logger.Debug("Condition not satisfied",
				"index", i,
				"field", condition.Field,
				"operator", condition.Operator)

			return false, nil
		}
	}

	return true, nil
}

func (e *Evaluator) evaluate(snapshot map[string]any, condition models.Condition) bool {
	raw, found := Resolve(snapshot, condition.Field)
	if !found {
		return false
	}

	field := Of(raw)
	expected := Of(condition.Value)

	switch condition.Operator {
	case models.OperatorEquals:
		return field.Equal(expected)

	case models.OperatorNotEquals:
		return !field.Equal(expected)

	case models.OperatorGreaterThan, models.OperatorLessThan:
		cmp, ok := Compare(field, expected)
		if !ok {
			e.logger.Warn("Operands are not comparable",
				"field", condition.Field,
				"operator", condition.Operator,
				"field_kind", field.Kind.String(),
				"value_kind", expected.Kind.String())

			return false
		}

		if condition.Operator == models.OperatorGreaterThan {
			return cmp > 0
		}

		return cmp < 0

	case models.OperatorIn:
		if expected.Kind != KindSequence {
			e.logger.Warn("IN requires a sequence value",
				"field", condition.Field,
				"value_kind", expected.Kind.String())

			return false
		}

		return containsOperand(expected.Seq, field)

	case models.OperatorContains:
		switch field.Kind {
		case KindString:
			if expected.Kind != KindString {
				e.logger.Warn("CONTAINS on a string field requires a string value",
					"field", condition.Field,
					"value_kind", expected.Kind.String())

				return false
			}

			return strings.Contains(field.Str, expected.Str)
		case KindSequence:
			return containsOperand(field.Seq, expected)
		default:
			e.logger.Warn("CONTAINS requires a string or sequence field",
				"field", condition.Field,
				"field_kind", field.Kind.String())

			return false
		}

	default:
		e.logger.Warn("Unknown condition operator",
			"field", condition.Field,
			"operator", condition.Operator)

		return false
	}
}

func containsOperand(seq []Operand, needle Operand) bool {
	for _, item := range seq {
		if item.Equal(needle) {
			return true
		}
	}

	return false
}
