package models

// Operator is the comparison applied by a Condition.
type Operator string

const (
	OperatorEquals      Operator = "EQUALS"
	OperatorNotEquals   Operator = "NOT_EQUALS"
	OperatorGreaterThan Operator = "GREATER_THAN"
	OperatorLessThan    Operator = "LESS_THAN"
	OperatorIn          Operator = "IN"
	OperatorContains    Operator = "CONTAINS"
)

var operators = map[Operator]struct{}{
	OperatorEquals:      {},
	OperatorNotEquals:   {},
	OperatorGreaterThan: {},
	OperatorLessThan:    {},
	OperatorIn:          {},
	OperatorContains:    {},
}

// Valid reports whether o is a supported operator.
func (o Operator) Valid() bool {
	_, ok := operators[o]

	return ok
}

// Condition is a single field/operator/value predicate. All conditions of a
// workflow are ANDed; there is no OR composition.
type Condition struct {
	// Field is a dotted path into the entity snapshot, e.g. "item.metadata.value".
	Field    string   `json:"field"    validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value"`
}
