package conditions

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Kind tags the operator family an operand belongs to.
type Kind int

const (
	KindInvalid Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindTime
	KindSequence
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Operand is the tagged representation of a dynamic condition value.
// Only the field matching Kind is meaningful.
type Operand struct {
	Kind Kind
	Bool bool
	Num  float64
	Str  string
	Time time.Time
	Seq  []Operand
	Map  map[string]any
}

// Of converts a decoded snapshot or config value into an Operand. Numeric Go
// kinds and json.Number collapse into KindNumber; strings are kept as strings,
// coercion to numbers or times happens only where an operator asks for it.
func Of(v any) Operand {
	switch val := v.(type) {
	case nil:
		return Operand{Kind: KindNull}
	case Operand:
		return val
	case bool:
		return Operand{Kind: KindBool, Bool: val}
	case string:
		return Operand{Kind: KindString, Str: val}
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Operand{Kind: KindString, Str: val.String()}
		}

		return Operand{Kind: KindNumber, Num: f}
	case time.Time:
		return Operand{Kind: KindTime, Time: val}
	case *time.Time:
		if val == nil {
			return Operand{Kind: KindNull}
		}

		return Operand{Kind: KindTime, Time: *val}
	case map[string]any:
		return Operand{Kind: KindMap, Map: val}
	case []any:
		seq := make([]Operand, len(val))
		for i, item := range val {
			seq[i] = Of(item)
		}

		return Operand{Kind: KindSequence, Seq: seq}
	case []string:
		seq := make([]Operand, len(val))
		for i, item := range val {
			seq[i] = Operand{Kind: KindString, Str: item}
		}

		return Operand{Kind: KindSequence, Seq: seq}
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Operand{Kind: KindNumber, Num: float64(rv.Int())}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Operand{Kind: KindNumber, Num: float64(rv.Uint())}
	case reflect.Float32, reflect.Float64:
		return Operand{Kind: KindNumber, Num: rv.Float()}
	case reflect.Slice, reflect.Array:
		seq := make([]Operand, rv.Len())
		for i := range seq {
			seq[i] = Of(rv.Index(i).Interface())
		}

		return Operand{Kind: KindSequence, Seq: seq}
	case reflect.String:
		return Operand{Kind: KindString, Str: rv.String()}
	case reflect.Bool:
		return Operand{Kind: KindBool, Bool: rv.Bool()}
	default:
		return Operand{Kind: KindInvalid}
	}
}

// Number coerces the operand to a float for ordering. Numeric strings are accepted.
func (o Operand) Number() (float64, bool) {
	switch o.Kind {
	case KindNumber:
		return o.Num, !math.IsNaN(o.Num)
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(o.Str), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

// Timestamp coerces the operand to a time for ordering. RFC 3339 strings are accepted.
func (o Operand) Timestamp() (time.Time, bool) {
	switch o.Kind {
	case KindTime:
		return o.Time, true
	case KindString:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(o.Str))
		if err != nil {
			return time.Time{}, false
		}

		return t, true
	default:
		return time.Time{}, false
	}
}

// Equal is structural equality after numeric normalization: 9, int64(9),
// 9.0 and json.Number("9") are all equal. Strings never equal numbers.
func (o Operand) Equal(other Operand) bool {
	if o.Kind != other.Kind {
		return false
	}

	switch o.Kind {
	case KindNull:
		return true
	case KindBool:
		return o.Bool == other.Bool
	case KindNumber:
		return o.Num == other.Num
	case KindString:
		return o.Str == other.Str
	case KindTime:
		return o.Time.Equal(other.Time)
	case KindSequence:
		if len(o.Seq) != len(other.Seq) {
			return false
		}

		for i := range o.Seq {
			if !o.Seq[i].Equal(other.Seq[i]) {
				return false
			}
		}

		return true
	case KindMap:
		if len(o.Map) != len(other.Map) {
			return false
		}

		for k, v := range o.Map {
			ov, ok := other.Map[k]
			if !ok || !Of(v).Equal(Of(ov)) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// Compare orders two operands. Both must coerce to numbers, or both to
// timestamps; otherwise ok is false.
func Compare(a, b Operand) (cmp int, ok bool) {
	if af, aok := a.Number(); aok {
		if bf, bok := b.Number(); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if at, aok := a.Timestamp(); aok {
		if bt, bok := b.Timestamp(); bok {
			return at.Compare(bt), true
		}
	}

	return 0, false
}

func (o Operand) String() string {
	switch o.Kind {
	case KindNumber:
		return strconv.FormatFloat(o.Num, 'f', -1, 64)
	case KindString:
		return o.Str
	case KindTime:
		return o.Time.Format(time.RFC3339Nano)
	case KindBool:
		return strconv.FormatBool(o.Bool)
	case KindNull:
		return "null"
	default:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Seq)
	}
}
