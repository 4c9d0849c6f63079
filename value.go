package formulaeval

import (
	"math"
	"strconv"
	"strings"
)

// Value is the result of evaluating one or more formula tokens. the set of
// implementations is closed:
//   - NumberValue: numeric values (dates are serial numbers)
//   - TextValue: text values
//   - BoolValue: TRUE/FALSE
//   - *SpreadsheetError: error values (#DIV/0!, #VALUE!, etc.)
//   - BlankValue: an empty cell
//   - MissingArgValue: an omitted function argument, e.g. the middle of IF(1,,2)
//   - Area: a rectangular grid of values (*LazyArea, *ArrayArea)
//   - RefValue: a single cell handle resolved on demand (*LazyRef)
type Value interface {
	isValue()
}

type NumberValue float64

type TextValue string

type BoolValue bool

type BlankValue struct{}

type MissingArgValue struct{}

var (
	Blank      Value = BlankValue{}
	MissingArg Value = MissingArgValue{}
)

func (NumberValue) isValue()     {}
func (TextValue) isValue()       {}
func (BoolValue) isValue()       {}
func (BlankValue) isValue()      {}
func (MissingArgValue) isValue() {}

func (v NumberValue) String() string { return formatNumber(float64(v)) }
func (v TextValue) String() string   { return strconv.Quote(string(v)) }
func (v BoolValue) String() string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}
func (BlankValue) String() string      { return "<blank>" }
func (MissingArgValue) String() string { return "<missing>" }

// IsError reports whether v is a spreadsheet error with the given code.
func IsError(v Value, code ErrorCode) bool {
	e, ok := v.(*SpreadsheetError)
	return ok && e.ErrorCode == code
}

// ValueString renders a value for logs and diagnostics.
func ValueString(v Value) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case NumberValue:
		return x.String()
	case TextValue:
		return x.String()
	case BoolValue:
		return x.String()
	case *SpreadsheetError:
		return x.String()
	case BlankValue:
		return x.String()
	case MissingArgValue:
		return x.String()
	case Area:
		return "Area[" + CellName(x.FirstRow(), x.FirstColumn()) + ":" + CellName(x.LastRow(), x.LastColumn()) + "]"
	case RefValue:
		return "Ref[" + CellName(x.Row(), x.Column()) + "]"
	}
	return "<unknown>"
}

// ValuesEqual compares two scalar values the way the cache decides whether
// a plain cell really changed.
func ValuesEqual(a, b Value) bool {
	switch x := a.(type) {
	case NumberValue:
		y, ok := b.(NumberValue)
		return ok && (x == y || (math.IsNaN(float64(x)) && math.IsNaN(float64(y))))
	case TextValue:
		y, ok := b.(TextValue)
		return ok && x == y
	case BoolValue:
		y, ok := b.(BoolValue)
		return ok && x == y
	case *SpreadsheetError:
		y, ok := b.(*SpreadsheetError)
		return ok && x.ErrorCode == y.ErrorCode
	case BlankValue:
		_, ok := b.(BlankValue)
		return ok
	case MissingArgValue:
		_, ok := b.(MissingArgValue)
		return ok
	}
	return false
}

// formatNumber renders a number the way a cell displays it in the
// general format: up to 15 significant digits, no trailing zeros.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'g', 15, 64)
	if strings.ContainsRune(s, 'e') {
		mantissa, exp, _ := strings.Cut(s, "e")
		if strings.Contains(mantissa, ".") {
			mantissa = strings.TrimRight(strings.TrimRight(mantissa, "0"), ".")
		}
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if len(digits) < 2 {
			digits = strings.Repeat("0", 2-len(digits)) + digits
		}
		return mantissa + "E" + sign + digits
	}
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}
