package formulaeval

import (
	"math"
	"strconv"
	"strings"
)

// SingleValue collapses a function or operator argument to one scalar
// using natural dereference relative to the evaluating cell:
//   - a reference yields the referenced cell's value
//   - a single column area yields the cell on the evaluating row
//   - a single row area yields the cell on the evaluating column
//   - a 2D area yields its first cell when the evaluating cell lies inside it
//
// anything else is #VALUE!. an error value is returned as the error.
func SingleValue(arg Value, srcRow, srcCol int) (Value, error) {
	var result Value
	switch x := arg.(type) {
	case RefValue:
		result = x.InnerValue()
	case Area:
		v, err := chooseSingleElementFromArea(x, srcRow, srcCol)
		if err != nil {
			return nil, err
		}
		result = v
	default:
		result = arg
	}
	if e, ok := result.(*SpreadsheetError); ok {
		return nil, e
	}
	return result, nil
}

func chooseSingleElementFromArea(a Area, srcRow, srcCol int) (Value, error) {
	if _, ok := a.(*ArrayArea); ok {
		// constant arrays always yield their first element
		return a.RelativeValue(0, 0), nil
	}
	isColumn := a.FirstColumn() == a.LastColumn()
	isRow := a.FirstRow() == a.LastRow()
	switch {
	case isColumn && isRow:
		return a.RelativeValue(0, 0), nil
	case isColumn:
		if !a.ContainsRow(srcRow) {
			return nil, NewSpreadsheetError(ErrorCodeValue, "row "+strconv.Itoa(srcRow+1)+" is outside the referenced column")
		}
		return a.AbsoluteValue(srcRow, a.FirstColumn()), nil
	case isRow:
		if !a.ContainsColumn(srcCol) {
			return nil, NewSpreadsheetError(ErrorCodeValue, "column "+ColumnName(srcCol)+" is outside the referenced row")
		}
		return a.AbsoluteValue(a.FirstRow(), srcCol), nil
	}
	if a.Contains(srcRow, srcCol) {
		return a.AbsoluteValue(a.FirstRow(), a.FirstColumn()), nil
	}
	return nil, NewSpreadsheetError(ErrorCodeValue, "cannot reduce a multi-row, multi-column area to a single value")
}

// CoerceToNumber converts a scalar to a number. blank and missing values
// are 0, booleans are 1 or 0, text must parse as a number.
func CoerceToNumber(v Value) (float64, error) {
	switch x := v.(type) {
	case NumberValue:
		return float64(x), nil
	case BoolValue:
		if x {
			return 1, nil
		}
		return 0, nil
	case BlankValue, MissingArgValue:
		return 0, nil
	case TextValue:
		if f, ok := parseNumber(string(x)); ok {
			return f, nil
		}
		return 0, NewSpreadsheetError(ErrorCodeValue, "cannot convert \""+string(x)+"\" to a number")
	case *SpreadsheetError:
		return 0, x
	}
	return 0, NewSpreadsheetError(ErrorCodeValue, "expected a single value, got "+ValueString(v))
}

// CoerceToText converts a scalar to text. blank and missing values are
// the empty string.
func CoerceToText(v Value) (string, error) {
	switch x := v.(type) {
	case TextValue:
		return string(x), nil
	case NumberValue:
		return formatNumber(float64(x)), nil
	case BoolValue:
		return x.String(), nil
	case BlankValue, MissingArgValue:
		return "", nil
	case *SpreadsheetError:
		return "", x
	}
	return "", NewSpreadsheetError(ErrorCodeValue, "expected a single value, got "+ValueString(v))
}

// CoerceToBool converts a scalar to a boolean. ok is false for blank
// values, and for text when textIsBlank is set, which many functions
// skip rather than reject.
func CoerceToBool(v Value, textIsBlank bool) (b bool, ok bool, err error) {
	switch x := v.(type) {
	case BoolValue:
		return bool(x), true, nil
	case NumberValue:
		if math.IsNaN(float64(x)) {
			return false, false, NewSpreadsheetError(ErrorCodeValue, "NaN is not a boolean")
		}
		return x != 0, true, nil
	case BlankValue, MissingArgValue:
		return false, false, nil
	case TextValue:
		if textIsBlank {
			return false, false, nil
		}
		switch strings.ToUpper(string(x)) {
		case "TRUE":
			return true, true, nil
		case "FALSE":
			return false, true, nil
		}
		return false, false, NewSpreadsheetError(ErrorCodeValue, "cannot convert \""+string(x)+"\" to a boolean")
	case *SpreadsheetError:
		return false, false, x
	}
	return false, false, NewSpreadsheetError(ErrorCodeValue, "expected a single value, got "+ValueString(v))
}

// parseNumber accepts the decimal notations a cell would accept as a
// number. hex, infinities and NaN are rejected.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !(ch >= '0' && ch <= '9') && ch != '.' && ch != '-' && ch != '+' && ch != 'e' && ch != 'E' {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// compareNumbers compares two numbers the way the spreadsheet does,
// ignoring differences past the 15th significant digit.
func compareNumbers(a, b float64) int {
	if a == b {
		return 0
	}
	ra, _ := strconv.ParseFloat(strconv.FormatFloat(a, 'g', 15, 64), 64)
	rb, _ := strconv.ParseFloat(strconv.FormatFloat(b, 'g', 15, 64), 64)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

// compareValues orders scalars: numbers < text < booleans, text compared
// case-insensitively. blank compares as 0, "" or FALSE depending on the
// other side.
func compareValues(a, b Value) int {
	if isBlankLike(a) {
		return compareBlank(b)
	}
	if isBlankLike(b) {
		return -compareBlank(a)
	}
	if ba, ok := a.(BoolValue); ok {
		if bb, ok := b.(BoolValue); ok {
			switch {
			case ba == bb:
				return 0
			case bool(ba):
				return 1
			}
			return -1
		}
		return 1
	}
	if _, ok := b.(BoolValue); ok {
		return -1
	}
	if ta, ok := a.(TextValue); ok {
		if tb, ok := b.(TextValue); ok {
			return strings.Compare(strings.ToUpper(string(ta)), strings.ToUpper(string(tb)))
		}
		return 1
	}
	if _, ok := b.(TextValue); ok {
		return -1
	}
	na, _ := a.(NumberValue)
	nb, _ := b.(NumberValue)
	return compareNumbers(float64(na), float64(nb))
}

func compareBlank(v Value) int {
	switch x := v.(type) {
	case BoolValue:
		if x {
			return -1
		}
		return 0
	case NumberValue:
		return compareNumbers(0, float64(x))
	case TextValue:
		if x == "" {
			return 0
		}
		return -1
	}
	return 0
}

func isBlankLike(v Value) bool {
	switch v.(type) {
	case BlankValue, MissingArgValue:
		return true
	}
	return false
}
