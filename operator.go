package formulaeval

import (
	"math"
)

// evaluateBinary applies a binary operator to two operands, dereferencing
// areas and references relative to the evaluating cell. failures are
// error values, never faults.
func evaluateBinary(op BinaryOp, left, right Value, srcRow, srcCol int) Value {
	a, err := SingleValue(left, srcRow, srcCol)
	if err != nil {
		return asErrorValue(err)
	}
	b, err := SingleValue(right, srcRow, srcCol)
	if err != nil {
		return asErrorValue(err)
	}

	switch op {
	case BinOpConcat:
		sa, err := CoerceToText(a)
		if err != nil {
			return asErrorValue(err)
		}
		sb, err := CoerceToText(b)
		if err != nil {
			return asErrorValue(err)
		}
		return TextValue(sa + sb)
	case BinOpEqual, BinOpNotEqual, BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		cmp := compareValues(a, b)
		switch op {
		case BinOpEqual:
			return BoolValue(cmp == 0)
		case BinOpNotEqual:
			return BoolValue(cmp != 0)
		case BinOpLess:
			return BoolValue(cmp < 0)
		case BinOpLessEqual:
			return BoolValue(cmp <= 0)
		case BinOpGreater:
			return BoolValue(cmp > 0)
		}
		return BoolValue(cmp >= 0)
	}

	na, err := CoerceToNumber(a)
	if err != nil {
		return asErrorValue(err)
	}
	nb, err := CoerceToNumber(b)
	if err != nil {
		return asErrorValue(err)
	}

	var result float64
	switch op {
	case BinOpAdd:
		result = na + nb
	case BinOpSubtract:
		result = na - nb
	case BinOpMultiply:
		result = na * nb
	case BinOpDivide:
		if nb == 0 {
			return NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
		}
		result = na / nb
	case BinOpPower:
		if na < 0 && math.Abs(nb) > 0 && math.Abs(nb) < 1 {
			return NewSpreadsheetError(ErrorCodeNum, "fractional power of a negative number")
		}
		result = math.Pow(na, nb)
	default:
		return NewSpreadsheetError(ErrorCodeValue, "unsupported operator "+op.String())
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return NewSpreadsheetError(ErrorCodeNum, "result is not a finite number")
	}
	if result == 0 {
		// no negative zero in cells
		return NumberValue(0)
	}
	return NumberValue(result)
}

// evaluateUnary applies a prefix or postfix operator.
func evaluateUnary(op UnaryOp, operand Value, srcRow, srcCol int) Value {
	v, err := SingleValue(operand, srcRow, srcCol)
	if err != nil {
		return asErrorValue(err)
	}
	if _, isText := v.(TextValue); isText && op == UnaryOpPlus {
		// unary plus leaves text alone
		return v
	}
	n, err := CoerceToNumber(v)
	if err != nil {
		return asErrorValue(err)
	}
	switch op {
	case UnaryOpMinus:
		if n == 0 {
			return NumberValue(0)
		}
		return NumberValue(-n)
	case UnaryOpPercent:
		return NumberValue(n / 100)
	}
	return NumberValue(n)
}

// asErrorValue turns an error produced while resolving operands into an
// error value. only *SpreadsheetError can reach here.
func asErrorValue(err error) Value {
	if e, ok := err.(*SpreadsheetError); ok {
		return e
	}
	return NewSpreadsheetError(ErrorCodeValue, err.Error())
}
