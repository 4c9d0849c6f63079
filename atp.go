package formulaeval

import (
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/apd"
)

// extensionDefinitions is the analysis toolpack catalogue and the newer
// functions that files store with an _xlfn. prefix. placeholders here can
// be replaced at runtime with FunctionTable.Register.
func (bf *BuiltInFunctions) extensionDefinitions() []*functionDef {
	return []*functionDef{
		def("IFERROR", 2, 2, bf.IFERROR),
		def("ISEVEN", 1, 1, bf.ISEVEN),
		def("ISODD", 1, 1, bf.ISODD),
		def("MROUND", 2, 2, bf.MROUND),
		def("QUOTIENT", 2, 2, bf.QUOTIENT),
		volatileDef("RANDBETWEEN", 2, 2, bf.RANDBETWEEN),
		def("EDATE", 2, 2, bf.EDATE),
		def("EOMONTH", 2, 2, bf.EOMONTH),
		def("CONCAT", 1, variadic, bf.CONCAT),
		def("TEXTJOIN", 3, variadic, bf.TEXTJOIN),
		def("IFS", 2, variadic, bf.IFS),
		def("SWITCH", 3, variadic, bf.SWITCH),

		def("MAXIFS", 3, variadic, nil),
		def("MINIFS", 3, variadic, nil),
		def("NETWORKDAYS", 2, 3, nil),
		def("WORKDAY", 2, 3, nil),
		def("YEARFRAC", 2, 3, nil),
		def("XIRR", 2, 3, nil),
		def("XNPV", 3, 3, nil),
		def("CONVERT", 3, 3, nil),
		def("BIN2DEC", 1, 1, nil),
		def("DEC2BIN", 1, 2, nil),
		def("HEX2DEC", 1, 1, nil),
		def("DEC2HEX", 1, 2, nil),
		def("GCD", 1, variadic, nil),
		def("LCM", 1, variadic, nil),
	}
}

func (bf *BuiltInFunctions) IFERROR(ec *OperationContext, args []Value) (Value, error) {
	if _, err := ec.SingleValue(args[0]); err != nil {
		return args[1], nil
	}
	return args[0], nil
}

func (bf *BuiltInFunctions) ISEVEN(ec *OperationContext, args []Value) (Value, error) {
	n, err := ec.Number(args[0])
	if err != nil {
		return nil, err
	}
	return BoolValue(math.Mod(math.Trunc(n), 2) == 0), nil
}

func (bf *BuiltInFunctions) ISODD(ec *OperationContext, args []Value) (Value, error) {
	n, err := ec.Number(args[0])
	if err != nil {
		return nil, err
	}
	return BoolValue(math.Mod(math.Trunc(n), 2) != 0), nil
}

// MROUND rounds half away from zero to a multiple. number and multiple must
// have the same sign.
func (bf *BuiltInFunctions) MROUND(ec *OperationContext, args []Value) (Value, error) {
	ns, err := numbers(ec, args)
	if err != nil {
		return nil, err
	}
	n, multiple := ns[0], ns[1]
	if multiple == 0 {
		return NumberValue(0), nil
	}
	if n*multiple < 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MROUND arguments must have the same sign")
	}
	count, err := roundDecimal(n/multiple, 0, apd.RoundHalfUp)
	if err != nil {
		return nil, err
	}
	return numberResult(count * multiple)
}

func (bf *BuiltInFunctions) QUOTIENT(ec *OperationContext, args []Value) (Value, error) {
	ns, err := numbers(ec, args)
	if err != nil {
		return nil, err
	}
	if ns[1] == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	return numberResult(math.Trunc(ns[0] / ns[1]))
}

func (bf *BuiltInFunctions) RANDBETWEEN(ec *OperationContext, args []Value) (Value, error) {
	ns, err := numbers(ec, args)
	if err != nil {
		return nil, err
	}
	low, high := math.Ceil(ns[0]), math.Floor(ns[1])
	if low > high {
		return nil, NewSpreadsheetError(ErrorCodeNum, "RANDBETWEEN bottom is greater than top")
	}
	return NumberValue(low + math.Floor(bf.rng.Float64()*(high-low+1))), nil
}

// addMonths moves a date serial by whole months, clamping the day to the
// length of the target month.
func addMonths(ec *OperationContext, args []Value) (time.Time, error) {
	start, err := ec.Date(args[0])
	if err != nil {
		return time.Time{}, err
	}
	months, err := ec.Int(args[1])
	if err != nil {
		return time.Time{}, err
	}
	first := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	day := min(start.Day(), daysIn(first))
	return first.AddDate(0, 0, day-1), nil
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func dateResult(t time.Time) (Value, error) {
	serial := TimeToSerial(t)
	if serial < 0 || serial >= serialTooLarge {
		return nil, NewSpreadsheetError(ErrorCodeNum, "date out of range")
	}
	return NumberValue(serial), nil
}

func (bf *BuiltInFunctions) EDATE(ec *OperationContext, args []Value) (Value, error) {
	t, err := addMonths(ec, args)
	if err != nil {
		return nil, err
	}
	return dateResult(t)
}

func (bf *BuiltInFunctions) EOMONTH(ec *OperationContext, args []Value) (Value, error) {
	t, err := addMonths(ec, args)
	if err != nil {
		return nil, err
	}
	return dateResult(time.Date(t.Year(), t.Month(), daysIn(t), 0, 0, 0, 0, time.UTC))
}

// joinTexts renders every value of every argument, flattening areas.
func joinTexts(ec *OperationContext, args []Value, delimiter string, skipEmpty bool) (Value, error) {
	var parts []string
	for _, arg := range args {
		for v := range ec.Values(arg) {
			s, err := CoerceToText(v)
			if err != nil {
				return nil, err
			}
			if skipEmpty && s == "" {
				continue
			}
			parts = append(parts, s)
		}
	}
	return textResult(strings.Join(parts, delimiter))
}

func (bf *BuiltInFunctions) CONCAT(ec *OperationContext, args []Value) (Value, error) {
	return joinTexts(ec, args, "", false)
}

func (bf *BuiltInFunctions) TEXTJOIN(ec *OperationContext, args []Value) (Value, error) {
	delimiter, err := ec.Text(args[0])
	if err != nil {
		return nil, err
	}
	skipEmpty, err := ec.Bool(args[1])
	if err != nil {
		return nil, err
	}
	return joinTexts(ec, args[2:], delimiter, skipEmpty)
}

// IFS returns the value paired with the first true condition.
func (bf *BuiltInFunctions) IFS(ec *OperationContext, args []Value) (Value, error) {
	if len(args)%2 != 0 {
		return nil, NewSpreadsheetError(ErrorCodeValue, "IFS requires condition and value pairs")
	}
	for i := 0; i < len(args); i += 2 {
		ok, err := evaluateIfPredicate(args[i], ec.row, ec.col)
		if err != nil {
			return nil, err
		}
		if ok {
			return args[i+1], nil
		}
	}
	return nil, NewSpreadsheetError(ErrorCodeNA, "no IFS condition is true")
}

// SWITCH compares an expression to each case in turn. a trailing unpaired
// argument is the default.
func (bf *BuiltInFunctions) SWITCH(ec *OperationContext, args []Value) (Value, error) {
	expr, err := ec.SingleValue(args[0])
	if err != nil {
		return nil, err
	}
	rest := args[1:]
	for len(rest) >= 2 {
		candidate, err := ec.SingleValue(rest[0])
		if err != nil {
			return nil, err
		}
		if compareValues(expr, candidate) == 0 {
			return rest[1], nil
		}
		rest = rest[2:]
	}
	if len(rest) == 1 {
		return rest[0], nil
	}
	return nil, NewSpreadsheetError(ErrorCodeNA, "no SWITCH case matches")
}
