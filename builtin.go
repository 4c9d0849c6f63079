package formulaeval

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/cockroachdb/apd"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// RandomGenerator interface provides random number generation for testing
type RandomGenerator interface {
	Float64() float64
}

// DefaultRandomGenerator uses the standard library's rand package
type DefaultRandomGenerator struct{}

func (d *DefaultRandomGenerator) Float64() float64 {
	return rand.Float64()
}

// BuiltInFunctions contains all spreadsheet built-in functions
type BuiltInFunctions struct {
	clock Clock
	rng   RandomGenerator
}

func def(name string, minArgs, maxArgs int, fn FunctionFunc) *functionDef {
	d := &functionDef{name: name, minArgs: minArgs, maxArgs: maxArgs}
	if fn != nil {
		d.fn = fn
	}
	return d
}

func volatileDef(name string, minArgs, maxArgs int, fn FunctionFunc) *functionDef {
	d := def(name, minArgs, maxArgs, fn)
	d.volatile = true
	return d
}

// definitions is the fixed catalogue of built-in functions. entries with a
// nil implementation are known by name only.
func (bf *BuiltInFunctions) definitions() []*functionDef {
	return []*functionDef{
		// aggregates
		def("SUM", 0, variadic, bf.SUM),
		def("AVERAGE", 1, variadic, bf.AVERAGE),
		def("COUNT", 0, variadic, bf.COUNT),
		def("COUNTA", 0, variadic, bf.COUNTA),
		def("COUNTBLANK", 1, 1, bf.COUNTBLANK),
		def("MAX", 0, variadic, bf.MAX),
		def("MIN", 0, variadic, bf.MIN),
		def("PRODUCT", 0, variadic, bf.PRODUCT),
		def("MEDIAN", 1, variadic, bf.MEDIAN),

		// math
		def("ABS", 1, 1, bf.ABS),
		def("ROUND", 2, 2, bf.ROUND),
		def("ROUNDUP", 2, 2, bf.ROUNDUP),
		def("ROUNDDOWN", 2, 2, bf.ROUNDDOWN),
		def("INT", 1, 1, bf.INT),
		def("MOD", 2, 2, bf.MOD),
		def("POWER", 2, 2, bf.POWER),
		def("SQRT", 1, 1, bf.SQRT),
		def("PI", 0, 0, bf.PI),
		def("EXP", 1, 1, bf.EXP),
		def("LN", 1, 1, bf.LN),
		def("LOG10", 1, 1, bf.LOG10),
		def("SIGN", 1, 1, bf.SIGN),

		// logical
		def("IF", 2, 3, bf.IF),
		def("AND", 1, variadic, bf.AND),
		def("OR", 1, variadic, bf.OR),
		def("NOT", 1, 1, bf.NOT),
		def("TRUE", 0, 0, bf.TRUE),
		def("FALSE", 0, 0, bf.FALSE),
		def("CHOOSE", 2, variadic, bf.CHOOSE),

		// information
		def("ISBLANK", 1, 1, bf.ISBLANK),
		def("ISERROR", 1, 1, bf.ISERROR),
		def("ISNA", 1, 1, bf.ISNA),
		def("ISNUMBER", 1, 1, bf.ISNUMBER),
		def("ISTEXT", 1, 1, bf.ISTEXT),
		def("ISLOGICAL", 1, 1, bf.ISLOGICAL),
		def("NA", 0, 0, bf.NA),

		// lookup and reference
		def("ROW", 0, 1, bf.ROW),
		def("COLUMN", 0, 1, bf.COLUMN),
		def("ROWS", 1, 1, bf.ROWS),
		def("COLUMNS", 1, 1, bf.COLUMNS),
		def("INDEX", 2, 3, bf.INDEX),
		volatileDef("OFFSET", 3, 5, bf.OFFSET),

		// text
		def("CONCATENATE", 1, variadic, bf.CONCATENATE),
		def("LEN", 1, 1, bf.LEN),
		def("UPPER", 1, 1, bf.UPPER),
		def("LOWER", 1, 1, bf.LOWER),
		def("TRIM", 1, 1, bf.TRIM),
		def("LEFT", 1, 2, bf.LEFT),
		def("RIGHT", 1, 2, bf.RIGHT),
		def("MID", 3, 3, bf.MID),
		def("REPT", 2, 2, bf.REPT),
		def("EXACT", 2, 2, bf.EXACT),
		def("CHAR", 1, 1, bf.CHAR),
		def("CODE", 1, 1, bf.CODE),
		def("VALUE", 1, 1, bf.VALUE),

		// date and time
		def("DATE", 3, 3, bf.DATE),
		def("YEAR", 1, 1, bf.YEAR),
		def("MONTH", 1, 1, bf.MONTH),
		def("DAY", 1, 1, bf.DAY),
		volatileDef("NOW", 0, 0, bf.NOW),
		volatileDef("TODAY", 0, 0, bf.TODAY),
		volatileDef("RAND", 0, 0, bf.RAND),

		// known, not implemented
		volatileDef("INDIRECT", 1, 2, nil),
		volatileDef("CELL", 1, 2, nil),
		volatileDef("INFO", 1, 1, nil),
		def("HYPERLINK", 1, 2, nil),
		def("GETPIVOTDATA", 2, variadic, nil),
	}
}

// numberCollector gathers the numeric operands of an aggregate. values read
// through references only count when they are numbers; values typed into
// the formula are coerced, and text that is not a number is #VALUE!.
type numberCollector struct {
	numbers []float64
}

func (c *numberCollector) collect(args []Value) error {
	for _, arg := range args {
		switch x := arg.(type) {
		case Area:
			for v := range x.Values() {
				if err := c.addReferenced(v); err != nil {
					return err
				}
			}
		case RefValue:
			if err := c.addReferenced(x.InnerValue()); err != nil {
				return err
			}
		default:
			if err := c.addDirect(arg); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *numberCollector) addReferenced(v Value) error {
	switch x := v.(type) {
	case NumberValue:
		c.numbers = append(c.numbers, float64(x))
	case *SpreadsheetError:
		return x
	}
	return nil
}

func (c *numberCollector) addDirect(v Value) error {
	switch v.(type) {
	case BlankValue, MissingArgValue:
		return nil
	}
	n, err := CoerceToNumber(v)
	if err != nil {
		return err
	}
	c.numbers = append(c.numbers, n)
	return nil
}

func collectNumbers(args []Value) ([]float64, error) {
	var c numberCollector
	if err := c.collect(args); err != nil {
		return nil, err
	}
	return c.numbers, nil
}

// numberResult turns a computed number into a value, mapping results that
// do not fit a cell to #NUM!.
func numberResult(n float64) (Value, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, NewSpreadsheetError(ErrorCodeNum, "result is not a finite number")
	}
	if n == 0 {
		return NumberValue(0), nil
	}
	return NumberValue(n), nil
}

func (bf *BuiltInFunctions) SUM(ec *OperationContext, args []Value) (Value, error) {
	numbers, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for _, n := range numbers {
		sum += n
	}
	return numberResult(sum)
}

func (bf *BuiltInFunctions) AVERAGE(ec *OperationContext, args []Value) (Value, error) {
	numbers, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	sum := 0.0
	for _, n := range numbers {
		sum += n
	}
	return numberResult(sum / float64(len(numbers)))
}

// COUNT counts numbers. errors are skipped, not propagated.
func (bf *BuiltInFunctions) COUNT(ec *OperationContext, args []Value) (Value, error) {
	count := 0
	for _, arg := range args {
		if IsReference(arg) {
			for v := range ec.Values(arg) {
				if _, ok := v.(NumberValue); ok {
					count++
				}
			}
			continue
		}
		switch x := arg.(type) {
		case NumberValue, BoolValue:
			count++
		case TextValue:
			if _, ok := parseNumber(string(x)); ok {
				count++
			}
		}
	}
	return NumberValue(count), nil
}

func (bf *BuiltInFunctions) COUNTA(ec *OperationContext, args []Value) (Value, error) {
	count := 0
	for _, arg := range args {
		for v := range ec.Values(arg) {
			if _, blank := v.(BlankValue); !blank {
				count++
			}
		}
	}
	return NumberValue(count), nil
}

// COUNTBLANK counts empty cells and cells holding empty text.
func (bf *BuiltInFunctions) COUNTBLANK(ec *OperationContext, args []Value) (Value, error) {
	if !IsReference(args[0]) {
		return nil, NewSpreadsheetError(ErrorCodeValue, "COUNTBLANK requires a reference")
	}
	count := 0
	for v := range ec.Values(args[0]) {
		switch x := v.(type) {
		case BlankValue:
			count++
		case TextValue:
			if x == "" {
				count++
			}
		}
	}
	return NumberValue(count), nil
}

func (bf *BuiltInFunctions) MAX(ec *OperationContext, args []Value) (Value, error) {
	numbers, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return NumberValue(0), nil
	}
	return NumberValue(slices.Max(numbers)), nil
}

func (bf *BuiltInFunctions) MIN(ec *OperationContext, args []Value) (Value, error) {
	numbers, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return NumberValue(0), nil
	}
	return NumberValue(slices.Min(numbers)), nil
}

func (bf *BuiltInFunctions) PRODUCT(ec *OperationContext, args []Value) (Value, error) {
	numbers, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return NumberValue(0), nil
	}
	product := 1.0
	for _, n := range numbers {
		product *= n
	}
	return numberResult(product)
}

func (bf *BuiltInFunctions) MEDIAN(ec *OperationContext, args []Value) (Value, error) {
	numbers, err := collectNumbers(args)
	if err != nil {
		return nil, err
	}
	if len(numbers) == 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "MEDIAN has no numeric values")
	}
	slices.Sort(numbers)
	mid := len(numbers) / 2
	if len(numbers)%2 == 0 {
		// even count: average of two middle values
		return NumberValue((numbers[mid-1] + numbers[mid]) / 2), nil
	}
	return NumberValue(numbers[mid]), nil
}

// numbers resolves every argument of a fixed arity numeric function.
func numbers(ec *OperationContext, args []Value) ([]float64, error) {
	out := make([]float64, len(args))
	for i, arg := range args {
		n, err := ec.Number(arg)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// unary wraps a one argument numeric function.
func unary(f func(float64) (float64, error)) FunctionFunc {
	return func(ec *OperationContext, args []Value) (Value, error) {
		n, err := ec.Number(args[0])
		if err != nil {
			return nil, err
		}
		r, err := f(n)
		if err != nil {
			return nil, err
		}
		return numberResult(r)
	}
}

func (bf *BuiltInFunctions) ABS(ec *OperationContext, args []Value) (Value, error) {
	return unary(func(n float64) (float64, error) { return math.Abs(n), nil })(ec, args)
}

// roundDecimal rounds n to the given number of decimal places in decimal
// arithmetic, so that 2.675 rounds to 2.68 like the displayed value
// suggests.
func roundDecimal(n float64, places int, rounding string) (float64, error) {
	// nothing to round past 15 significant digits
	if places >= 0 && math.Abs(n) >= 1e15 {
		return n, nil
	}
	d, err := new(apd.Decimal).SetFloat64(n)
	if err != nil {
		return 0, NewSpreadsheetError(ErrorCodeNum, err.Error())
	}
	ctx := apd.BaseContext.WithPrecision(40)
	ctx.Rounding = rounding
	var rounded apd.Decimal
	if _, err := ctx.Quantize(&rounded, d, int32(-places)); err != nil {
		return 0, NewSpreadsheetError(ErrorCodeNum, err.Error())
	}
	f, err := rounded.Float64()
	if err != nil {
		return 0, NewSpreadsheetError(ErrorCodeNum, err.Error())
	}
	return f, nil
}

func (bf *BuiltInFunctions) round(ec *OperationContext, args []Value, rounding string) (Value, error) {
	ns, err := numbers(ec, args)
	if err != nil {
		return nil, err
	}
	if math.Abs(ns[1]) > 308 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "too many decimal places")
	}
	r, err := roundDecimal(ns[0], int(ns[1]), rounding)
	if err != nil {
		return nil, err
	}
	return numberResult(r)
}

func (bf *BuiltInFunctions) ROUND(ec *OperationContext, args []Value) (Value, error) {
	return bf.round(ec, args, apd.RoundHalfUp)
}

func (bf *BuiltInFunctions) ROUNDUP(ec *OperationContext, args []Value) (Value, error) {
	return bf.round(ec, args, apd.RoundUp)
}

func (bf *BuiltInFunctions) ROUNDDOWN(ec *OperationContext, args []Value) (Value, error) {
	return bf.round(ec, args, apd.RoundDown)
}

func (bf *BuiltInFunctions) INT(ec *OperationContext, args []Value) (Value, error) {
	return unary(func(n float64) (float64, error) { return math.Floor(n), nil })(ec, args)
}

// MOD takes the sign of the divisor.
func (bf *BuiltInFunctions) MOD(ec *OperationContext, args []Value) (Value, error) {
	ns, err := numbers(ec, args)
	if err != nil {
		return nil, err
	}
	dividend, divisor := ns[0], ns[1]
	if divisor == 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	return numberResult(dividend - divisor*math.Floor(dividend/divisor))
}

func (bf *BuiltInFunctions) POWER(ec *OperationContext, args []Value) (Value, error) {
	ns, err := numbers(ec, args)
	if err != nil {
		return nil, err
	}
	if ns[0] == 0 && ns[1] < 0 {
		return nil, NewSpreadsheetError(ErrorCodeDiv0, "Division by zero")
	}
	return numberResult(math.Pow(ns[0], ns[1]))
}

func (bf *BuiltInFunctions) SQRT(ec *OperationContext, args []Value) (Value, error) {
	return unary(func(n float64) (float64, error) {
		if n < 0 {
			return 0, NewSpreadsheetError(ErrorCodeNum, "SQRT requires a non-negative argument")
		}
		return math.Sqrt(n), nil
	})(ec, args)
}

func (bf *BuiltInFunctions) PI(ec *OperationContext, args []Value) (Value, error) {
	return NumberValue(math.Pi), nil
}

func (bf *BuiltInFunctions) EXP(ec *OperationContext, args []Value) (Value, error) {
	return unary(func(n float64) (float64, error) { return math.Exp(n), nil })(ec, args)
}

func (bf *BuiltInFunctions) LN(ec *OperationContext, args []Value) (Value, error) {
	return unary(func(n float64) (float64, error) {
		if n <= 0 {
			return 0, NewSpreadsheetError(ErrorCodeNum, "LN requires a positive argument")
		}
		return math.Log(n), nil
	})(ec, args)
}

func (bf *BuiltInFunctions) LOG10(ec *OperationContext, args []Value) (Value, error) {
	return unary(func(n float64) (float64, error) {
		if n <= 0 {
			return 0, NewSpreadsheetError(ErrorCodeNum, "LOG10 requires a positive argument")
		}
		return math.Log10(n), nil
	})(ec, args)
}

func (bf *BuiltInFunctions) SIGN(ec *OperationContext, args []Value) (Value, error) {
	return unary(func(n float64) (float64, error) {
		switch {
		case n > 0:
			return 1, nil
		case n < 0:
			return -1, nil
		}
		return 0, nil
	})(ec, args)
}

// IF is only called directly when the formula carries no jump attributes;
// both branches have been evaluated already.
func (bf *BuiltInFunctions) IF(ec *OperationContext, args []Value) (Value, error) {
	predicate, err := evaluateIfPredicate(args[0], ec.row, ec.col)
	if err != nil {
		return nil, err
	}
	if predicate {
		return args[1], nil
	}
	if len(args) < 3 {
		return BoolValue(false), nil
	}
	return args[2], nil
}

// logicalArgs folds the booleans among the arguments. text and blanks read
// through references are skipped; having nothing to fold is #VALUE!.
func logicalArgs(ec *OperationContext, args []Value, fold func(acc, b bool) bool, initial bool) (Value, error) {
	acc, seen := initial, false
	for _, arg := range args {
		fromRef := IsReference(arg)
		for v := range ec.Values(arg) {
			b, ok, err := CoerceToBool(v, fromRef)
			if err != nil {
				return nil, err
			}
			if ok {
				acc, seen = fold(acc, b), true
			}
		}
	}
	if !seen {
		return nil, NewSpreadsheetError(ErrorCodeValue, "no logical values")
	}
	return BoolValue(acc), nil
}

func (bf *BuiltInFunctions) AND(ec *OperationContext, args []Value) (Value, error) {
	return logicalArgs(ec, args, func(acc, b bool) bool { return acc && b }, true)
}

func (bf *BuiltInFunctions) OR(ec *OperationContext, args []Value) (Value, error) {
	return logicalArgs(ec, args, func(acc, b bool) bool { return acc || b }, false)
}

func (bf *BuiltInFunctions) NOT(ec *OperationContext, args []Value) (Value, error) {
	b, err := ec.Bool(args[0])
	if err != nil {
		return nil, err
	}
	return BoolValue(!b), nil
}

func (bf *BuiltInFunctions) TRUE(ec *OperationContext, args []Value) (Value, error) {
	return BoolValue(true), nil
}

func (bf *BuiltInFunctions) FALSE(ec *OperationContext, args []Value) (Value, error) {
	return BoolValue(false), nil
}

// CHOOSE returns the chosen argument unresolved, so CHOOSE can yield a
// reference.
func (bf *BuiltInFunctions) CHOOSE(ec *OperationContext, args []Value) (Value, error) {
	index, err := ec.Int(args[0])
	if err != nil {
		return nil, err
	}
	if index < 1 || index >= len(args) {
		return nil, NewSpreadsheetError(ErrorCodeValue, "CHOOSE index out of range")
	}
	return args[index], nil
}

// scalar resolves an argument for the IS functions, where an error is a
// value to inspect rather than a failure.
func scalar(ec *OperationContext, arg Value) Value {
	v, err := ec.SingleValue(arg)
	if err != nil {
		return asErrorValue(err)
	}
	return v
}

func (bf *BuiltInFunctions) ISBLANK(ec *OperationContext, args []Value) (Value, error) {
	_, ok := scalar(ec, args[0]).(BlankValue)
	return BoolValue(ok), nil
}

func (bf *BuiltInFunctions) ISERROR(ec *OperationContext, args []Value) (Value, error) {
	_, ok := scalar(ec, args[0]).(*SpreadsheetError)
	return BoolValue(ok), nil
}

func (bf *BuiltInFunctions) ISNA(ec *OperationContext, args []Value) (Value, error) {
	return BoolValue(IsError(scalar(ec, args[0]), ErrorCodeNA)), nil
}

func (bf *BuiltInFunctions) ISNUMBER(ec *OperationContext, args []Value) (Value, error) {
	_, ok := scalar(ec, args[0]).(NumberValue)
	return BoolValue(ok), nil
}

func (bf *BuiltInFunctions) ISTEXT(ec *OperationContext, args []Value) (Value, error) {
	_, ok := scalar(ec, args[0]).(TextValue)
	return BoolValue(ok), nil
}

func (bf *BuiltInFunctions) ISLOGICAL(ec *OperationContext, args []Value) (Value, error) {
	_, ok := scalar(ec, args[0]).(BoolValue)
	return BoolValue(ok), nil
}

func (bf *BuiltInFunctions) NA(ec *OperationContext, args []Value) (Value, error) {
	return nil, NewSpreadsheetError(ErrorCodeNA, "")
}

// ROW without argument is the row of the evaluating cell.
func (bf *BuiltInFunctions) ROW(ec *OperationContext, args []Value) (Value, error) {
	if len(args) == 0 {
		return NumberValue(ec.row + 1), nil
	}
	switch x := args[0].(type) {
	case RefValue:
		return NumberValue(x.Row() + 1), nil
	case *LazyArea:
		return NumberValue(x.FirstRow() + 1), nil
	}
	return nil, NewSpreadsheetError(ErrorCodeValue, "ROW requires a reference")
}

func (bf *BuiltInFunctions) COLUMN(ec *OperationContext, args []Value) (Value, error) {
	if len(args) == 0 {
		return NumberValue(ec.col + 1), nil
	}
	switch x := args[0].(type) {
	case RefValue:
		return NumberValue(x.Column() + 1), nil
	case *LazyArea:
		return NumberValue(x.FirstColumn() + 1), nil
	}
	return nil, NewSpreadsheetError(ErrorCodeValue, "COLUMN requires a reference")
}

func (bf *BuiltInFunctions) ROWS(ec *OperationContext, args []Value) (Value, error) {
	switch x := args[0].(type) {
	case Area:
		return NumberValue(x.Height()), nil
	case *SpreadsheetError:
		return nil, x
	}
	return NumberValue(1), nil
}

func (bf *BuiltInFunctions) COLUMNS(ec *OperationContext, args []Value) (Value, error) {
	switch x := args[0].(type) {
	case Area:
		return NumberValue(x.Width()), nil
	case *SpreadsheetError:
		return nil, x
	}
	return NumberValue(1), nil
}

// indexArg reads an optional row or column number of INDEX. omitted means
// 0, the whole row or column.
func indexArg(ec *OperationContext, arg Value) (int, error) {
	if _, missing := arg.(MissingArgValue); missing {
		return 0, nil
	}
	n, err := ec.Int(arg)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, NewSpreadsheetError(ErrorCodeValue, "INDEX position must not be negative")
	}
	return n, nil
}

// INDEX returns a reference into an area, so INDEX(...) can itself be used
// as a range.
func (bf *BuiltInFunctions) INDEX(ec *OperationContext, args []Value) (Value, error) {
	var area Area
	switch x := args[0].(type) {
	case *LazyRef:
		area = x.Offset(0, 0, 0, 0)
	case Area:
		area = x
	case *SpreadsheetError:
		return nil, x
	default:
		area = NewArrayArea([][]Value{{x}})
	}

	rowNum, err := indexArg(ec, args[1])
	if err != nil {
		return nil, err
	}
	colNum := 0
	if len(args) == 3 {
		if colNum, err = indexArg(ec, args[2]); err != nil {
			return nil, err
		}
	} else if area.Height() == 1 && area.Width() > 1 {
		// a single row area is indexed by its only dimension
		rowNum, colNum = 0, rowNum
	}
	if rowNum > area.Height() || colNum > area.Width() {
		return nil, NewSpreadsheetError(ErrorCodeRef, "INDEX position outside the area")
	}

	switch a := area.(type) {
	case *LazyArea:
		switch {
		case rowNum == 0 && colNum == 0:
			return a, nil
		case rowNum == 0:
			return a.Column(colNum - 1), nil
		case colNum == 0 && a.Width() > 1:
			return a.Row(rowNum - 1), nil
		case colNum == 0:
			colNum = 1
		}
		return newLazyRef(a.sheet, a.FirstRow()+rowNum-1, a.FirstColumn()+colNum-1), nil
	}
	if rowNum == 0 || colNum == 0 {
		if area.Height() != 1 && area.Width() != 1 {
			return nil, NewSpreadsheetError(ErrorCodeValue, "INDEX of a constant array needs both positions")
		}
		rowNum, colNum = max(rowNum, 1), max(colNum, 1)
	}
	return area.RelativeValue(rowNum-1, colNum-1), nil
}

// OFFSET builds a reference displaced from a base reference. negative
// heights and widths extend up and to the left.
func (bf *BuiltInFunctions) OFFSET(ec *OperationContext, args []Value) (Value, error) {
	var base *LazyArea
	switch x := args[0].(type) {
	case *LazyRef:
		base = x.Offset(0, 0, 0, 0)
	case *LazyArea:
		base = x
	case *SpreadsheetError:
		return nil, x
	default:
		return nil, NewSpreadsheetError(ErrorCodeValue, "OFFSET requires a reference")
	}

	rows, err := ec.Int(args[1])
	if err != nil {
		return nil, err
	}
	cols, err := ec.Int(args[2])
	if err != nil {
		return nil, err
	}
	height, width := base.Height(), base.Width()
	if len(args) > 3 {
		if _, missing := args[3].(MissingArgValue); !missing {
			if height, err = ec.Int(args[3]); err != nil {
				return nil, err
			}
		}
	}
	if len(args) > 4 {
		if _, missing := args[4].(MissingArgValue); !missing {
			if width, err = ec.Int(args[4]); err != nil {
				return nil, err
			}
		}
	}
	if height == 0 || width == 0 {
		return nil, NewSpreadsheetError(ErrorCodeRef, "OFFSET height and width must not be zero")
	}

	firstRow, lastRow := offsetSpan(rows, height)
	firstCol, lastCol := offsetSpan(cols, width)
	version := ec.Workbook().SpreadsheetVersion()
	if base.FirstRow()+firstRow < 0 || base.FirstRow()+lastRow > version.LastRowIndex() ||
		base.FirstColumn()+firstCol < 0 || base.FirstColumn()+lastCol > version.LastColumnIndex() {
		return nil, NewSpreadsheetError(ErrorCodeRef, "OFFSET result is outside the sheet")
	}
	return base.Offset(firstRow, lastRow, firstCol, lastCol), nil
}

func offsetSpan(offset, size int) (first, last int) {
	if size > 0 {
		return offset, offset + size - 1
	}
	return offset + size + 1, offset
}

func dateParts(ec *OperationContext, arg Value) (year int, month time.Month, day int, err error) {
	n, err := ec.Number(arg)
	if err != nil {
		return 0, 0, 0, err
	}
	if math.Floor(n) == leapBugSerial {
		return 1900, time.February, 29, nil
	}
	t, err := SerialToTime(n)
	if err != nil {
		return 0, 0, 0, err
	}
	return t.Year(), t.Month(), t.Day(), nil
}

// DATE normalizes overflowing months and days. years below 1900 are taken
// as offsets from 1900.
func (bf *BuiltInFunctions) DATE(ec *OperationContext, args []Value) (Value, error) {
	ns, err := numbers(ec, args)
	if err != nil {
		return nil, err
	}
	year, month, day := int(ns[0]), int(ns[1]), int(ns[2])
	if year < 1900 {
		year += 1900
	}
	if year < 1900 || year > 9999 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "DATE year out of range")
	}
	if year == 1900 && month == 2 && day == 29 {
		return NumberValue(leapBugSerial), nil
	}
	serial := TimeToSerial(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC))
	if serial < 0 {
		return nil, NewSpreadsheetError(ErrorCodeNum, "DATE before 1900")
	}
	return NumberValue(serial), nil
}

func (bf *BuiltInFunctions) YEAR(ec *OperationContext, args []Value) (Value, error) {
	y, _, _, err := dateParts(ec, args[0])
	if err != nil {
		return nil, err
	}
	return NumberValue(y), nil
}

func (bf *BuiltInFunctions) MONTH(ec *OperationContext, args []Value) (Value, error) {
	_, m, _, err := dateParts(ec, args[0])
	if err != nil {
		return nil, err
	}
	return NumberValue(m), nil
}

func (bf *BuiltInFunctions) DAY(ec *OperationContext, args []Value) (Value, error) {
	_, _, d, err := dateParts(ec, args[0])
	if err != nil {
		return nil, err
	}
	return NumberValue(d), nil
}

func (bf *BuiltInFunctions) NOW(ec *OperationContext, args []Value) (Value, error) {
	return NumberValue(TimeToSerial(bf.clock.Now())), nil
}

func (bf *BuiltInFunctions) TODAY(ec *OperationContext, args []Value) (Value, error) {
	return NumberValue(math.Floor(TimeToSerial(bf.clock.Now()))), nil
}

func (bf *BuiltInFunctions) RAND(ec *OperationContext, args []Value) (Value, error) {
	return NumberValue(bf.rng.Float64()), nil
}
