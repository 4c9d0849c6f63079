package formulaeval

import (
	"iter"
	"math"
	"time"
)

// sheetEvaluator evaluates the cells of one sheet of one workbook on
// behalf of the formula currently being evaluated.
type sheetEvaluator struct {
	evaluator  *WorkbookEvaluator
	sheetIndex int
	tracker    *CircularReferenceTracker
}

// cellValue evaluates a cell. engine faults cannot be returned through the
// lazy area accessors, so they are raised and recovered at the formula
// boundary.
func (s *sheetEvaluator) cellValue(row, col int) Value {
	v, err := s.evaluator.evaluateReference(s.sheetIndex, row, col, s.tracker)
	if err != nil {
		raiseFault(err)
	}
	return v
}

// OperationContext is what functions see of the evaluation in progress:
// the position of the formula and helpers to resolve arguments.
type OperationContext struct {
	evaluator  *WorkbookEvaluator
	sheetIndex int
	row, col   int
	tracker    *CircularReferenceTracker
}

func (ec *OperationContext) Workbook() EvaluationWorkbook { return ec.evaluator.workbook }
func (ec *OperationContext) SheetIndex() int              { return ec.sheetIndex }
func (ec *OperationContext) Row() int                     { return ec.row }
func (ec *OperationContext) Column() int                  { return ec.col }

// SingleValue resolves an argument to one scalar by natural dereference.
// errors, including error values held by the argument, are returned as
// *SpreadsheetError.
func (ec *OperationContext) SingleValue(arg Value) (Value, error) {
	return SingleValue(arg, ec.row, ec.col)
}

// Number resolves an argument to a number.
func (ec *OperationContext) Number(arg Value) (float64, error) {
	v, err := ec.SingleValue(arg)
	if err != nil {
		return 0, err
	}
	return CoerceToNumber(v)
}

// Int resolves an argument to a number truncated towards zero and clamped
// to the 32-bit range.
func (ec *OperationContext) Int(arg Value) (int, error) {
	n, err := ec.Number(arg)
	if err != nil {
		return 0, err
	}
	switch {
	case math.IsNaN(n):
		return 0, NewSpreadsheetError(ErrorCodeNum, "not a number")
	case n >= math.MaxInt32:
		return math.MaxInt32, nil
	case n <= math.MinInt32:
		return math.MinInt32, nil
	}
	return int(n), nil
}

// Text resolves an argument to text.
func (ec *OperationContext) Text(arg Value) (string, error) {
	v, err := ec.SingleValue(arg)
	if err != nil {
		return "", err
	}
	return CoerceToText(v)
}

// Bool resolves an argument to a boolean. blank arguments are FALSE.
func (ec *OperationContext) Bool(arg Value) (bool, error) {
	v, err := ec.SingleValue(arg)
	if err != nil {
		return false, err
	}
	b, _, err := CoerceToBool(v, false)
	return b, err
}

// Date resolves an argument to a point in time, reading numbers as date
// serials.
func (ec *OperationContext) Date(arg Value) (time.Time, error) {
	n, err := ec.Number(arg)
	if err != nil {
		return time.Time{}, err
	}
	return SerialToTime(n)
}

// Values iterates over the values an argument stands for: every cell of an
// area, the cell of a reference, or the argument itself.
func (ec *OperationContext) Values(arg Value) iter.Seq[Value] {
	switch x := arg.(type) {
	case Area:
		return x.Values()
	case RefValue:
		return func(yield func(Value) bool) {
			yield(x.InnerValue())
		}
	}
	return func(yield func(Value) bool) {
		yield(arg)
	}
}

// IsReference reports whether an argument came from a cell reference
// rather than being a value typed into the formula. several functions
// treat text and booleans differently in the two cases.
func IsReference(arg Value) bool {
	switch arg.(type) {
	case Area, RefValue:
		return true
	}
	return false
}

func (ec *OperationContext) currentSheet() *sheetEvaluator {
	return &sheetEvaluator{evaluator: ec.evaluator, sheetIndex: ec.sheetIndex, tracker: ec.tracker}
}

// externalSheet resolves an extern sheet index. a nil evaluator with a nil
// error means the sheet does not exist and the reference is #REF!.
func (ec *OperationContext) externalSheet(externSheetIndex int) (*sheetEvaluator, error) {
	ext, ok := ec.evaluator.workbook.ExternalSheet(externSheetIndex)
	if !ok {
		return nil, nil
	}
	return ec.sheetEvaluatorFor(ext.WorkbookName, ext.SheetName)
}

// namedSheet resolves the sheet of a name based 3D reference.
func (ec *OperationContext) namedSheet(workbookNumber int, sheetName string) (*sheetEvaluator, error) {
	if workbookNumber == 0 {
		return ec.sheetEvaluatorFor("", sheetName)
	}
	workbookName, ok := ec.evaluator.workbook.ExternalWorkbookName(workbookNumber)
	if !ok {
		return nil, newWorkbookNotFoundError("["+itoa(workbookNumber)+"]", ec.evaluator.collaboratorNames())
	}
	return ec.sheetEvaluatorFor(workbookName, sheetName)
}

func (ec *OperationContext) sheetEvaluatorFor(workbookName, sheetName string) (*sheetEvaluator, error) {
	target := ec.evaluator
	if workbookName != "" {
		other, err := ec.evaluator.otherWorkbookEvaluator(workbookName)
		if err != nil {
			return nil, err
		}
		target = other
	}
	index := target.workbook.SheetIndex(sheetName)
	if index < 0 {
		return nil, nil
	}
	return &sheetEvaluator{evaluator: target, sheetIndex: index, tracker: ec.tracker}, nil
}
