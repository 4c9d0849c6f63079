package formulaeval

import (
	"errors"
	"fmt"

	"fortio.org/log"
)

// FormulaEvaluator evaluates the formulas of a Document and writes the
// results back into its cells.
type FormulaEvaluator struct {
	doc       Document
	evaluator *WorkbookEvaluator
}

func NewFormulaEvaluator(doc Document, cfg EvaluatorConfig) *FormulaEvaluator {
	return &FormulaEvaluator{doc: doc, evaluator: NewWorkbookEvaluator(doc, cfg)}
}

func (fe *FormulaEvaluator) Document() Document { return fe.doc }

// Evaluator returns the underlying engine
func (fe *FormulaEvaluator) Evaluator() *WorkbookEvaluator { return fe.evaluator }

// Evaluate returns the value of a cell without modifying it. a nil cell is
// blank.
func (fe *FormulaEvaluator) Evaluate(cell EvaluationCell) (Value, error) {
	if cell == nil {
		return Blank, nil
	}
	return fe.evaluator.Evaluate(cell)
}

// EvaluateFormulaCell evaluates a formula cell and stores the result as
// the cell's cached value. it returns the type of the result, or
// CellValueTypeEmpty without evaluating anything for a plain cell.
func (fe *FormulaEvaluator) EvaluateFormulaCell(cell DocumentCell) (CellType, error) {
	if cell == nil || cell.CellType() != CellValueTypeFormula {
		return CellValueTypeEmpty, nil
	}
	v, err := fe.evaluator.Evaluate(cell)
	if err != nil {
		return CellValueTypeEmpty, err
	}
	if err := cell.SetCachedFormulaResult(v); err != nil {
		return CellValueTypeEmpty, err
	}
	return cell.CachedFormulaResultType(), nil
}

// EvaluateInCell replaces the formula of a cell by its value. plain cells
// are left alone.
func (fe *FormulaEvaluator) EvaluateInCell(cell DocumentCell) (Value, error) {
	if cell == nil {
		return Blank, nil
	}
	if cell.CellType() != CellValueTypeFormula {
		return cellValueOf(cell), nil
	}
	v, err := fe.evaluator.Evaluate(cell)
	if err != nil {
		return nil, err
	}
	if err := cell.SetCellValue(v); err != nil {
		return nil, err
	}
	fe.evaluator.NotifyUpdateCell(cell)
	return v, nil
}

// EvaluateAll recomputes every formula cell of the document and stores the
// results. cells that fail are reported together; the others are still
// evaluated.
func (fe *FormulaEvaluator) EvaluateAll() error {
	fe.evaluator.ClearAllCachedResultValues()
	var errs []error
	for i := range fe.doc.NumberOfSheets() {
		for cell := range fe.doc.FormulaCells(i) {
			resultType, err := fe.EvaluateFormulaCell(cell)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			log.Debugf("%s!%s -> %s", fe.doc.SheetName(i), CellName(cell.Row(), cell.Column()), resultType)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d formula cells failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func (fe *FormulaEvaluator) SetIgnoreMissingWorkbooks(ignore bool) {
	fe.evaluator.SetIgnoreMissingWorkbooks(ignore)
}

func (fe *FormulaEvaluator) SetDebugEvaluationOutputForNextEval(debug bool) {
	fe.evaluator.SetDebugEvaluationOutputForNextEval(debug)
}

func (fe *FormulaEvaluator) NotifyUpdateCell(cell EvaluationCell) { fe.evaluator.NotifyUpdateCell(cell) }
func (fe *FormulaEvaluator) NotifySetFormula(cell EvaluationCell) { fe.evaluator.NotifySetFormula(cell) }
func (fe *FormulaEvaluator) NotifyDeleteCell(cell EvaluationCell) { fe.evaluator.NotifyDeleteCell(cell) }

func (fe *FormulaEvaluator) ClearAllCachedResultValues() {
	fe.evaluator.ClearAllCachedResultValues()
}

// SetupReferencedWorkbooks lets the formulas of every given document refer
// to the others by name. the map should hold fe itself as well.
func (fe *FormulaEvaluator) SetupReferencedWorkbooks(evaluators map[string]*FormulaEvaluator) error {
	engines := make(map[string]*WorkbookEvaluator, len(evaluators))
	for name, other := range evaluators {
		engines[name] = other.evaluator
	}
	_, err := SetupReferencedWorkbooks(engines)
	return err
}
