package formulaeval

import "iter"

// Document is a workbook the FormulaEvaluator can write results back to.
type Document interface {
	EvaluationWorkbook
	NumberOfSheets() int
	// FormulaCells yields every formula cell of a sheet
	FormulaCells(sheetIndex int) iter.Seq[DocumentCell]
}

// DocumentCell is a writable cell of a Document.
type DocumentCell interface {
	EvaluationCell
	// SetCachedFormulaResult stores the result of evaluating the cell's
	// formula. the formula is kept.
	SetCachedFormulaResult(v Value) error
	// SetCellValue replaces the content of the cell, formula included, with
	// a plain value.
	SetCellValue(v Value) error
}
