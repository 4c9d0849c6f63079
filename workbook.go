package formulaeval

// EvaluationWorkbook is the read side of a document, as seen by the
// evaluator. implementations adapt a concrete document model.
type EvaluationWorkbook interface {
	// SheetIndex returns the index of a sheet, or -1 when there is no sheet
	// with that name. names compare case-insensitively.
	SheetIndex(name string) int
	SheetName(sheetIndex int) string
	Sheet(sheetIndex int) EvaluationSheet

	// ExternalSheet resolves the extern sheet index carried by Ref3DToken
	// and Area3DToken.
	ExternalSheet(externSheetIndex int) (ExternalSheet, bool)
	// ExternalWorkbookName resolves the link number carried by name based
	// 3D tokens. number 0 is never passed.
	ExternalWorkbookName(workbookNumber int) (string, bool)

	// Name returns the defined name visible from a sheet: a sheet scoped
	// name wins over a workbook scoped one. nil when undefined.
	Name(name string, sheetIndex int) EvaluationName

	FormulaTokens(cell EvaluationCell) ([]Token, error)
	SpreadsheetVersion() SpreadsheetVersion
}

// EvaluationSheet gives access to the cells of one sheet.
type EvaluationSheet interface {
	// Cell returns nil for a cell that does not exist
	Cell(row, col int) EvaluationCell
}

// EvaluationCell is one stored cell. for formula cells the value accessors
// return the cached result of the last evaluation, whose type is
// CachedFormulaResultType.
type EvaluationCell interface {
	SheetIndex() int
	Row() int
	Column() int
	CellType() CellType
	CachedFormulaResultType() CellType
	NumericCellValue() float64
	StringCellValue() string
	BooleanCellValue() bool
	ErrorCellValue() ErrorCode
}

// EvaluationName is a defined name.
type EvaluationName interface {
	NameText() string
	// IsFunctionName is true for names standing for macro functions
	IsFunctionName() bool
	HasFormula() bool
	NameDefinition() []Token
}

// ExternalSheet is the target of an extern sheet index. WorkbookName is
// empty for sheets of the same workbook.
type ExternalSheet struct {
	WorkbookName string
	SheetName    string
}

// cellValueOf reads the literal value of a non formula cell, or the cached
// result of a formula cell.
func cellValueOf(cell EvaluationCell) Value {
	if cell == nil {
		return Blank
	}
	cellType := cell.CellType()
	if cellType == CellValueTypeFormula {
		cellType = cell.CachedFormulaResultType()
	}
	switch cellType {
	case CellValueTypeNumber, CellValueTypeDate:
		return NumberValue(cell.NumericCellValue())
	case CellValueTypeString:
		return TextValue(cell.StringCellValue())
	case CellValueTypeBoolean:
		return BoolValue(cell.BooleanCellValue())
	case CellValueTypeError:
		return NewSpreadsheetError(cell.ErrorCellValue(), "")
	}
	return Blank
}
