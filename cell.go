package formulaeval

import (
	"strconv"
	"strings"
)

// ErrorCode represents standard spreadsheet error codes following
// Excel conventions
type ErrorCode uint8

const (
	ErrorCodeNull  ErrorCode = 1 // #NULL! - no cells in common between ranges
	ErrorCodeDiv0  ErrorCode = 2 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 3 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef   ErrorCode = 4 // #REF! - invalid cell reference
	ErrorCodeName  ErrorCode = 5 // #NAME? - unrecognized function name
	ErrorCodeNum   ErrorCode = 6 // #NUM! - number too large or small to be represented
	ErrorCodeNA    ErrorCode = 7 // #N/A - not enough arguments for function
	ErrorCodeOther ErrorCode = 8 // #ERROR! - all other errors

	// internal codes, never stored in a document

	ErrorCodeCircularRef            ErrorCode = 100 // a formula depends on its own cell
	ErrorCodeFunctionNotImplemented ErrorCode = 101 // placeholder function was invoked
)

// ErrorMapper maps error code numbers to their string representations
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeNull:                   "#NULL!",
	ErrorCodeDiv0:                   "#DIV/0!",
	ErrorCodeValue:                  "#VALUE!",
	ErrorCodeRef:                    "#REF!",
	ErrorCodeName:                   "#NAME?",
	ErrorCodeNum:                    "#NUM!",
	ErrorCodeNA:                     "#N/A",
	ErrorCodeOther:                  "#ERROR!",
	ErrorCodeCircularRef:            "~CIRCULAR~REF~",
	ErrorCodeFunctionNotImplemented: "~FUNCTION~NOT~IMPLEMENTED~",
}

// ErrorCodeFromText is the inverse of ErrorMapper, used when reading error
// literals from formula text or stored cells.
func ErrorCodeFromText(text string) (ErrorCode, bool) {
	for code, s := range ErrorMapper {
		if strings.EqualFold(s, text) {
			return code, true
		}
	}
	return 0, false
}

// SpreadsheetError preserves error code for display in cells. it is both a
// Go error (returned by argument helpers) and an evaluated Value.
type SpreadsheetError struct {
	ErrorCode ErrorCode
	Message   string
}

func (e *SpreadsheetError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// String renders the error the way a cell displays it.
func (e *SpreadsheetError) String() string {
	return ErrorMapper[e.ErrorCode]
}

func (e *SpreadsheetError) isValue() {}

func NewSpreadsheetError(code ErrorCode, message string) *SpreadsheetError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &SpreadsheetError{
		ErrorCode: code,
		Message:   message,
	}
}

// CellType represents numeric constants for cell value
// types (external API)
type CellType uint8

const (
	CellValueTypeEmpty   CellType = 0
	CellValueTypeNumber  CellType = 1
	CellValueTypeString  CellType = 2
	CellValueTypeDate    CellType = 3
	CellValueTypeBoolean CellType = 4
	CellValueTypeError   CellType = 5
	CellValueTypeFormula CellType = 6
)

func (t CellType) String() string {
	switch t {
	case CellValueTypeEmpty:
		return "BLANK"
	case CellValueTypeNumber:
		return "NUMERIC"
	case CellValueTypeString:
		return "STRING"
	case CellValueTypeDate:
		return "DATE"
	case CellValueTypeBoolean:
		return "BOOLEAN"
	case CellValueTypeError:
		return "ERROR"
	case CellValueTypeFormula:
		return "FORMULA"
	}
	return "CellType(" + strconv.Itoa(int(t)) + ")"
}

// CellKey identifies a cell across every workbook of an evaluation
// environment. Workbook is the evaluator's index in its environment.
type CellKey struct {
	Workbook int
	Sheet    int
	Row      int
	Col      int
}

// ColumnName converts a zero-based column index to letters (0 -> A, 27 -> AB).
func ColumnName(col int) string {
	var buf [8]byte
	i := len(buf)
	for n := col + 1; n > 0; n = (n - 1) / 26 {
		i--
		buf[i] = byte('A' + (n-1)%26)
	}
	return string(buf[i:])
}

// ColumnIndex converts column letters to a zero-based index, -1 when the
// letters are not a column name.
func ColumnIndex(letters string) int {
	if letters == "" {
		return -1
	}
	col := 0
	for _, ch := range strings.ToUpper(letters) {
		if ch < 'A' || ch > 'Z' {
			return -1
		}
		col = col*26 + int(ch-'A'+1)
	}
	return col - 1
}

// CellName formats a zero-based position in A1 notation.
func CellName(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// ParseCellName parses "A1", "$B$2" etc. into zero-based row, column and the
// relative flags of each part.
func ParseCellName(s string) (row, col int, rowRelative, colRelative bool, ok bool) {
	rest := s
	colRelative = true
	if strings.HasPrefix(rest, "$") {
		colRelative = false
		rest = rest[1:]
	}
	i := 0
	for i < len(rest) && isLetter(rest[i]) {
		i++
	}
	if i == 0 || i > 3 {
		return 0, 0, false, false, false
	}
	col = ColumnIndex(rest[:i])
	rest = rest[i:]
	rowRelative = true
	if strings.HasPrefix(rest, "$") {
		rowRelative = false
		rest = rest[1:]
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 || strings.HasPrefix(rest, "+") {
		return 0, 0, false, false, false
	}
	return n - 1, col, rowRelative, colRelative, true
}

func isLetter(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z')
}
