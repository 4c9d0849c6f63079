package formulaeval

import (
	"fmt"
	"strconv"
	"strings"
)

// Token is one element of a parsed formula, in reverse polish order. the
// set of implementations is closed; the evaluator and the structural
// adjuster switch over all of them.
type Token interface {
	isToken()
}

// BinaryOp represents binary operators
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpText = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (op BinaryOp) String() string { return binaryOpText[op] }

// UnaryOp represents unary operators
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

func (op UnaryOp) String() string {
	switch op {
	case UnaryOpPlus:
		return "+"
	case UnaryOpMinus:
		return "-"
	}
	return "%"
}

// literals

type NumberToken struct{ Value float64 }
type StringToken struct{ Value string }
type BoolToken struct{ Value bool }
type ErrorToken struct{ Code ErrorCode }

// MissingArgToken marks an omitted function argument.
type MissingArgToken struct{}

// ArrayToken is a constant array. elements are NumberValue, TextValue,
// BoolValue or *SpreadsheetError.
type ArrayToken struct{ Values [][]Value }

// references

// RefToken references a cell on the sheet of the formula.
type RefToken struct {
	Row, Col                 int
	RowRelative, ColRelative bool
}

// AreaToken references a rectangle on the sheet of the formula. FirstRow <=
// LastRow and FirstCol <= LastCol always hold.
type AreaToken struct {
	FirstRow, LastRow                 int
	FirstCol, LastCol                 int
	FirstRowRelative, LastRowRelative bool
	FirstColRelative, LastColRelative bool
}

// Ref3DToken references a cell through the workbook's external sheet
// table, which may point into another workbook.
type Ref3DToken struct {
	ExternSheetIndex int
	RefToken
}

type Area3DToken struct {
	ExternSheetIndex int
	AreaToken
}

// Ref3DNamedToken references a cell by sheet name. workbook number 0 is
// the formula's own workbook, n > 0 is the n'th external link.
type Ref3DNamedToken struct {
	ExternalWorkbookNumber int
	SheetName              string
	RefToken
}

type Area3DNamedToken struct {
	ExternalWorkbookNumber int
	SheetName              string
	AreaToken
}

// deleted references, all evaluate to #REF!

type RefErrorToken struct{}
type AreaErrorToken struct{}
type DeletedRef3DToken struct{ ExternSheetIndex int }
type DeletedArea3DToken struct{ ExternSheetIndex int }
type Deleted3DNamedToken struct {
	ExternalWorkbookNumber int
	SheetName              string
}

// operations

type BinaryOpToken struct{ Op BinaryOp }
type UnaryOpToken struct{ Op UnaryOp }

// FuncToken calls a function with the Arity topmost operands.
type FuncToken struct {
	Name  string
	Arity int
}

// NameToken refers to a defined name.
type NameToken struct{ Name string }

// ParenToken only affects rendering.
type ParenToken struct{}

// AttrKind selects the behavior of an AttrToken
type AttrKind int

const (
	// AttrSum is SUM applied to the single topmost operand
	AttrSum AttrKind = iota
	// AttrIf jumps Distance tokens when the condition is false
	AttrIf
	// AttrSkip jumps Distance tokens unconditionally
	AttrSkip
	AttrSpace
	AttrVolatile
)

type AttrToken struct {
	Kind     AttrKind
	Distance int
}

func (NumberToken) isToken()         {}
func (StringToken) isToken()         {}
func (BoolToken) isToken()           {}
func (ErrorToken) isToken()          {}
func (MissingArgToken) isToken()     {}
func (ArrayToken) isToken()          {}
func (RefToken) isToken()            {}
func (AreaToken) isToken()           {}
func (Ref3DToken) isToken()          {}
func (Area3DToken) isToken()         {}
func (Ref3DNamedToken) isToken()     {}
func (Area3DNamedToken) isToken()    {}
func (RefErrorToken) isToken()       {}
func (AreaErrorToken) isToken()      {}
func (DeletedRef3DToken) isToken()   {}
func (DeletedArea3DToken) isToken()  {}
func (Deleted3DNamedToken) isToken() {}
func (BinaryOpToken) isToken()       {}
func (UnaryOpToken) isToken()        {}
func (FuncToken) isToken()           {}
func (NameToken) isToken()           {}
func (ParenToken) isToken()          {}
func (AttrToken) isToken()           {}

// NewAreaToken builds a normalized area token with every corner relative
// or absolute.
func NewAreaToken(firstRow, firstCol, lastRow, lastCol int, relative bool) AreaToken {
	a := AreaToken{
		FirstRow: firstRow, LastRow: lastRow, FirstCol: firstCol, LastCol: lastCol,
		FirstRowRelative: relative, LastRowRelative: relative,
		FirstColRelative: relative, LastColRelative: relative,
	}
	a.sortTopLeftToBottomRight()
	return a
}

// sortTopLeftToBottomRight swaps endpoints, together with their relative
// flags, so the first corner is the top left one.
func (a *AreaToken) sortTopLeftToBottomRight() {
	if a.FirstRow > a.LastRow {
		a.FirstRow, a.LastRow = a.LastRow, a.FirstRow
		a.FirstRowRelative, a.LastRowRelative = a.LastRowRelative, a.FirstRowRelative
	}
	if a.FirstCol > a.LastCol {
		a.FirstCol, a.LastCol = a.LastCol, a.FirstCol
		a.FirstColRelative, a.LastColRelative = a.LastColRelative, a.FirstColRelative
	}
}

func formatCellPart(row, col int, rowRelative, colRelative bool) string {
	var sb strings.Builder
	if !colRelative {
		sb.WriteByte('$')
	}
	sb.WriteString(ColumnName(col))
	if !rowRelative {
		sb.WriteByte('$')
	}
	sb.WriteString(strconv.Itoa(row + 1))
	return sb.String()
}

func (t RefToken) String() string {
	return formatCellPart(t.Row, t.Col, t.RowRelative, t.ColRelative)
}

func (t AreaToken) String() string {
	if t.isWholeColumns() {
		return formatColumnPart(t.FirstCol, t.FirstColRelative) + ":" + formatColumnPart(t.LastCol, t.LastColRelative)
	}
	if t.isWholeRows() {
		return formatRowPart(t.FirstRow, t.FirstRowRelative) + ":" + formatRowPart(t.LastRow, t.LastRowRelative)
	}
	return formatCellPart(t.FirstRow, t.FirstCol, t.FirstRowRelative, t.FirstColRelative) + ":" +
		formatCellPart(t.LastRow, t.LastCol, t.LastRowRelative, t.LastColRelative)
}

// isWholeColumns matches the areas A:C parses to
func (t AreaToken) isWholeColumns() bool {
	return t.FirstRow == 0 && !t.FirstRowRelative && !t.LastRowRelative &&
		(t.LastRow == Excel2007.LastRowIndex() || t.LastRow == Excel97.LastRowIndex())
}

func (t AreaToken) isWholeRows() bool {
	return t.FirstCol == 0 && !t.FirstColRelative && !t.LastColRelative &&
		(t.LastCol == Excel2007.LastColumnIndex() || t.LastCol == Excel97.LastColumnIndex())
}

func formatColumnPart(col int, relative bool) string {
	if relative {
		return ColumnName(col)
	}
	return "$" + ColumnName(col)
}

func formatRowPart(row int, relative bool) string {
	if relative {
		return strconv.Itoa(row + 1)
	}
	return "$" + strconv.Itoa(row+1)
}

// TokenString describes a single token for traces and test failures.
func TokenString(t Token) string {
	switch x := t.(type) {
	case NumberToken:
		return formatNumber(x.Value)
	case StringToken:
		return `"` + strings.ReplaceAll(x.Value, `"`, `""`) + `"`
	case BoolToken:
		return BoolValue(x.Value).String()
	case ErrorToken:
		return ErrorMapper[x.Code]
	case MissingArgToken:
		return "<missing>"
	case ArrayToken:
		return formatArray(x.Values)
	case RefToken:
		return x.String()
	case AreaToken:
		return x.String()
	case Ref3DToken:
		return fmt.Sprintf("[extern %d]!%s", x.ExternSheetIndex, x.RefToken)
	case Area3DToken:
		return fmt.Sprintf("[extern %d]!%s", x.ExternSheetIndex, x.AreaToken)
	case Ref3DNamedToken:
		return qualifiedSheet(x.ExternalWorkbookNumber, x.SheetName) + "!" + x.RefToken.String()
	case Area3DNamedToken:
		return qualifiedSheet(x.ExternalWorkbookNumber, x.SheetName) + "!" + x.AreaToken.String()
	case RefErrorToken, AreaErrorToken:
		return "#REF!"
	case DeletedRef3DToken:
		return fmt.Sprintf("[extern %d]!#REF!", x.ExternSheetIndex)
	case DeletedArea3DToken:
		return fmt.Sprintf("[extern %d]!#REF!", x.ExternSheetIndex)
	case Deleted3DNamedToken:
		return qualifiedSheet(x.ExternalWorkbookNumber, x.SheetName) + "!#REF!"
	case BinaryOpToken:
		return x.Op.String()
	case UnaryOpToken:
		return "(unary " + x.Op.String() + ")"
	case FuncToken:
		return fmt.Sprintf("%s/%d", x.Name, x.Arity)
	case NameToken:
		return x.Name
	case ParenToken:
		return "()"
	case AttrToken:
		switch x.Kind {
		case AttrSum:
			return "attr(SUM)"
		case AttrIf:
			return fmt.Sprintf("attr(IF %d)", x.Distance)
		case AttrSkip:
			return fmt.Sprintf("attr(SKIP %d)", x.Distance)
		case AttrSpace:
			return "attr(SPACE)"
		}
		return "attr(VOLATILE)"
	}
	return fmt.Sprintf("%T", t)
}

// TokensString joins the tokens of a formula in evaluation order.
func TokensString(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = TokenString(t)
	}
	return strings.Join(parts, " ")
}

func qualifiedSheet(workbookNumber int, sheetName string) string {
	name := sheetName
	if needsQuoting(sheetName) {
		name = "'" + strings.ReplaceAll(sheetName, "'", "''") + "'"
	}
	if workbookNumber > 0 {
		if name != sheetName {
			return "'[" + strconv.Itoa(workbookNumber) + "]" + name[1:]
		}
		return "[" + strconv.Itoa(workbookNumber) + "]" + name
	}
	return name
}

func needsQuoting(sheetName string) bool {
	if sheetName == "" {
		return false
	}
	for i := 0; i < len(sheetName); i++ {
		ch := sheetName[i]
		if !isLetter(ch) && !(ch >= '0' && ch <= '9') && ch != '_' && ch != '.' {
			return true
		}
	}
	return sheetName[0] >= '0' && sheetName[0] <= '9'
}

func formatArray(values [][]Value) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for r, row := range values {
		if r > 0 {
			sb.WriteByte(';')
		}
		for c, v := range row {
			if c > 0 {
				sb.WriteByte(',')
			}
			switch x := v.(type) {
			case TextValue:
				sb.WriteString(`"` + strings.ReplaceAll(string(x), `"`, `""`) + `"`)
			default:
				sb.WriteString(ValueString(v))
			}
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
