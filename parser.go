package formulaeval

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/efp"
)

// ExternalLinkTable maps workbook names written in formulas, as in
// [Book2.xlsx]Sheet1!A1, to external link numbers.
type ExternalLinkTable interface {
	ExternalWorkbookNumber(workbookName string) (int, bool)
}

// Parser turns formula text into tokens in evaluation order. the lexical
// work is done by efp; Parser applies operator precedence and resolves
// references.
type Parser struct {
	tokens []efp.Token
	pos    int
	links  ExternalLinkTable
	text   string
}

// ParseFormula parses a formula, with or without the leading '='. links
// may be nil, in which case only numbered external references ([1]) are
// accepted.
func ParseFormula(text string, links ExternalLinkTable) ([]Token, error) {
	formula := strings.TrimPrefix(strings.TrimSpace(text), "=")
	if formula == "" {
		return nil, parseError(text, "empty formula")
	}
	var tokens []efp.Token
	for _, t := range efp.ExcelParser().Parse(formula) {
		if t.TType == efp.TokenTypeWhitespace || t.TType == efp.TokenTypeNoop {
			continue
		}
		tokens = append(tokens, t)
	}
	p := &Parser{tokens: tokens, links: links, text: text}
	out, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, p.errorf("unexpected %q after expression", p.tokens[p.pos].TValue)
	}
	return out, nil
}

func parseError(text, msg string) error {
	return NewApplicationError(InvalidArgument, fmt.Sprintf("cannot parse formula %q: %s", text, msg))
}

func (p *Parser) errorf(format string, args ...any) error {
	return parseError(p.text, fmt.Sprintf(format, args...))
}

func (p *Parser) peek() (efp.Token, bool) {
	if p.pos >= len(p.tokens) {
		return efp.Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *Parser) isInfix(values ...string) (string, bool) {
	tok, ok := p.peek()
	if !ok || tok.TType != efp.TokenTypeOperatorInfix {
		return "", false
	}
	for _, v := range values {
		if tok.TValue == v {
			return v, true
		}
	}
	return "", false
}

var infixOps = map[string]BinaryOp{
	"+": BinOpAdd, "-": BinOpSubtract, "*": BinOpMultiply, "/": BinOpDivide, "^": BinOpPower,
	"&": BinOpConcat,
	"=": BinOpEqual, "<>": BinOpNotEqual, "<": BinOpLess, "<=": BinOpLessEqual,
	">": BinOpGreater, ">=": BinOpGreaterEqual,
}

// parseBinary parses a left associative chain of the given operators.
func (p *Parser) parseBinary(next func() ([]Token, error), ops ...string) ([]Token, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.isInfix(ops...)
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = append(append(left, right...), BinaryOpToken{Op: infixOps[op]})
	}
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() ([]Token, error) {
	return p.parseBinary(p.parseConcatenation, "=", "<>", "<", "<=", ">", ">=")
}

func (p *Parser) parseConcatenation() ([]Token, error) {
	return p.parseBinary(p.parseAddition, "&")
}

func (p *Parser) parseAddition() ([]Token, error) {
	return p.parseBinary(p.parseMultiplication, "+", "-")
}

func (p *Parser) parseMultiplication() ([]Token, error) {
	return p.parseBinary(p.parsePower, "*", "/")
}

// parsePower binds looser than negation: -2^2 is 4
func (p *Parser) parsePower() ([]Token, error) {
	return p.parseBinary(p.parseUnary, "^")
}

func (p *Parser) parseUnary() ([]Token, error) {
	tok, ok := p.peek()
	if ok && tok.TType == efp.TokenTypeOperatorPrefix {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := UnaryOpPlus
		if tok.TValue == "-" {
			op = UnaryOpMinus
		}
		return append(operand, UnaryOpToken{Op: op}), nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() ([]Token, error) {
	out, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.TType != efp.TokenTypeOperatorPostfix {
			return out, nil
		}
		p.pos++
		out = append(out, UnaryOpToken{Op: UnaryOpPercent})
	}
}

func (p *Parser) parsePrimary() ([]Token, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of formula")
	}
	switch tok.TType {
	case efp.TokenTypeOperand:
		p.pos++
		t, err := p.operand(tok)
		if err != nil {
			return nil, err
		}
		return []Token{t}, nil
	case efp.TokenTypeSubexpression:
		if tok.TSubType != efp.TokenSubTypeStart {
			return nil, p.errorf("unexpected ')'")
		}
		p.pos++
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.TType != efp.TokenTypeSubexpression || closing.TSubType != efp.TokenSubTypeStop {
			return nil, p.errorf("missing ')'")
		}
		p.pos++
		return append(inner, ParenToken{}), nil
	case efp.TokenTypeFunction:
		if tok.TSubType != efp.TokenSubTypeStart {
			return nil, p.errorf("unexpected end of function arguments")
		}
		if tok.TValue == "ARRAY" {
			return p.parseArray()
		}
		return p.parseFunction(tok.TValue)
	case efp.TokenTypeOperatorInfix:
		switch tok.TValue {
		case " ", ",", ":":
			return nil, p.errorf("operator %q is not supported", tok.TValue)
		}
	}
	return nil, p.errorf("unexpected %q", tok.TValue)
}

func (p *Parser) atArgumentEnd() bool {
	tok, ok := p.peek()
	if !ok {
		return true
	}
	return tok.TType == efp.TokenTypeArgument ||
		(tok.TType == efp.TokenTypeFunction && tok.TSubType == efp.TokenSubTypeStop)
}

// parseFunction parses the arguments of a call. an empty argument is a
// missing argument, except that F() has no arguments at all.
func (p *Parser) parseFunction(name string) ([]Token, error) {
	p.pos++ // function start
	var args [][]Token
	if tok, ok := p.peek(); ok && tok.TType == efp.TokenTypeFunction && tok.TSubType == efp.TokenSubTypeStop {
		p.pos++
		return p.call(name, args), nil
	}
	for {
		if p.atArgumentEnd() {
			args = append(args, []Token{MissingArgToken{}})
		} else {
			arg, err := p.parseComparison()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		tok, ok := p.peek()
		if !ok {
			return nil, p.errorf("missing ')' after arguments of %s", name)
		}
		p.pos++
		if tok.TType == efp.TokenTypeFunction && tok.TSubType == efp.TokenSubTypeStop {
			return p.call(name, args), nil
		}
		if tok.TType != efp.TokenTypeArgument {
			return nil, p.errorf("unexpected %q in arguments of %s", tok.TValue, name)
		}
	}
}

// call lays out the tokens of a function call. IF gets jump attributes so
// that only the branch taken is evaluated.
func (p *Parser) call(name string, args [][]Token) []Token {
	name = strings.ToUpper(name)
	var out []Token
	if normalizeFunctionName(name) == "IF" && (len(args) == 2 || len(args) == 3) {
		out = append(out, args[0]...)
		out = append(out, AttrToken{Kind: AttrIf, Distance: len(args[1]) + 1})
		out = append(out, args[1]...)
		if len(args) == 3 {
			out = append(out, AttrToken{Kind: AttrSkip, Distance: len(args[2]) + 2})
			out = append(out, args[2]...)
		}
		out = append(out, AttrToken{Kind: AttrSkip, Distance: 1})
		return append(out, FuncToken{Name: name, Arity: len(args)})
	}
	for _, arg := range args {
		out = append(out, arg...)
	}
	return append(out, FuncToken{Name: name, Arity: len(args)})
}

// parseArray reads a constant array. efp reports {1,2;3,4} as nested ARRAY
// and ARRAYROW calls.
func (p *Parser) parseArray() ([]Token, error) {
	p.pos++ // ARRAY start
	var rows [][]Value
	for {
		tok, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated array")
		}
		p.pos++
		switch {
		case tok.TType == efp.TokenTypeFunction && tok.TSubType == efp.TokenSubTypeStart && tok.TValue == "ARRAYROW":
			row, err := p.parseArrayRow()
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 && len(row) != len(rows[0]) {
				return nil, p.errorf("array rows differ in length")
			}
			rows = append(rows, row)
		case tok.TType == efp.TokenTypeArgument:
		case tok.TType == efp.TokenTypeFunction && tok.TSubType == efp.TokenSubTypeStop:
			if len(rows) == 0 {
				return nil, p.errorf("empty array")
			}
			return []Token{ArrayToken{Values: rows}}, nil
		default:
			return nil, p.errorf("unexpected %q in array", tok.TValue)
		}
	}
}

func (p *Parser) parseArrayRow() ([]Value, error) {
	var row []Value
	negative := false
	for {
		tok, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated array")
		}
		p.pos++
		switch tok.TType {
		case efp.TokenTypeOperatorPrefix:
			if tok.TValue == "-" {
				negative = !negative
			}
		case efp.TokenTypeOperand:
			t, err := p.operand(tok)
			if err != nil {
				return nil, err
			}
			v, err := arrayElement(t, negative)
			if err != nil {
				return nil, p.errorf("%s", err.Error())
			}
			row = append(row, v)
			negative = false
		case efp.TokenTypeArgument:
		case efp.TokenTypeFunction:
			if tok.TSubType == efp.TokenSubTypeStop {
				return row, nil
			}
			return nil, p.errorf("function %s inside an array", tok.TValue)
		default:
			return nil, p.errorf("unexpected %q in array", tok.TValue)
		}
	}
}

func arrayElement(t Token, negative bool) (Value, error) {
	switch x := t.(type) {
	case NumberToken:
		if negative {
			return NumberValue(-x.Value), nil
		}
		return NumberValue(x.Value), nil
	case StringToken:
		return TextValue(x.Value), nil
	case BoolToken:
		return BoolValue(x.Value), nil
	case ErrorToken:
		return NewSpreadsheetError(x.Code, ""), nil
	}
	return nil, fmt.Errorf("arrays may only hold constants, got %s", TokenString(t))
}

func (p *Parser) operand(tok efp.Token) (Token, error) {
	switch tok.TSubType {
	case efp.TokenSubTypeNumber:
		f, err := strconv.ParseFloat(tok.TValue, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", tok.TValue)
		}
		return NumberToken{Value: f}, nil
	case efp.TokenSubTypeText:
		return StringToken{Value: tok.TValue}, nil
	case efp.TokenSubTypeLogical:
		return BoolToken{Value: strings.EqualFold(tok.TValue, "TRUE")}, nil
	case efp.TokenSubTypeError:
		code, ok := ErrorCodeFromText(tok.TValue)
		if !ok {
			return nil, p.errorf("unknown error %q", tok.TValue)
		}
		return ErrorToken{Code: code}, nil
	}
	if f, ok := parseNumber(tok.TValue); ok {
		// exponent notation the tokenizer did not recognize
		return NumberToken{Value: f}, nil
	}
	return p.reference(tok.TValue)
}

// reference resolves the text of a range operand: a cell, an area, whole
// rows or columns, optionally qualified by sheet and workbook, or else a
// defined name.
func (p *Parser) reference(text string) (Token, error) {
	sheetPart, cellPart, qualified := cutSheet(text)
	if !qualified {
		if t, ok := parseLocalReference(cellPart); ok {
			return t, nil
		}
		if strings.EqualFold(cellPart, "TRUE") || strings.EqualFold(cellPart, "FALSE") {
			return BoolToken{Value: strings.EqualFold(cellPart, "TRUE")}, nil
		}
		if !isValidName(cellPart) {
			return nil, p.errorf("invalid reference %q", text)
		}
		return NameToken{Name: cellPart}, nil
	}

	workbookNumber, sheetName, err := p.splitWorkbook(sheetPart)
	if err != nil {
		return nil, err
	}
	if strings.Contains(sheetName, ":") {
		return nil, p.errorf("references spanning several sheets are not supported: %q", text)
	}
	t, ok := parseLocalReference(cellPart)
	if !ok {
		return nil, p.errorf("invalid reference %q", text)
	}
	switch x := t.(type) {
	case RefToken:
		return Ref3DNamedToken{ExternalWorkbookNumber: workbookNumber, SheetName: sheetName, RefToken: x}, nil
	case AreaToken:
		return Area3DNamedToken{ExternalWorkbookNumber: workbookNumber, SheetName: sheetName, AreaToken: x}, nil
	}
	return nil, p.errorf("invalid reference %q", text)
}

// cutSheet splits Sheet1!A1 at the last '!'. quotes around the sheet part
// are removed.
func cutSheet(text string) (sheet, cell string, ok bool) {
	i := strings.LastIndexByte(text, '!')
	if i < 0 {
		return "", text, false
	}
	sheet = text[:i]
	if len(sheet) >= 2 && sheet[0] == '\'' && sheet[len(sheet)-1] == '\'' {
		sheet = strings.ReplaceAll(sheet[1:len(sheet)-1], "''", "'")
	}
	return sheet, text[i+1:], true
}

// splitWorkbook separates a [workbook] prefix from a sheet name.
func (p *Parser) splitWorkbook(sheetPart string) (int, string, error) {
	if !strings.HasPrefix(sheetPart, "[") {
		return 0, sheetPart, nil
	}
	end := strings.IndexByte(sheetPart, ']')
	if end < 0 {
		return 0, "", p.errorf("unterminated workbook name in %q", sheetPart)
	}
	workbook, sheet := sheetPart[1:end], sheetPart[end+1:]
	if n, err := strconv.Atoi(workbook); err == nil && n > 0 {
		return n, sheet, nil
	}
	if p.links != nil {
		if n, ok := p.links.ExternalWorkbookNumber(workbook); ok {
			return n, sheet, nil
		}
	}
	return 0, "", p.errorf("unknown external workbook %q", workbook)
}

// parseLocalReference parses A1, $A$1:B2, A:C or 1:3.
func parseLocalReference(s string) (Token, bool) {
	first, last, isArea := strings.Cut(s, ":")
	if !isArea {
		row, col, rowRel, colRel, ok := ParseCellName(s)
		if !ok {
			return nil, false
		}
		return RefToken{Row: row, Col: col, RowRelative: rowRel, ColRelative: colRel}, true
	}

	if r1, c1, rr1, cr1, ok := ParseCellName(first); ok {
		r2, c2, rr2, cr2, ok := ParseCellName(last)
		if !ok {
			return nil, false
		}
		a := AreaToken{
			FirstRow: r1, FirstCol: c1, LastRow: r2, LastCol: c2,
			FirstRowRelative: rr1, FirstColRelative: cr1, LastRowRelative: rr2, LastColRelative: cr2,
		}
		a.sortTopLeftToBottomRight()
		return a, true
	}
	if c1, cr1, ok := parseColumnPart(first); ok {
		c2, cr2, ok := parseColumnPart(last)
		if !ok {
			return nil, false
		}
		a := AreaToken{
			FirstRow: 0, LastRow: Excel2007.LastRowIndex(), FirstCol: c1, LastCol: c2,
			FirstColRelative: cr1, LastColRelative: cr2,
		}
		a.sortTopLeftToBottomRight()
		return a, true
	}
	if r1, rr1, ok := parseRowPart(first); ok {
		r2, rr2, ok := parseRowPart(last)
		if !ok {
			return nil, false
		}
		a := AreaToken{
			FirstRow: r1, LastRow: r2, FirstCol: 0, LastCol: Excel2007.LastColumnIndex(),
			FirstRowRelative: rr1, LastRowRelative: rr2,
		}
		a.sortTopLeftToBottomRight()
		return a, true
	}
	return nil, false
}

func parseColumnPart(s string) (int, bool, bool) {
	relative := !strings.HasPrefix(s, "$")
	letters := strings.TrimPrefix(s, "$")
	if letters == "" || len(letters) > 3 {
		return 0, false, false
	}
	for i := 0; i < len(letters); i++ {
		if !isLetter(letters[i]) {
			return 0, false, false
		}
	}
	col := ColumnIndex(letters)
	if col > Excel2007.LastColumnIndex() {
		return 0, false, false
	}
	return col, relative, true
}

func parseRowPart(s string) (int, bool, bool) {
	relative := !strings.HasPrefix(s, "$")
	n, err := strconv.Atoi(strings.TrimPrefix(s, "$"))
	if err != nil || n < 1 || n > Excel2007.MaxRows {
		return 0, false, false
	}
	return n - 1, relative, true
}

// isValidName reports whether s can be a defined name: a letter, '_' or
// '\' followed by letters, digits, '_' and '.'.
func isValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '\\':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r > 0x7f:
		case i > 0 && (r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// FormatFormula renders tokens back to formula text, without the leading
// '='.
func FormatFormula(tokens []Token) string {
	var stack []string
	pop := func() string {
		if len(stack) == 0 {
			return "?"
		}
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return s
	}
	for _, token := range tokens {
		switch t := token.(type) {
		case AttrToken:
			if t.Kind == AttrSum {
				stack = append(stack, "SUM("+pop()+")")
			}
		case BinaryOpToken:
			right := pop()
			left := pop()
			stack = append(stack, left+t.Op.String()+right)
		case UnaryOpToken:
			operand := pop()
			switch t.Op {
			case UnaryOpPercent:
				stack = append(stack, operand+"%")
			default:
				stack = append(stack, t.Op.String()+operand)
			}
		case ParenToken:
			stack = append(stack, "("+pop()+")")
		case FuncToken:
			args := make([]string, t.Arity)
			for i := t.Arity - 1; i >= 0; i-- {
				args[i] = pop()
			}
			stack = append(stack, t.Name+"("+strings.Join(args, ",")+")")
		case MissingArgToken:
			stack = append(stack, "")
		default:
			stack = append(stack, TokenString(token))
		}
	}
	return strings.Join(stack, "")
}
