package formulaeval

import (
	"errors"
	"fmt"
	"strings"

	"fortio.org/log"
)

// StabilityClassifier lets callers declare cells that will never change.
// the evaluator skips dependency tracking for final cells.
type StabilityClassifier interface {
	IsCellFinal(sheetIndex, row, col int) bool
}

// EvaluatorConfig holds the optional collaborators of a WorkbookEvaluator.
type EvaluatorConfig struct {
	// Functions defaults to NewDefaultFunctionTable()
	Functions *FunctionTable
	Listener  EvaluationListener
	Stability StabilityClassifier

	// IgnoreMissingWorkbooks makes formulas referencing a workbook outside
	// the environment keep their cached result instead of failing.
	IgnoreMissingWorkbooks bool
}

// WorkbookEvaluator evaluates the formulas of one workbook. it owns the
// result cache, shared with the other workbooks of its environment once
// SetupEnvironment has been called.
//
// a WorkbookEvaluator is not safe for concurrent use.
type WorkbookEvaluator struct {
	workbook   EvaluationWorkbook
	functions  *FunctionTable
	listener   EvaluationListener
	stability  StabilityClassifier
	cache      *EvaluationCache
	env        *CollaboratingWorkbooks
	workbookIx int

	ignoreMissingWorkbooks bool
	debugNextEval          bool
	debugIndent            int
}

// NewWorkbookEvaluator creates an evaluator for a workbook, standing alone
// in its own environment.
func NewWorkbookEvaluator(wb EvaluationWorkbook, cfg EvaluatorConfig) *WorkbookEvaluator {
	functions := cfg.Functions
	if functions == nil {
		functions = NewDefaultFunctionTable()
	}
	return &WorkbookEvaluator{
		workbook:               wb,
		functions:              functions,
		listener:               cfg.Listener,
		stability:              cfg.Stability,
		cache:                  NewEvaluationCache(cfg.Listener),
		env:                    emptyEnvironment,
		ignoreMissingWorkbooks: cfg.IgnoreMissingWorkbooks,
	}
}

func (e *WorkbookEvaluator) Workbook() EvaluationWorkbook { return e.workbook }
func (e *WorkbookEvaluator) Functions() *FunctionTable    { return e.functions }

// Cache exposes the result cache, for inspection in tests and tooling.
func (e *WorkbookEvaluator) Cache() *EvaluationCache { return e.cache }

func (e *WorkbookEvaluator) SetIgnoreMissingWorkbooks(ignore bool) { e.ignoreMissingWorkbooks = ignore }
func (e *WorkbookEvaluator) IgnoreMissingWorkbooks() bool          { return e.ignoreMissingWorkbooks }

// SetDebugEvaluationOutputForNextEval traces, at info level, every token of
// the next formula evaluated and of all formulas it pulls in.
func (e *WorkbookEvaluator) SetDebugEvaluationOutputForNextEval(debug bool) {
	e.debugNextEval = debug
}

// attachToEnvironment joins an environment, sharing its cache.
func (e *WorkbookEvaluator) attachToEnvironment(env *CollaboratingWorkbooks, cache *EvaluationCache, workbookIx int) {
	e.env = env
	e.cache = cache
	e.workbookIx = workbookIx
}

// detachFromEnvironment makes the evaluator stand alone again with a fresh
// cache.
func (e *WorkbookEvaluator) detachFromEnvironment() {
	e.env = emptyEnvironment
	e.cache = NewEvaluationCache(e.listener)
	e.workbookIx = 0
}

func (e *WorkbookEvaluator) otherWorkbookEvaluator(name string) (*WorkbookEvaluator, error) {
	return e.env.Evaluator(name)
}

func (e *WorkbookEvaluator) collaboratorNames() []string {
	return e.env.Names()
}

// ClearAllCachedResultValues drops every cached value of the environment.
func (e *WorkbookEvaluator) ClearAllCachedResultValues() {
	e.cache.InvalidateAll()
}

func (e *WorkbookEvaluator) cellKey(cell EvaluationCell) CellKey {
	return CellKey{Workbook: e.workbookIx, Sheet: cell.SheetIndex(), Row: cell.Row(), Col: cell.Column()}
}

// NotifyUpdateCell must be called after the value or formula of a cell
// changed. it clears the cached results that depended on the cell.
func (e *WorkbookEvaluator) NotifyUpdateCell(cell EvaluationCell) {
	isFormula := cell.CellType() == CellValueTypeFormula
	var value Value
	if !isFormula {
		value = cellValueOf(cell)
	}
	e.cache.NotifyUpdateCell(e.cellKey(cell), isFormula, value)
}

// NotifySetFormula must be called after a formula was put into a cell.
func (e *WorkbookEvaluator) NotifySetFormula(cell EvaluationCell) {
	e.NotifyUpdateCell(cell)
}

// NotifyDeleteCell must be called after a cell was removed.
func (e *WorkbookEvaluator) NotifyDeleteCell(cell EvaluationCell) {
	e.cache.NotifyDeleteCell(e.cellKey(cell))
}

// Evaluate returns the value of a cell, computing formulas as needed. the
// value of a formula cell is never an area or a reference.
func (e *WorkbookEvaluator) Evaluate(cell EvaluationCell) (Value, error) {
	tracker := newCircularReferenceTracker(e.cache)
	return e.evaluateAny(cell, cell.SheetIndex(), cell.Row(), cell.Column(), tracker)
}

// EvaluateCell evaluates the cell at a position, which may not exist.
func (e *WorkbookEvaluator) EvaluateCell(sheetIndex, row, col int) (Value, error) {
	tracker := newCircularReferenceTracker(e.cache)
	return e.evaluateReference(sheetIndex, row, col, tracker)
}

// EvaluateTokens evaluates a formula that is not stored in any cell, as if
// it were in the given cell. nothing is cached.
func (e *WorkbookEvaluator) EvaluateTokens(tokens []Token, sheetIndex, row, col int) (Value, error) {
	tracker := newCircularReferenceTracker(e.cache)
	ec := e.newContext(sheetIndex, row, col, tracker)
	v, err := e.evaluateFormula(ec, tokens, true)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", e.cellName(sheetIndex, row, col), err)
	}
	return v, nil
}

// EvaluateFormulaText parses and evaluates a formula, as if it were in the
// given cell.
func (e *WorkbookEvaluator) EvaluateFormulaText(text string, sheetIndex, row, col int) (Value, error) {
	links, _ := e.workbook.(ExternalLinkTable)
	tokens, err := ParseFormula(text, links)
	if err != nil {
		return nil, err
	}
	return e.EvaluateTokens(tokens, sheetIndex, row, col)
}

func (e *WorkbookEvaluator) newContext(sheetIndex, row, col int, tracker *CircularReferenceTracker) *OperationContext {
	return &OperationContext{evaluator: e, sheetIndex: sheetIndex, row: row, col: col, tracker: tracker}
}

func (e *WorkbookEvaluator) cellName(sheetIndex, row, col int) string {
	return qualifiedSheet(0, e.workbook.SheetName(sheetIndex)) + "!" + CellName(row, col)
}

// evaluateReference evaluates the cell at a position on behalf of a
// formula.
func (e *WorkbookEvaluator) evaluateReference(sheetIndex, row, col int, tracker *CircularReferenceTracker) (Value, error) {
	var cell EvaluationCell
	if sheet := e.workbook.Sheet(sheetIndex); sheet != nil {
		cell = sheet.Cell(row, col)
	}
	return e.evaluateAny(cell, sheetIndex, row, col, tracker)
}

func (e *WorkbookEvaluator) evaluateAny(cell EvaluationCell, sheetIndex, row, col int, tracker *CircularReferenceTracker) (Value, error) {
	key := CellKey{Workbook: e.workbookIx, Sheet: sheetIndex, Row: row, Col: col}
	track := e.stability == nil || !e.stability.IsCellFinal(sheetIndex, row, col)

	if cell == nil || cell.CellType() != CellValueTypeFormula {
		value := cellValueOf(cell)
		if track {
			tracker.acceptPlainValueDependency(key, value)
		}
		return value, nil
	}

	entry := e.cache.formulaEntry(key)
	if track || len(entry.inputs) > 0 {
		tracker.acceptFormulaDependency(entry)
	}
	if entry.value != nil {
		if e.listener != nil {
			e.listener.OnCacheHit(key, entry.value)
		}
		return entry.value, nil
	}

	if !tracker.startEvaluate(entry) {
		return NewSpreadsheetError(ErrorCodeCircularRef, "circular reference at "+e.cellName(sheetIndex, row, col)), nil
	}
	defer tracker.endEvaluate(entry)

	tokens, err := e.workbook.FormulaTokens(cell)
	if err != nil {
		return nil, fmt.Errorf("reading formula of %s: %w", e.cellName(sheetIndex, row, col), err)
	}
	if e.listener != nil {
		e.listener.OnStartEvaluate(key, tokens)
	}
	ec := e.newContext(sheetIndex, row, col, tracker)
	result, err := e.evaluateFormula(ec, tokens, true)
	if err != nil {
		var notFound *WorkbookNotFoundError
		if !errors.As(err, &notFound) || !e.ignoreMissingWorkbooks {
			return nil, fmt.Errorf("evaluating %s: %w", e.cellName(sheetIndex, row, col), err)
		}
		result = cellValueOf(cell)
		log.Infof("%s: %s - continuing with cached value %s",
			e.cellName(sheetIndex, row, col), notFound.Message, ValueString(result))
	}

	tracker.updateCacheResult(result)
	if e.listener != nil {
		e.listener.OnEndEvaluate(key, result)
	}
	return result, nil
}

// operandStack is the value stack of one formula evaluation.
type operandStack []Value

func (s *operandStack) push(v Value) { *s = append(*s, v) }

func (s *operandStack) pop() Value {
	n := len(*s)
	if n == 0 {
		raiseFault(NewApplicationError(Internal, "operand stack underflow"))
	}
	v := (*s)[n-1]
	*s = (*s)[:n-1]
	return v
}

// popN removes the n topmost operands, returned in push order.
func (s *operandStack) popN(n int) []Value {
	if n > len(*s) {
		raiseFault(NewApplicationError(Internal, fmt.Sprintf("operand stack underflow: need %d operands, have %d", n, len(*s))))
	}
	args := make([]Value, n)
	copy(args, (*s)[len(*s)-n:])
	*s = (*s)[:len(*s)-n]
	return args
}

// evaluateFormula runs a token sequence. with dereference set the result
// is reduced to a single value the way a cell shows it; defined names keep
// areas and references intact.
func (e *WorkbookEvaluator) evaluateFormula(ec *OperationContext, tokens []Token, dereference bool) (result Value, err error) {
	defer recoverFault(&err)

	if e.debugNextEval {
		e.debugIndent = 1
		e.debugNextEval = false
	}
	tracing := e.debugIndent > 0
	var indent string
	if tracing {
		indent = strings.Repeat("    ", e.debugIndent-1)
		log.Infof("%s- evaluateFormula('%s'/%s): %s", indent, e.workbook.SheetName(ec.sheetIndex),
			CellName(ec.row, ec.col), TokensString(tokens))
		e.debugIndent++
		defer func() {
			// leaving the formula that switched tracing on ends it
			if e.debugIndent--; e.debugIndent <= 1 {
				e.debugIndent = 0
			}
		}()
	}

	stack := make(operandStack, 0, 8)
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		if tracing {
			log.Infof("%s  * token %d: %s, stack: %s", indent, i, TokenString(token), stackString(stack))
		}

		if attr, ok := token.(AttrToken); ok {
			switch attr.Kind {
			case AttrSum:
				v, err := e.invokeFunction(ec, "SUM", []Value{stack.pop()})
				if err != nil {
					return nil, err
				}
				stack.push(v)
			case AttrIf:
				predicate, err := evaluateIfPredicate(stack.pop(), ec.row, ec.col)
				if err != nil {
					// the error is the value of the whole IF
					stack.push(asErrorValue(err))
					i += attr.Distance
					if skip, ok := attrAt(tokens, i, AttrSkip); ok {
						i += skip.Distance
					}
					continue
				}
				if !predicate {
					i += attr.Distance
					if f, ok := funcAt(tokens, i+1); ok && normalizeFunctionName(f.Name) == "IF" && f.Arity == 2 {
						// IF without a false branch
						stack.push(BoolValue(false))
						i++
					}
				}
			case AttrSkip:
				if n := len(stack); n > 0 {
					if _, missing := stack[n-1].(MissingArgValue); missing {
						stack[n-1] = Blank
					}
				}
				i += attr.Distance
			}
			continue
		}

		switch t := token.(type) {
		case ParenToken:
		case BinaryOpToken:
			right := stack.pop()
			left := stack.pop()
			stack.push(evaluateBinary(t.Op, left, right, ec.row, ec.col))
		case UnaryOpToken:
			stack.push(evaluateUnary(t.Op, stack.pop(), ec.row, ec.col))
		case FuncToken:
			v, err := e.invokeFunction(ec, t.Name, stack.popN(t.Arity))
			if err != nil {
				return nil, err
			}
			stack.push(v)
		default:
			v, err := e.evalForToken(ec, token)
			if err != nil {
				return nil, err
			}
			stack.push(v)
		}
	}

	if len(stack) != 1 {
		return nil, NewApplicationError(Internal, fmt.Sprintf("evaluation left %d operands on the stack", len(stack)))
	}
	result = stack[0]
	if dereference {
		result = dereferenceResult(result, ec.row, ec.col)
	}
	if tracing {
		log.Infof("%sfinished eval of %s: %s", indent, CellName(ec.row, ec.col), ValueString(result))
	}
	return result, nil
}

func attrAt(tokens []Token, i int, kind AttrKind) (AttrToken, bool) {
	if i < 0 || i >= len(tokens) {
		return AttrToken{}, false
	}
	attr, ok := tokens[i].(AttrToken)
	return attr, ok && attr.Kind == kind
}

func funcAt(tokens []Token, i int) (FuncToken, bool) {
	if i < 0 || i >= len(tokens) {
		return FuncToken{}, false
	}
	f, ok := tokens[i].(FuncToken)
	return f, ok
}

func stackString(stack operandStack) string {
	parts := make([]string, len(stack))
	for i, v := range stack {
		parts[i] = ValueString(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// evaluateIfPredicate reads the condition of an IF. blank counts as false,
// text that is not a boolean is #VALUE!.
func evaluateIfPredicate(arg Value, srcRow, srcCol int) (bool, error) {
	v, err := SingleValue(arg, srcRow, srcCol)
	if err != nil {
		return false, err
	}
	b, ok, err := CoerceToBool(v, false)
	if err != nil {
		return false, err
	}
	return ok && b, nil
}

// dereferenceResult reduces the final operand of a cell formula to what
// the cell shows. formulas never evaluate to blank: a blank read from a
// reference is zero, while an omitted argument standing alone is blank.
func dereferenceResult(v Value, srcRow, srcCol int) Value {
	if _, missing := v.(MissingArgValue); missing {
		return Blank
	}
	single, err := SingleValue(v, srcRow, srcCol)
	if err != nil {
		return asErrorValue(err)
	}
	if _, blank := single.(BlankValue); blank {
		return NumberValue(0)
	}
	return single
}

// invokeFunction calls a function by name. unknown names are #NAME? values;
// catalogued functions without implementation are engine faults.
func (e *WorkbookEvaluator) invokeFunction(ec *OperationContext, name string, args []Value) (Value, error) {
	def, ok := e.functions.lookupDef(name)
	if !ok {
		if suggestion, found := e.functions.Suggest(name); found {
			log.Warnf("unknown function %s in %s, did you mean %s?", name, e.cellName(ec.sheetIndex, ec.row, ec.col), suggestion)
		} else {
			log.Warnf("unknown function %s in %s", name, e.cellName(ec.sheetIndex, ec.row, ec.col))
		}
		return NewSpreadsheetError(ErrorCodeName, "unknown function "+name), nil
	}
	if !def.acceptsArity(len(args)) {
		return def.arityError(len(args)), nil
	}
	if def.fn == nil {
		return nil, newNotImplementedError(def.name)
	}

	v, err := def.fn.Evaluate(ec, args)
	if err != nil {
		var valueErr *SpreadsheetError
		if errors.As(err, &valueErr) {
			return valueErr, nil
		}
		return nil, err
	}
	if v == nil {
		return nil, NewApplicationError(Internal, def.name+" returned no value")
	}
	if _, missing := v.(MissingArgValue); missing {
		return Blank, nil
	}
	return v, nil
}

// evalForToken turns an operand token into a value.
func (e *WorkbookEvaluator) evalForToken(ec *OperationContext, token Token) (Value, error) {
	switch t := token.(type) {
	case NumberToken:
		return NumberValue(t.Value), nil
	case StringToken:
		return TextValue(t.Value), nil
	case BoolToken:
		return BoolValue(t.Value), nil
	case ErrorToken:
		return NewSpreadsheetError(t.Code, ""), nil
	case MissingArgToken:
		return MissingArg, nil
	case ArrayToken:
		return NewArrayArea(t.Values), nil

	case RefToken:
		return newLazyRef(ec.currentSheet(), t.Row, t.Col), nil
	case AreaToken:
		return newLazyArea(ec.currentSheet(), t.FirstRow, t.FirstCol, t.LastRow, t.LastCol), nil
	case Ref3DToken:
		sheet, err := ec.externalSheet(t.ExternSheetIndex)
		if sheet == nil || err != nil {
			return refError(err)
		}
		return newLazyRef(sheet, t.Row, t.Col), nil
	case Area3DToken:
		sheet, err := ec.externalSheet(t.ExternSheetIndex)
		if sheet == nil || err != nil {
			return refError(err)
		}
		return newLazyArea(sheet, t.FirstRow, t.FirstCol, t.LastRow, t.LastCol), nil
	case Ref3DNamedToken:
		sheet, err := ec.namedSheet(t.ExternalWorkbookNumber, t.SheetName)
		if sheet == nil || err != nil {
			return refError(err)
		}
		return newLazyRef(sheet, t.Row, t.Col), nil
	case Area3DNamedToken:
		sheet, err := ec.namedSheet(t.ExternalWorkbookNumber, t.SheetName)
		if sheet == nil || err != nil {
			return refError(err)
		}
		return newLazyArea(sheet, t.FirstRow, t.FirstCol, t.LastRow, t.LastCol), nil

	case RefErrorToken, AreaErrorToken, DeletedRef3DToken, DeletedArea3DToken, Deleted3DNamedToken:
		return NewSpreadsheetError(ErrorCodeRef, ""), nil

	case NameToken:
		return e.evaluateName(ec, t.Name)
	}
	return nil, NewApplicationError(Internal, fmt.Sprintf("unexpected token %T", token))
}

func refError(err error) (Value, error) {
	if err != nil {
		return nil, err
	}
	return NewSpreadsheetError(ErrorCodeRef, "sheet does not exist"), nil
}

// evaluateName evaluates a defined name in the context of the formula
// using it, so relative functions such as ROW() see the using cell.
func (e *WorkbookEvaluator) evaluateName(ec *OperationContext, name string) (Value, error) {
	n := e.workbook.Name(name, ec.sheetIndex)
	if n == nil {
		log.Debugf("undefined name %s in %s", name, e.cellName(ec.sheetIndex, ec.row, ec.col))
		return NewSpreadsheetError(ErrorCodeName, "undefined name "+name), nil
	}
	if n.IsFunctionName() || !n.HasFormula() {
		return NewSpreadsheetError(ErrorCodeName, "cannot evaluate name "+n.NameText()), nil
	}
	tokens := n.NameDefinition()
	if len(tokens) == 1 {
		if _, call := tokens[0].(FuncToken); !call {
			return e.evalForToken(ec, tokens[0])
		}
	}
	return e.evaluateFormula(ec, tokens, false)
}
