package formulaeval

import (
	"fmt"
	"iter"
	"math/bits"
	"slices"
	"strings"
	"time"
)

// MemoryWorkbook is an in-memory Document. cells are kept in sparse 256x256
// chunks per sheet, formulas are parsed when they are set.
//
// a MemoryWorkbook is not safe for concurrent use.
type MemoryWorkbook struct {
	version      SpreadsheetVersion
	sheets       []*MemorySheet
	strings      *stringTable
	formulas     map[uint32]*formulaRecord
	nextFormula  uint32
	externSheets []ExternalSheet
	links        []string
	names        map[nameKey]*MemoryName
}

type formulaRecord struct {
	text   string
	tokens []Token
}

// nameKey scopes a defined name. sheet is -1 for workbook scope.
type nameKey struct {
	name  string
	sheet int
}

var (
	_ Document          = (*MemoryWorkbook)(nil)
	_ ExternalLinkTable = (*MemoryWorkbook)(nil)
	_ DocumentCell      = (*MemoryCell)(nil)
)

func NewMemoryWorkbook(version SpreadsheetVersion) *MemoryWorkbook {
	return &MemoryWorkbook{
		version:     version,
		strings:     newStringTable(),
		formulas:    make(map[uint32]*formulaRecord),
		nextFormula: 1,
		names:       make(map[nameKey]*MemoryName),
	}
}

// AddSheet appends a sheet. sheet names are unique regardless of case.
func (wb *MemoryWorkbook) AddSheet(name string) (*MemorySheet, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewApplicationError(InvalidArgument, "sheet name must not be empty")
	}
	if wb.SheetIndex(name) >= 0 {
		return nil, NewApplicationError(AlreadyExists, fmt.Sprintf("sheet %q already exists", name))
	}
	sheet := &MemorySheet{
		workbook: wb,
		index:    len(wb.sheets),
		name:     name,
		chunks:   make(map[chunkKey]*chunk),
	}
	wb.sheets = append(wb.sheets, sheet)
	return sheet, nil
}

// SheetAt returns nil for an index out of range
func (wb *MemoryWorkbook) SheetAt(sheetIndex int) *MemorySheet {
	if sheetIndex < 0 || sheetIndex >= len(wb.sheets) {
		return nil
	}
	return wb.sheets[sheetIndex]
}

func (wb *MemoryWorkbook) SheetByName(name string) *MemorySheet {
	return wb.SheetAt(wb.SheetIndex(name))
}

func (wb *MemoryWorkbook) NumberOfSheets() int { return len(wb.sheets) }

func (wb *MemoryWorkbook) SheetIndex(name string) int {
	for i, s := range wb.sheets {
		if strings.EqualFold(s.name, name) {
			return i
		}
	}
	return -1
}

func (wb *MemoryWorkbook) SheetName(sheetIndex int) string {
	if s := wb.SheetAt(sheetIndex); s != nil {
		return s.name
	}
	return ""
}

func (wb *MemoryWorkbook) Sheet(sheetIndex int) EvaluationSheet {
	if s := wb.SheetAt(sheetIndex); s != nil {
		return s
	}
	return nil
}

func (wb *MemoryWorkbook) SpreadsheetVersion() SpreadsheetVersion { return wb.version }

// AddExternalSheet returns the extern sheet index of a sheet, registering
// it on first use. workbookName is empty for sheets of this workbook.
func (wb *MemoryWorkbook) AddExternalSheet(workbookName, sheetName string) int {
	for i, ext := range wb.externSheets {
		if strings.EqualFold(ext.WorkbookName, workbookName) && strings.EqualFold(ext.SheetName, sheetName) {
			return i
		}
	}
	wb.externSheets = append(wb.externSheets, ExternalSheet{WorkbookName: workbookName, SheetName: sheetName})
	return len(wb.externSheets) - 1
}

// ExternSheetIndex returns the extern sheet index of one of the workbook's
// own sheets.
func (wb *MemoryWorkbook) ExternSheetIndex(sheetIndex int) int {
	return wb.AddExternalSheet("", wb.SheetName(sheetIndex))
}

func (wb *MemoryWorkbook) ExternalSheet(externSheetIndex int) (ExternalSheet, bool) {
	if externSheetIndex < 0 || externSheetIndex >= len(wb.externSheets) {
		return ExternalSheet{}, false
	}
	return wb.externSheets[externSheetIndex], true
}

// AddExternalLink registers another workbook and returns its link number,
// as written in [1]Sheet1!A1. numbering starts at 1.
func (wb *MemoryWorkbook) AddExternalLink(workbookName string) int {
	if n, ok := wb.ExternalWorkbookNumber(workbookName); ok {
		return n
	}
	wb.links = append(wb.links, workbookName)
	return len(wb.links)
}

func (wb *MemoryWorkbook) ExternalWorkbookNumber(workbookName string) (int, bool) {
	for i, name := range wb.links {
		if strings.EqualFold(name, workbookName) {
			return i + 1, true
		}
	}
	return 0, false
}

func (wb *MemoryWorkbook) ExternalWorkbookName(workbookNumber int) (string, bool) {
	if workbookNumber < 1 || workbookNumber > len(wb.links) {
		return "", false
	}
	return wb.links[workbookNumber-1], true
}

// DefineName defines a name as a formula. sheetIndex -1 makes the name
// visible from every sheet, otherwise only from that sheet. an existing
// definition in the same scope is replaced.
func (wb *MemoryWorkbook) DefineName(name string, sheetIndex int, formula string) error {
	if !isValidName(name) {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("invalid name %q", name))
	}
	if _, _, _, _, ok := ParseCellName(name); ok {
		return NewApplicationError(InvalidArgument, fmt.Sprintf("name %q looks like a cell reference", name))
	}
	if sheetIndex < -1 || sheetIndex >= len(wb.sheets) {
		return NewApplicationError(OutOfRange, fmt.Sprintf("no sheet at index %d", sheetIndex))
	}
	tokens, err := ParseFormula(formula, wb)
	if err != nil {
		return err
	}
	wb.names[nameKey{strings.ToUpper(name), sheetIndex}] = &MemoryName{name: name, tokens: tokens}
	return nil
}

func (wb *MemoryWorkbook) Name(name string, sheetIndex int) EvaluationName {
	upper := strings.ToUpper(name)
	if n, ok := wb.names[nameKey{upper, sheetIndex}]; ok {
		return n
	}
	if n, ok := wb.names[nameKey{upper, -1}]; ok {
		return n
	}
	return nil
}

func (wb *MemoryWorkbook) FormulaTokens(cell EvaluationCell) ([]Token, error) {
	sheet := wb.SheetAt(cell.SheetIndex())
	if sheet == nil {
		return nil, NewApplicationError(NotFound, fmt.Sprintf("no sheet at index %d", cell.SheetIndex()))
	}
	record := sheet.formula(cell.Row(), cell.Column())
	if record == nil {
		return nil, NewApplicationError(FailedPrecondition,
			fmt.Sprintf("%s!%s has no formula", sheet.name, CellName(cell.Row(), cell.Column())))
	}
	return record.tokens, nil
}

func (wb *MemoryWorkbook) FormulaCells(sheetIndex int) iter.Seq[DocumentCell] {
	return func(yield func(DocumentCell) bool) {
		sheet := wb.SheetAt(sheetIndex)
		if sheet == nil {
			return
		}
		for cell := range sheet.Cells() {
			if cell.CellType() == CellValueTypeFormula && !yield(cell) {
				return
			}
		}
	}
}

// AdjustFormulas applies a structural edit to every formula of the
// workbook and to the defined names. it returns the number of formulas
// whose references changed.
//
// a row or column copy only rewrites the formulas in the destination band
// of its sheet, which the caller has already filled with the copied cells.
// defined names are left alone by copies.
func (wb *MemoryWorkbook) AdjustFormulas(op *StructuralOp) int {
	changed := 0
	for _, sheet := range wb.sheets {
		externIndex := wb.ExternSheetIndex(sheet.index)
		for cell := range sheet.Cells() {
			record := sheet.formula(cell.row, cell.col)
			if record == nil {
				continue
			}
			if op.isCopy() && !op.holdsCopy(externIndex, sheet.name, cell.row, cell.col) {
				continue
			}
			if op.Adjust(record.tokens, externIndex) {
				record.text = "=" + FormatFormula(record.tokens)
				changed++
			}
		}
	}
	if op.isCopy() {
		return changed
	}
	for key, name := range wb.names {
		externIndex := -1
		if key.sheet >= 0 {
			externIndex = wb.ExternSheetIndex(key.sheet)
		}
		op.Adjust(name.tokens, externIndex)
	}
	return changed
}

func (wb *MemoryWorkbook) addFormula(text string, tokens []Token) uint32 {
	id := wb.nextFormula
	wb.nextFormula++
	wb.formulas[id] = &formulaRecord{text: text, tokens: tokens}
	return id
}

// MemoryName is a defined name of a MemoryWorkbook.
type MemoryName struct {
	name   string
	tokens []Token
}

func (n *MemoryName) NameText() string        { return n.name }
func (n *MemoryName) IsFunctionName() bool    { return false }
func (n *MemoryName) HasFormula() bool        { return len(n.tokens) > 0 }
func (n *MemoryName) NameDefinition() []Token { return n.tokens }

type chunkKey struct {
	chunkRow, chunkCol int
}

const (
	chunkRows = 256
	chunkCols = 256
	chunkSize = chunkRows * chunkCols
)

// chunk holds a 256x256 region of cells as parallel arrays. only types and
// occupied exist from the start, the rest is allocated when a cell of a
// kind that needs it is stored. numbers holds numbers, dates, booleans and
// error codes.
type chunk struct {
	types    []uint8
	occupied []uint64
	count    int

	numbers    []float64
	stringIDs  []uint32
	formulaIDs []uint32

	resultTypes     []uint8
	resultNumbers   []float64
	resultStringIDs []uint32
}

func newChunk() *chunk {
	return &chunk{
		types:    make([]uint8, chunkSize),
		occupied: make([]uint64, chunkSize/64),
	}
}

func (c *chunk) isOccupied(idx int) bool {
	return c.occupied[idx/64]&(1<<(idx%64)) != 0
}

func (c *chunk) setOccupied(idx int, occupied bool) {
	was := c.isOccupied(idx)
	if occupied {
		c.occupied[idx/64] |= 1 << (idx % 64)
	} else {
		c.occupied[idx/64] &^= 1 << (idx % 64)
	}
	switch {
	case occupied && !was:
		c.count++
	case !occupied && was:
		c.count--
	}
}

func (c *chunk) ensureNumbers() {
	if c.numbers == nil {
		c.numbers = make([]float64, chunkSize)
	}
}

func (c *chunk) ensureStrings() {
	if c.stringIDs == nil {
		c.stringIDs = make([]uint32, chunkSize)
	}
}

func (c *chunk) ensureResults() {
	if c.resultTypes == nil {
		c.resultTypes = make([]uint8, chunkSize)
		c.resultNumbers = make([]float64, chunkSize)
		c.resultStringIDs = make([]uint32, chunkSize)
	}
}

// MemorySheet is one sheet of a MemoryWorkbook.
type MemorySheet struct {
	workbook *MemoryWorkbook
	index    int
	name     string
	chunks   map[chunkKey]*chunk
}

func (s *MemorySheet) Name() string { return s.name }
func (s *MemorySheet) Index() int   { return s.index }

// locate finds the chunk and slot of a cell. with create unset a missing
// chunk yields nil.
func (s *MemorySheet) locate(row, col int, create bool) (*chunk, int) {
	key := chunkKey{chunkRow: row / chunkRows, chunkCol: col / chunkCols}
	c, ok := s.chunks[key]
	if !ok {
		if !create {
			return nil, 0
		}
		c = newChunk()
		s.chunks[key] = c
	}
	// column-first indexing, cells of a column are adjacent
	return c, (col%chunkCols)*chunkRows + row%chunkRows
}

// Cell returns nil when no cell exists at the position
func (s *MemorySheet) Cell(row, col int) EvaluationCell {
	if c := s.GetCell(row, col); c != nil {
		return c
	}
	return nil
}

func (s *MemorySheet) GetCell(row, col int) *MemoryCell {
	if row < 0 || col < 0 {
		return nil
	}
	c, idx := s.locate(row, col, false)
	if c == nil || !c.isOccupied(idx) {
		return nil
	}
	return &MemoryCell{sheet: s, row: row, col: col}
}

// CreateCell returns the cell at a position, creating a blank one if
// needed.
func (s *MemorySheet) CreateCell(row, col int) (*MemoryCell, error) {
	v := s.workbook.version
	if row < 0 || col < 0 || row > v.LastRowIndex() || col > v.LastColumnIndex() {
		return nil, NewApplicationError(OutOfRange,
			fmt.Sprintf("cell (%d, %d) is outside the %s grid", row, col, v.Name))
	}
	c, idx := s.locate(row, col, true)
	if !c.isOccupied(idx) {
		c.types[idx] = uint8(CellValueTypeEmpty)
		c.setOccupied(idx, true)
	}
	return &MemoryCell{sheet: s, row: row, col: col}, nil
}

func (s *MemorySheet) cellAt(address string) (*MemoryCell, error) {
	row, col, _, _, ok := ParseCellName(address)
	if !ok {
		return nil, NewApplicationError(InvalidArgument, fmt.Sprintf("invalid cell address %q", address))
	}
	return s.CreateCell(row, col)
}

// Set stores a value in the cell at an A1 address. text starting with '='
// is a formula. accepted values are numbers, strings, booleans,
// time.Time, *SpreadsheetError, Value and nil.
func (s *MemorySheet) Set(address string, value any) error {
	cell, err := s.cellAt(address)
	if err != nil {
		return err
	}
	if text, ok := value.(string); ok && strings.HasPrefix(text, "=") && len(text) > 1 {
		return cell.SetFormula(text)
	}
	switch v := value.(type) {
	case nil:
		cell.SetBlank()
	case int:
		cell.SetNumber(float64(v))
	case int64:
		cell.SetNumber(float64(v))
	case float64:
		cell.SetNumber(v)
	case string:
		cell.SetText(v)
	case bool:
		cell.SetBool(v)
	case time.Time:
		cell.SetDate(v)
	case Value:
		return cell.SetCellValue(v)
	default:
		return NewApplicationError(InvalidArgument, fmt.Sprintf("cannot store %T in a cell", value))
	}
	return nil
}

// SetFormula puts a formula into the cell at an A1 address.
func (s *MemorySheet) SetFormula(address, formula string) error {
	cell, err := s.cellAt(address)
	if err != nil {
		return err
	}
	return cell.SetFormula(formula)
}

// Get returns the cell at an A1 address, nil when there is none.
func (s *MemorySheet) Get(address string) *MemoryCell {
	row, col, _, _, ok := ParseCellName(address)
	if !ok {
		return nil
	}
	return s.GetCell(row, col)
}

func (s *MemorySheet) RemoveCell(row, col int) {
	c, idx := s.locate(row, col, false)
	if c == nil || !c.isOccupied(idx) {
		return
	}
	s.clear(c, idx)
	c.setOccupied(idx, false)
	if c.count == 0 {
		delete(s.chunks, chunkKey{chunkRow: row / chunkRows, chunkCol: col / chunkCols})
	}
}

// clear releases whatever a slot refers to and leaves it blank.
func (s *MemorySheet) clear(c *chunk, idx int) {
	strs := s.workbook.strings
	if c.stringIDs != nil && c.stringIDs[idx] != 0 {
		strs.release(c.stringIDs[idx])
		c.stringIDs[idx] = 0
	}
	if c.formulaIDs != nil && c.formulaIDs[idx] != 0 {
		delete(s.workbook.formulas, c.formulaIDs[idx])
		c.formulaIDs[idx] = 0
	}
	s.clearResult(c, idx)
	c.types[idx] = uint8(CellValueTypeEmpty)
}

func (s *MemorySheet) clearResult(c *chunk, idx int) {
	if c.resultTypes == nil {
		return
	}
	if c.resultStringIDs[idx] != 0 {
		s.workbook.strings.release(c.resultStringIDs[idx])
		c.resultStringIDs[idx] = 0
	}
	c.resultTypes[idx] = uint8(CellValueTypeEmpty)
	c.resultNumbers[idx] = 0
}

func (s *MemorySheet) formula(row, col int) *formulaRecord {
	c, idx := s.locate(row, col, false)
	if c == nil || c.formulaIDs == nil || c.formulaIDs[idx] == 0 {
		return nil
	}
	return s.workbook.formulas[c.formulaIDs[idx]]
}

// Cells yields the existing cells in column-major order within each chunk,
// chunks ordered top to bottom, then left to right.
func (s *MemorySheet) Cells() iter.Seq[*MemoryCell] {
	return func(yield func(*MemoryCell) bool) {
		keys := make([]chunkKey, 0, len(s.chunks))
		for k := range s.chunks {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, func(a, b chunkKey) int {
			if a.chunkRow != b.chunkRow {
				return a.chunkRow - b.chunkRow
			}
			return a.chunkCol - b.chunkCol
		})
		for _, k := range keys {
			c := s.chunks[k]
			for word, bitsSet := range c.occupied {
				for bitsSet != 0 {
					bit := bits.TrailingZeros64(bitsSet)
					bitsSet &^= 1 << bit
					idx := word*64 + bit
					cell := &MemoryCell{
						sheet: s,
						row:   k.chunkRow*chunkRows + idx%chunkRows,
						col:   k.chunkCol*chunkCols + idx/chunkRows,
					}
					if !yield(cell) {
						return
					}
				}
			}
		}
	}
}

// CellCount returns the number of existing cells
func (s *MemorySheet) CellCount() int {
	n := 0
	for _, c := range s.chunks {
		n += c.count
	}
	return n
}

// MemoryCell is a handle on one cell of a MemorySheet. handles stay valid
// until the cell is removed.
type MemoryCell struct {
	sheet    *MemorySheet
	row, col int
}

func (c *MemoryCell) slot() (*chunk, int) {
	return c.sheet.locate(c.row, c.col, true)
}

// blankChunk stands in, read only, for the chunk of a removed cell
var blankChunk = newChunk()

func (c *MemoryCell) view() (*chunk, int) {
	ch, idx := c.sheet.locate(c.row, c.col, false)
	if ch == nil {
		return blankChunk, 0
	}
	return ch, idx
}

func (c *MemoryCell) SheetIndex() int { return c.sheet.index }
func (c *MemoryCell) Row() int        { return c.row }
func (c *MemoryCell) Column() int     { return c.col }
func (c *MemoryCell) Sheet() *MemorySheet {
	return c.sheet
}

// Address returns the cell's A1 name qualified by its sheet
func (c *MemoryCell) Address() string {
	return qualifiedSheet(0, c.sheet.name) + "!" + CellName(c.row, c.col)
}

func (c *MemoryCell) CellType() CellType {
	ch, idx := c.view()
	return CellType(ch.types[idx])
}

func (c *MemoryCell) CachedFormulaResultType() CellType {
	ch, idx := c.view()
	if CellType(ch.types[idx]) != CellValueTypeFormula || ch.resultTypes == nil {
		return CellValueTypeEmpty
	}
	return CellType(ch.resultTypes[idx])
}

func (c *MemoryCell) isFormula(ch *chunk, idx int) bool {
	return CellType(ch.types[idx]) == CellValueTypeFormula
}

func (c *MemoryCell) NumericCellValue() float64 {
	ch, idx := c.view()
	if c.isFormula(ch, idx) {
		if ch.resultNumbers == nil {
			return 0
		}
		return ch.resultNumbers[idx]
	}
	if ch.numbers == nil {
		return 0
	}
	return ch.numbers[idx]
}

func (c *MemoryCell) StringCellValue() string {
	ch, idx := c.view()
	strs := c.sheet.workbook.strings
	if c.isFormula(ch, idx) {
		if ch.resultStringIDs == nil {
			return ""
		}
		return strs.get(ch.resultStringIDs[idx])
	}
	if ch.stringIDs == nil {
		return ""
	}
	return strs.get(ch.stringIDs[idx])
}

func (c *MemoryCell) BooleanCellValue() bool {
	return c.NumericCellValue() != 0
}

func (c *MemoryCell) ErrorCellValue() ErrorCode {
	return ErrorCode(c.NumericCellValue())
}

// Value returns the plain value of the cell, or the cached result of a
// formula cell.
func (c *MemoryCell) Value() Value {
	return cellValueOf(c)
}

// Formula returns the formula text with its leading '=', or "" for a plain
// cell.
func (c *MemoryCell) Formula() string {
	if r := c.sheet.formula(c.row, c.col); r != nil {
		return r.text
	}
	return ""
}

func (c *MemoryCell) set(cellType CellType, number float64, text string) {
	ch, idx := c.slot()
	c.sheet.clear(ch, idx)
	ch.types[idx] = uint8(cellType)
	ch.setOccupied(idx, true)
	switch cellType {
	case CellValueTypeString:
		ch.ensureStrings()
		ch.stringIDs[idx] = c.sheet.workbook.strings.intern(text)
	case CellValueTypeNumber, CellValueTypeDate, CellValueTypeBoolean, CellValueTypeError:
		ch.ensureNumbers()
		ch.numbers[idx] = number
	}
}

func (c *MemoryCell) SetNumber(n float64) { c.set(CellValueTypeNumber, n, "") }
func (c *MemoryCell) SetText(s string)    { c.set(CellValueTypeString, 0, s) }
func (c *MemoryCell) SetBlank()           { c.set(CellValueTypeEmpty, 0, "") }
func (c *MemoryCell) SetError(code ErrorCode) {
	c.set(CellValueTypeError, float64(code), "")
}

func (c *MemoryCell) SetBool(b bool) {
	n := 0.0
	if b {
		n = 1
	}
	c.set(CellValueTypeBoolean, n, "")
}

// SetDate stores a date as its serial number
func (c *MemoryCell) SetDate(t time.Time) {
	c.set(CellValueTypeDate, TimeToSerial(t), "")
}

// SetFormula parses and stores a formula. the cell keeps its previous
// content when the formula does not parse.
func (c *MemoryCell) SetFormula(formula string) error {
	tokens, err := ParseFormula(formula, c.sheet.workbook)
	if err != nil {
		return err
	}
	text := "=" + strings.TrimPrefix(strings.TrimSpace(formula), "=")
	ch, idx := c.slot()
	c.sheet.clear(ch, idx)
	ch.types[idx] = uint8(CellValueTypeFormula)
	ch.setOccupied(idx, true)
	if ch.formulaIDs == nil {
		ch.formulaIDs = make([]uint32, chunkSize)
	}
	ch.formulaIDs[idx] = c.sheet.workbook.addFormula(text, tokens)
	return nil
}

// SetCellValue replaces the cell's content with a plain value.
func (c *MemoryCell) SetCellValue(v Value) error {
	switch x := v.(type) {
	case NumberValue:
		c.SetNumber(float64(x))
	case TextValue:
		c.SetText(string(x))
	case BoolValue:
		c.SetBool(bool(x))
	case *SpreadsheetError:
		c.SetError(x.ErrorCode)
	case BlankValue, MissingArgValue:
		c.SetBlank()
	default:
		return NewApplicationError(InvalidArgument, fmt.Sprintf("cannot store %s in a cell", ValueString(v)))
	}
	return nil
}

// SetCachedFormulaResult records the result of the cell's formula.
func (c *MemoryCell) SetCachedFormulaResult(v Value) error {
	ch, idx := c.slot()
	if !c.isFormula(ch, idx) {
		return NewApplicationError(FailedPrecondition, c.Address()+" is not a formula cell")
	}
	c.sheet.clearResult(ch, idx)
	ch.ensureResults()
	switch x := v.(type) {
	case NumberValue:
		ch.resultTypes[idx] = uint8(CellValueTypeNumber)
		ch.resultNumbers[idx] = float64(x)
	case TextValue:
		ch.resultTypes[idx] = uint8(CellValueTypeString)
		ch.resultStringIDs[idx] = c.sheet.workbook.strings.intern(string(x))
	case BoolValue:
		ch.resultTypes[idx] = uint8(CellValueTypeBoolean)
		if x {
			ch.resultNumbers[idx] = 1
		}
	case *SpreadsheetError:
		ch.resultTypes[idx] = uint8(CellValueTypeError)
		ch.resultNumbers[idx] = float64(x.ErrorCode)
	case BlankValue:
	default:
		return NewApplicationError(InvalidArgument, fmt.Sprintf("cannot cache %s as a formula result", ValueString(v)))
	}
	return nil
}
