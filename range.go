package formulaeval

import (
	"iter"
)

// Area is a rectangular grid of values, either backed by sheet cells that
// are evaluated on demand (*LazyArea) or by a constant array (*ArrayArea).
// Height()*Width() values are always addressable.
type Area interface {
	Value
	FirstRow() int
	LastRow() int
	FirstColumn() int
	LastColumn() int
	Height() int
	Width() int
	Contains(row, col int) bool
	ContainsRow(row int) bool
	ContainsColumn(col int) bool
	// RelativeValue returns the value at an offset from the top left corner
	RelativeValue(relRow, relCol int) Value
	// AbsoluteValue returns the value at a sheet position inside the area
	AbsoluteValue(row, col int) Value
	// Values iterates row by row over every cell of the area
	Values() iter.Seq[Value]
}

// RefValue is a single cell handle. the referenced cell is evaluated only
// when InnerValue is called.
type RefValue interface {
	Value
	Row() int
	Column() int
	InnerValue() Value
}

// bounds is shared by every area implementation
type bounds struct {
	firstRow, firstCol int
	lastRow, lastCol   int
}

func newBounds(firstRow, firstCol, lastRow, lastCol int) bounds {
	if firstRow > lastRow {
		firstRow, lastRow = lastRow, firstRow
	}
	if firstCol > lastCol {
		firstCol, lastCol = lastCol, firstCol
	}
	return bounds{firstRow: firstRow, firstCol: firstCol, lastRow: lastRow, lastCol: lastCol}
}

func (b bounds) FirstRow() int    { return b.firstRow }
func (b bounds) LastRow() int     { return b.lastRow }
func (b bounds) FirstColumn() int { return b.firstCol }
func (b bounds) LastColumn() int  { return b.lastCol }
func (b bounds) Height() int      { return b.lastRow - b.firstRow + 1 }
func (b bounds) Width() int       { return b.lastCol - b.firstCol + 1 }

func (b bounds) ContainsRow(row int) bool {
	return b.firstRow <= row && row <= b.lastRow
}

func (b bounds) ContainsColumn(col int) bool {
	return b.firstCol <= col && col <= b.lastCol
}

func (b bounds) Contains(row, col int) bool {
	return b.ContainsRow(row) && b.ContainsColumn(col)
}

func iterateArea(a Area) iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for r := 0; r < a.Height(); r++ {
			for c := 0; c < a.Width(); c++ {
				if !yield(a.RelativeValue(r, c)) {
					return
				}
			}
		}
	}
}

// LazyArea is an area of sheet cells. cell values are only computed when
// they are read, which recursively evaluates formulas in those cells.
type LazyArea struct {
	bounds
	sheet *sheetEvaluator
}

func newLazyArea(sheet *sheetEvaluator, firstRow, firstCol, lastRow, lastCol int) *LazyArea {
	return &LazyArea{bounds: newBounds(firstRow, firstCol, lastRow, lastCol), sheet: sheet}
}

func (*LazyArea) isValue() {}

// SheetIndex returns the index of the sheet the area lives on, within the
// workbook that owns it.
func (a *LazyArea) SheetIndex() int { return a.sheet.sheetIndex }

func (a *LazyArea) RelativeValue(relRow, relCol int) Value {
	return a.sheet.cellValue(a.firstRow+relRow, a.firstCol+relCol)
}

func (a *LazyArea) AbsoluteValue(row, col int) Value {
	return a.sheet.cellValue(row, col)
}

func (a *LazyArea) Values() iter.Seq[Value] {
	return iterateArea(a)
}

// Offset returns an area positioned relative to this area's top left
// corner, as used by OFFSET and INDEX.
func (a *LazyArea) Offset(relFirstRow, relLastRow, relFirstCol, relLastCol int) *LazyArea {
	return newLazyArea(a.sheet,
		a.firstRow+relFirstRow, a.firstCol+relFirstCol,
		a.firstRow+relLastRow, a.firstCol+relLastCol)
}

// Column returns the single column area at a relative column index.
func (a *LazyArea) Column(relCol int) *LazyArea {
	return a.Offset(0, a.Height()-1, relCol, relCol)
}

// Row returns the single row area at a relative row index.
func (a *LazyArea) Row(relRow int) *LazyArea {
	return a.Offset(relRow, relRow, 0, a.Width()-1)
}

// LazyRef is a reference to one sheet cell.
type LazyRef struct {
	row, col int
	sheet    *sheetEvaluator
}

func newLazyRef(sheet *sheetEvaluator, row, col int) *LazyRef {
	return &LazyRef{row: row, col: col, sheet: sheet}
}

func (*LazyRef) isValue() {}

func (r *LazyRef) Row() int          { return r.row }
func (r *LazyRef) Column() int       { return r.col }
func (r *LazyRef) SheetIndex() int   { return r.sheet.sheetIndex }
func (r *LazyRef) InnerValue() Value { return r.sheet.cellValue(r.row, r.col) }

// Offset returns an area relative to the referenced cell.
func (r *LazyRef) Offset(relFirstRow, relLastRow, relFirstCol, relLastCol int) *LazyArea {
	return newLazyArea(r.sheet,
		r.row+relFirstRow, r.col+relFirstCol,
		r.row+relLastRow, r.col+relLastCol)
}

// ArrayArea holds the values of a constant array such as {1,2;3,4}. it is
// positioned at row 0, column 0.
type ArrayArea struct {
	bounds
	values [][]Value
}

// NewArrayArea builds an array area. every row must have the same length.
func NewArrayArea(values [][]Value) *ArrayArea {
	width := 0
	if len(values) > 0 {
		width = len(values[0])
	}
	return &ArrayArea{bounds: newBounds(0, 0, len(values)-1, width-1), values: values}
}

func (*ArrayArea) isValue() {}

func (a *ArrayArea) RelativeValue(relRow, relCol int) Value {
	return a.values[relRow][relCol]
}

func (a *ArrayArea) AbsoluteValue(row, col int) Value {
	return a.values[row-a.firstRow][col-a.firstCol]
}

func (a *ArrayArea) Values() iter.Seq[Value] {
	return iterateArea(a)
}
