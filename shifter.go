package formulaeval

import (
	"fmt"
	"strings"
)

type shiftMode int

const (
	rowMove shiftMode = iota
	rowCopy
	columnMove
	columnCopy
	sheetMove
)

func (m shiftMode) String() string {
	return [...]string{"RowMove", "RowCopy", "ColumnMove", "ColumnCopy", "SheetMove"}[m]
}

// StructuralOp rewrites the references of formulas after rows or columns
// were moved or copied, or after a sheet changed position.
type StructuralOp struct {
	mode shiftMode

	// the sheet whose rows or columns move, by extern sheet index for
	// index based references and by name for name based ones
	externSheetIndex int
	sheetName        string

	first, last, amount int
	version             SpreadsheetVersion

	srcSheet, dstSheet int
}

func newBandOp(mode shiftMode, externSheetIndex int, sheetName string, first, last, amount int, version SpreadsheetVersion) (*StructuralOp, error) {
	if first > last {
		return nil, NewApplicationError(InvalidArgument,
			fmt.Sprintf("first moved index %d is after last moved index %d", first, last))
	}
	return &StructuralOp{
		mode:             mode,
		externSheetIndex: externSheetIndex,
		sheetName:        sheetName,
		first:            first,
		last:             last,
		amount:           amount,
		version:          version,
		srcSheet:         -1,
		dstSheet:         -1,
	}, nil
}

// RowShift describes moving rows first..last of a sheet by amount rows.
// an amount of 0 is accepted and changes nothing.
func RowShift(externSheetIndex int, sheetName string, first, last, amount int, version SpreadsheetVersion) (*StructuralOp, error) {
	return newBandOp(rowMove, externSheetIndex, sheetName, first, last, amount, version)
}

func ColumnShift(externSheetIndex int, sheetName string, first, last, amount int, version SpreadsheetVersion) (*StructuralOp, error) {
	return newBandOp(columnMove, externSheetIndex, sheetName, first, last, amount, version)
}

// RowCopy describes copying rows first..last by amount rows. only the
// formulas of the copies are adjusted, and only their relative parts.
func RowCopy(externSheetIndex int, sheetName string, first, last, amount int, version SpreadsheetVersion) (*StructuralOp, error) {
	return newBandOp(rowCopy, externSheetIndex, sheetName, first, last, amount, version)
}

func ColumnCopy(externSheetIndex int, sheetName string, first, last, amount int, version SpreadsheetVersion) (*StructuralOp, error) {
	return newBandOp(columnCopy, externSheetIndex, sheetName, first, last, amount, version)
}

// SheetShift describes moving the sheet at srcSheet to dstSheet, shifting
// the sheets in between by one.
func SheetShift(srcSheet, dstSheet int) *StructuralOp {
	return &StructuralOp{mode: sheetMove, externSheetIndex: -1, first: -1, last: -1, amount: -1,
		srcSheet: srcSheet, dstSheet: dstSheet}
}

func (op *StructuralOp) String() string {
	if op.mode == sheetMove {
		return fmt.Sprintf("%s [%d -> %d]", op.mode, op.srcSheet, op.dstSheet)
	}
	return fmt.Sprintf("%s [%d:%d by %d]", op.mode, op.first, op.last, op.amount)
}

// Adjust rewrites the references of a formula in place.
// currentExternSheetIndex is the extern sheet index of the sheet holding
// the formula. it reports whether any token changed.
func (op *StructuralOp) Adjust(tokens []Token, currentExternSheetIndex int) bool {
	if op.mode != sheetMove && op.amount == 0 {
		return false
	}
	changed := false
	for i, token := range tokens {
		if next, ok := op.adjustToken(token, currentExternSheetIndex); ok {
			tokens[i] = next
			changed = true
		}
	}
	return changed
}

func (op *StructuralOp) adjustToken(token Token, currentExternSheetIndex int) (Token, bool) {
	switch op.mode {
	case rowMove, columnMove:
		return op.adjustForMove(token, currentExternSheetIndex)
	case rowCopy, columnCopy:
		return op.adjustForCopy(token)
	}
	return op.adjustForSheetMove(token)
}

func (op *StructuralOp) movesNamedSheet(workbookNumber int, sheetName string) bool {
	return workbookNumber == 0 && strings.EqualFold(op.sheetName, sheetName)
}

func (op *StructuralOp) adjustForMove(token Token, currentExternSheetIndex int) (Token, bool) {
	switch t := token.(type) {
	case RefToken:
		if currentExternSheetIndex != op.externSheetIndex {
			return nil, false
		}
		ref, changed, deleted := op.moveRef(t)
		if deleted {
			return RefErrorToken{}, true
		}
		return ref, changed
	case Ref3DToken:
		if t.ExternSheetIndex != op.externSheetIndex {
			return nil, false
		}
		ref, changed, deleted := op.moveRef(t.RefToken)
		if deleted {
			return DeletedRef3DToken{ExternSheetIndex: t.ExternSheetIndex}, true
		}
		t.RefToken = ref
		return t, changed
	case Ref3DNamedToken:
		if !op.movesNamedSheet(t.ExternalWorkbookNumber, t.SheetName) {
			return nil, false
		}
		ref, changed, deleted := op.moveRef(t.RefToken)
		if deleted {
			return Deleted3DNamedToken{ExternalWorkbookNumber: t.ExternalWorkbookNumber, SheetName: t.SheetName}, true
		}
		t.RefToken = ref
		return t, changed
	case AreaToken:
		if currentExternSheetIndex != op.externSheetIndex {
			return nil, false
		}
		area, changed, deleted := op.moveArea(t)
		if deleted {
			return AreaErrorToken{}, true
		}
		return area, changed
	case Area3DToken:
		if t.ExternSheetIndex != op.externSheetIndex {
			return nil, false
		}
		area, changed, deleted := op.moveArea(t.AreaToken)
		if deleted {
			return DeletedArea3DToken{ExternSheetIndex: t.ExternSheetIndex}, true
		}
		t.AreaToken = area
		return t, changed
	case Area3DNamedToken:
		if !op.movesNamedSheet(t.ExternalWorkbookNumber, t.SheetName) {
			return nil, false
		}
		area, changed, deleted := op.moveArea(t.AreaToken)
		if deleted {
			return Deleted3DNamedToken{ExternalWorkbookNumber: t.ExternalWorkbookNumber, SheetName: t.SheetName}, true
		}
		t.AreaToken = area
		return t, changed
	}
	return nil, false
}

// copies adjust every reference, wherever it points
func (op *StructuralOp) adjustForCopy(token Token) (Token, bool) {
	switch t := token.(type) {
	case RefToken:
		ref, changed, deleted := op.copyRef(t)
		if deleted {
			return RefErrorToken{}, true
		}
		return ref, changed
	case Ref3DToken:
		ref, changed, deleted := op.copyRef(t.RefToken)
		if deleted {
			return DeletedRef3DToken{ExternSheetIndex: t.ExternSheetIndex}, true
		}
		t.RefToken = ref
		return t, changed
	case Ref3DNamedToken:
		ref, changed, deleted := op.copyRef(t.RefToken)
		if deleted {
			return Deleted3DNamedToken{ExternalWorkbookNumber: t.ExternalWorkbookNumber, SheetName: t.SheetName}, true
		}
		t.RefToken = ref
		return t, changed
	case AreaToken:
		area, changed, deleted := op.copyArea(t)
		if deleted {
			return AreaErrorToken{}, true
		}
		return area, changed
	case Area3DToken:
		area, changed, deleted := op.copyArea(t.AreaToken)
		if deleted {
			return DeletedArea3DToken{ExternSheetIndex: t.ExternSheetIndex}, true
		}
		t.AreaToken = area
		return t, changed
	case Area3DNamedToken:
		area, changed, deleted := op.copyArea(t.AreaToken)
		if deleted {
			return Deleted3DNamedToken{ExternalWorkbookNumber: t.ExternalWorkbookNumber, SheetName: t.SheetName}, true
		}
		t.AreaToken = area
		return t, changed
	}
	return nil, false
}

func (op *StructuralOp) adjustForSheetMove(token Token) (Token, bool) {
	switch t := token.(type) {
	case Ref3DToken:
		idx, ok := op.moveSheetIndex(t.ExternSheetIndex)
		if !ok {
			return nil, false
		}
		t.ExternSheetIndex = idx
		return t, true
	case Area3DToken:
		idx, ok := op.moveSheetIndex(t.ExternSheetIndex)
		if !ok {
			return nil, false
		}
		t.ExternSheetIndex = idx
		return t, true
	}
	return nil, false
}

// moveSheetIndex maps a sheet index through the sheet move. ok is false
// when the index is outside the moved block.
func (op *StructuralOp) moveSheetIndex(old int) (int, bool) {
	src, dst := op.srcSheet, op.dstSheet
	switch {
	case old < src && old < dst, old > src && old > dst:
		return old, false
	case old == src:
		return dst, true
	case dst < src:
		return old + 1, true
	case dst > src:
		return old - 1, true
	}
	return old, false
}

func (op *StructuralOp) isCopy() bool {
	return op.mode == rowCopy || op.mode == columnCopy
}

// holdsCopy reports whether a cell lies in the band a copy wrote to.
func (op *StructuralOp) holdsCopy(externSheetIndex int, sheetName string, row, col int) bool {
	if externSheetIndex != op.externSheetIndex && !strings.EqualFold(sheetName, op.sheetName) {
		return false
	}
	pos := col
	if op.isRowOp() {
		pos = row
	}
	return op.first+op.amount <= pos && pos <= op.last+op.amount
}

func (op *StructuralOp) isRowOp() bool {
	return op.mode == rowMove || op.mode == rowCopy
}

func (op *StructuralOp) lastIndex() int {
	if op.isRowOp() {
		return op.version.LastRowIndex()
	}
	return op.version.LastColumnIndex()
}

func (op *StructuralOp) moveRef(r RefToken) (RefToken, bool, bool) {
	pos := &r.Col
	if op.isRowOp() {
		pos = &r.Row
	}
	next, changed, deleted := op.moveIndex(*pos)
	*pos = next
	return r, changed, deleted
}

func (op *StructuralOp) moveArea(a AreaToken) (AreaToken, bool, bool) {
	first, last := &a.FirstCol, &a.LastCol
	if op.isRowOp() {
		first, last = &a.FirstRow, &a.LastRow
	}
	f, l, changed, deleted := op.moveSpan(*first, *last)
	*first, *last = f, l
	return a, changed, deleted
}

func (op *StructuralOp) copyRef(r RefToken) (RefToken, bool, bool) {
	pos, relative := &r.Col, r.ColRelative
	if op.isRowOp() {
		pos, relative = &r.Row, r.RowRelative
	}
	if !relative {
		return r, false, false
	}
	// the copy itself must land on the sheet
	if dest := op.first + op.amount; dest < 0 || dest > op.lastIndex() {
		return r, false, true
	}
	next := *pos + op.amount
	if next < 0 || next > op.lastIndex() {
		return r, false, true
	}
	*pos = next
	return r, true, false
}

func (op *StructuralOp) copyArea(a AreaToken) (AreaToken, bool, bool) {
	first, last := &a.FirstCol, &a.LastCol
	firstRelative, lastRelative := a.FirstColRelative, a.LastColRelative
	if op.isRowOp() {
		first, last = &a.FirstRow, &a.LastRow
		firstRelative, lastRelative = a.FirstRowRelative, a.LastRowRelative
	}
	changed := false
	if firstRelative {
		next := *first + op.amount
		if next < 0 || next > op.lastIndex() {
			return a, false, true
		}
		*first = next
		changed = true
	}
	if lastRelative {
		next := *last + op.amount
		if next < 0 || next > op.lastIndex() {
			return a, false, true
		}
		*last = next
		changed = true
	}
	if changed {
		a.sortTopLeftToBottomRight()
	}
	return a, changed, false
}

// moveIndex maps a single row or column through a move.
func (op *StructuralOp) moveIndex(pos int) (next int, changed, deleted bool) {
	if op.first <= pos && pos <= op.last {
		// moves along with the band, unless that leaves the sheet
		next = pos + op.amount
		if next < 0 || next > op.lastIndex() {
			return pos, false, true
		}
		return next, true, false
	}
	destFirst, destLast := op.first+op.amount, op.last+op.amount
	if destFirst <= pos && pos <= destLast {
		// overwritten by the band
		return pos, false, true
	}
	return pos, false, false
}

// moveSpan maps the row or column span of an area through a move. a span
// pushed entirely off the sheet is deleted, one pushed partly off is
// clipped to the sheet.
func (op *StructuralOp) moveSpan(aFirst, aLast int) (first, last int, changed, deleted bool) {
	first, last, changed, deleted = op.spanAfterMove(aFirst, aLast)
	if deleted || !changed {
		return first, last, changed, deleted
	}
	limit := op.lastIndex()
	if last < 0 || first > limit {
		return aFirst, aLast, false, true
	}
	first, last = max(first, 0), min(last, limit)
	return first, last, first != aFirst || last != aLast, false
}

// spanAfterMove applies the rules the desktop application follows when
// rows are dragged across a range, ignoring the sheet bounds.
func (op *StructuralOp) spanAfterMove(aFirst, aLast int) (first, last int, changed, deleted bool) {
	amount := op.amount
	destFirst, destLast := op.first+amount, op.last+amount

	switch {
	case op.first <= aFirst && aLast <= op.last:
		// the band encloses the area, which moves with it
		return aFirst + amount, aLast + amount, true, false

	case aFirst < op.first && op.last < aLast:
		// the band was strictly inside the area
		if destFirst < aFirst && aFirst <= destLast {
			return destLast + 1, aLast, true, false
		}
		if destFirst <= aLast && aLast < destLast {
			return aFirst, destFirst - 1, true, false
		}
		return aFirst, aLast, false, false

	case op.first <= aFirst && aFirst <= op.last:
		// the band holds the first index of the area but not the last
		if amount < 0 {
			return aFirst + amount, aLast, true, false
		}
		if destFirst > aLast {
			return aFirst, aLast, false, false
		}
		newFirst := aFirst + amount
		if destLast < aLast {
			return newFirst, aLast, true, false
		}
		// the old last index was overwritten
		if remainingFirst := op.last + 1; destFirst > remainingFirst {
			newFirst = remainingFirst
		}
		return newFirst, max(aLast, destLast), true, false

	case op.first <= aLast && aLast <= op.last:
		// the band holds the last index of the area but not the first
		if amount > 0 {
			return aFirst, aLast + amount, true, false
		}
		if destLast < aFirst {
			return aFirst, aLast, false, false
		}
		newLast := aLast + amount
		if destFirst > aFirst {
			return aFirst, newLast, true, false
		}
		// the old first index was overwritten
		if remainingLast := op.first - 1; destLast < remainingLast {
			newLast = remainingLast
		}
		return min(aFirst, destFirst), newLast, true, false
	}

	// the band does not touch the area, its destination might
	switch {
	case destLast < aFirst || aLast < destFirst:
		return aFirst, aLast, false, false
	case destFirst <= aFirst && aLast <= destLast:
		return aFirst, aLast, false, true
	case aFirst <= destFirst && destLast <= aLast:
		return aFirst, aLast, false, false
	case destFirst < aFirst && aFirst <= destLast:
		return destLast + 1, aLast, true, false
	}
	// destFirst <= aLast < destLast
	return aFirst, destFirst - 1, true, false
}
