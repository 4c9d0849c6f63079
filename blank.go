package formulaeval

// blankRect is a rectangle of blank cells read by a formula.
type blankRect struct {
	firstRow, lastRow int
	firstCol, lastCol int
}

func (r blankRect) contains(row, col int) bool {
	return row >= r.firstRow && row <= r.lastRow && col >= r.firstCol && col <= r.lastCol
}

// blankSheetGroup collects the blank cells of one sheet. cells arrive in
// row-major order when a formula walks an area, so runs on one row are
// built up first and then merged with the rectangle above.
type blankSheetGroup struct {
	rects []blankRect

	building bool
	row      int
	firstCol int
	lastCol  int
}

func (g *blankSheetGroup) add(row, col int) {
	if g.building && row == g.row && col == g.lastCol+1 {
		g.lastCol = col
		return
	}
	g.flush()
	g.building = true
	g.row, g.firstCol, g.lastCol = row, col, col
}

func (g *blankSheetGroup) flush() {
	if !g.building {
		return
	}
	g.building = false
	if n := len(g.rects); n > 0 {
		last := &g.rects[n-1]
		if last.firstCol == g.firstCol && last.lastCol == g.lastCol && last.lastRow+1 == g.row {
			last.lastRow = g.row
			return
		}
	}
	g.rects = append(g.rects, blankRect{firstRow: g.row, lastRow: g.row, firstCol: g.firstCol, lastCol: g.lastCol})
}

func (g *blankSheetGroup) contains(row, col int) bool {
	if g.building && row == g.row && col >= g.firstCol && col <= g.lastCol {
		return true
	}
	for _, r := range g.rects {
		if r.contains(row, col) {
			return true
		}
	}
	return false
}

type sheetKey struct {
	workbook, sheet int
}

// blankCellSet is the set of blank cells one formula result was computed
// from. blank cells get no cache entries of their own, a whole column
// reference would otherwise create a million of them.
type blankCellSet struct {
	groups map[sheetKey]*blankSheetGroup
}

func (s *blankCellSet) add(key CellKey) {
	if s.groups == nil {
		s.groups = make(map[sheetKey]*blankSheetGroup)
	}
	sk := sheetKey{key.Workbook, key.Sheet}
	g, ok := s.groups[sk]
	if !ok {
		g = &blankSheetGroup{}
		s.groups[sk] = g
	}
	g.add(key.Row, key.Col)
}

func (s *blankCellSet) contains(key CellKey) bool {
	if s == nil {
		return false
	}
	g, ok := s.groups[sheetKey{key.Workbook, key.Sheet}]
	return ok && g.contains(key.Row, key.Col)
}

func (s *blankCellSet) empty() bool {
	return s == nil || len(s.groups) == 0
}
