package formulaeval

import (
	"strings"
	"testing"
)

func rowArea(first, last int, firstRelative, lastRelative bool) AreaToken {
	return AreaToken{FirstRow: first, LastRow: last, FirstCol: 2, LastCol: 5,
		FirstRowRelative: firstRelative, LastRowRelative: lastRelative}
}

func columnArea(first, last int, firstRelative, lastRelative bool) AreaToken {
	return AreaToken{FirstRow: 2, LastRow: 5, FirstCol: first, LastCol: last,
		FirstColRelative: firstRelative, LastColRelative: lastRelative}
}

type shiftCase struct {
	first, last, amount       int
	wantFirst, wantLast       int // -1 for a deleted reference
	wantChanged, checkChanged bool
}

// moves are checked for changed == (span differs), copies state it
func confirmSpan(t *testing.T, op *StructuralOp, area AreaToken, isRow bool, c shiftCase) {
	t.Helper()
	tokens := []Token{area}
	changed := op.Adjust(tokens, 0)
	if c.wantFirst < 0 {
		if _, ok := tokens[0].(AreaErrorToken); !ok {
			t.Errorf("%s on %s: got %s, want #REF!", op, area, TokenString(tokens[0]))
		}
		return
	}
	got, ok := tokens[0].(AreaToken)
	if !ok {
		t.Fatalf("%s on %s: got %T, want AreaToken", op, area, tokens[0])
	}
	gotFirst, gotLast := got.FirstCol, got.LastCol
	origFirst, origLast := area.FirstCol, area.LastCol
	if isRow {
		gotFirst, gotLast = got.FirstRow, got.LastRow
		origFirst, origLast = area.FirstRow, area.LastRow
	}
	if gotFirst != c.wantFirst || gotLast != c.wantLast {
		t.Errorf("%s on %s: got span %d..%d, want %d..%d", op, area, gotFirst, gotLast, c.wantFirst, c.wantLast)
	}
	wantChanged := origFirst != c.wantFirst || origLast != c.wantLast
	if c.checkChanged {
		wantChanged = c.wantChanged
	}
	if changed != wantChanged {
		t.Errorf("%s on %s: changed = %v, want %v", op, area, changed, wantChanged)
	}
}

var moveSourceCases = []shiftCase{
	{first: 9, last: 21, amount: 20, wantFirst: 30, wantLast: 40},
	{first: 10, last: 21, amount: 20, wantFirst: 30, wantLast: 40},
	{first: 9, last: 20, amount: 20, wantFirst: 30, wantLast: 40},

	{first: 8, last: 11, amount: -3, wantFirst: 7, wantLast: 20},
	{first: 8, last: 11, amount: 3, wantFirst: 13, wantLast: 20},
	{first: 8, last: 11, amount: 7, wantFirst: 17, wantLast: 20},
	{first: 8, last: 11, amount: 8, wantFirst: 18, wantLast: 20},
	{first: 8, last: 11, amount: 9, wantFirst: 12, wantLast: 20},
	{first: 8, last: 11, amount: 10, wantFirst: 12, wantLast: 21},
	{first: 8, last: 11, amount: 12, wantFirst: 12, wantLast: 23},
	{first: 8, last: 11, amount: 13, wantFirst: 10, wantLast: 20},

	{first: 12, last: 16, amount: 3, wantFirst: 10, wantLast: 20},
	{first: 11, last: 19, amount: 20, wantFirst: 10, wantLast: 20},
	{first: 16, last: 17, amount: -6, wantFirst: 10, wantLast: 20},
	{first: 16, last: 17, amount: -7, wantFirst: 11, wantLast: 20},
	{first: 12, last: 16, amount: 4, wantFirst: 10, wantLast: 20},
	{first: 12, last: 16, amount: 6, wantFirst: 10, wantLast: 17},

	{first: 18, last: 22, amount: -1, wantFirst: 10, wantLast: 19},
	{first: 18, last: 22, amount: -7, wantFirst: 10, wantLast: 13},
	{first: 18, last: 22, amount: -8, wantFirst: 10, wantLast: 17},
	{first: 18, last: 22, amount: -9, wantFirst: 9, wantLast: 17},
	{first: 18, last: 22, amount: -15, wantFirst: 10, wantLast: 20},
	{first: 15, last: 19, amount: -7, wantFirst: 13, wantLast: 20},
	{first: 19, last: 23, amount: -12, wantFirst: 7, wantLast: 18},

	{first: 18, last: 22, amount: 5, wantFirst: 10, wantLast: 25},

	// pushed over the top of the sheet
	{first: 9, last: 21, amount: -15, wantFirst: 0, wantLast: 5},
	{first: 9, last: 21, amount: -25, wantFirst: -1, wantLast: -1},
	{first: 8, last: 11, amount: -12, wantFirst: 0, wantLast: 20},
}

var moveDestCases = []shiftCase{
	{first: 5, last: 10, amount: 9, wantFirst: 20, wantLast: 25},
	{first: 5, last: 10, amount: 21, wantFirst: 20, wantLast: 25},
	{first: 11, last: 14, amount: 10, wantFirst: 20, wantLast: 25},
	{first: 7, last: 17, amount: 10, wantFirst: -1, wantLast: -1},
	{first: 5, last: 15, amount: 7, wantFirst: 23, wantLast: 25},
	{first: 13, last: 16, amount: 10, wantFirst: 20, wantLast: 22},
}

func TestShiftAreas(t *testing.T) {
	t.Run("SourceRows", func(t *testing.T) {
		for _, c := range moveSourceCases {
			op, err := RowShift(0, "", c.first, c.last, c.amount, Excel2007)
			if err != nil {
				t.Fatal(err)
			}
			confirmSpan(t, op, rowArea(10, 20, false, false), true, c)
		}
	})

	t.Run("SourceColumns", func(t *testing.T) {
		for _, c := range moveSourceCases {
			op, err := ColumnShift(0, "", c.first, c.last, c.amount, Excel2007)
			if err != nil {
				t.Fatal(err)
			}
			confirmSpan(t, op, columnArea(10, 20, false, false), false, c)
		}
	})

	t.Run("DestRows", func(t *testing.T) {
		for _, c := range moveDestCases {
			op, err := RowShift(0, "", c.first, c.last, c.amount, Excel2007)
			if err != nil {
				t.Fatal(err)
			}
			confirmSpan(t, op, rowArea(20, 25, false, false), true, c)
		}
	})

	t.Run("DestColumns", func(t *testing.T) {
		for _, c := range moveDestCases {
			op, err := ColumnShift(0, "", c.first, c.last, c.amount, Excel2007)
			if err != nil {
				t.Fatal(err)
			}
			confirmSpan(t, op, columnArea(20, 25, false, false), false, c)
		}
	})
}

func TestCopyAreas(t *testing.T) {
	tests := []struct {
		name                        string
		firstRelative, lastRelative bool
		cases                       []shiftCase
	}{
		{"RelRel", true, true, []shiftCase{
			{first: 0, last: 30, amount: 20, wantFirst: 30, wantLast: 40, wantChanged: true, checkChanged: true},
			{first: 15, last: 25, amount: -15, wantFirst: -1, wantLast: -1},
		}},
		{"RelAbs", true, false, []shiftCase{
			{first: 0, last: 30, amount: 20, wantFirst: 20, wantLast: 30, wantChanged: true, checkChanged: true},
			{first: 15, last: 25, amount: -15, wantFirst: -1, wantLast: -1},
		}},
		{"AbsRel", false, true, []shiftCase{
			{first: 0, last: 30, amount: 20, wantFirst: 10, wantLast: 40, wantChanged: true, checkChanged: true},
			{first: 15, last: 25, amount: -15, wantFirst: 5, wantLast: 10, wantChanged: true, checkChanged: true},
		}},
		{"AbsAbs", false, false, []shiftCase{
			{first: 0, last: 30, amount: 20, wantFirst: 10, wantLast: 20, wantChanged: false, checkChanged: true},
			{first: 15, last: 25, amount: -15, wantFirst: 10, wantLast: 20, wantChanged: false, checkChanged: true},
		}},
	}

	for _, tt := range tests {
		t.Run("Rows"+tt.name, func(t *testing.T) {
			for _, c := range tt.cases {
				op, err := RowCopy(0, "", c.first, c.last, c.amount, Excel2007)
				if err != nil {
					t.Fatal(err)
				}
				confirmSpan(t, op, rowArea(10, 20, tt.firstRelative, tt.lastRelative), true, c)
			}
		})
		t.Run("Columns"+tt.name, func(t *testing.T) {
			for _, c := range tt.cases {
				op, err := ColumnCopy(0, "", c.first, c.last, c.amount, Excel2007)
				if err != nil {
					t.Fatal(err)
				}
				confirmSpan(t, op, columnArea(10, 20, tt.firstRelative, tt.lastRelative), false, c)
			}
		})
	}
}

func sheetRefs() []Token {
	tokens := make([]Token, 4)
	for i := range tokens {
		tokens[i] = Ref3DToken{ExternSheetIndex: i, RefToken: RefToken{}}
	}
	return tokens
}

func TestShiftSheet(t *testing.T) {
	tests := []struct {
		name     string
		src, dst int
		want     []int
	}{
		{"MoveLeft", 2, 0, []int{1, 2, 0, 3}},
		{"MoveRight", 1, 2, []int{0, 2, 1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := sheetRefs()
			if !SheetShift(tt.src, tt.dst).Adjust(tokens, -1) {
				t.Errorf("Adjust reported no change")
			}
			for i, token := range tokens {
				got := token.(Ref3DToken).ExternSheetIndex
				if got != tt.want[i] {
					t.Errorf("reference to sheet %d now points to %d, want %d", i, got, tt.want[i])
				}
			}
		})
	}

	t.Run("Area3D", func(t *testing.T) {
		tokens := []Token{Area3DToken{ExternSheetIndex: 2, AreaToken: NewAreaToken(0, 0, 1, 1, true)}}
		SheetShift(2, 0).Adjust(tokens, -1)
		if got := tokens[0].(Area3DToken).ExternSheetIndex; got != 0 {
			t.Errorf("area on moved sheet points to %d, want 0", got)
		}
	})
}

func TestShiftScope(t *testing.T) {
	op, err := RowShift(1, "Data", 0, 4, 2, Excel2007)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("OtherSheetUnchanged", func(t *testing.T) {
		tokens := []Token{RefToken{Row: 2, Col: 0}, NewAreaToken(0, 0, 3, 0, false)}
		if op.Adjust(tokens, 0) {
			t.Errorf("references of another sheet changed: %s", TokensString(tokens))
		}
	})

	t.Run("ByExternIndex", func(t *testing.T) {
		tokens := []Token{Ref3DToken{ExternSheetIndex: 1, RefToken: RefToken{Row: 2}}}
		if !op.Adjust(tokens, 0) {
			t.Fatalf("reference to moved sheet was not changed")
		}
		if got := tokens[0].(Ref3DToken).Row; got != 4 {
			t.Errorf("row = %d, want 4", got)
		}
	})

	t.Run("ByName", func(t *testing.T) {
		tokens := []Token{
			Ref3DNamedToken{SheetName: "data", RefToken: RefToken{Row: 2}},
			Ref3DNamedToken{ExternalWorkbookNumber: 1, SheetName: "Data", RefToken: RefToken{Row: 2}},
		}
		op.Adjust(tokens, 0)
		if got := tokens[0].(Ref3DNamedToken).Row; got != 4 {
			t.Errorf("row = %d, want 4", got)
		}
		if got := tokens[1].(Ref3DNamedToken).Row; got != 2 {
			t.Errorf("reference into another workbook moved to row %d", got)
		}
	})

	t.Run("Overwritten", func(t *testing.T) {
		tokens := []Token{RefToken{Row: 6}, Ref3DToken{ExternSheetIndex: 1, RefToken: RefToken{Row: 5}}}
		op.Adjust(tokens, 1)
		if _, ok := tokens[0].(RefErrorToken); !ok {
			t.Errorf("got %s, want #REF!", TokenString(tokens[0]))
		}
		if d, ok := tokens[1].(DeletedRef3DToken); !ok || d.ExternSheetIndex != 1 {
			t.Errorf("got %s, want deleted reference on sheet 1", TokenString(tokens[1]))
		}
	})

	t.Run("OtherTokensUntouched", func(t *testing.T) {
		tokens := []Token{NumberToken{Value: 1}, RefToken{Row: 0}, BinaryOpToken{Op: BinOpAdd}}
		op.Adjust(tokens, 1)
		if tokens[0] != (NumberToken{Value: 1}) || tokens[2] != (BinaryOpToken{Op: BinOpAdd}) {
			t.Errorf("non reference tokens changed: %s", TokensString(tokens))
		}
	})
}

func TestMoveOffSheet(t *testing.T) {
	lastRow := Excel97.LastRowIndex()
	tests := []struct {
		name  string
		first int
		last  int
		by    int
		area  shiftCase
	}{
		{"Past the bottom", 10, 20, lastRow - 5, shiftCase{wantFirst: -1, wantLast: -1}},
		{"Last row clipped", 15, 20, lastRow - 15, shiftCase{wantFirst: 10, wantLast: lastRow}},
		{"Enclosed clipped", 5, 25, lastRow - 15, shiftCase{wantFirst: lastRow - 5, wantLast: lastRow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := RowShift(0, "", tt.first, tt.last, tt.by, Excel97)
			if err != nil {
				t.Fatal(err)
			}
			confirmSpan(t, op, rowArea(10, 20, false, false), true, tt.area)
		})
	}

	refs := []struct {
		name   string
		op     func() (*StructuralOp, error)
		row    int
		wantOK bool
	}{
		{"Above the first row", func() (*StructuralOp, error) { return RowShift(0, "", 0, 4, -3, Excel2007) }, 1, false},
		{"Below the last row", func() (*StructuralOp, error) { return RowShift(0, "", 65000, 65000, 1000, Excel97) }, 65000, false},
		{"Onto the first row", func() (*StructuralOp, error) { return RowShift(0, "", 3, 4, -3, Excel2007) }, 3, true},
	}
	for _, tt := range refs {
		t.Run(tt.name, func(t *testing.T) {
			op, err := tt.op()
			if err != nil {
				t.Fatal(err)
			}
			tokens := []Token{RefToken{Row: tt.row}}
			op.Adjust(tokens, 0)
			_, deleted := tokens[0].(RefErrorToken)
			if deleted == tt.wantOK {
				t.Errorf("%s on row %d: got %s", op, tt.row, TokenString(tokens[0]))
			}
		})
	}
}

func TestShiftArguments(t *testing.T) {
	if _, err := RowShift(1, "name", 2, 1, 2, Excel97); err == nil {
		t.Errorf("expected an error for first > last")
	}

	op, err := RowShift(1, "name", 1, 2, 0, Excel97)
	if err != nil {
		t.Fatalf("zero amount rejected: %v", err)
	}
	tokens := []Token{RefToken{Row: 1}}
	if op.Adjust(tokens, 1) {
		t.Errorf("zero amount changed %s", TokensString(tokens))
	}

	op, err = RowShift(0, "sheet", 123, 456, 789, Excel2007)
	if err != nil {
		t.Fatal(err)
	}
	s := op.String()
	for _, want := range []string{"123", "456", "789"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %s", s, want)
		}
	}
}
