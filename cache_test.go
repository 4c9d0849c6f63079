package formulaeval

import (
	"fmt"
	"slices"
	"testing"
)

// recordingListener keeps every cache event as a line of text.
type recordingListener struct {
	log []string
}

func (l *recordingListener) add(format string, args ...any) {
	l.log = append(l.log, fmt.Sprintf(format, args...))
}

func (l *recordingListener) OnCacheHit(key CellKey, value Value) {
	l.add("hit %s %s", CellName(key.Row, key.Col), ValueString(value))
}

func (l *recordingListener) OnReadPlainValue(key CellKey, value Value) {
	l.add("value %s %s", CellName(key.Row, key.Col), ValueString(value))
}

func (l *recordingListener) OnStartEvaluate(key CellKey, tokens []Token) {
	l.add("start %s %s", CellName(key.Row, key.Col), FormatFormula(tokens))
}

func (l *recordingListener) OnEndEvaluate(key CellKey, result Value) {
	l.add("end %s %s", CellName(key.Row, key.Col), ValueString(result))
}

func (l *recordingListener) OnClearWholeCache() {
	l.add("clear all")
}

func (l *recordingListener) OnClearCachedValue(key CellKey, value Value) {
	l.add("clear %s %s", CellName(key.Row, key.Col), ValueString(value))
}

func (l *recordingListener) OnClearDependentCachedValue(key CellKey, value Value, depth int) {
	l.add("clear%d %s %s", depth, CellName(key.Row, key.Col), ValueString(value))
}

// take returns the events recorded since the last call.
func (l *recordingListener) take() []string {
	out := l.log
	l.log = nil
	return out
}

type cacheFixture struct {
	t         *testing.T
	sheet     *MemorySheet
	listener  *recordingListener
	evaluator *WorkbookEvaluator
}

func newCacheFixture(t *testing.T) *cacheFixture {
	wb := NewMemoryWorkbook(Excel2007)
	sheet, err := wb.AddSheet("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	listener := &recordingListener{}
	return &cacheFixture{
		t:         t,
		sheet:     sheet,
		listener:  listener,
		evaluator: NewWorkbookEvaluator(wb, EvaluatorConfig{Listener: listener}),
	}
}

func (f *cacheFixture) set(address string, value any) {
	f.t.Helper()
	if err := f.sheet.Set(address, value); err != nil {
		f.t.Fatalf("Set(%s): %v", address, err)
	}
	f.evaluator.NotifyUpdateCell(f.sheet.Get(address))
}

func (f *cacheFixture) eval(address string) Value {
	f.t.Helper()
	v, err := f.evaluator.Evaluate(f.sheet.Get(address))
	if err != nil {
		f.t.Fatalf("Evaluate(%s): %v", address, err)
	}
	return v
}

func (f *cacheFixture) key(address string) CellKey {
	_, row, col, _, _ := ParseCellName(address)
	return CellKey{Row: row, Col: col}
}

func (f *cacheFixture) expectLog(want ...string) {
	f.t.Helper()
	got := f.listener.take()
	if !slices.Equal(got, want) {
		f.t.Errorf("cache events\n got: %q\nwant: %q", got, want)
	}
}

func TestCacheRecordsDependencies(t *testing.T) {
	f := newCacheFixture(t)
	f.set("A1", 1)
	f.set("A2", 2)
	f.set("B1", "=A1+A2")
	f.set("C1", "=B1*2")
	f.set("D1", "=A2")
	f.listener.take()

	if v := f.eval("C1"); v != NumberValue(6) {
		t.Fatalf("C1 = %s, want 6", ValueString(v))
	}
	f.expectLog(
		"start C1 B1*2",
		"start B1 A1+A2",
		"value A1 1",
		"value A2 2",
		"end B1 3",
		"end C1 6",
	)

	f.eval("D1")
	f.expectLog("start D1 A2", "hit A2 2", "end D1 2")

	f.eval("C1")
	f.expectLog("hit C1 6")

	// same value again, nothing to clear
	f.set("A2", 2)
	f.expectLog()

	f.set("A1", 5)
	f.expectLog("clear A1 5", "clear1 B1 3", "clear2 C1 6")
	if _, ok := f.evaluator.Cache().Get(f.key("C1")); ok {
		t.Error("C1 still cached after its input changed")
	}
	if v, ok := f.evaluator.Cache().Get(f.key("D1")); !ok || v != NumberValue(2) {
		t.Errorf("D1 cache = %v, %v; want 2 kept", v, ok)
	}

	if v := f.eval("C1"); v != NumberValue(14) {
		t.Fatalf("C1 = %s, want 14", ValueString(v))
	}
	f.expectLog(
		"start C1 B1*2",
		"start B1 A1+A2",
		"hit A1 5",
		"hit A2 2",
		"end B1 7",
		"end C1 14",
	)
}

func TestCacheMediumComplex(t *testing.T) {
	f := newCacheFixture(t)
	f.set("B1", 12)
	f.set("B2", 8)
	f.set("C1", "=MAX(B1:B2)")
	f.set("C2", 20)
	f.set("B3", "=C2-C1")
	f.set("A1", "=B3*C1-C2")
	f.listener.take()

	if v := f.eval("A1"); v != NumberValue(76) {
		t.Fatalf("A1 = %s, want 76", ValueString(v))
	}
	f.expectLog(
		"start A1 B3*C1-C2",
		"start B3 C2-C1",
		"value C2 20",
		"start C1 MAX(B1:B2)",
		"value B1 12",
		"value B2 8",
		"end C1 12",
		"end B3 8",
		"hit C1 12",
		"hit C2 20",
		"end A1 76",
	)

	f.set("B2", 30)
	// A1 is reached through B3 first and not cleared twice
	f.expectLog("clear B2 30", "clear1 C1 12", "clear2 B3 8", "clear3 A1 76")

	if v := f.eval("A1"); v != NumberValue(-320) {
		t.Fatalf("A1 = %s, want -320", ValueString(v))
	}
}

func TestCacheBlankInputs(t *testing.T) {
	t.Run("Filled blank clears readers", func(t *testing.T) {
		f := newCacheFixture(t)
		f.set("A6", 3)
		f.set("B5", "=SUM(A5:A7)")
		f.listener.take()

		f.eval("B5")
		f.expectLog("start B5 SUM(A5:A7)", "value A6 3", "end B5 3")

		// A9 was never read
		f.set("A9", 1)
		f.expectLog()

		f.set("A7", 4)
		f.expectLog("clear1 B5 3")
		if v := f.eval("B5"); v != NumberValue(7) {
			t.Errorf("B5 = %s, want 7", ValueString(v))
		}
	})

	t.Run("Blank written to blank", func(t *testing.T) {
		f := newCacheFixture(t)
		f.set("B1", "=A1+1")
		f.eval("B1")
		f.listener.take()

		f.set("A1", nil)
		f.expectLog()
		if _, ok := f.evaluator.Cache().Get(f.key("B1")); !ok {
			t.Error("B1 cleared by a blank to blank update")
		}
	})

	t.Run("Formula into blank", func(t *testing.T) {
		f := newCacheFixture(t)
		f.set("C1", "=A1*2")
		f.set("A2", 21)
		f.eval("C1")

		f.set("A1", "=A2")
		if v := f.eval("C1"); v != NumberValue(42) {
			t.Errorf("C1 = %s, want 42", ValueString(v))
		}
	})

	t.Run("Whole column keeps no blank entries", func(t *testing.T) {
		f := newCacheFixture(t)
		f.set("A1", 1)
		f.set("A2", 2)
		f.set("A3", 3)
		f.set("B1", "=SUM(A:A)")
		if v := f.eval("B1"); v != NumberValue(6) {
			t.Fatalf("B1 = %s, want 6", ValueString(v))
		}
		if n := f.evaluator.Cache().Len(); n != 4 {
			t.Errorf("cache holds %d entries, want 4", n)
		}

		f.set("A1000000", 4)
		if v := f.eval("B1"); v != NumberValue(10) {
			t.Errorf("B1 = %s, want 10", ValueString(v))
		}
	})
}

func TestCacheFormulaChanges(t *testing.T) {
	f := newCacheFixture(t)
	f.set("A1", 2)
	f.set("B1", "=A1*3")
	f.set("C1", "=B1+1")
	f.eval("C1")
	f.listener.take()

	f.set("B1", "=A1*4")
	f.expectLog("clear B1 6", "clear1 C1 7")
	if v := f.eval("C1"); v != NumberValue(9) {
		t.Errorf("C1 = %s, want 9", ValueString(v))
	}

	// formula replaced by a literal
	f.set("B1", 10)
	if v := f.eval("C1"); v != NumberValue(11) {
		t.Errorf("C1 = %s, want 11", ValueString(v))
	}

	f.listener.take()
	removed := f.sheet.Get("B1")
	f.sheet.RemoveCell(0, 1)
	f.evaluator.NotifyDeleteCell(removed)
	if v := f.eval("C1"); v != NumberValue(1) {
		t.Errorf("C1 = %s, want 1 after B1 was removed", ValueString(v))
	}

	f.evaluator.ClearAllCachedResultValues()
	f.expectLog(
		"clear B1 10", "clear1 C1 11",
		"start C1 B1+1", "end C1 1",
		"clear all",
	)
	if n := f.evaluator.Cache().Len(); n != 0 {
		t.Errorf("cache holds %d entries after clearing, want 0", n)
	}
}

func TestEvaluationCacheDirect(t *testing.T) {
	c := NewEvaluationCache(nil)
	key := CellKey{Sheet: 1, Row: 4, Col: 2}
	if _, ok := c.Get(key); ok {
		t.Fatal("empty cache returned a value")
	}
	c.Put(key, TextValue("x"))
	if v, ok := c.Get(key); !ok || v != TextValue("x") {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	c.Invalidate(key)
	if _, ok := c.Get(key); ok {
		t.Error("value survived Invalidate")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want the formula entry to stay", c.Len())
	}
	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("Len = %d after InvalidateAll", c.Len())
	}
}

func TestBlankCellSet(t *testing.T) {
	var s blankCellSet
	for row := 2; row <= 5; row++ {
		for col := 1; col <= 3; col++ {
			s.add(CellKey{Row: row, Col: col})
		}
	}
	s.add(CellKey{Sheet: 1, Row: 0, Col: 0})

	g := s.groups[sheetKey{0, 0}]
	g.flush()
	if len(g.rects) != 1 {
		t.Errorf("got %d rectangles, want a single merged one: %+v", len(g.rects), g.rects)
	}

	tests := []struct {
		key  CellKey
		want bool
	}{
		{CellKey{Row: 2, Col: 1}, true},
		{CellKey{Row: 5, Col: 3}, true},
		{CellKey{Row: 6, Col: 3}, false},
		{CellKey{Row: 3, Col: 0}, false},
		{CellKey{Sheet: 1, Row: 0, Col: 0}, true},
		{CellKey{Workbook: 1, Row: 2, Col: 1}, false},
	}
	for _, tt := range tests {
		if got := s.contains(tt.key); got != tt.want {
			t.Errorf("contains(%+v) = %v, want %v", tt.key, got, tt.want)
		}
	}

	var none *blankCellSet
	if none.contains(CellKey{}) || !none.empty() {
		t.Error("nil set should be empty")
	}
}
