package xlsxbook

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/vogtb/go-spreadsheet/packages/formulaeval"
)

// newTestFile builds a small workbook. none of its formulas carry a saved
// result, and B1, B2 and B3 each end their row.
func newTestFile(t *testing.T, extra func(f *excelize.File)) *excelize.File {
	t.Helper()
	f := excelize.NewFile()
	if _, err := f.NewSheet("Rates"); err != nil {
		t.Fatal(err)
	}
	steps := []error{
		f.SetCellValue("Sheet1", "A1", 2),
		f.SetCellFormula("Sheet1", "B1", "A1*3"),
		f.SetCellValue("Sheet1", "A2", true),
		f.SetCellFormula("Sheet1", "B2", "A1*Rates!A1"),
		f.SetCellFormula("Sheet1", "B3", "Rate*10"),
		f.SetCellValue("Rates", "A1", 0.5),
		f.SetDefinedName(&excelize.DefinedName{Name: "Rate", RefersTo: "Rates!$A$1", Scope: "Workbook"}),
	}
	for _, err := range steps {
		if err != nil {
			t.Fatal(err)
		}
	}
	if extra != nil {
		extra(f)
	}
	// recorded the way Excel writes it
	if err := f.SetSheetDimension("Sheet1", "A1:D6"); err != nil {
		t.Fatal(err)
	}
	return f
}

func saveTestFile(t *testing.T, f *excelize.File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpen(t *testing.T) {
	path := saveTestFile(t, newTestFile(t, nil))

	wb, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if wb.NumberOfSheets() != 2 || wb.SheetName(1) != "Rates" {
		t.Fatalf("sheets = %d, second %q", wb.NumberOfSheets(), wb.SheetName(1))
	}
	sheet := wb.SheetAt(0)
	if got := sheet.Get("A2").CellType(); got != formulaeval.CellValueTypeBoolean {
		t.Errorf("A2 type = %s, want Boolean", got)
	}
	for address, want := range map[string]string{"B1": "=A1*3", "B3": "=Rate*10"} {
		if cell := sheet.Get(address); cell == nil || cell.Formula() != want {
			t.Errorf("%s not loaded as %s", address, want)
		}
	}
	if cell := sheet.Get("B3"); cell.CachedFormulaResultType() != formulaeval.CellValueTypeEmpty {
		t.Errorf("B3 without a saved result cached %s", cell.CachedFormulaResultType())
	}
	if got := sheet.Get("B2").Formula(); got != "=A1*Rates!A1" {
		t.Errorf("B2 formula = %q", got)
	}

	fe := formulaeval.NewFormulaEvaluator(wb, formulaeval.EvaluatorConfig{})
	if err := fe.EvaluateAll(); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	want := map[string]float64{"B1": 6, "B2": 1, "B3": 5}
	for address, value := range want {
		if got := sheet.Get(address).NumericCellValue(); got != value {
			t.Errorf("%s = %v, want %v", address, got, value)
		}
	}
}

func TestRead(t *testing.T) {
	buf, err := newTestFile(t, nil).WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	wb, err := Read(buf, Options{Strict: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	v, err := formulaeval.NewWorkbookEvaluator(wb, formulaeval.EvaluatorConfig{}).EvaluateCell(0, 0, 1)
	if err != nil || v != formulaeval.NumberValue(6) {
		t.Errorf("B1 = %v, %v; want 6", v, err)
	}
}

func TestUnsupportedFormulas(t *testing.T) {
	broken := func(f *excelize.File) {
		if err := f.SetCellFormula("Sheet1", "A5", "SUM(1,"); err != nil {
			t.Fatal(err)
		}
	}
	path := saveTestFile(t, newTestFile(t, broken))

	wb, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("lenient Open: %v", err)
	}
	if cell := wb.SheetAt(0).Get("A5"); cell != nil && cell.Formula() != "" {
		t.Errorf("A5 loaded as %s, want it skipped", cell.Formula())
	}

	_, err = Open(path, Options{Strict: true})
	if code := formulaeval.AppErrorCodeOf(err); code != formulaeval.InvalidArgument {
		t.Errorf("strict Open = %v (%s), want InvalidArgument", err, code)
	}
}

func TestCachedResults(t *testing.T) {
	saved := func(f *excelize.File) {
		// a value set first stays as the saved result of the formula
		for _, err := range []error{
			f.SetCellBool("Sheet1", "C1", true),
			f.SetCellFormula("Sheet1", "C1", "A1>1"),
			f.SetCellValue("Sheet1", "C2", 12),
			f.SetCellFormula("Sheet1", "C2", "A1*6"),
			f.SetCellValue("Sheet1", "D6", "x"),
			f.SetCellFormula("Sheet1", "D6", "\"x\""),
		} {
			if err != nil {
				t.Fatal(err)
			}
		}
	}
	wb, err := Read(mustBuffer(t, newTestFile(t, saved)), Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	sheet := wb.SheetAt(0)
	tests := []struct {
		address  string
		wantType formulaeval.CellType
		want     formulaeval.Value
	}{
		{"C1", formulaeval.CellValueTypeBoolean, formulaeval.BoolValue(true)},
		{"C2", formulaeval.CellValueTypeNumber, formulaeval.NumberValue(12)},
		{"D6", formulaeval.CellValueTypeString, formulaeval.TextValue("x")},
	}
	for _, tt := range tests {
		cell := sheet.Get(tt.address)
		if cell == nil || cell.Formula() == "" {
			t.Fatalf("%s not loaded as a formula", tt.address)
		}
		if got := cell.CachedFormulaResultType(); got != tt.wantType {
			t.Errorf("%s cached %s, want %s", tt.address, got, tt.wantType)
		}
		if got := cell.Value(); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.address, got, tt.want)
		}
	}
}

func TestCacheResult(t *testing.T) {
	wb := formulaeval.NewMemoryWorkbook(formulaeval.Excel2007)
	sheet, err := wb.AddSheet("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		cellType excelize.CellType
		raw      string
		wantType formulaeval.CellType
	}{
		{excelize.CellTypeBool, "1", formulaeval.CellValueTypeBoolean},
		{excelize.CellTypeBool, "0", formulaeval.CellValueTypeBoolean},
		{excelize.CellTypeUnset, "2.5", formulaeval.CellValueTypeNumber},
		{excelize.CellTypeFormula, "2.5", formulaeval.CellValueTypeString},
		{excelize.CellTypeError, "#N/A", formulaeval.CellValueTypeError},
		{excelize.CellTypeUnset, "#REF!", formulaeval.CellValueTypeError},
	}
	for _, tt := range tests {
		if err := sheet.SetFormula("A1", "=1"); err != nil {
			t.Fatal(err)
		}
		cell := sheet.Get("A1")
		cacheResult(cell, tt.cellType, tt.raw)
		if got := cell.CachedFormulaResultType(); got != tt.wantType {
			t.Errorf("cacheResult(%v, %q) cached %s, want %s", tt.cellType, tt.raw, got, tt.wantType)
		}
	}
}

func mustBuffer(t *testing.T, f *excelize.File) io.Reader {
	t.Helper()
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.xlsx"), Options{})
	if code := formulaeval.AppErrorCodeOf(err); code != formulaeval.NotFound {
		t.Errorf("got %v (%s), want NotFound", err, code)
	}
}

func TestPlainValue(t *testing.T) {
	tests := []struct {
		cellType excelize.CellType
		raw      string
		want     any
	}{
		{excelize.CellTypeUnset, "3.25", 3.25},
		{excelize.CellTypeNumber, "12", 12.0},
		{excelize.CellTypeUnset, "abc", "abc"},
		{excelize.CellTypeSharedString, "42", "42"},
		{excelize.CellTypeBool, "1", true},
		{excelize.CellTypeBool, "0", false},
	}
	for _, tt := range tests {
		if got := plainValue(tt.cellType, tt.raw); got != tt.want {
			t.Errorf("plainValue(%v, %q) = %v, want %v", tt.cellType, tt.raw, got, tt.want)
		}
	}

	errValue, ok := plainValue(excelize.CellTypeError, "#DIV/0!").(*formulaeval.SpreadsheetError)
	if !ok || errValue.ErrorCode != formulaeval.ErrorCodeDiv0 {
		t.Errorf("error cell = %v", errValue)
	}
}
