package formulaeval

import (
	"fmt"
	"testing"
)

// benchBook is a single workbook with an evaluator that is notified of
// every change, the way an editing application drives the engine.
type benchBook struct {
	b         *testing.B
	workbook  *MemoryWorkbook
	evaluator *FormulaEvaluator
}

func newBenchBook(b *testing.B, sheets ...string) *benchBook {
	b.Helper()
	wb := NewMemoryWorkbook(Excel2007)
	if len(sheets) == 0 {
		sheets = []string{"Sheet1"}
	}
	for _, name := range sheets {
		if _, err := wb.AddSheet(name); err != nil {
			b.Fatal(err)
		}
	}
	return &benchBook{b: b, workbook: wb, evaluator: NewFormulaEvaluator(wb, EvaluatorConfig{})}
}

func (bb *benchBook) set(address string, value any) {
	sheetName, cellName, _ := cutSheet(address)
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	sheet := bb.workbook.SheetByName(sheetName)
	if err := sheet.Set(cellName, value); err != nil {
		bb.b.Fatalf("Set(%s): %v", address, err)
	}
	bb.evaluator.NotifyUpdateCell(sheet.Get(cellName))
}

func (bb *benchBook) evaluateAll() {
	if err := bb.evaluator.EvaluateAll(); err != nil {
		bb.b.Fatal(err)
	}
}

// recalc evaluates every formula against the warm cache, like a
// spreadsheet refreshing its view after an edit.
func (bb *benchBook) recalc() {
	for cell := range bb.workbook.FormulaCells(0) {
		if _, err := bb.evaluator.EvaluateFormulaCell(cell); err != nil {
			bb.b.Fatal(err)
		}
	}
}

func BenchmarkLargeCellPopulation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		wb := NewMemoryWorkbook(Excel2007)
		sheet, _ := wb.AddSheet("Sheet1")
		for row := 0; row < 100; row++ {
			for col := 0; col < 26; col++ {
				if err := sheet.Set(CellName(row, col), float64((row+1)*(col+1))); err != nil {
					b.Fatal(err)
				}
			}
		}
	}
}

func BenchmarkFormulaDependencyChain(b *testing.B) {
	bb := newBenchBook(b)
	bb.set("A1", 1.0)
	for i := 2; i <= 100; i++ {
		bb.set(fmt.Sprintf("A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkWideDependencyFanOut(b *testing.B) {
	bb := newBenchBook(b)
	bb.set("A1", 100.0)
	for i := 2; i <= 500; i++ {
		bb.set(fmt.Sprintf("B%d", i), "=A1*2")
	}
	bb.evaluateAll()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.set("A1", float64(i))
		bb.recalc()
	}
}

func BenchmarkLargeRangeSUM(b *testing.B) {
	bb := newBenchBook(b)
	for i := 1; i <= 1000; i++ {
		bb.set(fmt.Sprintf("A%d", i), float64(i))
	}
	bb.set("B1", "=SUM(A1:A1000)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkWholeColumnSUM(b *testing.B) {
	bb := newBenchBook(b)
	for i := 1; i <= 100; i++ {
		bb.set(fmt.Sprintf("A%d", i), float64(i))
	}
	bb.set("B1", "=SUM(A:A)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkComplexNestedFormulas(b *testing.B) {
	bb := newBenchBook(b)
	for i := 1; i <= 20; i++ {
		bb.set(fmt.Sprintf("A%d", i), float64(i))
		bb.set(fmt.Sprintf("B%d", i), float64(i*2))
	}
	bb.set("C1", "=IF(AVERAGE(A1:A20)>10, SUM(B1:B20), MAX(A1:A20))")
	bb.set("D1", "=ROUND(SQRT(C1)*PI(), 2)")
	bb.set("E1", "=IF(D1>100, MEDIAN(A1:A20), MIN(B1:B20))")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkVolatileFunctions(b *testing.B) {
	bb := newBenchBook(b)
	for i := 1; i <= 50; i++ {
		bb.set(fmt.Sprintf("A%d", i), "=RAND()")
		bb.set(fmt.Sprintf("B%d", i), fmt.Sprintf("=A%d*100", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkMultiWorksheetReferences(b *testing.B) {
	bb := newBenchBook(b, "Sheet1", "Data", "Summary")
	for i := 1; i <= 100; i++ {
		bb.set(fmt.Sprintf("Data!A%d", i), float64(i))
	}
	bb.set("Summary!A1", "=SUM(Data!A1:A100)")
	bb.set("Summary!B1", "=AVERAGE(Data!A1:A100)")
	bb.set("Summary!C1", "=MAX(Data!A1:A100)")
	bb.set("Summary!D1", "=MIN(Data!A1:A100)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkCascadingUpdates(b *testing.B) {
	bb := newBenchBook(b)
	for row := 0; row < 50; row++ {
		bb.set(CellName(row, 0), float64(row+1))
		for col := 1; col < 10; col++ {
			bb.set(CellName(row, col), "="+CellName(row, col-1)+"*2")
		}
	}
	bb.evaluateAll()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.set("A1", float64(i%100))
		bb.recalc()
	}
}

func BenchmarkSparseMatrix(b *testing.B) {
	bb := newBenchBook(b)
	for row := 0; row < 1000; row += 10 {
		for col := 0; col < 1000; col += 10 {
			bb.set(CellName(row, col), float64(row+col+2))
		}
	}
	bb.set("AMA1", "=SUM(A1:ALZ1000)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkCircularReferenceDetection(b *testing.B) {
	for i := 0; i < b.N; i++ {
		bb := newBenchBook(b)
		bb.set("A1", "=B1+C1")
		bb.set("B1", "=C1+D1")
		bb.set("C1", "=D1+E1")
		bb.set("D1", "=E1+F1")
		bb.set("E1", "=F1+G1")
		bb.set("F1", "=G1+H1")
		bb.set("G1", "=H1+A1")
		bb.set("H1", "=A1")
		bb.evaluateAll()
	}
}

func BenchmarkManySmallFormulas(b *testing.B) {
	bb := newBenchBook(b)
	for row := 1; row <= 100; row++ {
		bb.set(fmt.Sprintf("A%d", row), float64(row))
		bb.set(fmt.Sprintf("B%d", row), fmt.Sprintf("=A%d*2", row))
		bb.set(fmt.Sprintf("C%d", row), fmt.Sprintf("=B%d+A%d", row, row))
		bb.set(fmt.Sprintf("D%d", row), fmt.Sprintf("=C%d/2", row))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkStringConcatenation(b *testing.B) {
	bb := newBenchBook(b)
	for i := 1; i <= 100; i++ {
		bb.set(fmt.Sprintf("A%d", i), fmt.Sprintf("text%d", i))
		bb.set(fmt.Sprintf("B%d", i), fmt.Sprintf(`=A%d&"-suffix"`, i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkAggregationFunctions(b *testing.B) {
	bb := newBenchBook(b)
	for i := 1; i <= 500; i++ {
		bb.set(fmt.Sprintf("A%d", i), float64(i))
	}
	bb.set("B1", "=SUM(A1:A500)")
	bb.set("B2", "=AVERAGE(A1:A500)")
	bb.set("B3", "=COUNT(A1:A500)")
	bb.set("B4", "=MAX(A1:A500)")
	bb.set("B5", "=MIN(A1:A500)")
	bb.set("B6", "=MEDIAN(A1:A500)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkConditionalLogic(b *testing.B) {
	bb := newBenchBook(b)
	for i := 1; i <= 200; i++ {
		bb.set(fmt.Sprintf("A%d", i), float64(i))
		bb.set(fmt.Sprintf("B%d", i), fmt.Sprintf(`=IF(A%d>100, A%d*2, A%d/2)`, i, i, i))
		bb.set(fmt.Sprintf("C%d", i), fmt.Sprintf(`=AND(A%d>50, A%d<150)`, i, i))
		bb.set(fmt.Sprintf("D%d", i), fmt.Sprintf(`=OR(A%d<25, A%d>175)`, i, i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.evaluateAll()
	}
}

func BenchmarkDirtyPropagation(b *testing.B) {
	bb := newBenchBook(b)
	const grid = 20
	for row := 0; row < grid; row++ {
		for col := 0; col < grid; col++ {
			var value any
			switch {
			case row == 0 && col == 0:
				value = 1.0
			case row == 0:
				value = "=" + CellName(row, col-1) + "+1"
			case col == 0:
				value = "=" + CellName(row-1, col) + "+1"
			default:
				value = "=" + CellName(row, col-1) + "+" + CellName(row-1, col)
			}
			bb.set(CellName(row, col), value)
		}
	}
	bb.evaluateAll()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bb.set("A1", float64(i%100))
		bb.recalc()
	}
}

func BenchmarkFormulaParsing(b *testing.B) {
	formula := `=IF(AND(A1>0,B$2<>"x"),SUM(Data!A1:C10)*ROUND(D4/3,2),IFERROR(INDEX(E:E,3),-1))`
	for i := 0; i < b.N; i++ {
		if _, err := ParseFormula(formula, nil); err != nil {
			b.Fatal(err)
		}
	}
}
