package formulaeval

import (
	"errors"
	"slices"
	"testing"
)

type linkedBook struct {
	workbook  *MemoryWorkbook
	sheet     *MemorySheet
	evaluator *WorkbookEvaluator
}

func newLinkedBook(t *testing.T, cfg EvaluatorConfig, links ...string) *linkedBook {
	t.Helper()
	wb := NewMemoryWorkbook(Excel2007)
	sheet, err := wb.AddSheet("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	for _, link := range links {
		wb.AddExternalLink(link)
	}
	return &linkedBook{workbook: wb, sheet: sheet, evaluator: NewWorkbookEvaluator(wb, cfg)}
}

func (b *linkedBook) set(t *testing.T, address string, value any) {
	t.Helper()
	if err := b.sheet.Set(address, value); err != nil {
		t.Fatalf("Set(%s): %v", address, err)
	}
	b.evaluator.NotifyUpdateCell(b.sheet.Get(address))
}

func (b *linkedBook) eval(t *testing.T, address string) (Value, error) {
	t.Helper()
	return b.evaluator.Evaluate(b.sheet.Get(address))
}

func TestCollaboratingWorkbooks(t *testing.T) {
	listener := &recordingListener{}
	cfg := EvaluatorConfig{Listener: listener}
	orders := newLinkedBook(t, cfg, "Rates.xlsx")
	rates := newLinkedBook(t, cfg)

	rates.set(t, "A1", 0.25)
	rates.set(t, "A2", "=A1*2")
	orders.set(t, "A1", 100)
	orders.set(t, "B1", "=A1*[Rates.xlsx]Sheet1!A2")
	orders.set(t, "B2", "=SUM([1]Sheet1!A1:A2)")

	env, err := SetupReferencedWorkbooks(map[string]*WorkbookEvaluator{
		"Orders.xlsx": orders.evaluator,
		"Rates.xlsx":  rates.evaluator,
	})
	if err != nil {
		t.Fatalf("SetupReferencedWorkbooks: %v", err)
	}
	if got := env.Names(); !slices.Equal(got, []string{"Orders.xlsx", "Rates.xlsx"}) {
		t.Errorf("Names() = %v", got)
	}
	if orders.evaluator.Cache() != rates.evaluator.Cache() {
		t.Fatal("evaluators of one environment must share a cache")
	}

	if v, err := orders.eval(t, "B1"); err != nil || v != NumberValue(50) {
		t.Fatalf("B1 = %v, %v; want 50", v, err)
	}
	if v, err := orders.eval(t, "B2"); err != nil || v != NumberValue(0.75) {
		t.Fatalf("B2 = %v, %v; want 0.75", v, err)
	}

	// a change in the other workbook clears results in this one
	listener.take()
	rates.set(t, "A1", 0.5)
	events := listener.take()
	if !slices.Contains(events, "clear2 B1 50") || !slices.Contains(events, "clear2 B2 0.75") {
		t.Errorf("cross workbook invalidation events: %q", events)
	}
	if v, err := orders.eval(t, "B1"); err != nil || v != NumberValue(100) {
		t.Errorf("B1 = %v, %v; want 100", v, err)
	}

	if other, err := env.Evaluator("Rates.xlsx"); err != nil || other != rates.evaluator {
		t.Errorf("Evaluator(Rates.xlsx) = %p, %v", other, err)
	}
	_, err = env.Evaluator("Missing.xlsx")
	var notFound *WorkbookNotFoundError
	if !errors.As(err, &notFound) || notFound.WorkbookName != "Missing.xlsx" {
		t.Errorf("Evaluator(Missing.xlsx) error = %v", err)
	}
	if AppErrorCodeOf(err) != NotFound {
		t.Errorf("code = %s, want NotFound", AppErrorCodeOf(err))
	}
}

func TestSetupEnvironmentErrors(t *testing.T) {
	a := newLinkedBook(t, EvaluatorConfig{})
	b := newLinkedBook(t, EvaluatorConfig{})
	other := newLinkedBook(t, EvaluatorConfig{Listener: &recordingListener{}})

	tests := []struct {
		name       string
		names      []string
		evaluators []*WorkbookEvaluator
		want       AppErrorCode
	}{
		{"Length mismatch", []string{"a"}, []*WorkbookEvaluator{a.evaluator, b.evaluator}, InvalidArgument},
		{"Empty", nil, nil, InvalidArgument},
		{"Duplicate name", []string{"a", "a"}, []*WorkbookEvaluator{a.evaluator, b.evaluator}, InvalidArgument},
		{"Duplicate evaluator", []string{"a", "b"}, []*WorkbookEvaluator{a.evaluator, a.evaluator}, InvalidArgument},
		{"Different listeners", []string{"a", "b"}, []*WorkbookEvaluator{a.evaluator, other.evaluator}, FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SetupEnvironment(tt.names, tt.evaluators)
			if code := AppErrorCodeOf(err); code != tt.want {
				t.Errorf("got %v (%s), want %s", err, code, tt.want)
			}
		})
	}
}

func TestEnvironmentUnhook(t *testing.T) {
	a := newLinkedBook(t, EvaluatorConfig{})
	b := newLinkedBook(t, EvaluatorConfig{})
	c := newLinkedBook(t, EvaluatorConfig{})

	first, err := SetupEnvironment([]string{"a", "b"}, []*WorkbookEvaluator{a.evaluator, b.evaluator})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := SetupEnvironment([]string{"a", "c"}, []*WorkbookEvaluator{a.evaluator, c.evaluator}); err != nil {
		t.Fatal(err)
	}

	if _, err := first.Evaluator("b"); AppErrorCodeOf(err) != FailedPrecondition {
		t.Errorf("old environment lookup: got %v, want FailedPrecondition", err)
	}
	// b was detached along with its old environment
	if b.evaluator.Cache() == a.evaluator.Cache() {
		t.Error("b still shares the cache of a")
	}
	if a.evaluator.Cache() != c.evaluator.Cache() {
		t.Error("a and c should share a cache")
	}
}

func TestMissingWorkbooks(t *testing.T) {
	t.Run("Fails without environment", func(t *testing.T) {
		book := newLinkedBook(t, EvaluatorConfig{}, "Prices.xlsx")
		book.set(t, "A1", "=[Prices.xlsx]Sheet1!B2+1")

		_, err := book.eval(t, "A1")
		var notFound *WorkbookNotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("got %v, want a WorkbookNotFoundError", err)
		}
		if notFound.WorkbookName != "Prices.xlsx" || AppErrorCodeOf(err) != NotFound {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("Falls back to the cached result", func(t *testing.T) {
		book := newLinkedBook(t, EvaluatorConfig{IgnoreMissingWorkbooks: true}, "Prices.xlsx")
		book.set(t, "A1", "=[Prices.xlsx]Sheet1!B2+1")
		if err := book.sheet.Get("A1").SetCachedFormulaResult(NumberValue(99)); err != nil {
			t.Fatal(err)
		}

		if v, err := book.eval(t, "A1"); err != nil || v != NumberValue(99) {
			t.Errorf("A1 = %v, %v; want the cached 99", v, err)
		}
	})

	t.Run("Toggled at runtime", func(t *testing.T) {
		wb := NewMemoryWorkbook(Excel2007)
		sheet, _ := wb.AddSheet("Sheet1")
		wb.AddExternalLink("Prices.xlsx")
		if err := sheet.Set("A1", "=[Prices.xlsx]Sheet1!B2"); err != nil {
			t.Fatal(err)
		}
		fe := NewFormulaEvaluator(wb, EvaluatorConfig{})
		if err := fe.EvaluateAll(); AppErrorCodeOf(err) != NotFound {
			t.Fatalf("EvaluateAll = %v, want NotFound", err)
		}
		fe.SetIgnoreMissingWorkbooks(true)
		if err := fe.EvaluateAll(); err != nil {
			t.Fatalf("EvaluateAll = %v", err)
		}
	})

	t.Run("Resolved through the facade", func(t *testing.T) {
		wb := NewMemoryWorkbook(Excel2007)
		sheet, _ := wb.AddSheet("Sheet1")
		wb.AddExternalLink("Prices.xlsx")
		if err := sheet.Set("A1", "=[Prices.xlsx]Sheet1!B2*2"); err != nil {
			t.Fatal(err)
		}
		prices := NewMemoryWorkbook(Excel2007)
		priceSheet, _ := prices.AddSheet("Sheet1")
		if err := priceSheet.Set("B2", 21); err != nil {
			t.Fatal(err)
		}

		fe := NewFormulaEvaluator(wb, EvaluatorConfig{})
		pe := NewFormulaEvaluator(prices, EvaluatorConfig{})
		if err := fe.SetupReferencedWorkbooks(map[string]*FormulaEvaluator{"Book.xlsx": fe, "Prices.xlsx": pe}); err != nil {
			t.Fatal(err)
		}
		if _, err := fe.EvaluateFormulaCell(sheet.Get("A1")); err != nil {
			t.Fatal(err)
		}
		if got := sheet.Get("A1").NumericCellValue(); got != 42 {
			t.Errorf("A1 = %v, want 42", got)
		}
	})
}
