package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func runCLI(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return out.String(), errOut.String(), code
}

func TestCalc(t *testing.T) {
	tests := []struct {
		formula string
		want    string
	}{
		{"=1+2", "3"},
		{"ROUND(2.5,0)*2", "6"},
		{"=1/0", "#DIV/0!"},
	}
	for _, tt := range tests {
		stdout, stderr, code := runCLI(t, "calc", tt.formula)
		if code != 0 {
			t.Fatalf("calc %s exited %d: %s", tt.formula, code, stderr)
		}
		if got := strings.TrimSpace(stdout); got != tt.want {
			t.Errorf("calc %s = %q, want %q", tt.formula, got, tt.want)
		}
	}

	if _, stderr, code := runCLI(t, "calc", "=SUM(1,"); code != 1 || stderr == "" {
		t.Errorf("bad formula exited %d with %q", code, stderr)
	}
}

func TestFunctions(t *testing.T) {
	stdout, _, code := runCLI(t, "functions")
	if code != 0 || !strings.Contains(stdout, "SUM\n") {
		t.Errorf("functions exited %d, output %q", code, stdout)
	}

	stdout, _, _ = runCLI(t, "functions", "--unsupported")
	if !strings.Contains(stdout, "HYPERLINK\n") {
		t.Errorf("HYPERLINK missing from unsupported list")
	}

	stdout, _, code = runCLI(t, "functions", "sum")
	if code != 0 || strings.TrimSpace(stdout) != "SUM is supported" {
		t.Errorf("functions sum = %q (%d)", stdout, code)
	}

	_, stderr, code := runCLI(t, "functions", "CONCATENTE")
	if code != 1 || !strings.Contains(stderr, "did you mean CONCATENATE?") {
		t.Errorf("functions CONCATENTE = %q (%d)", stderr, code)
	}
}

func TestShift(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"shift", "=A4+B1", "--rows", "3:5:2"}, "=A6+B1"},
		{[]string{"shift", "=A4+B1", "--rows", "3:5:0"}, "=A4+B1"},
		{[]string{"shift", "=C1*2", "--columns", "3:3:1"}, "=D1*2"},
		{[]string{"shift", "=A2", "--rows", "1:5:-3"}, "=#REF!"},
	}
	for _, tt := range tests {
		stdout, stderr, code := runCLI(t, tt.args...)
		if code != 0 {
			t.Fatalf("%v exited %d: %s", tt.args, code, stderr)
		}
		if got := strings.TrimSpace(stdout); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.args, got, tt.want)
		}
	}

	for _, band := range []string{"3:5", "0:1:1", "a:b:c"} {
		if _, _, code := runCLI(t, "shift", "=A1", "--rows", band); code != 1 {
			t.Errorf("band %q exited %d, want 1", band, code)
		}
	}
	if _, _, code := runCLI(t, "shift", "=A1"); code != 1 {
		t.Error("shift without a band should fail")
	}
}

func TestEval(t *testing.T) {
	f := excelize.NewFile()
	for _, err := range []error{
		f.SetCellValue("Sheet1", "A1", 7),
		f.SetCellFormula("Sheet1", "B1", "A1*6"),
		f.SetSheetDimension("Sheet1", "A1:B1"),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "answer.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, code := runCLI(t, "eval", path)
	if code != 0 {
		t.Fatalf("eval exited %d: %s", code, stderr)
	}
	if got := strings.TrimSpace(stdout); got != "Sheet1!B1\t42\t=A1*6" {
		t.Errorf("eval = %q", got)
	}

	if stdout, _, code := runCLI(t, "eval", "--trace", "--dump", path, "B1"); code != 0 || !strings.Contains(stdout, "Sheet1!B1\t42") {
		t.Errorf("eval --trace --dump exited %d: %q", code, stdout)
	}

	stdout, _, code = runCLI(t, "eval", path, "Sheet1!B1", "A1")
	if code != 0 {
		t.Fatalf("eval with cells exited %d", code)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || lines[0] != "Sheet1!B1\t42\t=A1*6" || !strings.HasPrefix(lines[1], "Sheet1!A1\t7") {
		t.Errorf("eval with cells = %q", lines)
	}

	if _, stderr, code := runCLI(t, "eval", path, "Nope!A1"); code != 1 || !strings.Contains(stderr, "Nope") {
		t.Errorf("unknown sheet exited %d with %q", code, stderr)
	}
	if _, _, code := runCLI(t, "eval", filepath.Join(t.TempDir(), "missing.xlsx")); code != 1 {
		t.Error("missing file should fail")
	}
}
