// Command formulaeval evaluates the formulas of xlsx workbooks and
// standalone formula text.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"fortio.org/log"
	"github.com/goforj/godump"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vogtb/go-spreadsheet/packages/formulaeval"
	"github.com/vogtb/go-spreadsheet/packages/formulaeval/xlsxbook"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "formulaeval: %v\n", err)
		return 1
	}
	return 0
}

type rootOptions struct {
	verbose bool
	quiet   bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts rootOptions
	root := &cobra.Command{
		Use:   "formulaeval",
		Short: "Evaluate spreadsheet formulas",
		Long: `Evaluate the formulas of xlsx workbooks.

Commands:
  eval       Evaluate formula cells of a workbook
  calc       Evaluate a single formula
  functions  List supported functions or look one up
  shift      Rewrite a formula as if rows or columns moved

Examples:
  formulaeval eval report.xlsx
  formulaeval eval report.xlsx Summary!B4 C2
  formulaeval calc "=ROUND(2.5,0)*2" --dump
  formulaeval shift "=SUM(A2:A10)" --rows 3:5:2`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			switch {
			case opts.verbose:
				log.SetLogLevel(log.Debug)
			case opts.quiet:
				log.SetLogLevel(log.Error)
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log evaluation details")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only log errors")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(newEvalCmd(), newCalcCmd(), newFunctionsCmd(), newShiftCmd())
	return root
}

type evalOptions struct {
	strict        bool
	ignoreMissing bool
	dump          bool
	trace         bool
}

func newEvalCmd() *cobra.Command {
	var opts evalOptions
	cmd := &cobra.Command{
		Use:   "eval FILE [CELL...]",
		Short: "Evaluate formula cells of a workbook",
		Long: `Evaluate formula cells of a workbook and print their values.

Without CELL arguments every formula cell is evaluated. A CELL is an A1
address on the first sheet, or Sheet!A1.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.OutOrStdout(), args[0], args[1:], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail when a formula of the file does not parse")
	cmd.Flags().BoolVar(&opts.ignoreMissing, "ignore-missing-workbooks", false, "Use saved results for references to other workbooks")
	cmd.Flags().BoolVar(&opts.dump, "dump", false, "Dump the parsed tokens of each formula")
	cmd.Flags().BoolVar(&opts.trace, "trace", false, "Log every evaluation cache event")
	return cmd
}

func runEval(w io.Writer, path string, addresses []string, opts evalOptions) error {
	wb, err := xlsxbook.Open(path, xlsxbook.Options{Strict: opts.strict})
	if err != nil {
		return err
	}
	cfg := formulaeval.EvaluatorConfig{IgnoreMissingWorkbooks: opts.ignoreMissing}
	if opts.trace {
		cfg.Listener = formulaeval.LoggingListener{}
		if log.GetLogLevel() > log.Verbose {
			log.SetLogLevel(log.Verbose)
		}
	}
	fe := formulaeval.NewFormulaEvaluator(wb, cfg)

	var cells []*formulaeval.MemoryCell
	var evalErr error
	if len(addresses) == 0 {
		evalErr = fe.EvaluateAll()
		for i := range wb.NumberOfSheets() {
			for cell := range wb.SheetAt(i).Cells() {
				if cell.Formula() != "" {
					cells = append(cells, cell)
				}
			}
		}
	} else {
		for _, address := range addresses {
			cell, err := lookupCell(wb, address)
			if err != nil {
				return err
			}
			if _, err := fe.EvaluateFormulaCell(cell); err != nil {
				evalErr = errors.Join(evalErr, fmt.Errorf("%s: %w", address, err))
			}
			cells = append(cells, cell)
		}
	}

	out := newTableWriter(w)
	for _, cell := range cells {
		name := wb.SheetName(cell.SheetIndex()) + "!" + cell.Address()
		fmt.Fprintf(out, "%s\t%s\t%s\n", name, formulaeval.ValueString(cell.Value()), cell.Formula())
		if opts.dump && cell.Formula() != "" {
			tokens, err := wb.FormulaTokens(cell)
			if err != nil {
				return err
			}
			fmt.Fprint(out, godump.DumpStr(tokens))
		}
	}
	if err := out.Flush(); err != nil {
		return err
	}
	return evalErr
}

// lookupCell finds the cell at Sheet!A1 or, without a sheet, at A1 of the
// first sheet. a missing cell is created blank.
func lookupCell(wb *formulaeval.MemoryWorkbook, address string) (*formulaeval.MemoryCell, error) {
	sheet := wb.SheetAt(0)
	cellPart := address
	if i := strings.LastIndexByte(address, '!'); i >= 0 {
		name := strings.Trim(address[:i], "'")
		if sheet = wb.SheetByName(name); sheet == nil {
			return nil, formulaeval.NewApplicationError(formulaeval.NotFound, fmt.Sprintf("no sheet named %q", name))
		}
		cellPart = address[i+1:]
	}
	if sheet == nil {
		return nil, formulaeval.NewApplicationError(formulaeval.FailedPrecondition, "workbook has no sheets")
	}
	row, col, _, _, ok := formulaeval.ParseCellName(cellPart)
	if !ok {
		return nil, formulaeval.NewApplicationError(formulaeval.InvalidArgument, fmt.Sprintf("invalid cell address %q", address))
	}
	return sheet.CreateCell(row, col)
}

func newCalcCmd() *cobra.Command {
	var dump bool
	cmd := &cobra.Command{
		Use:   "calc FORMULA",
		Short: "Evaluate a single formula",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCalc(cmd.OutOrStdout(), args[0], dump)
		},
	}
	cmd.Flags().BoolVar(&dump, "dump", false, "Dump the parsed tokens")
	return cmd
}

func runCalc(w io.Writer, text string, dump bool) error {
	wb := formulaeval.NewMemoryWorkbook(formulaeval.Excel2007)
	if _, err := wb.AddSheet("Sheet1"); err != nil {
		return err
	}
	if !strings.HasPrefix(text, "=") {
		text = "=" + text
	}
	if dump {
		tokens, err := formulaeval.ParseFormula(text, wb)
		if err != nil {
			return err
		}
		fmt.Fprint(w, godump.DumpStr(tokens))
	}
	v, err := formulaeval.NewWorkbookEvaluator(wb, formulaeval.EvaluatorConfig{}).EvaluateFormulaText(text, 0, 0, 0)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formulaeval.ValueString(v))
	return nil
}

func newFunctionsCmd() *cobra.Command {
	var unsupported bool
	cmd := &cobra.Command{
		Use:   "functions [NAME]",
		Short: "List supported functions or look one up",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ft := formulaeval.NewDefaultFunctionTable()
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				return lookupFunction(w, ft, args[0])
			}
			names := ft.SupportedFunctionNames()
			if unsupported {
				names = ft.NotSupportedFunctionNames()
			}
			for _, name := range names {
				fmt.Fprintln(w, name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&unsupported, "unsupported", false, "List known functions that cannot be evaluated")
	return cmd
}

func lookupFunction(w io.Writer, ft *formulaeval.FunctionTable, name string) error {
	if _, ok := ft.Lookup(name); ok {
		fmt.Fprintf(w, "%s is supported\n", strings.ToUpper(strings.TrimSpace(name)))
		return nil
	}
	msg := fmt.Sprintf("unknown function %s", name)
	if suggestion, ok := ft.Suggest(name); ok {
		msg += fmt.Sprintf(", did you mean %s?", suggestion)
	}
	return formulaeval.NewApplicationError(formulaeval.NotFound, msg)
}

type shiftOptions struct {
	rows    string
	columns string
	copy    bool
	sheet   string
}

func newShiftCmd() *cobra.Command {
	opts := shiftOptions{sheet: "Sheet1"}
	cmd := &cobra.Command{
		Use:   "shift FORMULA",
		Short: "Rewrite a formula as if rows or columns moved",
		Long: `Rewrite the references of a formula living on --sheet after rows or
columns FIRST..LAST of that sheet move by AMOUNT. Bands are given as
FIRST:LAST:AMOUNT with 1-based rows and columns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShift(cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.rows, "rows", "", "Row band FIRST:LAST:AMOUNT")
	cmd.Flags().StringVar(&opts.columns, "columns", "", "Column band FIRST:LAST:AMOUNT")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the band instead of moving it")
	cmd.Flags().StringVar(&opts.sheet, "sheet", opts.sheet, "Sheet holding the formula")
	cmd.MarkFlagsMutuallyExclusive("rows", "columns")
	cmd.MarkFlagsOneRequired("rows", "columns")
	return cmd
}

func runShift(w io.Writer, text string, opts shiftOptions) error {
	wb := formulaeval.NewMemoryWorkbook(formulaeval.Excel2007)
	if _, err := wb.AddSheet(opts.sheet); err != nil {
		return err
	}
	tokens, err := formulaeval.ParseFormula(text, wb)
	if err != nil {
		return err
	}

	band := opts.rows
	if band == "" {
		band = opts.columns
	}
	first, last, amount, err := parseBand(band)
	if err != nil {
		return err
	}
	externIndex := wb.ExternSheetIndex(0)
	newOp := formulaeval.RowShift
	switch {
	case opts.rows != "" && opts.copy:
		newOp = formulaeval.RowCopy
	case opts.columns != "" && opts.copy:
		newOp = formulaeval.ColumnCopy
	case opts.columns != "":
		newOp = formulaeval.ColumnShift
	}
	op, err := newOp(externIndex, opts.sheet, first, last, amount, wb.SpreadsheetVersion())
	if err != nil {
		return err
	}
	if !op.Adjust(tokens, externIndex) {
		log.Infof("%s leaves the formula unchanged", op)
	}
	fmt.Fprintln(w, "="+formulaeval.FormatFormula(tokens))
	return nil
}

// parseBand reads FIRST:LAST:AMOUNT into 0-based indexes.
func parseBand(s string) (first, last, amount int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, 0, formulaeval.NewApplicationError(formulaeval.InvalidArgument,
			fmt.Sprintf("band %q is not FIRST:LAST:AMOUNT", s))
	}
	var n [3]int
	for i, part := range parts {
		if n[i], err = strconv.Atoi(strings.TrimSpace(part)); err != nil {
			return 0, 0, 0, formulaeval.NewApplicationError(formulaeval.InvalidArgument,
				fmt.Sprintf("band %q: %v", s, err))
		}
	}
	if n[0] < 1 || n[1] < 1 {
		return 0, 0, 0, formulaeval.NewApplicationError(formulaeval.InvalidArgument,
			fmt.Sprintf("band %q: rows and columns start at 1", s))
	}
	return n[0] - 1, n[1] - 1, n[2], nil
}

type flusher interface {
	io.Writer
	Flush() error
}

type nopFlusher struct{ io.Writer }

func (nopFlusher) Flush() error { return nil }

// newTableWriter aligns columns when writing to a terminal and keeps plain
// tab separated output otherwise.
func newTableWriter(w io.Writer) flusher {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	}
	return nopFlusher{w}
}
