// Package xlsxbook loads xlsx files into formulaeval workbooks.
package xlsxbook

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"fortio.org/log"
	"github.com/xuri/excelize/v2"

	"github.com/vogtb/go-spreadsheet/packages/formulaeval"
)

// Options controls how a file is read.
type Options struct {
	// Strict makes a formula that does not parse fail the load. otherwise
	// the cell keeps the value last saved with the file.
	Strict bool
}

// Open reads an xlsx file from disk.
func Open(path string, opts Options) (*formulaeval.MemoryWorkbook, error) {
	f, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, formulaeval.NewApplicationError(formulaeval.NotFound, fmt.Sprintf("opening %s: %v", path, err))
	}
	defer f.Close()
	return Load(f, opts)
}

// Read reads an xlsx file from a stream.
func Read(r io.Reader, opts Options) (*formulaeval.MemoryWorkbook, error) {
	f, err := excelize.OpenReader(r, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, formulaeval.NewApplicationError(formulaeval.InvalidArgument, fmt.Sprintf("reading workbook: %v", err))
	}
	defer f.Close()
	return Load(f, opts)
}

// Load copies every sheet, cell and defined name of an open file.
func Load(f *excelize.File, opts Options) (*formulaeval.MemoryWorkbook, error) {
	wb := formulaeval.NewMemoryWorkbook(formulaeval.Excel2007)
	sheetNames := f.GetSheetList()
	for _, name := range sheetNames {
		if _, err := wb.AddSheet(name); err != nil {
			return nil, err
		}
	}

	var errs []error
	for i, name := range sheetNames {
		cells, formulas, err := loadSheet(f, wb.SheetAt(i), opts, &errs)
		if err != nil {
			return nil, err
		}
		log.Debugf("loaded sheet %q: %d cells, %d formulas", name, cells, formulas)
	}
	for _, dn := range f.GetDefinedName() {
		if err := defineName(wb, dn); err != nil {
			if opts.Strict {
				errs = append(errs, err)
				continue
			}
			log.Warnf("skipping defined name %s: %v", dn.Name, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return wb, nil
}

// loadSheet copies the cells of one sheet. parse failures are appended to
// errs in strict mode; read failures abort.
func loadSheet(f *excelize.File, sheet *formulaeval.MemorySheet, opts Options, errs *[]error) (cells, formulas int, err error) {
	name := sheet.Name()
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, 0, fmt.Errorf("reading rows of %s: %w", name, err)
	}
	height, width, err := sheetExtent(f, name, rows)
	if err != nil {
		return 0, 0, err
	}
	for r := range height {
		var row []string
		if r < len(rows) {
			row = rows[r]
		}
		for c := range width {
			var raw string
			if c < len(row) {
				raw = row[c]
			}
			address, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return cells, formulas, err
			}
			// a formula without a saved result reads as ""
			formula, err := f.GetCellFormula(name, address)
			if err != nil {
				return cells, formulas, fmt.Errorf("reading formula of %s!%s: %w", name, address, err)
			}
			if formula == "" && raw == "" {
				continue
			}
			var cellType excelize.CellType
			if raw != "" {
				if cellType, err = f.GetCellType(name, address); err != nil {
					return cells, formulas, fmt.Errorf("reading type of %s!%s: %w", name, address, err)
				}
			}
			if formula != "" {
				err := sheet.SetFormula(address, "="+formula)
				switch {
				case err == nil:
					formulas++
					cells++
					if raw != "" {
						cacheResult(sheet.Get(address), cellType, raw)
					}
					continue
				case opts.Strict:
					*errs = append(*errs, fmt.Errorf("%s!%s: %w", name, address, err))
					continue
				}
				log.Warnf("%s!%s: keeping saved value of unsupported formula =%s: %v", name, address, formula, err)
				if raw == "" {
					continue
				}
			}
			if err := sheet.Set(address, plainValue(cellType, raw)); err != nil {
				return cells, formulas, err
			}
			cells++
		}
	}
	return cells, formulas, nil
}

// sheetExtent is the number of rows and columns to visit: the recorded
// dimension of the sheet or the rows holding values, whichever is larger.
// rows ending in formulas without a saved result are only covered by the
// dimension.
func sheetExtent(f *excelize.File, name string, rows [][]string) (height, width int, err error) {
	height = len(rows)
	for _, row := range rows {
		width = max(width, len(row))
	}
	ref, err := f.GetSheetDimension(name)
	if err != nil {
		return 0, 0, fmt.Errorf("reading dimension of %s: %w", name, err)
	}
	if ref == "" {
		return height, width, nil
	}
	_, last, _ := strings.Cut(ref, ":")
	if last == "" {
		last = ref
	}
	col, row, err := excelize.CellNameToCoordinates(strings.ReplaceAll(last, "$", ""))
	if err != nil {
		log.Warnf("ignoring dimension %q of %s: %v", ref, name, err)
		return height, width, nil
	}
	return max(height, row), max(width, col), nil
}

// plainValue converts the raw text of a cell to what MemorySheet.Set
// accepts.
func plainValue(cellType excelize.CellType, raw string) any {
	switch cellType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "TRUE")
	case excelize.CellTypeError:
		if code, ok := formulaeval.ErrorCodeFromText(raw); ok {
			return formulaeval.NewSpreadsheetError(code, "")
		}
		return raw
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
		if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
			return t
		}
		return raw
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		// formula results of type str report as CellTypeFormula
		return raw
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

// cacheResult stores the result saved with a formula cell, so the cell
// reads right before it is evaluated.
func cacheResult(cell *formulaeval.MemoryCell, cellType excelize.CellType, raw string) {
	var v formulaeval.Value
	switch x := plainValue(cellType, raw).(type) {
	case bool:
		v = formulaeval.BoolValue(x)
	case float64:
		v = formulaeval.NumberValue(x)
	case *formulaeval.SpreadsheetError:
		v = x
	case time.Time:
		v = formulaeval.NumberValue(formulaeval.TimeToSerial(x))
	case string:
		v = formulaeval.TextValue(x)
		if cellType == excelize.CellTypeUnset {
			if code, ok := formulaeval.ErrorCodeFromText(x); ok {
				v = formulaeval.NewSpreadsheetError(code, "")
			}
		}
	}
	if err := cell.SetCachedFormulaResult(v); err != nil {
		log.Warnf("%s: %v", cell.Address(), err)
	}
}

func defineName(wb *formulaeval.MemoryWorkbook, dn excelize.DefinedName) error {
	scope := -1
	if dn.Scope != "" && !strings.EqualFold(dn.Scope, "Workbook") {
		scope = wb.SheetIndex(dn.Scope)
		if scope < 0 {
			return formulaeval.NewApplicationError(formulaeval.NotFound,
				fmt.Sprintf("defined name %s is scoped to unknown sheet %q", dn.Name, dn.Scope))
		}
	}
	return wb.DefineName(dn.Name, scope, "="+strings.TrimPrefix(dn.RefersTo, "="))
}
