package formulaeval

// SpreadsheetVersion holds the grid limits of a file format.
type SpreadsheetVersion struct {
	Name       string
	MaxRows    int
	MaxColumns int
}

var (
	// Excel97 is the binary format: 65536 rows, 256 columns
	Excel97 = SpreadsheetVersion{Name: "EXCEL97", MaxRows: 0x10000, MaxColumns: 0x100}
	// Excel2007 is the xml format: 1048576 rows, 16384 columns
	Excel2007 = SpreadsheetVersion{Name: "EXCEL2007", MaxRows: 0x100000, MaxColumns: 0x4000}
)

func (v SpreadsheetVersion) LastRowIndex() int    { return v.MaxRows - 1 }
func (v SpreadsheetVersion) LastColumnIndex() int { return v.MaxColumns - 1 }
