package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

var errNoSheets = errors.New("workbook has no worksheets")

// maxXLSColumns is the BIFF8 column limit, scanned when a row carries no
// ROW record to say where it ends.
const maxXLSColumns = 256

// Workbook is the decoded cell text of every sheet, in sheet order. Numeric
// cells keep their raw stored value so date serials and day fractions reach
// the normalisers untouched.
type Workbook struct {
	Sheets []Sheet
}

type Sheet struct {
	Name string
	Rows [][]string
}

func (w *Workbook) First() (Sheet, bool) {
	if w == nil || len(w.Sheets) == 0 {
		return Sheet{}, false
	}
	return w.Sheets[0], true
}

func readXLSX(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fromExcelize(f)
}

func readXLSXFile(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fromExcelize(f)
}

func fromExcelize(f *excelize.File) (*Workbook, error) {
	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, errNoSheets
	}

	wb := &Workbook{Sheets: make([]Sheet, 0, len(names))}
	for _, name := range names {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", name, err)
		}
		wb.Sheets = append(wb.Sheets, Sheet{Name: name, Rows: rows})
	}
	return wb, nil
}

func readXLS(r io.ReadSeeker) (*Workbook, error) {
	book, err := xls.OpenReader(r, "utf-8")
	if err != nil {
		return nil, err
	}
	return fromXLS(book)
}

func readXLSFile(path string) (*Workbook, error) {
	book, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	return fromXLS(book)
}

func fromXLS(book *xls.WorkBook) (*Workbook, error) {
	if book == nil || book.NumSheets() == 0 {
		return nil, errNoSheets
	}
	rawNumbers(book)

	wb := &Workbook{}
	for i := 0; i < book.NumSheets(); i++ {
		ws := book.GetSheet(i)
		if ws == nil {
			continue
		}
		sheet := Sheet{Name: ws.Name}
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := sheetRow(ws, r)
			if row == nil {
				sheet.Rows = append(sheet.Rows, nil)
				continue
			}
			last := row.LastCol()
			if last == 0 {
				last = maxXLSColumns
			}
			cells := make([]string, 0, last)
			for c := 0; c < last; c++ {
				cells = append(cells, strings.TrimSpace(row.Col(c)))
			}
			sheet.Rows = append(sheet.Rows, trimTrailing(cells))
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}

	if len(wb.Sheets) == 0 {
		return nil, errNoSheets
	}
	return wb, nil
}

// rawNumbers points every cell style at the General format so numeric cells
// read back as their stored value, as excelize does with RawCellValue. The
// reader renders built-in date styles as "2006.01" and custom ones as
// RFC 3339, which loses the day or the serial.
func rawNumbers(book *xls.WorkBook) {
	for _, xf := range book.Xfs {
		switch x := xf.(type) {
		case *xls.Xf8:
			x.Format = 0
		case *xls.Xf5:
			x.Format = 0
		}
	}
}

// sheetRow returns nil for a row the sheet never declared. WorkSheet.Row
// dereferences the missing entry instead.
func sheetRow(ws *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return ws.Row(i)
}

// trimTrailing drops empty cells at the end of a row, matching excelize.
func trimTrailing(cells []string) []string {
	n := len(cells)
	for n > 0 && cells[n-1] == "" {
		n--
	}
	return cells[:n]
}
