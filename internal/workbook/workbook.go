// Package workbook reads ticket spreadsheets into plain string rows.
package workbook

import (
	"fmt"
	"io"
	"log"

	"github.com/xuri/excelize/v2"
)

// Workbook holds every sheet's rows, header row first. Cells are the
// formatted values as shown in the spreadsheet.
type Workbook struct {
	Name   string
	Order  []string
	Sheets map[string][][]string
}

func (w *Workbook) Sheet(name string) ([][]string, bool) {
	rows, ok := w.Sheets[name]
	return rows, ok
}

func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()
	return read(f, path)
}

func Read(r io.Reader, name string) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", name, err)
	}
	defer f.Close()
	return read(f, name)
}

func read(f *excelize.File, name string) (*Workbook, error) {
	wb := &Workbook{Name: name, Sheets: make(map[string][][]string)}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, name, err)
		}
		wb.Order = append(wb.Order, sheet)
		wb.Sheets[sheet] = rows
	}
	log.Printf("workbook loaded name=%s sheets=%d", name, len(wb.Order))
	return wb, nil
}

// Write saves sheets to an .xlsx file in the given order. Used to export
// fixtures and templates with the expected headers.
func Write(path string, order []string, sheets map[string][][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if len(order) == 0 {
		return fmt.Errorf("write workbook %s: no sheets", path)
	}
	for i, name := range order {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("rename first sheet to %q: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %q: %w", name, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			values := make([]interface{}, len(row))
			for c, v := range row {
				values[c] = v
			}
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return fmt.Errorf("write row %d of sheet %q: %w", r+1, name, err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}
