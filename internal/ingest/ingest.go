package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"ticketlens/internal/domain"
	"ticketlens/internal/mapping"
	"ticketlens/internal/storage/sqlite"
	"ticketlens/internal/workbook"
)

// Upserter is the write side of the ticket store.
type Upserter interface {
	Upsert(ctx context.Context, records []domain.Ticket) (inserted, updated int, err error)
}

// SheetResult is the outcome for one category sheet.
type SheetResult struct {
	Category domain.Category
	Sheet    string
	Records  int
	Skipped  int
	Err      error
}

// Report summarizes a workbook import. Sheet failures are isolated; a
// storage fault rejects the whole batch.
type Report struct {
	Workbook string
	Sheets   []SheetResult
	Inserted int
	Updated  int
	StoreErr error
}

func (r Report) FailedSheets() []string {
	var out []string
	for _, s := range r.Sheets {
		if s.Err != nil {
			out = append(out, s.Sheet)
		}
	}
	return out
}

// Errors lists every per-sheet failure followed by the storage fault, if any.
func (r Report) Errors() []error {
	var out []error
	for _, s := range r.Sheets {
		if s.Err != nil {
			out = append(out, s.Err)
		}
	}
	if r.StoreErr != nil {
		out = append(out, r.StoreErr)
	}
	return out
}

// MapWorkbook maps every category sheet independently. A sheet that is absent
// or lacks a required header contributes no records.
func MapWorkbook(table *mapping.Table, wb *workbook.Workbook) ([]domain.Ticket, []SheetResult) {
	var records []domain.Ticket
	var results []SheetResult
	for _, m := range table.Sheets {
		res := SheetResult{Category: m.Category, Sheet: m.Sheet}
		rows, ok := wb.Sheet(m.Sheet)
		if !ok {
			res.Err = &domain.SchemaMismatchError{Category: m.Category, Sheet: m.Sheet}
			log.Printf("ingest sheet=%s category=%s err=%v", m.Sheet, m.Category, res.Err)
			results = append(results, res)
			continue
		}
		mapped, err := m.Map(rows)
		if err != nil {
			res.Err = err
			log.Printf("ingest sheet=%s category=%s err=%v", m.Sheet, m.Category, err)
			results = append(results, res)
			continue
		}
		res.Records = len(mapped.Tickets)
		res.Skipped = mapped.Skipped
		log.Printf("ingest sheet=%s category=%s records=%d skipped=%d", m.Sheet, m.Category, res.Records, res.Skipped)
		records = append(records, mapped.Tickets...)
		results = append(results, res)
	}
	return records, results
}

// ImportWorkbook maps the workbook and upserts all successfully mapped
// records as one batch. The returned error is non-nil only when nothing
// could be stored: every sheet failed, or the store rejected the batch.
func ImportWorkbook(ctx context.Context, store Upserter, table *mapping.Table, wb *workbook.Workbook) (Report, error) {
	records, sheets := MapWorkbook(table, wb)
	rep := Report{Workbook: wb.Name, Sheets: sheets}

	if len(records) > 0 {
		inserted, updated, err := store.Upsert(ctx, records)
		if err != nil {
			rep.StoreErr = err
			log.Printf("ingest workbook=%s store error: %v", wb.Name, err)
			return rep, fmt.Errorf("import %s: %w", wb.Name, err)
		}
		rep.Inserted, rep.Updated = inserted, updated
	}

	failed := rep.FailedSheets()
	log.Printf("ingest workbook=%s inserted=%d updated=%d failed_sheets=%d", wb.Name, rep.Inserted, rep.Updated, len(failed))
	if len(failed) == len(sheets) && len(sheets) > 0 {
		return rep, fmt.Errorf("import %s: every sheet failed (%s): %w", wb.Name, strings.Join(failed, ", "), errors.Join(rep.Errors()...))
	}
	return rep, nil
}

// ImportFile opens an .xlsx workbook, imports it and records the run in the
// store's import history.
func ImportFile(ctx context.Context, store *sqlite.Store, table *mapping.Table, path string) (Report, error) {
	wb, err := workbook.Open(path)
	if err != nil {
		return Report{Workbook: path}, err
	}
	rep, importErr := ImportWorkbook(ctx, store, table, wb)
	if rep.StoreErr == nil {
		if err := store.RecordImport(ctx, sqlite.ImportRun{
			Workbook:     wb.Name,
			Inserted:     rep.Inserted,
			Updated:      rep.Updated,
			FailedSheets: rep.FailedSheets(),
		}); err != nil {
			log.Printf("ingest record import history error: %v", err)
		}
	}
	return rep, importErr
}
