package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"ticketlens/internal/domain"
	"ticketlens/internal/mapping"
	"ticketlens/internal/storage/sqlite"
	"ticketlens/internal/workbook"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ingest-test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func defaultTable(t *testing.T) *mapping.Table {
	t.Helper()
	table, err := mapping.Default()
	if err != nil {
		t.Fatalf("mapping.Default failed: %v", err)
	}
	return table
}

func headerFor(table *mapping.Table, c domain.Category) []string {
	m, _ := table.ForCategory(c)
	var h []string
	for _, col := range m.Columns {
		h = append(h, col.Header)
	}
	return h
}

// buildWorkbook returns a workbook with n rows per category. Ticket numbers
// are prefixed with the category so they are unique across sheets.
func buildWorkbook(table *mapping.Table, counts map[domain.Category]int) *workbook.Workbook {
	wb := &workbook.Workbook{Name: "fixture.xlsx", Sheets: make(map[string][][]string)}
	for _, m := range table.Sheets {
		rows := [][]string{headerFor(table, m.Category)}
		for i := 0; i < counts[m.Category]; i++ {
			rows = append(rows, []string{
				fmt.Sprintf("%s-%03d", m.Category, i), "Open", "Incident", "Line 1",
				fmt.Sprintf("%s issue %d", m.Category, i), "station robot fault", "", "P3", "10", "20", "x",
			})
		}
		wb.Order = append(wb.Order, m.Sheet)
		wb.Sheets[m.Sheet] = rows
	}
	return wb
}

func TestImportWorkbookOneRecordPerRowWithCategory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	table := defaultTable(t)
	counts := map[domain.Category]int{
		domain.CategoryHardware: 3,
		domain.CategorySystem:   2,
		domain.CategoryService:  0,
		domain.CategoryNetwork:  1,
	}
	wb := buildWorkbook(table, counts)
	// a blank row in the middle of a sheet is not a ticket
	wb.Sheets["硬件工单"] = append(wb.Sheets["硬件工单"], []string{"", "", ""})

	rep, err := ImportWorkbook(ctx, store, table, wb)
	if err != nil {
		t.Fatalf("ImportWorkbook failed: %v", err)
	}
	if rep.Inserted != 6 || rep.Updated != 0 {
		t.Fatalf("expected inserted=6 updated=0, got %d/%d", rep.Inserted, rep.Updated)
	}
	if len(rep.Errors()) != 0 {
		t.Fatalf("unexpected errors: %v", rep.Errors())
	}

	got, err := store.CountByCategory(ctx)
	if err != nil {
		t.Fatalf("CountByCategory failed: %v", err)
	}
	for c, n := range counts {
		if got[c] != n {
			t.Fatalf("count[%s] = %d, want %d", c, got[c], n)
		}
	}

	all, _ := store.All(ctx)
	for _, tk := range all {
		want := domain.Category(tk.TicketNo[:len(tk.TicketNo)-4])
		if tk.Category != want {
			t.Fatalf("ticket %s has category %s, want %s", tk.TicketNo, tk.Category, want)
		}
		if tk.CompleteDuration != nil {
			t.Fatalf("ticket %s expected nil complete duration", tk.TicketNo)
		}
	}
}

func TestImportWorkbookTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	table := defaultTable(t)
	wb := buildWorkbook(table, map[domain.Category]int{domain.CategoryHardware: 2, domain.CategoryNetwork: 2})

	if _, err := ImportWorkbook(ctx, store, table, wb); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	rep, err := ImportWorkbook(ctx, store, table, wb)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if rep.Inserted != 0 || rep.Updated != 4 {
		t.Fatalf("expected inserted=0 updated=4 on re-import, got %d/%d", rep.Inserted, rep.Updated)
	}
	n, _ := store.Count(ctx)
	if n != 4 {
		t.Fatalf("expected cardinality 4, got %d", n)
	}
}

func TestImportWorkbookIsolatesBadSheet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	table := defaultTable(t)
	wb := buildWorkbook(table, map[domain.Category]int{
		domain.CategoryHardware: 2,
		domain.CategorySystem:   2,
		domain.CategoryNetwork:  1,
	})
	// drop the title header from the system sheet
	sys := wb.Sheets["系统工单"]
	sys[0] = append(append([]string{}, sys[0][:4]...), sys[0][5:]...)
	// and remove the service sheet entirely
	delete(wb.Sheets, "服务工单")

	rep, err := ImportWorkbook(ctx, store, table, wb)
	if err != nil {
		t.Fatalf("ImportWorkbook should partially succeed, got %v", err)
	}
	failed := rep.FailedSheets()
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed sheets, got %v", failed)
	}
	for _, s := range rep.Sheets {
		switch s.Category {
		case domain.CategorySystem, domain.CategoryService:
			if !errors.Is(s.Err, domain.ErrSchemaMismatch) {
				t.Fatalf("sheet %s: expected schema mismatch, got %v", s.Sheet, s.Err)
			}
		default:
			if s.Err != nil {
				t.Fatalf("sheet %s: unexpected error %v", s.Sheet, s.Err)
			}
		}
	}

	counts, _ := store.CountByCategory(ctx)
	if counts[domain.CategorySystem] != 0 {
		t.Fatalf("expected no system rows, got %d", counts[domain.CategorySystem])
	}
	if counts[domain.CategoryHardware] != 2 || counts[domain.CategoryNetwork] != 1 {
		t.Fatalf("expected other sheets stored, got %v", counts)
	}
}

func TestImportWorkbookAllSheetsFail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	table := defaultTable(t)
	wb := &workbook.Workbook{Name: "wrong.xlsx", Sheets: map[string][][]string{"Sheet1": {{"a", "b"}}}}

	rep, err := ImportWorkbook(ctx, store, table, wb)
	if err == nil {
		t.Fatal("expected error when every sheet fails")
	}
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Fatalf("expected joined schema mismatch errors, got %v", err)
	}
	if len(rep.FailedSheets()) != 4 {
		t.Fatalf("expected 4 failed sheets, got %v", rep.FailedSheets())
	}
}

type faultyStore struct{}

func (faultyStore) Upsert(context.Context, []domain.Ticket) (int, int, error) {
	return 0, 0, &domain.StorageFaultError{Op: "upsert", Err: errors.New("disk full")}
}

func TestImportWorkbookStorageFault(t *testing.T) {
	table := defaultTable(t)
	wb := buildWorkbook(table, map[domain.Category]int{domain.CategoryHardware: 1})
	rep, err := ImportWorkbook(context.Background(), faultyStore{}, table, wb)
	if !errors.Is(err, domain.ErrStorageFault) {
		t.Fatalf("expected storage fault, got %v", err)
	}
	if rep.StoreErr == nil || rep.Inserted != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestImportFileFromXLSX(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	table := defaultTable(t)
	wb := buildWorkbook(table, map[domain.Category]int{domain.CategoryHardware: 1, domain.CategoryService: 2})

	path := filepath.Join(t.TempDir(), "tickets.xlsx")
	if err := workbook.Write(path, wb.Order, wb.Sheets); err != nil {
		t.Fatalf("workbook.Write failed: %v", err)
	}

	rep, err := ImportFile(ctx, store, table, path)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if rep.Inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", rep.Inserted)
	}
	runs, err := store.RecentImports(ctx, 5)
	if err != nil {
		t.Fatalf("RecentImports failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Inserted != 3 {
		t.Fatalf("expected import run recorded, got %+v", runs)
	}
}

func TestImportWithCustomMappingKeepsClosedCategories(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	path := filepath.Join(t.TempDir(), "custom.yaml")
	content := "version: 1\nsheets:\n  - {category: Hardware, sheet: HW, columns: [{header: ID, field: ticket_no}, {header: Summary, field: title}]}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write mapping: %v", err)
	}
	table, err := mapping.Load(path)
	if err != nil {
		t.Fatalf("mapping.Load failed: %v", err)
	}
	wb := &workbook.Workbook{
		Name:   "custom.xlsx",
		Order:  []string{"HW"},
		Sheets: map[string][][]string{"HW": {{"ID", "Summary"}, {"H1", "Printer jam"}}},
	}
	if _, err := ImportWorkbook(ctx, store, table, wb); err != nil {
		t.Fatalf("ImportWorkbook failed: %v", err)
	}

	counts, err := store.CountByCategory(ctx)
	if err != nil {
		t.Fatalf("CountByCategory failed: %v", err)
	}
	if len(counts) != len(domain.Categories()) || counts[domain.CategoryHardware] != 1 {
		t.Fatalf("expected one hardware ticket in the closed set, got %v", counts)
	}
	all, err := store.All(ctx)
	if err != nil || len(all) != 1 || all[0].Category != domain.CategoryHardware {
		t.Fatalf("expected stored category %q, got %+v err=%v", domain.CategoryHardware, all, err)
	}
}
