package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"ticketlens/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "tickets-test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ticket(no string, cat domain.Category, title string) domain.Ticket {
	return domain.Ticket{TicketNo: no, Category: cat, Title: title, Description: title + " details"}
}

func TestUpsertInsertsThenReplaces(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sla := 30.0
	first := []domain.Ticket{
		ticket("T-2", domain.CategorySystem, "Login fails"),
		ticket("T-1", domain.CategoryHardware, "Printer jam"),
	}
	first[1].ResponseSLA = &sla

	inserted, updated, err := store.Upsert(ctx, first)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if inserted != 2 || updated != 0 {
		t.Fatalf("expected inserted=2 updated=0, got %d/%d", inserted, updated)
	}

	second := []domain.Ticket{
		ticket("T-1", domain.CategoryHardware, "Printer jam again"),
		ticket("T-3", domain.CategoryNetwork, "VPN drop"),
	}
	inserted, updated, err = store.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if inserted != 1 || updated != 1 {
		t.Fatalf("expected inserted=1 updated=1, got %d/%d", inserted, updated)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tickets, got %d", len(all))
	}
	if all[0].TicketNo != "T-1" || all[1].TicketNo != "T-2" || all[2].TicketNo != "T-3" {
		t.Fatalf("expected ticket_no order, got %s,%s,%s", all[0].TicketNo, all[1].TicketNo, all[2].TicketNo)
	}
	if all[0].Title != "Printer jam again" {
		t.Fatalf("expected last write to win, got %q", all[0].Title)
	}
	if all[0].ResponseSLA != nil {
		t.Fatalf("expected replaced record to carry the new null SLA, got %v", *all[0].ResponseSLA)
	}
	if all[0].ImportedAt.IsZero() {
		t.Fatal("expected imported_at to be set")
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	batch := []domain.Ticket{
		ticket("A", domain.CategoryHardware, "one"),
		ticket("B", domain.CategoryService, "two"),
	}
	for i := 0; i < 2; i++ {
		if _, _, err := store.Upsert(ctx, batch); err != nil {
			t.Fatalf("Upsert #%d failed: %v", i, err)
		}
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected cardinality 2 after re-ingest, got %d", n)
	}
}

func TestUpsertCollapsesDuplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	inserted, updated, err := store.Upsert(ctx, []domain.Ticket{
		ticket("D", domain.CategoryHardware, "first"),
		ticket("D", domain.CategoryHardware, "second"),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if inserted != 1 || updated != 0 {
		t.Fatalf("expected inserted=1 updated=0, got %d/%d", inserted, updated)
	}
	all, _ := store.All(ctx)
	if len(all) != 1 || all[0].Title != "second" {
		t.Fatalf("expected last occurrence to win, got %+v", all)
	}
}

func TestUpsertRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, _, err := store.Upsert(ctx, []domain.Ticket{ticket("", domain.CategoryHardware, "x")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty ticket_no, got %v", err)
	}
	_, _, err = store.Upsert(ctx, []domain.Ticket{ticket("X", "software", "x")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown category, got %v", err)
	}
	_, _, err = store.Upsert(ctx, []domain.Ticket{ticket("X", "Hardware", "x")})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for non-canonical category, got %v", err)
	}
	counts, err := store.CountByCategory(ctx)
	if err != nil {
		t.Fatalf("CountByCategory failed: %v", err)
	}
	if len(counts) != len(domain.Categories()) {
		t.Fatalf("expected only the closed category set, got %v", counts)
	}
}

func TestUpsertFaultLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, _, err := store.Upsert(ctx, []domain.Ticket{ticket("KEEP", domain.CategoryHardware, "original")}); err != nil {
		t.Fatalf("seed Upsert failed: %v", err)
	}

	_, err := store.DB().Exec(`
		CREATE TRIGGER fail_boom BEFORE INSERT ON tickets
		WHEN NEW.ticket_no = 'BOOM'
		BEGIN SELECT RAISE(ABORT, 'simulated disk fault'); END;`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	_, _, err = store.Upsert(ctx, []domain.Ticket{
		ticket("KEEP", domain.CategoryHardware, "changed"),
		ticket("NEW", domain.CategorySystem, "new"),
		ticket("BOOM", domain.CategorySystem, "boom"),
	})
	if !errors.Is(err, domain.ErrStorageFault) {
		t.Fatalf("expected storage fault, got %v", err)
	}
	var sf *domain.StorageFaultError
	if !errors.As(err, &sf) || sf.TicketNo != "BOOM" {
		t.Fatalf("expected fault to name ticket BOOM, got %v", err)
	}

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 || all[0].Title != "original" {
		t.Fatalf("expected store unchanged after fault, got %+v", all)
	}
}

func TestCountByCategoryZeroFills(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, _, err := store.Upsert(ctx, []domain.Ticket{
		ticket("H1", domain.CategoryHardware, "a"),
		ticket("H2", domain.CategoryHardware, "b"),
		ticket("N1", domain.CategoryNetwork, "c"),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	counts, err := store.CountByCategory(ctx)
	if err != nil {
		t.Fatalf("CountByCategory failed: %v", err)
	}
	want := map[domain.Category]int{
		domain.CategoryHardware: 2,
		domain.CategorySystem:   0,
		domain.CategoryService:  0,
		domain.CategoryNetwork:  1,
	}
	for c, n := range want {
		got, ok := counts[c]
		if !ok || got != n {
			t.Fatalf("count[%s] = %d (present=%v), want %d", c, got, ok, n)
		}
	}
}

func TestSnapshotIsolatedFromLaterUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if _, _, err := store.Upsert(ctx, []domain.Ticket{ticket("S1", domain.CategoryService, "before")}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	snap, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if _, _, err := store.Upsert(ctx, []domain.Ticket{
		ticket("S1", domain.CategoryService, "after"),
		ticket("S2", domain.CategoryService, "added"),
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(snap) != 1 || snap[0].Title != "before" {
		t.Fatalf("snapshot changed after upsert: %+v", snap)
	}
}

func TestConcurrentUpsertsAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batch := []domain.Ticket{
				ticket("SHARED", domain.CategoryHardware, "writer"),
				ticket(string(rune('a'+i)), domain.CategoryNetwork, "own"),
			}
			if _, _, err := store.Upsert(ctx, batch); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Upsert failed: %v", err)
	}
	n, _ := store.Count(ctx)
	if n != 9 {
		t.Fatalf("expected 9 tickets, got %d", n)
	}
}

func TestImportHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.RecordImport(ctx, ImportRun{Workbook: "jan.xlsx", Inserted: 5, FailedSheets: []string{"服务工单", "网络工单"}}); err != nil {
		t.Fatalf("RecordImport failed: %v", err)
	}
	if err := store.RecordImport(ctx, ImportRun{Workbook: "feb.xlsx", Inserted: 1, Updated: 4}); err != nil {
		t.Fatalf("RecordImport failed: %v", err)
	}
	runs, err := store.RecentImports(ctx, 10)
	if err != nil {
		t.Fatalf("RecentImports failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Workbook != "feb.xlsx" || runs[0].Updated != 4 {
		t.Fatalf("expected newest run first, got %+v", runs[0])
	}
	if len(runs[1].FailedSheets) != 2 {
		t.Fatalf("expected failed sheets to round trip, got %v", runs[1].FailedSheets)
	}
}
