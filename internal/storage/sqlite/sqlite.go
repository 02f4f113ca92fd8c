package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ticketlens/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	ticket_no         TEXT PRIMARY KEY,
	status            TEXT NOT NULL DEFAULT '',
	type              TEXT NOT NULL DEFAULT '',
	project_name      TEXT NOT NULL DEFAULT '',
	title             TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	resolve_method    TEXT NOT NULL DEFAULT '',
	level             TEXT NOT NULL DEFAULT '',
	response_sla      REAL,
	process_duration  REAL,
	complete_duration REAL,
	category          TEXT NOT NULL,
	imported_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_category ON tickets(category);

CREATE TABLE IF NOT EXISTS import_runs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	workbook      TEXT NOT NULL DEFAULT '',
	inserted      INTEGER NOT NULL DEFAULT 0,
	updated       INTEGER NOT NULL DEFAULT 0,
	failed_sheets TEXT NOT NULL DEFAULT '',
	imported_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_import_runs_date ON import_runs(imported_at);
`

func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// Store owns ticket records. Upsert batches are serialized by mu; readers
// never take it and see the last committed state.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, &domain.StorageFaultError{Op: "open", Err: err}
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Upsert writes the batch in a single transaction. A ticket_no already in
// the store is replaced (last write wins). Within one batch the last
// occurrence of a ticket_no wins as well.
func (s *Store) Upsert(ctx context.Context, records []domain.Ticket) (inserted, updated int, err error) {
	batch, err := collapseBatch(records)
	if err != nil {
		return 0, 0, err
	}
	if len(batch) == 0 {
		return 0, 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, &domain.StorageFaultError{Op: "upsert", Err: err}
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx, `SELECT COUNT(*) FROM tickets WHERE ticket_no = ?`)
	if err != nil {
		return 0, 0, &domain.StorageFaultError{Op: "upsert", Err: err}
	}
	defer exists.Close()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tickets (ticket_no, status, type, project_name, title, description, resolve_method, level,
		                      response_sla, process_duration, complete_duration, category, imported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ticket_no) DO UPDATE SET
		   status = excluded.status,
		   type = excluded.type,
		   project_name = excluded.project_name,
		   title = excluded.title,
		   description = excluded.description,
		   resolve_method = excluded.resolve_method,
		   level = excluded.level,
		   response_sla = excluded.response_sla,
		   process_duration = excluded.process_duration,
		   complete_duration = excluded.complete_duration,
		   category = excluded.category,
		   imported_at = excluded.imported_at`,
	)
	if err != nil {
		return 0, 0, &domain.StorageFaultError{Op: "upsert", Err: err}
	}
	defer stmt.Close()

	importedAt := s.now()
	for _, t := range batch {
		var n int
		if err := exists.QueryRowContext(ctx, t.TicketNo).Scan(&n); err != nil {
			return 0, 0, &domain.StorageFaultError{Op: "upsert", TicketNo: t.TicketNo, Err: err}
		}
		if _, err := stmt.ExecContext(ctx,
			t.TicketNo, t.Status, t.Type, t.ProjectName, t.Title, t.Description, t.ResolveMethod, t.Level,
			nullFloat(t.ResponseSLA), nullFloat(t.ProcessDuration), nullFloat(t.CompleteDuration),
			string(t.Category), importedAt,
		); err != nil {
			return 0, 0, &domain.StorageFaultError{Op: "upsert", TicketNo: t.TicketNo, Err: err}
		}
		if n > 0 {
			updated++
		} else {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, &domain.StorageFaultError{Op: "upsert", Err: err}
	}
	log.Printf("store upsert batch=%d inserted=%d updated=%d", len(batch), inserted, updated)
	return inserted, updated, nil
}

func collapseBatch(records []domain.Ticket) ([]domain.Ticket, error) {
	pos := make(map[string]int, len(records))
	var out []domain.Ticket
	for i, t := range records {
		t.TicketNo = strings.TrimSpace(t.TicketNo)
		if t.TicketNo == "" {
			return nil, &domain.ValidationError{Field: "ticket_no", Msg: fmt.Sprintf("record %d has an empty ticket number", i)}
		}
		if c, err := domain.ParseCategory(string(t.Category)); err != nil || c != t.Category {
			return nil, &domain.ValidationError{Field: "category", Msg: fmt.Sprintf("ticket %s has unknown category %q", t.TicketNo, t.Category)}
		}
		if p, ok := pos[t.TicketNo]; ok {
			out[p] = t
			continue
		}
		pos[t.TicketNo] = len(out)
		out = append(out, t)
	}
	return out, nil
}

// All returns a snapshot of every ticket ordered by ticket_no. The slice is
// owned by the caller; later upserts are not reflected in it.
func (s *Store) All(ctx context.Context) ([]domain.Ticket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.StorageFaultError{Op: "snapshot", Err: err}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT ticket_no, status, type, project_name, title, description, resolve_method, level,
		        response_sla, process_duration, complete_duration, category, imported_at
		 FROM tickets ORDER BY ticket_no`,
	)
	if err != nil {
		return nil, &domain.StorageFaultError{Op: "snapshot", Err: err}
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		var category string
		var sla, process, complete sql.NullFloat64
		if err := rows.Scan(
			&t.TicketNo, &t.Status, &t.Type, &t.ProjectName, &t.Title, &t.Description,
			&t.ResolveMethod, &t.Level, &sla, &process, &complete, &category, &t.ImportedAt,
		); err != nil {
			return nil, &domain.StorageFaultError{Op: "snapshot", Err: err}
		}
		t.Category = domain.Category(category)
		t.ResponseSLA = floatPtr(sla)
		t.ProcessDuration = floatPtr(process)
		t.CompleteDuration = floatPtr(complete)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageFaultError{Op: "snapshot", Err: err}
	}
	return out, nil
}

// CountByCategory returns a count for every category, zero-filled.
func (s *Store) CountByCategory(ctx context.Context) (map[domain.Category]int, error) {
	out := make(map[domain.Category]int)
	for _, c := range domain.Categories() {
		out[c] = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM tickets GROUP BY category`)
	if err != nil {
		return nil, &domain.StorageFaultError{Op: "count", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var c string
		var n int
		if err := rows.Scan(&c, &n); err != nil {
			return nil, &domain.StorageFaultError{Op: "count", Err: err}
		}
		out[domain.Category(c)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageFaultError{Op: "count", Err: err}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&n); err != nil {
		return 0, &domain.StorageFaultError{Op: "count", Err: err}
	}
	return n, nil
}

// --- Import history ---

type ImportRun struct {
	ID           int64
	Workbook     string
	Inserted     int
	Updated      int
	FailedSheets []string
	ImportedAt   time.Time
}

func (s *Store) RecordImport(ctx context.Context, run ImportRun) error {
	failed := append([]string(nil), run.FailedSheets...)
	sort.Strings(failed)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (workbook, inserted, updated, failed_sheets, imported_at) VALUES (?, ?, ?, ?, ?)`,
		run.Workbook, run.Inserted, run.Updated, strings.Join(failed, ","), s.now(),
	)
	if err != nil {
		return &domain.StorageFaultError{Op: "record import", Err: err}
	}
	return nil
}

func (s *Store) RecentImports(ctx context.Context, limit int) ([]ImportRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workbook, inserted, updated, failed_sheets, imported_at
		 FROM import_runs ORDER BY imported_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, &domain.StorageFaultError{Op: "list imports", Err: err}
	}
	defer rows.Close()

	var out []ImportRun
	for rows.Next() {
		var r ImportRun
		var failed string
		if err := rows.Scan(&r.ID, &r.Workbook, &r.Inserted, &r.Updated, &failed, &r.ImportedAt); err != nil {
			return nil, &domain.StorageFaultError{Op: "list imports", Err: err}
		}
		if failed != "" {
			r.FailedSheets = strings.Split(failed, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
