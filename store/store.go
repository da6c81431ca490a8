// Package store owns the SQLite schema and every write the pipeline makes:
// filings, resolved facts, batch bookkeeping, and the bulk-load PRAGMA
// lifecycle. Query-side reads live in the sibling query package, opened
// against a separate read-only handle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store is the write-side handle onto the SQLite database: schema
// management, the bulk-load pragma toggle, and the per-filing insert
// statements the orchestrator drives from its single writer goroutine.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. The DSN carries the same WAL/synchronous pragmas the
// gloudx-ues sqlite package applies at Open time; configure_for_bulk_load
// layers additional pragmas on top for the duration of a batch.
func Open(path string, log *logrus.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers; one conn avoids SQLITE_BUSY under our own load

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for callers (the cache, mainly) that
// need direct query access without duplicating Store's statement helpers.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return fmt.Errorf("store: read schema_version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("store: seed schema_version: %w", err)
		}
	}
	return nil
}

// ConfigureForBulkLoad widens SQLite's buffers and disables the
// foreign_keys check for the duration of a batch load. Exact values
// mirror bulk_loader.py's configure_for_bulk_load.
func (s *Store) ConfigureForBulkLoad() error {
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -262144",
		"PRAGMA mmap_size = 1073741824",
		"PRAGMA foreign_keys = OFF",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: %s: %w", stmt, err)
		}
	}
	return nil
}

// RestoreNormalConfig re-enables foreign key checking once a batch
// completes, mirroring restore_normal_config.
func (s *Store) RestoreNormalConfig() error {
	stmts := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: %s: %w", stmt, err)
		}
	}
	return nil
}

// DropBulkLoadIndexes removes the non-unique indexes for the duration of a
// bulk load, recreated afterward by RecreateIndexes.
func (s *Store) DropBulkLoadIndexes() error {
	for _, idx := range bulkLoadIndexes {
		if _, err := s.db.Exec("DROP INDEX IF EXISTS " + idx.name); err != nil {
			return fmt.Errorf("store: drop index %s: %w", idx.name, err)
		}
	}
	if s.log != nil {
		s.log.Infof("dropped %d indexes for bulk load", len(bulkLoadIndexes))
	}
	return nil
}

// RecreateIndexes rebuilds every index DropBulkLoadIndexes removed.
func (s *Store) RecreateIndexes() error {
	for _, idx := range bulkLoadIndexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", idx.name, idx.table, idx.columns)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: create index %s: %w", idx.name, err)
		}
	}
	if s.log != nil {
		s.log.Infof("recreated %d indexes", len(bulkLoadIndexes))
	}
	return nil
}

// CreateBatch inserts a tracking row for one archive load run.
func (s *Store) CreateBatch(ctx context.Context, filename string, fileCount int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO batches (filename, downloaded_at, file_count) VALUES (?, ?, ?)",
		filename, time.Now().UTC().Format(time.RFC3339), fileCount)
	if err != nil {
		return 0, fmt.Errorf("store: create batch: %w", err)
	}
	return res.LastInsertId()
}

// MarkBatchComplete stamps a batch's processed_at timestamp.
func (s *Store) MarkBatchComplete(ctx context.Context, batchID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE batches SET processed_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), batchID)
	if err != nil {
		return fmt.Errorf("store: mark batch %d complete: %w", batchID, err)
	}
	return nil
}

// ExistingSourceFiles returns every source_file already present in the
// filings table, used for duplicate detection before parsing a new batch.
func (s *Store) ExistingSourceFiles(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source_file FROM filings")
	if err != nil {
		return nil, fmt.Errorf("store: load existing source files: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// UpsertCompany inserts a company row if missing, and updates its name if
// one is supplied. Returns the normalized (trimmed, upper-cased) company
// number, or "" if companyNumber was empty.
func (s *Store) UpsertCompany(ctx context.Context, companyNumber, companyName string) (string, error) {
	companyNumber = normalizeCompanyNumber(companyNumber)
	if companyNumber == "" {
		return "", nil
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO companies (company_number) VALUES (?)", companyNumber); err != nil {
		return "", fmt.Errorf("store: upsert company %s: %w", companyNumber, err)
	}

	if companyName != "" {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE companies SET name = ? WHERE company_number = ?", companyName, companyNumber); err != nil {
			return "", fmt.Errorf("store: update company name %s: %w", companyNumber, err)
		}
	}
	return companyNumber, nil
}

func normalizeCompanyNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

// ResolvedNumericFact is a numeric fact once its concept and context have
// been resolved to lookup-table ids and its unit has been resolved against
// the filing's local unit map.
type ResolvedNumericFact struct {
	ConceptID int64
	ContextID int64
	Unit      string // empty when the fact's unitRef was absent or dangling
	Value     decimal.Decimal
	HasValue  bool // false when the fact's text could not be parsed; stored as NULL, not zero
}

// ResolvedTextFact is a text fact once its concept and context have been
// resolved to lookup-table ids.
type ResolvedTextFact struct {
	ConceptID int64
	ContextID int64
	Value     string
}

// FilingRecord is the filing-level data needed to insert one filing plus
// its already-resolved facts.
type FilingRecord struct {
	CompanyNumber    string
	BatchID          int64
	SourceFile       string
	SourceType       string
	BalanceSheetDate string
	PeriodStartDate  string
	PeriodEndDate    string
	NumericFacts     []ResolvedNumericFact
	TextFacts        []ResolvedTextFact
}

// BulkInsertFiling writes one filing row plus all of its resolved facts in
// a single transaction. Callers loading many filings in one run should
// prefer InsertFilingsBatch, which amortizes the commit over a whole batch
// instead of fsyncing once per filing.
func (s *Store) BulkInsertFiling(ctx context.Context, rec FilingRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin filing tx: %w", err)
	}
	defer tx.Rollback()

	filingID, err := insertFiling(ctx, tx, rec)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit filing %s: %w", rec.SourceFile, err)
	}
	return filingID, nil
}

// InsertFilingsBatch writes every filing in recs, plus their resolved
// facts, inside a single transaction committed once at the end instead of
// once per filing. The orchestrator calls this with up to
// Config.CommitBatchSize filings at a time, mirroring bulk_loader.py's
// COMMIT_BATCH_SIZE commit cadence. A failure on any filing rolls back the
// whole batch; the orchestrator then counts every filing in it as failed.
func (s *Store) InsertFilingsBatch(ctx context.Context, recs []FilingRecord) ([]int64, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin filings batch tx: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, len(recs))
	for i, rec := range recs {
		id, err := insertFiling(ctx, tx, rec)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit filings batch of %d: %w", len(recs), err)
	}
	return ids, nil
}

// insertFiling writes one filing row plus its resolved facts using an
// already-open transaction. Shared by BulkInsertFiling (one commit per
// filing) and InsertFilingsBatch (one commit per batch).
func insertFiling(ctx context.Context, tx *sql.Tx, rec FilingRecord) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO filings (
			company_number, batch_id, source_file, source_type,
			balance_sheet_date, period_start_date, period_end_date, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CompanyNumber, rec.BatchID, rec.SourceFile, rec.SourceType,
		orUnknown(rec.BalanceSheetDate), nullIfEmpty(rec.PeriodStartDate), nullIfEmpty(rec.PeriodEndDate),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("store: insert filing %s: %w", rec.SourceFile, err)
	}
	filingID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(rec.NumericFacts) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO numeric_facts (filing_id, concept_id, context_id, unit, value) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return 0, fmt.Errorf("store: prepare numeric_facts insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range rec.NumericFacts {
			if _, err := stmt.ExecContext(ctx, filingID, f.ConceptID, f.ContextID, nullIfEmpty(f.Unit), numericValueOrNull(f)); err != nil {
				return 0, fmt.Errorf("store: insert numeric fact: %w", err)
			}
		}
	}

	if len(rec.TextFacts) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO text_facts (filing_id, concept_id, context_id, value) VALUES (?, ?, ?, ?)")
		if err != nil {
			return 0, fmt.Errorf("store: prepare text_facts insert: %w", err)
		}
		defer stmt.Close()
		for _, f := range rec.TextFacts {
			if _, err := stmt.ExecContext(ctx, filingID, f.ConceptID, f.ContextID, nullIfEmpty(f.Value)); err != nil {
				return 0, fmt.Errorf("store: insert text fact: %w", err)
			}
		}
	}

	return filingID, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func numericValueOrNull(f ResolvedNumericFact) interface{} {
	if !f.HasValue {
		return nil
	}
	return f.Value.String()
}

