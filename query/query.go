// Package query implements the read-only API surface over a loaded
// database: company/filing lookups and fact retrieval. It opens its own
// read-only handle so readers never contend with the bulk-load writer
// path in the store package.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the read-only query handle.
type Store struct {
	db *sql.DB
}

// Open opens path read-only. The caller is expected to point it at a
// database already created (and being written) by store.Open.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("query: open %s read-only: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Company is a row of the companies table.
type Company struct {
	CompanyNumber string
	Name          sql.NullString
	Jurisdiction  sql.NullString
}

// GetCompany looks up a company by its registration number.
func (s *Store) GetCompany(ctx context.Context, companyNumber string) (*Company, error) {
	companyNumber = strings.ToUpper(strings.TrimSpace(companyNumber))
	row := s.db.QueryRowContext(ctx,
		"SELECT company_number, name, jurisdiction FROM companies WHERE company_number = ?", companyNumber)

	var c Company
	if err := row.Scan(&c.CompanyNumber, &c.Name, &c.Jurisdiction); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query: get company %s: %w", companyNumber, err)
	}
	return &c, nil
}

// Filing is a row of the filings table.
type Filing struct {
	ID               int64
	CompanyNumber    string
	BatchID          int64
	SourceFile       string
	SourceType       string
	BalanceSheetDate string
	PeriodStartDate  sql.NullString
	PeriodEndDate    sql.NullString
	LoadedAt         string
}

const filingColumns = `id, company_number, batch_id, source_file, source_type,
	balance_sheet_date, period_start_date, period_end_date, loaded_at`

func scanFiling(row *sql.Row) (*Filing, error) {
	var f Filing
	if err := row.Scan(&f.ID, &f.CompanyNumber, &f.BatchID, &f.SourceFile, &f.SourceType,
		&f.BalanceSheetDate, &f.PeriodStartDate, &f.PeriodEndDate, &f.LoadedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// ListFilingsForCompany returns every filing for a company, ordered by
// balance sheet date descending (most recent first).
func (s *Store) ListFilingsForCompany(ctx context.Context, companyNumber string) ([]Filing, error) {
	companyNumber = strings.ToUpper(strings.TrimSpace(companyNumber))
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+filingColumns+" FROM filings WHERE company_number = ? ORDER BY balance_sheet_date DESC",
		companyNumber)
	if err != nil {
		return nil, fmt.Errorf("query: list filings for %s: %w", companyNumber, err)
	}
	defer rows.Close()

	var out []Filing
	for rows.Next() {
		var f Filing
		if err := rows.Scan(&f.ID, &f.CompanyNumber, &f.BatchID, &f.SourceFile, &f.SourceType,
			&f.BalanceSheetDate, &f.PeriodStartDate, &f.PeriodEndDate, &f.LoadedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFilingBySource looks up a filing by its original archive entry path.
func (s *Store) GetFilingBySource(ctx context.Context, sourceFile string) (*Filing, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+filingColumns+" FROM filings WHERE source_file = ?", sourceFile)
	f, err := scanFiling(row)
	if err != nil {
		return nil, fmt.Errorf("query: get filing by source %s: %w", sourceFile, err)
	}
	return f, nil
}

// NumericFactRow is a resolved numeric fact with its concept and context
// joined in for display.
type NumericFactRow struct {
	ID          int64
	FilingID    int64
	Value       sql.NullString // canonical decimal.Decimal string form, NULL if the fact's text could not be parsed
	Unit        sql.NullString
	Concept     string
	ConceptRaw  string
	Namespace   sql.NullString
	PeriodType  string
	InstantDate sql.NullString
	StartDate   sql.NullString
	EndDate     sql.NullString
	Dimensions  sql.NullString
}

const numericFactQuery = `
	SELECT
		nf.id, nf.filing_id, nf.value, nf.unit,
		c.concept, c.concept_raw, c.namespace,
		cd.period_type, cd.instant_date, cd.start_date, cd.end_date,
		dp.dimensions
	FROM numeric_facts nf
	JOIN concepts c ON nf.concept_id = c.id
	JOIN context_definitions cd ON nf.context_id = cd.id
	LEFT JOIN dimension_patterns dp ON cd.dimension_pattern_id = dp.id
	WHERE nf.filing_id = ?`

// GetNumericFacts returns the numeric facts for a filing, optionally
// filtered to one normalized concept name.
func (s *Store) GetNumericFacts(ctx context.Context, filingID int64, concept string) ([]NumericFactRow, error) {
	query := numericFactQuery
	args := []interface{}{filingID}
	if concept != "" {
		query += " AND c.concept = ?"
		args = append(args, concept)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: get numeric facts for filing %d: %w", filingID, err)
	}
	defer rows.Close()
	return scanNumericFacts(rows)
}

func scanNumericFacts(rows *sql.Rows) ([]NumericFactRow, error) {
	var out []NumericFactRow
	for rows.Next() {
		var r NumericFactRow
		if err := rows.Scan(&r.ID, &r.FilingID, &r.Value, &r.Unit, &r.Concept, &r.ConceptRaw, &r.Namespace,
			&r.PeriodType, &r.InstantDate, &r.StartDate, &r.EndDate, &r.Dimensions); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TextFactRow is a resolved text fact with its concept and context joined
// in for display.
type TextFactRow struct {
	ID          int64
	FilingID    int64
	Value       sql.NullString
	Concept     string
	ConceptRaw  string
	Namespace   sql.NullString
	PeriodType  string
	InstantDate sql.NullString
	StartDate   sql.NullString
	EndDate     sql.NullString
	Dimensions  sql.NullString
}

const textFactQuery = `
	SELECT
		tf.id, tf.filing_id, tf.value,
		c.concept, c.concept_raw, c.namespace,
		cd.period_type, cd.instant_date, cd.start_date, cd.end_date,
		dp.dimensions
	FROM text_facts tf
	JOIN concepts c ON tf.concept_id = c.id
	JOIN context_definitions cd ON tf.context_id = cd.id
	LEFT JOIN dimension_patterns dp ON cd.dimension_pattern_id = dp.id
	WHERE tf.filing_id = ?`

// GetTextFacts returns the text facts for a filing, optionally filtered to
// one normalized concept name.
func (s *Store) GetTextFacts(ctx context.Context, filingID int64, concept string) ([]TextFactRow, error) {
	query := textFactQuery
	args := []interface{}{filingID}
	if concept != "" {
		query += " AND c.concept = ?"
		args = append(args, concept)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: get text facts for filing %d: %w", filingID, err)
	}
	defer rows.Close()

	var out []TextFactRow
	for rows.Next() {
		var r TextFactRow
		if err := rows.Scan(&r.ID, &r.FilingID, &r.Value, &r.Concept, &r.ConceptRaw, &r.Namespace,
			&r.PeriodType, &r.InstantDate, &r.StartDate, &r.EndDate, &r.Dimensions); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FilingDetail is a filing plus every context, unit and fact used by it.
type FilingDetail struct {
	Filing
	CompanyName  sql.NullString
	Units        []string
	NumericFacts []NumericFactRow
	TextFacts    []TextFactRow
}

// GetFilingWithFacts returns a filing with all of its related data in one
// call: the main retrieval function for rendering a complete filing.
func (s *Store) GetFilingWithFacts(ctx context.Context, filingID int64) (*FilingDetail, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+filingColumns+" FROM filings WHERE id = ?", filingID)
	f, err := scanFiling(row)
	if err != nil {
		return nil, fmt.Errorf("query: get filing %d: %w", filingID, err)
	}
	if f == nil {
		return nil, nil
	}

	detail := &FilingDetail{Filing: *f}

	if err := s.db.QueryRowContext(ctx, "SELECT name FROM companies WHERE company_number = ?", f.CompanyNumber).
		Scan(&detail.CompanyName); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("query: get company name for filing %d: %w", filingID, err)
	}

	unitRows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT unit FROM numeric_facts WHERE filing_id = ? AND unit IS NOT NULL", filingID)
	if err != nil {
		return nil, fmt.Errorf("query: get units for filing %d: %w", filingID, err)
	}
	for unitRows.Next() {
		var u string
		if err := unitRows.Scan(&u); err != nil {
			unitRows.Close()
			return nil, err
		}
		detail.Units = append(detail.Units, u)
	}
	unitRows.Close()

	numeric, err := s.db.QueryContext(ctx, numericFactQuery, filingID)
	if err != nil {
		return nil, fmt.Errorf("query: get numeric facts for filing %d: %w", filingID, err)
	}
	detail.NumericFacts, err = scanNumericFacts(numeric)
	numeric.Close()
	if err != nil {
		return nil, err
	}

	detail.TextFacts, err = s.GetTextFacts(ctx, filingID, "")
	if err != nil {
		return nil, err
	}

	return detail, nil
}

// FactsByConceptRow is one numeric fact surfaced by FactsByConcept, joined
// with enough filing/company context for cross-filing analysis queries.
type FactsByConceptRow struct {
	NumericFactRow
	CompanyNumber    string
	BalanceSheetDate string
	CompanyName      sql.NullString
}

// FactsByConcept returns numeric facts for one normalized concept name
// across every loaded filing, for "all TurnoverRevenue values"-style
// analysis queries.
func (s *Store) FactsByConcept(ctx context.Context, concept string, limit int) ([]FactsByConceptRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			nf.id, nf.filing_id, nf.value, nf.unit,
			c.concept, c.concept_raw,
			f.company_number, f.balance_sheet_date,
			co.name,
			cd.period_type, cd.instant_date, cd.start_date, cd.end_date
		FROM numeric_facts nf
		JOIN concepts c ON nf.concept_id = c.id
		JOIN filings f ON nf.filing_id = f.id
		LEFT JOIN companies co ON f.company_number = co.company_number
		JOIN context_definitions cd ON nf.context_id = cd.id
		WHERE c.concept = ?
		LIMIT ?`, concept, limit)
	if err != nil {
		return nil, fmt.Errorf("query: facts by concept %s: %w", concept, err)
	}
	defer rows.Close()

	var out []FactsByConceptRow
	for rows.Next() {
		var r FactsByConceptRow
		if err := rows.Scan(&r.ID, &r.FilingID, &r.Value, &r.Unit, &r.Concept, &r.ConceptRaw,
			&r.CompanyNumber, &r.BalanceSheetDate, &r.CompanyName,
			&r.PeriodType, &r.InstantDate, &r.StartDate, &r.EndDate); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SearchCompanies finds companies whose name matches a SQL LIKE pattern.
func (s *Store) SearchCompanies(ctx context.Context, namePattern string, limit int) ([]Company, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT company_number, name, jurisdiction FROM companies WHERE name LIKE ? LIMIT ?", namePattern, limit)
	if err != nil {
		return nil, fmt.Errorf("query: search companies %q: %w", namePattern, err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.CompanyNumber, &c.Name, &c.Jurisdiction); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BatchStats is one row of batch-level statistics.
type BatchStats struct {
	BatchID         int64
	Filename        string
	DownloadedAt    string
	FileCount       int
	ProcessedAt     sql.NullString
	FilingsCount    int
	CompaniesCount  int
}

// GetBatchStats returns statistics for one batch, or every batch
// (newest first) when batchID is nil.
func (s *Store) GetBatchStats(ctx context.Context, batchID *int64) ([]BatchStats, error) {
	base := `
		SELECT
			b.id, b.filename, b.downloaded_at, b.file_count, b.processed_at,
			COUNT(DISTINCT f.id), COUNT(DISTINCT f.company_number)
		FROM batches b
		LEFT JOIN filings f ON f.batch_id = b.id`

	var rows *sql.Rows
	var err error
	if batchID != nil {
		rows, err = s.db.QueryContext(ctx, base+" WHERE b.id = ? GROUP BY b.id", *batchID)
	} else {
		rows, err = s.db.QueryContext(ctx, base+" GROUP BY b.id ORDER BY b.id DESC")
	}
	if err != nil {
		return nil, fmt.Errorf("query: batch stats: %w", err)
	}
	defer rows.Close()

	var out []BatchStats
	for rows.Next() {
		var b BatchStats
		if err := rows.Scan(&b.BatchID, &b.Filename, &b.DownloadedAt, &b.FileCount, &b.ProcessedAt,
			&b.FilingsCount, &b.CompaniesCount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DatabaseStats holds per-table row counts plus the filing date range,
// used for an at-a-glance health check of a loaded database.
type DatabaseStats struct {
	CompaniesCount          int
	FilingsCount            int
	NumericFactsCount       int
	TextFactsCount          int
	ConceptsCount           int
	DimensionPatternsCount  int
	ContextDefinitionsCount int
	BatchesCount            int
	EarliestFiling          sql.NullString
	LatestFiling            sql.NullString
}

// GetDatabaseStats returns row counts for every table plus the earliest
// and latest balance_sheet_date across all filings.
func (s *Store) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	var stats DatabaseStats
	counts := []struct {
		table string
		dest  *int
	}{
		{"companies", &stats.CompaniesCount},
		{"filings", &stats.FilingsCount},
		{"numeric_facts", &stats.NumericFactsCount},
		{"text_facts", &stats.TextFactsCount},
		{"concepts", &stats.ConceptsCount},
		{"dimension_patterns", &stats.DimensionPatternsCount},
		{"context_definitions", &stats.ContextDefinitionsCount},
		{"batches", &stats.BatchesCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("query: count %s: %w", c.table, err)
		}
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT MIN(balance_sheet_date), MAX(balance_sheet_date) FROM filings").
		Scan(&stats.EarliestFiling, &stats.LatestFiling); err != nil {
		return nil, fmt.Errorf("query: filing date range: %w", err)
	}

	return &stats, nil
}
