package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ch-ixbrl/ingest/store"
)

func seedDatabase(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "query_test.db")

	st, err := store.Open(dbPath, nil)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	batchID, err := st.CreateBatch(ctx, "Prod224_batch.zip", 1)
	require.NoError(t, err)
	require.NoError(t, st.MarkBatchComplete(ctx, batchID))

	_, err = st.UpsertCompany(ctx, "01234567", "EXAMPLE LIMITED")
	require.NoError(t, err)

	_, err = st.DB().Exec("INSERT INTO concepts (concept_raw, concept, namespace) VALUES ('uk-core:Equity', 'Equity', 'uk-core')")
	require.NoError(t, err)
	_, err = st.DB().Exec(
		"INSERT INTO context_definitions (period_type, instant_date, definition_hash) VALUES ('instant', '2023-02-28', 'hash1')")
	require.NoError(t, err)

	filingID, err := st.BulkInsertFiling(ctx, store.FilingRecord{
		CompanyNumber:    "01234567",
		BatchID:          batchID,
		SourceFile:       "Prod224_1234_01234567_20230228.html",
		SourceType:       "ixbrl_html",
		BalanceSheetDate: "2023-02-28",
		NumericFacts: []store.ResolvedNumericFact{
			{ConceptID: 1, ContextID: 1, Unit: "GBP", Value: decimal.RequireFromString("762057"), HasValue: true},
		},
		TextFacts: []store.ResolvedTextFact{
			{ConceptID: 1, ContextID: 1, Value: "EXAMPLE LIMITED"},
		},
	})
	require.NoError(t, err)
	require.NotZero(t, filingID)

	return dbPath
}

func TestGetCompany(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	c, err := q.GetCompany(context.Background(), " 01234567 ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "EXAMPLE LIMITED", c.Name.String)

	none, err := q.GetCompany(context.Background(), "99999999")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListFilingsForCompany(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	filings, err := q.ListFilingsForCompany(context.Background(), "01234567")
	require.NoError(t, err)
	require.Len(t, filings, 1)
	assert.Equal(t, "Prod224_1234_01234567_20230228.html", filings[0].SourceFile)
}

func TestGetFilingBySource(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	f, err := q.GetFilingBySource(context.Background(), "Prod224_1234_01234567_20230228.html")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "01234567", f.CompanyNumber)

	missing, err := q.GetFilingBySource(context.Background(), "does-not-exist.html")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetNumericAndTextFacts(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	f, err := q.GetFilingBySource(context.Background(), "Prod224_1234_01234567_20230228.html")
	require.NoError(t, err)
	require.NotNil(t, f)

	numeric, err := q.GetNumericFacts(context.Background(), f.ID, "")
	require.NoError(t, err)
	require.Len(t, numeric, 1)
	assert.Equal(t, "Equity", numeric[0].Concept)
	assert.Equal(t, "762057", numeric[0].Value.String)

	filtered, err := q.GetNumericFacts(context.Background(), f.ID, "NoSuchConcept")
	require.NoError(t, err)
	assert.Empty(t, filtered)

	text, err := q.GetTextFacts(context.Background(), f.ID, "")
	require.NoError(t, err)
	require.Len(t, text, 1)
	assert.Equal(t, "EXAMPLE LIMITED", text[0].Value.String)
}

func TestGetFilingWithFacts(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	f, err := q.GetFilingBySource(context.Background(), "Prod224_1234_01234567_20230228.html")
	require.NoError(t, err)

	detail, err := q.GetFilingWithFacts(context.Background(), f.ID)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "EXAMPLE LIMITED", detail.CompanyName.String)
	assert.Contains(t, detail.Units, "GBP")
	assert.Len(t, detail.NumericFacts, 1)
	assert.Len(t, detail.TextFacts, 1)
}

func TestFactsByConcept(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	rows, err := q.FactsByConcept(context.Background(), "Equity", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "01234567", rows[0].CompanyNumber)
}

func TestSearchCompanies(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	rows, err := q.SearchCompanies(context.Background(), "%EXAMPLE%", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestGetBatchStatsAndDatabaseStats(t *testing.T) {
	dbPath := seedDatabase(t)
	q, err := Open(dbPath)
	require.NoError(t, err)
	defer q.Close()

	stats, err := q.GetBatchStats(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].FilingsCount)
	assert.Equal(t, 1, stats[0].CompaniesCount)

	dbStats, err := q.GetDatabaseStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dbStats.CompaniesCount)
	assert.Equal(t, 1, dbStats.FilingsCount)
	assert.Equal(t, 1, dbStats.NumericFactsCount)
	assert.Equal(t, 1, dbStats.TextFactsCount)
	assert.Equal(t, "2023-02-28", dbStats.EarliestFiling.String)
	assert.Equal(t, "2023-02-28", dbStats.LatestFiling.String)
}
