package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ch-ixbrl/ingest/model"
)

const testSchema = `
CREATE TABLE concepts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	concept_raw TEXT NOT NULL UNIQUE,
	concept TEXT NOT NULL,
	namespace TEXT
);
CREATE TABLE dimension_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	dimensions TEXT NOT NULL,
	pattern_hash TEXT NOT NULL UNIQUE
);
CREATE TABLE context_definitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	period_type TEXT NOT NULL,
	instant_date TEXT,
	start_date TEXT,
	end_date TEXT,
	dimension_pattern_id INTEGER REFERENCES dimension_patterns(id),
	definition_hash TEXT NOT NULL UNIQUE
);
`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache_test.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestResolveConceptInsertsOnceAndCaches(t *testing.T) {
	db := openTestDB(t)
	c, err := Load(context.Background(), db, nil)
	require.NoError(t, err)

	id1, err := c.ResolveConcept(context.Background(), "uk-core:Equity")
	require.NoError(t, err)
	assert.NotZero(t, id1)

	id2, err := c.ResolveConcept(context.Background(), "uk-core:Equity")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM concepts").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestResolveConceptRebuildsFromExistingRows(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec("INSERT INTO concepts (concept_raw, concept, namespace) VALUES ('uk-core:Equity', 'Equity', 'uk-core')")
	require.NoError(t, err)

	c, err := Load(context.Background(), db, nil)
	require.NoError(t, err)

	id, err := c.ResolveConcept(context.Background(), "uk-core:Equity")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestResolveContextInstantNoDimensions(t *testing.T) {
	db := openTestDB(t)
	c, err := Load(context.Background(), db, nil)
	require.NoError(t, err)

	ctx := model.Context{PeriodType: "instant", InstantDate: "2023-02-28"}
	id1, err := c.ResolveContext(context.Background(), ctx)
	require.NoError(t, err)

	id2, err := c.ResolveContext(context.Background(), ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM context_definitions").Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dimension_patterns").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestResolveContextWithDimensionsCreatesPattern(t *testing.T) {
	db := openTestDB(t)
	c, err := Load(context.Background(), db, nil)
	require.NoError(t, err)

	ctx := model.Context{
		PeriodType: "duration",
		StartDate:  "2022-01-01",
		EndDate:    "2022-12-31",
		Dimensions: &model.Dimensions{
			Explicit: []model.ExplicitMember{{Dimension: "uk-bus:EntityOfficersDimension", Member: "uk-bus:Director1Member"}},
		},
	}
	id, err := c.ResolveContext(context.Background(), ctx)
	require.NoError(t, err)
	assert.NotZero(t, id)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM dimension_patterns").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestResolveContextDifferentDimensionsYieldDifferentIDs(t *testing.T) {
	db := openTestDB(t)
	c, err := Load(context.Background(), db, nil)
	require.NoError(t, err)

	base := model.Context{PeriodType: "duration", StartDate: "2022-01-01", EndDate: "2022-12-31"}

	a := base
	a.Dimensions = &model.Dimensions{Explicit: []model.ExplicitMember{{Dimension: "d1", Member: "m1"}}}
	b := base
	b.Dimensions = &model.Dimensions{Explicit: []model.ExplicitMember{{Dimension: "d1", Member: "m2"}}}

	idA, err := c.ResolveContext(context.Background(), a)
	require.NoError(t, err)
	idB, err := c.ResolveContext(context.Background(), b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
}
