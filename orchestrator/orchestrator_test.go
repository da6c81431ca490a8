package orchestrator

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ch-ixbrl/ingest/cache"
	"github.com/ch-ixbrl/ingest/config"
	"github.com/ch-ixbrl/ingest/store"
)

func TestCompanyNumberFromPath(t *testing.T) {
	cases := map[string]string{
		"Prod224_3001_01234567_20230101.html":        "01234567",
		"Prod224_3001_01234567_20230101":              "01234567",
		"short_file.html":                             "",
		"outer.zip!Prod224_3001_01234567_20230101.html": "01234567",
	}
	for in, want := range cases {
		assert.Equal(t, want, companyNumberFromPath(in), in)
	}
}

const fixtureFiling = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns:ix="http://www.xbrl.org/2013/inlineXBRL" xmlns:xbrli="http://www.xbrl.org/2003/instance">
<body>
<xbrli:context id="c1">
  <xbrli:entity><xbrli:identifier scheme="http://www.companieshouse.gov.uk/">01234567</xbrli:identifier></xbrli:entity>
  <xbrli:period><xbrli:instant>2023-02-28</xbrli:instant></xbrli:period>
</xbrli:context>
<xbrli:unit id="u1"><xbrli:measure>iso4217:GBP</xbrli:measure></xbrli:unit>
<ix:nonFraction name="uk-core:Equity" contextRef="c1" unitRef="u1">762,057</ix:nonFraction>
<ix:nonNumeric name="uk-core:UKCompaniesHouseRegisteredNumber" contextRef="c1">01234567</ix:nonNumeric>
<ix:nonNumeric name="uk-core:EntityCurrentLegalOrRegisteredName" contextRef="c1">EXAMPLE LIMITED</ix:nonNumeric>
</body>
</html>`

func writeFixtureZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c, err := cache.Load(context.Background(), st.DB(), nil)
	require.NoError(t, err)

	cfg := config.Default(dbPath)
	cfg.ChunkSize = 1
	cfg.Workers = 2
	return New(cfg, st, c, nil), st
}

func TestRunSequentialLoadsFilingsAndSkipsDuplicatesOnRerun(t *testing.T) {
	zipPath := writeFixtureZip(t, map[string]string{
		"Prod224_1234_01234567_20230228.html": fixtureFiling,
	})
	orch, _ := newTestOrchestrator(t)

	result, err := orch.RunSequential(context.Background(), zipPath)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesTotal)
	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 0, result.FilesFailed)
	assert.False(t, result.Interrupted)

	result2, err := orch.RunSequential(context.Background(), zipPath)
	require.NoError(t, err)
	assert.Equal(t, 1, result2.FilesSkipped)
	assert.Equal(t, 0, result2.FilesProcessed)
}

func TestRunParallelLoadsFilings(t *testing.T) {
	zipPath := writeFixtureZip(t, map[string]string{
		"Prod224_1234_01234567_20230228.html": fixtureFiling,
		"Prod224_1234_07654321_20230228.xml":  fixtureFiling,
	})
	orch, _ := newTestOrchestrator(t)

	result, err := orch.RunParallel(context.Background(), zipPath)
	require.NoError(t, err)
	assert.Equal(t, 2, result.FilesTotal)
	assert.Equal(t, 2, result.FilesProcessed)
}

func TestRunSequentialInterruptLeavesBatchIncomplete(t *testing.T) {
	zipPath := writeFixtureZip(t, map[string]string{
		"Prod224_1234_01234567_20230228.html": fixtureFiling,
		"Prod224_1234_07654321_20230228.html": fixtureFiling,
	})
	orch, st := newTestOrchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: the first chunk still runs, then run() observes ctx.Err()

	result, err := orch.RunSequential(ctx, zipPath)
	require.NoError(t, err)
	assert.True(t, result.Interrupted)

	var processedAt *string
	require.NoError(t, st.DB().QueryRow(
		"SELECT processed_at FROM batches WHERE id = ?", result.BatchID).Scan(&processedAt))
	assert.Nil(t, processedAt)
}

func TestParseJobExpandsCICZip(t *testing.T) {
	var innerBuf []byte
	innerPath := filepath.Join(t.TempDir(), "inner.zip")
	f, err := os.Create(innerPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("company1.html")
	require.NoError(t, err)
	_, err = w.Write([]byte(fixtureFiling))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	innerBuf, err = os.ReadFile(innerPath)
	require.NoError(t, err)

	orch, _ := newTestOrchestrator(t)
	results := orch.parseJob(archiveJob{
		sourceFile: "Prod224_cic.zip",
		sourceType: "cic_zip",
		content:    innerBuf,
	})
	require.Len(t, results, 1)
	assert.Equal(t, "Prod224_cic.zip!company1.html", results[0].sourceFile)
	require.NoError(t, results[0].err)
}
