// Package orchestrator drives one archive load run end to end: it opens
// the ZIP, splits its entries into chunks, parses each chunk (in parallel
// via a worker pool, or sequentially for --sequential debug runs), and
// feeds parsed filings to a single writer path that resolves ids through
// the cache and commits through the store. Parallel parsing and
// sequential-debug parsing are kept as two distinct entry points —
// RunParallel and RunSequential — mirroring load_batch/load_batch_sequential
// being separate functions in the reference loader rather than one
// function with a runtime branch.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alitto/pond"
	"github.com/sirupsen/logrus"

	"github.com/ch-ixbrl/ingest/archive"
	"github.com/ch-ixbrl/ingest/cache"
	"github.com/ch-ixbrl/ingest/config"
	"github.com/ch-ixbrl/ingest/ixbrl"
	"github.com/ch-ixbrl/ingest/model"
	"github.com/ch-ixbrl/ingest/normalize"
	"github.com/ch-ixbrl/ingest/store"
)

// BatchResult summarizes the outcome of one archive load run.
type BatchResult struct {
	BatchID        int64
	Filename       string
	FilesTotal     int
	FilesProcessed int
	FilesFailed    int
	FilesSkipped   int
	Errors         []string
	Interrupted    bool
}

func (r *BatchResult) addError(sourceFile string, err error) {
	r.FilesFailed++
	if len(r.Errors) < 100 {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", sourceFile, err))
	}
}

// Orchestrator wires together the store, cache and parser for a single
// load run. It owns no goroutines itself; RunParallel/RunSequential each
// build and tear down their own.
type Orchestrator struct {
	cfg    *config.Config
	store  *store.Store
	cache  *cache.Cache
	parser *ixbrl.Parser
	log    *logrus.Logger
}

// New builds an Orchestrator ready to run a batch.
func New(cfg *config.Config, st *store.Store, c *cache.Cache, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  st,
		cache:  c,
		parser: ixbrl.New(log),
		log:    log,
	}
}

// parseResult is one parsed document ready for insertion, keyed by the
// (possibly synthetic outer!inner) source path it was read from.
type parseResult struct {
	sourceFile string
	sourceType archive.SourceType
	parsed     *model.ParsedFiling
	err        error
}

// archiveJob is one unit of parse work: an entry's path, already-read
// bytes, and its classified type.
type archiveJob struct {
	sourceFile string
	sourceType archive.SourceType
	content    []byte
}

// RunParallel loads zipPath using a pond worker pool sized to
// cfg.Workers for the CPU-bound parse step, with a single goroutine
// draining results and performing every store/cache write in order.
func (o *Orchestrator) RunParallel(ctx context.Context, zipPath string) (*BatchResult, error) {
	return o.run(ctx, zipPath, func(jobs []archiveJob) []parseResult {
		pool := pond.New(o.cfg.Workers, 0, pond.MinWorkers(1))
		results := make(chan []parseResult, len(jobs))

		for _, job := range jobs {
			job := job
			pool.Submit(func() {
				results <- o.parseJob(job)
			})
		}
		pool.StopAndWait()
		close(results)

		var out []parseResult
		for rs := range results {
			out = append(out, rs...)
		}
		return out
	})
}

// RunSequential loads zipPath without a worker pool, parsing the entries
// of each chunk one at a time on the calling goroutine. Used for the --sequential debug flag and when
// deterministic ordering matters more than throughput.
func (o *Orchestrator) RunSequential(ctx context.Context, zipPath string) (*BatchResult, error) {
	return o.run(ctx, zipPath, func(jobs []archiveJob) []parseResult {
		var out []parseResult
		for _, job := range jobs {
			out = append(out, o.parseJob(job)...)
		}
		return out
	})
}

// run contains the chunked batch loop shared by both entry points: open
// the archive, create the batch record, load existing source files for
// duplicate detection, then process entries chunk_size at a time so peak
// memory stays bounded regardless of archive size.
func (o *Orchestrator) run(ctx context.Context, zipPath string, parseChunk func([]archiveJob) []parseResult) (*BatchResult, error) {
	reader, closer, err := archive.Open(zipPath)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	entries := reader.Entries()
	filename := filepath.Base(zipPath)

	if err := o.store.ConfigureForBulkLoad(); err != nil {
		return nil, err
	}
	if err := o.store.DropBulkLoadIndexes(); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.store.RecreateIndexes(); err != nil && o.log != nil {
			o.log.Warnf("recreate indexes: %v", err)
		}
		if err := o.store.RestoreNormalConfig(); err != nil && o.log != nil {
			o.log.Warnf("restore normal config: %v", err)
		}
	}()

	// writeCtx, not ctx, backs every store/cache write. ctx carries the
	// SIGINT cancellation signal checked at the chunk boundary below; if
	// it were threaded into database/sql calls directly, the in-flight
	// chunk's writes would abort with context.Canceled the instant the
	// signal fires instead of finishing and committing.
	writeCtx := context.Background()

	batchID, err := o.store.CreateBatch(writeCtx, filename, len(entries))
	if err != nil {
		return nil, err
	}

	existing, err := o.store.ExistingSourceFiles(writeCtx)
	if err != nil {
		return nil, err
	}
	if o.log != nil {
		o.log.Infof("duplicate detection: %d existing filings in database", len(existing))
	}

	result := &BatchResult{BatchID: batchID, Filename: filename, FilesTotal: len(entries)}

	chunkSize := o.cfg.ChunkSize
	for start := 0; start < len(entries); start += chunkSize {
		end := start + chunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		var jobs []archiveJob
		for _, e := range chunk {
			if e.SourceType != archive.SourceCICZip && existing[e.Path] {
				result.FilesSkipped++
				continue
			}
			content, err := e.Open()
			if err != nil {
				result.addError(e.Path, err)
				continue
			}
			jobs = append(jobs, archiveJob{sourceFile: e.Path, sourceType: e.SourceType, content: content})
		}

		parsed := parseChunk(jobs)

		pending := make([]store.FilingRecord, 0, o.cfg.CommitBatchSize)
		flush := func() {
			if len(pending) == 0 {
				return
			}
			if _, err := o.store.InsertFilingsBatch(writeCtx, pending); err != nil {
				for _, rec := range pending {
					result.addError(rec.SourceFile, err)
				}
			} else {
				for _, rec := range pending {
					existing[rec.SourceFile] = true
					result.FilesProcessed++
				}
			}
			pending = pending[:0]
		}

		for _, pr := range parsed {
			if existing[pr.sourceFile] {
				result.FilesSkipped++
				continue
			}
			if pr.err != nil {
				result.addError(pr.sourceFile, pr.err)
				continue
			}
			rec, err := o.resolveParsedFiling(writeCtx, batchID, pr)
			if err != nil {
				result.addError(pr.sourceFile, err)
				continue
			}
			pending = append(pending, rec)
			if len(pending) >= o.cfg.CommitBatchSize {
				flush()
			}
		}
		flush()

		if o.log != nil {
			o.log.Infof("chunk %d-%d: %d/%d files (%d processed, %d skipped)",
				start+1, end, end, result.FilesTotal, result.FilesProcessed, result.FilesSkipped)
		}

		if ctx.Err() != nil {
			// First interrupt: the current chunk has already been
			// committed above (via writeCtx, never the cancelled ctx), so
			// it's safe to stop here. Indexes and bulk-load pragmas are
			// still restored by the deferred cleanup; the batch is left
			// without a processed_at, marking it incomplete, and a rerun's
			// duplicate detection skips the filings already committed.
			result.Interrupted = true
			if o.log != nil {
				o.log.Warnf("interrupted after %d/%d files, batch %d left incomplete", end, result.FilesTotal, batchID)
			}
			return result, nil
		}
	}

	if err := o.store.MarkBatchComplete(writeCtx, batchID); err != nil {
		return nil, err
	}
	if o.log != nil {
		o.log.Infof("batch complete: %d processed, %d skipped, %d failed out of %d",
			result.FilesProcessed, result.FilesSkipped, result.FilesFailed, result.FilesTotal)
	}
	return result, nil
}

// parseJob runs the parser (and, for cic_zip entries, the nested-ZIP
// expansion) for one archive entry. A cic_zip entry can yield many
// parseResults, one per inner filing.
func (o *Orchestrator) parseJob(job archiveJob) []parseResult {
	if job.sourceType == archive.SourceCICZip {
		if !archive.LooksLikeZip(job.content) {
			if o.log != nil {
				o.log.Warnf("%s: extension suggests a nested zip but content does not look like one, trying direct parse", job.sourceFile)
			}
			parsed, err := o.parser.Parse(job.content)
			return []parseResult{{sourceFile: job.sourceFile, sourceType: archive.SourceIXBRLHTML, parsed: parsed, err: err}}
		}
		nested, err := archive.OpenNested(job.sourceFile, job.content)
		if err != nil {
			return []parseResult{{sourceFile: job.sourceFile, err: err}}
		}
		var out []parseResult
		for _, n := range nested {
			parsed, err := o.parser.Parse(n.Content)
			out = append(out, parseResult{sourceFile: n.SyntheticPath, sourceType: n.SourceType, parsed: parsed, err: err})
		}
		return out
	}

	parsed, err := o.parser.Parse(job.content)
	return []parseResult{{sourceFile: job.sourceFile, sourceType: job.sourceType, parsed: parsed, err: err}}
}

// resolveParsedFiling resolves a parsed filing's concepts/contexts/units
// through the cache and returns the filing plus all of its facts as a
// store.FilingRecord ready for insertion, applying the company-number
// filename fallback (field index 2 of the underscore-delimited source
// path) when the filing itself carried none. The caller is responsible
// for the actual write, batching multiple records into one transaction.
func (o *Orchestrator) resolveParsedFiling(ctx context.Context, batchID int64, pr parseResult) (store.FilingRecord, error) {
	if pr.parsed == nil {
		return store.FilingRecord{}, fmt.Errorf("no parsed data")
	}

	companyNumber, err := o.store.UpsertCompany(ctx, pr.parsed.CompanyNumber, pr.parsed.CompanyName)
	if err != nil {
		return store.FilingRecord{}, err
	}
	if companyNumber == "" {
		if fallback := companyNumberFromPath(pr.sourceFile); fallback != "" {
			companyNumber, err = o.store.UpsertCompany(ctx, fallback, "")
			if err != nil {
				return store.FilingRecord{}, err
			}
		}
	}
	if companyNumber == "" {
		return store.FilingRecord{}, fmt.Errorf("no company number")
	}

	unitMap := map[string]string{}
	for _, u := range pr.parsed.Units {
		unitMap[u.UnitRef] = u.Measure
	}

	contextMap := map[string]int64{}
	for _, c := range pr.parsed.Contexts {
		id, err := o.cache.ResolveContext(ctx, c)
		if err != nil {
			return store.FilingRecord{}, err
		}
		contextMap[c.ContextRef] = id
	}

	var numericRows []store.ResolvedNumericFact
	for _, f := range pr.parsed.NumericFacts {
		ctxID, ok := contextMap[f.ContextRef]
		if !ok {
			if o.log != nil {
				o.log.Warnf("%s: skipping numeric fact %s, contextRef %q not found", pr.sourceFile, f.ConceptRaw, f.ContextRef)
			}
			continue
		}
		unit := ""
		if f.UnitRef != "" {
			if m, ok := unitMap[f.UnitRef]; ok {
				unit = m
			} else if o.log != nil {
				o.log.Warnf("%s: unitRef %q not found, setting unit empty", pr.sourceFile, f.UnitRef)
			}
		}
		conceptID, err := o.cache.ResolveConcept(ctx, f.ConceptRaw)
		if err != nil {
			return store.FilingRecord{}, err
		}
		numericRows = append(numericRows, store.ResolvedNumericFact{
			ConceptID: conceptID,
			ContextID: ctxID,
			Unit:      unit,
			Value:     f.Value,
			HasValue:  f.HasValue,
		})
	}

	var textRows []store.ResolvedTextFact
	for _, f := range pr.parsed.TextFacts {
		ctxID, ok := contextMap[f.ContextRef]
		if !ok {
			if o.log != nil {
				o.log.Warnf("%s: skipping text fact %s, contextRef %q not found", pr.sourceFile, f.ConceptRaw, f.ContextRef)
			}
			continue
		}
		conceptID, err := o.cache.ResolveConcept(ctx, f.ConceptRaw)
		if err != nil {
			return store.FilingRecord{}, err
		}
		textRows = append(textRows, store.ResolvedTextFact{
			ConceptID: conceptID,
			ContextID: ctxID,
			Value:     f.Value,
		})
	}

	return store.FilingRecord{
		CompanyNumber:    companyNumber,
		BatchID:          batchID,
		SourceFile:       pr.sourceFile,
		SourceType:       string(pr.sourceType),
		BalanceSheetDate: normalize.DateToISO(pr.parsed.BalanceSheetDate),
		PeriodStartDate:  normalize.DateToISO(pr.parsed.PeriodStartDate),
		PeriodEndDate:    normalize.DateToISO(pr.parsed.PeriodEndDate),
		NumericFacts:     numericRows,
		TextFacts:        textRows,
	}, nil
}

// companyNumberFromPath applies the filename fallback: the third
// underscore-delimited field of the source path, e.g.
// "Prod224_3001_01234567_20230101.html" -> "01234567". For nested CIC
// entries the synthetic "outer!inner" path is split as-is, matching the
// reference loader's pf.source_file.split("_") (no special-casing of the
// "!" separator).
func companyNumberFromPath(sourceFile string) string {
	parts := strings.Split(sourceFile, "_")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
