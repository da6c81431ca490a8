// Package cache implements the resolution cache that maps parser output
// (raw concept strings, parsed contexts) to the integer ids of shared
// lookup rows (concepts, dimension_patterns, context_definitions). It is
// the Go analogue of the teacher's BlobFileMatcher: plain maps, owned by a
// single goroutine, populated with an "insert, then remember the id"
// pattern — no locking, because the orchestrator's writer goroutine is the
// cache's only caller.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ch-ixbrl/ingest/model"
	"github.com/ch-ixbrl/ingest/normalize"
)

// Cache resolves parser output to lookup-table ids, hydrating itself from
// the database at construction and growing as new concepts/contexts are
// seen during a batch.
type Cache struct {
	db  *sql.DB
	log *logrus.Logger

	concepts  map[string]int64 // concept_raw -> concepts.id
	dimHashes map[string]int64 // pattern_hash -> dimension_patterns.id
	ctxHashes map[string]int64 // definition_hash -> context_definitions.id
}

// Load constructs a Cache and pre-loads all existing lookup rows from db.
func Load(ctx context.Context, db *sql.DB, log *logrus.Logger) (*Cache, error) {
	c := &Cache{
		db:        db,
		log:       log,
		concepts:  map[string]int64{},
		dimHashes: map[string]int64{},
		ctxHashes: map[string]int64{},
	}

	if err := c.loadConcepts(ctx); err != nil {
		return nil, err
	}
	if err := c.loadDimensionPatterns(ctx); err != nil {
		return nil, err
	}
	if err := c.loadContextDefinitions(ctx); err != nil {
		return nil, err
	}

	if log != nil {
		log.Infof("resolution cache loaded: %d concepts, %d dimension patterns, %d context definitions",
			len(c.concepts), len(c.dimHashes), len(c.ctxHashes))
	}
	return c, nil
}

func (c *Cache) loadConcepts(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, "SELECT id, concept_raw FROM concepts")
	if err != nil {
		return fmt.Errorf("cache: load concepts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		c.concepts[raw] = id
	}
	return rows.Err()
}

func (c *Cache) loadDimensionPatterns(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, "SELECT id, pattern_hash FROM dimension_patterns")
	if err != nil {
		return fmt.Errorf("cache: load dimension_patterns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return err
		}
		c.dimHashes[hash] = id
	}
	return rows.Err()
}

func (c *Cache) loadContextDefinitions(ctx context.Context) error {
	rows, err := c.db.QueryContext(ctx, "SELECT id, definition_hash FROM context_definitions")
	if err != nil {
		return fmt.Errorf("cache: load context_definitions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return err
		}
		c.ctxHashes[hash] = id
	}
	return rows.Err()
}

// ResolveConcept returns the concepts.id for conceptRaw, inserting a new
// row on first sight.
func (c *Cache) ResolveConcept(ctx context.Context, conceptRaw string) (int64, error) {
	if id, ok := c.concepts[conceptRaw]; ok {
		return id, nil
	}

	concept := normalize.Concept(conceptRaw)
	var namespace sql.NullString
	if i := strings.Index(conceptRaw, ":"); i >= 0 {
		namespace = sql.NullString{String: conceptRaw[:i], Valid: true}
	}

	res, err := c.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO concepts (concept_raw, concept, namespace) VALUES (?, ?, ?)",
		conceptRaw, concept, namespace)
	if err != nil {
		return 0, fmt.Errorf("cache: insert concept %q: %w", conceptRaw, err)
	}

	id, err := insertedOrExistingID(ctx, c.db, res,
		"SELECT id FROM concepts WHERE concept_raw = ?", conceptRaw)
	if err != nil {
		return 0, err
	}
	c.concepts[conceptRaw] = id
	return id, nil
}

// ResolveContext returns the context_definitions.id for a parsed Context,
// first resolving its dimension set (if any) to a shared dimension_pattern
// row, then hashing the full period+dimension definition.
func (c *Cache) ResolveContext(ctx context.Context, parsed model.Context) (int64, error) {
	var dimPatternID sql.NullInt64

	if !parsed.Dimensions.IsEmpty() {
		dimsJSON, err := canonicalDimensionsJSON(parsed.Dimensions)
		if err != nil {
			return 0, fmt.Errorf("cache: marshal dimensions: %w", err)
		}
		patternHash := sha256Hex(dimsJSON)

		id, ok := c.dimHashes[patternHash]
		if !ok {
			res, err := c.db.ExecContext(ctx,
				"INSERT OR IGNORE INTO dimension_patterns (dimensions, pattern_hash) VALUES (?, ?)",
				dimsJSON, patternHash)
			if err != nil {
				return 0, fmt.Errorf("cache: insert dimension_pattern: %w", err)
			}
			id, err = insertedOrExistingID(ctx, c.db, res,
				"SELECT id FROM dimension_patterns WHERE pattern_hash = ?", patternHash)
			if err != nil {
				return 0, err
			}
			c.dimHashes[patternHash] = id
		}
		dimPatternID = sql.NullInt64{Int64: id, Valid: true}
	}

	instant := normalize.DateToISO(parsed.InstantDate)
	start := normalize.DateToISO(parsed.StartDate)
	end := normalize.DateToISO(parsed.EndDate)

	dimPatternStr := ""
	if dimPatternID.Valid {
		dimPatternStr = strconv.FormatInt(dimPatternID.Int64, 10)
	}
	defParts := strings.Join([]string{parsed.PeriodType, instant, start, end, dimPatternStr}, "|")
	definitionHash := sha256Hex(defParts)

	if id, ok := c.ctxHashes[definitionHash]; ok {
		return id, nil
	}

	res, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO context_definitions
			(period_type, instant_date, start_date, end_date, dimension_pattern_id, definition_hash)
			VALUES (?, ?, ?, ?, ?, ?)`,
		parsed.PeriodType, nullableString(instant), nullableString(start), nullableString(end),
		dimPatternID, definitionHash)
	if err != nil {
		return 0, fmt.Errorf("cache: insert context_definition: %w", err)
	}

	id, err := insertedOrExistingID(ctx, c.db, res,
		"SELECT id FROM context_definitions WHERE definition_hash = ?", definitionHash)
	if err != nil {
		return 0, err
	}
	c.ctxHashes[definitionHash] = id
	return id, nil
}

// insertedOrExistingID handles the INSERT OR IGNORE race: when the insert
// is ignored because a unique row already exists, RowsAffected() is 0 and
// LastInsertId() is meaningless, so the id is re-read by the unique
// column instead.
func insertedOrExistingID(ctx context.Context, db *sql.DB, res sql.Result, readBackQuery string, key string) (int64, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: rows affected: %w", err)
	}
	if affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("cache: last insert id: %w", err)
		}
		return id, nil
	}

	var id int64
	if err := db.QueryRowContext(ctx, readBackQuery, key).Scan(&id); err != nil {
		return 0, fmt.Errorf("cache: read back id for %q: %w", key, err)
	}
	return id, nil
}

// canonicalDimensionsJSON serializes a Dimensions value to a stable JSON
// form: Explicit/Typed slices are sorted before encoding (the caller
// already sorts them at parse time, this defends against future callers
// that don't) so filings with the same member set in a different order
// hash identically.
func canonicalDimensionsJSON(d *model.Dimensions) (string, error) {
	out := struct {
		Explicit []model.ExplicitMember `json:"explicit"`
		Typed    []model.TypedMember    `json:"typed"`
	}{
		Explicit: append([]model.ExplicitMember{}, d.Explicit...),
		Typed:    append([]model.TypedMember{}, d.Typed...),
	}
	sort.Slice(out.Explicit, func(i, j int) bool {
		if out.Explicit[i].Dimension != out.Explicit[j].Dimension {
			return out.Explicit[i].Dimension < out.Explicit[j].Dimension
		}
		return out.Explicit[i].Member < out.Explicit[j].Member
	})
	sort.Slice(out.Typed, func(i, j int) bool {
		if out.Typed[i].Dimension != out.Typed[j].Dimension {
			return out.Typed[i].Dimension < out.Typed[j].Dimension
		}
		return out.Typed[i].Value < out.Typed[j].Value
	})
	if out.Explicit == nil {
		out.Explicit = []model.ExplicitMember{}
	}
	if out.Typed == nil {
		out.Typed = []model.TypedMember{}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
