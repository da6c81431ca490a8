package store

// schemaDDL creates every table the pipeline writes to. Mirrors the v2
// lookup-table schema in original_source/backend/db (concepts,
// dimension_patterns and context_definitions are resolved once and
// referenced by integer foreign key from the fact tables, rather than
// storing raw strings per-fact).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	downloaded_at TEXT NOT NULL,
	file_count INTEGER NOT NULL,
	processed_at TEXT
);

CREATE TABLE IF NOT EXISTS companies (
	company_number TEXT PRIMARY KEY,
	name TEXT,
	jurisdiction TEXT
);

CREATE TABLE IF NOT EXISTS filings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	company_number TEXT NOT NULL,
	batch_id INTEGER NOT NULL REFERENCES batches(id),
	source_file TEXT NOT NULL UNIQUE,
	source_type TEXT NOT NULL,
	balance_sheet_date TEXT NOT NULL,
	period_start_date TEXT,
	period_end_date TEXT,
	loaded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS concepts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	concept_raw TEXT NOT NULL UNIQUE,
	concept TEXT NOT NULL,
	namespace TEXT
);

CREATE TABLE IF NOT EXISTS dimension_patterns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	dimensions TEXT NOT NULL,
	pattern_hash TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS context_definitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	period_type TEXT NOT NULL,
	instant_date TEXT,
	start_date TEXT,
	end_date TEXT,
	dimension_pattern_id INTEGER REFERENCES dimension_patterns(id),
	definition_hash TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS numeric_facts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filing_id INTEGER NOT NULL REFERENCES filings(id),
	concept_id INTEGER NOT NULL REFERENCES concepts(id),
	context_id INTEGER NOT NULL REFERENCES context_definitions(id),
	unit TEXT,
	value TEXT
);

CREATE TABLE IF NOT EXISTS text_facts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filing_id INTEGER NOT NULL REFERENCES filings(id),
	concept_id INTEGER NOT NULL REFERENCES concepts(id),
	context_id INTEGER NOT NULL REFERENCES context_definitions(id),
	value TEXT
);
`

// bulkLoadIndex names a non-unique index safe to drop before a bulk load
// and recreate after. UNIQUE constraints above are enforced by the table
// definition and are never dropped.
type bulkLoadIndex struct {
	name    string
	table   string
	columns string
}

var bulkLoadIndexes = []bulkLoadIndex{
	{"idx_filings_company", "filings", "company_number"},
	{"idx_filings_date", "filings", "balance_sheet_date"},
	{"idx_filings_batch", "filings", "batch_id"},
	{"idx_concepts_name", "concepts", "concept"},
	{"idx_context_def_hash", "context_definitions", "definition_hash"},
	{"idx_context_def_period", "context_definitions", "period_type, instant_date"},
	{"idx_numeric_filing", "numeric_facts", "filing_id"},
	{"idx_numeric_concept", "numeric_facts", "concept_id"},
	{"idx_numeric_filing_concept", "numeric_facts", "filing_id, concept_id"},
	{"idx_numeric_context", "numeric_facts", "context_id"},
	{"idx_text_filing", "text_facts", "filing_id"},
	{"idx_text_concept", "text_facts", "concept_id"},
}

const currentSchemaVersion = 2
