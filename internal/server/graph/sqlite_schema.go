package graph

import "github.com/systemshift/whereabouts/internal/core"

// SQLite schema for versioned records. Relations are records too; their
// endpoint fields are indexed through json_extract.

const schemaRecords = `
CREATE TABLE IF NOT EXISTS records (
    rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    version_id TEXT UNIQUE NOT NULL,
    id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    is_current INTEGER NOT NULL DEFAULT 1,
    is_proxy INTEGER NOT NULL DEFAULT 0,
    lifecycle_state TEXT NOT NULL DEFAULT 'project',
    type TEXT NOT NULL,
    properties TEXT,
    created_at DATETIME NOT NULL,
    modified_at DATETIME NOT NULL,
    change_note TEXT,
    changed_by TEXT
)`

// recordIndexes maps index names to the indexed expression
var recordIndexes = [][2]string{
	{"idx_records_id", "id"},
	{"idx_records_type", "type"},
	{"idx_records_is_current", "is_current"},
	{"idx_records_state", "lifecycle_state"},
	{"idx_records_subject", "json_extract(properties, '$." + core.FieldSubjectCsid + "')"},
	{"idx_records_object", "json_extract(properties, '$." + core.FieldObjectCsid + "')"},
}

var sqlitePragmas = []string{
	`PRAGMA journal_mode=WAL`,
	`PRAGMA busy_timeout=5000`,
	`PRAGMA synchronous=NORMAL`,
}

// allSchemaStatements returns the DDL in execution order
func allSchemaStatements() []string {
	stmts := []string{schemaRecords}
	for _, idx := range recordIndexes {
		stmts = append(stmts, "CREATE INDEX IF NOT EXISTS "+idx[0]+" ON records("+idx[1]+")")
	}
	return stmts
}

func allPragmas() []string {
	return sqlitePragmas
}
