package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/server/events"
)

// SQLiteRepository implements Repository using SQLite
type SQLiteRepository struct {
	db           *sql.DB
	eventEmitter events.Emitter
}

// NewSQLite creates a new SQLite repository
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// Listeners write back from inside event dispatch; a single connection
	// keeps those writes serialized.
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the SQLite connection
func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// SetEventEmitter sets the callback for emitting events
func (r *SQLiteRepository) SetEventEmitter(emitter events.Emitter) {
	r.eventEmitter = emitter
}

// emit sends an event to the bus if one is registered
func (r *SQLiteRepository) emit(ctx context.Context, event events.Event) {
	if r.eventEmitter != nil {
		r.eventEmitter(ctx, event)
	}
}

// Query returns records matching q
func (r *SQLiteRepository) Query(ctx context.Context, q core.Query) ([]*core.Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	query, args := buildQuery(sqliteDialect, q)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()
	return scanSQLiteRecords(rows)
}

// GetRecord returns the current version of id, or the superseded version
// whose version ID is id
func (r *SQLiteRepository) GetRecord(ctx context.Context, typeName, id string) (*core.Record, error) {
	query, args := buildGetRecord(sqliteDialect, typeName, id)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	defer rows.Close()
	recs, err := scanSQLiteRecords(rows)
	if err != nil {
		return nil, err
	}
	return singleRecord(recs, id)
}

// WorkflowState returns the lifecycle state of the current version of id
func (r *SQLiteRepository) WorkflowState(ctx context.Context, id string) (string, error) {
	var state string
	err := r.db.QueryRowContext(ctx,
		`SELECT lifecycle_state FROM records WHERE id = ? AND is_current = 1`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("reading workflow state: %w", err)
	}
	return state, nil
}

// Create inserts a new record at version 1
func (r *SQLiteRepository) Create(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.Type == "" {
		return fmt.Errorf("record type is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking record: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	}

	now := time.Now().UTC()
	rec.Version = 1
	rec.VersionID = versionID(rec.ID, 1)
	rec.IsVersion = false
	if rec.LifecycleState == "" {
		rec.LifecycleState = core.StateProject
	}
	if rec.Created.IsZero() {
		rec.Created = now
	}
	rec.Modified = now
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}

	if err := insertSQLiteRow(ctx, r.db, rec); err != nil {
		return err
	}

	r.emit(ctx, events.New(events.RecordCreated, rec))
	return nil
}

// Save writes rec as a new current version
func (r *SQLiteRepository) Save(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	next, err := r.writeVersion(ctx, rec.ID, func(cur *core.Record) *core.Record {
		next := rec.Clone()
		if next.LifecycleState == "" {
			next.LifecycleState = cur.LifecycleState
		}
		return next
	})
	if err != nil {
		return err
	}
	rec.Version, rec.VersionID, rec.Type = next.Version, next.VersionID, next.Type
	rec.Created, rec.Modified, rec.IsVersion = next.Created, next.Modified, false
	rec.LifecycleState = next.LifecycleState

	r.emit(ctx, events.New(events.RecordModified, next))
	return nil
}

// SetLifecycleState moves the record to a workflow state
func (r *SQLiteRepository) SetLifecycleState(ctx context.Context, id, state string) error {
	if strings.TrimSpace(state) == "" {
		return fmt.Errorf("lifecycle state is required")
	}
	var from string
	next, err := r.writeVersion(ctx, id, func(cur *core.Record) *core.Record {
		from = cur.LifecycleState
		if from == state {
			return nil
		}
		next := cur.Clone()
		next.LifecycleState = state
		next.ChangeNote = "lifecycle transition to " + state
		return next
	})
	if err != nil || next == nil {
		return err
	}

	ev := events.New(events.RecordLifecycleTransition, next)
	ev.Meta = lifecycleMeta(from, state)
	r.emit(ctx, ev)
	return nil
}

// writeVersion supersedes the current row of id with the record returned
// by build. A nil result leaves the record unchanged.
func (r *SQLiteRepository) writeVersion(ctx context.Context, id string, build func(cur *core.Record) *core.Record) (*core.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ? AND is_current = 1`, id)
	if err != nil {
		return nil, fmt.Errorf("reading current version: %w", err)
	}
	recs, err := scanSQLiteRecords(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	cur, err := singleRecord(recs, id)
	if err != nil {
		return nil, err
	}

	next := build(cur)
	if next == nil {
		return nil, nil
	}
	next.ID = cur.ID
	next.Type = cur.Type
	next.Version = cur.Version + 1
	next.VersionID = versionID(cur.ID, next.Version)
	next.Created = cur.Created
	next.Modified = time.Now().UTC()
	if next.Fields == nil {
		next.Fields = map[string]any{}
	}

	// Mark current version as no longer current
	if _, err := tx.ExecContext(ctx, `UPDATE records SET is_current = 0 WHERE id = ? AND is_current = 1`, id); err != nil {
		return nil, fmt.Errorf("marking old version: %w", err)
	}
	if err := insertSQLiteRow(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete hard-deletes a record and all of its versions
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	rec, err := r.GetRecord(ctx, "", id)
	if err != nil {
		return err
	}

	r.emit(ctx, events.New(events.RecordAboutToRemove, rec))

	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}

	r.emit(ctx, events.New(events.RecordRemoved, rec))
	return nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteRow(ctx context.Context, db sqlExecer, rec *core.Record) error {
	props, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}
	query := `
		INSERT INTO records (version_id, id, version, is_current, is_proxy, lifecycle_state, type,
		                     properties, created_at, modified_at, change_note, changed_by)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		rec.VersionID,
		rec.ID,
		rec.Version,
		boolToInt(rec.IsProxy),
		rec.LifecycleState,
		rec.Type,
		string(props),
		rec.Created.UTC().Format(time.RFC3339Nano),
		rec.Modified.UTC().Format(time.RFC3339Nano),
		rec.ChangeNote,
		rec.ChangedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func scanSQLiteRecords(rows *sql.Rows) ([]*core.Record, error) {
	recs := []*core.Record{}
	for rows.Next() {
		var versionID, id, recType, state string
		var version, isCurrent, isProxy int
		var properties, createdAt, modifiedAt string
		var changeNote, changedBy sql.NullString

		if err := rows.Scan(&versionID, &id, &version, &isCurrent, &isProxy, &state, &recType,
			&properties, &createdAt, &modifiedAt, &changeNote, &changedBy); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}

		rec := &core.Record{
			ID:             id,
			VersionID:      versionID,
			Version:        version,
			Type:           recType,
			LifecycleState: state,
			IsProxy:        isProxy == 1,
			IsVersion:      isCurrent == 0,
			Fields:         map[string]any{},
			ChangeNote:     changeNote.String,
			ChangedBy:      changedBy.String,
		}
		if properties != "" {
			if err := json.Unmarshal([]byte(properties), &rec.Fields); err != nil {
				return nil, fmt.Errorf("decoding fields of %s: %w", versionID, err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.Created = t
		}
		if t, err := time.Parse(time.RFC3339Nano, modifiedAt); err == nil {
			rec.Modified = t
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
