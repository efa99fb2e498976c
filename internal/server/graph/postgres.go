package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/server/events"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
    version_id TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    is_current BOOLEAN NOT NULL DEFAULT TRUE,
    is_proxy BOOLEAN NOT NULL DEFAULT FALSE,
    lifecycle_state TEXT NOT NULL DEFAULT 'project',
    type TEXT NOT NULL,
    properties JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    modified_at TIMESTAMPTZ NOT NULL,
    change_note TEXT,
    changed_by TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_records_current ON records(id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_records_type ON records(type);
CREATE INDEX IF NOT EXISTS idx_records_subject ON records((properties->>'subjectCsid'));
CREATE INDEX IF NOT EXISTS idx_records_object ON records((properties->>'objectCsid'));
`

// PostgresRepository implements Repository on PostgreSQL with JSONB fields
type PostgresRepository struct {
	pool         *pgxpool.Pool
	eventEmitter events.Emitter
}

// NewPostgres connects to PostgreSQL and ensures the schema exists
func NewPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close closes the connection pool
func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

// SetEventEmitter sets the callback for emitting events
func (r *PostgresRepository) SetEventEmitter(emitter events.Emitter) {
	r.eventEmitter = emitter
}

func (r *PostgresRepository) emit(ctx context.Context, event events.Event) {
	if r.eventEmitter != nil {
		r.eventEmitter(ctx, event)
	}
}

// Query returns records matching q
func (r *PostgresRepository) Query(ctx context.Context, q core.Query) ([]*core.Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	query, args := buildQuery(postgresDialect, q)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()
	return scanPostgresRecords(rows)
}

// GetRecord returns the current version of id, or the superseded version
// whose version ID is id
func (r *PostgresRepository) GetRecord(ctx context.Context, typeName, id string) (*core.Record, error) {
	query, args := buildGetRecord(postgresDialect, typeName, id)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	defer rows.Close()
	recs, err := scanPostgresRecords(rows)
	if err != nil {
		return nil, err
	}
	return singleRecord(recs, id)
}

// WorkflowState returns the lifecycle state of the current version of id
func (r *PostgresRepository) WorkflowState(ctx context.Context, id string) (string, error) {
	var state string
	err := r.pool.QueryRow(ctx,
		`SELECT lifecycle_state FROM records WHERE id = $1 AND is_current`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("reading workflow state: %w", err)
	}
	return state, nil
}

// Create inserts a new record at version 1
func (r *PostgresRepository) Create(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if rec.Type == "" {
		return fmt.Errorf("record type is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
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

	if err := insertPostgresRow(ctx, r.pool, rec); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrExists, rec.ID)
		}
		return err
	}

	r.emit(ctx, events.New(events.RecordCreated, rec))
	return nil
}

// Save writes rec as a new current version
func (r *PostgresRepository) Save(ctx context.Context, rec *core.Record) error {
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
func (r *PostgresRepository) SetLifecycleState(ctx context.Context, id, state string) error {
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

func (r *PostgresRepository) writeVersion(ctx context.Context, id string, build func(cur *core.Record) *core.Record) (*core.Record, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1 AND is_current FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("reading current version: %w", err)
	}
	recs, err := scanPostgresRecords(rows)
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

	if _, err := tx.Exec(ctx, `UPDATE records SET is_current = FALSE WHERE id = $1 AND is_current`, id); err != nil {
		return nil, fmt.Errorf("marking old version: %w", err)
	}
	if err := insertPostgresRow(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete hard-deletes a record and all of its versions
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	rec, err := r.GetRecord(ctx, "", id)
	if err != nil {
		return err
	}

	r.emit(ctx, events.New(events.RecordAboutToRemove, rec))

	if _, err := r.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, rec.ID); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}

	r.emit(ctx, events.New(events.RecordRemoved, rec))
	return nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPostgresRow(ctx context.Context, db pgExecer, rec *core.Record) error {
	props, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}
	query := `
		INSERT INTO records (version_id, id, version, is_current, is_proxy, lifecycle_state, type,
		                     properties, created_at, modified_at, change_note, changed_by)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7::jsonb, $8, $9, $10, $11)
	`
	_, err = db.Exec(ctx, query,
		rec.VersionID,
		rec.ID,
		rec.Version,
		rec.IsProxy,
		rec.LifecycleState,
		rec.Type,
		string(props),
		rec.Created.UTC(),
		rec.Modified.UTC(),
		rec.ChangeNote,
		rec.ChangedBy,
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func scanPostgresRecords(rows pgx.Rows) ([]*core.Record, error) {
	recs := []*core.Record{}
	for rows.Next() {
		var versionID, id, recType, state string
		var version int
		var isCurrent, isProxy bool
		var properties []byte
		var createdAt, modifiedAt time.Time
		var changeNote, changedBy *string

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
			IsProxy:        isProxy,
			IsVersion:      !isCurrent,
			Fields:         map[string]any{},
			Created:        createdAt,
			Modified:       modifiedAt,
		}
		if changeNote != nil {
			rec.ChangeNote = *changeNote
		}
		if changedBy != nil {
			rec.ChangedBy = *changedBy
		}
		if len(properties) > 0 {
			if err := json.Unmarshal(properties, &rec.Fields); err != nil {
				return nil, fmt.Errorf("decoding fields of %s: %w", versionID, err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
