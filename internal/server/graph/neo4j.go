package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/systemshift/whereabouts/internal/core"
	"github.com/systemshift/whereabouts/internal/server/events"
)

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jRepository implements Repository with one (:Record) node per stored
// version. Fields are kept as a JSON string property since Neo4j does not
// store nested maps.
type Neo4jRepository struct {
	driver       neo4j.DriverWithContext
	database     string
	eventEmitter events.Emitter
}

// NewNeo4j creates a new Neo4j repository
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	repo := &Neo4jRepository{driver: driver, database: database}
	if err := repo.ensureIndexes(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return repo, nil
}

// Close closes the Neo4j connection
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// SetEventEmitter sets the callback for emitting events
func (r *Neo4jRepository) SetEventEmitter(emitter events.Emitter) {
	r.eventEmitter = emitter
}

func (r *Neo4jRepository) emit(ctx context.Context, event events.Event) {
	if r.eventEmitter != nil {
		r.eventEmitter(ctx, event)
	}
}

func (r *Neo4jRepository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

func (r *Neo4jRepository) ensureIndexes(ctx context.Context) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT record_version_id IF NOT EXISTS FOR (n:Record) REQUIRE n.version_id IS UNIQUE`,
		`CREATE INDEX record_id IF NOT EXISTS FOR (n:Record) ON (n.id)`,
		`CREATE INDEX record_type IF NOT EXISTS FOR (n:Record) ON (n.type)`,
	}
	for _, stmt := range stmts {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// Query returns records matching q. Type and activity filters run in
// Cypher; field conditions are evaluated on the decoded records.
func (r *Neo4jRepository) Query(ctx context.Context, q core.Query) ([]*core.Record, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (n:Record)
			WHERE n.type STARTS WITH $type
			  AND (NOT $active OR (n.is_current AND NOT n.is_proxy AND n.lifecycle_state <> 'deleted'))
			RETURN n
			ORDER BY n.id, n.version
		`
		result, err := tx.Run(ctx, query, map[string]any{"type": q.Type, "active": q.ActiveOnly})
		if err != nil {
			return nil, err
		}
		recs := []*core.Record{}
		for result.Next(ctx) {
			rec, err := recordFromNode(result.Record())
			if err != nil {
				return nil, err
			}
			if q.Matches(rec) {
				recs = append(recs, rec)
			}
		}
		return recs, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	return result.([]*core.Record), nil
}

// GetRecord returns the current version of id, or the superseded version
// whose version ID is id
func (r *Neo4jRepository) GetRecord(ctx context.Context, typeName, id string) (*core.Record, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (n:Record)
			WHERE ((n.id = $id AND n.is_current) OR (n.version_id = $id AND NOT n.is_current))
			  AND n.type STARTS WITH $type
			RETURN n
		`
		return collectNodes(ctx, tx, query, map[string]any{"id": id, "type": typeName})
	})
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return singleRecord(result.([]*core.Record), id)
}

// WorkflowState returns the lifecycle state of the current version of id
func (r *Neo4jRepository) WorkflowState(ctx context.Context, id string) (string, error) {
	rec, err := r.GetRecord(ctx, "", id)
	if err != nil {
		return "", err
	}
	if rec.IsVersion {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.LifecycleState, nil
}

// Create creates a new record node at version 1
func (r *Neo4jRepository) Create(ctx context.Context, rec *core.Record) error {
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

	params, err := nodeParams(rec)
	if err != nil {
		return err
	}

	session := r.session(ctx)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		existing, err := tx.Run(ctx, `MATCH (n:Record {id: $id}) RETURN count(n) AS c`, map[string]any{"id": rec.ID})
		if err != nil {
			return nil, err
		}
		single, err := existing.Single(ctx)
		if err != nil {
			return nil, err
		}
		if c, _ := single.Get("c"); c.(int64) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrExists, rec.ID)
		}
		_, err = tx.Run(ctx, `CREATE (n:Record) SET n = $props`, map[string]any{"props": params})
		return nil, err
	})
	if err != nil {
		return err
	}

	r.emit(ctx, events.New(events.RecordCreated, rec))
	return nil
}

// Save writes rec as a new current version
func (r *Neo4jRepository) Save(ctx context.Context, rec *core.Record) error {
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
func (r *Neo4jRepository) SetLifecycleState(ctx context.Context, id, state string) error {
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

func (r *Neo4jRepository) writeVersion(ctx context.Context, id string, build func(cur *core.Record) *core.Record) (*core.Record, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		recs, err := collectNodes(ctx, tx,
			`MATCH (n:Record {id: $id}) WHERE n.is_current RETURN n`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		cur, err := singleRecord(recs, id)
		if err != nil {
			return nil, err
		}

		next := build(cur)
		if next == nil {
			return (*core.Record)(nil), nil
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
		params, err := nodeParams(next)
		if err != nil {
			return nil, err
		}

		query := `
			MATCH (old:Record {version_id: $old_version_id})
			SET old.is_current = false
			CREATE (n:Record)
			SET n = $props
			CREATE (n)-[:PREVIOUS_VERSION]->(old)
		`
		_, err = tx.Run(ctx, query, map[string]any{"old_version_id": cur.VersionID, "props": params})
		if err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Record), nil
}

// Delete removes every version node of a record
func (r *Neo4jRepository) Delete(ctx context.Context, id string) error {
	rec, err := r.GetRecord(ctx, "", id)
	if err != nil {
		return err
	}

	r.emit(ctx, events.New(events.RecordAboutToRemove, rec))

	session := r.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MATCH (n:Record {id: $id}) DETACH DELETE n`, map[string]any{"id": rec.ID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}

	r.emit(ctx, events.New(events.RecordRemoved, rec))
	return nil
}

func collectNodes(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]*core.Record, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	recs := []*core.Record{}
	for result.Next(ctx) {
		rec, err := recordFromNode(result.Record())
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, result.Err()
}

func nodeParams(rec *core.Record) (map[string]any, error) {
	props, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling fields: %w", err)
	}
	return map[string]any{
		"version_id":      rec.VersionID,
		"id":              rec.ID,
		"version":         int64(rec.Version),
		"is_current":      true,
		"is_proxy":        rec.IsProxy,
		"lifecycle_state": rec.LifecycleState,
		"type":            rec.Type,
		"properties":      string(props),
		"subject_csid":    rec.FieldString(core.FieldSubjectCsid),
		"object_csid":     rec.FieldString(core.FieldObjectCsid),
		"created":         rec.Created.UTC().Format(time.RFC3339Nano),
		"modified":        rec.Modified.UTC().Format(time.RFC3339Nano),
		"change_note":     rec.ChangeNote,
		"changed_by":      rec.ChangedBy,
	}, nil
}

func recordFromNode(record *neo4j.Record) (*core.Record, error) {
	value, ok := record.Get("n")
	if !ok {
		return nil, fmt.Errorf("result has no node column")
	}
	node, ok := value.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected result value %T", value)
	}
	props := node.Props

	rec := &core.Record{
		ID:             propString(props, "id"),
		VersionID:      propString(props, "version_id"),
		Type:           propString(props, "type"),
		LifecycleState: propString(props, "lifecycle_state"),
		ChangeNote:     propString(props, "change_note"),
		ChangedBy:      propString(props, "changed_by"),
		Fields:         map[string]any{},
	}
	if v, ok := props["version"].(int64); ok {
		rec.Version = int(v)
	}
	if v, ok := props["is_current"].(bool); ok {
		rec.IsVersion = !v
	}
	if v, ok := props["is_proxy"].(bool); ok {
		rec.IsProxy = v
	}
	if s := propString(props, "properties"); s != "" {
		if err := json.Unmarshal([]byte(s), &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshaling properties: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, propString(props, "created")); err == nil {
		rec.Created = t
	}
	if t, err := time.Parse(time.RFC3339Nano, propString(props, "modified")); err == nil {
		rec.Modified = t
	}
	return rec, nil
}

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}
