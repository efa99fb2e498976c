package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Lifecycle states known to the repository. Any other string is an
// arbitrary workflow state and counts as active.
const (
	StateProject = "project"
	StateDeleted = "deleted"
	StateLocked  = "locked"
)

// Relation field names
const (
	FieldSubjectCsid          = "subjectCsid"
	FieldSubjectDocumentType  = "subjectDocumentType"
	FieldObjectCsid           = "objectCsid"
	FieldObjectDocumentType   = "objectDocumentType"
	FieldRelationshipType     = "relationshipType"
	FieldPredicateDisplayName = "predicateDisplayName"
)

// RelationType is the record type of relation records
const RelationType = "Relation"

// ErrNoLifecycleState is returned when a record carries no lifecycle state
var ErrNoLifecycleState = errors.New("record has no lifecycle state")

// Record represents a typed document in the repository
type Record struct {
	ID             string         `json:"id"`
	VersionID      string         `json:"version_id"`
	Version        int            `json:"version"`
	Type           string         `json:"type"`
	LifecycleState string         `json:"lifecycle_state"`
	IsProxy        bool           `json:"is_proxy,omitempty"`
	IsVersion      bool           `json:"is_version,omitempty"` // checked-in snapshot, not the current row
	Fields         map[string]any `json:"fields"`
	Created        time.Time      `json:"created"`
	Modified       time.Time      `json:"modified"`
	ChangeNote     string         `json:"change_note,omitempty"`
	ChangedBy      string         `json:"changed_by,omitempty"`
}

// State returns the lifecycle state of the record
func (r *Record) State() (string, error) {
	if r == nil || strings.TrimSpace(r.LifecycleState) == "" {
		return "", ErrNoLifecycleState
	}
	return r.LifecycleState, nil
}

// FieldString returns the named field as a string. Non-string values are
// formatted; missing values yield "".
func (r *Record) FieldString(field string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// dateLayouts are tried in order when a date field holds a string
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// FieldTime returns the named field as a timestamp
func (r *Record) FieldTime(field string) (time.Time, bool) {
	if r == nil || r.Fields == nil {
		return time.Time{}, false
	}
	switch v := r.Fields[field].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// Clone returns a deep copy of the record's fields with the same identity
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

// Relation is a typed view over a relation record
type Relation struct {
	ID                   string
	SubjectID            string
	SubjectType          string
	ObjectID             string
	ObjectType           string
	RelationshipType     string
	PredicateDisplayName string
}

// RelationOf reads the relation fields of a record
func RelationOf(rec *Record) Relation {
	if rec == nil {
		return Relation{}
	}
	return Relation{
		ID:                   rec.ID,
		SubjectID:            rec.FieldString(FieldSubjectCsid),
		SubjectType:          rec.FieldString(FieldSubjectDocumentType),
		ObjectID:             rec.FieldString(FieldObjectCsid),
		ObjectType:           rec.FieldString(FieldObjectDocumentType),
		RelationshipType:     rec.FieldString(FieldRelationshipType),
		PredicateDisplayName: rec.FieldString(FieldPredicateDisplayName),
	}
}

// Record converts the relation into a new relation record
func (rel Relation) Record() *Record {
	predicate := rel.PredicateDisplayName
	if predicate == "" {
		predicate = rel.RelationshipType
	}
	return &Record{
		ID:             rel.ID,
		Type:           RelationType,
		LifecycleState: StateProject,
		Fields: map[string]any{
			FieldSubjectCsid:          rel.SubjectID,
			FieldSubjectDocumentType:  rel.SubjectType,
			FieldObjectCsid:           rel.ObjectID,
			FieldObjectDocumentType:   rel.ObjectType,
			FieldRelationshipType:     rel.RelationshipType,
			FieldPredicateDisplayName: predicate,
		},
	}
}

// Other returns the endpoint that is not anchorID, or "" when neither
// endpoint is anchorID.
func (rel Relation) Other(anchorID string) string {
	if anchorID == "" {
		return ""
	}
	switch anchorID {
	case rel.SubjectID:
		return rel.ObjectID
	case rel.ObjectID:
		return rel.SubjectID
	}
	return ""
}

// Involves reports whether id is either endpoint of the relation
func (rel Relation) Involves(id string) bool {
	return id != "" && (rel.SubjectID == id || rel.ObjectID == id)
}
