package core

import (
	"fmt"
	"strings"
)

// Op is a comparison operator in a query condition
type Op int

const (
	// OpEquals matches when the field equals the value
	OpEquals Op = iota
	// OpPrefix matches when the field starts with the value
	OpPrefix
)

// Pseudo-fields addressable by conditions in addition to record fields
const (
	FieldID   = "id"
	FieldType = "type"
)

// ActiveFragment is appended to every query rendered with ActiveOnly set
const ActiveFragment = "lifecycle_state <> 'deleted' AND is_proxy = 0 AND is_version = 0"

// Condition compares one field of a record against a value
type Condition struct {
	Field string
	Op    Op
	Value string
}

// Eq builds an equality condition
func Eq(field, value string) Condition {
	return Condition{Field: field, Op: OpEquals, Value: value}
}

// Prefix builds a type-prefix condition
func Prefix(field, value string) Condition {
	return Condition{Field: field, Op: OpPrefix, Value: value}
}

// Query selects records of a type (prefix match) whose fields satisfy
// any one of the condition groups. Conditions within a group are ANDed.
type Query struct {
	Type       string
	Any        [][]Condition
	ActiveOnly bool
}

// Where appends an AND group to the query
func (q Query) Where(conds ...Condition) Query {
	group := make([]Condition, len(conds))
	copy(group, conds)
	q.Any = append(append([][]Condition(nil), q.Any...), group)
	return q
}

// Matches evaluates the query against a record in memory
func (q Query) Matches(rec *Record) bool {
	if rec == nil {
		return false
	}
	if q.Type != "" && !strings.HasPrefix(rec.Type, q.Type) {
		return false
	}
	if q.ActiveOnly && !activeRow(rec) {
		return false
	}
	if len(q.Any) == 0 {
		return true
	}
	for _, group := range q.Any {
		if matchAll(rec, group) {
			return true
		}
	}
	return false
}

func matchAll(rec *Record, group []Condition) bool {
	for _, c := range group {
		if !c.Matches(rec) {
			return false
		}
	}
	return true
}

// Matches evaluates a single condition against a record
func (c Condition) Matches(rec *Record) bool {
	var v string
	switch c.Field {
	case FieldID:
		v = rec.ID
	case FieldType:
		v = rec.Type
	default:
		v = rec.FieldString(c.Field)
	}
	switch c.Op {
	case OpPrefix:
		return strings.HasPrefix(v, c.Value)
	default:
		return v == c.Value
	}
}

// activeRow mirrors ActiveFragment
func activeRow(rec *Record) bool {
	return !rec.IsVersion && !rec.IsProxy && rec.LifecycleState != StateDeleted
}

// String renders the query as a readable filter expression for logs
func (q Query) String() string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	if q.Type == "" {
		b.WriteString("Document")
	} else {
		b.WriteString(q.Type)
	}

	var clauses []string
	if len(q.Any) > 0 {
		groups := make([]string, 0, len(q.Any))
		for _, group := range q.Any {
			parts := make([]string, 0, len(group))
			for _, c := range group {
				parts = append(parts, c.String())
			}
			groups = append(groups, "("+strings.Join(parts, " AND ")+")")
		}
		clauses = append(clauses, "("+strings.Join(groups, " OR ")+")")
	}
	if q.ActiveOnly {
		clauses = append(clauses, ActiveFragment)
	}
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	return b.String()
}

func (c Condition) String() string {
	value := strings.ReplaceAll(c.Value, "'", "''")
	if c.Op == OpPrefix {
		return fmt.Sprintf("%s STARTSWITH '%s'", c.Field, value)
	}
	return fmt.Sprintf("%s = '%s'", c.Field, value)
}
