package graph

import (
	"fmt"
	"strings"

	"github.com/systemshift/whereabouts/internal/core"
)

// recordColumns is the column list shared by the SQL backends
const recordColumns = `version_id, id, version, is_current, is_proxy, lifecycle_state, type,
	properties, created_at, modified_at, change_note, changed_by`

// dialect captures the expression differences between the SQL backends
type dialect struct {
	placeholder func(n int) string
	field       func(name string) string
	prefix      func(expr, placeholder string) string
	active      string
	current     string
	superseded  string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	field: func(name string) string {
		return fmt.Sprintf("COALESCE(json_extract(properties, '$.%s'), '')", name)
	},
	prefix:     func(expr, ph string) string { return fmt.Sprintf("instr(%s, %s) = 1", expr, ph) },
	active:     "is_current = 1 AND is_proxy = 0 AND lifecycle_state <> 'deleted'",
	current:    "is_current = 1",
	superseded: "is_current = 0",
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	field: func(name string) string {
		return fmt.Sprintf("COALESCE(properties->>'%s', '')", name)
	},
	prefix:     func(expr, ph string) string { return fmt.Sprintf("starts_with(%s, %s)", expr, ph) },
	active:     "is_current AND NOT is_proxy AND lifecycle_state <> 'deleted'",
	current:    "is_current",
	superseded: "NOT is_current",
}

// sqlWhere accumulates predicates and their positional arguments
type sqlWhere struct {
	d     dialect
	parts []string
	args  []any
}

func newWhere(d dialect) *sqlWhere {
	return &sqlWhere{d: d}
}

func (w *sqlWhere) arg(v any) string {
	w.args = append(w.args, v)
	return w.d.placeholder(len(w.args))
}

func (w *sqlWhere) add(part string) {
	w.parts = append(w.parts, part)
}

func (w *sqlWhere) column(field string) string {
	switch field {
	case core.FieldID:
		return "id"
	case core.FieldType:
		return "type"
	default:
		return w.d.field(field)
	}
}

func (w *sqlWhere) condition(c core.Condition) string {
	expr := w.column(c.Field)
	if c.Op == core.OpPrefix {
		return w.d.prefix(expr, w.arg(c.Value))
	}
	return fmt.Sprintf("%s = %s", expr, w.arg(c.Value))
}

func (w *sqlWhere) typePrefix(typeName string) {
	if typeName != "" {
		w.add(w.d.prefix("type", w.arg(typeName)))
	}
}

func (w *sqlWhere) String() string {
	if len(w.parts) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.parts, " AND ")
}

// buildQuery renders q as a SELECT over the records table. Field names must
// have passed validateQuery.
func buildQuery(d dialect, q core.Query) (string, []any) {
	w := newWhere(d)
	w.typePrefix(q.Type)
	if len(q.Any) > 0 {
		groups := make([]string, 0, len(q.Any))
		for _, group := range q.Any {
			if len(group) == 0 {
				groups = append(groups, "1 = 1")
				continue
			}
			conds := make([]string, 0, len(group))
			for _, c := range group {
				conds = append(conds, w.condition(c))
			}
			groups = append(groups, "("+strings.Join(conds, " AND ")+")")
		}
		w.add("(" + strings.Join(groups, " OR ") + ")")
	}
	if q.ActiveOnly {
		w.add(d.active)
	}
	return "SELECT " + recordColumns + " FROM records" + w.String() + " ORDER BY id, version", w.args
}

// buildGetRecord selects the current row of id, or the superseded row whose
// version ID is id
func buildGetRecord(d dialect, typeName, id string) (string, []any) {
	w := newWhere(d)
	cur := d.placeholder(1)
	ver := d.placeholder(2)
	w.args = append(w.args, id, id)
	w.add(fmt.Sprintf("((id = %s AND %s) OR (version_id = %s AND %s))", cur, d.current, ver, d.superseded))
	w.typePrefix(typeName)
	return "SELECT " + recordColumns + " FROM records" + w.String(), w.args
}
