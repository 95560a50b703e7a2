package index

import (
	"fmt"
	"strings"

	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// EdgeFilter matches nodes by edge presence
type EdgeFilter struct {
	Type      node.EdgeType
	Direction string // "out", "in" or "both"
	Target    string // optional: constrain the far end
}

// Filter is the declarative query filter. Zero values mean "no
// constraint". Date bounds are ISO-8601 strings compared textually,
// which agrees with chronological order for the stored format.
type Filter struct {
	Types      []node.Type
	Statuses   []node.Status
	Validities []node.Validity
	Priorities []node.Priority
	AssignedTo *string // pointer to "" matches unassigned (IS NULL)
	Tags       []string
	TagsAny    []string
	HasEdge    *EdgeFilter
	CreatedAfter   string
	CreatedBefore  string
	ModifiedAfter  string
	ModifiedBefore string
	DueBefore      string
	DueAfter       string
	Search         string
}

// Sort orders query results. Field "priority" uses the explicit
// critical < high < normal < low ordering; "title" collates
// case-insensitively; any other allowed field is a plain column sort.
type Sort struct {
	Field string
	Desc  bool
}

var sortColumns = map[string]string{
	"title":       "n.title",
	"priority":    "", // CASE expression, built below
	"created_at":  "n.created_at",
	"modified_at": "n.modified_at",
	"due_at":      "n.due_at",
	"version":     "n.version",
	"confidence":  "n.confidence",
	"status":      "n.status",
	"type":        "n.type",
}

const priorityOrder = `CASE n.priority
	WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END`

// Query plans and runs a filtered id query against the mirror.
// Results are ids only; callers load full nodes from files.
func (i *Index) Query(f Filter, sort *Sort, limit, offset int) ([]string, error) {
	var (
		joins []string
		where []string
		args  []interface{}
	)

	// One join per required tag, each pinned to that tag
	for idx, tag := range f.Tags {
		alias := fmt.Sprintf("t%d", idx)
		joins = append(joins, fmt.Sprintf("JOIN node_tags %s ON %s.node_id = n.id AND %s.tag = ?", alias, alias, alias))
		args = append(args, tag)
	}
	// One join with a set predicate for any-of tags
	if len(f.TagsAny) > 0 {
		joins = append(joins, fmt.Sprintf("JOIN node_tags ta ON ta.node_id = n.id AND ta.tag IN (%s)", placeholders(len(f.TagsAny))))
		for _, tag := range f.TagsAny {
			args = append(args, tag)
		}
	}
	if f.HasEdge != nil {
		var on string
		switch f.HasEdge.Direction {
		case "out", "":
			on = "e.from_node = n.id"
		case "in":
			on = "e.to_node = n.id"
		case "both":
			on = "(e.from_node = n.id OR e.to_node = n.id)"
		default:
			return nil, types.E(types.KindInvalidInput, "index.query", "bad edge direction %q", f.HasEdge.Direction)
		}
		join := fmt.Sprintf("JOIN edges e ON %s AND e.type = ?", on)
		args = append(args, string(f.HasEdge.Type))
		if f.HasEdge.Target != "" {
			far := "e.to_node"
			if f.HasEdge.Direction == "in" {
				far = "e.from_node"
			}
			join += fmt.Sprintf(" AND %s = ?", far)
			args = append(args, f.HasEdge.Target)
		}
		joins = append(joins, join)
	}

	addEnumSet := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		where = append(where, fmt.Sprintf("n.%s IN (%s)", column, placeholders(len(values))))
		for _, v := range values {
			args = append(args, v)
		}
	}
	addEnumSet("type", stringify(f.Types))
	addEnumSet("status", stringify(f.Statuses))
	addEnumSet("validity", stringify(f.Validities))
	addEnumSet("priority", stringify(f.Priorities))

	if f.AssignedTo != nil {
		if *f.AssignedTo == "" {
			where = append(where, "n.assigned_to IS NULL")
		} else {
			where = append(where, "n.assigned_to = ?")
			args = append(args, *f.AssignedTo)
		}
	}

	addBound := func(column, op, v string) {
		if v == "" {
			return
		}
		where = append(where, fmt.Sprintf("n.%s %s ?", column, op))
		args = append(args, v)
	}
	addBound("created_at", ">=", f.CreatedAfter)
	addBound("created_at", "<=", f.CreatedBefore)
	addBound("modified_at", ">=", f.ModifiedAfter)
	addBound("modified_at", "<=", f.ModifiedBefore)
	addBound("due_at", "<=", f.DueBefore)
	addBound("due_at", ">=", f.DueAfter)

	if f.Search != "" {
		where = append(where, "(n.title LIKE ? COLLATE NOCASE OR n.content_preview LIKE ? COLLATE NOCASE)")
		pattern := "%" + f.Search + "%"
		args = append(args, pattern, pattern)
	}

	// sqlite requires ORDER BY terms of a DISTINCT select to appear in
	// the result set, so the sort expression is selected alongside the id
	sortExpr, sortDir, err := sortTerm(sort)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT DISTINCT n.id, n.rowid")
	if sortExpr != "" {
		sb.WriteString(", ")
		sb.WriteString(sortExpr)
		sb.WriteString(" AS ord")
	}
	sb.WriteString(" FROM nodes n")
	for _, j := range joins {
		sb.WriteString(" ")
		sb.WriteString(j)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if sortExpr != "" {
		sb.WriteString(fmt.Sprintf(" ORDER BY ord %s, n.rowid ASC", sortDir))
	} else {
		sb.WriteString(" ORDER BY n.rowid ASC")
	}

	if limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", limit))
		if offset > 0 {
			sb.WriteString(fmt.Sprintf(" OFFSET %d", offset))
		}
	} else if offset > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT -1 OFFSET %d", offset))
	}

	rows, err := i.db.Query(sb.String(), args...)
	if err != nil {
		return nil, types.Wrap(types.KindIndex, "index.query", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var rowid int64
		dest := []interface{}{&id, &rowid}
		if sortExpr != "" {
			var ord interface{}
			dest = append(dest, &ord)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, types.Wrap(types.KindIndex, "index.query", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// sortTerm returns the select expression and direction for a sort, or
// an empty expression for the default insertion order
func sortTerm(sort *Sort) (string, string, error) {
	if sort == nil {
		return "", "", nil
	}
	dir := "ASC"
	if sort.Desc {
		dir = "DESC"
	}
	if sort.Field == "priority" {
		return priorityOrder, dir, nil
	}
	col, ok := sortColumns[sort.Field]
	if !ok || col == "" {
		return "", "", types.E(types.KindInvalidInput, "index.query", "bad sort field %q", sort.Field)
	}
	if sort.Field == "title" {
		return col + " COLLATE NOCASE", dir, nil
	}
	return col, dir, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// stringify converts an enum slice into plain strings for binding
func stringify[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
