// Package index maintains the structured sqlite mirror of node files:
// one row per node plus the source side of its edges and its tags.
// Queries run against the mirror; a disagreement with the files is
// resolved by rebuilding from the files.
package index

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nenadatanasovski/memory-cube/internal/node"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// timeLayout matches the node file timestamp format so string
// comparison in SQL agrees with chronological order
const timeLayout = "2006-01-02T15:04:05.000Z"

// Index wraps the sqlite mirror database
type Index struct {
	db   *sql.DB
	path string
}

// Open opens or creates the index database, enabling WAL journaling and
// referential integrity
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, types.Wrap(types.KindIndex, "index.open", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, types.Wrap(types.KindIndex, "index.open", err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, types.Wrap(types.KindIndex, "index.open", err)
	}
	return &Index{db: db, path: path}, nil
}

// Close releases the database connection
func (i *Index) Close() error {
	return i.db.Close()
}

// withTx executes fn inside a transaction, rolling back on error
func (i *Index) withTx(op string, fn func(*sql.Tx) error) error {
	tx, err := i.db.Begin()
	if err != nil {
		return types.Wrap(types.KindIndex, op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return types.Wrap(types.KindIndex, op, err)
	}
	if err := tx.Commit(); err != nil {
		return types.Wrap(types.KindIndex, op, err)
	}
	return nil
}

// IndexNode upserts a node row and replaces its edge and tag rows in a
// single transaction; a failure leaves the index unchanged
func (i *Index) IndexNode(n *node.Node) error {
	return i.withTx("index.index_node", func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO nodes (id, type, status, validity, priority, confidence,
				created_by, assigned_to, locked_by, created_at, modified_at, due_at,
				title, content_preview, semantic_hash, file_path, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type=excluded.type, status=excluded.status, validity=excluded.validity,
				priority=excluded.priority, confidence=excluded.confidence,
				created_by=excluded.created_by, assigned_to=excluded.assigned_to,
				locked_by=excluded.locked_by, created_at=excluded.created_at,
				modified_at=excluded.modified_at, due_at=excluded.due_at,
				title=excluded.title, content_preview=excluded.content_preview,
				semantic_hash=excluded.semantic_hash, file_path=excluded.file_path,
				version=excluded.version`,
			n.ID, string(n.Type), string(n.Status), string(n.Validity), string(n.Priority),
			n.Confidence, nullString(n.CreatedBy), nullString(n.AssignedTo),
			nullString(n.LockedBy), formatTime(n.CreatedAt), formatTime(n.ModifiedAt),
			nullTime(n.DueAt), n.Title, n.ContentPreview, n.Ordering.SemanticHash,
			n.FilePath, n.Version)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM edges WHERE from_node = ?`, n.ID); err != nil {
			return err
		}
		for _, e := range n.Edges {
			var created interface{}
			if !e.CreatedAt.IsZero() {
				created = formatTime(e.CreatedAt)
			}
			// INSERT OR REPLACE: hand-edited files may carry duplicate
			// edges which collapse onto one deterministic id here
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO edges (id, from_node, to_node, type, created_at) VALUES (?, ?, ?, ?, ?)`,
				e.ID, e.From, e.To, string(e.Type), created); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM node_tags WHERE node_id = ?`, n.ID); err != nil {
			return err
		}
		for _, tag := range n.Tags {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO node_tags (node_id, tag) VALUES (?, ?)`,
				n.ID, tag); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveNode deletes a node row; its edge and tag rows cascade
func (i *Index) RemoveNode(id string) error {
	return i.withTx("index.remove_node", func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM nodes WHERE id = ?`, id)
		return err
	})
}

// Clear drops all rows, keeping the schema
func (i *Index) Clear() error {
	return i.withTx("index.clear", func(tx *sql.Tx) error {
		for _, table := range []string{"node_tags", "edges", "nodes"} {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return err
			}
		}
		return nil
	})
}

// Has reports whether a node row exists
func (i *Index) Has(id string) (bool, error) {
	var one int
	err := i.db.QueryRow(`SELECT 1 FROM nodes WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, types.Wrap(types.KindIndex, "index.has", err)
	}
	return true, nil
}

// Count returns the number of indexed nodes
func (i *Index) Count() (int, error) {
	var n int
	if err := i.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, types.Wrap(types.KindIndex, "index.count", err)
	}
	return n, nil
}

// EdgesFrom returns the outgoing edges recorded for a node
func (i *Index) EdgesFrom(id string) ([]node.Edge, error) {
	return i.queryEdges(`SELECT id, from_node, to_node, type, created_at FROM edges WHERE from_node = ? ORDER BY rowid`, id)
}

// EdgesTo returns the incoming edges recorded against a node
func (i *Index) EdgesTo(id string) ([]node.Edge, error) {
	return i.queryEdges(`SELECT id, from_node, to_node, type, created_at FROM edges WHERE to_node = ? ORDER BY rowid`, id)
}

func (i *Index) queryEdges(query, id string) ([]node.Edge, error) {
	rows, err := i.db.Query(query, id)
	if err != nil {
		return nil, types.Wrap(types.KindIndex, "index.edges", err)
	}
	defer rows.Close()

	var edges []node.Edge
	for rows.Next() {
		var e node.Edge
		var typ string
		var created sql.NullString
		if err := rows.Scan(&e.ID, &e.From, &e.To, &typ, &created); err != nil {
			return nil, types.Wrap(types.KindIndex, "index.edges", err)
		}
		e.Type = node.EdgeType(typ)
		if created.Valid {
			if t, err := time.Parse(time.RFC3339, created.String); err == nil {
				e.CreatedAt = t.UTC()
			}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Stats returns node counts grouped by type and by status
func (i *Index) Stats() (map[node.Type]int, map[node.Status]int, error) {
	byType := make(map[node.Type]int)
	byStatus := make(map[node.Status]int)

	rows, err := i.db.Query(`SELECT type, COUNT(*) FROM nodes GROUP BY type`)
	if err != nil {
		return nil, nil, types.Wrap(types.KindIndex, "index.stats", err)
	}
	for rows.Next() {
		var t string
		var c int
		if err := rows.Scan(&t, &c); err != nil {
			rows.Close()
			return nil, nil, types.Wrap(types.KindIndex, "index.stats", err)
		}
		byType[node.Type(t)] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, types.Wrap(types.KindIndex, "index.stats", err)
	}

	rows, err = i.db.Query(`SELECT status, COUNT(*) FROM nodes GROUP BY status`)
	if err != nil {
		return nil, nil, types.Wrap(types.KindIndex, "index.stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		var c int
		if err := rows.Scan(&s, &c); err != nil {
			return nil, nil, types.Wrap(types.KindIndex, "index.stats", err)
		}
		byStatus[node.Status(s)] = c
	}
	return byType, byStatus, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
