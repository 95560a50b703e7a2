package index

// schemaSQL creates the mirror tables. The files stay the source of
// truth; everything here can be rebuilt from them.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	status          TEXT NOT NULL,
	validity        TEXT NOT NULL,
	priority        TEXT NOT NULL,
	confidence      REAL NOT NULL,
	created_by      TEXT,
	assigned_to     TEXT,
	locked_by       TEXT,
	created_at      TEXT NOT NULL,
	modified_at     TEXT NOT NULL,
	due_at          TEXT,
	title           TEXT NOT NULL,
	content_preview TEXT NOT NULL,
	semantic_hash   TEXT NOT NULL,
	file_path       TEXT NOT NULL,
	version         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	id         TEXT PRIMARY KEY,
	from_node  TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	to_node    TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at TEXT
);

CREATE TABLE IF NOT EXISTS node_tags (
	node_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	tag     TEXT NOT NULL,
	PRIMARY KEY (node_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_nodes_type        ON nodes(type);
CREATE INDEX IF NOT EXISTS idx_nodes_status      ON nodes(status);
CREATE INDEX IF NOT EXISTS idx_nodes_validity    ON nodes(validity);
CREATE INDEX IF NOT EXISTS idx_nodes_priority    ON nodes(priority);
CREATE INDEX IF NOT EXISTS idx_nodes_assigned_to ON nodes(assigned_to);
CREATE INDEX IF NOT EXISTS idx_nodes_created_at  ON nodes(created_at);
CREATE INDEX IF NOT EXISTS idx_nodes_modified_at ON nodes(modified_at);
CREATE INDEX IF NOT EXISTS idx_nodes_due_at      ON nodes(due_at);
CREATE INDEX IF NOT EXISTS idx_edges_type        ON edges(type);
CREATE INDEX IF NOT EXISTS idx_edges_from        ON edges(from_node);
CREATE INDEX IF NOT EXISTS idx_edges_to          ON edges(to_node);
CREATE INDEX IF NOT EXISTS idx_node_tags_tag     ON node_tags(tag);
`
