package database

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension.
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		// Typed nodes: issues, causes, solutions. Kind-specific attributes
		// live in the attrs JSON document; issue_type/severity are lifted
		// into columns so vector search can filter without JSON extraction.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nodes (
        id TEXT PRIMARY KEY,
        kind TEXT NOT NULL,
        title TEXT NOT NULL,
        description TEXT NOT NULL,
        issue_type TEXT,
        severity TEXT,
        attrs TEXT NOT NULL,
        embedding F32_BLOB(%d),
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`, embeddingDims),

		// Symptom strings for issues, kept row-per-symptom for keyword search.
		`CREATE TABLE IF NOT EXISTS symptoms (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        node_id TEXT NOT NULL,
        content TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (node_id) REFERENCES nodes(id)
    )`,

		// Directed typed edges. The uniqueness constraint makes AddEdge
		// idempotent for identical (source, target, type) triples.
		`CREATE TABLE IF NOT EXISTS edges (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source TEXT NOT NULL,
        target TEXT NOT NULL,
        edge_type TEXT NOT NULL,
        weight REAL NOT NULL DEFAULT 0.8,
        properties TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (source) REFERENCES nodes(id),
        FOREIGN KEY (target) REFERENCES nodes(id),
        UNIQUE (source, target, edge_type)
    )`,

		`CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_created_at ON nodes(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_symptoms_node ON symptoms(node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_type_source ON edges(edge_type, source)`,

		// Vector index for similarity search.
		`CREATE INDEX IF NOT EXISTS idx_nodes_embedding ON nodes(libsql_vector_idx(embedding))`,
	}
}
