package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/metrics"
)

// VectorSearch returns the top-k nodes of the given kind ranked by cosine
// similarity to the query embedding, optionally restricted by issue-type and
// severity filters. Ties are broken by node id for determinism. Similarity is
// in [-1,1]; libSQL reports cosine distance, so similarity = 1 - distance.
func (s *Store) VectorSearch(ctx context.Context, projectName string, kind apptype.NodeKind, embedding []float32, k int, filters apptype.SearchFilters) ([]apptype.ScoredNode, error) {
	done := metrics.TimeOp("db_vector_search")
	success := false
	defer func() { done(success) }()

	if k < 1 {
		return nil, &apptype.ValidationError{Op: "vector_search", Field: "k", Reason: "must be >= 1"}
	}
	if len(embedding) == 0 {
		return nil, &apptype.ValidationError{Op: "vector_search", Field: "embedding", Reason: "query embedding cannot be empty"}
	}

	db, err := s.getDB(projectName)
	if err != nil {
		return nil, err
	}
	vectorString, err := s.vectorToString(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to convert search embedding: %w", err)
	}
	zeroString := s.vectorZeroString()

	filterSQL := ""
	filterArgs := make([]any, 0, 2)
	if filters.IssueType != "" {
		filterSQL += " AND n.issue_type = ?"
		filterArgs = append(filterArgs, string(filters.IssueType))
	}
	if filters.Severity != "" {
		filterSQL += " AND n.severity = ?"
		filterArgs = append(filterArgs, string(filters.Severity))
	}

	s.capMu.RLock()
	caps := s.capsByProject[projectName]
	s.capMu.RUnlock()
	useTopK := caps.vectorTopK

	var rows *sql.Rows
	if useTopK {
		topK := fmt.Sprintf(`WITH vt AS (
            SELECT id FROM vector_top_k('idx_nodes_embedding', vector32(?), ?)
        )
        SELECT n.id, n.kind, n.attrs, n.embedding,
               vector_distance_cos(n.embedding, vector32(?)) as distance
        FROM vt JOIN nodes n ON n.rowid = vt.id
        WHERE n.kind = ? AND n.embedding IS NOT NULL AND n.embedding != vector32(?)%s
        ORDER BY distance ASC, n.id ASC
        LIMIT ?`, filterSQL)
		args := append([]any{vectorString, k * 4, vectorString, string(kind), zeroString}, filterArgs...)
		args = append(args, k)
		stmt, pErr := s.getPreparedStmt(ctx, projectName, db, topK)
		if pErr != nil {
			return nil, pErr
		}
		rows, err = stmt.QueryContext(ctx, args...)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "no such function: vector_top_k") {
			s.capMu.Lock()
			c := s.capsByProject[projectName]
			c.vectorTopK = false
			s.capsByProject[projectName] = c
			s.capMu.Unlock()
			useTopK = false
		} else if err != nil {
			return nil, fmt.Errorf("failed ANN search: %w", err)
		}
	}
	if !useTopK {
		query := fmt.Sprintf(`SELECT n.id, n.kind, n.attrs, n.embedding,
               vector_distance_cos(n.embedding, vector32(?)) as distance
        FROM nodes n
        WHERE n.kind = ? AND n.embedding IS NOT NULL AND n.embedding != vector32(?)%s
        ORDER BY distance ASC, n.id ASC
        LIMIT ?`, filterSQL)
		args := append([]any{vectorString, string(kind), zeroString}, filterArgs...)
		args = append(args, k)
		stmt, pErr := s.getPreparedStmt(ctx, projectName, db, query)
		if pErr != nil {
			return nil, pErr
		}
		rows, err = stmt.QueryContext(ctx, args...)
	}
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "no such function: vector_distance_cos") || strings.Contains(low, "no such function: vector32") {
			return nil, &apptype.StoreUnavailableError{Op: "vector_search", Err: fmt.Errorf("vector search functions are unavailable in this libSQL build")}
		}
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	results := make([]apptype.ScoredNode, 0, k)
	for rows.Next() {
		var id, kindCol, attrs string
		var embeddingBytes []byte
		var distance float64
		if err := rows.Scan(&id, &kindCol, &attrs, &embeddingBytes, &distance); err != nil {
			log.Printf("Warning: Failed to scan search result row: %v", err)
			continue
		}
		node, err := s.scanNode(id, kindCol, attrs, embeddingBytes)
		if err != nil {
			log.Printf("Warning: Failed to rebuild node %q: %v", id, err)
			continue
		}
		results = append(results, apptype.ScoredNode{
			Node:       node,
			Similarity: 1 - distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	success = true
	return results, nil
}

// KeywordSearch performs text-based search over node titles, descriptions,
// and symptom strings. It is the degraded fallback when no query embedding
// can be produced.
func (s *Store) KeywordSearch(ctx context.Context, projectName string, kind apptype.NodeKind, query string, limit int) ([]apptype.Node, error) {
	done := metrics.TimeOp("db_keyword_search")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(query) == "" {
		return nil, &apptype.ValidationError{Op: "keyword_search", Field: "query", Reason: "cannot be empty"}
	}
	if limit <= 0 {
		limit = 5
	}
	db, err := s.getDB(projectName)
	if err != nil {
		return nil, err
	}

	like := fmt.Sprintf("%%%s%%", query)
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT n.id, n.kind, n.attrs, n.embedding
		FROM nodes n
		LEFT JOIN symptoms sy ON n.id = sy.node_id
		WHERE n.kind = ? AND (n.title LIKE ? OR n.description LIKE ? OR sy.content LIKE ?)
		ORDER BY n.id
		LIMIT ?
	`, string(kind), like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer rows.Close()

	nodes := make([]apptype.Node, 0, limit)
	for rows.Next() {
		var id, kindCol, attrs string
		var embeddingBytes []byte
		if err := rows.Scan(&id, &kindCol, &attrs, &embeddingBytes); err != nil {
			log.Printf("Warning: Failed to scan keyword result row: %v", err)
			continue
		}
		node, err := s.scanNode(id, kindCol, attrs, embeddingBytes)
		if err != nil {
			log.Printf("Warning: Failed to rebuild node %q: %v", id, err)
			continue
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keyword results: %w", err)
	}
	success = true
	return nodes, nil
}
