package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/metrics"
)

// AddEdge creates a directed typed edge between two existing nodes. Creating
// an identical (source, target, type) edge again is a no-op. The weight
// defaults to DefaultEdgeWeight when the caller passes zero.
func (s *Store) AddEdge(ctx context.Context, projectName string, edge apptype.Edge) error {
	done := metrics.TimeOp("db_add_edge")
	success := false
	defer func() { done(success) }()

	if edge.Source == "" || edge.Target == "" || edge.Type == "" {
		return &apptype.ValidationError{Op: "add_edge", Field: "edge", Reason: "source, target, and type cannot be empty"}
	}
	if edge.Weight < 0 || edge.Weight > 1 {
		return &apptype.ValidationError{Op: "add_edge", Field: "weight", Reason: "must be within [0,1]"}
	}
	weight := edge.Weight
	if weight == 0 {
		weight = apptype.DefaultEdgeWeight
	}

	db, err := s.getDB(projectName)
	if err != nil {
		return err
	}

	var props any
	if len(edge.Properties) > 0 {
		b, mErr := json.Marshal(edge.Properties)
		if mErr != nil {
			return fmt.Errorf("failed to marshal edge properties: %w", mErr)
		}
		props = string(b)
	}

	return s.withRetry(ctx, "add_edge", func() error {
		tx, txErr := db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}
		defer tx.Rollback()

		// Both endpoints must exist before linking
		rows, qErr := tx.QueryContext(ctx, "SELECT id FROM nodes WHERE id IN (?, ?)", edge.Source, edge.Target)
		if qErr != nil {
			return fmt.Errorf("failed to verify edge endpoints: %w", qErr)
		}
		found := make(map[string]bool, 2)
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err == nil {
				found[id] = true
			}
		}
		rows.Close()
		if !found[edge.Source] {
			return &apptype.NotFoundError{Op: "add_edge", Kind: "node", ID: edge.Source}
		}
		if !found[edge.Target] {
			return &apptype.NotFoundError{Op: "add_edge", Kind: "node", ID: edge.Target}
		}

		if _, iErr := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO edges (source, target, edge_type, weight, properties) VALUES (?, ?, ?, ?, ?)",
			edge.Source, edge.Target, string(edge.Type), weight, props); iErr != nil {
			return fmt.Errorf("failed to insert edge (%s -> %s): %w", edge.Source, edge.Target, iErr)
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		success = true
		return nil
	})
}

// UpdateEdgeWeight sets the weight of an existing edge. The weight is the
// only mutable edge attribute after creation.
func (s *Store) UpdateEdgeWeight(ctx context.Context, projectName, source, target string, edgeType apptype.RelationType, weight float64) error {
	done := metrics.TimeOp("db_update_edge_weight")
	success := false
	defer func() { done(success) }()

	if weight < 0 || weight > 1 {
		return &apptype.ValidationError{Op: "update_edge_weight", Field: "weight", Reason: "must be within [0,1]"}
	}
	db, err := s.getDB(projectName)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, "update_edge_weight", func() error {
		result, uErr := db.ExecContext(ctx,
			"UPDATE edges SET weight = ? WHERE source = ? AND target = ? AND edge_type = ?",
			weight, source, target, string(edgeType))
		if uErr != nil {
			return fmt.Errorf("failed to update edge weight: %w", uErr)
		}
		affected, raErr := result.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("failed to get rows affected: %w", raErr)
		}
		if affected == 0 {
			return &apptype.NotFoundError{Op: "update_edge_weight", Kind: "edge", ID: fmt.Sprintf("%s -> %s (%s)", source, target, edgeType)}
		}
		success = true
		return nil
	})
}

// NudgeEdgeWeight shifts an edge's weight by delta, clamped to [0,1], in a
// single UPDATE so concurrent nudges on the same edge each apply from the
// committed value. A missing edge is a no-op; it reports whether an edge
// was adjusted.
func (s *Store) NudgeEdgeWeight(ctx context.Context, projectName, source, target string, edgeType apptype.RelationType, delta float64) (bool, error) {
	done := metrics.TimeOp("db_nudge_edge_weight")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(projectName)
	if err != nil {
		return false, err
	}

	var affected int64
	err = s.withRetry(ctx, "nudge_edge_weight", func() error {
		result, uErr := db.ExecContext(ctx,
			"UPDATE edges SET weight = MIN(1.0, MAX(0.0, weight + ?)) WHERE source = ? AND target = ? AND edge_type = ?",
			delta, source, target, string(edgeType))
		if uErr != nil {
			return fmt.Errorf("failed to nudge edge weight: %w", uErr)
		}
		affected, uErr = result.RowsAffected()
		if uErr != nil {
			return fmt.Errorf("failed to get rows affected: %w", uErr)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	success = true
	return affected > 0, nil
}

// touchingEdges returns all edges of the allowed types that touch any of the
// given node ids, in either direction. Traversal treats typed edges as
// undirected while preserving their stored orientation.
func (s *Store) touchingEdges(ctx context.Context, projectName string, ids []string, allowedTypes []apptype.RelationType) ([]apptype.Edge, error) {
	if len(ids) == 0 {
		return []apptype.Edge{}, nil
	}
	db, err := s.getDB(projectName)
	if err != nil {
		return nil, err
	}

	idPlaceholders := strings.Repeat("?,", len(ids))
	idPlaceholders = idPlaceholders[:len(idPlaceholders)-1]
	query := fmt.Sprintf(`SELECT source, target, edge_type, weight FROM edges WHERE (source IN (%s) OR target IN (%s))`, idPlaceholders, idPlaceholders)

	args := make([]any, 0, len(ids)*2+len(allowedTypes))
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	if len(allowedTypes) > 0 {
		typePlaceholders := strings.Repeat("?,", len(allowedTypes))
		typePlaceholders = typePlaceholders[:len(typePlaceholders)-1]
		query += fmt.Sprintf(" AND edge_type IN (%s)", typePlaceholders)
		for _, t := range allowedTypes {
			args = append(args, string(t))
		}
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	edges := make([]apptype.Edge, 0)
	for rows.Next() {
		var source, target, edgeType string
		var weight float64
		if err := rows.Scan(&source, &target, &edgeType, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, apptype.Edge{
			Source: source,
			Target: target,
			Type:   apptype.RelationType(edgeType),
			Weight: weight,
		})
	}
	return edges, rows.Err()
}

// EdgesForNodes exposes the edges touching the given nodes, for callers that
// need the surrounding subgraph.
func (s *Store) EdgesForNodes(ctx context.Context, projectName string, ids []string) ([]apptype.Edge, error) {
	return s.touchingEdges(ctx, projectName, ids, nil)
}
