package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/metrics"
)

// validateNode enforces required fields and score bounds before persistence.
func validateNode(node apptype.Node) error {
	op := "upsert_node"
	switch node.Kind {
	case apptype.KindIssue:
		if node.Issue == nil {
			return &apptype.ValidationError{Op: op, Field: "issue", Reason: "issue payload is required"}
		}
		if strings.TrimSpace(node.Issue.Title) == "" {
			return &apptype.ValidationError{Op: op, Field: "title", Reason: "must be a non-empty string"}
		}
		if strings.TrimSpace(node.Issue.Description) == "" {
			return &apptype.ValidationError{Op: op, Field: "description", Reason: "must be a non-empty string"}
		}
		if len(node.Issue.Symptoms) == 0 {
			return &apptype.ValidationError{Op: op, Field: "symptoms", Reason: "issue must have at least one symptom"}
		}
		if node.Issue.ResolutionRate < 0 || node.Issue.ResolutionRate > 1 {
			return &apptype.ValidationError{Op: op, Field: "resolution_rate", Reason: "must be within [0,1]"}
		}
	case apptype.KindCause:
		if node.Cause == nil {
			return &apptype.ValidationError{Op: op, Field: "cause", Reason: "cause payload is required"}
		}
		if strings.TrimSpace(node.Cause.Title) == "" {
			return &apptype.ValidationError{Op: op, Field: "title", Reason: "must be a non-empty string"}
		}
		if strings.TrimSpace(node.Cause.IssueID) == "" {
			return &apptype.ValidationError{Op: op, Field: "issue_id", Reason: "cause must reference its owning issue"}
		}
		if node.Cause.Likelihood < 0 || node.Cause.Likelihood > 1 {
			return &apptype.ValidationError{Op: op, Field: "likelihood", Reason: "must be within [0,1]"}
		}
		if node.Cause.Confidence < 0 || node.Cause.Confidence > 1 {
			return &apptype.ValidationError{Op: op, Field: "confidence", Reason: "must be within [0,1]"}
		}
	case apptype.KindSolution:
		if node.Solution == nil {
			return &apptype.ValidationError{Op: op, Field: "solution", Reason: "solution payload is required"}
		}
		if strings.TrimSpace(node.Solution.Title) == "" {
			return &apptype.ValidationError{Op: op, Field: "title", Reason: "must be a non-empty string"}
		}
		if node.Solution.SuccessRate < 0 || node.Solution.SuccessRate > 1 {
			return &apptype.ValidationError{Op: op, Field: "success_rate", Reason: "must be within [0,1]"}
		}
	default:
		return &apptype.ValidationError{Op: op, Field: "kind", Reason: fmt.Sprintf("unsupported node kind %q", node.Kind)}
	}
	return nil
}

// attrsJSON marshals the node variant without its embedding, which is stored
// in the dedicated blob column.
func attrsJSON(node apptype.Node) (string, error) {
	var payload any
	switch node.Kind {
	case apptype.KindIssue:
		cp := *node.Issue
		cp.Embedding = nil
		payload = cp
	case apptype.KindCause:
		payload = *node.Cause
	case apptype.KindSolution:
		cp := *node.Solution
		cp.Embedding = nil
		payload = cp
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node attrs: %w", err)
	}
	return string(b), nil
}

// UpsertNode stores a node, generating an id when the record carries none,
// and returns the node id. Callers must compute embeddings beforehand; an
// absent embedding is stored as the zero placeholder and excluded from
// vector search.
func (s *Store) UpsertNode(ctx context.Context, projectName string, node apptype.Node) (string, error) {
	done := metrics.TimeOp("db_upsert_node")
	success := false
	defer func() { done(success) }()

	if err := validateNode(node); err != nil {
		return "", err
	}

	var id string
	switch node.Kind {
	case apptype.KindIssue:
		if node.Issue.ID == "" {
			node.Issue.ID = uuid.NewString()
		}
		id = node.Issue.ID
	case apptype.KindCause:
		if node.Cause.ID == "" {
			node.Cause.ID = uuid.NewString()
		}
		id = node.Cause.ID
	case apptype.KindSolution:
		if node.Solution.ID == "" {
			node.Solution.ID = uuid.NewString()
		}
		id = node.Solution.ID
	}

	db, err := s.getDB(projectName)
	if err != nil {
		return "", err
	}

	attrs, err := attrsJSON(node)
	if err != nil {
		return "", err
	}
	vectorString, err := s.vectorToString(node.Embedding())
	if err != nil {
		return "", fmt.Errorf("failed to convert embedding for node %q: %w", id, err)
	}

	var issueType, severity any
	if node.Kind == apptype.KindIssue {
		issueType = string(node.Issue.IssueType)
		severity = string(node.Issue.Severity)
	}

	err = s.withRetry(ctx, "upsert_node", func() error {
		tx, txErr := db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction for node %q: %w", id, txErr)
		}
		defer tx.Rollback()

		result, uErr := tx.ExecContext(ctx,
			`UPDATE nodes SET kind = ?, title = ?, description = ?, issue_type = ?, severity = ?, attrs = ?, embedding = vector32(?) WHERE id = ?`,
			string(node.Kind), node.Title(), nodeDescription(node), issueType, severity, attrs, vectorString, id)
		if uErr != nil {
			return fmt.Errorf("failed to update node %q: %w", id, uErr)
		}
		rowsAffected, raErr := result.RowsAffected()
		if raErr != nil {
			return fmt.Errorf("failed to get rows affected for update: %w", raErr)
		}
		if rowsAffected == 0 {
			if _, iErr := tx.ExecContext(ctx,
				`INSERT INTO nodes (id, kind, title, description, issue_type, severity, attrs, embedding) VALUES (?, ?, ?, ?, ?, ?, ?, vector32(?))`,
				id, string(node.Kind), node.Title(), nodeDescription(node), issueType, severity, attrs, vectorString); iErr != nil {
				return fmt.Errorf("failed to insert node %q: %w", id, iErr)
			}
		}

		if node.Kind == apptype.KindIssue {
			if _, dErr := tx.ExecContext(ctx, "DELETE FROM symptoms WHERE node_id = ?", id); dErr != nil {
				return fmt.Errorf("failed to delete old symptoms for node %q: %w", id, dErr)
			}
			for _, symptom := range node.Issue.Symptoms {
				if strings.TrimSpace(symptom) == "" {
					return &apptype.ValidationError{Op: "upsert_node", Field: "symptoms", Reason: "symptom cannot be empty"}
				}
				if _, sErr := tx.ExecContext(ctx,
					"INSERT INTO symptoms (node_id, content) VALUES (?, ?)", id, symptom); sErr != nil {
					return fmt.Errorf("failed to insert symptom for node %q: %w", id, sErr)
				}
			}
		}

		return tx.Commit()
	})
	if err != nil {
		return "", err
	}

	success = true
	return id, nil
}

func nodeDescription(node apptype.Node) string {
	switch node.Kind {
	case apptype.KindIssue:
		return node.Issue.Description
	case apptype.KindCause:
		return node.Cause.Description
	case apptype.KindSolution:
		return node.Solution.Description
	}
	return ""
}

// scanNode rebuilds a typed node from its row.
func (s *Store) scanNode(id, kind, attrs string, embeddingBytes []byte) (apptype.Node, error) {
	vector, err := s.extractVector(embeddingBytes)
	if err != nil {
		return apptype.Node{}, fmt.Errorf("failed to extract vector for node %q: %w", id, err)
	}
	if isZeroVector(vector) {
		vector = nil
	}

	node := apptype.Node{Kind: apptype.NodeKind(kind)}
	switch node.Kind {
	case apptype.KindIssue:
		var issue apptype.Issue
		if err := json.Unmarshal([]byte(attrs), &issue); err != nil {
			return apptype.Node{}, fmt.Errorf("failed to unmarshal issue attrs for %q: %w", id, err)
		}
		issue.ID = id
		issue.Embedding = vector
		node.Issue = &issue
	case apptype.KindCause:
		var cause apptype.Cause
		if err := json.Unmarshal([]byte(attrs), &cause); err != nil {
			return apptype.Node{}, fmt.Errorf("failed to unmarshal cause attrs for %q: %w", id, err)
		}
		cause.ID = id
		node.Cause = &cause
	case apptype.KindSolution:
		var solution apptype.Solution
		if err := json.Unmarshal([]byte(attrs), &solution); err != nil {
			return apptype.Node{}, fmt.Errorf("failed to unmarshal solution attrs for %q: %w", id, err)
		}
		solution.ID = id
		solution.Embedding = vector
		node.Solution = &solution
	default:
		return apptype.Node{}, fmt.Errorf("unknown node kind %q for node %q", kind, id)
	}
	return node, nil
}

// GetNode retrieves a single node by id.
func (s *Store) GetNode(ctx context.Context, projectName string, id string) (apptype.Node, error) {
	done := metrics.TimeOp("db_get_node")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(id) == "" {
		return apptype.Node{}, &apptype.ValidationError{Op: "get_node", Field: "id", Reason: "must be a non-empty string"}
	}
	db, err := s.getDB(projectName)
	if err != nil {
		return apptype.Node{}, err
	}

	stmt, err := s.getPreparedStmt(ctx, projectName, db, "SELECT id, kind, attrs, embedding FROM nodes WHERE id = ?")
	if err != nil {
		return apptype.Node{}, err
	}

	var nodeID, kind, attrs string
	var embeddingBytes []byte
	if err := stmt.QueryRowContext(ctx, id).Scan(&nodeID, &kind, &attrs, &embeddingBytes); err != nil {
		if err == sql.ErrNoRows {
			return apptype.Node{}, &apptype.NotFoundError{Op: "get_node", Kind: "node", ID: id}
		}
		return apptype.Node{}, fmt.Errorf("failed to scan node: %w", err)
	}

	node, err := s.scanNode(nodeID, kind, attrs, embeddingBytes)
	if err != nil {
		return apptype.Node{}, err
	}
	success = true
	return node, nil
}

// GetNodes retrieves multiple nodes by id. Missing ids are skipped.
func (s *Store) GetNodes(ctx context.Context, projectName string, ids []string) ([]apptype.Node, error) {
	if len(ids) == 0 {
		return []apptype.Node{}, nil
	}
	db, err := s.getDB(projectName)
	if err != nil {
		return nil, err
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("SELECT id, kind, attrs, embedding FROM nodes WHERE id IN (%s)", placeholders)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]apptype.Node, len(ids))
	for rows.Next() {
		var id, kind, attrs string
		var embeddingBytes []byte
		if err := rows.Scan(&id, &kind, &attrs, &embeddingBytes); err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		node, err := s.scanNode(id, kind, attrs, embeddingBytes)
		if err != nil {
			return nil, err
		}
		byID[id] = node
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node rows: %w", err)
	}

	// Preserve caller ordering
	nodes := make([]apptype.Node, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if node, ok := byID[id]; ok {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// nodeKinds returns the kind for each of the given ids in one query.
func (s *Store) nodeKinds(ctx context.Context, projectName string, ids []string) (map[string]apptype.NodeKind, error) {
	kinds := make(map[string]apptype.NodeKind, len(ids))
	if len(ids) == 0 {
		return kinds, nil
	}
	db, err := s.getDB(projectName)
	if err != nil {
		return nil, err
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT id, kind FROM nodes WHERE id IN (%s)", placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query node kinds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan node kind: %w", err)
		}
		kinds[id] = apptype.NodeKind(kind)
	}
	return kinds, rows.Err()
}

// ApplyIssueFeedback folds a session outcome into the issue's running
// metrics: occurrence count, resolution rate, and average resolution time.
// The whole update runs as one UPDATE statement so concurrent feedback on
// the same issue never reads a stale counter.
func (s *Store) ApplyIssueFeedback(ctx context.Context, projectName, issueID string, resolved bool, resolutionMinutes float64) error {
	done := metrics.TimeOp("db_apply_issue_feedback")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(projectName)
	if err != nil {
		return err
	}

	outcome := 0.0
	if resolved {
		outcome = 1.0
	}
	// Only resolved sessions contribute to the resolution-time average.
	minutes := 0.0
	if resolved {
		minutes = resolutionMinutes
	}

	var affected int64
	err = s.withRetry(ctx, "apply_issue_feedback", func() error {
		result, uErr := db.ExecContext(ctx,
			`UPDATE nodes SET attrs = json_set(attrs,
			    '$.occurrence_count',
			        COALESCE(json_extract(attrs, '$.occurrence_count'), 0) + 1,
			    '$.resolution_rate',
			        (COALESCE(json_extract(attrs, '$.resolution_rate'), 0) * COALESCE(json_extract(attrs, '$.occurrence_count'), 0) + ?)
			            / (COALESCE(json_extract(attrs, '$.occurrence_count'), 0) + 1),
			    '$.avg_resolution_minutes', CASE
			        WHEN ? <= 0 THEN COALESCE(json_extract(attrs, '$.avg_resolution_minutes'), 0)
			        WHEN COALESCE(json_extract(attrs, '$.avg_resolution_minutes'), 0) <= 0 THEN ?
			        ELSE (COALESCE(json_extract(attrs, '$.avg_resolution_minutes'), 0) * COALESCE(json_extract(attrs, '$.occurrence_count'), 0) + ?)
			            / (COALESCE(json_extract(attrs, '$.occurrence_count'), 0) + 1)
			    END
			) WHERE id = ? AND kind = ?`,
			outcome, minutes, minutes, minutes, issueID, string(apptype.KindIssue))
		if uErr != nil {
			return fmt.Errorf("failed to apply feedback to issue %q: %w", issueID, uErr)
		}
		affected, uErr = result.RowsAffected()
		if uErr != nil {
			return fmt.Errorf("failed to get rows affected: %w", uErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.feedbackTargetError(ctx, projectName, "apply_issue_feedback", "issue_id", issueID, apptype.KindIssue)
	}
	success = true
	return nil
}

// feedbackTargetError distinguishes a missing node from a node of the wrong
// kind after a guarded feedback UPDATE matched no rows.
func (s *Store) feedbackTargetError(ctx context.Context, projectName, op, field, id string, want apptype.NodeKind) error {
	node, err := s.GetNode(ctx, projectName, id)
	if err != nil {
		return err
	}
	return &apptype.ValidationError{Op: op, Field: field, Reason: fmt.Sprintf("node %q has kind %s, expected %s", id, node.Kind, want)}
}

// solutionOutcomeAlpha controls how quickly feedback moves a solution's
// success rate. Tunable, not fundamental.
const solutionOutcomeAlpha = 0.25

// ApplySolutionOutcome nudges a solution's success rate toward the observed
// outcome using an exponential moving average. Like ApplyIssueFeedback, the
// read and write happen in one UPDATE statement.
func (s *Store) ApplySolutionOutcome(ctx context.Context, projectName, solutionID string, succeeded bool) error {
	done := metrics.TimeOp("db_apply_solution_outcome")
	success := false
	defer func() { done(success) }()

	db, err := s.getDB(projectName)
	if err != nil {
		return err
	}

	outcome := 0.0
	if succeeded {
		outcome = 1.0
	}

	var affected int64
	err = s.withRetry(ctx, "apply_solution_outcome", func() error {
		result, uErr := db.ExecContext(ctx,
			`UPDATE nodes SET attrs = json_set(attrs,
			    '$.success_rate', MIN(1.0, MAX(0.0,
			        COALESCE(json_extract(attrs, '$.success_rate'), 0)
			            + (? - COALESCE(json_extract(attrs, '$.success_rate'), 0)) * ?))
			) WHERE id = ? AND kind = ?`,
			outcome, solutionOutcomeAlpha, solutionID, string(apptype.KindSolution))
		if uErr != nil {
			return fmt.Errorf("failed to apply outcome to solution %q: %w", solutionID, uErr)
		}
		affected, uErr = result.RowsAffected()
		if uErr != nil {
			return fmt.Errorf("failed to get rows affected: %w", uErr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.feedbackTargetError(ctx, projectName, "apply_solution_outcome", "solution_id", solutionID, apptype.KindSolution)
	}
	success = true
	return nil
}
