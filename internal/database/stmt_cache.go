package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/opentriage/diagraph-go/internal/metrics"
)

// getPreparedStmt returns or prepares and caches a statement for the given project DB.
func (s *Store) getPreparedStmt(ctx context.Context, projectName string, db *sql.DB, sqlText string) (*sql.Stmt, error) {
	// fast path read
	s.stmtMu.RLock()
	if projCache, ok := s.stmtCache[projectName]; ok {
		if stmt, ok2 := projCache[sqlText]; ok2 {
			s.stmtMu.RUnlock()
			metrics.Default().IncStmtCacheHit("prepare")
			return stmt, nil
		}
	}
	s.stmtMu.RUnlock()
	metrics.Default().IncStmtCacheMiss("prepare")

	stmt, err := db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	s.stmtMu.Lock()
	if _, ok := s.stmtCache[projectName]; !ok {
		s.stmtCache[projectName] = make(map[string]*sql.Stmt)
	}
	s.stmtCache[projectName][sqlText] = stmt
	s.stmtMu.Unlock()
	return stmt, nil
}
