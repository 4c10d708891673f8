package database

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// capFlags stores capability detection for a specific project/DB handle.
type capFlags struct {
	checked    bool
	vectorTopK bool
}

// detectCapabilitiesForProject probes presence of vector_top_k and records flags.
func (s *Store) detectCapabilitiesForProject(ctx context.Context, projectName string, db *sql.DB) {
	s.capMu.RLock()
	caps, ok := s.capsByProject[projectName]
	s.capMu.RUnlock()
	if ok && caps.checked {
		return
	}

	// Skip ANN probe for in-memory test URLs to avoid driver quirks
	if strings.Contains(s.config.URL, "mode=memory") {
		s.capMu.Lock()
		s.capsByProject[projectName] = capFlags{checked: true, vectorTopK: false}
		s.capMu.Unlock()
		return
	}

	zero := s.vectorZeroString()
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	rows, err := db.QueryContext(ctx2, "SELECT id FROM vector_top_k('idx_nodes_embedding', vector32(?), 1) LIMIT 1", zero)
	if rows != nil {
		rows.Close()
	}
	caps.vectorTopK = (err == nil)
	caps.checked = true

	s.capMu.Lock()
	s.capsByProject[projectName] = caps
	s.capMu.Unlock()
}
