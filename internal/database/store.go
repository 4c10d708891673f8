package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/metrics"
)

// DefaultProject is the project name used when multi-project mode is off or
// a caller does not specify one.
const DefaultProject = "default"

// Store owns all persisted nodes and edges of the diagnostic knowledge graph
// and is the adapter over the libSQL backend. It is safe for concurrent use:
// reads run in parallel, writes are serialized per node by the owning
// transaction.
type Store struct {
	config *Config
	dbs    map[string]*sql.DB
	mu     sync.RWMutex

	stmtCache map[string]map[string]*sql.Stmt
	stmtMu    sync.RWMutex

	capsByProject map[string]capFlags
	capMu         sync.RWMutex
}

// NewStore creates a new store manager.
func NewStore(config *Config) (*Store, error) {
	if config.EmbeddingDims <= 0 || config.EmbeddingDims > 65536 {
		return nil, &apptype.ValidationError{Op: "new_store", Field: "embedding_dims", Reason: fmt.Sprintf("must be between 1 and 65536, got %d", config.EmbeddingDims)}
	}
	s := &Store{
		config:        config,
		dbs:           make(map[string]*sql.DB),
		stmtCache:     make(map[string]map[string]*sql.Stmt),
		capsByProject: make(map[string]capFlags),
	}

	// If not in multi-project mode, initialize the default database immediately
	if !config.MultiProjectMode {
		if _, err := s.getDB(DefaultProject); err != nil {
			return nil, fmt.Errorf("failed to initialize default database: %w", err)
		}
	}

	return s, nil
}

// getDB retrieves a database connection for a given project, creating it if necessary.
func (s *Store) getDB(projectName string) (*sql.DB, error) {
	s.mu.RLock()
	db, ok := s.dbs[projectName]
	s.mu.RUnlock()

	if ok {
		return db, nil
	}

	s.mu.Lock()

	// Double-check if another goroutine created the DB while we were waiting for the lock
	db, ok = s.dbs[projectName]
	if ok {
		s.mu.Unlock()
		return db, nil
	}

	var dbURL string
	if s.config.MultiProjectMode {
		if projectName == "" {
			s.mu.Unlock()
			return nil, &apptype.ValidationError{Op: "get_db", Field: "project", Reason: "project name cannot be empty in multi-project mode"}
		}
		dbPath := filepath.Join(s.config.ProjectsDir, projectName, "diagraph.db")
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to create project directory for %s: %w", projectName, err)
		}
		dbURL = fmt.Sprintf("file:%s", dbPath)
	} else {
		dbURL = s.config.URL
	}

	var newDb *sql.DB
	var err error

	if strings.HasPrefix(dbURL, "file:") {
		newDb, err = sql.Open("libsql", dbURL)
	} else {
		authURL := dbURL
		if s.config.AuthToken != "" {
			if u, perr := url.Parse(dbURL); perr == nil {
				q := u.Query()
				q.Set("authToken", s.config.AuthToken)
				u.RawQuery = q.Encode()
				authURL = u.String()
			}
		}
		newDb, err = sql.Open("libsql", authURL)
	}

	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create database connector for project %s: %w", projectName, err)
	}

	if err := s.initialize(newDb); err != nil {
		newDb.Close()
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to initialize database for project %s: %w", projectName, err)
	}

	if s.config.MaxOpenConns > 0 {
		newDb.SetMaxOpenConns(s.config.MaxOpenConns)
	}
	if s.config.MaxIdleConns > 0 {
		newDb.SetMaxIdleConns(s.config.MaxIdleConns)
	}
	if s.config.ConnMaxIdleSec > 0 {
		newDb.SetConnMaxIdleTime(time.Duration(s.config.ConnMaxIdleSec) * time.Second)
	}
	if s.config.ConnMaxLifeSec > 0 {
		newDb.SetConnMaxLifetime(time.Duration(s.config.ConnMaxLifeSec) * time.Second)
	}

	s.dbs[projectName] = newDb
	s.stmtMu.Lock()
	if _, ok := s.stmtCache[projectName]; !ok {
		s.stmtCache[projectName] = make(map[string]*sql.Stmt)
	}
	s.stmtMu.Unlock()
	// Unlock before capability detection to avoid self-deadlock
	s.mu.Unlock()

	s.detectCapabilitiesForProject(context.Background(), projectName, newDb)
	stats := newDb.Stats()
	metrics.Default().ObservePoolStats(stats.InUse, stats.Idle)
	return newDb, nil
}

// initialize creates tables and indexes if they don't exist.
func (s *Store) initialize(db *sql.DB) error {
	done := metrics.TimeOp("db_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(s.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// retryBackoff is the wait schedule between attempts for transient failures.
var retryBackoff = []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 1600 * time.Millisecond}

// withRetry runs fn, retrying transient backend failures up to three times
// with exponential backoff before surfacing a StoreUnavailableError.
// Validation and not-found errors pass through untouched.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt >= len(retryBackoff) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff[attempt]):
		}
	}
	return &apptype.StoreUnavailableError{Op: op, Err: err}
}

// isTransient classifies backend errors worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if apptype.IsValidation(err) || apptype.IsNotFound(err) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"database is locked",
		"stream expired",
		"websocket",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Config returns the store's configuration.
func (s *Store) Config() *Config { return s.config }

// PoolStats returns aggregate connection pool stats across all open projects.
func (s *Store) PoolStats() (inUse, idle int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, db := range s.dbs {
		stats := db.Stats()
		inUse += stats.InUse
		idle += stats.Idle
	}
	return inUse, idle
}

// Close closes all database connections.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stmtMu.Lock()
	for _, cache := range s.stmtCache {
		for _, stmt := range cache {
			_ = stmt.Close()
		}
	}
	s.stmtCache = make(map[string]map[string]*sql.Stmt)
	s.stmtMu.Unlock()

	var errs []string
	for name, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("failed to close database for project %s: %v", name, err))
		}
	}
	s.dbs = make(map[string]*sql.DB)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
