package diagnose

import (
	"context"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/database"
	"github.com/opentriage/diagraph-go/internal/embeddings"
	"github.com/opentriage/diagraph-go/internal/troubleshoot"
)

// Re-exported domain types so library consumers do not import internal
// packages.
type (
	Issue           = apptype.Issue
	Cause           = apptype.Cause
	Solution        = apptype.Solution
	Node            = apptype.Node
	Edge            = apptype.Edge
	Context         = apptype.Context
	DiagnosisResult = apptype.DiagnosisResult
	DiagnosticPath  = apptype.DiagnosticPath
	ScoredNode      = apptype.ScoredNode
	SearchFilters   = apptype.SearchFilters
	SessionOutcome  = apptype.SessionOutcome
	RelationType    = apptype.RelationType
)

// DefaultProject is the project used when none is specified.
const DefaultProject = database.DefaultProject

// Service provides a library-first API for the diagnostic engine without MCP
// transport.
type Service struct {
	store  *database.Store
	cache  *embeddings.Cache
	engine *troubleshoot.Engine
}

// NewService constructs a Service with the provided config. The embedding
// provider is taken from the environment; pass a nil provider situation
// through NewServiceWithProvider to control it explicitly.
func NewService(cfg *Config) (*Service, error) {
	return NewServiceWithProvider(cfg, embeddings.NewFromEnv())
}

// NewServiceWithProvider constructs a Service around an explicit embedding
// provider. A nil provider degrades vector operations to keyword matching.
func NewServiceWithProvider(cfg *Config, provider embeddings.Provider) (*Service, error) {
	internal := cfg.toInternal()
	store, err := database.NewStore(internal)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		provider = embeddings.WrapToDims(provider, internal.EmbeddingDims, "")
	}
	cache := embeddings.NewCache(provider, cfg.EmbeddingCacheSize)
	return &Service{
		store:  store,
		cache:  cache,
		engine: troubleshoot.NewEngine(store, cache),
	}, nil
}

// Close releases resources.
func (s *Service) Close() error { return s.store.Close() }

// UpsertIssue stores an issue and returns its id.
func (s *Service) UpsertIssue(ctx context.Context, project string, issue Issue) (string, error) {
	return s.store.UpsertNode(ctx, project, apptype.Node{Kind: apptype.KindIssue, Issue: &issue})
}

// UpsertCause stores a root cause and returns its id.
func (s *Service) UpsertCause(ctx context.Context, project string, cause Cause) (string, error) {
	return s.store.UpsertNode(ctx, project, apptype.Node{Kind: apptype.KindCause, Cause: &cause})
}

// UpsertSolution stores a solution and returns its id.
func (s *Service) UpsertSolution(ctx context.Context, project string, solution Solution) (string, error) {
	return s.store.UpsertNode(ctx, project, apptype.Node{Kind: apptype.KindSolution, Solution: &solution})
}

// Link creates a typed, weighted edge between two existing nodes.
func (s *Service) Link(ctx context.Context, project string, edge Edge) error {
	return s.store.AddEdge(ctx, project, edge)
}

// GetNode fetches a node by id.
func (s *Service) GetNode(ctx context.Context, project, id string) (Node, error) {
	return s.store.GetNode(ctx, project, id)
}

// SearchIssues returns the k most similar issues to the query embedding.
func (s *Service) SearchIssues(ctx context.Context, project string, embedding []float32, k int, filters SearchFilters) ([]ScoredNode, error) {
	return s.store.VectorSearch(ctx, project, apptype.KindIssue, embedding, k, filters)
}

// SearchIssuesByText embeds the query text and searches.
func (s *Service) SearchIssuesByText(ctx context.Context, project, query string, k int, filters SearchFilters) ([]ScoredNode, error) {
	embedding, err := s.cache.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.store.VectorSearch(ctx, project, apptype.KindIssue, embedding, k, filters)
}

// Traverse explores diagnostic paths outward from a node.
func (s *Service) Traverse(ctx context.Context, project, startID string, maxDepth int, allowedTypes []RelationType, minConfidence float64) ([]DiagnosticPath, bool, error) {
	if len(allowedTypes) == 0 {
		allowedTypes = troubleshoot.DefaultTraverseTypes
	}
	res, err := s.store.Traverse(ctx, project, startID, maxDepth, allowedTypes, minConfidence)
	if err != nil {
		return nil, false, err
	}
	return res.Paths, res.Partial, nil
}

// Diagnose runs the full diagnostic pipeline for a symptom query.
func (s *Service) Diagnose(ctx context.Context, project, query string, dctx Context) (DiagnosisResult, error) {
	return s.engine.Diagnose(ctx, project, query, dctx)
}

// StartSession opens a troubleshooting session and returns its id.
func (s *Service) StartSession() string {
	return s.engine.StartSession().ID
}

// CloseSession terminates a session and applies its outcome to the graph.
func (s *Service) CloseSession(ctx context.Context, project, sessionID string, outcome SessionOutcome) error {
	return s.engine.CloseSession(ctx, project, sessionID, outcome)
}
