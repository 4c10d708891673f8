package troubleshoot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/database"
	"github.com/opentriage/diagraph-go/internal/embeddings"
	"github.com/opentriage/diagraph-go/internal/ranker"
	"github.com/opentriage/diagraph-go/internal/reasoner"
	"github.com/opentriage/diagraph-go/internal/solutions"
)

const (
	seedIssueCount       = 5
	traverseMaxDepth     = 3
	traverseMinConf      = 0.1
	maxConcurrentSeeds   = 4
	topPathCount         = 3
	topCauseCount        = 5
	topSolutionCount     = 3
)

// DefaultTraverseTypes are the edge types a diagnose call follows outward
// from a seed issue.
var DefaultTraverseTypes = []apptype.RelationType{
	apptype.RelCauses,
	apptype.RelCausedBy,
	apptype.RelResolves,
	apptype.RelResolvedBy,
	apptype.RelAffects,
	apptype.RelSimilarTo,
}

// Engine is the single entry point for diagnosis. It owns no graph state of
// its own; all persistence goes through the store and all embeddings through
// the cache. Safe for concurrent use.
type Engine struct {
	store    *database.Store
	cache    *embeddings.Cache
	sessions *SessionStore
}

// NewEngine wires an engine over a store and an embedding cache.
func NewEngine(store *database.Store, cache *embeddings.Cache) *Engine {
	return &Engine{
		store:    store,
		cache:    cache,
		sessions: NewSessionStore(),
	}
}

// Store exposes the underlying graph store.
func (e *Engine) Store() *database.Store { return e.store }

// StartSession opens a new troubleshooting session.
func (e *Engine) StartSession() *Session { return e.sessions.Start() }

// Session returns the session with the given id, or nil.
func (e *Engine) Session(id string) *Session { return e.sessions.Get(id) }

// CloseSession terminates a session and feeds its outcome back into the
// stored graph metrics.
func (e *Engine) CloseSession(ctx context.Context, projectName, id string, outcome apptype.SessionOutcome) error {
	return e.sessions.Close(ctx, e.store, projectName, id, outcome)
}

// Diagnose runs the full pipeline for a symptom query: seed search, graph
// traversal, path ranking, classification, solution ranking and pattern
// detection. Embedding failures degrade to keyword search instead of
// failing; the result is flagged accordingly.
func (e *Engine) Diagnose(ctx context.Context, projectName, query string, dctx apptype.Context) (apptype.DiagnosisResult, error) {
	result := apptype.DiagnosisResult{SessionID: dctx.SessionID}
	symptoms := parseSymptoms(query)

	// Stage 1: query embedding, degrading to keyword signals on failure.
	queryEmbedding := dctx.Embedding
	if len(queryEmbedding) == 0 {
		emb, err := e.cache.Embed(ctx, query)
		switch {
		case err == nil:
			queryEmbedding = emb
		case apptype.IsEmbeddingUnavailable(err):
			result.Degraded = true
			result.DegradedCapabilities = append(result.DegradedCapabilities, "vector_search", "vector_score")
		default:
			return result, err
		}
	}

	// Stage 2: seed issues.
	seeds, err := e.findSeeds(ctx, projectName, query, queryEmbedding)
	if err != nil {
		return result, err
	}
	result.Issues = seeds
	result.Trace = append(result.Trace, fmt.Sprintf("found %d candidate issues for query", len(seeds)))

	// Stage 3: traverse from every seed concurrently. All traversals finish
	// before ranking starts.
	paths, partial, err := e.traverseSeeds(ctx, projectName, seeds)
	if err != nil {
		return result, err
	}
	result.Partial = partial
	result.Trace = append(result.Trace, fmt.Sprintf("explored %d diagnostic paths across %d seeds", len(paths), len(seeds)))

	// Stage 4: rank paths.
	ranked := ranker.Rank(paths, queryEmbedding, dctx)
	if len(ranked) > topPathCount {
		ranked = ranked[:topPathCount]
	}
	result.Paths = ranked
	result.Trace = append(result.Trace, fmt.Sprintf("ranked paths, keeping top %d", len(ranked)))

	// Stage 5: classify symptoms.
	result.Classification = reasoner.Classify(symptoms, dctx)
	result.Trace = append(result.Trace, fmt.Sprintf("classified as %s issue with %s severity",
		result.Classification.IssueType, result.Classification.Severity))

	// Stage 6: causes and solutions along the top paths.
	result.Causes = collectCauses(ranked)
	result.Trace = append(result.Trace, fmt.Sprintf("identified %d candidate causes", len(result.Causes)))

	candidates := collectSolutions(ranked)
	rankedSolutions := solutions.Rank(candidates, result.Classification.Severity, dctx)
	if len(rankedSolutions) > topSolutionCount {
		rankedSolutions = rankedSolutions[:topSolutionCount]
	}
	result.Solutions = rankedSolutions
	result.Trace = append(result.Trace, fmt.Sprintf("ranked %d candidate solutions", len(candidates)))

	// Stage 7: recurring patterns from history.
	if len(dctx.HistoricalIssues) > 0 {
		result.Patterns = reasoner.DetectPatterns(symptoms, dctx.HistoricalIssues)
		result.Trace = append(result.Trace, fmt.Sprintf("detected %d recurring patterns", len(result.Patterns)))
	}

	// Stage 8: session bookkeeping. Unknown session ids do not invalidate
	// the diagnosis.
	if dctx.SessionID != "" {
		if s := e.sessions.Get(dctx.SessionID); s != nil {
			s.record(result)
		}
	}
	return result, nil
}

// findSeeds locates candidate issues by vector similarity, falling back to a
// keyword match over stored symptoms when no embedding is available.
func (e *Engine) findSeeds(ctx context.Context, projectName, query string, queryEmbedding []float32) ([]apptype.ScoredNode, error) {
	if len(queryEmbedding) > 0 {
		return e.store.VectorSearch(ctx, projectName, apptype.KindIssue, queryEmbedding, seedIssueCount, apptype.SearchFilters{})
	}
	nodes, err := e.store.KeywordSearch(ctx, projectName, apptype.KindIssue, query, seedIssueCount)
	if err != nil {
		return nil, err
	}
	seeds := make([]apptype.ScoredNode, 0, len(nodes))
	for _, n := range nodes {
		seeds = append(seeds, apptype.ScoredNode{Node: n})
	}
	return seeds, nil
}

// traverseSeeds explores outward from each seed. Traversals run concurrently
// but the combined result is only returned once every seed finished, since
// ranking needs the complete candidate set.
func (e *Engine) traverseSeeds(ctx context.Context, projectName string, seeds []apptype.ScoredNode) ([]apptype.DiagnosticPath, bool, error) {
	if len(seeds) == 0 {
		return nil, false, nil
	}
	results := make([]apptype.TraverseResult, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSeeds)
	for i, seed := range seeds {
		startID := seed.Node.ID()
		if startID == "" {
			continue
		}
		g.Go(func() error {
			res, err := e.store.Traverse(gctx, projectName, startID, traverseMaxDepth, DefaultTraverseTypes, traverseMinConf)
			if err != nil {
				if apptype.IsNotFound(err) {
					return nil
				}
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	var paths []apptype.DiagnosticPath
	var partial bool
	seen := make(map[string]struct{})
	for _, res := range results {
		partial = partial || res.Partial
		for _, p := range res.Paths {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			paths = append(paths, p)
		}
	}
	return paths, partial, nil
}

// collectCauses gathers unique causes along the given paths, sorted by
// likelihood descending then id.
func collectCauses(paths []apptype.DiagnosticPath) []apptype.Cause {
	seen := make(map[string]struct{})
	var causes []apptype.Cause
	for _, p := range paths {
		for _, n := range p.Nodes {
			if n.Kind != apptype.KindCause || n.Cause == nil {
				continue
			}
			if _, ok := seen[n.Cause.ID]; ok {
				continue
			}
			seen[n.Cause.ID] = struct{}{}
			causes = append(causes, *n.Cause)
		}
	}
	sort.Slice(causes, func(i, j int) bool {
		if causes[i].Likelihood != causes[j].Likelihood {
			return causes[i].Likelihood > causes[j].Likelihood
		}
		return causes[i].ID < causes[j].ID
	})
	if len(causes) > topCauseCount {
		causes = causes[:topCauseCount]
	}
	return causes
}

// collectSolutions gathers unique solutions along the given paths in path
// order; ranking happens separately.
func collectSolutions(paths []apptype.DiagnosticPath) []apptype.Solution {
	seen := make(map[string]struct{})
	var sols []apptype.Solution
	for _, p := range paths {
		for _, n := range p.Nodes {
			if n.Kind != apptype.KindSolution || n.Solution == nil {
				continue
			}
			if _, ok := seen[n.Solution.ID]; ok {
				continue
			}
			seen[n.Solution.ID] = struct{}{}
			sols = append(sols, *n.Solution)
		}
	}
	return sols
}

// parseSymptoms splits a free-text query into individual symptom phrases.
func parseSymptoms(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	var out []string
	for _, f := range fields {
		if t := strings.TrimSpace(f); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 && strings.TrimSpace(query) != "" {
		out = append(out, strings.TrimSpace(query))
	}
	return out
}
