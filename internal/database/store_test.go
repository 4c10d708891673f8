package database

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := &Config{
		URL:           fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		EmbeddingDims: 4,
	}
	store, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func storeIssue(t *testing.T, s *Store, title string, embedding []float32, opts ...func(*apptype.Issue)) string {
	t.Helper()
	issue := &apptype.Issue{
		Title:       title,
		Description: "description of " + title,
		Symptoms:    []string{"symptom of " + title},
		IssueType:   apptype.IssueConnectivity,
		Severity:    apptype.SeverityMedium,
		Embedding:   embedding,
	}
	for _, opt := range opts {
		opt(issue)
	}
	id, err := s.UpsertNode(context.Background(), DefaultProject, apptype.Node{Kind: apptype.KindIssue, Issue: issue})
	require.NoError(t, err)
	return id
}

func TestUpsertAndGetIssue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind: apptype.KindIssue,
		Issue: &apptype.Issue{
			Title:       "Database connection refused",
			Description: "Clients cannot open new connections",
			Symptoms:    []string{"connection refused", "pool exhausted"},
			IssueType:   apptype.IssueConnectivity,
			Severity:    apptype.SeverityHigh,
			Embedding:   []float32{0.1, 0.2, 0.3, 0.4},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	node, err := s.GetNode(ctx, DefaultProject, id)
	require.NoError(t, err)
	require.Equal(t, apptype.KindIssue, node.Kind)
	require.NotNil(t, node.Issue)
	assert.Equal(t, id, node.Issue.ID)
	assert.Equal(t, "Database connection refused", node.Issue.Title)
	assert.Equal(t, []string{"connection refused", "pool exhausted"}, node.Issue.Symptoms)
	assert.Equal(t, apptype.IssueConnectivity, node.Issue.IssueType)
	require.Len(t, node.Issue.Embedding, 4)
	assert.InDelta(t, 0.1, node.Issue.Embedding[0], 1e-6)
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := storeIssue(t, s, "flaky dns", []float32{1, 0, 0, 0})

	updated, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind: apptype.KindIssue,
		Issue: &apptype.Issue{
			ID:          id,
			Title:       "flaky dns",
			Description: "updated description",
			Symptoms:    []string{"nxdomain", "slow lookups"},
			IssueType:   apptype.IssueConnectivity,
			Severity:    apptype.SeverityLow,
			Embedding:   []float32{0, 1, 0, 0},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, id, updated)

	node, err := s.GetNode(ctx, DefaultProject, id)
	require.NoError(t, err)
	assert.Equal(t, "updated description", node.Issue.Description)
	assert.Equal(t, []string{"nxdomain", "slow lookups"}, node.Issue.Symptoms)
}

func TestUpsertValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:  apptype.KindIssue,
		Issue: &apptype.Issue{Description: "no title", Symptoms: []string{"x"}},
	})
	assert.True(t, apptype.IsValidation(err))

	_, err = s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:  apptype.KindCause,
		Cause: &apptype.Cause{Title: "orphan cause", Likelihood: 0.5},
	})
	assert.True(t, apptype.IsValidation(err), "cause without issue_id must be rejected")

	_, err = s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:     apptype.KindSolution,
		Solution: &apptype.Solution{Title: "bad rate", SuccessRate: 1.5},
	})
	assert.True(t, apptype.IsValidation(err))
}

func TestGetNodeNotFound(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.GetNode(context.Background(), DefaultProject, "missing")
	assert.True(t, apptype.IsNotFound(err))
}

func TestAddEdgeSemantics(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	issueID := storeIssue(t, s, "issue a", []float32{1, 0, 0, 0})
	causeID, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:  apptype.KindCause,
		Cause: &apptype.Cause{IssueID: issueID, Title: "cause a", Likelihood: 0.6},
	})
	require.NoError(t, err)

	// Missing endpoint
	err = s.AddEdge(ctx, DefaultProject, apptype.Edge{Source: issueID, Target: "ghost", Type: apptype.RelCausedBy, Weight: 0.5})
	assert.True(t, apptype.IsNotFound(err))

	// Zero weight takes the default
	require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{Source: issueID, Target: causeID, Type: apptype.RelCausedBy}))
	edges, err := s.EdgesForNodes(ctx, DefaultProject, []string{issueID})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, apptype.DefaultEdgeWeight, edges[0].Weight)

	// Identical edge is idempotent
	require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{Source: issueID, Target: causeID, Type: apptype.RelCausedBy, Weight: 0.9}))
	edges, err = s.EdgesForNodes(ctx, DefaultProject, []string{issueID})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, apptype.DefaultEdgeWeight, edges[0].Weight, "duplicate insert must not overwrite")

	// Out-of-range weight
	err = s.AddEdge(ctx, DefaultProject, apptype.Edge{Source: issueID, Target: causeID, Type: apptype.RelAffects, Weight: 1.5})
	assert.True(t, apptype.IsValidation(err))
}

func TestUpdateEdgeWeight(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	issueID := storeIssue(t, s, "issue b", []float32{1, 0, 0, 0})
	causeID, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:  apptype.KindCause,
		Cause: &apptype.Cause{IssueID: issueID, Title: "cause b", Likelihood: 0.4},
	})
	require.NoError(t, err)
	require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{Source: issueID, Target: causeID, Type: apptype.RelCausedBy, Weight: 0.5}))

	require.NoError(t, s.UpdateEdgeWeight(ctx, DefaultProject, issueID, causeID, apptype.RelCausedBy, 0.7))
	edges, err := s.EdgesForNodes(ctx, DefaultProject, []string{issueID})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.InDelta(t, 0.7, edges[0].Weight, 1e-9)

	err = s.UpdateEdgeWeight(ctx, DefaultProject, issueID, causeID, apptype.RelResolves, 0.7)
	assert.True(t, apptype.IsNotFound(err))
}

func TestVectorSearchRankingAndFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	query := []float32{1, 0, 0, 0}
	storeIssue(t, s, "exact match", []float32{1, 0, 0, 0}, func(i *apptype.Issue) { i.ID = "i-exact" })
	storeIssue(t, s, "close match", []float32{0.9, 0.1, 0, 0}, func(i *apptype.Issue) { i.ID = "i-close" })
	storeIssue(t, s, "orthogonal", []float32{0, 1, 0, 0}, func(i *apptype.Issue) { i.ID = "i-ortho" })
	storeIssue(t, s, "tie b", []float32{0, 0, 1, 0}, func(i *apptype.Issue) { i.ID = "i-tie-b" })
	storeIssue(t, s, "tie a", []float32{0, 0, 1, 0}, func(i *apptype.Issue) { i.ID = "i-tie-a" })

	results, err := s.VectorSearch(ctx, DefaultProject, apptype.KindIssue, query, 3, apptype.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "i-exact", results[0].Node.ID())
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-4)
	assert.Equal(t, "i-close", results[1].Node.ID())
	assert.GreaterOrEqual(t, results[1].Similarity, results[2].Similarity)

	// Equidistant nodes come back in id order.
	all, err := s.VectorSearch(ctx, DefaultProject, apptype.KindIssue, []float32{0, 0, 1, 0}, 2, apptype.SearchFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "i-tie-a", all[0].Node.ID())
	assert.Equal(t, "i-tie-b", all[1].Node.ID())

	// Severity filter excludes non-matching issues.
	storeIssue(t, s, "critical one", []float32{1, 0, 0, 0}, func(i *apptype.Issue) {
		i.ID = "i-crit"
		i.Severity = apptype.SeverityCritical
	})
	filtered, err := s.VectorSearch(ctx, DefaultProject, apptype.KindIssue, query, 5, apptype.SearchFilters{Severity: apptype.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "i-crit", filtered[0].Node.ID())
}

func TestVectorSearchValidation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.VectorSearch(ctx, DefaultProject, apptype.KindIssue, []float32{1, 0, 0, 0}, 0, apptype.SearchFilters{})
	assert.True(t, apptype.IsValidation(err))

	_, err = s.VectorSearch(ctx, DefaultProject, apptype.KindIssue, nil, 3, apptype.SearchFilters{})
	assert.True(t, apptype.IsValidation(err))
}

func TestKeywordSearchMatchesSymptoms(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := storeIssue(t, s, "gateway trouble", []float32{1, 0, 0, 0}, func(i *apptype.Issue) {
		i.Symptoms = []string{"connection timeout", "packet loss"}
	})
	storeIssue(t, s, "unrelated", []float32{0, 1, 0, 0})

	nodes, err := s.KeywordSearch(ctx, DefaultProject, apptype.KindIssue, "connection timeout", 5)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, id, nodes[0].ID())
}

func TestApplyIssueFeedback(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := storeIssue(t, s, "recurring outage", []float32{1, 0, 0, 0})

	require.NoError(t, s.ApplyIssueFeedback(ctx, DefaultProject, id, true, 30))
	require.NoError(t, s.ApplyIssueFeedback(ctx, DefaultProject, id, false, 0))

	node, err := s.GetNode(ctx, DefaultProject, id)
	require.NoError(t, err)
	assert.Equal(t, 2, node.Issue.OccurrenceCount)
	assert.InDelta(t, 0.5, node.Issue.ResolutionRate, 1e-9)
	assert.InDelta(t, 30, node.Issue.AvgResolutionMinutes, 1e-9)

	err = s.ApplyIssueFeedback(ctx, DefaultProject, "missing", true, 1)
	assert.True(t, apptype.IsNotFound(err))
}

func TestApplySolutionOutcome(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:     apptype.KindSolution,
		Solution: &apptype.Solution{Title: "restart pods", SuccessRate: 0.5, RiskLevel: apptype.RiskLow},
	})
	require.NoError(t, err)

	require.NoError(t, s.ApplySolutionOutcome(ctx, DefaultProject, id, true))
	node, err := s.GetNode(ctx, DefaultProject, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.625, node.Solution.SuccessRate, 1e-9)

	require.NoError(t, s.ApplySolutionOutcome(ctx, DefaultProject, id, false))
	node, err = s.GetNode(ctx, DefaultProject, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.46875, node.Solution.SuccessRate, 1e-9)

	// Applying to an issue is a validation error.
	issueID := storeIssue(t, s, "wrong kind", []float32{1, 0, 0, 0})
	err = s.ApplySolutionOutcome(ctx, DefaultProject, issueID, true)
	assert.True(t, apptype.IsValidation(err))
}

func TestApplyIssueFeedbackConcurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := storeIssue(t, s, "hot issue", []float32{1, 0, 0, 0})

	const workers = 32
	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- s.ApplyIssueFeedback(ctx, DefaultProject, id, true, 10)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	node, err := s.GetNode(ctx, DefaultProject, id)
	require.NoError(t, err)
	assert.Equal(t, workers, node.Issue.OccurrenceCount)
	assert.InDelta(t, 1.0, node.Issue.ResolutionRate, 1e-9)
	assert.InDelta(t, 10, node.Issue.AvgResolutionMinutes, 1e-9)
}

func TestApplySolutionOutcomeConcurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:     apptype.KindSolution,
		Solution: &apptype.Solution{Title: "rotate credentials", SuccessRate: 0.5, RiskLevel: apptype.RiskLow},
	})
	require.NoError(t, err)

	const workers = 8
	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs <- s.ApplySolutionOutcome(ctx, DefaultProject, id, true)
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Every application moves the rate from the committed value, so the end
	// state is the same as applying the outcomes sequentially.
	expected := 0.5
	for i := 0; i < workers; i++ {
		expected += (1.0 - expected) * 0.25
	}
	node, err := s.GetNode(ctx, DefaultProject, id)
	require.NoError(t, err)
	assert.InDelta(t, expected, node.Solution.SuccessRate, 1e-9)
}

func edgeWeight(t *testing.T, s *Store, source, target string, edgeType apptype.RelationType) float64 {
	t.Helper()
	edges, err := s.EdgesForNodes(context.Background(), DefaultProject, []string{source})
	require.NoError(t, err)
	for _, e := range edges {
		if e.Source == source && e.Target == target && e.Type == edgeType {
			return e.Weight
		}
	}
	t.Fatalf("edge %s -> %s (%s) not found", source, target, edgeType)
	return 0
}

func TestNudgeEdgeWeightConcurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := storeIssue(t, s, "edge source", []float32{1, 0, 0, 0})
	b := storeIssue(t, s, "edge target", []float32{0, 1, 0, 0})
	require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{
		Source: a, Target: b, Type: apptype.RelSimilarTo, Weight: 0.2,
	}))

	const workers = 8
	start := make(chan struct{})
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.NudgeEdgeWeight(ctx, DefaultProject, a, b, apptype.RelSimilarTo, 0.05)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.InDelta(t, 0.6, edgeWeight(t, s, a, b, apptype.RelSimilarTo), 1e-9)
}

func TestNudgeEdgeWeightClampsAndSkipsMissing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := storeIssue(t, s, "clamp source", []float32{1, 0, 0, 0})
	b := storeIssue(t, s, "clamp target", []float32{0, 1, 0, 0})
	require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{
		Source: a, Target: b, Type: apptype.RelSimilarTo, Weight: 0.98,
	}))

	adjusted, err := s.NudgeEdgeWeight(ctx, DefaultProject, a, b, apptype.RelSimilarTo, 0.05)
	require.NoError(t, err)
	assert.True(t, adjusted)
	assert.InDelta(t, 1.0, edgeWeight(t, s, a, b, apptype.RelSimilarTo), 1e-9)

	adjusted, err = s.NudgeEdgeWeight(ctx, DefaultProject, a, b, apptype.RelSimilarTo, -1.5)
	require.NoError(t, err)
	assert.True(t, adjusted)
	assert.InDelta(t, 0.0, edgeWeight(t, s, a, b, apptype.RelSimilarTo), 1e-9)

	adjusted, err = s.NudgeEdgeWeight(ctx, DefaultProject, a, "ghost", apptype.RelSimilarTo, 0.05)
	require.NoError(t, err)
	assert.False(t, adjusted)
}

func TestGetNodesPreservesOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := storeIssue(t, s, "first", []float32{1, 0, 0, 0}, func(i *apptype.Issue) { i.ID = "n-a" })
	b := storeIssue(t, s, "second", []float32{0, 1, 0, 0}, func(i *apptype.Issue) { i.ID = "n-b" })

	nodes, err := s.GetNodes(ctx, DefaultProject, []string{b, a})
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, b, nodes[0].ID())
	assert.Equal(t, a, nodes[1].ID())
}
