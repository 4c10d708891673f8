package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

var diagnosticTypes = []apptype.RelationType{
	apptype.RelCauses,
	apptype.RelCausedBy,
	apptype.RelResolves,
	apptype.RelResolvedBy,
}

// buildDiagnosticChain seeds issue -CAUSED_BY(0.3)-> cause and
// solution -RESOLVES(0.95)-> cause.
func buildDiagnosticChain(t *testing.T, s *Store) (issueID, causeID, solutionID string) {
	t.Helper()
	ctx := context.Background()

	issueID = storeIssue(t, s, "EC2 instance unreachable", []float32{1, 0, 0, 0}, func(i *apptype.Issue) {
		i.ID = "issue-ec2"
	})
	causeID, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:  apptype.KindCause,
		Cause: &apptype.Cause{ID: "cause-igw", IssueID: issueID, Title: "Missing Internet Gateway", Likelihood: 0.9},
	})
	require.NoError(t, err)
	solutionID, err = s.UpsertNode(ctx, DefaultProject, apptype.Node{
		Kind:     apptype.KindSolution,
		Solution: &apptype.Solution{ID: "sol-igw", Title: "Attach Internet Gateway", SuccessRate: 0.95, RiskLevel: apptype.RiskLow},
	})
	require.NoError(t, err)

	require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{
		Source: issueID, Target: causeID, Type: apptype.RelCausedBy, Weight: 0.3,
	}))
	require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{
		Source: solutionID, Target: causeID, Type: apptype.RelResolves, Weight: 0.95,
	}))
	return issueID, causeID, solutionID
}

func TestTraverseChainConfidence(t *testing.T) {
	s := setupTestStore(t)
	issueID, causeID, solutionID := buildDiagnosticChain(t, s)

	res, err := s.Traverse(context.Background(), DefaultProject, issueID, 2, diagnosticTypes, 0.2)
	require.NoError(t, err)
	assert.False(t, res.Partial)
	require.Len(t, res.Paths, 1)

	p := res.Paths[0]
	assert.InDelta(t, 0.285, p.Confidence, 1e-9)
	assert.Equal(t, 2, p.Complexity)
	assert.Equal(t, issueID, p.StartID)
	assert.Equal(t, []string{issueID, causeID, solutionID}, p.NodeIDs)
	require.Len(t, p.Edges, 2)
	// Stored orientation is preserved even though traversal crossed the
	// RESOLVES edge backwards.
	assert.Equal(t, solutionID, p.Edges[1].Source)
	assert.Equal(t, causeID, p.Edges[1].Target)
	require.Len(t, p.Nodes, 3)
	assert.Equal(t, apptype.KindSolution, p.Nodes[2].Kind)
}

func TestTraverseDepthZero(t *testing.T) {
	s := setupTestStore(t)
	issueID, _, _ := buildDiagnosticChain(t, s)

	res, err := s.Traverse(context.Background(), DefaultProject, issueID, 0, diagnosticTypes, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
}

func TestTraverseDepthOneStopsAtCause(t *testing.T) {
	s := setupTestStore(t)
	issueID, causeID, _ := buildDiagnosticChain(t, s)

	res, err := s.Traverse(context.Background(), DefaultProject, issueID, 1, diagnosticTypes, 0)
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	assert.Equal(t, []string{issueID, causeID}, res.Paths[0].NodeIDs)
	assert.InDelta(t, 0.3, res.Paths[0].Confidence, 1e-9)
	assert.Equal(t, 1, res.Paths[0].Complexity)
}

func TestTraverseMinConfidencePrunes(t *testing.T) {
	s := setupTestStore(t)
	issueID, _, _ := buildDiagnosticChain(t, s)

	// First hop is 0.3; anything above that prunes the whole branch.
	res, err := s.Traverse(context.Background(), DefaultProject, issueID, 3, diagnosticTypes, 0.5)
	require.NoError(t, err)
	assert.Empty(t, res.Paths)
}

func TestTraverseUnknownStart(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.Traverse(context.Background(), DefaultProject, "ghost", 2, diagnosticTypes, 0)
	assert.True(t, apptype.IsNotFound(err))
}

func TestTraverseValidation(t *testing.T) {
	s := setupTestStore(t)
	issueID, _, _ := buildDiagnosticChain(t, s)

	_, err := s.Traverse(context.Background(), DefaultProject, "", 2, diagnosticTypes, 0)
	assert.True(t, apptype.IsValidation(err))

	_, err = s.Traverse(context.Background(), DefaultProject, issueID, 2, diagnosticTypes, 1.5)
	assert.True(t, apptype.IsValidation(err))
}

func TestTraverseTypeFilter(t *testing.T) {
	s := setupTestStore(t)
	issueID, causeID, _ := buildDiagnosticChain(t, s)

	// Only CAUSED_BY edges: the RESOLVES hop is invisible, so the branch
	// terminates at the cause.
	res, err := s.Traverse(context.Background(), DefaultProject, issueID, 3, []apptype.RelationType{apptype.RelCausedBy}, 0)
	require.NoError(t, err)
	require.Len(t, res.Paths, 1)
	assert.Equal(t, []string{issueID, causeID}, res.Paths[0].NodeIDs)
}

func TestTraverseFanOutOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	issueID := storeIssue(t, s, "multi cause issue", []float32{1, 0, 0, 0}, func(i *apptype.Issue) { i.ID = "issue-multi" })
	for _, c := range []struct {
		id     string
		weight float64
	}{
		{"cause-weak", 0.4},
		{"cause-strong", 0.9},
		{"cause-mid", 0.6},
	} {
		_, err := s.UpsertNode(ctx, DefaultProject, apptype.Node{
			Kind:  apptype.KindCause,
			Cause: &apptype.Cause{ID: c.id, IssueID: issueID, Title: c.id, Likelihood: 0.5},
		})
		require.NoError(t, err)
		require.NoError(t, s.AddEdge(ctx, DefaultProject, apptype.Edge{
			Source: issueID, Target: c.id, Type: apptype.RelCausedBy, Weight: c.weight,
		}))
	}

	res, err := s.Traverse(ctx, DefaultProject, issueID, 1, diagnosticTypes, 0)
	require.NoError(t, err)
	require.Len(t, res.Paths, 3)
	assert.Equal(t, "cause-strong", res.Paths[0].NodeIDs[1])
	assert.Equal(t, "cause-mid", res.Paths[1].NodeIDs[1])
	assert.Equal(t, "cause-weak", res.Paths[2].NodeIDs[1])
}

func TestPruneFrontierKeepsHighestConfidence(t *testing.T) {
	items := []frontierItem{
		{confidence: 0.2, nodeIDs: []string{"a", "e"}},
		{confidence: 0.9, nodeIDs: []string{"a", "b"}},
		{confidence: 0.5, nodeIDs: []string{"a", "d"}},
		{confidence: 0.5, nodeIDs: []string{"a", "c"}},
	}

	pruned := pruneFrontier(items, 2)
	require.Len(t, pruned, 2)
	assert.Equal(t, []string{"a", "b"}, pruned[0].nodeIDs)
	// Equal confidence falls back to path order.
	assert.Equal(t, []string{"a", "c"}, pruned[1].nodeIDs)

	// Under the cap the frontier passes through untouched.
	small := []frontierItem{{confidence: 0.1, nodeIDs: []string{"x"}}}
	assert.Equal(t, small, pruneFrontier(small, 2))
}

func TestTraverseDeadlineReturnsPartial(t *testing.T) {
	s := setupTestStore(t)
	issueID, _, _ := buildDiagnosticChain(t, s)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	res, err := s.Traverse(ctx, DefaultProject, issueID, 3, diagnosticTypes, 0)
	if err != nil {
		// The driver may surface the expired deadline before traversal
		// starts; that path must not panic and must not return paths.
		assert.Empty(t, res.Paths)
		return
	}
	assert.True(t, res.Partial)
}
