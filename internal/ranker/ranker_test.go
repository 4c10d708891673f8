package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

func TestCosineSymmetricAndSelf(t *testing.T) {
	a := []float32{0.3, -0.2, 0.9, 0.1}
	b := []float32{0.5, 0.5, 0.0, -0.1}

	assert.InDelta(t, Cosine(a, b), Cosine(b, a), 1e-12)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
	assert.InDelta(t, 1.0, Cosine(b, b), 1e-6)
}

func TestCosineZeroVector(t *testing.T) {
	zero := []float32{0, 0, 0}
	a := []float32{1, 2, 3}
	assert.Equal(t, 0.0, Cosine(zero, a))
	assert.Equal(t, 0.0, Cosine(a, zero))
	assert.Equal(t, 0.0, Cosine(zero, zero))
}

func TestCosineOppositeVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.InDelta(t, -1.0, Cosine(a, b), 1e-6)
}

func issueNode(id string, emb []float32) apptype.Node {
	return apptype.Node{Kind: apptype.KindIssue, Issue: &apptype.Issue{ID: id, Title: id, Embedding: emb}}
}

func TestGraphScoreDecaysWithComplexity(t *testing.T) {
	short := apptype.DiagnosticPath{Confidence: 0.8, Complexity: 1}
	long := apptype.DiagnosticPath{Confidence: 0.8, Complexity: 4}
	assert.Greater(t, GraphScore(short), GraphScore(long))
	assert.InDelta(t, 0.8/1.1, GraphScore(short), 1e-12)
}

func TestVectorScoreSkipsNodesWithoutEmbedding(t *testing.T) {
	query := []float32{1, 0}
	p := apptype.DiagnosticPath{
		Nodes: []apptype.Node{
			issueNode("a", []float32{1, 0}),
			{Kind: apptype.KindCause, Cause: &apptype.Cause{ID: "c"}},
			issueNode("b", []float32{0, 1}),
		},
	}
	// Mean of 1.0 and 0.0 over the two embedded nodes.
	assert.InDelta(t, 0.5, VectorScore(p, query), 1e-6)

	empty := apptype.DiagnosticPath{Nodes: []apptype.Node{{Kind: apptype.KindCause, Cause: &apptype.Cause{ID: "c"}}}}
	assert.Equal(t, 0.0, VectorScore(empty, query))
}

func TestContextScoreClamped(t *testing.T) {
	p := apptype.DiagnosticPath{NodeIDs: []string{"s1", "s2", "s3"}}

	neutral := ContextScore(p, apptype.Context{})
	assert.InDelta(t, 0.5, neutral, 1e-12)

	up := ContextScore(p, apptype.Context{SuccessfulSolutions: []string{"s1", "s2"}})
	assert.InDelta(t, 0.7, up, 1e-12)

	down := ContextScore(p, apptype.Context{FailedSolutions: []string{"s1", "s2", "s3", "s4", "s5", "s6"}})
	assert.InDelta(t, 0.2, down, 1e-12)

	allFailed := apptype.DiagnosticPath{NodeIDs: []string{"a", "b", "c", "d", "e", "f"}}
	floor := ContextScore(allFailed, apptype.Context{FailedSolutions: []string{"a", "b", "c", "d", "e", "f"}})
	assert.InDelta(t, 0.0, floor, 1e-12)
}

func TestRankOrdersByScoreThenID(t *testing.T) {
	query := []float32{1, 0}
	paths := []apptype.DiagnosticPath{
		{ID: "b>x", StartID: "b", Confidence: 0.5, Complexity: 1, Nodes: []apptype.Node{issueNode("b", []float32{1, 0})}},
		{ID: "a>x", StartID: "a", Confidence: 0.5, Complexity: 1, Nodes: []apptype.Node{issueNode("a", []float32{1, 0})}},
		{ID: "c>y", StartID: "c", Confidence: 0.9, Complexity: 1, Nodes: []apptype.Node{issueNode("c", []float32{1, 0})}},
	}

	ranked := Rank(paths, query, apptype.Context{})
	require.Len(t, ranked, 3)
	assert.Equal(t, "c>y", ranked[0].ID)
	// Equal scores fall back to id ordering.
	assert.Equal(t, "a>x", ranked[1].ID)
	assert.Equal(t, "b>x", ranked[2].ID)
	for _, p := range ranked {
		assert.Greater(t, p.Score, 0.0)
	}
}

func TestRankEmptyInput(t *testing.T) {
	ranked := Rank(nil, []float32{1, 0}, apptype.Context{})
	assert.Empty(t, ranked)
}

func TestRankDeterministic(t *testing.T) {
	query := []float32{0.2, 0.8}
	paths := []apptype.DiagnosticPath{
		{ID: "p1", Confidence: 0.6, Complexity: 2, NodeIDs: []string{"n1"}, Nodes: []apptype.Node{issueNode("n1", []float32{0.3, 0.7})}},
		{ID: "p2", Confidence: 0.4, Complexity: 1, NodeIDs: []string{"n2"}, Nodes: []apptype.Node{issueNode("n2", []float32{0.9, 0.1})}},
	}
	dctx := apptype.Context{SuccessfulSolutions: []string{"n1"}}

	first := Rank(paths, query, dctx)
	second := Rank(paths, query, dctx)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}
