package ranker

import (
	"math"
	"sort"

	"github.com/opentriage/diagraph-go/internal/apptype"
)

// Term weights for the combined path score.
const (
	graphWeight   = 0.4
	vectorWeight  = 0.4
	contextWeight = 0.2
)

// Cosine returns the cosine similarity dot(a,b)/(|a|*|b|). Mismatched lengths
// compare over the shorter prefix. A zero vector on either side yields 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	// Include the tail of the longer vector in its own norm.
	for i := n; i < len(a); i++ {
		na += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// GraphScore decays path confidence by hop count.
func GraphScore(p apptype.DiagnosticPath) float64 {
	return p.Confidence / (1 + 0.1*float64(p.Complexity))
}

// VectorScore averages the query similarity over path nodes that carry an
// embedding. Paths with no embedded nodes score 0.
func VectorScore(p apptype.DiagnosticPath, queryEmbedding []float32) float64 {
	if len(queryEmbedding) == 0 {
		return 0
	}
	var sum float64
	var count int
	for _, n := range p.Nodes {
		emb := n.Embedding()
		if len(emb) == 0 {
			continue
		}
		sum += Cosine(queryEmbedding, emb)
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// ContextScore nudges a neutral 0.5 up for path nodes the caller reports as
// previously successful solutions and down for failed ones, clamped to [0,1].
func ContextScore(p apptype.DiagnosticPath, dctx apptype.Context) float64 {
	successful := make(map[string]struct{}, len(dctx.SuccessfulSolutions))
	for _, id := range dctx.SuccessfulSolutions {
		successful[id] = struct{}{}
	}
	failed := make(map[string]struct{}, len(dctx.FailedSolutions))
	for _, id := range dctx.FailedSolutions {
		failed[id] = struct{}{}
	}
	score := 0.5
	for _, id := range p.NodeIDs {
		if _, ok := successful[id]; ok {
			score += 0.1
		}
		if _, ok := failed[id]; ok {
			score -= 0.1
		}
	}
	return clamp(score, 0, 1)
}

// Score computes the combined rank score for one path.
func Score(p apptype.DiagnosticPath, queryEmbedding []float32, dctx apptype.Context) float64 {
	return graphWeight*GraphScore(p) +
		vectorWeight*VectorScore(p, queryEmbedding) +
		contextWeight*ContextScore(p, dctx)
}

// Rank scores all paths and returns them sorted by descending score, ties
// broken by path id. The input slice is not modified; an empty input returns
// an empty slice.
func Rank(paths []apptype.DiagnosticPath, queryEmbedding []float32, dctx apptype.Context) []apptype.DiagnosticPath {
	out := make([]apptype.DiagnosticPath, len(paths))
	copy(out, paths)
	for i := range out {
		out[i].Score = Score(out[i], queryEmbedding, dctx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
