package database

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/opentriage/diagraph-go/internal/apptype"
	"github.com/opentriage/diagraph-go/internal/metrics"
)

const (
	// maxTraversePaths caps how many paths a single traversal returns.
	maxTraversePaths = 20
	// maxFrontierSize bounds the explored frontier per depth level. When a
	// level fans out wider, the highest-confidence branches survive.
	maxFrontierSize = 512
)

// frontierItem is one branch of the bounded-depth search: the node the branch
// currently ends at, the running confidence (product of edge weights), and
// the path accumulated so far.
type frontierItem struct {
	nodeID     string
	kind       apptype.NodeKind
	confidence float64
	nodeIDs    []string
	edges      []apptype.PathEdge
	onPath     map[string]bool
}

// Traverse explores outward from startID along edges whose type is in
// allowedTypes, up to maxDepth hops, treating typed edges as undirected while
// preserving their stored orientation in the returned paths.
//
// A branch terminates at a Solution node, at depth exhaustion, or when no
// further moves exist; a terminated branch is returned only if it ends at a
// Cause or Solution. A branch is pruned once its confidence drops below
// minConfidence. Depth 0 returns no paths.
//
// Exceeding the context deadline aborts outstanding exploration and returns
// the paths collected so far with Partial set, rather than failing.
func (s *Store) Traverse(ctx context.Context, projectName, startID string, maxDepth int, allowedTypes []apptype.RelationType, minConfidence float64) (apptype.TraverseResult, error) {
	done := metrics.TimeOp("db_traverse")
	success := false
	defer func() { done(success) }()

	result := apptype.TraverseResult{Paths: []apptype.DiagnosticPath{}}
	if startID == "" {
		return result, &apptype.ValidationError{Op: "traverse", Field: "start_id", Reason: "must be a non-empty string"}
	}
	if minConfidence < 0 || minConfidence > 1 {
		return result, &apptype.ValidationError{Op: "traverse", Field: "min_confidence", Reason: "must be within [0,1]"}
	}

	startKinds, err := s.nodeKinds(ctx, projectName, []string{startID})
	if err != nil {
		return result, err
	}
	startKind, ok := startKinds[startID]
	if !ok {
		return result, &apptype.NotFoundError{Op: "traverse", Kind: "node", ID: startID}
	}
	if maxDepth <= 0 {
		success = true
		return result, nil
	}

	frontier := []frontierItem{{
		nodeID:     startID,
		kind:       startKind,
		confidence: 1.0,
		nodeIDs:    []string{startID},
		onPath:     map[string]bool{startID: true},
	}}
	kinds := map[string]apptype.NodeKind{startID: startKind}
	completed := make([]frontierItem, 0, maxTraversePaths)
	partial := false

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if ctx.Err() != nil {
			partial = true
			break
		}

		frontierIDs := make([]string, 0, len(frontier))
		seen := make(map[string]bool, len(frontier))
		for _, item := range frontier {
			if !seen[item.nodeID] {
				seen[item.nodeID] = true
				frontierIDs = append(frontierIDs, item.nodeID)
			}
		}

		edges, err := s.touchingEdges(ctx, projectName, frontierIDs, allowedTypes)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				partial = true
				break
			}
			return result, err
		}

		// Resolve kinds for any endpoint we haven't seen yet
		unknown := make([]string, 0)
		for _, e := range edges {
			if _, ok := kinds[e.Source]; !ok {
				kinds[e.Source] = ""
				unknown = append(unknown, e.Source)
			}
			if _, ok := kinds[e.Target]; !ok {
				kinds[e.Target] = ""
				unknown = append(unknown, e.Target)
			}
		}
		if len(unknown) > 0 {
			resolved, err := s.nodeKinds(ctx, projectName, unknown)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					partial = true
					break
				}
				return result, err
			}
			for id, k := range resolved {
				kinds[id] = k
			}
		}

		// Deterministic edge ordering keeps traversal output stable
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].Source != edges[j].Source {
				return edges[i].Source < edges[j].Source
			}
			if edges[i].Target != edges[j].Target {
				return edges[i].Target < edges[j].Target
			}
			return edges[i].Type < edges[j].Type
		})

		byNode := make(map[string][]apptype.Edge, len(frontierIDs))
		for _, e := range edges {
			byNode[e.Source] = append(byNode[e.Source], e)
			if e.Target != e.Source {
				byNode[e.Target] = append(byNode[e.Target], e)
			}
		}

		next := make([]frontierItem, 0, len(frontier))
		for _, item := range frontier {
			produced := false
			for _, e := range byNode[item.nodeID] {
				neighbor := e.Target
				if neighbor == item.nodeID {
					neighbor = e.Source
				}
				if item.onPath[neighbor] {
					continue
				}
				kind, ok := kinds[neighbor]
				if !ok || kind == "" {
					continue
				}

				confidence := item.confidence * e.Weight
				if confidence < minConfidence {
					continue
				}

				child := frontierItem{
					nodeID:     neighbor,
					kind:       kind,
					confidence: confidence,
					nodeIDs:    append(append([]string{}, item.nodeIDs...), neighbor),
					edges:      append(append([]apptype.PathEdge{}, item.edges...), apptype.PathEdge{Source: e.Source, Target: e.Target, Type: e.Type}),
					onPath:     copyStringSet(item.onPath, neighbor),
				}
				produced = true

				// Solutions are terminal; depth exhaustion terminates too
				if kind == apptype.KindSolution {
					completed = append(completed, child)
					continue
				}
				if depth+1 >= maxDepth {
					if kind == apptype.KindCause {
						completed = append(completed, child)
					}
					continue
				}
				next = append(next, child)
			}

			// A branch with no viable continuation ends here; keep it if it
			// has at least one edge and terminates at a cause or solution.
			if !produced && len(item.edges) > 0 && (item.kind == apptype.KindCause || item.kind == apptype.KindSolution) {
				completed = append(completed, item)
			}
		}
		frontier = pruneFrontier(next, maxFrontierSize)
	}

	// Branches still on the frontier when exploration stopped early count as
	// terminated for partial results.
	if partial {
		for _, item := range frontier {
			if len(item.edges) > 0 && (item.kind == apptype.KindCause || item.kind == apptype.KindSolution) {
				completed = append(completed, item)
			}
		}
	}

	sort.Slice(completed, func(i, j int) bool {
		if completed[i].confidence != completed[j].confidence {
			return completed[i].confidence > completed[j].confidence
		}
		if len(completed[i].edges) != len(completed[j].edges) {
			return len(completed[i].edges) < len(completed[j].edges)
		}
		return completed[i].nodeIDs[0] < completed[j].nodeIDs[0]
	})
	if len(completed) > maxTraversePaths {
		completed = completed[:maxTraversePaths]
	}

	paths := make([]apptype.DiagnosticPath, 0, len(completed))
	for _, item := range completed {
		paths = append(paths, apptype.DiagnosticPath{
			ID:         strings.Join(item.nodeIDs, ">"),
			StartID:    item.nodeIDs[0],
			NodeIDs:    item.nodeIDs,
			Edges:      item.edges,
			Confidence: item.confidence,
			Complexity: len(item.edges),
		})
	}

	// Materialize nodes so rankers can reach embeddings without extra round trips
	if len(paths) > 0 {
		allIDs := make([]string, 0)
		seen := make(map[string]bool)
		for _, p := range paths {
			for _, id := range p.NodeIDs {
				if !seen[id] {
					seen[id] = true
					allIDs = append(allIDs, id)
				}
			}
		}
		nodes, err := s.GetNodes(ctx, projectName, allIDs)
		if err == nil {
			byID := make(map[string]apptype.Node, len(nodes))
			for _, n := range nodes {
				byID[n.ID()] = n
			}
			for i := range paths {
				materialized := make([]apptype.Node, 0, len(paths[i].NodeIDs))
				for _, id := range paths[i].NodeIDs {
					if n, ok := byID[id]; ok {
						materialized = append(materialized, n)
					}
				}
				paths[i].Nodes = materialized
			}
		} else if !errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
	}

	result.Paths = paths
	result.Partial = partial
	success = true
	return result, nil
}

// pruneFrontier keeps the max highest-confidence branches, tie-breaking on
// the path itself so a dense level always carries the same branches forward.
func pruneFrontier(items []frontierItem, max int) []frontierItem {
	if len(items) <= max {
		return items
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].confidence != items[j].confidence {
			return items[i].confidence > items[j].confidence
		}
		return strings.Join(items[i].nodeIDs, ">") < strings.Join(items[j].nodeIDs, ">")
	})
	return items[:max]
}

func copyStringSet(src map[string]bool, extra string) map[string]bool {
	out := make(map[string]bool, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out[extra] = true
	return out
}
