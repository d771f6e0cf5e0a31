package hnsw

import (
	"sort"

	"github.com/perbu/policynav/pkg/distance"
)

// selectNeighbors picks up to m links from candidates, which must be sorted
// nearest first.
func (h *HNSW) selectNeighbors(candidates []queueItem, m int) []queueItem {
	if len(candidates) <= m || !h.opts.Heuristic {
		return candidates[:min(m, len(candidates))]
	}

	result := h.applyHeuristic(candidates, m)
	if len(result) < m {
		result = fillUpNeighbors(result, candidates, m)
	}
	return result
}

// applyHeuristic keeps a candidate only if it is closer to the base node than
// to every neighbor selected so far (relative neighborhood graph rule). This
// spreads links across directions instead of packing them into one cluster.
func (h *HNSW) applyHeuristic(candidates []queueItem, m int) []queueItem {
	result := make([]queueItem, 0, m)

	for _, cand := range candidates {
		if len(result) >= m {
			break
		}

		candVec := h.nodes[cand.Node].vector
		good := true
		for _, sel := range result {
			if distance.CosineDistance(candVec, h.nodes[sel.Node].vector) < cand.Distance {
				good = false
				break
			}
		}

		if good {
			result = append(result, cand)
		}
	}

	return result
}

// fillUpNeighbors tops result up to m with the nearest candidates the
// heuristic rejected.
func fillUpNeighbors(result, candidates []queueItem, m int) []queueItem {
	chosen := make(map[uint32]struct{}, len(result))
	for _, r := range result {
		chosen[r.Node] = struct{}{}
	}

	for _, cand := range candidates {
		if len(result) >= m {
			break
		}
		if _, ok := chosen[cand.Node]; ok {
			continue
		}
		result = append(result, cand)
	}
	return result
}

// link adds target to the adjacency of source on level, pruning source's list
// back to its cap with the same selection rule when it overflows.
func (h *HNSW) link(source, target uint32, level int) {
	if source == target {
		return
	}

	n := h.nodes[source]
	if level > n.level {
		return
	}

	for _, f := range n.friends[level] {
		if f == target {
			return
		}
	}

	n.friends[level] = append(n.friends[level], target)

	maxConns := h.maxConnections(level)
	if len(n.friends[level]) <= maxConns {
		return
	}

	candidates := make([]queueItem, len(n.friends[level]))
	for i, f := range n.friends[level] {
		candidates[i] = queueItem{Node: f, Distance: distance.CosineDistance(n.vector, h.nodes[f].vector)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].less(candidates[j])
	})

	selected := h.selectNeighbors(candidates, maxConns)

	pruned := make([]uint32, len(selected))
	for i, s := range selected {
		pruned[i] = s.Node
	}
	n.friends[level] = pruned
}
