package hnsw

// LevelStats summarizes one layer of the graph.
type LevelStats struct {
	Level int
	Nodes int
	Edges int
}

// Stats describes the shape of a graph.
type Stats struct {
	Count      int
	Dimension  int
	MaxLevel   int
	EntryPoint uint32
	Levels     []LevelStats // index 0 is the base layer
}

// AvgDegree returns the mean out-degree on layer 0.
func (s Stats) AvgDegree() float64 {
	if len(s.Levels) == 0 || s.Levels[0].Nodes == 0 {
		return 0
	}
	return float64(s.Levels[0].Edges) / float64(s.Levels[0].Nodes)
}

// Stats walks the graph and counts nodes and directed edges per layer.
func (h *HNSW) Stats() Stats {
	st := Stats{
		Count:      h.count,
		Dimension:  h.opts.Dimension,
		MaxLevel:   h.maxLevel,
		EntryPoint: h.entryPoint,
	}
	if h.count == 0 {
		return st
	}

	st.Levels = make([]LevelStats, h.maxLevel+1)
	for l := range st.Levels {
		st.Levels[l].Level = l
	}
	for _, n := range h.nodes {
		if n == nil {
			continue
		}
		for l := 0; l <= n.level; l++ {
			st.Levels[l].Nodes++
			st.Levels[l].Edges += len(n.friends[l])
		}
	}
	return st
}
