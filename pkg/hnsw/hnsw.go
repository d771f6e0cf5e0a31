// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest neighbor search under cosine similarity.
//
// Every stored and every query vector is L2-normalized, so the inner product
// of two vectors is their cosine similarity. Internally the graph orders
// nodes by cosine distance (1 - similarity); results are reported as
// similarity scores.
//
// # Parameters
//
//   - M: links per node on layers above 0 (2*M on layer 0)
//   - EFConstruction: candidate list width while inserting
//   - EFSearch: default candidate list width while searching
//
// # Concurrency
//
// Insert calls are serialized internally. Search never takes a lock and is
// safe to call from any number of goroutines as long as no Insert is in
// flight; callers build the graph first and then treat it as immutable.
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/perbu/policynav/pkg/distance"
)

const (
	// DefaultM is the default number of bidirectional links.
	DefaultM = 32

	// DefaultEFConstruction is the default candidate list width while inserting.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default candidate list width while searching.
	DefaultEFSearch = 64

	// minimumM is the smallest usable M; ln(1) would make the level
	// multiplier infinite.
	minimumM = 2

	// maxLevelCap bounds the drawn level of a node.
	maxLevelCap = 16
)

// Options configures an HNSW graph. They are fixed once the graph is built.
type Options struct {
	// Dimension is the length of every vector in the graph.
	Dimension int

	// M is the target number of links per node per layer. Higher values give
	// better recall on high-dimensional data at the cost of memory and build
	// time. Layer 0 allows 2*M links.
	M int

	// EFConstruction is the candidate list width used while inserting.
	EFConstruction int

	// EFSearch is the candidate list width used by Search when the caller
	// passes ef <= 0.
	EFSearch int

	// Heuristic selects diversity-aware neighbor selection. When false, the
	// closest M candidates are linked.
	Heuristic bool

	// RandomSeed makes level assignment reproducible. Nil seeds from the clock.
	RandomSeed *int64

	// Compression is applied to the graph payload when it is persisted.
	Compression Compression

	// Label is an arbitrary tag persisted with the graph.
	Label string
}

// DefaultOptions are the options New starts from.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	EFSearch:       DefaultEFSearch,
	Heuristic:      true,
	Compression:    CompressionZstd,
}

// Result is a single search hit.
type Result struct {
	ID    uint32
	Score float32 // cosine similarity in [-1, 1]
}

type node struct {
	level   int
	vector  []float32
	friends [][]uint32 // friends[l] is the adjacency list on layer l
}

// HNSW is a multi-layer proximity graph.
type HNSW struct {
	opts  Options
	mmax  int     // max links per node on layers > 0
	mmax0 int     // max links per node on layer 0
	ml    float64 // level multiplier, 1/ln(M)

	entryPoint uint32
	maxLevel   int
	count      int
	nodes      []*node // indexed by id; nil for ids never inserted

	rng         *rand.Rand
	visitedPool sync.Pool
	mu          sync.Mutex
}

// New creates an empty graph.
func New(optFns ...func(o *Options)) (*HNSW, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidOptions, opts.Dimension)
	}
	if opts.M < minimumM {
		return nil, fmt.Errorf("%w: M must be at least %d, got %d", ErrInvalidOptions, minimumM, opts.M)
	}
	if opts.EFConstruction <= 0 || opts.EFSearch <= 0 {
		return nil, fmt.Errorf("%w: ef values must be positive", ErrInvalidOptions)
	}
	if !opts.Compression.valid() {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidOptions, opts.Compression)
	}

	var seed int64
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	} else {
		seed = time.Now().UnixNano()
	}

	return newGraph(opts, rand.New(rand.NewSource(seed))), nil
}

func newGraph(opts Options, rng *rand.Rand) *HNSW {
	return &HNSW{
		opts:  opts,
		mmax:  opts.M,
		mmax0: 2 * opts.M,
		ml:    1 / math.Log(float64(opts.M)),
		rng:   rng,
		visitedPool: sync.Pool{
			New: func() any { return bitset.New(1024) },
		},
	}
}

// Len returns the number of vectors in the graph.
func (h *HNSW) Len() int {
	return h.count
}

// Dimension returns the configured vector length.
func (h *HNSW) Dimension() int {
	return h.opts.Dimension
}

// Options returns the options the graph was built with.
func (h *HNSW) Options() Options {
	return h.opts
}

// Contains reports whether id has been inserted.
func (h *HNSW) Contains(id uint32) bool {
	return int(id) < len(h.nodes) && h.nodes[id] != nil
}

// Vector returns the stored (normalized) vector for id.
func (h *HNSW) Vector(id uint32) ([]float32, bool) {
	if !h.Contains(id) {
		return nil, false
	}
	return h.nodes[id].vector, true
}

// Add inserts v under the next free id and returns that id.
func (h *HNSW) Add(v []float32) (uint32, error) {
	vec, err := h.prepareVector(v)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id := uint32(len(h.nodes))
	return id, h.insert(id, vec)
}

// Insert adds v to the graph under id.
func (h *HNSW) Insert(id uint32, v []float32) error {
	vec, err := h.prepareVector(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.insert(id, vec)
}

// insert links a normalized vector under id. The caller holds mu.
func (h *HNSW) insert(id uint32, vec []float32) error {
	if h.Contains(id) {
		return fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	if int(id) >= len(h.nodes) {
		grown := make([]*node, int(id)+1)
		copy(grown, h.nodes)
		h.nodes = grown
	}

	level := h.randomLevel()
	n := &node{
		level:   level,
		vector:  vec,
		friends: make([][]uint32, level+1),
	}
	h.nodes[id] = n

	if h.count == 0 {
		h.entryPoint = id
		h.maxLevel = level
		h.count = 1
		return nil
	}

	// 1. Greedy descent from the top layer to the node's own top layer.
	curr := queueItem{Node: h.entryPoint, Distance: h.distanceTo(vec, h.entryPoint)}
	curr = h.greedySearch(vec, curr, h.maxLevel, level)

	// 2. Search and link from the node's top layer down to 0.
	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, curr, h.opts.EFConstruction, l)

		neighbors := h.selectNeighbors(candidates, h.maxConnections(l))

		ids := make([]uint32, len(neighbors))
		for i, nb := range neighbors {
			ids[i] = nb.Node
		}
		n.friends[l] = ids

		for _, nb := range neighbors {
			h.link(nb.Node, id, l)
		}

		if len(candidates) > 0 {
			curr = candidates[0]
		}
	}

	if level > h.maxLevel {
		h.entryPoint = id
		h.maxLevel = level
	}
	h.count++

	return nil
}

// Search returns the k vectors most similar to q, highest score first. Ties
// are broken by lower id. ef is the candidate list width; ef <= 0 uses
// Options.EFSearch, and it is never narrower than k.
func (h *HNSW) Search(q []float32, k, ef int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if h.count == 0 {
		return []Result{}, nil
	}

	vec, err := h.prepareVector(q)
	if err != nil {
		return nil, err
	}

	if ef <= 0 {
		ef = h.opts.EFSearch
	}
	ef = max(ef, k)

	curr := queueItem{Node: h.entryPoint, Distance: h.distanceTo(vec, h.entryPoint)}
	curr = h.greedySearch(vec, curr, h.maxLevel, 0)

	items := h.searchLayer(vec, curr, ef, 0)
	if len(items) > k {
		items = items[:k]
	}

	results := make([]Result, len(items))
	for i, item := range items {
		results[i] = Result{
			ID:    item.Node,
			Score: distance.Dot(vec, h.nodes[item.Node].vector),
		}
	}
	sortResults(results)

	return results, nil
}

// BruteSearch scans every vector and returns the exact top k. It exists to
// measure the recall of Search.
func (h *HNSW) BruteSearch(q []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if h.count == 0 {
		return []Result{}, nil
	}

	vec, err := h.prepareVector(q)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, h.count)
	for id, n := range h.nodes {
		if n == nil {
			continue
		}
		results = append(results, Result{ID: uint32(id), Score: distance.Dot(vec, n.vector)})
	}
	sortResults(results)

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// prepareVector validates the length of v and returns a normalized copy.
func (h *HNSW) prepareVector(v []float32) ([]float32, error) {
	if len(v) != h.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: h.opts.Dimension, Actual: len(v)}
	}

	vec, ok := distance.NormalizeL2Copy(v)
	if !ok {
		return nil, ErrZeroVector
	}
	return vec, nil
}

func (h *HNSW) randomLevel() int {
	r := 1 - h.rng.Float64() // (0, 1]
	level := int(math.Floor(-math.Log(r) * h.ml))
	return min(level, maxLevelCap)
}

func (h *HNSW) maxConnections(level int) int {
	if level == 0 {
		return h.mmax0
	}
	return h.mmax
}

func (h *HNSW) distanceTo(v []float32, id uint32) float32 {
	return distance.CosineDistance(v, h.nodes[id].vector)
}

func (h *HNSW) friendsAt(id uint32, level int) []uint32 {
	n := h.nodes[id]
	if n == nil || level > n.level {
		return nil
	}
	return n.friends[level]
}

// greedySearch walks from curr towards q on every layer in (to, from],
// moving to a closer neighbor until none improves.
func (h *HNSW) greedySearch(q []float32, curr queueItem, from, to int) queueItem {
	for level := from; level > to; level-- {
		changed := true
		for changed {
			changed = false
			for _, next := range h.friendsAt(curr.Node, level) {
				d := h.distanceTo(q, next)
				if d < curr.Distance {
					curr = queueItem{Node: next, Distance: d}
					changed = true
				}
			}
		}
	}
	return curr
}

// searchLayer runs a best-first search of width ef on one layer starting at
// ep and returns the closest nodes found, nearest first.
func (h *HNSW) searchLayer(q []float32, ep queueItem, ef int, level int) []queueItem {
	visited := h.visitedPool.Get().(*bitset.BitSet)
	defer func() {
		visited.ClearAll()
		h.visitedPool.Put(visited)
	}()

	visited.Set(uint(ep.Node))

	candidates := newPriorityQueue(false, ef) // closest on top
	results := newPriorityQueue(true, ef+1)   // worst on top

	candidates.Push(ep)
	results.Push(ep)

	for candidates.Len() > 0 {
		curr, _ := candidates.Pop()

		worst, _ := results.Top()
		if results.Len() >= ef && worst.less(curr) {
			break
		}

		for _, next := range h.friendsAt(curr.Node, level) {
			if visited.Test(uint(next)) {
				continue
			}
			visited.Set(uint(next))

			item := queueItem{Node: next, Distance: h.distanceTo(q, next)}

			worst, _ = results.Top()
			if results.Len() < ef || item.less(worst) {
				candidates.Push(item)
				results.PushBounded(item, ef)
			}
		}
	}

	return results.Sorted()
}
