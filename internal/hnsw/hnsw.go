// Package hnsw implements an in-memory Hierarchical Navigable Small World
// index for approximate nearest-neighbour search over cosine similarity.
// Insertion is incremental; no rebuild is required as vectors are added or
// removed.
package hnsw

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Default construction parameters.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
)

// Hit is a similarity search result.
type Hit struct {
	// Key is the identifier the vector was added under.
	Key string

	// Similarity is the cosine similarity to the query, in [-1, 1].
	Similarity float64
}

type node struct {
	key     string
	vec     []float32 // unit-normalised
	deleted bool
	links   [][]*node // neighbours per level
}

// Index is a thread-safe HNSW graph. Vectors are normalised on insertion
// so cosine similarity reduces to the inner product.
type Index struct {
	mu             sync.RWMutex
	dim            int
	m              int
	efConstruction int
	efSearch       int
	ml             float64
	rng            *rand.Rand
	nodes          map[string]*node
	entry          *node
}

// Option configures the index.
type Option func(*Index)

// WithM sets the maximum number of neighbours per node above level 0.
func WithM(m int) Option {
	return func(ix *Index) {
		if m > 0 {
			ix.m = m
		}
	}
}

// WithEfConstruction sets the candidate list size used during insertion.
func WithEfConstruction(ef int) Option {
	return func(ix *Index) {
		if ef > 0 {
			ix.efConstruction = ef
		}
	}
}

// WithEfSearch sets the candidate list size used during search.
func WithEfSearch(ef int) Option {
	return func(ix *Index) {
		if ef > 0 {
			ix.efSearch = ef
		}
	}
}

// New creates an empty index for vectors of the given dimension.
func New(dim int, opts ...Option) *Index {
	ix := &Index{
		dim:            dim,
		m:              DefaultM,
		efConstruction: DefaultEfConstruction,
		efSearch:       DefaultEfSearch,
		nodes:          make(map[string]*node),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.ml = 1.0 / math.Log(float64(ix.m))
	// Fixed seed: level assignment stays deterministic for a given
	// insertion order, which keeps tests reproducible.
	ix.rng = rand.New(rand.NewSource(42)) //nolint:gosec // not cryptographic
	return ix
}

// Dimensions returns the vector dimension the index was created with.
func (ix *Index) Dimensions() int {
	return ix.dim
}

// Len returns the number of live vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// Add inserts a vector under the given key. Adding an existing key
// replaces its vector.
func (ix *Index) Add(key string, vec []float32) error {
	norm, err := normalise(vec, ix.dim)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if old, ok := ix.nodes[key]; ok {
		old.deleted = true
		delete(ix.nodes, key)
	}

	level := int(-math.Log(ix.rng.Float64()) * ix.ml)
	n := &node{
		key:   key,
		vec:   norm,
		links: make([][]*node, level+1),
	}
	ix.nodes[key] = n

	if ix.entry == nil {
		ix.entry = n
		return nil
	}

	ep := ix.entry
	maxLevel := len(ix.entry.links) - 1

	// Greedy descent through the levels above the new node's level.
	for l := maxLevel; l > level; l-- {
		ep = greedyClosest(ep, norm, l)
	}

	// Connect on every shared level.
	top := level
	if top > maxLevel {
		top = maxLevel
	}
	for l := top; l >= 0; l-- {
		cands := searchLayer(ep, norm, ix.efConstruction, l)

		for _, c := range cands {
			if len(n.links[l]) >= ix.m {
				break
			}
			n.links[l] = append(n.links[l], c.n)
			c.n.links[l] = append(c.n.links[l], n)
			pruneLinks(c.n, l, ix.maxConn(l))
		}
		if len(cands) > 0 {
			ep = cands[0].n
		}
	}

	if level > maxLevel {
		ix.entry = n
	}
	return nil
}

// Delete removes a key. The node stays in the graph as a routing waypoint
// but is excluded from results. Returns false when the key is absent.
func (ix *Index) Delete(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n, ok := ix.nodes[key]
	if !ok {
		return false
	}
	n.deleted = true
	delete(ix.nodes, key)
	return true
}

// Search returns the k nearest live vectors to the query, ranked by
// descending similarity with ties broken by key for determinism.
func (ix *Index) Search(query []float32, k int) ([]Hit, error) {
	norm, err := normalise(query, ix.dim)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.entry == nil || len(ix.nodes) == 0 {
		return nil, nil
	}

	ep := ix.entry
	for l := len(ix.entry.links) - 1; l > 0; l-- {
		ep = greedyClosest(ep, norm, l)
	}

	ef := ix.efSearch
	if ef < k {
		ef = k
	}
	// Tombstoned nodes still occupy candidate slots; widen to compensate.
	cands := searchLayer(ep, norm, ef+len(ix.nodes)/8, 0)

	hits := make([]Hit, 0, k)
	for _, c := range cands {
		if c.n.deleted {
			continue
		}
		hits = append(hits, Hit{Key: c.n.key, Similarity: c.sim})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (ix *Index) maxConn(level int) int {
	if level == 0 {
		return 2 * ix.m
	}
	return ix.m
}

// greedyClosest walks the layer towards the query until no neighbour
// improves on the current node.
func greedyClosest(ep *node, q []float32, level int) *node {
	cur := ep
	curSim := dot(cur.vec, q)
	for {
		improved := false
		if level < len(cur.links) {
			for _, nb := range cur.links[level] {
				if s := dot(nb.vec, q); s > curSim {
					cur, curSim = nb, s
					improved = true
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

type scored struct {
	n   *node
	sim float64
}

// searchLayer is the classic HNSW beam search over one layer. It returns
// up to ef candidates sorted by descending similarity.
func searchLayer(ep *node, q []float32, ef, level int) []scored {
	epSim := dot(ep.vec, q)
	visited := map[*node]bool{ep: true}

	cand := &simMaxHeap{{ep, epSim}}
	heap.Init(cand)
	res := &simMinHeap{{ep, epSim}}
	heap.Init(res)

	for cand.Len() > 0 {
		c := heap.Pop(cand).(scored)
		if res.Len() >= ef && c.sim < (*res)[0].sim {
			break
		}
		if level >= len(c.n.links) {
			continue
		}
		for _, nb := range c.n.links[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			sim := dot(nb.vec, q)
			if res.Len() < ef || sim > (*res)[0].sim {
				heap.Push(cand, scored{nb, sim})
				heap.Push(res, scored{nb, sim})
				if res.Len() > ef {
					heap.Pop(res)
				}
			}
		}
	}

	out := make([]scored, res.Len())
	for i := res.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(res).(scored)
	}
	return out
}

// pruneLinks trims a node's neighbour list on one level to the closest
// limit entries.
func pruneLinks(n *node, level, limit int) {
	if len(n.links[level]) <= limit {
		return
	}
	links := n.links[level]
	sort.Slice(links, func(i, j int) bool {
		return dot(links[i].vec, n.vec) > dot(links[j].vec, n.vec)
	})
	n.links[level] = links[:limit]
}

func normalise(vec []float32, dim int) ([]float32, error) {
	if len(vec) != dim {
		return nil, errors.New("hnsw: vector dimension mismatch")
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, errors.New("hnsw: zero vector")
	}
	inv := 1.0 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// simMaxHeap pops the highest similarity first.
type simMaxHeap []scored

func (h simMaxHeap) Len() int           { return len(h) }
func (h simMaxHeap) Less(i, j int) bool { return h[i].sim > h[j].sim }
func (h simMaxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *simMaxHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *simMaxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// simMinHeap pops the lowest similarity first.
type simMinHeap []scored

func (h simMinHeap) Len() int           { return len(h) }
func (h simMinHeap) Less(i, j int) bool { return h[i].sim < h[j].sim }
func (h simMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *simMinHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *simMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
