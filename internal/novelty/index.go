package novelty

import "github.com/coder/hnsw"

// graphNeighbors is how many approximate neighbours are re-scored with Cosine.
const graphNeighbors = 8

// similarityIndex finds the stored embedding closest to a query. Every
// embedding goes into an HNSW graph; the most recent ones are also held in an
// exact ring that is scanned linearly, so matches near the threshold on
// recent items never depend on graph recall.
type similarityIndex struct {
	recent *ring
	graph  *hnsw.Graph[string]
	dims   int
}

func newSimilarityIndex(window int) *similarityIndex {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 64
	return &similarityIndex{recent: newRing(window), graph: g}
}

// add indexes vec under key. Zero vectors are never similar to anything and
// are not stored. Vectors whose length differs from the first indexed one
// (a changed embedding model) stay out of the graph.
func (x *similarityIndex) add(key string, vec []float32) {
	u := unit(vec)
	if u == nil {
		return
	}
	x.recent.add(key, u)
	if x.dims == 0 {
		x.dims = len(u)
	}
	if len(u) != x.dims {
		return
	}
	x.graph.Add(hnsw.MakeNode(key, u))
}

// nearest returns the most similar indexed entry to vec.
func (x *similarityIndex) nearest(vec []float32) (string, float64) {
	u := unit(vec)
	if u == nil {
		return "", 0
	}
	bestKey, best := x.recent.nearest(u)
	if len(u) != x.dims || x.graph.Len() == 0 {
		return bestKey, best
	}
	for _, n := range x.graph.Search(u, graphNeighbors) {
		if s := Cosine(u, n.Value); s > best {
			best, bestKey = s, n.Key
		}
	}
	return bestKey, best
}

// len returns the number of embeddings in the graph.
func (x *similarityIndex) len() int { return x.graph.Len() }

// ring holds unit vectors of the most recent records. Lookups are a linear
// scan bounded by its capacity.
type ring struct {
	capacity int // 0 means unbounded
	entries  []ringEntry
	next     int
}

type ringEntry struct {
	key string
	vec []float32
}

func newRing(capacity int) *ring {
	if capacity < 0 {
		capacity = 0
	}
	return &ring{capacity: capacity}
}

// add inserts a unit vector, evicting the oldest entry once full.
func (r *ring) add(key string, u []float32) {
	e := ringEntry{key: key, vec: u}
	if r.capacity == 0 || len(r.entries) < r.capacity {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.next] = e
	r.next = (r.next + 1) % r.capacity
}

func (r *ring) nearest(u []float32) (string, float64) {
	var bestKey string
	best := 0.0
	for _, e := range r.entries {
		if s := dot(u, e.vec); s > best {
			best, bestKey = s, e.key
		}
	}
	return bestKey, best
}
