package index

import (
	"math/rand"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// HNSW wraps an approximate HNSW graph over fingerprint points.
type HNSW struct {
	graph  *hnsw.Graph[int] // keyed by position in points
	points []Point
	mu     sync.RWMutex
}

// NewHNSW builds the graph over points. Results are approximate and may differ
// between builds over the same points.
func NewHNSW(points []Point) *HNSW {
	h := &HNSW{points: make([]Point, 0, len(points))}
	if len(points) == 0 {
		return h
	}

	g := hnsw.NewGraph[int]()
	g.M = constants.HNSWNeighbors
	g.Ml = 1.0 / float64(constants.HNSWNeighbors) // Standard HNSW formula
	g.EfSearch = constants.HNSWEfSearch
	// Cosine distance is undefined for the all-zero fingerprint.
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(1))

	for i, p := range points {
		g.Add(hnsw.MakeNode(i, p.Fingerprint.Point()))
		h.points = append(h.points, p)
	}
	h.graph = g
	return h
}

// Len returns the number of indexed points.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}

// Nearest returns up to k approximate nearest points with exact Hamming distances.
func (h *HNSW) Nearest(query fingerprint.Fingerprint, k int) []Neighbor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if k <= 0 || h.graph == nil {
		return nil
	}

	// The graph search stops at the first local minimum once it holds k results,
	// so small k is widened to the candidate list size and trimmed afterwards.
	nodes := h.graph.Search(query.Point(), max(k, constants.HNSWEfSearch))
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		p := h.points[n.Key]
		out = append(out, Neighbor{Point: p, Distance: fingerprint.HammingDistance(query, p.Fingerprint)})
	}
	sortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}
