package index

import (
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// BKTree is a metric tree over Hamming distance. Points with identical
// fingerprints share a node.
type BKTree struct {
	root *bkNode
	size int
}

type bkNode struct {
	fingerprint fingerprint.Fingerprint
	points      []Point
	children    map[int]*bkNode
}

// NewBKTree builds a tree by inserting points in order.
func NewBKTree(points []Point) *BKTree {
	t := &BKTree{}
	for _, p := range points {
		t.Add(p)
	}
	return t
}

// Add inserts a point. Not safe for use concurrently with queries.
func (t *BKTree) Add(p Point) {
	t.size++
	if t.root == nil {
		t.root = &bkNode{fingerprint: p.Fingerprint, points: []Point{p}}
		return
	}
	node := t.root
	for {
		d := fingerprint.HammingDistance(p.Fingerprint, node.fingerprint)
		if d == 0 {
			node.points = append(node.points, p)
			return
		}
		child, ok := node.children[d]
		if !ok {
			if node.children == nil {
				node.children = make(map[int]*bkNode)
			}
			node.children[d] = &bkNode{fingerprint: p.Fingerprint, points: []Point{p}}
			return
		}
		node = child
	}
}

// Len returns the number of indexed points.
func (t *BKTree) Len() int {
	return t.size
}

// Nearest returns the exact k nearest points to query.
func (t *BKTree) Nearest(query fingerprint.Fingerprint, k int) []Neighbor {
	if k <= 0 || t.root == nil {
		return nil
	}
	best := newTopK(k)
	t.nearest(t.root, query, best)
	return best.sorted()
}

func (t *BKTree) nearest(node *bkNode, query fingerprint.Fingerprint, best *topK) {
	d := fingerprint.HammingDistance(query, node.fingerprint)
	for _, p := range node.points {
		best.offer(Neighbor{Point: p, Distance: d})
	}
	// Children closest to d are most likely to hold near points; visit them first
	// so the radius shrinks early.
	for delta := 0; delta <= fingerprint.Bits; delta++ {
		r := best.radius()
		if delta > r {
			return
		}
		if child, ok := node.children[d-delta]; ok {
			t.nearest(child, query, best)
		}
		if delta > 0 {
			if child, ok := node.children[d+delta]; ok && delta <= best.radius() {
				t.nearest(child, query, best)
			}
		}
	}
}

// Within returns every point at Hamming distance <= radius from query,
// ordered by distance, then original index.
func (t *BKTree) Within(query fingerprint.Fingerprint, radius int) []Neighbor {
	if t.root == nil || radius < 0 {
		return nil
	}
	var out []Neighbor
	stack := []*bkNode{t.root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		d := fingerprint.HammingDistance(query, node.fingerprint)
		if d <= radius {
			for _, p := range node.points {
				out = append(out, Neighbor{Point: p, Distance: d})
			}
		}
		for dist, child := range node.children {
			if dist >= d-radius && dist <= d+radius {
				stack = append(stack, child)
			}
		}
	}
	sortNeighbors(out)
	return out
}
