package index

import (
	"cmp"
	"slices"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// KDTree splits points on one fingerprint bit per level, cycling through the 64 axes.
// Squared Euclidean distance over 0/1 coordinates equals Hamming distance.
type KDTree struct {
	nodes  []kdNode
	root   int
	points []Point
}

type kdNode struct {
	point       int // index into points
	axis        int
	left, right int // -1 when absent
}

// NewKDTree builds a balanced tree over points.
func NewKDTree(points []Point) *KDTree {
	t := &KDTree{
		nodes:  make([]kdNode, 0, len(points)),
		points: slices.Clone(points),
	}
	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	t.root = t.build(order, 0)
	return t
}

func (t *KDTree) build(order []int, depth int) int {
	if len(order) == 0 {
		return -1
	}
	axis := depth % fingerprint.Bits
	slices.SortFunc(order, func(a, b int) int {
		pa, pb := t.points[a], t.points[b]
		return cmp.Or(
			cmp.Compare(pa.Fingerprint.Bit(axis), pb.Fingerprint.Bit(axis)),
			cmp.Compare(pa.Index, pb.Index),
		)
	})
	mid := len(order) / 2

	id := len(t.nodes)
	t.nodes = append(t.nodes, kdNode{point: order[mid], axis: axis})
	left := t.build(order[:mid], depth+1)
	right := t.build(order[mid+1:], depth+1)
	t.nodes[id].left = left
	t.nodes[id].right = right
	return id
}

// Len returns the number of indexed points.
func (t *KDTree) Len() int {
	return len(t.points)
}

// Nearest returns the k nearest points to query.
func (t *KDTree) Nearest(query fingerprint.Fingerprint, k int) []Neighbor {
	if k <= 0 || t.root < 0 {
		return nil
	}
	best := newTopK(k)
	t.search(t.root, query, best)
	return best.sorted()
}

func (t *KDTree) search(id int, query fingerprint.Fingerprint, best *topK) {
	if id < 0 {
		return
	}
	node := t.nodes[id]
	p := t.points[node.point]
	best.offer(Neighbor{Point: p, Distance: fingerprint.HammingDistance(query, p.Fingerprint)})

	qBit, pBit := query.Bit(node.axis), p.Fingerprint.Bit(node.axis)
	near, far := node.left, node.right
	if qBit > pBit {
		near, far = far, near
	}
	t.search(near, query, best)

	// Along a 0/1 axis the squared distance to the splitting plane is 0 or 1.
	// Equal distances are still visited so lower original indexes win ties.
	planeDist := 0
	if qBit != pBit {
		planeDist = 1
	}
	if !best.full() || planeDist <= best.radius() {
		t.search(far, query, best)
	}
}
