package index

import "container/heap"

// worstFirst is a max-heap of neighbours: the root is the farthest candidate,
// with the higher original index losing ties.
type worstFirst []Neighbor

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return compareNeighbors(h[i], h[j]) > 0 }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *worstFirst) Push(x any) { *h = append(*h, x.(Neighbor)) }

func (h *worstFirst) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

// topK keeps the k best neighbours seen so far.
type topK struct {
	k    int
	heap worstFirst
}

func newTopK(k int) *topK {
	return &topK{k: k, heap: make(worstFirst, 0, k)}
}

func (t *topK) full() bool {
	return len(t.heap) >= t.k
}

// radius returns the largest distance that can still enter the set.
func (t *topK) radius() int {
	if !t.full() {
		return 64
	}
	return t.heap[0].Distance
}

func (t *topK) offer(n Neighbor) {
	if !t.full() {
		heap.Push(&t.heap, n)
		return
	}
	if compareNeighbors(n, t.heap[0]) < 0 {
		t.heap[0] = n
		heap.Fix(&t.heap, 0)
	}
}

// sorted returns the kept neighbours, nearest first.
func (t *topK) sorted() []Neighbor {
	out := make([]Neighbor, len(t.heap))
	copy(out, t.heap)
	sortNeighbors(out)
	return out
}
