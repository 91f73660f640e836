// Package index provides nearest-neighbour search over 64-bit fingerprints.
//
// Every index reports exact Hamming distances. Only the candidate generation
// differs between kinds: the k-d tree and BK-tree return the exact k nearest,
// the HNSW graph is approximate and may miss true neighbours.
package index

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// ErrUnknownKind is returned for index kinds other than kdtree, hnsw and bktree.
var ErrUnknownKind = errors.New("unknown index kind")

// Point is an indexed fingerprint tagged with its record.
type Point struct {
	Index       int
	ID          string
	Fingerprint fingerprint.Fingerprint
}

// Neighbor is a search result. Distance is the Hamming distance to the query.
type Neighbor struct {
	Point
	Distance int
}

// Index answers k-nearest-neighbour queries. Implementations are safe for concurrent reads.
type Index interface {
	// Nearest returns up to k neighbours of query ordered by distance, then original index.
	Nearest(query fingerprint.Fingerprint, k int) []Neighbor
	Len() int
}

// Kind selects an index implementation.
type Kind int

const (
	// KindKDTree is a k-d tree over the fingerprint bits as 64 coordinates.
	KindKDTree Kind = iota
	// KindHNSW is an approximate hierarchical navigable small world graph.
	KindHNSW
	// KindBKTree is a Burkhard-Keller tree in Hamming space.
	KindBKTree
)

func (k Kind) String() string {
	switch k {
	case KindKDTree:
		return "kdtree"
	case KindHNSW:
		return "hnsw"
	case KindBKTree:
		return "bktree"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves kdtree, hnsw or bktree, case-insensitively.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "kdtree", "":
		return KindKDTree, nil
	case "hnsw":
		return KindHNSW, nil
	case "bktree":
		return KindBKTree, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Build creates an index of the given kind over points.
func Build(kind Kind, points []Point) (Index, error) {
	switch kind {
	case KindKDTree:
		return NewKDTree(points), nil
	case KindHNSW:
		return NewHNSW(points), nil
	case KindBKTree:
		return NewBKTree(points), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
}

// PointsFromRecords returns a point for every present record.
func PointsFromRecords(records []fingerprint.Record) []Point {
	points := make([]Point, 0, len(records))
	for _, r := range records {
		if r.Present {
			points = append(points, Point{Index: r.Index, ID: r.ID, Fingerprint: r.Fingerprint})
		}
	}
	return points
}

// compareNeighbors orders by distance, then original index.
func compareNeighbors(a, b Neighbor) int {
	return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.Index, b.Index))
}

func sortNeighbors(ns []Neighbor) {
	slices.SortFunc(ns, compareNeighbors)
}
