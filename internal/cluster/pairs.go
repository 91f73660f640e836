package cluster

import (
	"cmp"
	"slices"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/index"
)

// Pair is two similar images, First preceding Second in input order.
type Pair struct {
	First    string `json:"first"`
	Second   string `json:"second"`
	Distance int    `json:"distance"`

	firstIndex, secondIndex int
}

// Pairs returns every pair of present records within maxHammingDistance,
// ordered by the first then the second record's original index.
func Pairs(records []fingerprint.Record, maxHammingDistance int) []Pair {
	present := presentSorted(records)
	tree := index.NewBKTree(index.PointsFromRecords(present))

	var pairs []Pair
	for _, r := range present {
		for _, n := range tree.Within(r.Fingerprint, maxHammingDistance) {
			if n.Index <= r.Index {
				continue
			}
			pairs = append(pairs, Pair{
				First:       r.ID,
				Second:      n.ID,
				Distance:    n.Distance,
				firstIndex:  r.Index,
				secondIndex: n.Index,
			})
		}
	}

	slices.SortFunc(pairs, func(a, b Pair) int {
		return cmp.Or(cmp.Compare(a.firstIndex, b.firstIndex), cmp.Compare(a.secondIndex, b.secondIndex))
	})
	return pairs
}
