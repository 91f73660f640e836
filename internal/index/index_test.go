package index

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// randomPoints returns n points in clusters: each centre plus a few flipped-bit variants.
func randomPoints(seed uint64, n int) []Point {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	points := make([]Point, 0, n)
	var centre fingerprint.Fingerprint
	for i := range n {
		if i%5 == 0 {
			centre = fingerprint.Fingerprint(rng.Uint64())
		}
		f := centre
		for range rng.IntN(4) {
			f ^= 1 << rng.IntN(64)
		}
		points = append(points, Point{Index: i, ID: string(rune('a' + i%26)), Fingerprint: f})
	}
	return points
}

// bruteForce is the reference k-nearest implementation.
func bruteForce(points []Point, query fingerprint.Fingerprint, k int) []Neighbor {
	all := make([]Neighbor, 0, len(points))
	for _, p := range points {
		all = append(all, Neighbor{Point: p, Distance: fingerprint.HammingDistance(query, p.Fingerprint)})
	}
	sortNeighbors(all)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input    string
		expected Kind
		wantErr  bool
	}{
		{"kdtree", KindKDTree, false},
		{"kd-tree", KindKDTree, false},
		{"HNSW", KindHNSW, false},
		{"bktree", KindBKTree, false},
		{"annoy", 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			k, err := ParseKind(tc.input)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, k)
			assert.Equal(t, k, mustKind(t, k.String()))
		})
	}
}

func mustKind(t *testing.T, s string) Kind {
	t.Helper()
	k, err := ParseKind(s)
	require.NoError(t, err)
	return k
}

func TestBuildUnknownKind(t *testing.T) {
	_, err := Build(Kind(99), nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestExactIndexesMatchBruteForce(t *testing.T) {
	points := randomPoints(7, 200)

	for _, kind := range []Kind{KindKDTree, KindBKTree} {
		t.Run(kind.String(), func(t *testing.T) {
			idx, err := Build(kind, points)
			require.NoError(t, err)
			require.Equal(t, len(points), idx.Len())

			for _, k := range []int{1, 3, 10, 250} {
				for qi := 0; qi < len(points); qi += 17 {
					q := points[qi].Fingerprint
					assert.Equal(t, bruteForce(points, q, k), idx.Nearest(q, k), "k=%d query=%d", k, qi)
				}
			}
		})
	}
}

func TestNearestReturnsSelfFirst(t *testing.T) {
	points := randomPoints(11, 60)

	for _, kind := range []Kind{KindKDTree, KindHNSW, KindBKTree} {
		t.Run(kind.String(), func(t *testing.T) {
			idx, err := Build(kind, points)
			require.NoError(t, err)

			for _, p := range points {
				got := idx.Nearest(p.Fingerprint, 3)
				require.NotEmpty(t, got)
				assert.Equal(t, 0, got[0].Distance)
				assert.True(t, slices.IsSortedFunc(got, compareNeighbors))
			}
		})
	}
}

func TestTiesBreakByIndex(t *testing.T) {
	f := fingerprint.MustParse("1111000011110000111100001111000011110000111100001111000011110000")
	points := []Point{
		{Index: 4, ID: "e", Fingerprint: f},
		{Index: 1, ID: "b", Fingerprint: f},
		{Index: 3, ID: "d", Fingerprint: f},
		{Index: 0, ID: "a", Fingerprint: f ^ 1},
		{Index: 2, ID: "c", Fingerprint: f},
	}

	for _, kind := range []Kind{KindKDTree, KindBKTree} {
		t.Run(kind.String(), func(t *testing.T) {
			idx, err := Build(kind, points)
			require.NoError(t, err)

			got := idx.Nearest(f, 3)
			require.Len(t, got, 3)
			assert.Equal(t, []int{1, 2, 3}, []int{got[0].Index, got[1].Index, got[2].Index})
		})
	}
}

func TestHNSWRecall(t *testing.T) {
	points := randomPoints(3, 300)
	idx := NewHNSW(points)

	hits, total := 0, 0
	for qi := 0; qi < len(points); qi += 7 {
		q := points[qi].Fingerprint
		want := bruteForce(points, q, 5)
		got := idx.Nearest(q, 5)
		require.LessOrEqual(t, len(got), 5)
		// Equal distances count as a hit: ties may be resolved to other points.
		for i, w := range want {
			total++
			if i < len(got) && got[i].Distance == w.Distance {
				hits++
			}
		}
	}
	// Approximate, but clustered data is easy.
	assert.GreaterOrEqual(t, float64(hits)/float64(total), 0.8)
}

func TestHNSWSelfFirstOnLargerSets(t *testing.T) {
	points := randomPoints(17, 500)
	idx := NewHNSW(points)

	for _, p := range points {
		got := idx.Nearest(p.Fingerprint, 1)
		require.Len(t, got, 1)
		assert.Equal(t, 0, got[0].Distance, "query %d", p.Index)
	}
}

func TestEmptyIndexes(t *testing.T) {
	for _, kind := range []Kind{KindKDTree, KindHNSW, KindBKTree} {
		t.Run(kind.String(), func(t *testing.T) {
			idx, err := Build(kind, nil)
			require.NoError(t, err)
			assert.Equal(t, 0, idx.Len())
			assert.Empty(t, idx.Nearest(0, 5))
		})
	}
}

func TestNearestNonPositiveK(t *testing.T) {
	points := randomPoints(5, 10)
	for _, kind := range []Kind{KindKDTree, KindHNSW, KindBKTree} {
		idx, err := Build(kind, points)
		require.NoError(t, err)
		assert.Empty(t, idx.Nearest(points[0].Fingerprint, 0), kind.String())
	}
}

func TestBKTreeWithin(t *testing.T) {
	points := randomPoints(9, 150)
	tree := NewBKTree(points)

	for _, radius := range []int{0, 2, 5} {
		for qi := 0; qi < len(points); qi += 13 {
			q := points[qi].Fingerprint
			var want []Neighbor
			for _, n := range bruteForce(points, q, len(points)) {
				if n.Distance <= radius {
					want = append(want, n)
				}
			}
			assert.Equal(t, want, tree.Within(q, radius), "radius=%d query=%d", radius, qi)
		}
	}
}

func TestPointsFromRecords(t *testing.T) {
	records := []fingerprint.Record{
		{Index: 0, ID: "a", Fingerprint: 1, Present: true},
		{Index: 1, ID: "b"},
		{Index: 2, ID: "c", Fingerprint: 3, Present: true},
	}

	points := PointsFromRecords(records)
	require.Len(t, points, 2)
	assert.Equal(t, Point{Index: 2, ID: "c", Fingerprint: 3}, points[1])
}
