package cluster

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

func TestPairs(t *testing.T) {
	zeros := strings.Repeat("0", 64)
	oneBit := strings.Repeat("0", 63) + "1"
	twoBits := strings.Repeat("0", 62) + "11"
	ones := strings.Repeat("1", 64)
	recs := records(zeros, oneBit, ones, "", twoBits)

	pairs := Pairs(recs, 1)
	require.Len(t, pairs, 2)
	assert.Equal(t, "a", pairs[0].First)
	assert.Equal(t, "b", pairs[0].Second)
	assert.Equal(t, 1, pairs[0].Distance)
	assert.Equal(t, "b", pairs[1].First)
	assert.Equal(t, "e", pairs[1].Second)

	assert.Len(t, Pairs(recs, 2), 3)
	assert.Empty(t, Pairs(recs, 0))
}

func TestPairsSymmetricWithBruteForce(t *testing.T) {
	recs := synthetic(17, 120)

	for _, thr := range []int{0, 2, 6} {
		got := Pairs(recs, thr)

		var want [][2]int
		for i := range recs {
			for j := i + 1; j < len(recs); j++ {
				if fingerprint.HammingDistance(recs[i].Fingerprint, recs[j].Fingerprint) <= thr {
					want = append(want, [2]int{i, j})
				}
			}
		}

		require.Len(t, got, len(want), "threshold %d", thr)
		for i, p := range got {
			assert.Equal(t, recs[want[i][0]].ID, p.First)
			assert.Equal(t, recs[want[i][1]].ID, p.Second)
		}
	}
}

func TestAllPairsSymmetry(t *testing.T) {
	// Reversing the input must not change which images end up grouped together
	// when every group is a clique well separated from the others.
	a := strings.Repeat("0", 64)
	a1 := strings.Repeat("0", 63) + "1"
	b := strings.Repeat("1", 64)
	b1 := "0" + strings.Repeat("1", 63)
	recs := records(a, b, a1, b1)
	reversed := records(b1, a1, b, a)

	forward := build(t, recs, Options{MaxHammingDistance: 2, NearestK: 4})
	backward := build(t, reversed, Options{MaxHammingDistance: 2, NearestK: 4})

	members := func(groups []Group, recs []fingerprint.Record) []map[fingerprint.Fingerprint]bool {
		var out []map[fingerprint.Fingerprint]bool
		for _, g := range groups {
			m := make(map[fingerprint.Fingerprint]bool)
			for _, i := range g.Indexes {
				m[recs[i].Fingerprint] = true
			}
			out = append(out, m)
		}
		return out
	}

	assert.ElementsMatch(t, members(forward, recs), members(backward, reversed))
}
