package cluster

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/events"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/index"
)

func records(fps ...string) []fingerprint.Record {
	out := make([]fingerprint.Record, len(fps))
	for i, s := range fps {
		out[i] = fingerprint.Record{Index: i, ID: string(rune('a' + i))}
		if s != "" {
			out[i].Fingerprint = fingerprint.MustParse(s)
			out[i].Present = true
		}
	}
	return out
}

// synthetic returns n records forming clusters of near-identical fingerprints.
func synthetic(seed uint64, n int) []fingerprint.Record {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]fingerprint.Record, n)
	var centre fingerprint.Fingerprint
	for i := range n {
		if i%4 == 0 {
			centre = fingerprint.Fingerprint(rng.Uint64())
		}
		f := centre
		for range rng.IntN(3) {
			f ^= 1 << rng.IntN(64)
		}
		out[i] = fingerprint.Record{Index: i, ID: fmt.Sprintf("img-%02d", i), Fingerprint: f, Present: true}
	}
	// Shuffle so clusters are interleaved in input order.
	rng.Shuffle(n, func(i, j int) {
		out[i].Fingerprint, out[j].Fingerprint = out[j].Fingerprint, out[i].Fingerprint
	})
	return out
}

var allStrategies = []Strategy{AllPairs, IndexAssisted, Concurrent}

func build(t *testing.T, recs []fingerprint.Record, opts Options) []Group {
	t.Helper()
	groups, err := NewBuilder(nil, nil).BuildGroups(context.Background(), recs, opts)
	require.NoError(t, err)
	return groups
}

func assertDisjoint(t *testing.T, groups []Group) {
	t.Helper()
	seen := make(map[string]bool)
	for _, g := range groups {
		assert.GreaterOrEqual(t, len(g.IDs), 2, "groups have at least two members")
		for _, id := range g.IDs {
			assert.False(t, seen[id], "id %s appears in more than one group", id)
			seen[id] = true
		}
	}
}

func TestBasicScenario(t *testing.T) {
	zeros := strings.Repeat("0", 64)
	oneBit := strings.Repeat("0", 63) + "1"
	ones := strings.Repeat("1", 64)
	recs := records(zeros, oneBit, ones)

	for _, s := range allStrategies {
		for _, kind := range []index.Kind{index.KindKDTree, index.KindHNSW, index.KindBKTree} {
			t.Run(s.String()+"/"+kind.String(), func(t *testing.T) {
				groups := build(t, recs, Options{MaxHammingDistance: 2, NearestK: 4, Strategy: s, IndexKind: kind})
				require.Len(t, groups, 1)
				assert.Equal(t, []string{"a", "b"}, groups[0].IDs)
				assert.Equal(t, []int{0, 1}, groups[0].Indexes)
			})
		}
	}
}

func TestIdenticalPairAtThresholdZero(t *testing.T) {
	zeros := strings.Repeat("0", 64)
	ones := strings.Repeat("1", 64)
	recs := records(zeros, zeros, ones)

	for _, s := range allStrategies {
		groups := build(t, recs, Options{MaxHammingDistance: 0, NearestK: 4, Strategy: s})
		require.Len(t, groups, 1, s.String())
		assert.Equal(t, []string{"a", "b"}, groups[0].IDs, s.String())
	}
}

func TestThresholdZeroGroupsOnlyIdentical(t *testing.T) {
	f := strings.Repeat("10", 32)
	g := strings.Repeat("01", 32)
	nearF := strings.Repeat("10", 31) + "11"
	recs := records(f, nearF, f, g, g, "")

	for _, s := range allStrategies {
		t.Run(s.String(), func(t *testing.T) {
			groups := build(t, recs, Options{MaxHammingDistance: 0, NearestK: 4, Strategy: s})
			require.Len(t, groups, 2)
			assert.Equal(t, []string{"a", "c"}, groups[0].IDs)
			assert.Equal(t, []string{"d", "e"}, groups[1].IDs)
			for _, grp := range groups {
				first := recs[grp.Indexes[0]].Fingerprint
				for _, i := range grp.Indexes {
					assert.Equal(t, first, recs[i].Fingerprint)
				}
			}
		})
	}
}

func TestAbsentRecordsIgnored(t *testing.T) {
	zeros := strings.Repeat("0", 64)
	recs := records("", zeros, "", zeros)

	groups := build(t, recs, Options{MaxHammingDistance: 0, NearestK: 4})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"b", "d"}, groups[0].IDs)
}

func TestGroupsAreDisjoint(t *testing.T) {
	recs := synthetic(42, 400)

	for _, s := range allStrategies {
		for _, thr := range []int{0, 3, 10, 20} {
			t.Run(fmt.Sprintf("%s/%d", s, thr), func(t *testing.T) {
				groups := build(t, recs, Options{MaxHammingDistance: thr, NearestK: 6, Strategy: s, BatchSize: 16, Workers: 8})
				assertDisjoint(t, groups)

				// Every member is within the threshold of its anchor.
				for _, g := range groups {
					anchor := recs[g.Indexes[0]].Fingerprint
					for _, i := range g.Indexes[1:] {
						assert.LessOrEqual(t, fingerprint.HammingDistance(anchor, recs[i].Fingerprint), thr)
					}
				}
			})
		}
	}
}

func TestAllPairsAndIndexAgree(t *testing.T) {
	recs := synthetic(5, 20)
	opts := Options{MaxHammingDistance: 8, NearestK: 20}

	opts.Strategy = AllPairs
	want := build(t, recs, opts)
	require.NotEmpty(t, want)

	for _, kind := range []index.Kind{index.KindKDTree, index.KindBKTree, index.KindHNSW} {
		t.Run(kind.String(), func(t *testing.T) {
			o := opts
			o.Strategy = IndexAssisted
			o.IndexKind = kind
			assert.Equal(t, want, build(t, recs, o))
		})
	}
}

func TestConcurrentSingleBatchMatchesIndexAssisted(t *testing.T) {
	recs := synthetic(8, 60)
	opts := Options{MaxHammingDistance: 6, NearestK: 5, Strategy: IndexAssisted}
	want := build(t, recs, opts)

	opts.Strategy = Concurrent
	opts.BatchSize = len(recs)
	assert.Equal(t, want, build(t, recs, opts))
}

func TestConcurrentByBatchIsDeterministic(t *testing.T) {
	recs := synthetic(21, 300)
	opts := Options{
		MaxHammingDistance: 12,
		NearestK:           5,
		Strategy:           Concurrent,
		BatchSize:          7,
		Workers:            6,
		Reconcile:          ReconcileByBatch,
	}

	first := build(t, recs, opts)
	for range 5 {
		assert.Equal(t, first, build(t, recs, opts))
	}
}

func TestLimitPolicy(t *testing.T) {
	zeros := strings.Repeat("0", 64)
	recs := records(zeros, zeros, zeros, zeros, zeros)

	tests := []struct {
		policy   LimitPolicy
		strategy Strategy
		sizes    []int
	}{
		// Inclusive: anchor plus NearestK members.
		{LimitInclusive, AllPairs, []int{3, 2}},
		// The index returns the k+1 lowest indexes for d, all of them already claimed.
		{LimitInclusive, IndexAssisted, []int{3}},
		// Exclusive: one more member.
		{LimitExclusive, AllPairs, []int{4}},
		{LimitExclusive, IndexAssisted, []int{4}},
	}

	for _, tc := range tests {
		t.Run(tc.policy.String()+"/"+tc.strategy.String(), func(t *testing.T) {
			groups := build(t, recs, Options{MaxHammingDistance: 0, NearestK: 2, Strategy: tc.strategy, Limit: tc.policy})
			var sizes []int
			for _, g := range groups {
				sizes = append(sizes, len(g.IDs))
			}
			assert.Equal(t, tc.sizes, sizes)
		})
	}
}

func TestProgressEvents(t *testing.T) {
	recs := synthetic(3, 30)
	recs[4].Present = false

	for _, s := range allStrategies {
		t.Run(s.String(), func(t *testing.T) {
			var rec events.Recorder
			_, err := NewBuilder(&rec, nil).BuildGroups(context.Background(), recs,
				Options{MaxHammingDistance: 4, NearestK: 3, Strategy: s, BatchSize: 4})
			require.NoError(t, err)

			got := rec.Events()
			require.Len(t, got, 30)
			done := 0
			for i, ev := range got {
				assert.Equal(t, events.FindSimilarIteration, ev.Name)
				assert.Equal(t, 29, ev.Progress.Total)
				assert.Equal(t, i, ev.Progress.Finished)
				if ev.Progress.Done() {
					done++
				}
			}
			assert.Equal(t, 1, done)
		})
	}
}

func TestBuildGroupsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, s := range allStrategies {
		_, err := NewBuilder(nil, nil).BuildGroups(ctx, synthetic(1, 10), Options{MaxHammingDistance: 4, NearestK: 3, Strategy: s})
		assert.ErrorIs(t, err, context.Canceled, s.String())
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{MaxHammingDistance: 10, NearestK: 4}, false},
		{"threshold 64", Options{MaxHammingDistance: 64, NearestK: 1}, false},
		{"negative threshold", Options{MaxHammingDistance: -1, NearestK: 4}, true},
		{"threshold above 64", Options{MaxHammingDistance: 65, NearestK: 4}, true},
		{"zero k", Options{MaxHammingDistance: 10, NearestK: 0}, true},
		{"unknown strategy", Options{MaxHammingDistance: 10, NearestK: 4, Strategy: 7}, true},
		{"negative workers", Options{MaxHammingDistance: 10, NearestK: 4, Workers: -1}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseEnums(t *testing.T) {
	s, err := ParseStrategy("Index-Assisted")
	require.NoError(t, err)
	assert.Equal(t, IndexAssisted, s)

	l, err := ParseLimitPolicy("exclusive")
	require.NoError(t, err)
	assert.Equal(t, LimitExclusive, l)

	r, err := ParseReconcile("batch")
	require.NoError(t, err)
	assert.Equal(t, ReconcileByBatch, r)

	_, err = ParseStrategy("random")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
