package cluster

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// allPairs scans, for each unclaimed anchor, every unclaimed later record.
func allPairs(ctx context.Context, present []fingerprint.Record, opts Options, prog *progress) ([]Group, error) {
	capacity := opts.Limit.capacity(opts.NearestK)
	claimed := roaring.New()

	var groups []Group
	for i, anchor := range present {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if claimed.Contains(uint32(anchor.Index)) {
			prog.step()
			continue
		}

		g := Group{IDs: []string{anchor.ID}, Indexes: []int{anchor.Index}}
		for _, other := range present[i+1:] {
			if len(g.Indexes)-1 >= capacity {
				break
			}
			if claimed.Contains(uint32(other.Index)) {
				continue
			}
			if fingerprint.Similar(anchor.Fingerprint, other.Fingerprint, opts.MaxHammingDistance) {
				g.IDs = append(g.IDs, other.ID)
				g.Indexes = append(g.Indexes, other.Index)
			}
		}

		if len(g.Indexes) >= 2 {
			claimGroup(claimed, g)
			groups = append(groups, g)
		}
		prog.step()
	}
	return groups, nil
}
