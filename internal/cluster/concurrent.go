package cluster

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/index"
)

// batchResult holds the tentative groups of one batch, in anchor order.
type batchResult struct {
	batch  int
	groups []Group
}

// concurrentGroups splits anchors into batches that build tentative groups in parallel
// against the shared index, each with batch-local claims. Reconciliation then drops every
// tentative group sharing a member with an already accepted one, so some cross-batch
// near-duplicates are not grouped.
func concurrentGroups(ctx context.Context, idx index.Index, present []fingerprint.Record, opts Options, prog *progress) ([]Group, error) {
	batchSize := opts.BatchSize
	if batchSize == 0 {
		batchSize = constants.DefaultClusterBatchSize
	}
	workers := opts.Workers
	if workers == 0 {
		workers = constants.DefaultClusterWorkers
	}

	var (
		mu      sync.Mutex
		arrived []batchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for batch, start := 0, 0; start < len(present); batch, start = batch+1, start+batchSize {
		anchors := present[start:min(start+batchSize, len(present))]
		g.Go(func() error {
			local := roaring.New()
			var tentative []Group
			for _, anchor := range anchors {
				if err := gctx.Err(); err != nil {
					return err
				}
				if !local.Contains(uint32(anchor.Index)) {
					if grp, ok := collectFromIndex(idx, anchor, opts, local); ok {
						claimGroup(local, grp)
						tentative = append(tentative, grp)
					}
				}
				prog.step()
			}

			mu.Lock()
			arrived = append(arrived, batchResult{batch: batch, groups: tentative})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.Reconcile == ReconcileByBatch {
		ordered := make([]batchResult, len(arrived))
		for _, r := range arrived {
			ordered[r.batch] = r
		}
		arrived = ordered
	}

	claimed := roaring.New()
	var groups []Group
	for _, r := range arrived {
		for _, grp := range r.groups {
			if overlaps(claimed, grp) {
				continue
			}
			claimGroup(claimed, grp)
			groups = append(groups, grp)
		}
	}
	return groups, nil
}
