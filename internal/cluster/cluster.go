// Package cluster groups near-duplicate fingerprints into disjoint groups.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/kozaktomas/photo-dedup/internal/events"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/index"
	"github.com/kozaktomas/photo-dedup/internal/logging"
)

// ErrInvalidOptions is wrapped by every Options validation error.
var ErrInvalidOptions = errors.New("invalid cluster options")

// Group is a set of at least two near-duplicate images. The anchor comes first.
type Group struct {
	IDs     []string `json:"ids"`
	Indexes []int    `json:"indexes"`
}

// Strategy selects how groups are built.
type Strategy int

const (
	// AllPairs compares every anchor with every later record.
	AllPairs Strategy = iota
	// IndexAssisted asks a similarity index for each anchor's candidates.
	IndexAssisted
	// Concurrent builds tentative groups per batch in parallel and reconciles them.
	Concurrent
)

func (s Strategy) String() string {
	switch s {
	case AllPairs:
		return "allPairs"
	case IndexAssisted:
		return "index"
	case Concurrent:
		return "concurrent"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy resolves allPairs, index or concurrent, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "allpairs", "all-pairs", "pairwise":
		return AllPairs, nil
	case "index", "indexassisted", "index-assisted":
		return IndexAssisted, nil
	case "concurrent":
		return Concurrent, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidOptions, name)
}

// LimitPolicy decides when an anchor stops collecting members.
type LimitPolicy int

const (
	// LimitInclusive stops once the group holds NearestK members besides the anchor.
	LimitInclusive LimitPolicy = iota
	// LimitExclusive allows one member more than LimitInclusive.
	LimitExclusive
)

func (p LimitPolicy) String() string {
	switch p {
	case LimitInclusive:
		return "inclusive"
	case LimitExclusive:
		return "exclusive"
	}
	return fmt.Sprintf("LimitPolicy(%d)", int(p))
}

// ParseLimitPolicy resolves inclusive or exclusive.
func ParseLimitPolicy(name string) (LimitPolicy, error) {
	switch strings.ToLower(name) {
	case "inclusive", "":
		return LimitInclusive, nil
	case "exclusive":
		return LimitExclusive, nil
	}
	return 0, fmt.Errorf("%w: unknown limit policy %q", ErrInvalidOptions, name)
}

// capacity returns the maximum number of members besides the anchor.
func (p LimitPolicy) capacity(k int) int {
	if p == LimitExclusive {
		return k + 1
	}
	return k
}

// Reconcile orders tentative batches in the concurrent strategy.
type Reconcile int

const (
	// ReconcileByArrival lets batches that finish first win collisions.
	ReconcileByArrival Reconcile = iota
	// ReconcileByBatch lets lower batch numbers win collisions. The result is
	// deterministic for the exact index kinds (kdtree and bktree).
	ReconcileByBatch
)

func (r Reconcile) String() string {
	switch r {
	case ReconcileByArrival:
		return "arrival"
	case ReconcileByBatch:
		return "batch"
	}
	return fmt.Sprintf("Reconcile(%d)", int(r))
}

// ParseReconcile resolves arrival or batch.
func ParseReconcile(name string) (Reconcile, error) {
	switch strings.ToLower(name) {
	case "arrival", "":
		return ReconcileByArrival, nil
	case "batch":
		return ReconcileByBatch, nil
	}
	return 0, fmt.Errorf("%w: unknown reconcile order %q", ErrInvalidOptions, name)
}

// Options controls BuildGroups.
type Options struct {
	// MaxHammingDistance is the inclusive eligibility threshold in bits.
	MaxHammingDistance int
	// NearestK bounds the candidates and members collected per anchor.
	NearestK  int
	Strategy  Strategy
	Limit     LimitPolicy
	IndexKind index.Kind
	// BatchSize and Workers apply to the concurrent strategy. Zero selects defaults.
	BatchSize int
	Workers   int
	Reconcile Reconcile
}

// Validate rejects unusable options.
func (o Options) Validate() error {
	var errs []error
	if o.MaxHammingDistance < 0 || o.MaxHammingDistance > fingerprint.Bits {
		errs = append(errs, fmt.Errorf("max hamming distance must be within 0..%d, got %d", fingerprint.Bits, o.MaxHammingDistance))
	}
	if o.NearestK < 1 {
		errs = append(errs, fmt.Errorf("nearest k must be at least 1, got %d", o.NearestK))
	}
	if o.Strategy < AllPairs || o.Strategy > Concurrent {
		errs = append(errs, fmt.Errorf("unknown strategy %v", o.Strategy))
	}
	if o.Limit != LimitInclusive && o.Limit != LimitExclusive {
		errs = append(errs, fmt.Errorf("unknown limit policy %v", o.Limit))
	}
	if o.BatchSize < 0 || o.Workers < 0 {
		errs = append(errs, errors.New("batch size and workers must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return nil
}

// Builder builds groups and reports per-anchor progress.
type Builder struct {
	sink   events.Sink
	logger *slog.Logger
}

// NewBuilder creates a Builder publishing find-similar-iteration events to sink.
func NewBuilder(sink events.Sink, logger *slog.Logger) *Builder {
	return &Builder{
		sink:   events.OrDiscard(sink),
		logger: logging.OrNoop(logger).With("component", "cluster"),
	}
}

// BuildGroups returns pairwise disjoint groups of present records whose fingerprints
// lie within opts.MaxHammingDistance of their anchor. Absent records are ignored.
func (b *Builder) BuildGroups(ctx context.Context, records []fingerprint.Record, opts Options) ([]Group, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	present := presentSorted(records)
	startedAt := time.Now()
	prog := &progress{sink: b.sink, runID: uuid.NewString(), total: len(present)}
	prog.start()

	var (
		groups []Group
		err    error
	)
	switch opts.Strategy {
	case AllPairs:
		groups, err = allPairs(ctx, present, opts, prog)
	case IndexAssisted:
		groups, err = b.indexAssisted(ctx, present, opts, prog)
	case Concurrent:
		groups, err = b.concurrent(ctx, present, opts, prog)
	}
	if err != nil {
		return nil, err
	}

	b.logger.Info("groups built",
		"run_id", prog.runID,
		"strategy", opts.Strategy.String(),
		"records", len(present),
		"groups", len(groups),
		"duration", time.Since(startedAt).Round(time.Millisecond))
	return groups, nil
}

func (b *Builder) buildIndex(present []fingerprint.Record, opts Options) (index.Index, error) {
	points := index.PointsFromRecords(present)
	idx, err := index.Build(opts.IndexKind, points)
	if err != nil {
		return nil, fmt.Errorf("building %s index: %w", opts.IndexKind, err)
	}
	b.logger.Debug("index built", "kind", opts.IndexKind.String(), "points", idx.Len())
	return idx, nil
}

func (b *Builder) indexAssisted(ctx context.Context, present []fingerprint.Record, opts Options, prog *progress) ([]Group, error) {
	idx, err := b.buildIndex(present, opts)
	if err != nil {
		return nil, err
	}

	claimed := roaring.New()
	var groups []Group
	for _, anchor := range present {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !claimed.Contains(uint32(anchor.Index)) {
			if g, ok := collectFromIndex(idx, anchor, opts, claimed); ok {
				claimGroup(claimed, g)
				groups = append(groups, g)
			}
		}
		prog.step()
	}
	return groups, nil
}

func (b *Builder) concurrent(ctx context.Context, present []fingerprint.Record, opts Options, prog *progress) ([]Group, error) {
	idx, err := b.buildIndex(present, opts)
	if err != nil {
		return nil, err
	}
	return concurrentGroups(ctx, idx, present, opts, prog)
}

// collectFromIndex builds the tentative group of anchor from its index candidates.
// Candidates claimed in claimed are skipped.
func collectFromIndex(idx index.Index, anchor fingerprint.Record, opts Options, claimed *roaring.Bitmap) (Group, bool) {
	capacity := opts.Limit.capacity(opts.NearestK)
	candidates := idx.Nearest(anchor.Fingerprint, capacity+1)

	eligible := make([]index.Neighbor, 0, len(candidates))
	for _, c := range candidates {
		if c.Index == anchor.Index || claimed.Contains(uint32(c.Index)) || c.Distance > opts.MaxHammingDistance {
			continue
		}
		eligible = append(eligible, c)
	}
	slices.SortFunc(eligible, func(a, b index.Neighbor) int { return a.Index - b.Index })

	g := Group{IDs: []string{anchor.ID}, Indexes: []int{anchor.Index}}
	for _, c := range eligible {
		if len(g.Indexes)-1 >= capacity {
			break
		}
		g.IDs = append(g.IDs, c.ID)
		g.Indexes = append(g.Indexes, c.Index)
	}
	return g, len(g.Indexes) >= 2
}

func claimGroup(claimed *roaring.Bitmap, g Group) {
	for _, i := range g.Indexes {
		claimed.Add(uint32(i))
	}
}

// overlaps reports whether any member of g is in claimed.
func overlaps(claimed *roaring.Bitmap, g Group) bool {
	for _, i := range g.Indexes {
		if claimed.Contains(uint32(i)) {
			return true
		}
	}
	return false
}

// presentSorted returns the present records ordered by original index.
func presentSorted(records []fingerprint.Record) []fingerprint.Record {
	out := make([]fingerprint.Record, 0, len(records))
	for _, r := range records {
		if r.Present {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b fingerprint.Record) int { return a.Index - b.Index })
	return out
}

// progress publishes one event per processed anchor.
type progress struct {
	mu       sync.Mutex
	sink     events.Sink
	runID    string
	total    int
	finished int
}

func (p *progress) start() {
	p.sink.Publish(events.FindSimilarIteration, events.Progress{RunID: p.runID, Finished: 0, Total: p.total})
}

func (p *progress) step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished++
	p.sink.Publish(events.FindSimilarIteration, events.Progress{RunID: p.runID, Finished: p.finished, Total: p.total})
}
