package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/photo-dedup/internal/events"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/logging"
)

// ErrInvalidOptions is wrapped by every Options validation error.
var ErrInvalidOptions = errors.New("invalid pipeline options")

// Options controls one Run.
type Options struct {
	Algorithm fingerprint.Algorithm
	// BatchSize is the number of consecutive ids handled by one batch goroutine.
	BatchSize int
	// MaxConcurrent bounds the number of items hashed at the same time.
	MaxConcurrent int
}

// Validate rejects unusable options.
func (o Options) Validate() error {
	var errs []error
	if !o.Algorithm.Valid() {
		errs = append(errs, fmt.Errorf("%w: %v", fingerprint.ErrUnknownAlgorithm, o.Algorithm))
	}
	if o.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", o.BatchSize))
	}
	if o.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent must be at least 1, got %d", o.MaxConcurrent))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, errors.Join(errs...))
	}
	return nil
}

// Result is the outcome of a run.
type Result struct {
	RunID string
	// Records holds one record per input id, in input order.
	Records []fingerprint.Record
	// CacheErr is the cache load or save error reported at the end of the run.
	CacheErr error
}

// Present returns the records that carry a fingerprint.
func (r *Result) Present() []fingerprint.Record {
	out := make([]fingerprint.Record, 0, len(r.Records))
	for _, rec := range r.Records {
		if rec.Present {
			out = append(out, rec)
		}
	}
	return out
}

// Pipeline runs a Computer over many ids and reports progress.
type Pipeline struct {
	computer *Computer
	sink     events.Sink
	logger   *slog.Logger
}

// New creates a Pipeline publishing progress to sink.
func New(computer *Computer, sink events.Sink, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		computer: computer,
		sink:     events.OrDiscard(sink),
		logger:   logging.OrNoop(logger).With("component", "pipeline"),
	}
}

// progress assigns finished counts and publishes them in order.
type progress struct {
	mu       sync.Mutex
	sink     events.Sink
	runID    string
	total    int
	finished int
}

func (p *progress) start() {
	p.sink.Publish(events.PHashCalculated, events.Progress{RunID: p.runID, Finished: 0, Total: p.total})
}

func (p *progress) complete(records []fingerprint.Record, i int, f fingerprint.Fingerprint, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	records[i].Fingerprint = f
	records[i].Present = ok
	p.finished++
	p.sink.Publish(events.PHashCalculated, events.Progress{RunID: p.runID, Finished: p.finished, Total: p.total})
}

func newRecords(ids []string) []fingerprint.Record {
	records := make([]fingerprint.Record, len(ids))
	for i, id := range ids {
		records[i] = fingerprint.Record{Index: i, ID: id}
	}
	return records
}

// Run fingerprints ids in contiguous batches running concurrently, with at most
// opts.MaxConcurrent items in flight. The cache is flushed exactly once at the end.
// If ctx is cancelled, items not yet started are skipped and ctx.Err() is returned.
func (p *Pipeline) Run(ctx context.Context, ids []string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	startedAt := time.Now()
	prog := &progress{sink: p.sink, runID: uuid.NewString(), total: len(ids)}
	records := newRecords(ids)
	prog.start()

	sem := semaphore.NewWeighted(int64(opts.MaxConcurrent))
	var g errgroup.Group

	for start := 0; start < len(ids); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(ids))
		g.Go(func() error {
			var wg sync.WaitGroup
			defer wg.Wait()

			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := sem.Acquire(ctx, 1); err != nil {
					return err
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer sem.Release(1)
					f, ok := p.computer.Compute(ctx, ids[i], opts.Algorithm)
					prog.complete(records, i, f, ok)
				}()
			}
			return nil
		})
	}

	runErr := g.Wait()
	result := p.finish(ctx, prog.runID, records)

	if runErr != nil {
		p.logger.Info("run cancelled", "run_id", prog.runID, "finished", prog.finished, "total", len(ids))
		return nil, runErr
	}

	p.logger.Info("fingerprints computed",
		"run_id", prog.runID,
		"algorithm", opts.Algorithm.String(),
		"total", len(ids),
		"present", len(result.Present()),
		"duration", time.Since(startedAt).Round(time.Millisecond))
	return result, nil
}

// RunIterative fingerprints ids one after another. For the same cache state and
// inputs its records equal those of Run.
func (p *Pipeline) RunIterative(ctx context.Context, ids []string, alg fingerprint.Algorithm) (*Result, error) {
	if !alg.Valid() {
		return nil, fmt.Errorf("%w: %w: %v", ErrInvalidOptions, fingerprint.ErrUnknownAlgorithm, alg)
	}

	prog := &progress{sink: p.sink, runID: uuid.NewString(), total: len(ids)}
	records := newRecords(ids)
	prog.start()

	var runErr error
	for i, id := range ids {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		f, ok := p.computer.Compute(ctx, id, alg)
		prog.complete(records, i, f, ok)
	}

	result := p.finish(ctx, prog.runID, records)
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// finish flushes the cache once all writers have quiesced.
func (p *Pipeline) finish(ctx context.Context, runID string, records []fingerprint.Record) *Result {
	result := &Result{RunID: runID, Records: records}
	if c := p.computer.Cache(); c != nil {
		// A cancelled run still persists what it computed.
		if err := c.Flush(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("cache persistence failed", "run_id", runID, "error", err)
			result.CacheErr = err
		}
	}
	return result
}
