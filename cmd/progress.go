package cmd

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/photo-dedup/internal/events"
)

var progressLabels = map[string]struct{ description, unit string }{
	events.PHashCalculated:      {"Hashing images", "images"},
	events.FindSimilarIteration: {"Grouping", "anchors"},
	events.MD5Calculated:        {"Checksumming", "images"},
}

// progressSink renders one progress bar per run.
type progressSink struct {
	mu   sync.Mutex
	w    io.Writer
	bars map[string]*progressbar.ProgressBar
}

func newProgressSink(w io.Writer) *progressSink {
	return &progressSink{w: w, bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *progressSink) Publish(name string, payload events.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := name + "/" + payload.RunID
	bar, ok := p.bars[key]
	if !ok {
		if payload.Total == 0 {
			return
		}
		label := progressLabels[name]
		bar = progressbar.NewOptions(payload.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(label.description),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString(label.unit),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
		p.bars[key] = bar
	}

	_ = bar.Set(payload.Finished)
	if payload.Done() {
		_ = bar.Finish()
		_, _ = io.WriteString(p.w, "\n")
		delete(p.bars, key)
	}
}
