package scanner

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker renders scan progress on a terminal line
type ProgressTracker struct {
	mu     sync.Mutex
	latest Progress
	total  int
	out    io.Writer
	paused func() bool
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewProgressTracker starts redrawing progress every 500ms. paused may be nil.
func NewProgressTracker(out io.Writer, total int, paused func() bool) *ProgressTracker {
	p := &ProgressTracker{
		total:  total,
		out:    out,
		paused: paused,
		ticker: time.NewTicker(500 * time.Millisecond),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.displayProgress()
	return p
}

// Update is a ProgressFunc
func (p *ProgressTracker) Update(pr Progress) {
	p.mu.Lock()
	p.latest = pr
	p.mu.Unlock()
}

func (p *ProgressTracker) displayProgress() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			p.draw()
		}
	}
}

func (p *ProgressTracker) draw() {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := ""
	if p.paused != nil && p.paused() {
		state = " [paused]"
	}
	if p.latest.Skipped > 0 {
		fmt.Fprintf(p.out, "\rProgress: %d/%d (Indexed: %d, Skipped: %d)%s",
			p.latest.Scanned, p.total, p.latest.Indexed, p.latest.Skipped, state)
	} else {
		fmt.Fprintf(p.out, "\rProgress: %d/%d (Indexed: %d)%s", p.latest.Scanned, p.total, p.latest.Indexed, state)
	}
}

// Stop ends the progress tracking after a final redraw
func (p *ProgressTracker) Stop() {
	p.ticker.Stop()
	close(p.done)
	p.wg.Wait()
	p.draw()
	fmt.Fprintln(p.out)
}

// PrintCompletionStats displays statistics after scan completion
func PrintCompletionStats(out io.Writer, res Result, elapsed time.Duration) {
	if res.Stopped {
		fmt.Fprintln(out, "Indexing stopped.")
	} else {
		fmt.Fprintln(out, "Indexing complete.")
	}
	fmt.Fprintf(out, "Scanned %d files in %v: %d indexed, %d skipped", res.Scanned, elapsed.Round(time.Second), res.Indexed, res.Skipped)
	if res.Unchanged > 0 {
		fmt.Fprintf(out, ", %d unchanged", res.Unchanged)
	}
	fmt.Fprintln(out, ".")
	if res.Skipped > 0 {
		fmt.Fprintln(out, "Skipped files could not be decoded. Check the log file for details.")
	}
}
