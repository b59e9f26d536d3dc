package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress of a batch of calls.
type ProgressReporter interface {
	Start(total int64)
	Done(tokens int64)
	Finish()
	Error(err error)
}

// SimpleProgress renders a single-line progress bar with call and token
// throughput. It is safe for concurrent use.
type SimpleProgress struct {
	mu      sync.Mutex
	total   int64
	current int64
	failed  int64
	tokens  int64
	started time.Time
	writer  io.Writer
	now     func() time.Time
}

// NewProgressReporter creates a new progress reporter that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer) *SimpleProgress {
	if w == nil {
		w = os.Stderr
	}
	return &SimpleProgress{
		writer: w,
		now:    time.Now,
	}
}

// Start resets the reporter for total calls.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.failed = 0
	p.tokens = 0
	p.started = p.now()

	p.render()
}

// Done records one finished call that consumed tokens.
func (p *SimpleProgress) Done(tokens int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	p.tokens += tokens
	p.render()
}

// Finish terminates the progress line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	fmt.Fprintln(p.writer)
}

// Error records one failed call.
func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	p.failed++
	fmt.Fprintf(p.writer, "\n✗ Error: %v\n", err)
	p.render()
}

func (p *SimpleProgress) render() {
	if p.total == 0 {
		return
	}

	percent := float64(p.current) / float64(p.total) * 100
	barWidth := 40
	filled := min(int(float64(barWidth)*percent/100), barWidth)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	var rate, tpm float64
	if elapsed := p.now().Sub(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.current) / elapsed
		tpm = float64(p.tokens) / elapsed * 60
	}

	fmt.Fprintf(p.writer, "\rProgress: [%s] %.1f%% (%d/%d, %d failed) %.1f req/s %.0f tok/min",
		bar, percent, p.current, p.total, p.failed, rate, tpm)
}
