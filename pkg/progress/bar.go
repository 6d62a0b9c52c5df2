// Package progress renders transfer progress for a terminal or a log.
package progress

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/tj/go-progress"
	"github.com/tj/go/term"

	"github.com/mercury2269/sqsmover/v2/pkg/transfer"
)

// Bar draws a progress bar sized by the approximate number of messages in
// the source queue. The estimate is only advisory, so the bar total grows
// whenever more messages are processed than were expected.
type Bar struct {
	bar       *progress.Bar
	render    func(string)
	verb      string
	processed int
	cursor    bool
}

// NewBar returns a Bar drawing to stdout.
func NewBar(mode transfer.Mode) *Bar {
	b := newBar(mode, term.Renderer())
	b.cursor = true
	return b
}

func newBar(mode transfer.Mode, render func(string)) *Bar {
	bar := progress.NewInt(1)
	bar.Width = 40
	bar.Empty = color.New(color.FgHiBlack).Sprint("░")
	bar.Filled = color.New(color.FgCyan).Sprint("█")
	bar.StartDelimiter = ""
	bar.EndDelimiter = ""

	return &Bar{bar: bar, render: render, verb: verb(mode)}
}

func (b *Bar) Start(estimate int) {
	if b.cursor {
		term.HideCursor()
	}
	b.resize(estimate)
	b.draw(fmt.Sprintf("0 messages %s", b.verb))
}

func (b *Bar) Add(n int) {
	b.processed += n
	b.grow()
	b.draw(fmt.Sprintf("%d messages %s", b.processed, b.verb))
}

func (b *Bar) Milestone(processed, estimate int) {
	if estimate >= 0 {
		b.resize(processed + estimate)
	}
}

func (b *Bar) Done(s transfer.Summary) {
	b.processed = s.Processed
	b.resize(s.Processed)
	b.draw(color.New(color.FgGreen).Sprintf("%d messages %s", s.Processed, b.verb))
	b.finish()
}

func (b *Bar) Halt(err error) {
	b.draw(color.New(color.FgRed).Sprintf("%d messages %s, stopped", b.processed, b.verb))
	b.finish()
}

// Total returns the current bar total.
func (b *Bar) Total() int {
	return int(b.bar.Total)
}

func (b *Bar) resize(total int) {
	if total < 1 {
		total = 1
	}
	b.bar.Total = float64(total)
	b.grow()
}

func (b *Bar) grow() {
	if float64(b.processed) > b.bar.Total {
		b.bar.Total = float64(b.processed)
	}
}

func (b *Bar) draw(text string) {
	b.bar.ValueInt(b.processed)
	b.bar.Text(text)
	b.render(b.bar.String())
}

func (b *Bar) finish() {
	if b.cursor {
		term.ShowCursor()
	}
}

func verb(m transfer.Mode) string {
	switch m {
	case transfer.Copy:
		return "copied"
	case transfer.Drain:
		return "drained"
	}
	return "moved"
}
