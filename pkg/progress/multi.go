package progress

import "github.com/mercury2269/sqsmover/v2/pkg/transfer"

// Multi fans every event out to each reporter in order.
type Multi []transfer.Reporter

func (m Multi) Start(estimate int) {
	for _, r := range m {
		r.Start(estimate)
	}
}

func (m Multi) Add(n int) {
	for _, r := range m {
		r.Add(n)
	}
}

func (m Multi) Milestone(processed, estimate int) {
	for _, r := range m {
		r.Milestone(processed, estimate)
	}
}

func (m Multi) Done(s transfer.Summary) {
	for _, r := range m {
		r.Done(s)
	}
}

func (m Multi) Halt(err error) {
	for _, r := range m {
		r.Halt(err)
	}
}
