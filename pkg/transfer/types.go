package transfer

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mercury2269/sqsmover/v2/pkg/queue"
)

const (
	// MaxBatchSize is the most messages a single fetch may request.
	MaxBatchSize = 10

	// DefaultMilestoneEvery is how many iterations pass between approximate
	// size re-queries of the source queue.
	DefaultMilestoneEvery = 10
)

// Mode selects what happens to a fetched batch.
type Mode int

const (
	// Move sends to every destination, then deletes from the source.
	Move Mode = iota
	// Copy sends to every destination and leaves the source untouched.
	Copy
	// Drain writes bodies to a Sink and leaves the source untouched.
	Drain
)

func (m Mode) String() string {
	switch m {
	case Move:
		return "move"
	case Copy:
		return "copy"
	case Drain:
		return "drain"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Config describes one transfer run.
type Config struct {
	Mode         Mode
	Source       string
	Destinations []string
	// BatchSize caps each fetch, 0 means MaxBatchSize.
	BatchSize int
	// Limit caps the messages processed over the whole run, 0 means no limit.
	Limit int
	// MilestoneEvery defaults to DefaultMilestoneEvery.
	MilestoneEvery int
}

func (c *Config) validate() error {
	if c.Source == "" {
		return errors.New("transfer: Source is required")
	}

	switch c.Mode {
	case Move, Copy:
		if len(c.Destinations) == 0 {
			return errors.Errorf("transfer: %s requires at least one destination", c.Mode)
		}
		for _, d := range c.Destinations {
			if d == "" {
				return errors.New("transfer: destination names must not be empty")
			}
		}
	case Drain:
		if len(c.Destinations) > 0 {
			return errors.New("transfer: drain does not take destinations")
		}
	default:
		return errors.Errorf("transfer: unknown mode %d", int(c.Mode))
	}

	if c.BatchSize < 0 || c.BatchSize > MaxBatchSize {
		return errors.Errorf("transfer: batch size must be between 0 and %d, got %d", MaxBatchSize, c.BatchSize)
	}
	if c.BatchSize == 0 {
		c.BatchSize = MaxBatchSize
	}

	if c.Limit < 0 {
		return errors.Errorf("transfer: limit must not be negative, got %d", c.Limit)
	}

	if c.MilestoneEvery <= 0 {
		c.MilestoneEvery = DefaultMilestoneEvery
	}

	return nil
}

// Outcome is how a run ended.
type Outcome int

const (
	// Completed means the source was exhausted or the limit was reached.
	Completed Outcome = iota
	// Halted means a partial failure stopped the run.
	Halted
	// Interrupted means the run was stopped at an iteration boundary.
	Interrupted
	// Failed means an endpoint could not be resolved or a fetch failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Halted:
		return "halted"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Summary reports what a run did.
type Summary struct {
	RunID      string
	Mode       Mode
	Processed  int
	Iterations int
	Outcome    Outcome
}

// Reporter receives progress events from the engine.
type Reporter interface {
	// Start is called once with the approximate size of the source, or -1
	// when it is unknown.
	Start(estimate int)
	// Add is called after each fully processed batch.
	Add(n int)
	// Milestone is called every MilestoneEvery iterations with a fresh
	// approximate size, or -1 when the query failed.
	Milestone(processed, estimate int)
	Done(s Summary)
	Halt(err error)
}

// NopReporter ignores every event.
type NopReporter struct{}

func (NopReporter) Start(int)          {}
func (NopReporter) Add(int)            {}
func (NopReporter) Milestone(int, int) {}
func (NopReporter) Done(Summary)       {}
func (NopReporter) Halt(error)         {}

// Sink persists drained messages in fetch order.
type Sink interface {
	Write(m queue.Message) error
	// Flush is called after every batch; on return the batch must be durable.
	Flush() error
}

// Op names the operation that halted a run.
type Op string

const (
	OpSend   Op = "send"
	OpDelete Op = "delete"
	OpWrite  Op = "write"
)

// HaltError is returned when a batch could not be fully routed. Messages of
// that batch were not deleted from the source, so re-running is safe.
type HaltError struct {
	Op       Op
	Endpoint string
	// IDs holds the affected message ids tagged with their iteration, as
	// ids alone are only unique within one fetch.
	IDs []string
	Err error
}

func (e *HaltError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "halted on %s", e.Op)
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " (%s)", e.Endpoint)
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, ": %d messages failed [%s]", len(e.IDs), strings.Join(e.IDs, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *HaltError) Unwrap() error {
	return e.Err
}

// ErrInterrupted is returned when the context is cancelled between batches.
// The returned error also wraps the context error.
var ErrInterrupted = errors.New("transfer interrupted")

type interruptedError struct {
	cause error
}

func (e *interruptedError) Error() string {
	return ErrInterrupted.Error() + ": " + e.cause.Error()
}

func (e *interruptedError) Is(target error) bool {
	return target == ErrInterrupted
}

func (e *interruptedError) Unwrap() error {
	return e.cause
}

// IsHalt reports whether err stopped a run because of a partial failure.
func IsHalt(err error) bool {
	var h *HaltError
	return errors.As(err, &h)
}
