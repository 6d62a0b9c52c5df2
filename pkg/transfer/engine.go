// Package transfer moves, copies or drains messages from a source queue in
// bounded batches, one batch at a time.
package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mercury2269/sqsmover/v2/pkg/queue"
)

// Engine drives a single transfer run against a queue.Gateway.
type Engine struct {
	gw       queue.Gateway
	cfg      Config
	reporter Reporter
	sink     Sink
	log      logrus.FieldLogger
	runID    string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithReporter sets the progress reporter, NopReporter by default.
func WithReporter(r Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// WithSink sets the sink drained messages are written to.
func WithSink(s Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithLogger sets the logger, logrus.StandardLogger() by default.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// NewEngine validates cfg and returns an engine ready to Run.
func NewEngine(gw queue.Gateway, cfg Config, opts ...Option) (*Engine, error) {
	if gw == nil {
		return nil, errors.New("transfer: Gateway is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		gw:       gw,
		cfg:      cfg,
		reporter: NopReporter{},
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.Mode == Drain && e.sink == nil {
		return nil, errors.New("transfer: drain requires a Sink")
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.log = e.log.WithFields(logrus.Fields{"run_id": e.runID, "mode": cfg.Mode.String()})

	return e, nil
}

// session is the state owned by one Run.
type session struct {
	source       queue.Endpoint
	destinations []queue.Endpoint
	processed    int
	iteration    int
}

func (e *Engine) summary(s *session, o Outcome) Summary {
	return Summary{
		RunID:      e.runID,
		Mode:       e.cfg.Mode,
		Processed:  s.processed,
		Iterations: s.iteration,
		Outcome:    o,
	}
}

// Run fetches batches until the source is exhausted, the limit is reached,
// a batch fails to route, or ctx is cancelled. Cancellation is only observed
// between batches; a batch in flight always runs to completion.
//
// A halted run returns a *HaltError and a Summary that excludes the failed
// batch.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	s := &session{}

	if err := e.open(ctx, s); err != nil {
		return e.summary(s, Failed), err
	}

	// in-batch calls must not be cut short by a stop signal
	batchCtx := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			sum := e.summary(s, Interrupted)
			e.log.WithField("processed", s.processed).Warn("stopping before the next batch")
			err = &interruptedError{cause: err}
			e.reporter.Halt(err)
			return sum, err
		}

		size := BatchSize(e.cfg.BatchSize, e.cfg.Limit, s.processed)
		if size == 0 {
			e.log.Infof("limit of %d messages reached", e.cfg.Limit)
			break
		}

		batch, err := e.gw.Fetch(batchCtx, s.source, size)
		if err != nil {
			err = errors.Wrapf(err, "fetching batch %d", s.iteration+1)
			e.log.WithError(err).Error("fetch failed")
			e.reporter.Halt(err)
			return e.summary(s, Failed), err
		}

		if len(batch) == 0 {
			e.log.Debug("batch doesn't have any messages, source exhausted")
			break
		}

		e.log.WithField("iteration", s.iteration+1).Debugf("received %d messages", len(batch))

		if err := e.route(batchCtx, s, batch); err != nil {
			e.log.WithError(err).Error("transfer halted, re-run to pick up the remaining messages")
			e.reporter.Halt(err)
			return e.summary(s, Halted), err
		}

		s.processed += len(batch)
		s.iteration++

		if s.iteration%e.cfg.MilestoneEvery == 0 {
			e.milestone(batchCtx, s)
		}

		e.reporter.Add(len(batch))
	}

	sum := e.summary(s, Completed)
	e.log.WithField("iterations", s.iteration).Infof("%s %d total messages", verb(e.cfg.Mode), s.processed)
	e.reporter.Done(sum)
	return sum, nil
}

// open resolves every endpoint and reports the initial estimate.
func (e *Engine) open(ctx context.Context, s *session) error {
	src, err := e.gw.Resolve(ctx, e.cfg.Source)
	if err != nil {
		return errors.Wrap(err, "resolving source")
	}
	s.source = src
	e.log.Infof("source queue: %s", src.URL)

	for _, name := range e.cfg.Destinations {
		dst, err := e.gw.Resolve(ctx, name)
		if err != nil {
			return errors.Wrap(err, "resolving destination")
		}
		s.destinations = append(s.destinations, dst)
		e.log.Infof("destination queue: %s", dst.URL)
	}

	estimate := e.approximateSize(ctx, s)
	if estimate >= 0 {
		e.log.Infof("approximate number of messages in the source queue: %d", estimate)
	}
	e.reporter.Start(estimate)
	return nil
}

// route hands the batch to every destination (or the sink) and, in move
// mode, deletes it from the source once every destination accepted it.
func (e *Engine) route(ctx context.Context, s *session, batch queue.Batch) error {
	if e.cfg.Mode == Drain {
		return e.drain(s, batch)
	}

	for _, dst := range s.destinations {
		failed, err := e.gw.Send(ctx, dst, batch)
		if err != nil {
			return &HaltError{Op: OpSend, Endpoint: dst.Name, IDs: tag(s.iteration+1, batch.IDs()), Err: err}
		}
		if len(failed) > 0 {
			return &HaltError{Op: OpSend, Endpoint: dst.Name, IDs: tag(s.iteration+1, failed)}
		}
	}

	if e.cfg.Mode != Move {
		return nil
	}

	failed, err := e.gw.Delete(ctx, s.source, batch)
	if err != nil {
		return &HaltError{Op: OpDelete, Endpoint: s.source.Name, IDs: tag(s.iteration+1, batch.IDs()), Err: err}
	}
	if len(failed) > 0 {
		return &HaltError{Op: OpDelete, Endpoint: s.source.Name, IDs: tag(s.iteration+1, failed)}
	}
	return nil
}

func (e *Engine) drain(s *session, batch queue.Batch) error {
	for _, m := range batch {
		if err := e.sink.Write(m); err != nil {
			return &HaltError{Op: OpWrite, IDs: tag(s.iteration+1, []string{m.ID}), Err: err}
		}
	}
	if err := e.sink.Flush(); err != nil {
		return &HaltError{Op: OpWrite, IDs: tag(s.iteration+1, batch.IDs()), Err: err}
	}
	return nil
}

func (e *Engine) milestone(ctx context.Context, s *session) {
	estimate := e.approximateSize(ctx, s)
	if estimate < 0 {
		e.log.Infof("%s %d messages, approximately unknown left", verb(e.cfg.Mode), s.processed)
	} else {
		e.log.Infof("%s %d messages, approximately %d left", verb(e.cfg.Mode), s.processed, estimate)
	}
	e.reporter.Milestone(s.processed, estimate)
}

// approximateSize is advisory; failures degrade to -1.
func (e *Engine) approximateSize(ctx context.Context, s *session) int {
	n, err := e.gw.ApproximateSize(ctx, s.source)
	if err != nil {
		e.log.WithError(err).Warn("unable to get the approximate size of the source queue")
		return -1
	}
	return n
}

func tag(iteration int, ids []string) []string {
	tagged := make([]string, len(ids))
	for i, id := range ids {
		tagged[i] = fmt.Sprintf("%d/%s", iteration, id)
	}
	return tagged
}

func verb(m Mode) string {
	switch m {
	case Copy:
		return "copied"
	case Drain:
		return "drained"
	}
	return "moved"
}
