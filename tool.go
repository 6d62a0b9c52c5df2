package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mercury2269/sqsmover/v2/pkg/metrics"
	"github.com/mercury2269/sqsmover/v2/pkg/progress"
	"github.com/mercury2269/sqsmover/v2/pkg/queue"
	"github.com/mercury2269/sqsmover/v2/pkg/rtksqs"
	"github.com/mercury2269/sqsmover/v2/pkg/sink"
	"github.com/mercury2269/sqsmover/v2/pkg/transfer"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitHalted      = 2
	exitInterrupted = 130

	pushJob = "sqsmover"
)

var newSQSClient = rtksqs.NewSQSClient

type options struct {
	source       string
	destinations []string
	copy         bool
	poll         string
	batch        int
	limit        int
	verbose      bool
	pushgateway  string

	region            string
	profile           string
	endpointURL       string
	visibilityTimeout int64
	wait              int64
}

func (o options) validate() error {
	if o.source == "" {
		return errors.New("--source is required")
	}

	if o.poll != "" {
		if len(o.destinations) > 0 {
			return errors.New("--poll drains to a file, it cannot be combined with --destination")
		}
		if o.copy {
			return errors.New("--poll never deletes from the source, --copy is not needed")
		}
	} else if len(o.destinations) == 0 {
		return errors.New("--destination is required unless --poll is given")
	}

	for _, d := range o.destinations {
		if d == o.source {
			return errors.Errorf("destination %s is the source queue", d)
		}
	}

	if o.batch < 0 || o.batch > transfer.MaxBatchSize {
		return errors.Errorf("--batch must be between 0 and %d, got %d", transfer.MaxBatchSize, o.batch)
	}
	if o.limit < 0 {
		return errors.Errorf("--limit must not be negative, got %d", o.limit)
	}
	if o.visibilityTimeout < 0 || o.wait < 0 || o.wait > 20 {
		return errors.New("--visibility-timeout must not be negative and --wait must be between 0 and 20")
	}

	return nil
}

func (o options) mode() transfer.Mode {
	switch {
	case o.poll != "":
		return transfer.Drain
	case o.copy:
		return transfer.Copy
	}
	return transfer.Move
}

func (o options) transferConfig() transfer.Config {
	return transfer.Config{
		Mode:         o.mode(),
		Source:       o.source,
		Destinations: o.destinations,
		BatchSize:    o.batch,
		Limit:        o.limit,
	}
}

func (o options) sqsConfig() rtksqs.Config {
	return rtksqs.Config{
		Region:            o.region,
		Profile:           o.profile,
		EndpointURL:       o.endpointURL,
		VisibilityTimeout: o.visibilityTimeout,
		WaitTimeSeconds:   o.wait,
	}
}

func (o options) headline() string {
	var b strings.Builder
	switch o.mode() {
	case transfer.Drain:
		fmt.Fprintf(&b, "Draining %s to %s", o.source, o.poll)
	case transfer.Copy:
		fmt.Fprintf(&b, "Copying %s to %s", o.source, strings.Join(o.destinations, ", "))
	default:
		fmt.Fprintf(&b, "Moving %s to %s", o.source, strings.Join(o.destinations, ", "))
	}
	if o.limit > 0 {
		fmt.Fprintf(&b, ", up to %d messages", o.limit)
	}
	return b.String()
}

// redeliveryWarning is set for copy and drain runs without a limit. Those
// runs never delete, so fetched messages become visible again once the
// visibility timeout expires and a long run reads them a second time.
func (o options) redeliveryWarning() string {
	if o.mode() == transfer.Move || o.limit > 0 {
		return ""
	}

	timeout := o.visibilityTimeout
	if timeout <= 0 {
		timeout = rtksqs.DefaultVisibilityTimeout
	}
	return fmt.Sprintf("Messages stay in %s and reappear after %ds, a run that takes longer reads them again. "+
		"Set --limit or raise --visibility-timeout for large queues", o.source, timeout)
}

// execute runs one transfer against gw. sess is only used by S3 drain
// targets and may be nil otherwise.
func execute(ctx context.Context, opts options, gw queue.Gateway, sess *session.Session) (sum transfer.Summary, err error) {
	runID := uuid.NewString()
	mode := opts.mode()
	sum = transfer.Summary{RunID: runID, Mode: mode, Outcome: transfer.Failed}

	engineOpts := []transfer.Option{
		transfer.WithRunID(runID),
		transfer.WithLogger(logrus.StandardLogger()),
	}

	if mode == transfer.Drain {
		out, openErr := sink.Open(ctx, opts.poll, sess)
		if openErr != nil {
			return sum, openErr
		}
		defer func() {
			// nothing was drained, keep whatever the target held before
			if err != nil && sum.Processed == 0 {
				if discardErr := out.Discard(); discardErr != nil {
					log.WithError(discardErr).Warn("discarding drain output")
				}
				return
			}

			closeErr := out.Close()
			if closeErr == nil {
				return
			}
			if err == nil {
				sum.Outcome = transfer.Failed
				err = closeErr
				return
			}
			log.WithError(closeErr).Warn("closing drain output")
		}()
		engineOpts = append(engineOpts, transfer.WithSink(out))
	}

	reporters := progress.Multi{newProgressReporter(opts)}

	var m *metrics.Reporter
	if opts.pushgateway != "" {
		m = metrics.New(mode, runID)
		reporters = append(reporters, m)
	}
	engineOpts = append(engineOpts, transfer.WithReporter(reporters))

	engine, err := transfer.NewEngine(gw, opts.transferConfig(), engineOpts...)
	if err != nil {
		return sum, err
	}

	sum, err = engine.Run(ctx)

	if m != nil {
		// a stop signal must not lose the metrics of the batches already done
		if perr := m.Push(context.WithoutCancel(ctx), opts.pushgateway, pushJob); perr != nil {
			log.WithError(perr).Warn("metrics were not pushed")
		}
	}

	return sum, err
}

func newProgressReporter(opts options) transfer.Reporter {
	if opts.verbose {
		return progress.NewLog(opts.mode(), logrus.StandardLogger())
	}
	return progress.NewBar(opts.mode())
}

func exitCode(sum transfer.Summary, err error) int {
	if err == nil {
		return exitOK
	}

	switch sum.Outcome {
	case transfer.Halted:
		return exitHalted
	case transfer.Interrupted:
		return exitInterrupted
	}
	return exitFatal
}

func pastTense(m transfer.Mode) string {
	switch m {
	case transfer.Copy:
		return "copied"
	case transfer.Drain:
		return "drained"
	}
	return "moved"
}
