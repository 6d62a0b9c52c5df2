package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/mercury2269/sqsmover/v2/pkg/transfer"
	"github.com/mercury2269/sqsmover/v2/platform"
)

var (
	sourceQueue       = kingpin.Flag("source", "Source queue to read messages from").Short('s').Required().String()
	destinationQueues = kingpin.Flag("destination", "Destination queue, repeat to fan out to several queues").Short('d').Strings()
	copyMode          = kingpin.Flag("copy", "Copy messages instead of moving them, the source queue is left untouched").Short('c').Bool()
	pollOutput        = kingpin.Flag("poll", "Drain message bodies to a local file or s3://bucket/key, one per line").Short('p').String()
	batchSize         = kingpin.Flag("batch", "Max messages requested per receive (0-10)").Short('b').Default("10").Int()
	limit             = kingpin.Flag("limit", "Max messages processed over the whole run, 0 for all").Short('l').Default("0").Int()
	verbose           = kingpin.Flag("verbose", "Debug logging, prints log lines instead of the progress bar").Short('v').Bool()
	region            = kingpin.Flag("region", "AWS Region for source and destination queues").Short('r').Envar("AWS_REGION").String()
	profile           = kingpin.Flag("profile", "Use a specific profile from your credential file").Envar("AWS_PROFILE").String()
	endpointURL       = kingpin.Flag("endpoint-url", "Custom SQS/S3 endpoint, e.g. LocalStack").Envar("SQSMOVER_ENDPOINT_URL").String()
	visibilityTimeout = kingpin.Flag("visibility-timeout", "Seconds received messages stay hidden from other consumers").Default("60").Int64()
	waitTime          = kingpin.Flag("wait", "Long poll wait in seconds for each receive").Default("10").Int64()
	pushgateway       = kingpin.Flag("pushgateway", "Prometheus Pushgateway url to push run metrics to").Envar("SQSMOVER_PUSHGATEWAY").String()
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	if err := platform.EnableVirtualTerminal(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	log.SetHandler(cli.Default)

	fmt.Println()

	kingpin.UsageTemplate(kingpin.CompactUsageTemplate)
	kingpin.Parse()

	opts := options{
		source:            *sourceQueue,
		destinations:      *destinationQueues,
		copy:              *copyMode,
		poll:              *pollOutput,
		batch:             *batchSize,
		limit:             *limit,
		verbose:           *verbose,
		pushgateway:       *pushgateway,
		region:            *region,
		profile:           *profile,
		endpointURL:       *endpointURL,
		visibilityTimeout: *visibilityTimeout,
		wait:              *waitTime,
	}

	configureLogging(opts.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()

	fmt.Println()
	os.Exit(code)
}

func configureLogging(verbose bool) {
	if verbose {
		log.SetLevel(log.DebugLevel)
		logrus.SetLevel(logrus.DebugLevel)
		return
	}

	// info lines would tear the progress bar apart
	logrus.SetLevel(logrus.WarnLevel)
}

func run(ctx context.Context, opts options) int {
	if err := opts.validate(); err != nil {
		log.Error(color.New(color.FgRed).Sprint(err))
		return exitFatal
	}

	client, err := newSQSClient(opts.sqsConfig())
	if err != nil {
		log.Error(color.New(color.FgRed).Sprintf("Unable to create AWS session for region %q: %s", opts.region, err))
		return exitFatal
	}

	log.Info(color.New(color.FgCyan).Sprint(opts.headline()))
	if w := opts.redeliveryWarning(); w != "" {
		log.Warn(color.New(color.FgYellow).Sprint(w))
	}

	sum, err := execute(ctx, opts, client, client.Session())
	report(sum, err)
	return exitCode(sum, err)
}

func report(sum transfer.Summary, err error) {
	switch {
	case err == nil:
		log.Info(color.New(color.FgGreen).Sprintf("Done, %d messages %s in %d batches", sum.Processed, pastTense(sum.Mode), sum.Iterations))
	case sum.Outcome == transfer.Halted:
		log.Error(color.New(color.FgRed).Sprintf("Halted after %d messages: %s", sum.Processed, err))
		log.Error(color.New(color.FgRed).Sprint("Nothing in the failed batch was deleted from the source, re-run to continue"))
	case sum.Outcome == transfer.Interrupted:
		log.Warn(color.New(color.FgYellow).Sprintf("Stopped after %d messages", sum.Processed))
	default:
		log.Error(color.New(color.FgRed).Sprint(err))
	}
}
