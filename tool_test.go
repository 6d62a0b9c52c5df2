package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercury2269/sqsmover/v2/pkg/queue"
	"github.com/mercury2269/sqsmover/v2/pkg/rtksqs"
	"github.com/mercury2269/sqsmover/v2/pkg/transfer"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	log.SetHandler(discard.Default)
	os.Exit(m.Run())
}

// memoryGateway keeps queues as slices; received messages disappear until
// deleted, as with an infinite visibility timeout.
type memoryGateway struct {
	queues   map[string][]queue.Message
	failSend map[string]bool
}

func newMemoryGateway(source string, n int) *memoryGateway {
	msgs := make([]queue.Message, n)
	for i := range msgs {
		id := strconv.Itoa(i + 1)
		msgs[i] = queue.Message{ID: id, Body: "message " + id, ReceiptHandle: "rh-" + id}
	}
	return &memoryGateway{
		queues:   map[string][]queue.Message{source: msgs},
		failSend: map[string]bool{},
	}
}

func (g *memoryGateway) Resolve(_ context.Context, name string) (queue.Endpoint, error) {
	if _, ok := g.queues[name]; !ok {
		return queue.Endpoint{}, &queue.NotFoundError{Name: name}
	}
	return queue.Endpoint{Name: name, URL: "memory://" + name}, nil
}

func (g *memoryGateway) Fetch(_ context.Context, ep queue.Endpoint, size int) (queue.Batch, error) {
	q := g.queues[ep.Name]
	if size > len(q) {
		size = len(q)
	}
	b := append(queue.Batch{}, q[:size]...)
	g.queues[ep.Name] = q[size:]
	return b, nil
}

func (g *memoryGateway) Send(_ context.Context, ep queue.Endpoint, batch queue.Batch) ([]string, error) {
	if g.failSend[ep.Name] {
		return batch.IDs(), nil
	}
	g.queues[ep.Name] = append(g.queues[ep.Name], batch...)
	return nil, nil
}

func (g *memoryGateway) Delete(context.Context, queue.Endpoint, queue.Batch) ([]string, error) {
	return nil, nil
}

func (g *memoryGateway) ApproximateSize(_ context.Context, ep queue.Endpoint) (int, error) {
	return len(g.queues[ep.Name]), nil
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantErr string
	}{
		{name: "move", opts: options{source: "a", destinations: []string{"b"}, batch: 10}},
		{name: "fan out", opts: options{source: "a", destinations: []string{"b", "c"}, copy: true, batch: 10}},
		{name: "poll", opts: options{source: "a", poll: "out.txt", batch: 10}},
		{name: "batch zero", opts: options{source: "a", destinations: []string{"b"}}},
		{name: "no source", opts: options{destinations: []string{"b"}}, wantErr: "--source is required"},
		{name: "no destination", opts: options{source: "a", batch: 10}, wantErr: "--destination is required"},
		{name: "poll with destination", opts: options{source: "a", poll: "out.txt", destinations: []string{"b"}}, wantErr: "cannot be combined"},
		{name: "poll with copy", opts: options{source: "a", poll: "out.txt", copy: true}, wantErr: "--copy is not needed"},
		{name: "destination is source", opts: options{source: "a", destinations: []string{"b", "a"}}, wantErr: "is the source queue"},
		{name: "batch too large", opts: options{source: "a", destinations: []string{"b"}, batch: 11}, wantErr: "--batch must be between 0 and 10"},
		{name: "negative limit", opts: options{source: "a", destinations: []string{"b"}, limit: -1}, wantErr: "--limit must not be negative"},
		{name: "wait too long", opts: options{source: "a", destinations: []string{"b"}, wait: 21}, wantErr: "--wait must be between 0 and 20"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOptions_Mode(t *testing.T) {
	assert.Equal(t, transfer.Move, options{destinations: []string{"b"}}.mode())
	assert.Equal(t, transfer.Copy, options{destinations: []string{"b"}, copy: true}.mode())
	assert.Equal(t, transfer.Drain, options{poll: "out.txt"}.mode())
}

func TestOptions_Headline(t *testing.T) {
	assert.Equal(t, "Moving a to b, c", options{source: "a", destinations: []string{"b", "c"}}.headline())
	assert.Equal(t, "Copying a to b, up to 5 messages", options{source: "a", destinations: []string{"b"}, copy: true, limit: 5}.headline())
	assert.Equal(t, "Draining a to s3://bucket/out.txt", options{source: "a", poll: "s3://bucket/out.txt"}.headline())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(transfer.Summary{Outcome: transfer.Completed}, nil))
	assert.Equal(t, exitHalted, exitCode(transfer.Summary{Outcome: transfer.Halted}, &transfer.HaltError{Op: transfer.OpSend}))
	assert.Equal(t, exitInterrupted, exitCode(transfer.Summary{Outcome: transfer.Interrupted}, transfer.ErrInterrupted))
	assert.Equal(t, exitFatal, exitCode(transfer.Summary{Outcome: transfer.Failed}, &queue.NotFoundError{Name: "a"}))
}

func TestExecute_Move(t *testing.T) {
	gw := newMemoryGateway("src", 25)
	gw.queues["dst"] = nil

	opts := options{source: "src", destinations: []string{"dst"}, batch: 10, verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)

	require.NoError(t, err)
	assert.Equal(t, transfer.Completed, sum.Outcome)
	assert.Equal(t, 25, sum.Processed)
	assert.Equal(t, 3, sum.Iterations)
	assert.NotEmpty(t, sum.RunID)
	assert.Len(t, gw.queues["dst"], 25)
	assert.Equal(t, exitOK, exitCode(sum, err))
}

func TestExecute_Limit(t *testing.T) {
	gw := newMemoryGateway("src", 25)
	gw.queues["dst"] = nil

	opts := options{source: "src", destinations: []string{"dst"}, batch: 4, limit: 9, copy: true, verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)

	require.NoError(t, err)
	assert.Equal(t, 9, sum.Processed)
	assert.Len(t, gw.queues["dst"], 9)
}

func TestExecute_HaltedExitCode(t *testing.T) {
	gw := newMemoryGateway("src", 5)
	gw.queues["dst"] = nil
	gw.failSend["dst"] = true

	opts := options{source: "src", destinations: []string{"dst"}, batch: 10, verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)

	require.Error(t, err)
	assert.True(t, transfer.IsHalt(err))
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, exitHalted, exitCode(sum, err))
}

func TestExecute_MissingQueue(t *testing.T) {
	gw := newMemoryGateway("src", 5)

	opts := options{source: "src", destinations: []string{"nope"}, batch: 10, verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)

	require.Error(t, err)
	assert.Equal(t, exitFatal, exitCode(sum, err))
}

func TestExecute_DrainToFile(t *testing.T) {
	gw := newMemoryGateway("src", 3)
	path := filepath.Join(t.TempDir(), "drained.txt")

	opts := options{source: "src", poll: path, batch: 2, verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "message 1\nmessage 2\nmessage 3\n", string(b))
}

func TestExecute_DrainBadPath(t *testing.T) {
	gw := newMemoryGateway("src", 3)

	opts := options{source: "src", poll: filepath.Join(t.TempDir(), "missing", "out.txt"), verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)

	require.Error(t, err)
	assert.Equal(t, exitFatal, exitCode(sum, err))
}

func TestExecute_Interrupted(t *testing.T) {
	gw := newMemoryGateway("src", 30)
	gw.queues["dst"] = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := options{source: "src", destinations: []string{"dst"}, batch: 10, verbose: true}
	sum, err := execute(ctx, opts, gw, nil)

	require.Error(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, exitInterrupted, exitCode(sum, err))
}

func TestOptions_RedeliveryWarning(t *testing.T) {
	assert.Empty(t, options{source: "a", destinations: []string{"b"}}.redeliveryWarning())
	assert.Empty(t, options{source: "a", destinations: []string{"b"}, copy: true, limit: 100}.redeliveryWarning())

	w := options{source: "a", destinations: []string{"b"}, copy: true}.redeliveryWarning()
	assert.Contains(t, w, "reappear after 60s")

	w = options{source: "a", poll: "out.txt", visibilityTimeout: 900}.redeliveryWarning()
	assert.Contains(t, w, "reappear after 900s")
	assert.Contains(t, w, "--visibility-timeout")
}

func TestRun_ClientErrorIsReported(t *testing.T) {
	h := memory.New()
	log.SetHandler(h)
	defer log.SetHandler(discard.Default)

	orig := newSQSClient
	defer func() { newSQSClient = orig }()
	newSQSClient = func(rtksqs.Config) (*rtksqs.SQSClient, error) {
		return nil, errors.New("SharedConfigProfileNotExistsError: failed to get profile")
	}

	opts := options{source: "a", destinations: []string{"b"}, region: "eu-west-1", profile: "nope"}
	code := run(context.Background(), opts)

	assert.Equal(t, exitFatal, code)
	require.Len(t, h.Entries, 1)
	assert.Contains(t, h.Entries[0].Message, "eu-west-1")
	assert.Contains(t, h.Entries[0].Message, "failed to get profile")
}

func TestExecute_DrainMissingSourceKeepsFile(t *testing.T) {
	gw := newMemoryGateway("src", 3)
	dir := t.TempDir()
	path := filepath.Join(dir, "drained.txt")
	require.NoError(t, os.WriteFile(path, []byte("previous drain\n"), 0o644))

	opts := options{source: "typo", poll: path, verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)

	var nf *queue.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, exitFatal, exitCode(sum, err))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous drain\n", string(b))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial output left behind")
}

func TestExecute_DrainKeepsOneMessagePerLine(t *testing.T) {
	gw := newMemoryGateway("src", 0)
	gw.queues["src"] = []queue.Message{
		{ID: "1", Body: "{\n  \"a\": 1\n}"},
		{ID: "2", Body: "x"},
	}
	path := filepath.Join(t.TempDir(), "drained.txt")

	opts := options{source: "src", poll: path, verbose: true}
	sum, err := execute(context.Background(), opts, gw, nil)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	assert.Len(t, lines, sum.Processed)
}
