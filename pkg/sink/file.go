// Package sink persists drained messages, one body per line.
package sink

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"

	"github.com/mercury2269/sqsmover/v2/pkg/queue"
)

// Sink receives drained messages in fetch order.
type Sink interface {
	Write(m queue.Message) error
	// Flush makes every message written so far durable.
	Flush() error
	// Close publishes the output at its target.
	Close() error
	// Discard drops the output and leaves the target as it was.
	Discard() error
}

// Open returns an S3 sink for s3://bucket/key targets and a local file sink
// otherwise. sess is only used for S3 targets.
func Open(ctx context.Context, target string, sess *session.Session) (Sink, error) {
	if strings.HasPrefix(target, s3Scheme) {
		return NewS3(ctx, target, newUploader(sess))
	}
	return NewFile(target)
}

// File writes message bodies to a partial file next to path and renames it
// over path on Close. An existing file is only replaced by a committed run.
//
// Bodies containing line breaks are written as quoted Go strings so every
// message stays on one line.
type File struct {
	path   string
	f      *os.File
	w      *bufio.Writer
	n      int
	closed bool
}

// NewFile starts a new output for path.
func NewFile(path string) (*File, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.partial")
	if err != nil {
		return nil, errors.Wrapf(err, "creating output file %s", path)
	}

	return &File{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

func (s *File) Write(m queue.Message) error {
	if _, err := s.w.WriteString(line(m.Body)); err != nil {
		return errors.Wrapf(err, "writing to %s", s.f.Name())
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return errors.Wrapf(err, "writing to %s", s.f.Name())
	}
	s.n++
	return nil
}

func line(body string) string {
	if strings.ContainsAny(body, "\r\n") {
		return strconv.Quote(body)
	}
	return body
}

func (s *File) Flush() error {
	if err := s.w.Flush(); err != nil {
		return errors.Wrapf(err, "flushing %s", s.f.Name())
	}
	if err := s.f.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %s", s.f.Name())
	}
	return nil
}

// Close flushes the partial file and moves it to path.
func (s *File) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.Flush(); err != nil {
		s.f.Close()
		return err
	}
	if err := s.f.Chmod(0o644); err != nil {
		s.f.Close()
		return errors.Wrapf(err, "setting mode of %s", s.f.Name())
	}
	if err := s.f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", s.f.Name())
	}
	if err := os.Rename(s.f.Name(), s.path); err != nil {
		return errors.Wrapf(err, "moving %s to %s", s.f.Name(), s.path)
	}
	return nil
}

// Discard removes the partial file.
func (s *File) Discard() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.f.Close()
	if err := os.Remove(s.f.Name()); err != nil {
		return errors.Wrapf(err, "removing %s", s.f.Name())
	}
	return nil
}

// Path returns the target the output is published to.
func (s *File) Path() string {
	return s.path
}

// Count returns how many messages were written.
func (s *File) Count() int {
	return s.n
}
