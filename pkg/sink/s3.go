package sink

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mercury2269/sqsmover/v2/pkg/queue"
)

const s3Scheme = "s3://"

func newUploader(sess *session.Session) s3manageriface.UploaderAPI {
	// custom endpoints (LocalStack, minio) need path style addressing
	if sess != nil && aws.StringValue(sess.Config.Endpoint) != "" {
		return s3manager.NewUploaderWithClient(s3.New(sess, aws.NewConfig().WithS3ForcePathStyle(true)))
	}
	return s3manager.NewUploader(sess)
}

// S3 spools bodies to a local file and uploads it as one object on Close.
// Flush makes the spool durable, so a halted run still leaves the drained
// messages on disk.
type S3 struct {
	ctx      context.Context
	bucket   string
	key      string
	spool    *File
	uploader s3manageriface.UploaderAPI
}

// NewS3 creates a sink for an s3://bucket/key target.
func NewS3(ctx context.Context, target string, uploader s3manageriface.UploaderAPI) (*S3, error) {
	bucket, key, err := parseS3Target(target)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "sqsmover-")
	if err != nil {
		return nil, errors.Wrap(err, "creating spool directory")
	}

	spool, err := NewFile(filepath.Join(dir, filepath.Base(key)))
	if err != nil {
		return nil, err
	}

	return &S3{ctx: ctx, bucket: bucket, key: key, spool: spool, uploader: uploader}, nil
}

func parseS3Target(target string) (bucket, key string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing output target %s", target)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", errors.Errorf("output target %s must look like s3://bucket/key", target)
	}

	return u.Host, key, nil
}

func (s *S3) Write(m queue.Message) error {
	return s.spool.Write(m)
}

func (s *S3) Flush() error {
	return s.spool.Flush()
}

// Discard removes the spool without uploading.
func (s *S3) Discard() error {
	if err := s.spool.Discard(); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Dir(s.spool.Path()))
}

// Close uploads the spool file and removes it.
func (s *S3) Close() error {
	if err := s.spool.Close(); err != nil {
		return err
	}

	f, err := os.Open(s.spool.Path())
	if err != nil {
		return errors.Wrapf(err, "opening spool file %s", s.spool.Path())
	}
	defer f.Close()

	_, err = s.uploader.UploadWithContext(context.WithoutCancel(s.ctx), &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        f,
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return errors.Wrapf(err, "uploading drained messages to s3://%s/%s, spool kept at %s", s.bucket, s.key, s.spool.Path())
	}

	logrus.Infof("uploaded %d messages to s3://%s/%s", s.spool.Count(), s.bucket, s.key)
	return os.RemoveAll(filepath.Dir(s.spool.Path()))
}
