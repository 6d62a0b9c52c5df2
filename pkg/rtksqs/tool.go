package rtksqs

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mercury2269/sqsmover/v2/pkg/queue"
)

const (
	DefaultVisibilityTimeout = 60
	DefaultLongPollTimeout   = 10

	// AWS SQS sets this limit of 10
	// https://docs.aws.amazon.com/AWSSimpleQueueService/latest/APIReference/API_ReceiveMessage.html
	MaxMessagesPerRead = 10

	// maximum payload of a single SendMessageBatch request
	maxBatchPayloadBytes = 256 * 1024
	// assume metadata occupies less than 10k
	batchMetadataBytes = 10 * 1024

	// Binary and Binary.<custom> attributes carry BinaryValue
	binaryDataType = "Binary"
)

// sqsAPI is internal interface that allows sqs to be mocked in unit tests
type sqsAPI interface {
	GetQueueUrlWithContext(ctx aws.Context, input *sqs.GetQueueUrlInput, opts ...request.Option) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributesWithContext(ctx aws.Context, input *sqs.GetQueueAttributesInput, opts ...request.Option) (*sqs.GetQueueAttributesOutput, error)
	ReceiveMessageWithContext(ctx aws.Context, input *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error)
	SendMessageBatchWithContext(ctx aws.Context, input *sqs.SendMessageBatchInput, opts ...request.Option) (*sqs.SendMessageBatchOutput, error)
	DeleteMessageBatchWithContext(ctx aws.Context, input *sqs.DeleteMessageBatchInput, opts ...request.Option) (*sqs.DeleteMessageBatchOutput, error)
}

// Config holds the connection and receive settings of an SQSClient.
type Config struct {
	Region string
	// Profile selects a shared credentials profile, empty for the default chain.
	Profile string
	// EndpointURL overrides the SQS endpoint, e.g. for LocalStack.
	EndpointURL       string
	VisibilityTimeout int64
	WaitTimeSeconds   int64
}

// SQSClient implements queue.Gateway on top of AWS SQS
//goland:noinspection GoUnnecessarilyExportedIdentifiers
type SQSClient struct {
	sqsAPI
	sess *session.Session
	cfg  Config
}

var _ queue.Gateway = (*SQSClient)(nil)

// NewSession creates the AWS session shared by the SQS client and other AWS
// backed components such as the S3 drain sink.
func NewSession(cfg Config) (*session.Session, error) {
	awsCfg := aws.Config{}
	if cfg.Region != "" {
		awsCfg.Region = aws.String(cfg.Region)
	}
	if cfg.EndpointURL != "" {
		awsCfg.Endpoint = aws.String(cfg.EndpointURL)
	}

	sess, err := session.NewSessionWithOptions(
		session.Options{
			Config:            awsCfg,
			Profile:           cfg.Profile,
			SharedConfigState: session.SharedConfigEnable,
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "creating AWS session for region %s", cfg.Region)
	}

	return sess, nil
}

// NewSQSClient creates a new SQS gateway
func NewSQSClient(cfg Config) (*SQSClient, error) {
	sess, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}

	return newSQSClient(sqs.New(sess), sess, cfg), nil
}

func newSQSClient(api sqsAPI, sess *session.Session, cfg Config) *SQSClient {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.WaitTimeSeconds < 0 {
		cfg.WaitTimeSeconds = 0
	}
	return &SQSClient{sqsAPI: api, sess: sess, cfg: cfg}
}

// Session returns the AWS session the client was created with.
func (sc *SQSClient) Session() *session.Session {
	return sc.sess
}

// Resolve gets the queue URL from a queue name
func (sc *SQSClient) Resolve(ctx context.Context, queueName string) (queue.Endpoint, error) {
	resp, err := sc.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == sqs.ErrCodeQueueDoesNotExist {
			return queue.Endpoint{}, &queue.NotFoundError{Name: queueName, Err: err}
		}
		return queue.Endpoint{}, errors.Wrapf(err, "resolving the url of queue %s", queueName)
	}

	return queue.Endpoint{Name: queueName, URL: aws.StringValue(resp.QueueUrl)}, nil
}

// ApproximateSize returns the ApproximateNumberOfMessages attribute of the queue
func (sc *SQSClient) ApproximateSize(ctx context.Context, ep queue.Endpoint) (int, error) {
	attrs, err := sc.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(ep.URL),
		AttributeNames: []*string{aws.String(sqs.QueueAttributeNameApproximateNumberOfMessages)},
	})
	if err != nil {
		return 0, errors.Wrapf(err, "getting attributes of queue %s", ep.Name)
	}

	raw, ok := attrs.Attributes[sqs.QueueAttributeNameApproximateNumberOfMessages]
	if !ok || raw == nil {
		return 0, errors.Errorf("queue %s did not report %s", ep.Name, sqs.QueueAttributeNameApproximateNumberOfMessages)
	}

	n, err := strconv.Atoi(*raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing approximate size of queue %s", ep.Name)
	}

	return n, nil
}

// Fetch reads up to size messages from the queue
func (sc *SQSClient) Fetch(ctx context.Context, ep queue.Endpoint, size int) (queue.Batch, error) {
	if size <= 0 {
		return queue.Batch{}, nil
	}
	if size > MaxMessagesPerRead {
		size = MaxMessagesPerRead
	}

	rcvResp, err := sc.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(ep.URL),
		VisibilityTimeout:     aws.Int64(sc.cfg.VisibilityTimeout),
		WaitTimeSeconds:       aws.Int64(sc.cfg.WaitTimeSeconds),
		MessageAttributeNames: []*string{aws.String(sqs.QueueAttributeNameAll)},
		MaxNumberOfMessages:   aws.Int64(int64(size)),
		AttributeNames: []*string{
			aws.String(sqs.MessageSystemAttributeNameMessageGroupId),
			aws.String(sqs.MessageSystemAttributeNameMessageDeduplicationId)},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "receiving messages from queue %s", ep.Name)
	}

	logrus.Debugf("received %d messages from %s", len(rcvResp.Messages), ep.Name)

	batch := make(queue.Batch, len(rcvResp.Messages))
	for i, m := range rcvResp.Messages {
		batch[i] = newMessage(m)
	}

	return batch, nil
}

// Send enqueues the batch onto the queue and returns the ids of messages
// that were not confirmed. Each request stays within the aws size limit.
func (sc *SQSClient) Send(ctx context.Context, ep queue.Endpoint, batch queue.Batch) ([]string, error) {
	var failed []string

	messages := batch
	for len(messages) > 0 {
		entries := packSendMessageBatchRequestEntries(messages)

		sendResp, err := sc.SendMessageBatchWithContext(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(ep.URL),
			Entries:  entries,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "sending message batch to queue %s", ep.Name)
		}

		successful := make([]*string, len(sendResp.Successful))
		for i, s := range sendResp.Successful {
			successful[i] = s.Id
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = aws.StringValue(e.Id)
		}

		notSent := unconfirmedIDs(ids, successful, sendResp.Failed)
		if len(notSent) > 0 {
			logrus.Warnf("%d/%d messages failed to send to %s", len(notSent), len(entries), ep.Name)
		}
		failed = append(failed, notSent...)

		messages = messages[len(entries):]
	}

	return failed, nil
}

// Delete removes the batch from the queue using each message's receipt
// handle and returns the ids of messages that were not confirmed deleted.
func (sc *SQSClient) Delete(ctx context.Context, ep queue.Endpoint, batch queue.Batch) ([]string, error) {
	var failed []string

	messages := batch
	for len(messages) > 0 {
		n := len(messages)
		if n > MaxMessagesPerRead {
			n = MaxMessagesPerRead
		}
		chunk := messages[:n]

		deleteResp, err := sc.DeleteMessageBatchWithContext(ctx, &sqs.DeleteMessageBatchInput{
			Entries:  newDeleteMessageBatchRequestEntries(chunk),
			QueueUrl: aws.String(ep.URL),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "deleting messages from queue %s", ep.Name)
		}

		successful := make([]*string, len(deleteResp.Successful))
		for i, s := range deleteResp.Successful {
			successful[i] = s.Id
		}

		notDeleted := unconfirmedIDs(chunk.IDs(), successful, deleteResp.Failed)
		if len(notDeleted) > 0 {
			logrus.WithField("failed", deleteResp.Failed).
				Errorf("%d/%d messages not deleted from %s", len(notDeleted), len(chunk), ep.Name)
		}
		failed = append(failed, notDeleted...)

		messages = messages[n:]
	}

	return failed, nil
}

func newMessage(m *sqs.Message) queue.Message {
	msg := queue.Message{
		ID:            aws.StringValue(m.MessageId),
		Body:          aws.StringValue(m.Body),
		ReceiptHandle: aws.StringValue(m.ReceiptHandle),
	}

	if len(m.MessageAttributes) > 0 {
		msg.Attributes = make(map[string]queue.Attribute, len(m.MessageAttributes))
		for name, v := range m.MessageAttributes {
			msg.Attributes[name] = queue.Attribute{
				DataType:    aws.StringValue(v.DataType),
				StringValue: aws.StringValue(v.StringValue),
				BinaryValue: v.BinaryValue,
			}
		}
	}

	if len(m.Attributes) > 0 {
		msg.SystemAttributes = aws.StringValueMap(m.Attributes)
	}

	return msg
}

func newMessageAttributes(attrs map[string]queue.Attribute) map[string]*sqs.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}

	result := make(map[string]*sqs.MessageAttributeValue, len(attrs))
	for name, a := range attrs {
		v := &sqs.MessageAttributeValue{DataType: aws.String(a.DataType)}
		if strings.HasPrefix(a.DataType, binaryDataType) {
			v.BinaryValue = a.BinaryValue
		} else {
			v.StringValue = aws.String(a.StringValue)
		}
		result[name] = v
	}

	return result
}

func messageSize(m queue.Message) int {
	size := len(m.Body)
	for name, a := range m.Attributes {
		size += len(name) + len(a.DataType) + len(a.StringValue) + len(a.BinaryValue)
	}
	return size
}

// packSendMessageBatchRequestEntries packs messages into SendMessageBatchRequestEntries
// without exceeding the 256KB aws size limit or the 10 entries per request limit
func packSendMessageBatchRequestEntries(messages queue.Batch) []*sqs.SendMessageBatchRequestEntry {
	rCap := maxBatchPayloadBytes - batchMetadataBytes // remaining capacity

	result := make([]*sqs.SendMessageBatchRequestEntry, 0, len(messages))
	for _, message := range messages {
		if len(result) == MaxMessagesPerRead {
			break
		}

		rCap -= messageSize(message)

		// stop if adding the next message will exceed size limit
		if rCap < 0 && len(result) > 0 {
			break
		}

		entry := &sqs.SendMessageBatchRequestEntry{
			MessageBody:       aws.String(message.Body),
			Id:                aws.String(message.ID),
			MessageAttributes: newMessageAttributes(message.Attributes),
		}

		if id, ok := message.SystemAttributes[sqs.MessageSystemAttributeNameMessageGroupId]; ok {
			entry.MessageGroupId = aws.String(id)
		}

		if id, ok := message.SystemAttributes[sqs.MessageSystemAttributeNameMessageDeduplicationId]; ok {
			entry.MessageDeduplicationId = aws.String(id)
		}

		result = append(result, entry)
	}

	return result
}

func newDeleteMessageBatchRequestEntries(messages queue.Batch) []*sqs.DeleteMessageBatchRequestEntry {
	result := make([]*sqs.DeleteMessageBatchRequestEntry, len(messages))
	for i, message := range messages {
		result[i] = &sqs.DeleteMessageBatchRequestEntry{
			ReceiptHandle: aws.String(message.ReceiptHandle),
			Id:            aws.String(message.ID),
		}
	}

	return result
}

// unconfirmedIDs returns, in request order, every id that is reported failed
// or is missing from the successful entries
func unconfirmedIDs(ids []string, successful []*string, failed []*sqs.BatchResultErrorEntry) []string {
	ok := make(map[string]bool, len(successful))
	for _, id := range successful {
		ok[aws.StringValue(id)] = true
	}
	for _, f := range failed {
		delete(ok, aws.StringValue(f.Id))
	}

	result := make([]string, 0)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if ok[id] || seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	return result
}
