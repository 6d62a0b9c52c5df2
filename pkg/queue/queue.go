// Package queue defines the message model and the narrow gateway interface
// the transfer engine drives. Backends live in their own packages.
package queue

import (
	"context"
	"fmt"
)

// Attribute is an opaque message attribute carried verbatim between queues.
type Attribute struct {
	DataType    string
	StringValue string
	BinaryValue []byte
}

// Message is one delivery read from a queue.
//
// ReceiptHandle belongs to the delivery that produced it and must not be
// kept beyond the batch being processed.
type Message struct {
	// ID is unique within a single fetch only.
	ID               string
	Body             string
	Attributes       map[string]Attribute
	SystemAttributes map[string]string
	ReceiptHandle    string
}

// Batch is the ordered result of one fetch.
type Batch []Message

// IDs returns the message ids of the batch in fetch order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b))
	for i, m := range b {
		ids[i] = m.ID
	}
	return ids
}

// Endpoint is a resolved queue.
type Endpoint struct {
	Name string
	URL  string
}

func (e Endpoint) String() string {
	return e.Name
}

// Gateway is the set of backend operations the transfer engine needs.
//
// A returned error is a transport failure of the whole call. A non-empty id
// slice from Send or Delete is a partial failure: those messages (and only
// those) were not accepted.
type Gateway interface {
	Resolve(ctx context.Context, name string) (Endpoint, error)
	Fetch(ctx context.Context, ep Endpoint, size int) (Batch, error)
	Send(ctx context.Context, ep Endpoint, batch Batch) ([]string, error)
	Delete(ctx context.Context, ep Endpoint, batch Batch) ([]string, error)
	ApproximateSize(ctx context.Context, ep Endpoint) (int, error)
}

// NotFoundError is returned by Resolve when the queue does not exist.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("queue %s not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}
