package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatch_IDs(t *testing.T) {
	b := Batch{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	require.Equal(t, []string{"a", "b", "c"}, b.IDs())
	require.Empty(t, Batch{}.IDs())
}

func TestNotFoundError(t *testing.T) {
	cause := errors.New("sqs error")
	var err error = &NotFoundError{Name: "orders", Err: cause}

	require.EqualError(t, err, "queue orders not found")
	require.True(t, errors.Is(err, cause))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	require.Equal(t, "orders", nf.Name)
}
