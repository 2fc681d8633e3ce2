package oplog

import (
	"context"
	"errors"
)

// ErrClosed is the receipt error for writes abandoned at shutdown.
var ErrClosed = errors.New("oplog: manager closed")

// Receipt tracks the durable write of one operation.
type Receipt struct {
	RequestID string

	done chan struct{}
	seq  int64
	err  error
}

func newReceipt(requestID string) *Receipt {
	return &Receipt{RequestID: requestID, done: make(chan struct{})}
}

func (r *Receipt) resolve(seq int64, err error) {
	r.seq, r.err = seq, err
	close(r.done)
}

// Done is closed once the write finished or failed.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the write resolves or ctx ends, and returns the
// store-assigned sequence.
func (r *Receipt) Wait(ctx context.Context) (int64, error) {
	select {
	case <-r.done:
		return r.seq, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Err returns the write error. It is only meaningful after Done.
func (r *Receipt) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
