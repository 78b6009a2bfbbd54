package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tzrikka/spate/pkg/network"
	"github.com/tzrikka/spate/pkg/wire"
)

// ErrCanceled is the transport error reported by [Response.Wait] when
// the request was canceled locally, or when the connection was torn
// down before the reply arrived.
var ErrCanceled = errors.New("request canceled")

// Outgoing issues requests on one multiplexed connection. It is safe
// for concurrent use by multiple goroutines.
type Outgoing struct {
	nextID  atomic.Uint32
	pending *pendingTable
	sender  *network.Sender
}

// Call sends the given request to the peer and returns a handle for its
// future reply. S and E are the success and error payload types
// associated with the request's wire name.
//
// The pending-table entry is registered before the frame is handed to
// the channel, so a reply can never arrive without finding its entry.
func Call[S, E any](o *Outgoing, req Request) *Response[S, E] {
	id := o.nextID.Add(1) - 1

	msg := wire.Empty()
	msg.PushByte(kindRequest)
	msg.PushUint32(id)
	msg.PushString(req.RequestName())
	if err := msg.Push(req); err != nil {
		return &Response[S, E]{err: err}
	}

	ch := make(chan *wire.MessageBuf, 1)
	if !o.pending.insert(id, ch) {
		return &Response[S, E]{err: ErrCanceled}
	}
	o.sender.Send(msg)

	return &Response[S, E]{
		ch:      ch,
		pending: o.pending,
		id:      id,
	}
}

// Close shuts down the connection: queued frames are flushed first,
// then the socket is closed, which also ends the incoming stream.
// Closing twice is a no-op.
func (o *Outgoing) Close() {
	o.sender.Close()
}

// PendingCalls returns the number of requests still waiting for a
// reply on this connection.
func (o *Outgoing) PendingCalls() int {
	return o.pending.size()
}

// RemoteError carries the typed application error a peer's handler
// replied with. It indicates a healthy connection: only the one call
// failed, and only because the handler said so.
type RemoteError[E any] struct {
	Err E
}

func (e *RemoteError[E]) Error() string {
	return fmt.Sprintf("remote error: %v", e.Err)
}

// result is the tagged union carried by every response frame's
// payload section: exactly one of the two fields is set.
type result[S, E any] struct {
	Ok  *S `json:"ok,omitempty"`
	Err *E `json:"err,omitempty"`
}

// Response is a single-use handle for one in-flight request. It is
// resolved when the matching response frame arrives, fails with a
// transport error when the connection is torn down, and can be
// canceled locally at any time.
type Response[S, E any] struct {
	ch      chan *wire.MessageBuf
	pending *pendingTable
	id      uint32
	err     error // Set at creation when the request never left.

	cancel sync.Once
}

// Wait blocks until the reply arrives, then decodes it. Application
// errors are returned as a [*RemoteError] of E; cancellation,
// connection loss, and malformed payloads are transport errors.
// Canceling the context cancels the request locally.
func (r *Response[S, E]) Wait(ctx context.Context) (S, error) {
	var zero S
	if r.err != nil {
		return zero, r.err
	}

	select {
	case msg, ok := <-r.ch:
		if !ok {
			return zero, ErrCanceled
		}

		var res result[S, E]
		if err := msg.Pop(&res); err != nil {
			return zero, fmt.Errorf("malformed response payload: %w", err)
		}
		switch {
		case res.Ok != nil:
			return *res.Ok, nil
		case res.Err != nil:
			return zero, &RemoteError[E]{Err: *res.Err}
		default:
			return zero, errors.New("response payload is neither success nor error")
		}

	case <-ctx.Done():
		r.Cancel()
		return zero, ctx.Err()
	}
}

// Cancel abandons the request locally: the pending entry is released
// immediately, and a reply that still arrives is discarded on arrival.
// No cancellation is signaled to the peer, which may well complete the
// request anyway. Canceling twice, or after completion, is a no-op.
func (r *Response[S, E]) Cancel() {
	r.cancel.Do(func() {
		if r.pending == nil {
			return
		}
		// Closing the channel wakes a blocked Wait with ErrCanceled. Only
		// the side that removed the entry ever closes or sends on it.
		if ch, ok := r.pending.remove(r.id); ok {
			close(ch)
		}
	})
}
