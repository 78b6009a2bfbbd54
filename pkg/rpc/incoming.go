package rpc

import (
	"fmt"
	"sync"

	"github.com/tzrikka/spate/pkg/network"
	"github.com/tzrikka/spate/pkg/wire"
)

// incomingBacklog bounds the number of decoded requests
// queued ahead of the application's consumption.
const incomingBacklog = 64

// Incoming yields the peer's requests on one multiplexed connection.
type Incoming struct {
	ch chan *RequestBuf

	mu  sync.Mutex
	err error
}

// Requests returns the channel of inbound requests. The channel is
// closed when the peer shuts down, or when the connection fails; in
// the latter case [Incoming.Err] reports the failure.
func (in *Incoming) Requests() <-chan *RequestBuf {
	return in.ch
}

// Err returns the error that tore the connection down, if any. It is
// meaningful after the [Incoming.Requests] channel has been closed:
// nil means an orderly peer shutdown.
func (in *Incoming) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

func (in *Incoming) setErr(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.err = err
}

// RequestBuf is a single inbound request whose payload has not been
// decoded yet. It carries exactly one response obligation: either it
// is decoded into a payload and a responder which is eventually used,
// or it is dropped, in which case the peer never hears back and
// observes its own cancellation or the connection closing.
type RequestBuf struct {
	id     uint32
	name   string
	origin *network.Sender
	msg    *wire.MessageBuf
}

// Name returns the request's wire name, for routing
// before committing to a payload type.
func (b *RequestBuf) Name() string {
	return b.name
}

// Decode interprets the request's payload as R, and returns it together
// with the single-shot responder for this request id. S and E must be
// the success and error types the caller of [Call] expects for R.
func Decode[R Request, S, E any](b *RequestBuf) (R, *Responder[S, E], error) {
	var req R
	if err := b.msg.Pop(&req); err != nil {
		return req, nil, fmt.Errorf("failed to decode %q request: %w", b.name, err)
	}

	responder := &Responder[S, E]{id: b.id, origin: b.origin}
	return req, responder, nil
}

// Responder is the single-shot obligation to answer one request.
// Exactly one of [Responder.Ok] or [Responder.Err] must be called,
// at most once.
type Responder[S, E any] struct {
	id     uint32
	origin *network.Sender
	once   sync.Once
}

// Ok replies to the request with a success payload.
func (r *Responder[S, E]) Ok(s S) {
	r.respond(result[S, E]{Ok: &s})
}

// Err replies to the request with a typed application error.
// The connection itself stays healthy.
func (r *Responder[S, E]) Err(e E) {
	r.respond(result[S, E]{Err: &e})
}

// respond builds and sends the response frame. The send cannot be
// retried, and failure is silent: the peer may already be gone, and
// will observe the cancellation on its own side.
func (r *Responder[S, E]) respond(res result[S, E]) {
	r.once.Do(func() {
		msg := wire.Empty()
		msg.PushByte(kindResponse)
		msg.PushUint32(r.id)
		if err := msg.Push(res); err != nil {
			return
		}
		r.origin.Send(msg)
	})
}
