package rpc

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/tzrikka/spate/pkg/network"
	"github.com/tzrikka/spate/pkg/wire"
)

// resolver is the per-connection goroutine that demultiplexes inbound
// frames: requests go to the incoming queue, responses complete their
// pending call. It owns the connection's teardown: whatever ends the
// loop, the socket is shut down, all pending calls fail, and the
// incoming stream is closed (after surfacing at most one error).
type resolver struct {
	receiver *network.Receiver
	sender   *network.Sender
	pending  *pendingTable
	incoming *Incoming
}

func (r *resolver) run() {
	for {
		msg, err := r.receiver.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.incoming.setErr(err)
			}
			break
		}

		if err := r.demux(msg); err != nil {
			r.incoming.setErr(err)
			break
		}
	}

	r.sender.Close()
	r.pending.failAll()
	close(r.incoming.ch)
}

// demux decodes one frame's leading sections and routes it. A non-nil
// error is a protocol violation and fatal for the connection.
func (r *resolver) demux(msg *wire.MessageBuf) error {
	kind, err := msg.PopByte()
	if err != nil {
		return err
	}
	id, err := msg.PopUint32()
	if err != nil {
		return err
	}

	switch kind {
	case kindRequest:
		name, err := msg.PopString()
		if err != nil {
			return err
		}

		buf := &RequestBuf{
			id:     id,
			name:   name,
			origin: r.sender,
			msg:    msg,
		}
		select {
		case r.incoming.ch <- buf:
		default:
			// The consumer stopped draining the queue; block rather
			// than reorder, but say so once the backlog is full.
			log.Warn().Str("name", name).Msg("incoming request queue is full")
			r.incoming.ch <- buf
		}

	case kindResponse:
		ch, ok := r.pending.remove(id)
		if !ok {
			log.Info().Uint32("id", id).Msg("dropping canceled response")
			return nil
		}
		ch <- msg

	default:
		return fmt.Errorf("invalid message kind %#x", kind)
	}

	return nil
}
