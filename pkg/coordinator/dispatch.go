package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"github.com/tzrikka/spate/internal/logger"
	"github.com/tzrikka/spate/pkg/metrics"
	"github.com/tzrikka/spate/pkg/rpc"
)

// Dispatch routes the requests of a single accepted connection to the
// coordinator, and tracks the resources that handlers bind to that
// connection. [Dispatch.Close] releases those resources exactly once,
// no matter why the connection ended.
type Dispatch struct {
	coord *Coordinator
	// tx issues requests back over this connection; handlers hand it
	// to the coordinator so it can talk to the peer later (e.g. to
	// spawn queries on a registered executor).
	tx *rpc.Outgoing
	l  zerolog.Logger

	// executors are the ids registered over this connection, in
	// registration order. Mutated only by the dispatch goroutine.
	executors []ExecutorId

	release sync.Once
}

// NewDispatch prepares request routing for one accepted connection.
func NewDispatch(ctx context.Context, coord *Coordinator, tx *rpc.Outgoing) *Dispatch {
	l := logger.FromContext(ctx).With().Str("conn_id", shortuuid.New()).Logger()
	l.Debug().Msg("new connection")

	return &Dispatch{coord: coord, tx: tx, l: l}
}

// Dispatch routes one inbound request by its wire name. A non-nil
// error is fatal for this connection: the caller must stop consuming
// and tear the connection down. Requests with long-running handlers
// complete their responder from a separate goroutine, so dispatching
// itself never stalls the connection.
func (d *Dispatch) Dispatch(ctx context.Context, req *rpc.RequestBuf) error {
	name := req.Name()
	d.l.Debug().Str("name", name).Msg("dispatching request")

	var err error
	switch name {
	case Submission{}.RequestName():
		err = d.submission(ctx, req)
	case AddWorkerGroup{}.RequestName():
		err = d.addWorkerGroup(ctx, req)
	case AddExecutor{}.RequestName():
		err = d.addExecutor(req)
	default:
		err = fmt.Errorf("invalid request %q", name)
	}

	outcome := "ok"
	if err != nil {
		outcome = "invalid"
	}
	metrics.CountRequest(d.l, time.Now(), name, outcome)
	return err
}

func (d *Dispatch) submission(ctx context.Context, req *rpc.RequestBuf) error {
	sub, resp, err := rpc.Decode[Submission, QueryId, SubmissionError](req)
	if err != nil {
		return err
	}

	go func() {
		id, serr := d.coord.Submission(ctx, d.l, sub)
		if serr != nil {
			resp.Err(*serr)
			return
		}
		resp.Ok(id)
	}()

	return nil
}

func (d *Dispatch) addWorkerGroup(ctx context.Context, req *rpc.RequestBuf) error {
	awg, resp, err := rpc.Decode[AddWorkerGroup, GroupAccepted, WorkerGroupError](req)
	if err != nil {
		return err
	}

	go func() {
		err := d.coord.AddWorkerGroup(ctx, awg)
		var wgErr *WorkerGroupError
		switch {
		case err == nil:
			resp.Ok(GroupAccepted{})
		case errors.As(err, &wgErr):
			resp.Err(*wgErr)
		default:
			// Context canceled: the coordinator is shutting down, and so
			// is this connection. The peer observes the closed socket.
			d.l.Debug().Err(err).Msg("abandoning worker group announcement")
		}
	}()

	return nil
}

func (d *Dispatch) addExecutor(req *rpc.RequestBuf) error {
	exe, resp, err := rpc.Decode[AddExecutor, ExecutorId, NoError](req)
	if err != nil {
		return err
	}

	id := d.coord.AddExecutor(exe, d.tx)
	d.executors = append(d.executors, id)
	resp.Ok(id)
	return nil
}

// Close releases every resource bound to this connection.
// Closing twice is a no-op.
func (d *Dispatch) Close() {
	d.release.Do(func() {
		for _, id := range d.executors {
			d.coord.RemoveExecutor(id)
		}
		d.l.Debug().Msg("connection closed")
	})
}
