package coordinator

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/tzrikka/spate/pkg/network"
	"github.com/tzrikka/spate/pkg/rpc"
)

// startCoordinator runs a full coordinator server on a free port.
func startCoordinator(t *testing.T) (string, *Coordinator) {
	t.Helper()
	t.Chdir(t.TempDir()) // Keep metrics files out of the package dir.

	n := network.NewWithHostname("")
	s, err := rpc.Listen(n, 0)
	if err != nil {
		t.Fatalf("rpc.Listen() error = %v", err)
	}
	t.Cleanup(s.Close)

	coord := New()
	go func() {
		_ = Serve(t.Context(), s, coord)
	}()

	_, port := s.ExternalAddr()
	return net.JoinHostPort("localhost", strconv.Itoa(int(port))), coord
}

func dial(t *testing.T, addr string) (*rpc.Outgoing, *rpc.Incoming) {
	t.Helper()

	out, in, err := rpc.Connect(network.NewWithHostname(""), addr)
	if err != nil {
		t.Fatalf("rpc.Connect() error = %v", err)
	}
	return out, in
}

// serveSpawns acknowledges every SpawnQuery request, like an executor would.
func serveSpawns(in *rpc.Incoming) {
	go func() {
		for req := range in.Requests() {
			if req.Name() != "SpawnQuery" {
				continue
			}
			_, resp, err := rpc.Decode[SpawnQuery, SpawnAccepted, SpawnError](req)
			if err != nil {
				continue
			}
			resp.Ok(SpawnAccepted{})
		}
	}()
}

func TestExecutorReleasedOnDisconnect(t *testing.T) {
	addr, coord := startCoordinator(t)
	out, _ := dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := rpc.Call[ExecutorId, NoError](out, AddExecutor{Host: "exec-1"})
	if _, err := resp.Wait(ctx); err != nil {
		t.Fatalf("AddExecutor call error = %v", err)
	}
	if got := coord.Executors(); got != 1 {
		t.Fatalf("Executors() = %d, want 1", got)
	}

	// Closing the connection must release the executor registration.
	out.Close()

	deadline := time.Now().Add(5 * time.Second)
	for coord.Executors() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("executor was not removed after its connection closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUnknownRequestClosesOnlyThatConnection(t *testing.T) {
	addr, _ := startCoordinator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bad, badIn := dial(t, addr)
	resp := rpc.Call[struct{}, NoError](bad, bogusRequest{})
	if _, err := resp.Wait(ctx); !errors.Is(err, rpc.ErrCanceled) {
		t.Errorf("bogus call error = %v, want %v", err, rpc.ErrCanceled)
	}
	if _, ok := <-badIn.Requests(); ok {
		t.Error("the offending connection should have been closed")
	}

	// A well-behaved connection is unaffected.
	good, _ := dial(t, addr)
	defer good.Close()
	if _, err := rpc.Call[ExecutorId, NoError](good, AddExecutor{Host: "exec-2"}).Wait(ctx); err != nil {
		t.Errorf("AddExecutor on a fresh connection error = %v", err)
	}
}

type bogusRequest struct{}

func (bogusRequest) RequestName() string { return "Bogus" }

func TestSubmissionSpawnsOnExecutors(t *testing.T) {
	addr, _ := startCoordinator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Register an executor that acknowledges spawn requests.
	exec, execIn := dial(t, addr)
	defer exec.Close()
	serveSpawns(execIn)
	if _, err := rpc.Call[ExecutorId, NoError](exec, AddExecutor{Host: "exec-1"}).Wait(ctx); err != nil {
		t.Fatalf("AddExecutor call error = %v", err)
	}

	// Submit a query from a separate client connection.
	client, _ := dial(t, addr)
	defer client.Close()

	query, err := rpc.Call[QueryId, SubmissionError](client, Submission{
		Name:               "wordcount",
		Binary:             "/srv/queries/wordcount",
		NumExecutors:       1,
		WorkersPerExecutor: 2,
	}).Wait(ctx)
	if err != nil {
		t.Fatalf("Submission call error = %v", err)
	}

	// The executor announces its worker group; with a single group
	// the startup barrier completes immediately.
	_, err = rpc.Call[GroupAccepted, WorkerGroupError](exec, AddWorkerGroup{Query: query, Group: 0}).Wait(ctx)
	if err != nil {
		t.Fatalf("AddWorkerGroup call error = %v", err)
	}
}

func TestSubmissionRejectedWithoutExecutors(t *testing.T) {
	addr, _ := startCoordinator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _ := dial(t, addr)
	defer client.Close()

	_, err := rpc.Call[QueryId, SubmissionError](client, Submission{
		Name:         "wordcount",
		NumExecutors: 3,
	}).Wait(ctx)

	var remote *rpc.RemoteError[SubmissionError]
	if !errors.As(err, &remote) {
		t.Fatalf("Submission call error = %v, want a remote SubmissionError", err)
	}
}

func TestDispatchCloseIsIdempotent(t *testing.T) {
	t.Chdir(t.TempDir())

	coord := New()
	d := NewDispatch(t.Context(), coord, nil)
	d.executors = append(d.executors, coord.AddExecutor(AddExecutor{Host: "x"}, nil))

	d.Close()
	if got := coord.Executors(); got != 0 {
		t.Fatalf("Executors() after Close() = %d, want 0", got)
	}
	d.Close() // No double release.
}
