package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tzrikka/spate/pkg/metrics"
	"github.com/tzrikka/spate/pkg/rpc"
)

// spawnTimeout bounds how long the coordinator waits for a single
// executor to acknowledge a [SpawnQuery] request.
const spawnTimeout = 30 * time.Second

// Coordinator is the control-plane core: it owns the executor catalog
// and the query registry, and implements the operations that [Dispatch]
// routes to. All methods are safe for concurrent use.
type Coordinator struct {
	mu        sync.Mutex
	catalog   *catalog
	nextQuery QueryId
	queries   map[QueryId]*queryState
}

// queryState tracks one submitted query until all of
// its worker groups have announced themselves.
type queryState struct {
	desc    Submission
	arrived map[int]bool
	// allUp is closed once every expected group has arrived;
	// the pending AddWorkerGroup replies are released by it.
	allUp chan struct{}
}

func New() *Coordinator {
	return &Coordinator{
		catalog: newCatalog(),
		queries: make(map[QueryId]*queryState),
	}
}

// AddExecutor registers a connecting executor and returns its id.
// The caller is responsible for removing the executor again when the
// registering connection ends (see [Dispatch]).
func (c *Coordinator) AddExecutor(req AddExecutor, tx *rpc.Outgoing) ExecutorId {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.catalog.add(req, tx)
	log.Info().Uint64("executor", uint64(e.id)).Str("host", e.host).Msg("registered executor")
	return e.id
}

// RemoveExecutor drops a registered executor, e.g. because its
// connection ended. Removing an unknown id is a no-op.
func (c *Coordinator) RemoveExecutor(id ExecutorId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.catalog.remove(id) {
		log.Info().Uint64("executor", uint64(id)).Msg("removed executor")
	}
}

// Executors returns the number of currently registered executors.
func (c *Coordinator) Executors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.catalog.executors)
}

// Submission places a new query on the currently registered executors
// and asks each chosen one to spawn a worker group. It returns the
// allocated query id once every executor has acknowledged the spawn.
func (c *Coordinator) Submission(ctx context.Context, l zerolog.Logger, req Submission) (QueryId, *SubmissionError) {
	c.mu.Lock()
	chosen := c.catalog.selectExecutors(req.NumExecutors)
	if chosen == nil {
		c.mu.Unlock()
		return 0, &SubmissionError{
			Reason: fmt.Sprintf("not enough executors: %d requested, %d registered",
				req.NumExecutors, len(c.catalog.executors)),
		}
	}

	id := c.nextQuery
	c.nextQuery++
	c.queries[id] = &queryState{
		desc:    req,
		arrived: make(map[int]bool, req.NumExecutors),
		allUp:   make(chan struct{}),
	}
	c.mu.Unlock()

	l = l.With().Uint64("query", uint64(id)).Str("query_name", req.Name).Logger()
	l.Info().Int("groups", req.NumExecutors).Msg("placing query")

	if err := c.spawnGroups(ctx, id, req, chosen); err != nil {
		c.mu.Lock()
		delete(c.queries, id)
		c.mu.Unlock()

		l.Warn().Err(err).Msg("failed to spawn query")
		return 0, &SubmissionError{Reason: err.Error()}
	}

	return id, nil
}

// spawnGroups issues one SpawnQuery per chosen executor, in parallel,
// and waits for all acknowledgments.
func (c *Coordinator) spawnGroups(ctx context.Context, id QueryId, req Submission, chosen []*executorEntry) error {
	ctx, cancel := context.WithTimeout(ctx, spawnTimeout)
	defer cancel()

	errs := make(chan error, len(chosen))
	for group, e := range chosen {
		go func() {
			resp := rpc.Call[SpawnAccepted, SpawnError](e.tx, SpawnQuery{
				Query:      id,
				Group:      group,
				Submission: req,
			})
			_, err := resp.Wait(ctx)
			metrics.CountCall(time.Now(), SpawnQuery{}.RequestName(), err)
			if err != nil {
				err = fmt.Errorf("executor %d: %w", e.id, err)
			}
			errs <- err
		}()
	}

	for range chosen {
		if err := <-errs; err != nil {
			return err
		}
	}
	return nil
}

// AddWorkerGroup records that one worker group of a query has come up,
// and blocks until all of the query's groups have. The error return is
// either a [*WorkerGroupError] (unknown query, bad group index, or a
// duplicate announcement) or the context's error.
func (c *Coordinator) AddWorkerGroup(ctx context.Context, req AddWorkerGroup) error {
	c.mu.Lock()
	q, ok := c.queries[req.Query]
	if !ok {
		c.mu.Unlock()
		return &WorkerGroupError{Reason: fmt.Sprintf("unknown query %d", req.Query)}
	}
	if req.Group < 0 || req.Group >= q.desc.NumExecutors {
		c.mu.Unlock()
		return &WorkerGroupError{Reason: fmt.Sprintf("group %d out of range", req.Group)}
	}
	if q.arrived[req.Group] {
		c.mu.Unlock()
		return &WorkerGroupError{Reason: fmt.Sprintf("group %d already announced", req.Group)}
	}

	q.arrived[req.Group] = true
	if len(q.arrived) == q.desc.NumExecutors {
		close(q.allUp)
	}
	c.mu.Unlock()

	select {
	case <-q.allUp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
