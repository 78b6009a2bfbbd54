package coordinator

import (
	"sort"

	"github.com/tzrikka/spate/pkg/rpc"
)

// executorEntry is the catalog's record of one registered executor.
type executorEntry struct {
	id      ExecutorId
	host    string
	workdir string
	// tx issues requests over the executor's own connection
	// (the coordinator acting as the requester).
	tx *rpc.Outgoing
}

// catalog tracks the executors currently registered with the
// coordinator. Not safe for concurrent use on its own: the
// [Coordinator] serializes access.
type catalog struct {
	nextID    ExecutorId
	executors map[ExecutorId]*executorEntry
}

func newCatalog() *catalog {
	return &catalog{executors: make(map[ExecutorId]*executorEntry)}
}

func (c *catalog) add(req AddExecutor, tx *rpc.Outgoing) *executorEntry {
	e := &executorEntry{
		id:      c.nextID,
		host:    req.Host,
		workdir: req.Workdir,
		tx:      tx,
	}
	c.nextID++
	c.executors[e.id] = e
	return e
}

// remove drops the executor, reporting whether it was still registered.
func (c *catalog) remove(id ExecutorId) bool {
	if _, ok := c.executors[id]; !ok {
		return false
	}
	delete(c.executors, id)
	return true
}

// selectExecutors picks n executors for a new query, lowest ids first
// so that placement is deterministic. It returns nil if fewer than n
// are registered.
func (c *catalog) selectExecutors(n int) []*executorEntry {
	if n <= 0 || len(c.executors) < n {
		return nil
	}

	ids := make([]ExecutorId, 0, len(c.executors))
	for id := range c.executors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	chosen := make([]*executorEntry, n)
	for i := range chosen {
		chosen[i] = c.executors[ids[i]]
	}
	return chosen
}
