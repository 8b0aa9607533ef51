package worker

import (
	"context"
	"fmt"

	"github.com/cuemby/stratumdb/pkg/types"
)

// SimCluster implements rpcclient.Client by routing each call to the
// SimWorker matching the target WorkerInfo's ID, standing in for a real
// transport that would dial worker.Endpoint instead.
type SimCluster struct {
	workers map[types.WorkerID]*SimWorker
}

// NewSimCluster builds a cluster view over the given simulated workers.
func NewSimCluster(workers ...*SimWorker) *SimCluster {
	c := &SimCluster{workers: make(map[types.WorkerID]*SimWorker, len(workers))}
	for _, w := range workers {
		c.workers[w.WorkerID()] = w
	}
	return c
}

// Add registers an additional simulated worker after construction.
func (c *SimCluster) Add(w *SimWorker) {
	c.workers[w.WorkerID()] = w
}

func (c *SimCluster) ExecuteStage(ctx context.Context, worker types.WorkerInfo, queryID string, stageID int, payload []byte) *types.StageResult {
	w, ok := c.workers[worker.WorkerID]
	if !ok {
		return &types.StageResult{StageID: stageID, Success: false, ErrorMessage: fmt.Sprintf("no simulated worker for %s", worker.WorkerID)}
	}
	return w.ExecuteStage(ctx, worker, queryID, stageID, payload)
}

func (c *SimCluster) CancelStage(worker types.WorkerInfo, queryID string, stageID int, reason string) {
	if w, ok := c.workers[worker.WorkerID]; ok {
		w.CancelStage(worker, queryID, stageID, reason)
	}
}

func (c *SimCluster) ListWorkers(ctx context.Context, worker types.WorkerInfo) ([]types.WorkerInfo, error) {
	w, ok := c.workers[worker.WorkerID]
	if !ok {
		return nil, fmt.Errorf("no simulated worker for %s", worker.WorkerID)
	}
	return w.ListWorkers(ctx, worker)
}
