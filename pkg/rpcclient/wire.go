package rpcclient

import "github.com/cuemby/stratumdb/pkg/types"

// Wire-level request/response shapes per spec.md §6. These are the payloads
// carried over the JSON gRPC codec; their field names are the wire
// contract, independent of the in-process types package.

const (
	methodExecuteStage   = "/stratumdb.worker.v1.WorkerService/ExecuteStage"
	methodCancelStage    = "/stratumdb.worker.v1.WorkerService/CancelStage"
	methodListWorkers    = "/stratumdb.worker.v1.WorkerService/ListWorkers"
)

type executeStageRequest struct {
	QueryID string `json:"queryId"`
	StageID int    `json:"stageId"`
	Payload []byte `json:"payload"`
	TraceID string `json:"traceId"`
}

// stageStatus mirrors spec.md §6's ExecuteStage response `status` enum.
type stageStatus string

const (
	stageStatusCompleted stageStatus = "COMPLETED"
	stageStatusFailed    stageStatus = "FAILED"
	stageStatusCancelled stageStatus = "CANCELLED"
)

type executeStageResponse struct {
	Status         stageStatus           `json:"status"`
	ResultLocation string                `json:"resultLocation,omitempty"`
	Stats          *types.ExecutionStats `json:"stats,omitempty"`
	ErrorMessage   string                `json:"errorMessage,omitempty"`
}

func (r executeStageResponse) toStageResult(stageID int) *types.StageResult {
	return &types.StageResult{
		StageID:        stageID,
		Success:        r.Status == stageStatusCompleted,
		ErrorMessage:   r.ErrorMessage,
		ResultLocation: r.ResultLocation,
		Stats:          r.Stats,
	}
}

type cancelStageRequest struct {
	QueryID string `json:"queryId"`
	StageID int    `json:"stageId"`
	Reason  string `json:"reason"`
}

type cancelStageResponse struct {
	Accepted bool `json:"accepted"`
}

type listWorkersRequest struct{}

type listWorkersResponse struct {
	Workers []types.WorkerInfo `json:"workers"`
}
