package types

import "time"

// WorkerID is an opaque, cluster-unique identifier for a worker.
type WorkerID string

// WorkerStatus is the liveness state of a registered worker.
type WorkerStatus string

const (
	WorkerHealthy   WorkerStatus = "healthy"
	WorkerUnhealthy WorkerStatus = "unhealthy"
	WorkerDraining  WorkerStatus = "draining"
)

// ResourceInfo is a worker's declared capacity plus its last-reported
// utilization.
type ResourceInfo struct {
	CPUCores       int
	MemoryMB       int64
	DiskMB         int64
	ActiveQueries  int
	CPUUtilization float64 // [0,1]
	MemUtilization float64 // [0,1]
}

// WorkerInfo is the registry's record of a single worker.
type WorkerInfo struct {
	WorkerID        WorkerID
	Endpoint        string // host:port
	Status          WorkerStatus
	Resources       ResourceInfo
	Weight          int // static weight, used by WEIGHTED_ROUND_ROBIN
	LastHeartbeatAt time.Time
	RegisteredAt    time.Time
}

// StageType is opaque to the core scheduling algorithm; it is forwarded to
// workers verbatim.
type StageType string

const (
	StageScan      StageType = "scan"
	StageFilter    StageType = "filter"
	StageAggregate StageType = "aggregate"
	StageExchange  StageType = "exchange"
	StageFinal     StageType = "final"
)

// ExecutionStage is one node of a query's stage DAG.
type ExecutionStage struct {
	StageID         int
	Type            StageType
	InputPartitions int
	Payload         []byte
}

// ExecutionPlan is the planner's handoff to the Scheduler: a DAG of stages
// keyed by stage id, with Deps[s] the set of stages that must complete
// before s can be dispatched.
type ExecutionPlan struct {
	QueryID     string
	Stages      map[int]*ExecutionStage
	Deps        map[int]map[int]struct{}
	Aggregation AggregationType
	// SumColumn names the numeric column summed by AggSum.
	SumColumn string
	// GroupByColumn names the key column grouped by AggGroupBy.
	GroupByColumn string
	CreatedAt     time.Time
}

// RootStages returns the stages with no dependencies: the first wave.
func (p *ExecutionPlan) RootStages() []int {
	var roots []int
	for id := range p.Stages {
		if len(p.Deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// ExecutionStats accumulates non-negative resource counters for a stage, or
// for a whole query once rolled up across stages.
type ExecutionStats struct {
	RowsProcessed        int64
	BytesProcessed       int64
	ExecutionTimeMs      int64
	CPUTimeMs            int64
	MemoryPeakMB         int64
	NetworkBytesSent     int64
	NetworkBytesReceived int64
	// StageCount is the number of successful stages folded into this value
	// via Add; meaningless on a single stage's own (pre-rollup) stats.
	StageCount int64
}

// Add folds another stage's stats into the receiver: additive fields sum,
// MemoryPeakMB takes the max, StageCount increments by one per call.
func (s *ExecutionStats) Add(o ExecutionStats) {
	s.RowsProcessed += o.RowsProcessed
	s.BytesProcessed += o.BytesProcessed
	s.ExecutionTimeMs += o.ExecutionTimeMs
	s.CPUTimeMs += o.CPUTimeMs
	s.NetworkBytesSent += o.NetworkBytesSent
	s.NetworkBytesReceived += o.NetworkBytesReceived
	if o.MemoryPeakMB > s.MemoryPeakMB {
		s.MemoryPeakMB = o.MemoryPeakMB
	}
	s.StageCount++
}

// StageResult is what a worker hands back for one executed stage.
type StageResult struct {
	StageID        int
	Success        bool
	ErrorMessage   string
	ResultLocation string
	Stats          *ExecutionStats
}

// CellType tags the dynamic type carried by a Cell.
type CellType string

const (
	CellInt    CellType = "int"
	CellFloat  CellType = "float"
	CellString CellType = "string"
	CellNull   CellType = "null"
)

// Cell is one typed value in a row. Exactly one field is meaningful,
// selected by Type.
type Cell struct {
	Type CellType
	Int  int64
	Flt  float64
	Str  string
}

// Row is an ordered sequence of cells, positionally aligned with a
// QueryResult's Columns.
type Row []Cell

// QueryResult is the final, fully materialized tabular output of a query.
type QueryResult struct {
	Columns   []string
	Rows      []Row
	TotalRows int64
}

// AggregationType selects the final-aggregation operator applied by the
// Result Aggregator once all partition results are merged.
type AggregationType string

const (
	AggNone    AggregationType = "none"
	AggCount   AggregationType = "count"
	AggSum     AggregationType = "sum"
	AggGroupBy AggregationType = "group_by"
)

// QueryState is the lifecycle state of one query execution.
type QueryState string

const (
	QueryCreated   QueryState = "created"
	QueryRunning   QueryState = "running"
	QueryCompleted QueryState = "completed"
	QueryFailed    QueryState = "failed"
	QueryCancelled QueryState = "cancelled"
)

// QueryExecutionStatus is the scheduler's externally visible view of one
// query's progress.
type QueryExecutionStatus struct {
	QueryID         string
	State           QueryState
	AssignedWorkers []WorkerAssignment
	ExecutionTimeMs int64
	ErrorKind       ErrorKind
	ErrorMessage    string
}

// WorkerAssignment is a logging and cancellation handle: which worker is
// (or was) running which stage of which query.
type WorkerAssignment struct {
	WorkerID WorkerID
	Endpoint string
	StageID  int
}

// ErrorKind names the taxonomy of terminal query failures.
type ErrorKind string

const (
	ErrPlanInvalid    ErrorKind = "plan_invalid"
	ErrNoWorkers      ErrorKind = "no_workers"
	ErrStageFailed    ErrorKind = "stage_failed"
	ErrStageTimeout   ErrorKind = "stage_timeout"
	ErrTransportError ErrorKind = "transport_error"
	ErrCancelled      ErrorKind = "cancelled"
	ErrSchemaMismatch ErrorKind = "schema_mismatch"
)

// SelectionPolicy names a Load Balancer worker-selection strategy.
type SelectionPolicy string

const (
	PolicyRoundRobin       SelectionPolicy = "round_robin"
	PolicyLeastConnections SelectionPolicy = "least_connections"
	PolicyLeastLoaded      SelectionPolicy = "least_loaded"
	PolicyResourceAware    SelectionPolicy = "resource_aware"
	PolicyWeightedRR       SelectionPolicy = "weighted_round_robin"
)
