package rpcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/metrics"
	"github.com/cuemby/stratumdb/pkg/types"
)

// Client is the Scheduler's view of a worker: the three-operation contract
// from spec.md §4.4.
type Client interface {
	ExecuteStage(ctx context.Context, worker types.WorkerInfo, queryID string, stageID int, payload []byte) *types.StageResult
	CancelStage(worker types.WorkerInfo, queryID string, stageID int, reason string)
	ListWorkers(ctx context.Context, worker types.WorkerInfo) ([]types.WorkerInfo, error)
}

// Config governs per-endpoint dispatch rate limiting and reconnect backoff.
type Config struct {
	// DispatchRPS caps ExecuteStage dispatch rate per worker endpoint.
	DispatchRPS float64
	DispatchBurst int
	// DialTimeout bounds establishing a fresh connection.
	DialTimeout time.Duration
}

// DefaultConfig returns sensible per-endpoint flow-control defaults.
func DefaultConfig() Config {
	return Config{
		DispatchRPS:   50,
		DispatchBurst: 10,
		DialTimeout:   5 * time.Second,
	}
}

// GRPCClient is the concrete Client: one cached *grpc.ClientConn, circuit
// breaker and rate limiter per endpoint.
type GRPCClient struct {
	cfg     Config
	tracer  trace.Tracer
	conns   sync.Map // endpoint string -> *grpc.ClientConn
	breakers sync.Map // endpoint string -> *gobreaker.CircuitBreaker
	limiters sync.Map // endpoint string -> *rate.Limiter
}

// NewGRPCClient creates a client with the given flow-control configuration.
func NewGRPCClient(cfg Config) *GRPCClient {
	return &GRPCClient{
		cfg:    cfg,
		tracer: otel.Tracer("stratumdb/rpcclient"),
	}
}

func (c *GRPCClient) limiter(endpoint string) *rate.Limiter {
	if l, ok := c.limiters.Load(endpoint); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(c.cfg.DispatchRPS), c.cfg.DispatchBurst)
	actual, _ := c.limiters.LoadOrStore(endpoint, l)
	return actual.(*rate.Limiter)
}

func (c *GRPCClient) breaker(endpoint string) *gobreaker.CircuitBreaker {
	if b, ok := c.breakers.Load(endpoint); ok {
		return b.(*gobreaker.CircuitBreaker)
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			log.Logger.Warn().Str("endpoint", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	actual, _ := c.breakers.LoadOrStore(endpoint, b)
	return actual.(*gobreaker.CircuitBreaker)
}

// conn returns a cached connection to endpoint, dialing (with backoff) on
// first use or after the cached one was closed.
func (c *GRPCClient) conn(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	if v, ok := c.conns.Load(endpoint); ok {
		cc := v.(*grpc.ClientConn)
		if cc.GetState().String() != "SHUTDOWN" {
			return cc, nil
		}
		c.conns.Delete(endpoint)
	}

	dial := func() (*grpc.ClientConn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
		return grpc.DialContext(dialCtx, endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
		)
	}

	cc, err := backoff.Retry(ctx, dial, backoff.WithMaxTries(3))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	actual, loaded := c.conns.LoadOrStore(endpoint, cc)
	if loaded {
		cc.Close()
		return actual.(*grpc.ClientConn), nil
	}
	return cc, nil
}

// ExecuteStage dispatches a stage to a worker. Transport failures and open
// circuit breakers both return a non-success StageResult rather than an
// error, matching spec.md §4.4's "never throws uncaught" contract.
func (c *GRPCClient) ExecuteStage(ctx context.Context, worker types.WorkerInfo, queryID string, stageID int, payload []byte) *types.StageResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCRequestDuration, "ExecuteStage")

	ctx, span := c.tracer.Start(ctx, "rpcclient.ExecuteStage",
		trace.WithAttributes(
			attribute.String("query_id", queryID),
			attribute.Int("stage_id", stageID),
			attribute.String("worker_id", string(worker.WorkerID)),
		))
	defer span.End()
	traceID := span.SpanContext().TraceID().String()

	if err := c.limiter(worker.Endpoint).Wait(ctx); err != nil {
		metrics.RPCRequestsTotal.WithLabelValues("ExecuteStage", "rate_limited").Inc()
		return transportFailure(stageID, fmt.Errorf("dispatch rate limit: %w", err))
	}

	result, err := c.breaker(worker.Endpoint).Execute(func() (any, error) {
		cc, err := c.conn(ctx, worker.Endpoint)
		if err != nil {
			return nil, err
		}
		req := &executeStageRequest{QueryID: queryID, StageID: stageID, Payload: payload, TraceID: traceID}
		resp := &executeStageResponse{}
		if err := grpc.Invoke(ctx, methodExecuteStage, req, resp, cc); err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		metrics.RPCRequestsTotal.WithLabelValues("ExecuteStage", "transport_error").Inc()
		return transportFailure(stageID, err)
	}

	metrics.RPCRequestsTotal.WithLabelValues("ExecuteStage", "ok").Inc()
	return result.(*executeStageResponse).toStageResult(stageID)
}

func transportFailure(stageID int, err error) *types.StageResult {
	return &types.StageResult{
		StageID:      stageID,
		Success:      false,
		ErrorMessage: fmt.Sprintf("transport error: %v", err),
	}
}

// CancelStage is fire-and-forget: failures are logged, never surfaced.
func (c *GRPCClient) CancelStage(worker types.WorkerInfo, queryID string, stageID int, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cc, err := c.conn(ctx, worker.Endpoint)
		if err != nil {
			log.WithWorkerID(string(worker.WorkerID)).Warn().Err(err).Msg("cancelStage: dial failed")
			return
		}

		req := &cancelStageRequest{QueryID: queryID, StageID: stageID, Reason: reason}
		resp := &cancelStageResponse{}
		if err := grpc.Invoke(ctx, methodCancelStage, req, resp, cc); err != nil {
			log.WithWorkerID(string(worker.WorkerID)).Warn().Err(err).Msg("cancelStage: rpc failed")
		}
	}()
}

// ListWorkers is a diagnostic helper; callers may use it to cross-check a
// worker's own view of cluster membership against the registry.
func (c *GRPCClient) ListWorkers(ctx context.Context, worker types.WorkerInfo) ([]types.WorkerInfo, error) {
	cc, err := c.conn(ctx, worker.Endpoint)
	if err != nil {
		return nil, err
	}
	req := &listWorkersRequest{}
	resp := &listWorkersResponse{}
	if err := grpc.Invoke(ctx, methodListWorkers, req, resp, cc); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}
