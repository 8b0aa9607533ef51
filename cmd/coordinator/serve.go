package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/stratumdb/pkg/aggregator"
	"github.com/cuemby/stratumdb/pkg/config"
	"github.com/cuemby/stratumdb/pkg/events"
	"github.com/cuemby/stratumdb/pkg/health"
	"github.com/cuemby/stratumdb/pkg/loadbalancer"
	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/metrics"
	"github.com/cuemby/stratumdb/pkg/registry"
	"github.com/cuemby/stratumdb/pkg/registryrpc"
	"github.com/cuemby/stratumdb/pkg/rpcclient"
	"github.com/cuemby/stratumdb/pkg/scheduler"
	"github.com/cuemby/stratumdb/pkg/types"
	worker "github.com/cuemby/stratumdb/pkg/workersim"
)

var (
	demoWorkers int
	duckDBDSN   string
	redisAddr   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the coordinator: registry, load balancer, scheduler, aggregator",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&demoWorkers, "demo-workers", 0, "spawn N in-process reference workers (pkg/workersim) for local demos")
	serveCmd.Flags().StringVar(&duckDBDSN, "duckdb-dsn", "", "DuckDB DSN for the Result Aggregator's fetcher (empty uses the in-memory mock fetcher)")
	serveCmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address for shared outstanding-load counters across coordinator replicas (empty uses the in-process counter)")
}

type coordinator struct {
	cfg       *config.Config
	reg       *registry.Registry
	lb        *loadbalancer.LoadBalancer
	sched     *scheduler.Scheduler
	broker    *events.Broker
	rpcServer *grpc.Server
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	apiAddr, _ := cmd.Flags().GetString("api-addr")

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	reg := registry.New(registry.Config{UnhealthyAfter: cfg.UnhealthyAfter(), SweepCron: cfg.SweepCron}, broker)
	if err := reg.Start(); err != nil {
		return fmt.Errorf("start registry sweep: %w", err)
	}

	lb := loadbalancer.New(reg, buildCounter(redisAddr))
	rpc := rpcclient.NewGRPCClient(rpcclient.DefaultConfig())

	fetcher, mockFetcher, err := buildFetcher(duckDBDSN)
	if err != nil {
		return err
	}
	agg := aggregator.New(fetcher)

	sched := scheduler.New(scheduler.Config{WaveDeadline: cfg.WaveDeadline()}, reg, lb, rpc, agg, broker)

	grpcServer := grpc.NewServer()
	registryrpc.RegisterServer(grpcServer, reg)
	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		if err := grpcServer.Serve(listener); err != nil {
			log.Logger.Warn().Err(err).Msg("registry grpc server stopped")
		}
	}()
	log.Logger.Info().Str("addr", cfg.GRPCAddr).Msg("registry RPC listening; workers register here")

	demoServers, demoHealthzServers := startDemoWorkers(reg, broker, lb, mockFetcher, demoWorkers)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	log.Logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")

	co := &coordinator{cfg: cfg, reg: reg, lb: lb, sched: sched, broker: broker, rpcServer: grpcServer}
	apiSrv := &http.Server{Addr: apiAddr, Handler: co.mux()}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Warn().Err(err).Msg("query API server stopped")
		}
	}()
	log.Logger.Info().Str("addr", apiAddr).Msg("query submission API listening")

	waitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	for _, s := range demoServers {
		s.GracefulStop()
	}
	for _, s := range demoHealthzServers {
		_ = s.Shutdown(shutdownCtx)
	}
	reg.Stop()
	broker.Stop()
	return nil
}

// buildCounter returns a Redis-backed outstanding-load counter when
// redisAddr is set, so multiple coordinator replicas can share
// load-balancing state, falling back to an in-process counter otherwise.
func buildCounter(redisAddr string) loadbalancer.Counter {
	if redisAddr == "" {
		return loadbalancer.NewInMemoryCounter()
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return loadbalancer.NewRedisCounter(client, "stratumdb:lb:outstanding:")
}

func buildFetcher(dsn string) (aggregator.Fetcher, *aggregator.MockFetcher, error) {
	if dsn == "" {
		mf := aggregator.NewMockFetcher(nil)
		return mf, mf, nil
	}
	f, err := aggregator.NewDuckDBFetcher(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open duckdb fetcher: %w", err)
	}
	return f, nil, nil
}

// startDemoWorkers spawns n in-process reference workers, each serving a
// real gRPC listener on localhost, so GRPCClient dispatches to them exactly
// as it would to an out-of-process worker. Each worker also gets a /healthz
// HTTP listener, and the Load Balancer is given a pkg/health.HTTPChecker
// against it, so selection reflects the spec's "external healthy = healthy
// ∩ runtime-ready" rule (spec.md §4.2) instead of registry status alone.
func startDemoWorkers(reg *registry.Registry, broker *events.Broker, lb *loadbalancer.LoadBalancer, mockFetcher *aggregator.MockFetcher, n int) ([]*grpc.Server, []*http.Server) {
	if n <= 0 {
		return nil, nil
	}
	if mockFetcher == nil {
		mockFetcher = aggregator.NewMockFetcher(nil)
	}

	var grpcServers []*grpc.Server
	var healthzServers []*http.Server
	for i := 0; i < n; i++ {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			log.Logger.Warn().Err(err).Msg("demo worker: listen failed")
			continue
		}
		sw := worker.NewSimWorker(reg, broker, mockFetcher, listener.Addr().String(), worker.DefaultConfig())
		sw.Start()

		gs := grpc.NewServer()
		rpcclient.RegisterServer(gs, worker.NewGRPCServer(sw))
		go func() {
			if err := gs.Serve(listener); err != nil {
				log.Logger.Debug().Err(err).Msg("demo worker grpc server stopped")
			}
		}()
		grpcServers = append(grpcServers, gs)
		log.WithWorkerID(string(sw.WorkerID())).Info().Str("endpoint", listener.Addr().String()).Msg("demo worker started")

		healthzListener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			log.WithWorkerID(string(sw.WorkerID())).Warn().Err(err).Msg("demo worker: healthz listen failed")
			continue
		}
		healthzSrv := &http.Server{Handler: sw.HealthzHandler()}
		go func() {
			if err := healthzSrv.Serve(healthzListener); err != nil && err != http.ErrServerClosed {
				log.WithWorkerID(string(sw.WorkerID())).Debug().Err(err).Msg("demo worker healthz server stopped")
			}
		}()
		healthzServers = append(healthzServers, healthzSrv)

		checkerURL := fmt.Sprintf("http://%s/healthz", healthzListener.Addr())
		lb.SetChecker(sw.WorkerID(), health.NewHTTPChecker(checkerURL))
		log.WithWorkerID(string(sw.WorkerID())).Info().Str("healthz", checkerURL).Msg("runtime-readiness checker registered")
	}
	return grpcServers, healthzServers
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Logger.Info().Msg("shutting down")
}

// mux implements the coordinator's query submission HTTP API: this is an
// ambient convenience for the CLI and demos, not part of spec.md §6's
// worker RPC wire contract.
func (co *coordinator) mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/queries", co.handleQueries)
	mux.HandleFunc("/queries/", co.handleQueryByID)
	mux.HandleFunc("/workers", co.handleWorkers)
	mux.HandleFunc("/workers/", co.handleWorkerByID)
	return mux
}

func (co *coordinator) handleQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var doc planDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	plan, err := doc.toPlan()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resultCh := co.sched.ExecuteQuery(r.Context(), plan)
	result := <-resultCh

	writeJSON(w, http.StatusOK, queryResultDoc{
		QueryID:      result.QueryID,
		State:        result.State,
		ErrorKind:    result.ErrorKind,
		ErrorMessage: result.ErrorMessage,
		Result:       result.QueryResult,
		Stats:        result.Stats,
	})
}

func (co *coordinator) handleQueryByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/queries/")
	queryID, action, _ := strings.Cut(rest, "/")
	if queryID == "" {
		http.Error(w, "missing query id", http.StatusBadRequest)
		return
	}

	switch {
	case action == "cancel" && r.Method == http.MethodPost:
		var body struct {
			Reason string `json:"reason"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		ok := co.sched.Cancel(queryID, body.Reason)
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
	case action == "" && r.Method == http.MethodGet:
		st, ok := co.sched.Status(queryID)
		if !ok {
			http.Error(w, "query not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, statusDoc{
			QueryID:         st.QueryID,
			State:           st.State,
			ExecutionTimeMs: st.ExecutionTimeMs,
			ErrorKind:       st.ErrorKind,
			ErrorMessage:    st.ErrorMessage,
		})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (co *coordinator) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, co.reg.List(nil))
}

func (co *coordinator) handleWorkerByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/workers/")
	workerID, action, _ := strings.Cut(rest, "/")
	if workerID == "" || action != "drain" || r.Method != http.MethodPost {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := co.reg.Drain(types.WorkerID(workerID)); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
