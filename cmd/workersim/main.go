// Command workersim runs a standalone reference worker process: it joins a
// coordinator's Worker Registry over the network and serves the same
// ExecuteStage/CancelStage/ListWorkers contract pkg/workersim's in-process
// SimCluster exercises in tests, but over a real gRPC listener.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/stratumdb/pkg/aggregator"
	"github.com/cuemby/stratumdb/pkg/exchange"
	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/registryrpc"
	"github.com/cuemby/stratumdb/pkg/rpcclient"
	worker "github.com/cuemby/stratumdb/pkg/workersim"
)

var (
	coordinatorAddr string
	listenAddr      string
	advertiseAddr   string
	cpuCores        int
	memoryMB        int64
	diskMB          int64
	logLevel        string
	logJSON         bool
	kafkaBrokers    []string
	kafkaTopic      string
)

var rootCmd = &cobra.Command{
	Use:   "workersim",
	Short: "a standalone reference worker that joins a stratumdb coordinator",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&coordinatorAddr, "coordinator-addr", "127.0.0.1:7070", "address of the coordinator's registry RPC service")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", "0.0.0.0:0", "address this worker's gRPC server listens on")
	rootCmd.Flags().StringVar(&advertiseAddr, "advertise-addr", "", "address advertised to the coordinator (defaults to the listener's actual address)")
	rootCmd.Flags().IntVar(&cpuCores, "cpu-cores", 4, "declared CPU core capacity")
	rootCmd.Flags().Int64Var(&memoryMB, "memory-mb", 8192, "declared memory capacity in MB")
	rootCmd.Flags().Int64Var(&diskMB, "disk-mb", 102400, "declared disk capacity in MB")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&logJSON, "log-json", false, "output logs in JSON format")
	rootCmd.Flags().StringSliceVar(&kafkaBrokers, "kafka-brokers", nil, "Kafka broker addresses for cross-process EXCHANGE stages (default: in-process exchange only)")
	rootCmd.Flags().StringVar(&kafkaTopic, "kafka-topic", "stratumdb-exchange", "Kafka topic EXCHANGE stages shuffle rows through when --kafka-brokers is set")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	endpoint := advertiseAddr
	if endpoint == "" {
		endpoint = listener.Addr().String()
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := registryrpc.Dial(dialCtx, coordinatorAddr)
	cancel()
	if err != nil {
		return fmt.Errorf("dial coordinator at %s: %w", coordinatorAddr, err)
	}
	defer client.Close()

	registrar := worker.NewRemoteRegistrar(client)
	fetcher := aggregator.NewMockFetcher(nil)

	cfg := worker.DefaultConfig()
	cfg.Resources.CPUCores = cpuCores
	cfg.Resources.MemoryMB = memoryMB
	cfg.Resources.DiskMB = diskMB
	if len(kafkaBrokers) > 0 {
		kx := exchange.NewKafkaExchange(kafkaBrokers, kafkaTopic)
		defer kx.Close()
		cfg.Exchange = kx
		log.Logger.Info().Strs("brokers", kafkaBrokers).Str("topic", kafkaTopic).Msg("EXCHANGE stages will shuffle rows via Kafka")
	}

	sw := worker.NewSimWorker(registrar, nil, fetcher, endpoint, cfg)
	sw.Start()
	log.WithWorkerID(string(sw.WorkerID())).Info().
		Str("endpoint", endpoint).Str("coordinator", coordinatorAddr).
		Msg("worker registered and heartbeating")

	gs := grpc.NewServer()
	rpcclient.RegisterServer(gs, worker.NewGRPCServer(sw))
	go func() {
		if err := gs.Serve(listener); err != nil {
			log.Logger.Warn().Err(err).Msg("worker grpc server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Logger.Info().Msg("shutting down")
	sw.Stop()
	gs.GracefulStop()
	return nil
}
