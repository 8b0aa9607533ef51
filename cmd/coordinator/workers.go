package main

import (
	"github.com/spf13/cobra"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "inspect and drain workers registered with a running coordinator",
}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "list every worker the coordinator's registry currently knows about",
	Args:  cobra.NoArgs,
	RunE:  runWorkersList,
}

var workersDrainCmd = &cobra.Command{
	Use:   "drain <workerId>",
	Short: "mark a worker DRAINING so it receives no new stage assignments",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkersDrain,
}

func init() {
	workersCmd.AddCommand(workersListCmd, workersDrainCmd)
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	client := apiClientFromFlags(cmd)
	workers, err := client.listWorkers()
	if err != nil {
		return err
	}
	return printJSON(workers)
}

func runWorkersDrain(cmd *cobra.Command, args []string) error {
	client := apiClientFromFlags(cmd)
	if err := client.drainWorker(args[0]); err != nil {
		return err
	}
	return printJSON(map[string]string{"workerId": args[0], "status": "draining"})
}
