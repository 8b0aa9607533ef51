package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "submit, inspect, and cancel queries against a running coordinator",
}

var querySubmitCmd = &cobra.Command{
	Use:   "submit <plan.json>",
	Short: "submit an execution plan and wait for its terminal result",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuerySubmit,
}

var queryStatusCmd = &cobra.Command{
	Use:   "status <queryId>",
	Short: "fetch the current status of a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryStatus,
}

var queryCancelCmd = &cobra.Command{
	Use:   "cancel <queryId>",
	Short: "cancel a running query",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryCancel,
}

var queryCancelReason string

func init() {
	queryCancelCmd.Flags().StringVar(&queryCancelReason, "reason", "cancelled via CLI", "reason recorded for the cancellation")
	queryCmd.AddCommand(querySubmitCmd, queryStatusCmd, queryCancelCmd)
}

func runQuerySubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read plan file: %w", err)
	}
	var plan planDoc
	if err := json.Unmarshal(data, &plan); err != nil {
		return fmt.Errorf("parse plan file: %w", err)
	}

	client := apiClientFromFlags(cmd)
	result, err := client.submit(&plan)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runQueryStatus(cmd *cobra.Command, args []string) error {
	client := apiClientFromFlags(cmd)
	status, err := client.status(args[0])
	if err != nil {
		return err
	}
	return printJSON(status)
}

func runQueryCancel(cmd *cobra.Command, args []string) error {
	client := apiClientFromFlags(cmd)
	cancelled, err := client.cancel(args[0], queryCancelReason)
	if err != nil {
		return err
	}
	return printJSON(map[string]bool{"cancelled": cancelled})
}

func apiClientFromFlags(cmd *cobra.Command) *apiClient {
	addr, _ := cmd.Root().PersistentFlags().GetString("api-addr")
	return newAPIClient(addr)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
