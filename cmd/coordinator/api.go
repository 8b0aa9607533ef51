package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/stratumdb/pkg/types"
)

// planDoc is the JSON shape a CLI "query submit" file or HTTP POST body
// takes; it mirrors types.ExecutionPlan but with a wire-friendly deps
// shape (a plain map of slices instead of sets).
type planDoc struct {
	QueryID       string           `json:"queryId"`
	Stages        []stageDoc       `json:"stages"`
	Deps          map[string][]int `json:"deps"`
	Aggregation   string           `json:"aggregation,omitempty"`
	SumColumn     string           `json:"sumColumn,omitempty"`
	GroupByColumn string           `json:"groupByColumn,omitempty"`
}

type stageDoc struct {
	StageID         int    `json:"stageId"`
	Type            string `json:"type"`
	InputPartitions int    `json:"inputPartitions"`
	Payload         []byte `json:"payload,omitempty"`
}

func (d *planDoc) toPlan() (*types.ExecutionPlan, error) {
	if d.QueryID == "" {
		return nil, fmt.Errorf("plan missing queryId")
	}
	plan := &types.ExecutionPlan{
		QueryID:       d.QueryID,
		Stages:        make(map[int]*types.ExecutionStage, len(d.Stages)),
		Deps:          make(map[int]map[int]struct{}, len(d.Stages)),
		Aggregation:   types.AggregationType(d.Aggregation),
		SumColumn:     d.SumColumn,
		GroupByColumn: d.GroupByColumn,
		CreatedAt:     time.Now(),
	}
	for _, s := range d.Stages {
		plan.Stages[s.StageID] = &types.ExecutionStage{
			StageID:         s.StageID,
			Type:            types.StageType(s.Type),
			InputPartitions: s.InputPartitions,
			Payload:         s.Payload,
		}
		plan.Deps[s.StageID] = map[int]struct{}{}
	}
	for sid, deps := range d.Deps {
		var id int
		if _, err := fmt.Sscanf(sid, "%d", &id); err != nil {
			return nil, fmt.Errorf("deps key %q is not a stage id: %w", sid, err)
		}
		set := make(map[int]struct{}, len(deps))
		for _, dep := range deps {
			set[dep] = struct{}{}
		}
		plan.Deps[id] = set
	}
	return plan, nil
}

type queryResultDoc struct {
	QueryID      string               `json:"queryId"`
	State        types.QueryState     `json:"state"`
	ErrorKind    types.ErrorKind      `json:"errorKind,omitempty"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	Result       *types.QueryResult   `json:"result,omitempty"`
	Stats        *types.ExecutionStats `json:"stats,omitempty"`
}

type statusDoc struct {
	QueryID         string          `json:"queryId"`
	State           types.QueryState `json:"state"`
	ExecutionTimeMs int64           `json:"executionTimeMs"`
	ErrorKind       types.ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
}

// apiClient is the CLI's thin HTTP client for talking to a running
// coordinator's query submission API.
type apiClient struct {
	addr string
	hc   *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{addr: addr, hc: &http.Client{Timeout: 35 * time.Second}}
}

func (c *apiClient) url(path string) string {
	return fmt.Sprintf("http://%s%s", c.addr, path)
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.url(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("coordinator returned %s: %s", resp.Status, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) submit(plan *planDoc) (*queryResultDoc, error) {
	var out queryResultDoc
	if err := c.do(http.MethodPost, "/queries", plan, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) status(queryID string) (*statusDoc, error) {
	var out statusDoc
	if err := c.do(http.MethodGet, "/queries/"+queryID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) cancel(queryID, reason string) (bool, error) {
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.do(http.MethodPost, "/queries/"+queryID+"/cancel", map[string]string{"reason": reason}, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

func (c *apiClient) listWorkers() ([]types.WorkerInfo, error) {
	var out []types.WorkerInfo
	if err := c.do(http.MethodGet, "/workers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) drainWorker(workerID string) error {
	return c.do(http.MethodPost, "/workers/"+workerID+"/drain", nil, nil)
}
