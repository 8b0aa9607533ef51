package aggregator

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cuemby/stratumdb/pkg/metrics"
	"github.com/cuemby/stratumdb/pkg/types"
)

// Aggregator produces the final QueryResult and rolled-up ExecutionStats
// from the per-stage results a Scheduler collected.
type Aggregator struct {
	fetcher Fetcher
}

// New creates an Aggregator that resolves resultLocation handles via
// fetcher.
func New(fetcher Fetcher) *Aggregator {
	return &Aggregator{fetcher: fetcher}
}

// Aggregate is the scheduler-facing entry point: merge every successful
// stage's partition, then apply the query's final aggregation.
func (a *Aggregator) Aggregate(results []types.StageResult, aggType types.AggregationType, sumColumn, groupByColumn string) (*types.QueryResult, *types.ExecutionStats, error) {
	stats := rollUpStats(results)

	merged, err := a.MergePartitionResults(context.Background(), results)
	if err != nil {
		return nil, stats, err
	}

	final, err := a.ApplyFinalAggregation(merged, aggType, sumColumn, groupByColumn)
	if err != nil {
		return nil, stats, err
	}
	return final, stats, nil
}

// MergePartitionResults unions the row sequences of every successful
// stage's partition. All participating results must share identical
// columns; row order is the order stages appear in results (the order they
// completed), not sorted. An empty or all-failed input yields an empty
// result per spec.md §4.5.
func (a *Aggregator) MergePartitionResults(ctx context.Context, results []types.StageResult) (*types.QueryResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MergeDuration)

	var columns []string
	var rows []types.Row
	var totalRows int64

	for _, r := range results {
		if !r.Success || r.ResultLocation == "" {
			continue
		}

		cols, err := a.fetcher.FetchColumns(ctx, r.ResultLocation)
		if err != nil {
			return nil, fmt.Errorf("fetch columns for stage %d: %w", r.StageID, err)
		}
		if columns == nil {
			columns = cols
		} else if !equalColumns(columns, cols) {
			return nil, fmt.Errorf("%s: stage %d columns %v disagree with %v", types.ErrSchemaMismatch, r.StageID, cols, columns)
		}

		stageRows, err := a.fetcher.FetchRows(ctx, r.ResultLocation)
		if err != nil {
			return nil, fmt.Errorf("fetch rows for stage %d: %w", r.StageID, err)
		}
		rows = append(rows, stageRows...)
		totalRows += int64(len(stageRows))
	}

	if columns == nil {
		columns = []string{}
	}
	metrics.RowsAggregatedTotal.Add(float64(totalRows))
	return &types.QueryResult{Columns: columns, Rows: rows, TotalRows: totalRows}, nil
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ApplyFinalAggregation applies the query's terminal aggregation operator
// to a merged intermediate result.
func (a *Aggregator) ApplyFinalAggregation(intermediate *types.QueryResult, aggType types.AggregationType, sumColumn, groupByColumn string) (*types.QueryResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FinalAggregationDuration, string(aggType))

	switch aggType {
	case "", types.AggNone:
		return intermediate, nil

	case types.AggCount:
		return &types.QueryResult{
			Columns:   []string{"count"},
			Rows:      []types.Row{{{Type: types.CellInt, Int: intermediate.TotalRows}}},
			TotalRows: 1,
		}, nil

	case types.AggSum:
		return applySum(intermediate, sumColumn)

	case types.AggGroupBy:
		return applyGroupBy(intermediate, groupByColumn)

	default:
		return nil, fmt.Errorf("unknown aggregation type %q", aggType)
	}
}

func columnIndex(columns []string, name string) (int, bool) {
	for i, c := range columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

func applySum(intermediate *types.QueryResult, sumColumn string) (*types.QueryResult, error) {
	idx, ok := columnIndex(intermediate.Columns, sumColumn)
	if !ok {
		return nil, fmt.Errorf("sum column %q not present in %v", sumColumn, intermediate.Columns)
	}

	var sum float64
	var isFloat bool
	for _, row := range intermediate.Rows {
		cell := row[idx]
		switch cell.Type {
		case types.CellInt:
			sum += float64(cell.Int)
		case types.CellFloat:
			sum += cell.Flt
			isFloat = true
		case types.CellNull:
			continue
		}
	}

	col := "sum_" + sumColumn
	if isFloat {
		return &types.QueryResult{
			Columns:   []string{col},
			Rows:      []types.Row{{{Type: types.CellFloat, Flt: sum}}},
			TotalRows: 1,
		}, nil
	}
	return &types.QueryResult{
		Columns:   []string{col},
		Rows:      []types.Row{{{Type: types.CellInt, Int: int64(sum)}}},
		TotalRows: 1,
	}, nil
}

func applyGroupBy(intermediate *types.QueryResult, groupByColumn string) (*types.QueryResult, error) {
	idx, ok := columnIndex(intermediate.Columns, groupByColumn)
	if !ok {
		return nil, fmt.Errorf("group-by column %q not present in %v", groupByColumn, intermediate.Columns)
	}

	counts := make(map[string]int64)
	for _, row := range intermediate.Rows {
		counts[cellKey(row[idx])]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]types.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, types.Row{
			{Type: types.CellString, Str: k},
			{Type: types.CellInt, Int: counts[k]},
		})
	}

	return &types.QueryResult{
		Columns:   []string{groupByColumn, "count"},
		Rows:      rows,
		TotalRows: int64(len(rows)),
	}, nil
}

func cellKey(c types.Cell) string {
	switch c.Type {
	case types.CellInt:
		return strconv.FormatInt(c.Int, 10)
	case types.CellFloat:
		return strconv.FormatFloat(c.Flt, 'f', -1, 64)
	case types.CellString:
		return c.Str
	default:
		return ""
	}
}

// rollUpStats sums additive fields across successful stages; memoryPeakMb
// takes the max. StageCount is the number of successful stages folded in.
func rollUpStats(results []types.StageResult) *types.ExecutionStats {
	stats := &types.ExecutionStats{}
	for _, r := range results {
		if r.Success && r.Stats != nil {
			stats.Add(*r.Stats)
		}
	}
	return stats
}
