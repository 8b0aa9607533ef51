package aggregator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stratumdb/pkg/types"
)

func intCell(v int64) types.Cell   { return types.Cell{Type: types.CellInt, Int: v} }
func strCell(v string) types.Cell  { return types.Cell{Type: types.CellString, Str: v} }
func floatCell(v float64) types.Cell { return types.Cell{Type: types.CellFloat, Flt: v} }

func stageResult(id int, location string) types.StageResult {
	return types.StageResult{
		StageID:        id,
		Success:        true,
		ResultLocation: location,
		Stats:          &types.ExecutionStats{RowsProcessed: 10, MemoryPeakMB: int64(id + 1)},
	}
}

func TestMergePartitionResults_ConcatenatesInCompletionOrder(t *testing.T) {
	fetcher := NewMockFetcher([]string{"id", "name"})
	fetcher.Seed("loc0", []types.Row{{intCell(1), strCell("a")}})
	fetcher.Seed("loc1", []types.Row{{intCell(2), strCell("b")}})

	agg := New(fetcher)
	results := []types.StageResult{stageResult(0, "loc0"), stageResult(1, "loc1")}

	merged, err := agg.MergePartitionResults(context.Background(), results)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, merged.Columns)
	require.Len(t, merged.Rows, 2)
	assert.Equal(t, int64(1), merged.Rows[0][0].Int)
	assert.Equal(t, int64(2), merged.Rows[1][0].Int)
	assert.Equal(t, int64(2), merged.TotalRows)
}

func TestMergePartitionResults_SkipsFailedStages(t *testing.T) {
	fetcher := NewMockFetcher([]string{"id"})
	fetcher.Seed("loc0", []types.Row{{intCell(1)}})

	agg := New(fetcher)
	results := []types.StageResult{
		stageResult(0, "loc0"),
		{StageID: 1, Success: false, ErrorMessage: "boom"},
	}

	merged, err := agg.MergePartitionResults(context.Background(), results)
	require.NoError(t, err)
	assert.Len(t, merged.Rows, 1)
}

func TestMergePartitionResults_EmptyInputYieldsEmptyResult(t *testing.T) {
	agg := New(NewMockFetcher(nil))
	merged, err := agg.MergePartitionResults(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, merged.Columns)
	assert.Empty(t, merged.Rows)
}

func TestMergePartitionResults_MergeThenMergeEmptyIsIdentity(t *testing.T) {
	fetcher := NewMockFetcher([]string{"id"})
	fetcher.Seed("loc0", []types.Row{{intCell(1)}})
	agg := New(fetcher)

	first, err := agg.MergePartitionResults(context.Background(), []types.StageResult{stageResult(0, "loc0")})
	require.NoError(t, err)

	// "empty" was never seeded, so it contributes the same columns and no rows.
	second, err := agg.MergePartitionResults(context.Background(), []types.StageResult{stageResult(0, "loc0"), stageResult(1, "empty")})
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.TotalRows, second.TotalRows)
}

func TestApplyFinalAggregation_None(t *testing.T) {
	agg := New(NewMockFetcher(nil))
	in := &types.QueryResult{Columns: []string{"id"}, Rows: []types.Row{{intCell(1)}}, TotalRows: 1}

	out, err := agg.ApplyFinalAggregation(in, types.AggNone, "", "")
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestApplyFinalAggregation_Count(t *testing.T) {
	agg := New(NewMockFetcher(nil))
	in := &types.QueryResult{Columns: []string{"id"}, Rows: make([]types.Row, 7), TotalRows: 7}

	out, err := agg.ApplyFinalAggregation(in, types.AggCount, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, out.Columns)
	assert.Equal(t, int64(7), out.Rows[0][0].Int)
}

func TestApplyFinalAggregation_SumSkipsNullsAndPromotesToFloat(t *testing.T) {
	agg := New(NewMockFetcher(nil))
	in := &types.QueryResult{
		Columns: []string{"amount"},
		Rows: []types.Row{
			{intCell(10)},
			{floatCell(2.5)},
			{{Type: types.CellNull}},
		},
	}

	out, err := agg.ApplyFinalAggregation(in, types.AggSum, "amount", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sum_amount"}, out.Columns)
	assert.Equal(t, types.CellFloat, out.Rows[0][0].Type)
	assert.InDelta(t, 12.5, out.Rows[0][0].Flt, 0.0001)
}

func TestApplyFinalAggregation_SumUnknownColumnFails(t *testing.T) {
	agg := New(NewMockFetcher(nil))
	in := &types.QueryResult{Columns: []string{"id"}, Rows: []types.Row{{intCell(1)}}}

	_, err := agg.ApplyFinalAggregation(in, types.AggSum, "missing", "")
	assert.Error(t, err)
}

func TestApplyFinalAggregation_GroupByCountsAndOrdersByKey(t *testing.T) {
	agg := New(NewMockFetcher(nil))
	in := &types.QueryResult{
		Columns: []string{"region"},
		Rows: []types.Row{
			{strCell("west")},
			{strCell("east")},
			{strCell("west")},
		},
	}

	out, err := agg.ApplyFinalAggregation(in, types.AggGroupBy, "", "region")
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "count"}, out.Columns)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "east", out.Rows[0][0].Str)
	assert.Equal(t, int64(1), out.Rows[0][1].Int)
	assert.Equal(t, "west", out.Rows[1][0].Str)
	assert.Equal(t, int64(2), out.Rows[1][1].Int)
}

func TestRollUpStats_SumsAdditiveMaxesMemory(t *testing.T) {
	results := []types.StageResult{
		stageResult(0, "loc0"),
		stageResult(1, "loc1"),
		{StageID: 2, Success: false},
	}

	stats := rollUpStats(results)
	assert.Equal(t, int64(20), stats.RowsProcessed)
	assert.Equal(t, int64(2), stats.MemoryPeakMB)
	assert.Equal(t, int64(2), stats.StageCount)
}
