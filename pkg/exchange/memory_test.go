package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/stratumdb/pkg/types"
)

func TestInMemoryExchange_SendReceiveRoundTrip(t *testing.T) {
	ex := NewInMemoryExchange(4)
	row := types.Row{{Type: types.CellString, Str: "hello"}}

	require.NoError(t, ex.Send(2, row))

	select {
	case got := <-ex.Receive(2):
		assert.Equal(t, row, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for row")
	}
}

func TestInMemoryExchange_PartitionsAreIsolated(t *testing.T) {
	ex := NewInMemoryExchange(4)
	require.NoError(t, ex.Send(0, types.Row{{Type: types.CellInt, Int: 1}}))
	require.NoError(t, ex.Send(1, types.Row{{Type: types.CellInt, Int: 2}}))

	select {
	case got := <-ex.Receive(0):
		assert.Equal(t, int64(1), got[0].Int)
	default:
		t.Fatal("expected partition 0 to have a buffered row")
	}

	select {
	case got := <-ex.Receive(1):
		assert.Equal(t, int64(2), got[0].Int)
	default:
		t.Fatal("expected partition 1 to have a buffered row")
	}
}

func TestInMemoryExchange_ClosePartitionDrainsThenCloses(t *testing.T) {
	ex := NewInMemoryExchange(4)
	require.NoError(t, ex.Send(0, types.Row{{Type: types.CellInt, Int: 1}}))

	ch := ex.Receive(0)
	ex.ClosePartition(0)

	row, ok := <-ch
	assert.True(t, ok)
	assert.Equal(t, int64(1), row[0].Int)

	_, ok = <-ch
	assert.False(t, ok, "channel should be closed after drain")
}

func TestPartition_IsDeterministicAndBounded(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := Partition("some-key", 8)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
	}
	assert.Equal(t, Partition("a", 8), Partition("a", 8))
}
