package exchange

import "github.com/cuemby/stratumdb/pkg/types"

// Exchange is the hash-partitioned shuffle abstraction EXCHANGE stages use
// to move rows between stage partitions. It does no planning: the caller
// decides which partition a row belongs to.
type Exchange interface {
	Send(partition int, row types.Row) error
	Receive(partition int) <-chan types.Row
	// ClosePartition signals that no more rows will be sent to partition,
	// closing its Receive channel once drained.
	ClosePartition(partition int)
	Close() error
}

// Partition hashes a key to one of n partitions. Callers route rows to
// Partition(key, n) before calling Send.
func Partition(key string, n int) int {
	if n <= 0 {
		return 0
	}
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return int(h % uint32(n))
}
