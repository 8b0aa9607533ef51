package exchange

import (
	"sync"

	"github.com/cuemby/stratumdb/pkg/types"
)

// InMemoryExchange is the default Exchange: one buffered channel per
// partition, used for EXCHANGE stages running within a single coordinator
// process (and in tests).
type InMemoryExchange struct {
	mu         sync.Mutex
	partitions map[int]chan types.Row
	bufferSize int
}

// NewInMemoryExchange creates an exchange whose per-partition channels hold
// up to bufferSize rows before Send blocks.
func NewInMemoryExchange(bufferSize int) *InMemoryExchange {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	return &InMemoryExchange{
		partitions: make(map[int]chan types.Row),
		bufferSize: bufferSize,
	}
}

func (e *InMemoryExchange) channel(partition int) chan types.Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.partitions[partition]
	if !ok {
		ch = make(chan types.Row, e.bufferSize)
		e.partitions[partition] = ch
	}
	return ch
}

// Send enqueues row onto partition, blocking if the buffer is full.
func (e *InMemoryExchange) Send(partition int, row types.Row) error {
	e.channel(partition) <- row
	return nil
}

// Receive returns the read side of partition's channel.
func (e *InMemoryExchange) Receive(partition int) <-chan types.Row {
	return e.channel(partition)
}

// ClosePartition closes partition's channel; further Receive reads drain
// any buffered rows then see a closed channel.
func (e *InMemoryExchange) ClosePartition(partition int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.partitions[partition]; ok {
		close(ch)
		delete(e.partitions, partition)
	}
}

// Close closes every outstanding partition.
func (e *InMemoryExchange) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for p, ch := range e.partitions {
		close(ch)
		delete(e.partitions, p)
	}
	return nil
}
