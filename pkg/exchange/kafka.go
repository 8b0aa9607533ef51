package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cuemby/stratumdb/pkg/log"
	"github.com/cuemby/stratumdb/pkg/types"
)

// KafkaExchange implements Exchange over a single Kafka topic, one
// coordinator-assigned topic per query, using the partition number as the
// Kafka message key so rows hash-partition via Kafka's own balancer. It is
// used when EXCHANGE stages run across process boundaries (a standalone
// worker process rather than an in-process simulation).
type KafkaExchange struct {
	topic  string
	writer *kafka.Writer
	brokers []string

	mu       sync.Mutex
	readers  map[int]*kafka.Reader
	chans    map[int]chan types.Row
	cancel   context.CancelFunc
	ctx      context.Context
}

// NewKafkaExchange creates an exchange backed by topic on brokers.
func NewKafkaExchange(brokers []string, topic string) *KafkaExchange {
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaExchange{
		topic:   topic,
		brokers: brokers,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
		readers: make(map[int]*kafka.Reader),
		chans:   make(map[int]chan types.Row),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Send publishes row keyed by partition so Kafka's balancer routes every
// row for a given partition to the same Kafka partition.
func (e *KafkaExchange) Send(partition int, row types.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	return e.writer.WriteMessages(e.ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(partition)),
		Value: data,
	})
}

func (e *KafkaExchange) ensureReader(partition int) chan types.Row {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.chans[partition]; ok {
		return ch
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     e.brokers,
		Topic:       e.topic,
		GroupID:     fmt.Sprintf("stratumdb-exchange-%s-%d", e.topic, partition),
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	ch := make(chan types.Row, 128)
	e.readers[partition] = reader
	e.chans[partition] = ch

	go e.consume(reader, ch, partition)
	return ch
}

// consume reads every message on the topic and forwards only those keyed
// for partition, since all partitions currently share one physical topic.
func (e *KafkaExchange) consume(reader *kafka.Reader, ch chan types.Row, partition int) {
	key := strconv.Itoa(partition)
	for {
		msg, err := reader.ReadMessage(e.ctx)
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			log.Logger.Warn().Err(err).Str("topic", e.topic).Msg("kafka exchange read failed")
			time.Sleep(time.Second)
			continue
		}
		if string(msg.Key) != key {
			continue
		}

		var row types.Row
		if err := json.Unmarshal(msg.Value, &row); err != nil {
			log.Logger.Warn().Err(err).Msg("kafka exchange: malformed row")
			continue
		}
		select {
		case ch <- row:
		case <-e.ctx.Done():
			return
		}
	}
}

// Receive starts (on first call) a consumer goroutine for partition and
// returns its output channel.
func (e *KafkaExchange) Receive(partition int) <-chan types.Row {
	return e.ensureReader(partition)
}

// ClosePartition stops and removes the consumer for partition.
func (e *KafkaExchange) ClosePartition(partition int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.readers[partition]; ok {
		r.Close()
		delete(e.readers, partition)
	}
	if ch, ok := e.chans[partition]; ok {
		close(ch)
		delete(e.chans, partition)
	}
}

// Close tears down the writer and every active consumer.
func (e *KafkaExchange) Close() error {
	e.cancel()
	e.mu.Lock()
	defer e.mu.Unlock()
	for p, r := range e.readers {
		r.Close()
		delete(e.readers, p)
	}
	for p, ch := range e.chans {
		close(ch)
		delete(e.chans, p)
	}
	log.Logger.Debug().Str("topic", e.topic).Msg("kafka exchange closed")
	return e.writer.Close()
}
