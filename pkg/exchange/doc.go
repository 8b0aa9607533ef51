// Package exchange implements a hash-partitioned row exchange abstraction
// for EXCHANGE stages: an in-memory channel-per-partition implementation
// for single-process use, and a Kafka-backed implementation for stages
// that cross process boundaries. Neither does query planning; partitioning
// strategy remains the external planner's job.
package exchange
