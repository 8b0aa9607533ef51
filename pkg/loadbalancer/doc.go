// Package loadbalancer selects workers for stage dispatch according to a
// pluggable policy (round robin, least connections, least loaded,
// resource aware, weighted round robin) and tracks each worker's
// outstanding load so later selections reflect what is already in flight.
package loadbalancer
