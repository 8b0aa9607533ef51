// Package health implements pluggable runtime-readiness checks (HTTP, TCP)
// with hysteresis so a worker isn't flipped unready on one transient
// failure. The Load Balancer uses it to compute external healthy as
// registry-healthy intersected with runtime-ready, for workers that expose
// such a signal; a worker with no configured checker is always considered
// ready.
package health
