// Package registry maintains ground truth of worker cluster membership and
// health. Workers register, heartbeat, drain and deregister; a background
// sweep ages stale entries from HEALTHY to UNHEALTHY.
package registry
