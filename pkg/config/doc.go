// Package config loads coordinator configuration from a YAML file,
// STRATUMDB_-prefixed environment variables, and cobra flags, via viper.
// It loads heartbeat cadence, worker staleness, wave deadline, the default
// load-balancer policy and cluster size bounds, plus the sweep cron
// expression, the gRPC and metrics listen addresses, and log settings.
// The coordinator reads the staleness threshold, sweep cron, wave deadline
// and the two listen addresses. The heartbeat interval, default policy,
// cluster size bounds and log settings are loaded but not applied: the
// scheduler always selects RESOURCE_AWARE, falling back to LEAST_CONNECTIONS.
package config
