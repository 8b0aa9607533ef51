// Package aggregator merges per-stage partition results into a single
// QueryResult and applies the query's final aggregation (NONE, COUNT, SUM,
// or GROUP_BY). Row data is read through a Fetcher, so the aggregator
// itself never touches storage directly.
package aggregator
