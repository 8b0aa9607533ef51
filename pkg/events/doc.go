// Package events provides an in-memory pub/sub broker for query lifecycle
// notifications.
//
// The Scheduler publishes query.started, query.completed, query.failed,
// query.cancelled, stage.dispatched and stage.completed events as it drives
// a query to completion; the Registry publishes worker.registered,
// worker.drained and worker.unhealthy as cluster membership changes.
// Subscribers (a status API, a metrics exporter, an audit log) each get
// their own buffered channel; publish never blocks on a slow subscriber,
// and a full subscriber buffer simply drops the event rather than stalling
// the broker.
package events
