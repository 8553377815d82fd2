/*
Package metrics exposes Prometheus metrics for the execution engine.

All collectors are registered at init and served through Handler on the
control plane's /metrics endpoint. The engine records task outcomes,
stage durations and failures, open blockers, checkpoint flush latency
and lead concurrency.

Timing a section:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckpointDuration)
*/
package metrics
