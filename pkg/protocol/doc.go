/*
Package protocol defines the JSON message shapes pushed to status
observers.

Three shapes flow out of the engine: worker_status (per-task progress),
worker_batch (aggregate counters) and blocker_notification (a human
decision is needed or has arrived). Framing and transport are the
subscriber's concern; the engine only guarantees that a batch update
follows every counter change.
*/
package protocol
