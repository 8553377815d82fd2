/*
Package types defines the shared data model for Foreman's execution engine.

Types here are pure data with no behavior beyond persistence helpers, so
every other package can depend on them without import cycles. The durable
records (TaskRecord, ServiceRecord, BlockerRecord) carry the JSON tags
used by the on-disk checkpoint; the specs (TaskSpec, ServiceSpec) carry
YAML tags for the task manifest the loader consumes.

A task moves through a small status machine:

	pending → in_progress → succeeded | failed
	             │
	             └→ blocked → in_progress   (human answer arrived)

Terminal records are never deleted; they are the audit log of a run.
*/
package types
