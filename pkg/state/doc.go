/*
Package state is the durable core of the execution engine: a single
JSON checkpoint document per project holding every task, service and
blocker record plus derived counters.

The checkpoint is the truth; the orchestrator, team leads and blocker
registry are all rebuildable from it. Discipline:

  - Every flush is atomic (temp file, fsync, rename) so a crash leaves
    either the old snapshot or the new one, never a torn file.
  - Task starts are in-memory only; completions, blocker creations and
    blocker resolutions flush before returning.
  - Counters are recomputed from task statuses on every load and
    mutation, never trusted from disk.
  - Unknown fields in the document are ignored on read.

Recover implements restart: interrupted tasks are re-queued, unresolved
blockers are reconciled against ticket comments that arrived during the
outage, and the reconciled state is flushed. Recover is idempotent.

A single JSON document (rather than a log-structured store) is a
deliberate fit for project-scale task counts; the checkpoint API hides
the representation if that ever changes.
*/
package state
