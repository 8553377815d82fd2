/*
Package blocker implements the asynchronous wait-point primitive for
human-in-the-loop decisions.

A stage worker that cannot proceed acquires a PendingBlocker and awaits
its one-shot latch; the resolution arrives from a completely unrelated
path: a ticket webhook, recovery-time reconciliation, or a direct
Resolve call. The contract:

  - resolution is idempotent; the first answer wins
  - the answer is stored before the release is observable
  - observation is non-consuming; the latch stays released

The Registry is the process-wide table of active blockers, rebuildable
from the execution-state checkpoint after a restart. When the ticket
system is configured, Create opens an urgent issue whose reply comment
resolves the blocker.
*/
package blocker
