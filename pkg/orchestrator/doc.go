/*
Package orchestrator supervises the Team Leads of one project.

Each lead runs in its own goroutine behind a weighted admission
semaphore, so at most MaxConcurrentLeads execute at a time while the
rest wait their turn. A panicking lead is contained and the other
services keep running; a failed checkpoint flush is the one fatal
condition and triggers a full shutdown.

The orchestrator is also the observer boundary: it implements
lead.Events and translates task lifecycle callbacks into per-task and
batch protocol messages on the status bus. RemainingWork filters a task
manifest down to what a recovered execution state still owes.
*/
package orchestrator
