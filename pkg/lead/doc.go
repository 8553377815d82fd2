/*
Package lead runs one service's task list serially.

A TeamLead drives each task through the three-stage pipeline
(CodeWriter → UnitTester → QATester), retries a failed task up to its
retry budget, suspends on blockers until a human answers, and
checkpoints every start and terminal outcome through the execution
state. The pause gate is a manual-reset latch checked between tasks;
Cancel exits the loop at the next wake-up without killing a running
stage.

Stage failures never escalate past the task, and task failures never
stop the service; the next task still runs. The only error Run returns
is a failed checkpoint flush, which is fatal to the whole engine.
*/
package lead
