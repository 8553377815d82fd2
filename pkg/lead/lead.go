package lead

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/crewline/foreman/pkg/blocker"
	"github.com/crewline/foreman/pkg/log"
	"github.com/crewline/foreman/pkg/metrics"
	"github.com/crewline/foreman/pkg/state"
	"github.com/crewline/foreman/pkg/subagent"
	"github.com/crewline/foreman/pkg/types"
)

// ErrCheckpoint marks a failed checkpoint flush. The engine cannot
// proceed without durability, so the orchestrator shuts down on it.
var ErrCheckpoint = errors.New("checkpoint write failed")

// Events receives task lifecycle notifications so the supervisor can
// publish status updates and keep its batch counters honest. All
// methods are called from the lead's own goroutine.
type Events interface {
	TaskStarted(service string, task types.TaskSpec)
	TaskRetrying(service string, task types.TaskSpec, attempt int)
	TaskFinished(service string, result types.TaskResult)
	TaskBlocked(service string)
	TaskUnblocked(service string)
}

// Config assembles a Team Lead
type Config struct {
	ProjectID    string
	ServiceName  string
	Sandbox      string
	Conventions  string
	BusinessSpec string
	Tasks        []types.TaskSpec

	// RetryCount is extra full-pipeline attempts after a failure
	RetryCount int

	Dispatcher *subagent.Dispatcher
	Blockers   *blocker.Registry      // optional
	State      *state.ExecutionState  // optional
	Events     Events                 // optional
}

// TeamLead executes one service's tasks serially, driving each through
// the three-stage pipeline and checkpointing every outcome. One lead
// owns its sandbox directory; no two leads share one.
type TeamLead struct {
	cfg    Config
	logger zerolog.Logger

	gate     *gate
	cancelCh chan struct{}
	cancel   sync.Once

	mu          sync.Mutex
	completed   []types.TaskResult
	currentTask string
	paused      bool
	cancelled   bool
}

// New creates a Team Lead for a single service
func New(cfg Config) *TeamLead {
	return &TeamLead{
		cfg:      cfg,
		logger:   log.WithService(cfg.ServiceName),
		gate:     newGate(),
		cancelCh: make(chan struct{}),
	}
}

// ServiceName returns the owned service's name
func (l *TeamLead) ServiceName() string { return l.cfg.ServiceName }

// TaskCount returns the number of tasks this lead will run
func (l *TeamLead) TaskCount() int { return len(l.cfg.Tasks) }

// Tasks returns the lead's task list in execution order
func (l *TeamLead) Tasks() []types.TaskSpec { return l.cfg.Tasks }

// CurrentTask returns the title of the task in flight, empty when idle
func (l *TeamLead) CurrentTask() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTask
}

// CompletedCount returns the number of finished tasks
func (l *TeamLead) CompletedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.completed)
}

// IsPaused reports whether the pause gate is closed
func (l *TeamLead) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// IsCancelled reports whether the lead was cancelled
func (l *TeamLead) IsCancelled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}

// Pause closes the gate; the loop blocks before the next task
func (l *TeamLead) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
	l.gate.Close()
	l.logger.Info().Msg("team lead paused")
}

// Resume reopens the gate. Resume without a pause is a no-op.
func (l *TeamLead) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.gate.Open()
	l.logger.Info().Msg("team lead resumed")
}

// Cancel stops the loop at the next wake-up. A running stage is not
// killed (it is an opaque external call); an interrupted task is
// rediscovered as in-progress on the next startup.
func (l *TeamLead) Cancel() {
	l.mu.Lock()
	l.cancelled = true
	l.mu.Unlock()
	l.cancel.Do(func() { close(l.cancelCh) })
	l.gate.Open() // unblock if paused
}

// Run processes all tasks in order and returns one result per task
// attempted. The only error it returns is a checkpoint failure.
func (l *TeamLead) Run(ctx context.Context) ([]types.TaskResult, error) {
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		select {
		case <-l.cancelCh:
			cancelRun()
		case <-runCtx.Done():
		}
	}()

	var results []types.TaskResult

	for _, task := range l.cfg.Tasks {
		if l.IsCancelled() {
			break
		}

		// Blocks while paused; Cancel reopens the gate
		if err := l.gate.Wait(runCtx); err != nil {
			break
		}
		if l.IsCancelled() {
			break
		}

		l.mu.Lock()
		l.currentTask = task.Title
		l.mu.Unlock()

		l.logger.Info().
			Str("task_id", task.ID).
			Str("title", task.Title).
			Msg("starting task")

		if l.cfg.State != nil {
			l.cfg.State.CheckpointTaskStarted(task.ID)
		}
		if l.cfg.Events != nil {
			l.cfg.Events.TaskStarted(l.cfg.ServiceName, task)
		}

		result := l.executeTask(runCtx, task)
		results = append(results, result)
		l.mu.Lock()
		l.completed = append(l.completed, result)
		l.mu.Unlock()

		if !result.Success {
			for attempt := 1; attempt <= l.cfg.RetryCount; attempt++ {
				if l.IsCancelled() {
					break
				}
				l.logger.Info().
					Str("task_id", task.ID).
					Int("attempt", attempt).
					Int("retries", l.cfg.RetryCount).
					Msg("retrying task")
				metrics.TaskRetries.Inc()

				if l.cfg.State != nil {
					l.cfg.State.CheckpointTaskStarted(task.ID)
				}
				if l.cfg.Events != nil {
					l.cfg.Events.TaskRetrying(l.cfg.ServiceName, task, attempt)
				}
				result = l.executeTask(runCtx, task)
				if result.Success {
					// Replace the failed result
					results[len(results)-1] = result
					l.mu.Lock()
					l.completed[len(l.completed)-1] = result
					l.mu.Unlock()
					break
				}
			}
		}

		if result.Success {
			metrics.TasksSucceeded.Inc()
		} else {
			metrics.TasksFailed.Inc()
		}

		// The outcome is durable before observers are notified
		if l.cfg.State != nil {
			err := l.cfg.State.CheckpointTaskCompleted(
				task.ID, result.Success, result.PRURL, result.Error, result.StageRecords(),
			)
			if err != nil {
				l.mu.Lock()
				l.currentTask = ""
				l.mu.Unlock()
				return results, fmt.Errorf("%w: %v", ErrCheckpoint, err)
			}
		}
		if l.cfg.Events != nil {
			l.cfg.Events.TaskFinished(l.cfg.ServiceName, result)
		}
	}

	l.mu.Lock()
	l.currentTask = ""
	l.mu.Unlock()
	return results, nil
}

// executeTask drives the full pipeline for one task: code → test → QA.
// Stages never run in parallel, and a retry reuses the same sandbox so
// later attempts build on prior progress.
func (l *TeamLead) executeTask(ctx context.Context, task types.TaskSpec) types.TaskResult {
	basePrompt := fmt.Sprintf("## Task: %s\n\n%s", task.Title, task.Description)

	// 1. CodeWriter
	codeRes := l.runStage(ctx, task, func(decision string) subagent.Result {
		return l.cfg.Dispatcher.RunCodeWriter(ctx, l.cfg.Sandbox, withDecision(basePrompt, decision), l.cfg.Conventions)
	})
	code := toStageResult(codeRes)
	if !codeRes.Success {
		return types.TaskResult{
			TaskID:     task.ID,
			TaskTitle:  task.Title,
			CodeWriter: code,
			Error:      fmt.Sprintf("CodeWriter failed: %s", codeRes.Error),
		}
	}

	// 2. UnitTester
	testPrompt := fmt.Sprintf(
		"## Task: %s\n\nWrite unit tests for the implementation.\n\n%s",
		task.Title, task.Description,
	)
	testRes := l.runStage(ctx, task, func(decision string) subagent.Result {
		return l.cfg.Dispatcher.RunUnitTester(ctx, l.cfg.Sandbox, withDecision(testPrompt, decision), l.cfg.Conventions)
	})
	test := toStageResult(testRes)
	if !testRes.Success {
		return types.TaskResult{
			TaskID:     task.ID,
			TaskTitle:  task.Title,
			CodeWriter: code,
			UnitTester: test,
			Error:      fmt.Sprintf("UnitTester failed: %s", testRes.Error),
		}
	}

	// 3. QATester, the only stage that sees the business spec
	testCommands := task.TestCommands
	if len(testCommands) == 0 {
		testCommands = []string{"go test ./..."}
	}
	qaRes := l.runStage(ctx, task, func(decision string) subagent.Result {
		return l.cfg.Dispatcher.RunQATester(ctx, l.cfg.Sandbox, withDecision(l.cfg.BusinessSpec, decision), testCommands)
	})
	qa := toStageResult(qaRes)

	errText := ""
	if !qaRes.Success {
		errText = fmt.Sprintf("QATester failed: %s", qaRes.Error)
	}
	return types.TaskResult{
		TaskID:     task.ID,
		TaskTitle:  task.Title,
		Success:    qaRes.Success,
		CodeWriter: code,
		UnitTester: test,
		QATester:   qa,
		Error:      errText,
	}
}

// runStage runs one stage, suspending on a blocker whenever the stage
// asks for a human decision and re-running it with the answer folded
// into the prompt. Blocker waits are unbounded.
func (l *TeamLead) runStage(ctx context.Context, task types.TaskSpec, run func(decision string) subagent.Result) subagent.Result {
	decision := ""
	for {
		res := run(decision)
		if res.Question == "" {
			return res
		}
		if l.cfg.Blockers == nil {
			return subagent.Result{
				Success: false,
				Output:  res.Output,
				Error:   fmt.Sprintf("blocker raised with no registry configured: %s", res.Question),
			}
		}

		if l.cfg.State != nil {
			l.cfg.State.SetTaskBlocked(task.ID, true)
		}
		if l.cfg.Events != nil {
			l.cfg.Events.TaskBlocked(l.cfg.ServiceName)
		}

		b, err := l.cfg.Blockers.Create(ctx, l.cfg.ProjectID, l.cfg.ServiceName, res.Question, l.cfg.State)
		if err != nil {
			l.unblock(task)
			return subagent.Result{Success: false, Error: fmt.Sprintf("failed to create blocker: %v", err)}
		}

		l.logger.Info().
			Str("task_id", task.ID).
			Str("blocker_id", b.BlockerID).
			Msg("task blocked on human decision")

		answer, err := b.Wait(ctx)
		l.cfg.Blockers.Cleanup(b.BlockerID)
		l.unblock(task)
		if err != nil {
			return subagent.Result{Success: false, Error: "cancelled while waiting on blocker"}
		}

		l.logger.Info().
			Str("task_id", task.ID).
			Str("blocker_id", b.BlockerID).
			Msg("blocker answered, resuming stage")
		decision = fmt.Sprintf("Q: %s\nA: %s", res.Question, answer)
	}
}

func (l *TeamLead) unblock(task types.TaskSpec) {
	if l.cfg.State != nil {
		l.cfg.State.SetTaskBlocked(task.ID, false)
	}
	if l.cfg.Events != nil {
		l.cfg.Events.TaskUnblocked(l.cfg.ServiceName)
	}
}

// withDecision appends a resolved human decision to a stage prompt
func withDecision(prompt, decision string) string {
	if decision == "" {
		return prompt
	}
	return prompt + "\n\n## Human Decision\n" + decision
}

func toStageResult(r subagent.Result) *types.StageResult {
	return &types.StageResult{Success: r.Success, Output: r.Output, Error: r.Error}
}
