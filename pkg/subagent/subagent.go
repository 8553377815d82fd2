package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/crewline/foreman/pkg/log"
	"github.com/crewline/foreman/pkg/metrics"
	"github.com/crewline/foreman/pkg/types"
)

// BoundaryOutputLimit caps stage output and error text at the
// dispatcher boundary. Persisted records truncate further.
const BoundaryOutputLimit = 10000

// blockerPrefix marks a stage's final output line asking for a human
// decision
const blockerPrefix = "BLOCKER:"

// Tool names a stage may be allowed to use
const (
	ToolRead  = "read"
	ToolWrite = "write"
	ToolEdit  = "edit"
	ToolBash  = "bash"
	ToolGlob  = "glob"
	ToolGrep  = "grep"
)

// WriteTools is the allowed-tool set for write-capable stages
var WriteTools = []string{ToolRead, ToolWrite, ToolEdit, ToolBash, ToolGlob, ToolGrep}

// ReadOnlyTools is the allowed-tool set for the QA stage
var ReadOnlyTools = []string{ToolRead, ToolBash, ToolGlob, ToolGrep}

// Request describes one stage invocation for an agent runtime
type Request struct {
	SystemPrompt string
	Prompt       string
	WorkingDir   string
	AllowedTools []string
	MaxTurns     int
}

// Result is the structured outcome of one stage. Question is non-empty
// when the stage asked for a human decision instead of finishing.
type Result struct {
	Success  bool
	Output   string
	Error    string
	Question string
}

// AgentRuntime launches one sub-agent conversation and returns its
// final output. Implementations must be safe for concurrent use; the
// dispatcher is stateless and shares one runtime across all leads.
type AgentRuntime interface {
	Run(ctx context.Context, req Request) (string, error)
}

// Dispatcher launches single stages of work in a service sandbox.
// Sequencing, retries and concurrency are the Team Lead's job.
type Dispatcher struct {
	runtime  AgentRuntime
	maxTurns int
}

// NewDispatcher creates a dispatcher over the given runtime. A nil
// runtime degrades every stage to a failure result.
func NewDispatcher(runtime AgentRuntime, maxTurns int) *Dispatcher {
	return &Dispatcher{runtime: runtime, maxTurns: maxTurns}
}

// RunCodeWriter launches the implementation stage. It receives the task
// prompt and the project-conventions document, and may modify the
// sandbox freely.
func (d *Dispatcher) RunCodeWriter(ctx context.Context, sandbox, taskPrompt, conventions string) Result {
	system := fmt.Sprintf(
		"You are a CodeWriter agent. Implement the task described below precisely.\n"+
			"Follow the design signatures exactly.\n"+
			"Use shared utilities; never duplicate code.\n"+
			"Run the linter before finishing.\n"+
			"If you cannot proceed without a human decision, end your reply with a single line: BLOCKER: <question>\n\n"+
			"## Project Instructions\n%s\n\n## Working Directory\n%s\n",
		conventions, sandbox,
	)
	return d.run(ctx, types.StageCodeWriter, Request{
		SystemPrompt: system,
		Prompt:       taskPrompt,
		WorkingDir:   sandbox,
		AllowedTools: WriteTools,
		MaxTurns:     d.maxTurns,
	})
}

// RunUnitTester launches the test-writing stage in the same sandbox
func (d *Dispatcher) RunUnitTester(ctx context.Context, sandbox, taskPrompt, conventions string) Result {
	system := fmt.Sprintf(
		"You are a UnitTester agent. Write comprehensive unit tests for the implementation.\n"+
			"Test both happy paths and error cases.\n"+
			"Mock external services; never call real APIs.\n"+
			"Run the full test suite before finishing.\n"+
			"If you cannot proceed without a human decision, end your reply with a single line: BLOCKER: <question>\n\n"+
			"## Project Instructions\n%s\n\n## Working Directory\n%s\n",
		conventions, sandbox,
	)
	return d.run(ctx, types.StageUnitTester, Request{
		SystemPrompt: system,
		Prompt:       taskPrompt,
		WorkingDir:   sandbox,
		AllowedTools: WriteTools,
		MaxTurns:     d.maxTurns,
	})
}

// RunQATester launches the business-level validation stage. It sees
// only the business spec and the test commands, never the technical
// design, and cannot write files.
func (d *Dispatcher) RunQATester(ctx context.Context, sandbox, businessSpec string, testCommands []string) Result {
	system := fmt.Sprintf(
		"You are a QATester agent. Validate the implementation against business specifications.\n"+
			"You do NOT have access to code or technical architecture.\n"+
			"Test from a USER perspective only.\n"+
			"Report results in business language.\n\n"+
			"## Working Directory\n%s\n",
		sandbox,
	)

	var prompt strings.Builder
	prompt.WriteString("## Business Specifications\n")
	prompt.WriteString(businessSpec)
	prompt.WriteString("\n\n## Test Commands\nRun these to validate:\n")
	for _, cmd := range testCommands {
		fmt.Fprintf(&prompt, "- `%s`\n", cmd)
	}

	return d.run(ctx, types.StageQATester, Request{
		SystemPrompt: system,
		Prompt:       prompt.String(),
		WorkingDir:   sandbox,
		AllowedTools: ReadOnlyTools,
		MaxTurns:     d.maxTurns,
	})
}

// run invokes the runtime and normalizes the outcome. Runtime errors
// become failure results; a broken agent must never crash a lead.
func (d *Dispatcher) run(ctx context.Context, stage types.Stage, req Request) Result {
	logger := log.WithComponent("subagent")

	if d.runtime == nil {
		metrics.StageFailures.WithLabelValues(string(stage)).Inc()
		return Result{
			Success: false,
			Error:   "no agent runtime configured",
		}
	}

	timer := metrics.NewTimer()
	output, err := d.runtime.Run(ctx, req)
	timer.ObserveDurationVec(metrics.StageDuration, string(stage))

	if err != nil {
		logger.Error().Err(err).Str("stage", string(stage)).Msg("stage failed")
		metrics.StageFailures.WithLabelValues(string(stage)).Inc()
		return Result{
			Success: false,
			Output:  types.Truncate(output, BoundaryOutputLimit),
			Error:   types.Truncate(err.Error(), BoundaryOutputLimit),
		}
	}

	if question, ok := extractBlocker(output); ok {
		logger.Info().Str("stage", string(stage)).Msg("stage raised a blocker")
		return Result{
			Output:   types.Truncate(output, BoundaryOutputLimit),
			Question: question,
		}
	}

	return Result{
		Success: true,
		Output:  types.Truncate(output, BoundaryOutputLimit),
	}
}

// extractBlocker returns the question when the final non-empty output
// line is a BLOCKER marker
func extractBlocker(output string) (string, bool) {
	lines := strings.Split(strings.TrimRight(output, "\n \t"), "\n")
	if len(lines) == 0 {
		return "", false
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if !strings.HasPrefix(last, blockerPrefix) {
		return "", false
	}
	question := strings.TrimSpace(strings.TrimPrefix(last, blockerPrefix))
	if question == "" {
		return "", false
	}
	return question, true
}
