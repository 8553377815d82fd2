package subagent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/crewline/foreman/pkg/log"
)

// DefaultCLIBinary is the agent binary looked up on PATH when no
// explicit path is configured
const DefaultCLIBinary = "claude"

// CLIRuntime runs stages by launching a local agent CLI in the sandbox
// directory. An absent binary degrades to an error the dispatcher turns
// into a failure result, so the engine keeps running end to end.
type CLIRuntime struct {
	binary string
}

// NewCLIRuntime creates a CLI-backed runtime. binary may be empty to
// use the default.
func NewCLIRuntime(binary string) *CLIRuntime {
	if binary == "" {
		binary = DefaultCLIBinary
	}
	return &CLIRuntime{binary: binary}
}

// Available reports whether the agent binary can be found
func (r *CLIRuntime) Available() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}

// Run implements AgentRuntime
func (r *CLIRuntime) Run(ctx context.Context, req Request) (string, error) {
	path, err := exec.LookPath(r.binary)
	if err != nil {
		return "", fmt.Errorf("agent runtime not installed: %s not found on PATH", r.binary)
	}

	args := []string{
		"-p", req.Prompt,
		"--output-format", "text",
		"--max-turns", strconv.Itoa(req.MaxTurns),
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = req.WorkingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := log.WithComponent("subagent")
	logger.Debug().
		Str("binary", r.binary).
		Str("dir", req.WorkingDir).
		Msg("launching agent CLI")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return stdout.String(), ctx.Err()
		}
		return stdout.String(), fmt.Errorf("agent exited with error: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
