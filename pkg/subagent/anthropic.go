package subagent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/crewline/foreman/pkg/log"
)

// APIRuntime runs stages directly against the Anthropic Messages API,
// driving a bounded tool-use loop with sandbox-rooted tools. It is the
// runtime of choice when no agent CLI is installed but an API key is.
type APIRuntime struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAPIRuntime creates an API-backed runtime
func NewAPIRuntime(apiKey, model string, maxTokens int) *APIRuntime {
	return &APIRuntime{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: int64(maxTokens),
	}
}

// Run implements AgentRuntime. Each model turn may request tool calls;
// results are fed back until the model stops or the turn budget runs
// out. The final text block is the stage output.
func (r *APIRuntime) Run(ctx context.Context, req Request) (string, error) {
	logger := log.WithComponent("subagent")
	tools := toolParams(req.AllowedTools)

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
	}

	var finalText string
	for turn := 0; turn < req.MaxTurns; turn++ {
		msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(r.model),
			MaxTokens: r.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return finalText, fmt.Errorf("messages request failed: %w", err)
		}

		messages = append(messages, msg.ToParam())

		var toolResults []anthropic.ContentBlockParamUnion
		for _, block := range msg.Content {
			switch v := block.AsAny().(type) {
			case anthropic.TextBlock:
				finalText = v.Text
			case anthropic.ToolUseBlock:
				output, terr := execTool(ctx, req.WorkingDir, v.Name, []byte(v.JSON.Input.Raw()))
				isError := terr != nil
				if terr != nil {
					output = terr.Error()
				}
				logger.Debug().
					Str("tool", v.Name).
					Bool("error", isError).
					Msg("tool call")
				toolResults = append(toolResults, anthropic.NewToolResultBlock(v.ID, output, isError))
			}
		}

		if msg.StopReason != anthropic.StopReasonToolUse || len(toolResults) == 0 {
			return finalText, nil
		}
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	return finalText, fmt.Errorf("turn budget exhausted after %d turns", req.MaxTurns)
}

// toolParams builds the tool definitions offered to the model,
// restricted to the stage's allowed set
func toolParams(allowed []string) []anthropic.ToolUnionParam {
	str := func() map[string]any { return map[string]any{"type": "string"} }

	specs := map[string]anthropic.ToolParam{
		ToolRead: {
			Name:        ToolRead,
			Description: anthropic.String("Read a file. Input: {path}."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"path": str()},
			},
		},
		ToolWrite: {
			Name:        ToolWrite,
			Description: anthropic.String("Create or overwrite a file. Input: {path, content}."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"path": str(), "content": str()},
			},
		},
		ToolEdit: {
			Name:        ToolEdit,
			Description: anthropic.String("Replace the first occurrence of old with new in a file. Input: {path, old, new}."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"path": str(), "old": str(), "new": str()},
			},
		},
		ToolBash: {
			Name:        ToolBash,
			Description: anthropic.String("Run a shell command in the working directory. Input: {command}."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"command": str()},
			},
		},
		ToolGlob: {
			Name:        ToolGlob,
			Description: anthropic.String("List files matching a glob pattern. Input: {pattern}."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"pattern": str()},
			},
		},
		ToolGrep: {
			Name:        ToolGrep,
			Description: anthropic.String("Search files for a regular expression. Input: {pattern, path}."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: map[string]any{"pattern": str(), "path": str()},
			},
		},
	}

	var out []anthropic.ToolUnionParam
	for _, name := range allowed {
		if spec, ok := specs[name]; ok {
			out = append(out, anthropic.ToolUnionParam{OfTool: &spec})
		}
	}
	return out
}
