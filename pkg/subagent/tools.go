package subagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// toolOutputLimit caps single tool results fed back to the model
const toolOutputLimit = 30000

// execTool dispatches one tool call inside the sandbox
func execTool(ctx context.Context, sandbox, name string, input []byte) (string, error) {
	switch name {
	case ToolRead:
		return toolRead(sandbox, input)
	case ToolWrite:
		return toolWrite(sandbox, input)
	case ToolEdit:
		return toolEdit(sandbox, input)
	case ToolBash:
		return toolBash(ctx, sandbox, input)
	case ToolGlob:
		return toolGlob(sandbox, input)
	case ToolGrep:
		return toolGrep(sandbox, input)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

// resolvePath anchors a tool path inside the sandbox and rejects
// escapes via .. or absolute paths outside it
func resolvePath(sandbox, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(sandbox, abs)
	}
	abs = filepath.Clean(abs)

	root, err := filepath.Abs(sandbox)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the sandbox", path)
	}
	return abs, nil
}

func clip(s string) string {
	if len(s) > toolOutputLimit {
		return s[:toolOutputLimit] + "\n… (truncated)"
	}
	return s
}

func toolRead(sandbox string, input []byte) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid read input: %w", err)
	}
	path, err := resolvePath(sandbox, in.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return clip(string(data)), nil
}

func toolWrite(sandbox string, input []byte) (string, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid write input: %w", err)
	}
	path, err := resolvePath(sandbox, in.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(in.Content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path), nil
}

func toolEdit(sandbox string, input []byte) (string, error) {
	var in struct {
		Path string `json:"path"`
		Old  string `json:"old"`
		New  string `json:"new"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid edit input: %w", err)
	}
	path, err := resolvePath(sandbox, in.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	if !strings.Contains(content, in.Old) {
		return "", fmt.Errorf("old text not found in %s", in.Path)
	}
	content = strings.Replace(content, in.Old, in.New, 1)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}
	return fmt.Sprintf("edited %s", in.Path), nil
}

func toolBash(ctx context.Context, sandbox string, input []byte) (string, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid bash input: %w", err)
	}
	if strings.TrimSpace(in.Command) == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", in.Command)
	cmd.Dir = sandbox
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := clip(buf.String())
	if err != nil {
		return "", fmt.Errorf("command failed: %v\n%s", err, out)
	}
	return out, nil
}

func toolGlob(sandbox string, input []byte) (string, error) {
	var in struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid glob input: %w", err)
	}
	if in.Pattern == "" {
		return "", fmt.Errorf("pattern must not be empty")
	}

	var matches []string
	err := filepath.WalkDir(sandbox, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sandbox, path)
		if err != nil {
			return nil
		}
		if ok, _ := filepath.Match(in.Pattern, rel); ok {
			matches = append(matches, rel)
		} else if ok, _ := filepath.Match(in.Pattern, filepath.Base(rel)); ok {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return clip(strings.Join(matches, "\n")), nil
}

func toolGrep(sandbox string, input []byte) (string, error) {
	var in struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("invalid grep input: %w", err)
	}
	re, err := regexp.Compile(in.Pattern)
	if err != nil {
		return "", fmt.Errorf("invalid pattern: %w", err)
	}

	root := sandbox
	if in.Path != "" {
		root, err = resolvePath(sandbox, in.Path)
		if err != nil {
			return "", err
		}
	}

	var out strings.Builder
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(sandbox, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				fmt.Fprintf(&out, "%s:%d:%s\n", rel, i+1, line)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if out.Len() == 0 {
		return "no matches", nil
	}
	return clip(out.String()), nil
}
