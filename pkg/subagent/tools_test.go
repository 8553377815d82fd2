package subagent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	sandbox := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "relative path", path: "src/main.go"},
		{name: "sandbox root via dot", path: "."},
		{name: "absolute inside sandbox", path: filepath.Join(sandbox, "file.txt")},
		{name: "parent escape", path: "../outside.txt", wantErr: true},
		{name: "nested parent escape", path: "src/../../outside.txt", wantErr: true},
		{name: "absolute outside sandbox", path: "/etc/passwd", wantErr: true},
		{name: "empty path", path: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := resolvePath(sandbox, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(resolved, sandbox))
		})
	}
}

func TestToolWriteAndRead(t *testing.T) {
	sandbox := t.TempDir()

	out, err := toolWrite(sandbox, []byte(`{"path":"src/main.go","content":"package main"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "src/main.go")

	out, err = toolRead(sandbox, []byte(`{"path":"src/main.go"}`))
	require.NoError(t, err)
	assert.Equal(t, "package main", out)
}

func TestToolReadMissingFile(t *testing.T) {
	_, err := toolRead(t.TempDir(), []byte(`{"path":"nope.txt"}`))
	assert.Error(t, err)
}

func TestToolEdit(t *testing.T) {
	sandbox := t.TempDir()
	path := filepath.Join(sandbox, "config.go")
	require.NoError(t, os.WriteFile(path, []byte("port := 8080\nport := 8080"), 0644))

	_, err := toolEdit(sandbox, []byte(`{"path":"config.go","old":"8080","new":"9090"}`))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// Only the first occurrence is replaced
	assert.Equal(t, "port := 9090\nport := 8080", string(data))
}

func TestToolEditOldTextMissing(t *testing.T) {
	sandbox := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "a.txt"), []byte("hello"), 0644))

	_, err := toolEdit(sandbox, []byte(`{"path":"a.txt","old":"absent","new":"x"}`))
	assert.Error(t, err)
}

func TestToolBash(t *testing.T) {
	sandbox := t.TempDir()

	out, err := toolBash(context.Background(), sandbox, []byte(`{"command":"echo hello && pwd"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, sandbox)
}

func TestToolBashFailureIncludesOutput(t *testing.T) {
	_, err := toolBash(context.Background(), t.TempDir(), []byte(`{"command":"echo oops >&2; exit 3"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
}

func TestToolBashEmptyCommand(t *testing.T) {
	_, err := toolBash(context.Background(), t.TempDir(), []byte(`{"command":"  "}`))
	assert.Error(t, err)
}

func TestToolGlob(t *testing.T) {
	sandbox := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sandbox, "pkg"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "main.go"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "pkg", "util.go"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "README.md"), nil, 0644))

	out, err := toolGlob(sandbox, []byte(`{"pattern":"*.go"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "main.go")
	// Base-name matching finds nested files too
	assert.Contains(t, out, filepath.Join("pkg", "util.go"))
	assert.NotContains(t, out, "README.md")
}

func TestToolGlobNoMatches(t *testing.T) {
	out, err := toolGlob(t.TempDir(), []byte(`{"pattern":"*.rs"}`))
	require.NoError(t, err)
	assert.Equal(t, "no matches", out)
}

func TestToolGrep(t *testing.T) {
	sandbox := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "a.go"),
		[]byte("package a\nfunc Login() {}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "b.go"),
		[]byte("package b\n"), 0644))

	out, err := toolGrep(sandbox, []byte(`{"pattern":"func Login"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "a.go:2:func Login() {}")
	assert.NotContains(t, out, "b.go")
}

func TestToolGrepInvalidPattern(t *testing.T) {
	_, err := toolGrep(t.TempDir(), []byte(`{"pattern":"["}`))
	assert.Error(t, err)
}

func TestExecToolUnknown(t *testing.T) {
	_, err := execTool(context.Background(), t.TempDir(), "teleport", []byte(`{}`))
	assert.Error(t, err)
}

func TestExecToolRespectsSandbox(t *testing.T) {
	_, err := execTool(context.Background(), t.TempDir(), ToolRead, []byte(`{"path":"../../etc/passwd"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes the sandbox")
}
