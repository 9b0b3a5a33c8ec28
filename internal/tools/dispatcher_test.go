package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/throwparty/litterbox/internal/config"
	"github.com/throwparty/litterbox/internal/domain"
	"github.com/throwparty/litterbox/internal/sandbox"
	"github.com/throwparty/litterbox/internal/scm"
)

// fakeContainerFS is an in-memory container filesystem implementing
// sandbox.Compute, interpreting the small shell vocabulary the dispatcher
// actually emits (cat, printf, find, ls, grep, cd) so the handlers can be
// exercised without a Docker daemon.
type fakeContainerFS struct {
	mu    sync.Mutex
	files map[string]string
}

func newFakeContainerFS(files map[string]string) *fakeContainerFS {
	m := make(map[string]string, len(files))
	for k, v := range files {
		m[k] = v
	}
	return &fakeContainerFS{files: m}
}

func (f *fakeContainerFS) EnsureImage(ctx context.Context, ref string) error { return nil }

func (f *fakeContainerFS) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	return "container-1", nil
}

func (f *fakeContainerFS) InspectContainer(ctx context.Context, id string) (domain.ContainerInspection, error) {
	return domain.ContainerInspection{}, nil
}

func (f *fakeContainerFS) Pause(ctx context.Context, id string) error  { return nil }
func (f *fakeContainerFS) Resume(ctx context.Context, id string) error { return nil }
func (f *fakeContainerFS) Delete(ctx context.Context, id string) error { return nil }

func (f *fakeContainerFS) UploadPath(ctx context.Context, id, hostPath, destDir string) error {
	return nil
}

func (f *fakeContainerFS) DownloadPath(ctx context.Context, id, srcPath, hostDest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := strings.TrimRight(srcPath, "/") + "/"
	for p, content := range f.files {
		if p != srcPath && !strings.HasPrefix(p, prefix) {
			continue
		}
		rel := strings.TrimPrefix(p, prefix)
		if rel == "" {
			rel = filepath.Base(p)
		}
		dest := filepath.Join(hostDest, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeContainerFS) Exec(ctx context.Context, id string, argv []string, workdir string) (domain.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(argv) != 3 || argv[0] != "sh" || argv[1] != "-c" {
		return domain.ExecutionResult{ExitCode: 1, Stderr: "unsupported argv"}, nil
	}
	cmd := argv[2]
	tokens := quotedTokens(cmd)

	switch {
	case strings.HasPrefix(cmd, "cat -- "):
		path := tokens[0]
		content, ok := f.files[path]
		if !ok {
			return domain.ExecutionResult{ExitCode: 1, Stderr: "cat: " + path + ": No such file or directory\n"}, nil
		}
		return domain.ExecutionResult{ExitCode: 0, Stdout: content}, nil

	case strings.HasPrefix(cmd, "printf %s "):
		content, path := tokens[0], tokens[1]
		f.files[path] = content
		return domain.ExecutionResult{ExitCode: 0}, nil

	case strings.HasPrefix(cmd, "find "):
		base := tokens[0]
		prefix := strings.TrimRight(base, "/") + "/"
		seen := map[string]bool{}
		var names []string
		for p := range f.files {
			// Like find, print every directory below base as well as files.
			for q := p; strings.HasPrefix(q, prefix); q = filepath.Dir(q) {
				if !seen[q] {
					seen[q] = true
					names = append(names, q)
				}
			}
		}
		sort.Strings(names)
		return domain.ExecutionResult{ExitCode: 0, Stdout: joinLines(names)}, nil

	case strings.HasPrefix(cmd, "ls -1A -- "):
		base := tokens[0]
		prefix := strings.TrimRight(base, "/") + "/"
		seen := map[string]bool{}
		var names []string
		for p := range f.files {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			name := strings.SplitN(strings.TrimPrefix(p, prefix), "/", 2)[0]
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return domain.ExecutionResult{ExitCode: 0, Stdout: joinLines(names)}, nil

	case strings.HasPrefix(cmd, "grep -R -n "):
		var pattern, path string
		if len(tokens) == 3 {
			pattern, path = tokens[1], tokens[2]
		} else {
			pattern, path = tokens[0], tokens[1]
		}
		prefix := strings.TrimRight(path, "/") + "/"
		var matches []string
		for p, content := range f.files {
			if p != path && !strings.HasPrefix(p, prefix) {
				continue
			}
			for i, line := range strings.Split(content, "\n") {
				if strings.Contains(line, pattern) {
					matches = append(matches, fmt.Sprintf("%s:%d:%s", p, i+1, line))
				}
			}
		}
		if len(matches) == 0 {
			return domain.ExecutionResult{ExitCode: 1}, nil
		}
		sort.Strings(matches)
		return domain.ExecutionResult{ExitCode: 0, Stdout: joinLines(matches)}, nil

	case strings.HasPrefix(cmd, "cd "):
		return domain.ExecutionResult{ExitCode: 0, Stdout: "ran\n"}, nil

	default:
		return domain.ExecutionResult{ExitCode: 1, Stderr: "unrecognized command: " + cmd}, nil
	}
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// scanQuoted extracts the leading `'...'` token of s (honoring the
// `'"'"'`-escaped embedded quote), returning it with its quotes intact.
func scanQuoted(s string) (token, rest string, ok bool) {
	if !strings.HasPrefix(s, "'") {
		return "", s, false
	}
	i := 1
	for i < len(s) {
		if s[i] == '\'' {
			if strings.HasPrefix(s[i:], `'"'"'`) {
				i += 5
				continue
			}
			return s[:i+1], s[i+1:], true
		}
		i++
	}
	return "", s, false
}

func dequote(token string) string {
	token = strings.TrimPrefix(token, "'")
	token = strings.TrimSuffix(token, "'")
	return strings.ReplaceAll(token, `'"'"'`, "'")
}

func quotedTokens(cmd string) []string {
	var tokens []string
	rest := cmd
	for {
		idx := strings.IndexByte(rest, '\'')
		if idx < 0 {
			break
		}
		tok, r, ok := scanQuoted(rest[idx:])
		if !ok {
			break
		}
		tokens = append(tokens, dequote(tok))
		rest = r
	}
	return tokens
}

func initToolsRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Litterbox", "GIT_AUTHOR_EMAIL=litterbox@localhost",
			"GIT_COMMITTER_NAME=Litterbox", "GIT_COMMITTER_EMAIL=litterbox@localhost",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", ".")
	run("commit", "-m", "init")

	return dir
}

func newTestDispatcher(t *testing.T, files map[string]string) (*Dispatcher, domain.SandboxMetadata, string, *fakeContainerFS) {
	t.Helper()

	repoDir := initToolsRepo(t)
	engine, err := scm.Open(repoDir)
	require.NoError(t, err)

	compute := newFakeContainerFS(files)
	provider, err := sandbox.New(slog.New(slog.NewTextHandler(io.Discard, nil)), scm.NewLocked(engine), compute, noopPorts{})
	require.NoError(t, err)

	cfg := &config.Config{Docker: config.DockerConfig{Image: "alpine:3", SetupCommand: "true"}}
	d := New(slog.New(slog.NewTextHandler(io.Discard, nil)), provider, cfg)

	meta := domain.SandboxMetadata{Name: "demo", ContainerID: "container-1", Status: domain.StatusActive}
	d.Track(meta)

	return d, meta, repoDir, compute
}

type noopPorts struct{}

func (noopPorts) Allocate(ports []domain.ForwardedPort) ([]domain.ForwardedPortMapping, error) {
	return nil, nil
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func callArgs(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func TestHandleReadReturnsFileContents(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]string{"/src/main.go": "package main\n"})

	result, err := d.handleRead(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"path":    "main.go",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "package main\n", textOf(t, result))
}

func TestHandleReadSlicesByOffsetAndLimit(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]string{"/src/f.txt": "a\nb\nc\nd\n"})

	result, err := d.handleRead(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"path":    "f.txt",
		"offset":  float64(1),
		"limit":   float64(2),
	}))
	require.NoError(t, err)
	assert.Equal(t, "b\nc\n", textOf(t, result))
}

func TestHandleReadMissingFileIsInvalidParams(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, nil)

	result, err := d.handleRead(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"path":    "missing.txt",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "invalid_params: path not found")
}

func TestHandleWriteTriggersSnapshot(t *testing.T) {
	d, _, repoDir, compute := newTestDispatcher(t, nil)

	result, err := d.handleWrite(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"path":    "out.txt",
		"content": "hello world",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello world", compute.files["/src/out.txt"])

	log := snapshotLog(t, repoDir)
	assert.Contains(t, log, "write: out.txt")
}

func TestHandlePatchAppliesDiffAndSnapshots(t *testing.T) {
	d, _, repoDir, compute := newTestDispatcher(t, map[string]string{"/src/f.txt": "a\nb\nc\n"})

	diff := "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"
	result, err := d.handlePatch(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"path":    "f.txt",
		"diff":    diff,
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "a\nB\nc\n", compute.files["/src/f.txt"])

	log := snapshotLog(t, repoDir)
	assert.Contains(t, log, "patch: f.txt")
}

func TestHandleBashReturnsExecutionResultAndSnapshots(t *testing.T) {
	d, _, repoDir, _ := newTestDispatcher(t, nil)

	result, err := d.handleBash(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"command": "echo hi",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), `"exit_code":0`)

	log := snapshotLog(t, repoDir)
	assert.Contains(t, log, "bash: echo hi")
}

func TestHandleLsSortsAndTrimsRecursive(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]string{
		"/src/b.txt":     "",
		"/src/a/a1.txt":  "",
		"/src/a/a2.txt":  "",
	})

	result, err := d.handleLs(context.Background(), callArgs(map[string]any{
		"sandbox":   "demo",
		"path":      ".",
		"recursive": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, `["a","a/a1.txt","a/a2.txt","b.txt"]`, textOf(t, result))
}

func TestHandleGlobMatchesDoubleStarAcrossSegments(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]string{
		"/src/a.txt":     "",
		"/src/x/b.txt":   "",
		"/src/x/y/c.txt": "",
		"/src/x/y/c.go":  "",
	})

	result, err := d.handleGlob(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"pattern": "**/*.txt",
	}))
	require.NoError(t, err)
	assert.Equal(t, `["a.txt","x/b.txt","x/y/c.txt"]`, textOf(t, result))
}

func TestHandleGrepNoMatchesReturnsEmptyList(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]string{"/src/f.txt": "nothing interesting\n"})

	result, err := d.handleGrep(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"pattern": "needle",
		"path":    "f.txt",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, `[]`, textOf(t, result))
}

func TestHandleGrepReturnsMatchingLines(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, map[string]string{"/src/f.txt": "one\nneedle here\nthree\n"})

	result, err := d.handleGrep(context.Background(), callArgs(map[string]any{
		"sandbox": "demo",
		"pattern": "needle",
		"path":    "f.txt",
	}))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, result), "needle here")
}

// snapshotLog runs `git log` on the "demo" sandbox's snapshot ref and
// returns the commit subjects, newest first.
func snapshotLog(t *testing.T, repoDir string) string {
	t.Helper()

	cmd := exec.Command("git", "log", "--format=%s", scm.SnapshotRef("demo"))
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return string(out)
}
