package tools

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/throwparty/litterbox/internal/domain"
)

// runShell execs argv in the sandbox and classifies a non-zero exit into a
// *ShellFailure, the shared tail of every shell-backed tool handler.
func (d *Dispatcher) runShell(ctx context.Context, meta domain.SandboxMetadata, argv []string, isGrep bool) (domain.ExecutionResult, error) {
	result, err := d.Provider.Shell(ctx, meta, argv)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.ExecutionResult{}, fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, meta.Name)
		}
		return domain.ExecutionResult{}, err
	}
	if result.ExitCode != 0 {
		return result, classify(result.ExitCode, result.Stderr, result.Stdout, isGrep)
	}
	return result, nil
}

func (d *Dispatcher) handleRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sandboxName, _ := argString(args, "sandbox")
	p, _ := argString(args, "path")
	offset, hasOffset := argInt(args, "offset")
	limit, hasLimit := argInt(args, "limit")

	meta, err := d.resolve(sandboxName)
	if err != nil {
		return userOrInternal(err)
	}

	resolved := resolvePath(p)
	result, err := d.runShell(ctx, meta, []string{"sh", "-c", "cat -- " + shQuote(resolved)}, false)
	if err != nil {
		return userOrInternal(err)
	}

	lines := splitKeepTrailing(result.Stdout)
	if !hasOffset {
		offset = 0
	}
	if offset < 0 || offset > len(lines) {
		offset = len(lines)
	}
	end := len(lines)
	if hasLimit {
		end = offset + limit
		if end > len(lines) {
			end = len(lines)
		}
		if end < offset {
			end = offset
		}
	}

	return mcp.NewToolResultText(strings.Join(lines[offset:end], "")), nil
}

func (d *Dispatcher) handleWrite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sandboxName, _ := argString(args, "sandbox")
	p, _ := argString(args, "path")
	content, _ := argString(args, "content")

	meta, err := d.resolve(sandboxName)
	if err != nil {
		return userOrInternal(err)
	}

	if err := d.writeFile(ctx, meta, p, content); err != nil {
		return userOrInternal(err)
	}

	if snapErr := d.Provider.Snapshot(ctx, meta, "write: "+p); snapErr != nil {
		d.Log.Warn("snapshot after write failed", "sandbox", sandboxName, "path", p, "err", snapErr)
	}

	return mcp.NewToolResultText("ok"), nil
}

func (d *Dispatcher) writeFile(ctx context.Context, meta domain.SandboxMetadata, p, content string) error {
	resolved := resolvePath(p)
	argv := []string{"sh", "-c", "printf %s " + shQuote(content) + " > " + shQuote(resolved)}
	_, err := d.runShell(ctx, meta, argv, false)
	return err
}

func (d *Dispatcher) handlePatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sandboxName, _ := argString(args, "sandbox")
	p, _ := argString(args, "path")
	diff, _ := argString(args, "diff")

	meta, err := d.resolve(sandboxName)
	if err != nil {
		return userOrInternal(err)
	}

	resolved := resolvePath(p)
	readResult, err := d.runShell(ctx, meta, []string{"sh", "-c", "cat -- " + shQuote(resolved)}, false)
	if err != nil {
		return userOrInternal(err)
	}

	patched, err := applyUnifiedDiff(readResult.Stdout, diff)
	if err != nil {
		return userOrInternal(err)
	}

	if err := d.writeFile(ctx, meta, p, patched); err != nil {
		return userOrInternal(err)
	}

	if snapErr := d.Provider.Snapshot(ctx, meta, "patch: "+p); snapErr != nil {
		d.Log.Warn("snapshot after patch failed", "sandbox", sandboxName, "path", p, "err", snapErr)
	}

	return mcp.NewToolResultText("ok"), nil
}

func (d *Dispatcher) handleLs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sandboxName, _ := argString(args, "sandbox")
	p, _ := argString(args, "path")
	recursive := argBool(args, "recursive")

	meta, err := d.resolve(sandboxName)
	if err != nil {
		return userOrInternal(err)
	}

	resolved := resolvePath(p)

	var argv []string
	if recursive {
		argv = []string{"sh", "-c", "find " + shQuote(resolved) + " -mindepth 1 -print"}
	} else {
		argv = []string{"sh", "-c", "ls -1A -- " + shQuote(resolved)}
	}

	result, err := d.runShell(ctx, meta, argv, false)
	if err != nil {
		return userOrInternal(err)
	}

	entries := nonEmptyLines(result.Stdout)
	if recursive {
		prefix := strings.TrimRight(resolved, "/") + "/"
		for i, e := range entries {
			entries[i] = strings.TrimPrefix(e, prefix)
		}
	}
	sort.Strings(entries)

	return jsonResult(entries)
}

func (d *Dispatcher) handleGlob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sandboxName, _ := argString(args, "sandbox")
	pattern, _ := argString(args, "pattern")
	base, hasBase := argString(args, "path")
	if !hasBase || base == "" {
		base = "/src"
	}

	meta, err := d.resolve(sandboxName)
	if err != nil {
		return userOrInternal(err)
	}

	resolvedBase := resolvePath(base)
	result, err := d.runShell(ctx, meta, []string{"sh", "-c", "find " + shQuote(resolvedBase) + " -mindepth 1 -print"}, false)
	if err != nil {
		return userOrInternal(err)
	}

	prefix := strings.TrimRight(resolvedBase, "/") + "/"
	var matches []string
	for _, e := range nonEmptyLines(result.Stdout) {
		rel := strings.TrimPrefix(e, prefix)
		if globMatch(pattern, rel) {
			matches = append(matches, rel)
		}
	}
	sort.Strings(matches)

	return jsonResult(matches)
}

func (d *Dispatcher) handleGrep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sandboxName, _ := argString(args, "sandbox")
	pattern, _ := argString(args, "pattern")
	p, _ := argString(args, "path")
	include, hasInclude := argString(args, "include")

	meta, err := d.resolve(sandboxName)
	if err != nil {
		return userOrInternal(err)
	}

	resolved := resolvePath(p)
	cmd := "grep -R -n "
	if hasInclude && include != "" {
		cmd += "--include=" + shQuote(include) + " "
	}
	cmd += "-- " + shQuote(pattern) + " " + shQuote(resolved)

	result, err := d.Provider.Shell(ctx, meta, []string{"sh", "-c", cmd})
	if err != nil {
		if domain.IsNotFound(err) {
			return userOrInternal(fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, sandboxName))
		}
		return userOrInternal(err)
	}

	switch {
	case result.ExitCode == 0:
		return jsonResult(nonEmptyLines(result.Stdout))
	case result.ExitCode == 1 && strings.TrimSpace(result.Stderr) == "":
		return jsonResult([]string{})
	default:
		return userOrInternal(classify(result.ExitCode, result.Stderr, result.Stdout, true))
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// globMatch reports whether rel matches pattern using a glob dialect where
// `*` matches within a single path segment, `**` matches zero or more
// whole segments, and matching is case-sensitive.
func globMatch(pattern, rel string) bool {
	return globMatchSegs(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func globMatchSegs(patternSegs, pathSegs []string) bool {
	if len(patternSegs) == 0 {
		return len(pathSegs) == 0
	}

	seg := patternSegs[0]
	if seg == "**" {
		if globMatchSegs(patternSegs[1:], pathSegs) {
			return true
		}
		if len(pathSegs) == 0 {
			return false
		}
		return globMatchSegs(patternSegs, pathSegs[1:])
	}

	if len(pathSegs) == 0 {
		return false
	}
	matched, err := path.Match(seg, pathSegs[0])
	if err != nil || !matched {
		return false
	}
	return globMatchSegs(patternSegs[1:], pathSegs[1:])
}
