package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/throwparty/litterbox/internal/domain"
)

func (d *Dispatcher) handleBash(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sandboxName, _ := argString(args, "sandbox")
	command, _ := argString(args, "command")
	workdir, hasWorkdir := argString(args, "workdir")
	if !hasWorkdir || workdir == "" {
		workdir = "/src"
	}
	timeout, _ := argInt(args, "timeout")

	meta, err := d.resolve(sandboxName)
	if err != nil {
		return userOrInternal(err)
	}

	wrapped := fmt.Sprintf("cd %s && %s", shQuote(workdir), command)
	if timeout > 0 {
		wrapped = fmt.Sprintf("timeout %ds sh -c %s", timeout, shQuote(wrapped))
	}

	result, err := d.Provider.Shell(ctx, meta, []string{"sh", "-c", wrapped})
	if err != nil {
		if domain.IsNotFound(err) {
			return userOrInternal(fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, sandboxName))
		}
		return userOrInternal(err)
	}

	if snapErr := d.Provider.Snapshot(ctx, meta, "bash: "+command); snapErr != nil {
		d.Log.Warn("snapshot after bash failed", "sandbox", sandboxName, "err", snapErr)
	}

	return jsonResult(result)
}
