package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sparkie/internal/domain"
	"sparkie/internal/security"
)

const maxRepoReadBytes = 256 * 1024

// RepoTool reads and writes files in a sandboxed workspace. Deleting is
// queued for approval.
type RepoTool struct {
	sandbox *security.Sandbox
	logger  *slog.Logger
	actions ActionMap[repoParams]
}

// NewRepoTool creates a workspace tool rooted at the sandbox.
func NewRepoTool(sandbox *security.Sandbox, logger *slog.Logger) *RepoTool {
	t := &RepoTool{sandbox: sandbox, logger: logger}
	t.actions = ActionMap[repoParams]{
		"read":   t.readFile,
		"write":  t.writeFile,
		"list":   t.listDir,
		"delete": refuse[repoParams]("deleting a file"),
	}
	return t
}

func (t *RepoTool) Name() string { return "repo" }
func (t *RepoTool) Description() string {
	return "Read, write and list files in the user's workspace. Deleting a file waits for the user's approval."
}

func (t *RepoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(fmt.Sprintf(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": %s},
				"path": {"type": "string", "description": "Path relative to the workspace root"},
				"content": {"type": "string", "description": "File content (write)"}
			},
			"required": ["action"]
		}`, actionEnum(t.actions))),
	}
}

type repoParams struct {
	Action  string `json:"action"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

func (t *RepoTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.repo", t.logger, params,
		Dispatch(func(p repoParams) string { return p.Action }, t.actions),
	)
}

func (t *RepoTool) readFile(ctx context.Context, p repoParams) (any, error) {
	if err := RequireFields("path", p.Path); err != nil {
		return nil, err
	}
	resolved, err := t.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %q does not exist", p.Path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxRepoReadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	content := string(data[:min(len(data), maxRepoReadBytes)])
	if len(data) > maxRepoReadBytes {
		content += "\n[truncated]"
	}
	t.logger.DebugContext(ctx, "repo read", "path", t.sandbox.Rel(resolved), "size", len(data))
	return TextResult(content), nil
}

func (t *RepoTool) writeFile(ctx context.Context, p repoParams) (any, error) {
	if err := RequireFields("path", p.Path); err != nil {
		return nil, err
	}
	resolved, err := t.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}
	if resolved == t.sandbox.Root() {
		return nil, fmt.Errorf("path must name a file")
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("create parent: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(p.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	t.logger.DebugContext(ctx, "repo write", "path", t.sandbox.Rel(resolved), "size", len(p.Content))
	return TextResult(fmt.Sprintf("wrote %d bytes to %s", len(p.Content), t.sandbox.Rel(resolved))), nil
}

func (t *RepoTool) listDir(_ context.Context, p repoParams) (any, error) {
	resolved, err := t.sandbox.Resolve(p.Path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	if len(entries) == 0 {
		return TextResult("(empty)"), nil
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&sb, "%s\n", entry.Name())
		}
	}
	return TextResult(sb.String()), nil
}
