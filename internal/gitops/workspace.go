package gitops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

// resolvePath resolves symlinks and returns an absolute path.
// Needed for cross-platform path comparison (e.g., macOS /var -> /private/var).
func resolvePath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		abs, err := filepath.Abs(path)
		if err != nil {
			return path
		}
		return abs
	}
	return resolved
}

// Workspace is an isolated checkout bound to exactly one branch. A worker
// owns its workspace from Create until Remove; nothing else writes there.
type Workspace struct {
	Path      string
	Branch    string
	CreatedAt time.Time
}

// WorkspaceManager creates and destroys branch workspaces backed by git
// worktrees of the primary repository.
type WorkspaceManager struct {
	git     *Client
	baseDir string
	logger  *logging.Logger
}

// NewWorkspaceManager creates a manager rooted at baseDir. An empty baseDir
// defaults to <repo>/.crew/workspaces. The workspaces directory is added to
// the repository ignore file exactly once.
func NewWorkspaceManager(git *Client, baseDir string, logger *logging.Logger) (*WorkspaceManager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(git.RepoPath(), ".crew", "workspaces")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &WorkspaceManager{
		git:     git,
		baseDir: baseDir,
		logger:  logger,
	}

	if err := m.ensureIgnored(); err != nil {
		return nil, fmt.Errorf("updating ignore file: %w", err)
	}

	return m, nil
}

// ensureIgnored appends the workspaces directory to .gitignore unless an
// entry already covers it.
func (m *WorkspaceManager) ensureIgnored() error {
	rel, err := filepath.Rel(m.git.RepoPath(), m.baseDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		// Workspaces live outside the repository; nothing to ignore.
		return nil
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	entry := parts[0] + "/"

	ignorePath := filepath.Join(m.git.RepoPath(), ".gitignore")
	data, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"

	return os.WriteFile(ignorePath, []byte(content), 0o644)
}

// Create provisions a workspace for branch off base. An existing branch is
// re-attached; an existing checkout at the target path is evicted first.
func (m *WorkspaceManager) Create(ctx context.Context, branch, base string) (*Workspace, error) {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspaces directory: %w", err)
	}

	path := filepath.Join(m.baseDir, branch)

	if _, err := os.Stat(path); err == nil {
		m.logger.Warn("evicting stale workspace", "path", path)
		if _, err := m.git.run(ctx, "worktree", "remove", "--force", path); err != nil {
			// Not a registered worktree; clear the directory directly.
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("evicting stale workspace: %w", rmErr)
			}
			_, _ = m.git.run(ctx, "worktree", "prune")
		}
	}

	exists, err := m.git.BranchExists(ctx, branch)
	if err != nil {
		return nil, err
	}

	var args []string
	if exists {
		args = []string{"worktree", "add", path, branch}
	} else {
		args = []string{"worktree", "add", "-b", branch, path, base}
	}

	if _, err := m.git.run(ctx, args...); err != nil {
		return nil, core.ErrExecution(core.CodeWorkspaceCreateFailed,
			fmt.Sprintf("creating workspace for branch %s", branch)).WithCause(err)
	}

	ws := &Workspace{
		Path:      path,
		Branch:    branch,
		CreatedAt: time.Now().UTC(),
	}

	m.logger.Debug("workspace created",
		"branch", branch,
		"path", path,
		"base", base)

	return ws, nil
}

// CommitAll commits every change in the workspace at path. When nothing
// changed it returns the current head without creating an empty commit.
func (m *WorkspaceManager) CommitAll(ctx context.Context, path, message string, author *Author) (string, error) {
	ws, err := m.clientFor(path)
	if err != nil {
		return "", err
	}

	dirty, err := ws.HasChanges(ctx)
	if err != nil {
		return "", err
	}
	if !dirty {
		m.logger.Warn("no changes to commit", "path", path)
		return ws.CurrentCommit(ctx)
	}

	return ws.CommitAll(ctx, message, author)
}

// Remove destroys the workspace at path. Missing paths are not an error;
// force discards uncommitted changes.
func (m *WorkspaceManager) Remove(ctx context.Context, path string, force bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	resolvedPath := resolvePath(path)
	resolvedBase := resolvePath(m.baseDir)
	if !strings.HasPrefix(resolvedPath, resolvedBase) {
		return core.ErrValidation("INVALID_WORKSPACE",
			"workspace is not managed by this manager")
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	if _, err := m.git.run(ctx, args...); err != nil {
		return err
	}

	m.logger.Debug("workspace removed", "path", path)
	return nil
}

// List returns the managed workspaces, parsed from porcelain output.
func (m *WorkspaceManager) List(ctx context.Context) ([]Workspace, error) {
	output, err := m.git.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	resolvedBase := resolvePath(m.baseDir)
	workspaces := make([]Workspace, 0)

	var current *Workspace
	flush := func() {
		if current != nil && strings.HasPrefix(resolvePath(current.Path), resolvedBase) {
			workspaces = append(workspaces, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			current = &Workspace{Path: strings.TrimPrefix(line, "worktree ")}
		case current != nil && strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	flush()

	return workspaces, nil
}

// BranchOf returns the branch checked out in the workspace at path.
func (m *WorkspaceManager) BranchOf(ctx context.Context, path string) (string, error) {
	workspaces, err := m.List(ctx)
	if err != nil {
		return "", err
	}

	resolved := resolvePath(path)
	for _, ws := range workspaces {
		if resolvePath(ws.Path) == resolved {
			return ws.Branch, nil
		}
	}

	return "", core.ErrNotFound("workspace", path)
}

// DeleteBranch removes a branch after its workspace is gone.
func (m *WorkspaceManager) DeleteBranch(ctx context.Context, name string, force bool) error {
	return m.git.DeleteBranch(ctx, name, force)
}

// BaseDir returns the workspaces directory.
func (m *WorkspaceManager) BaseDir() string {
	return m.baseDir
}

// clientFor builds a git client scoped to a workspace directory.
func (m *WorkspaceManager) clientFor(path string) (*Client, error) {
	ws, err := NewClient(path)
	if err != nil {
		return nil, err
	}
	return ws.WithTimeout(m.git.timeout), nil
}
