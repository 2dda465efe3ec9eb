package gitops_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/gitops"
	"github.com/devcrewhq/crew/internal/testutil"
)

func newManager(t *testing.T) (*testutil.GitRepo, *gitops.WorkspaceManager) {
	t.Helper()

	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	manager, err := gitops.NewWorkspaceManager(client, "", nil)
	testutil.AssertNoError(t, err)

	return repo, manager
}

func TestWorkspaceManager_Create(t *testing.T) {
	repo, manager := newManager(t)
	ctx := context.Background()

	ws, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, ws.Branch, "agent-1")
	testutil.AssertEqual(t, ws.Path, filepath.Join(repo.Path, ".crew", "workspaces", "agent-1"))

	if _, err := os.Stat(ws.Path); err != nil {
		t.Fatalf("workspace directory missing: %v", err)
	}
	testutil.AssertTrue(t, repo.BranchExists("agent-1"), "branch should exist")

	// Workspace is checked out on its branch.
	branch, err := manager.BranchOf(ctx, ws.Path)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, branch, "agent-1")
}

func TestWorkspaceManager_Create_UnknownBase(t *testing.T) {
	_, manager := newManager(t)

	_, err := manager.Create(context.Background(), "agent-1", "no-such-base")
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCode(err, core.CodeWorkspaceCreateFailed),
		"want WORKSPACE_CREATE_FAILED")
}

func TestWorkspaceManager_Create_EvictsStaleCheckout(t *testing.T) {
	_, manager := newManager(t)
	ctx := context.Background()

	first, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)

	// Simulate a crashed worker: directory still present, branch taken.
	second, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, second.Path, first.Path)
	testutil.AssertEqual(t, second.Branch, "agent-1")
}

func TestWorkspaceManager_IgnoreEntryAddedOnce(t *testing.T) {
	repo, _ := newManager(t)

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	// Construct a second manager over the same repository.
	_, err = gitops.NewWorkspaceManager(client, "", nil)
	testutil.AssertNoError(t, err)

	data := repo.ReadFile(".gitignore")
	count := strings.Count(data, ".crew/")
	testutil.AssertEqual(t, count, 1)
}

func TestWorkspaceManager_CommitAll(t *testing.T) {
	repo, manager := newManager(t)
	ctx := context.Background()

	ws, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)

	testutil.TempFile(t, ws.Path, "handler.go", "package api\n")

	author := &gitops.Author{Name: "Agent-backend", Email: "agent-1@orchestrator.local"}
	commit, err := manager.CommitAll(ctx, ws.Path, "Add handler", author)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, commit != "", "commit id should be non-empty")
	testutil.AssertEqual(t, commit, repo.Head("agent-1"))
}

func TestWorkspaceManager_CommitAll_NoChanges(t *testing.T) {
	repo, manager := newManager(t)
	ctx := context.Background()

	ws, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)

	head := repo.Head("agent-1")

	commit, err := manager.CommitAll(ctx, ws.Path, "Nothing here", nil)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, commit, head)

	// No empty commit was created.
	testutil.AssertEqual(t, repo.Head("agent-1"), head)
}

func TestWorkspaceManager_Remove(t *testing.T) {
	_, manager := newManager(t)
	ctx := context.Background()

	ws, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, manager.Remove(ctx, ws.Path, true))
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Fatal("workspace directory should be gone")
	}

	// Removing again is fine.
	testutil.AssertNoError(t, manager.Remove(ctx, ws.Path, true))
}

func TestWorkspaceManager_Remove_Unmanaged(t *testing.T) {
	_, manager := newManager(t)

	outside := testutil.TempDir(t)
	err := manager.Remove(context.Background(), outside, true)
	testutil.AssertError(t, err)
}

func TestWorkspaceManager_List(t *testing.T) {
	_, manager := newManager(t)
	ctx := context.Background()

	_, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)
	_, err = manager.Create(ctx, "agent-2", "main")
	testutil.AssertNoError(t, err)

	workspaces, err := manager.List(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, workspaces, 2)

	branches := map[string]bool{}
	for _, ws := range workspaces {
		branches[ws.Branch] = true
	}
	testutil.AssertTrue(t, branches["agent-1"] && branches["agent-2"],
		"both workspace branches should be listed")
}

func TestWorkspaceManager_BranchOf_NotFound(t *testing.T) {
	_, manager := newManager(t)

	_, err := manager.BranchOf(context.Background(), "/no/such/workspace")
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatNotFound), "want not found")
}

func TestWorkspaceManager_DeleteBranch(t *testing.T) {
	repo, manager := newManager(t)
	ctx := context.Background()

	ws, err := manager.Create(ctx, "agent-1", "main")
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, manager.Remove(ctx, ws.Path, true))
	testutil.AssertNoError(t, manager.DeleteBranch(ctx, "agent-1", true))
	testutil.AssertFalse(t, repo.BranchExists("agent-1"), "branch should be deleted")
}
