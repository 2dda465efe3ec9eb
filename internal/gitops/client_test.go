package gitops_test

import (
	"context"
	"strings"
	"testing"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/gitops"
	"github.com/devcrewhq/crew/internal/testutil"
)

func TestClient_NewClient(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	if client.RepoPath() != repo.Path {
		t.Errorf("RepoPath() = %s, want %s", client.RepoPath(), repo.Path)
	}
}

func TestClient_NewClient_NotARepo(t *testing.T) {
	dir := testutil.TempDir(t)

	_, err := gitops.NewClient(dir)
	testutil.AssertError(t, err)
	testutil.AssertTrue(t, core.IsCategory(err, core.ErrCatValidation), "want validation error")
}

func TestClient_Branches(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	ctx := context.Background()

	branch, err := client.CurrentBranch(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, branch, "main")

	testutil.AssertNoError(t, client.CreateBranch(ctx, "agent-1", "main"))

	exists, err := client.BranchExists(ctx, "agent-1")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, exists, "agent-1 should exist")

	branches, err := client.ListBranches(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, branches, 2)

	testutil.AssertNoError(t, client.DeleteBranch(ctx, "agent-1", false))

	exists, err = client.BranchExists(ctx, "agent-1")
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, exists, "agent-1 should be gone")
}

func TestClient_CommitAll_AuthorOverride(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	ctx := context.Background()
	repo.WriteFile("api/users.go", "package api\n")

	author := &gitops.Author{Name: "Agent-backend", Email: "agent-1@orchestrator.local"}
	commit, err := client.CommitAll(ctx, "Add users API\n\nInitial route handlers.", author)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, commit != "", "commit id should be non-empty")

	out, err := repo.Run("log", "-1", "--format=%an <%ae>|%s")
	testutil.AssertNoError(t, err)
	testutil.AssertContains(t, out, "Agent-backend <agent-1@orchestrator.local>")
	testutil.AssertContains(t, out, "Add users API")
}

func TestClient_HasChanges(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	ctx := context.Background()

	dirty, err := client.HasChanges(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, dirty, "fresh commit should be clean")

	repo.WriteFile("new.txt", "content")
	dirty, err = client.HasChanges(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, dirty, "untracked file should count as changes")
}

func TestClient_DiffFiles(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	base := repo.Commit("Initial commit")

	repo.WriteFile("api/users.go", "package api\n")
	repo.WriteFile("api/orders.go", "package api\n")
	head := repo.Commit("Add API files")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	files, err := client.DiffFiles(context.Background(), base, head)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, files, 2)
}

func TestClient_MergeNoFF(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	repo.CreateBranch("agent-1")
	repo.WriteFile("feature.go", "package main\n")
	repo.Commit("Add feature")
	repo.Checkout("main")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	ctx := context.Background()

	mergeBase, err := client.MergeBase(ctx, "main", "agent-1")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, mergeBase, repo.Head("main"))

	testutil.AssertNoError(t, client.Merge(ctx, "agent-1", "Merge agent work"))

	// No fast-forward: the merge commit has two parents.
	parents, err := repo.Run("rev-list", "--parents", "-1", "HEAD")
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, strings.Fields(parents), 3)
}

func TestClient_MergeConflictAndAbort(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("shared.txt", "base\n")
	repo.Commit("Initial commit")

	repo.CreateBranch("agent-1")
	repo.WriteFile("shared.txt", "agent version\n")
	repo.Commit("Agent change")

	repo.Checkout("main")
	repo.WriteFile("shared.txt", "main version\n")
	repo.Commit("Main change")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	ctx := context.Background()
	headBefore := repo.Head("main")

	err = client.Merge(ctx, "agent-1", "Merge agent work")
	testutil.AssertError(t, err)

	conflicts, err := client.ConflictingFiles(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertLen(t, conflicts, 1)
	testutil.AssertEqual(t, conflicts[0], "shared.txt")

	testutil.AssertNoError(t, client.MergeAbort(ctx))
	testutil.AssertEqual(t, repo.Head("main"), headBefore)
	testutil.AssertEqual(t, repo.ReadFile("shared.txt"), "main version\n")
}

func TestClient_DefaultBranch(t *testing.T) {
	repo := testutil.NewGitRepo(t)
	repo.WriteFile("README.md", "# Test")
	repo.Commit("Initial commit")

	client, err := gitops.NewClient(repo.Path)
	testutil.AssertNoError(t, err)

	branch, err := client.DefaultBranch(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, branch, "main")
}
