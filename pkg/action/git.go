package action

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CloneGitRepositoryHandler clones a repository into the workspace's home
// tree (spec §4.1 clone_git_repository).
type CloneGitRepositoryHandler struct{}

func (h *CloneGitRepositoryHandler) Metadata() Metadata {
	return Metadata{
		DisplayName:        "Clone Git Repository",
		Category:           "git",
		Description:        "Clones a git repository into the workspace.",
		RequiredParameters: []string{"repository_url", "destination_path"},
		OptionalParameters: []string{"branch", "depth", "recursive"},
	}
}

func (h *CloneGitRepositoryHandler) Validate(params Params) error {
	if _, err := requireString(params, "clone_git_repository", "repository_url"); err != nil {
		return err
	}
	if _, err := requireString(params, "clone_git_repository", "destination_path"); err != nil {
		return err
	}
	return nil
}

func (h *CloneGitRepositoryHandler) Execute(ctx context.Context, actx Context, params Params) (Result, error) {
	repoURL, err := requireString(params, "clone_git_repository", "repository_url")
	if err != nil {
		return Result{}, err
	}
	dest, err := requireString(params, "clone_git_repository", "destination_path")
	if err != nil {
		return Result{}, err
	}

	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		return Result{}, fmt.Errorf("clone_git_repository: destination %q already exists", dest)
	}

	args := []string{"clone"}
	if branch := optString(params, "branch", ""); branch != "" {
		args = append(args, "--branch", branch)
	}
	if depth := optInt(params, "depth", 0); depth > 0 {
		args = append(args, "--depth", fmt.Sprintf("%d", depth))
	}
	if optBool(params, "recursive", false) {
		args = append(args, "--recursive")
	}
	args = append(args, repoURL, dest)

	if _, err := runCommand(ctx, defaultCommandTimeout, actx.HomeDirectory, actx.LinuxUsername, "git", args...); err != nil {
		_ = os.RemoveAll(dest)
		return Result{}, fmt.Errorf("cloning %s: %w", repoURL, err)
	}

	commitHash, _ := runCommand(ctx, defaultCommandTimeout, dest, actx.LinuxUsername, "git", "rev-parse", "HEAD")
	branchOut, _ := runCommand(ctx, defaultCommandTimeout, dest, actx.LinuxUsername, "git", "rev-parse", "--abbrev-ref", "HEAD")

	return Result{Data: map[string]any{
		"destination_path": dest,
		"commit_hash":       strings.TrimSpace(commitHash),
		"branch":            strings.TrimSpace(branchOut),
	}}, nil
}

func (h *CloneGitRepositoryHandler) Rollback(ctx context.Context, actx Context, params Params, result Result) error {
	dest := optString(params, "destination_path", "")
	if dest == "" {
		return nil
	}
	return os.RemoveAll(dest)
}
