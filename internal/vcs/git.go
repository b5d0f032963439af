// Package vcs wraps the local git command line with the narrow set of
// primitives the integration pipeline needs. Everything goes through
// os/exec; the bot never links a git implementation.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mergebot/pkg/models"
)

// Repository is a local working copy.
type Repository struct {
	dir string
}

// Open returns a handle to an existing working copy.
func Open(dir string) (*Repository, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("repository path not found: %w", err)
	}
	return &Repository{dir: dir}, nil
}

// Clone clones url into dir and returns the repository.
func Clone(ctx context.Context, url, dir string) (*Repository, error) {
	cmd := exec.CommandContext(ctx, "git", "clone", url, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return &Repository{dir: dir}, nil
}

// Init creates a fresh repository in dir.
func Init(ctx context.Context, dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}
	repo := &Repository{dir: dir}
	if _, err := repo.git(ctx, "init"); err != nil {
		return nil, err
	}
	return repo, nil
}

// Root is the working copy path.
func (r *Repository) Root() string {
	return r.dir
}

func (r *Repository) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *Repository) gitWithEnv(ctx context.Context, env []string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Fetch fetches ref from remote and returns the fetched head.
func (r *Repository) Fetch(ctx context.Context, remote, ref string) (models.Hash, error) {
	if _, err := r.git(ctx, "fetch", remote, ref); err != nil {
		return "", err
	}
	out, err := r.git(ctx, "rev-parse", "FETCH_HEAD")
	if err != nil {
		return "", err
	}
	return models.Hash(out), nil
}

// Checkout checks out hash, discarding local modifications.
func (r *Repository) Checkout(ctx context.Context, hash models.Hash) error {
	_, err := r.git(ctx, "checkout", "--force", hash.Hex())
	return err
}

// Merge merges hash into the current head without committing. The
// caller commits via Commit; a conflict surfaces as an error.
func (r *Repository) Merge(ctx context.Context, hash models.Hash) error {
	_, err := r.git(ctx, "merge", "--no-commit", "--no-ff", hash.Hex())
	return err
}

// Commit records the current index as a commit by the given identity.
func (r *Repository) Commit(ctx context.Context, message, name, email string) (models.Hash, error) {
	env := []string{
		"GIT_AUTHOR_NAME=" + name,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
	}
	if _, err := r.gitWithEnv(ctx, env, "commit", "--allow-empty", "--no-verify", "-m", message); err != nil {
		return "", err
	}
	return r.Head(ctx)
}

// CommitTree synthesizes a commit object with explicit parents and
// tree, without touching the working copy.
func (r *Repository) CommitTree(ctx context.Context, message string, author, committer models.Author, parents []models.Hash, tree models.Hash) (models.Hash, error) {
	args := []string{"commit-tree", tree.Hex()}
	for _, parent := range parents {
		args = append(args, "-p", parent.Hex())
	}
	args = append(args, "-m", message)
	env := []string{
		"GIT_AUTHOR_NAME=" + author.Name,
		"GIT_AUTHOR_EMAIL=" + author.Email,
		"GIT_COMMITTER_NAME=" + committer.Name,
		"GIT_COMMITTER_EMAIL=" + committer.Email,
	}
	out, err := r.gitWithEnv(ctx, env, args...)
	if err != nil {
		return "", err
	}
	return models.Hash(out), nil
}

// Amend rewrites the head commit's message, keeping its author and
// committer identities. Without the explicit environment git would
// stamp the host's local identity as the new committer.
func (r *Repository) Amend(ctx context.Context, message string) (models.Hash, error) {
	head, err := r.Head(ctx)
	if err != nil {
		return "", err
	}
	current, err := r.Lookup(ctx, head)
	if err != nil {
		return "", err
	}
	env := []string{
		"GIT_AUTHOR_NAME=" + current.Author.Name,
		"GIT_AUTHOR_EMAIL=" + current.Author.Email,
		"GIT_COMMITTER_NAME=" + current.Committer.Name,
		"GIT_COMMITTER_EMAIL=" + current.Committer.Email,
	}
	if _, err := r.gitWithEnv(ctx, env, "commit", "--amend", "--no-verify", "-m", message); err != nil {
		return "", err
	}
	return r.Head(ctx)
}

// Head returns the current head hash.
func (r *Repository) Head(ctx context.Context) (models.Hash, error) {
	out, err := r.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return models.Hash(out), nil
}

// Tree resolves the tree object of a commit.
func (r *Repository) Tree(ctx context.Context, hash models.Hash) (models.Hash, error) {
	out, err := r.git(ctx, "rev-parse", hash.Hex()+"^{tree}")
	if err != nil {
		return "", err
	}
	return models.Hash(out), nil
}

// MergeBase returns the most recent common ancestor of a and b.
func (r *Repository) MergeBase(ctx context.Context, a, b models.Hash) (models.Hash, error) {
	out, err := r.git(ctx, "merge-base", a.Hex(), b.Hex())
	if err != nil {
		return "", err
	}
	return models.Hash(out), nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repository) IsAncestor(ctx context.Context, ancestor, descendant models.Hash) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", ancestor.Hex(), descendant.Hex())
	cmd.Dir = r.dir
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git merge-base --is-ancestor: %w", err)
}

// CommitMetadata lists the commits reachable from to but not from,
// oldest first. Record separator delimited fields keep multi-line
// messages intact.
func (r *Repository) CommitMetadata(ctx context.Context, from, to models.Hash) ([]models.CommitMetadata, error) {
	const rs = "\x1e"
	const gs = "\x1d"
	format := strings.Join([]string{"%H", "%P", "%an", "%ae", "%cn", "%ce", "%B"}, rs)
	out, err := r.git(ctx, "log", "--reverse", "--format="+format+gs, from.Hex()+".."+to.Hex())
	if err != nil {
		return nil, err
	}
	var commits []models.CommitMetadata
	for _, record := range strings.Split(out, gs) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		parts := strings.SplitN(record, rs, 7)
		if len(parts) < 7 {
			return nil, fmt.Errorf("unexpected git log output: %q", record)
		}
		var parents []models.Hash
		for _, p := range strings.Fields(parts[1]) {
			parents = append(parents, models.Hash(p))
		}
		commits = append(commits, models.CommitMetadata{
			Hash:      models.Hash(parts[0]),
			Parents:   parents,
			Author:    models.Author{Name: parts[2], Email: parts[3]},
			Committer: models.Author{Name: parts[4], Email: parts[5]},
			Message:   strings.Split(strings.TrimSpace(parts[6]), "\n"),
		})
	}
	return commits, nil
}

// Lookup returns the metadata of a single commit.
func (r *Repository) Lookup(ctx context.Context, hash models.Hash) (models.CommitMetadata, error) {
	const rs = "\x1e"
	format := strings.Join([]string{"%H", "%P", "%an", "%ae", "%cn", "%ce", "%B"}, rs)
	out, err := r.git(ctx, "log", "-1", "--format="+format, hash.Hex())
	if err != nil {
		return models.CommitMetadata{}, err
	}
	parts := strings.SplitN(out, rs, 7)
	if len(parts) < 7 {
		return models.CommitMetadata{}, fmt.Errorf("unexpected git log output: %q", out)
	}
	var parents []models.Hash
	for _, p := range strings.Fields(parts[1]) {
		parents = append(parents, models.Hash(p))
	}
	return models.CommitMetadata{
		Hash:      models.Hash(parts[0]),
		Parents:   parents,
		Author:    models.Author{Name: parts[2], Email: parts[3]},
		Committer: models.Author{Name: parts[4], Email: parts[5]},
		Message:   strings.Split(strings.TrimSpace(parts[6]), "\n"),
	}, nil
}

// Push pushes hash to ref on remote.
func (r *Repository) Push(ctx context.Context, hash models.Hash, remote, ref string) error {
	_, err := r.git(ctx, "push", remote, hash.Hex()+":refs/heads/"+ref)
	return err
}

// Add stages a path.
func (r *Repository) Add(ctx context.Context, path string) error {
	_, err := r.git(ctx, "add", path)
	return err
}

// RemoteBranches lists the branch names present on remote.
func (r *Repository) RemoteBranches(ctx context.Context, remote string) ([]string, error) {
	out, err := r.git(ctx, "ls-remote", "--heads", remote)
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		branches = append(branches, strings.TrimPrefix(fields[1], "refs/heads/"))
	}
	return branches, nil
}
