package integrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mergebot/pkg/models"
)

// ledgerFile is the fixed path of the two-line head record inside the
// control repository.
const ledgerFile = "heads.txt"

// ControlRepo is the subset of local VCS operations the ledger needs
// on its working copy of the control repository.
type ControlRepo interface {
	Root() string
	Fetch(ctx context.Context, remote, ref string) (models.Hash, error)
	Checkout(ctx context.Context, hash models.Hash) error
	Add(ctx context.Context, path string) error
	Commit(ctx context.Context, message, name, email string) (models.Hash, error)
	Push(ctx context.Context, hash models.Hash, remote, ref string) error
	RemoteBranches(ctx context.Context, remote string) ([]string, error)
}

// Ledger mirrors, per (repository, branch), the last head the bot
// pushed, as two lines `head\nfirstParent` on a dedicated branch named
// `<repo>-<branch>` of a control repository. It detects pushes the bot
// did not make and recovers from its own crashes between push and
// ledger update.
type Ledger struct {
	repo     ControlRepo
	remote   string
	baseRef  string
	botName  string
	botEmail string
	log      zerolog.Logger
}

// NewLedger creates a ledger over a control repository clone. baseRef
// is the control repository branch new record branches start from; an
// empty value means master.
func NewLedger(repo ControlRepo, remote, baseRef, botName, botEmail string, log zerolog.Logger) *Ledger {
	if baseRef == "" {
		baseRef = "master"
	}
	return &Ledger{repo: repo, remote: remote, baseRef: baseRef, botName: botName, botEmail: botEmail, log: log}
}

func ledgerBranch(repoName, branch string) string {
	return strings.ReplaceAll(repoName, "/", "-") + "-" + branch
}

func (l *Ledger) readRecord() (head, firstParent models.Hash, err error) {
	data, err := os.ReadFile(filepath.Join(l.repo.Root(), ledgerFile))
	if err != nil {
		return "", "", fmt.Errorf("failed to read ledger record: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return "", "", fmt.Errorf("corrupt %s record: %d lines", ledgerFile, len(lines))
	}
	return models.Hash(strings.TrimSpace(lines[0])), models.Hash(strings.TrimSpace(lines[1])), nil
}

func (l *Ledger) writeRecord(ctx context.Context, branch, message string, commit models.CommitMetadata) error {
	firstParent := models.Hash("")
	if len(commit.Parents) > 0 {
		firstParent = commit.Parents[0]
	}
	content := commit.Hash.Hex() + "\n" + firstParent.Hex() + "\n"
	if err := os.WriteFile(filepath.Join(l.repo.Root(), ledgerFile), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write ledger record: %w", err)
	}
	if err := l.repo.Add(ctx, ledgerFile); err != nil {
		return err
	}
	head, err := l.repo.Commit(ctx, message, l.botName, l.botEmail)
	if err != nil {
		return err
	}
	return l.repo.Push(ctx, head, l.remote, branch)
}

// Verify checks the reported head of a branch against the ledger.
// A missing record is initialized from the reported head. A mismatch
// is self-healed only when the reported head's first parent equals the
// expected head: the bot must have pushed and crashed before updating
// the ledger. Any other mismatch is an integrity fault.
func (l *Ledger) Verify(ctx context.Context, repoName, branchName string, current models.CommitMetadata) error {
	recordBranch := ledgerBranch(repoName, branchName)

	branches, err := l.repo.RemoteBranches(ctx, l.remote)
	if err != nil {
		return fmt.Errorf("failed to list ledger branches: %w", err)
	}
	exists := false
	for _, b := range branches {
		if b == recordBranch {
			exists = true
			break
		}
	}

	if !exists {
		baseHead, err := l.repo.Fetch(ctx, l.remote, l.baseRef)
		if err != nil {
			return fmt.Errorf("failed to fetch ledger base: %w", err)
		}
		if err := l.repo.Checkout(ctx, baseHead); err != nil {
			return err
		}
		message := fmt.Sprintf("Initialize %s with '%s' for %s:%s", ledgerFile, current.Hash.Hex(), repoName, branchName)
		return l.writeRecord(ctx, recordBranch, message, current)
	}

	latest, err := l.repo.Fetch(ctx, l.remote, recordBranch)
	if err != nil {
		return fmt.Errorf("failed to fetch ledger branch: %w", err)
	}
	if err := l.repo.Checkout(ctx, latest); err != nil {
		return err
	}
	expected, _, err := l.readRecord()
	if err != nil {
		return err
	}
	if expected == current.Hash {
		return nil
	}

	if len(current.Parents) > 0 && current.Parents[0] == expected {
		// The bot pushed to the real branch and crashed before the
		// ledger update; advance the record to the reported head.
		l.log.Info().
			Str("repo", repoName).
			Str("branch", branchName).
			Str("from", expected.Hex()).
			Str("to", current.Hash.Hex()).
			Msg("resetting ledger record after interrupted push")
		message := fmt.Sprintf("Resetting %s from '%s' to '%s'", ledgerFile, expected.Hex(), current.Hash.Hex())
		return l.writeRecord(ctx, recordBranch, message, current)
	}

	err = &IntegrityError{
		Repository: repoName,
		Branch:     branchName,
		Expected:   expected.Hex(),
		Actual:     current.Hash.Hex(),
	}
	l.log.Error().Err(err).Msg("ledger integrity fault")
	return err
}

// Update advances the ledger after a successful push.
func (l *Ledger) Update(ctx context.Context, repoName, branchName string, next models.CommitMetadata) error {
	recordBranch := ledgerBranch(repoName, branchName)
	latest, err := l.repo.Fetch(ctx, l.remote, recordBranch)
	if err != nil {
		return fmt.Errorf("failed to fetch ledger branch: %w", err)
	}
	if err := l.repo.Checkout(ctx, latest); err != nil {
		return err
	}
	current, _, err := l.readRecord()
	if err != nil {
		return err
	}
	message := fmt.Sprintf("Updating from '%s' to '%s'", current.Hex(), next.Hash.Hex())
	return l.writeRecord(ctx, recordBranch, message, next)
}
