package integrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mergebot/pkg/models"
)

// fakeControl simulates the control repository working copy: branch
// contents live in memory and checkouts materialize heads.txt at Root.
type fakeControl struct {
	root     string
	contents map[string]string // branch -> heads.txt content
	fetched  map[models.Hash]string
	pushes   int
	nextID   int
}

func newFakeControl(t *testing.T) *fakeControl {
	t.Helper()
	return &fakeControl{
		root:     t.TempDir(),
		contents: map[string]string{"master": ""},
		fetched:  make(map[models.Hash]string),
	}
}

func (f *fakeControl) Root() string { return f.root }

func (f *fakeControl) synthetic() models.Hash {
	f.nextID++
	return models.Hash(fmt.Sprintf("%040d", f.nextID))
}

func (f *fakeControl) Fetch(_ context.Context, _ string, ref string) (models.Hash, error) {
	if _, ok := f.contents[ref]; !ok {
		return "", fmt.Errorf("couldn't find remote ref %s", ref)
	}
	hash := f.synthetic()
	f.fetched[hash] = ref
	return hash, nil
}

func (f *fakeControl) Checkout(_ context.Context, hash models.Hash) error {
	branch, ok := f.fetched[hash]
	if !ok {
		return fmt.Errorf("unknown commit %s", hash)
	}
	return os.WriteFile(filepath.Join(f.root, "heads.txt"), []byte(f.contents[branch]), 0644)
}

func (f *fakeControl) Add(_ context.Context, _ string) error { return nil }

func (f *fakeControl) Commit(_ context.Context, _, _, _ string) (models.Hash, error) {
	return f.synthetic(), nil
}

func (f *fakeControl) Push(_ context.Context, _ models.Hash, _ string, ref string) error {
	data, err := os.ReadFile(filepath.Join(f.root, "heads.txt"))
	if err != nil {
		return err
	}
	f.contents[ref] = string(data)
	f.pushes++
	return nil
}

func (f *fakeControl) RemoteBranches(_ context.Context, _ string) ([]string, error) {
	branches := make([]string, 0, len(f.contents))
	for name := range f.contents {
		branches = append(branches, name)
	}
	return branches, nil
}

func commitAt(hash models.Hash, parents ...models.Hash) models.CommitMetadata {
	return models.CommitMetadata{Hash: hash, Parents: parents}
}

func hashOf(b byte) models.Hash {
	return models.Hash(strings.Repeat(string([]byte{b}), 40))
}

func newTestLedger(t *testing.T) (*Ledger, *fakeControl) {
	t.Helper()
	control := newFakeControl(t)
	return NewLedger(control, "file:///control", "", "mergebot", "bot@example.com", zerolog.Nop()), control
}

func TestVerifyInitializesMissingRecord(t *testing.T) {
	t.Parallel()

	ledger, control := newTestLedger(t)
	head := hashOf('a')
	parent := hashOf('9')

	err := ledger.Verify(context.Background(), "project/repo", "master", commitAt(head, parent))
	require.NoError(t, err)

	record := control.contents["project-repo-master"]
	require.Equal(t, head.Hex()+"\n"+parent.Hex()+"\n", record)
}

func TestVerifyAcceptsMatchingHead(t *testing.T) {
	t.Parallel()

	ledger, control := newTestLedger(t)
	head := hashOf('a')
	require.NoError(t, ledger.Verify(context.Background(), "project/repo", "master", commitAt(head, hashOf('9'))))

	pushesBefore := control.pushes
	require.NoError(t, ledger.Verify(context.Background(), "project/repo", "master", commitAt(head, hashOf('9'))))
	require.Equal(t, pushesBefore, control.pushes)
}

func TestVerifySelfHealsAfterInterruptedPush(t *testing.T) {
	t.Parallel()

	ledger, control := newTestLedger(t)
	old := hashOf('a')
	require.NoError(t, ledger.Verify(context.Background(), "project/repo", "master", commitAt(old, hashOf('9'))))

	// The branch advanced by one commit whose first parent is the
	// recorded head: the bot pushed and crashed before updating.
	next := hashOf('b')
	require.NoError(t, ledger.Verify(context.Background(), "project/repo", "master", commitAt(next, old)))

	record := control.contents["project-repo-master"]
	require.Equal(t, next.Hex()+"\n"+old.Hex()+"\n", record)
}

func TestVerifyRejectsForeignPush(t *testing.T) {
	t.Parallel()

	ledger, _ := newTestLedger(t)
	recorded := hashOf('a')
	require.NoError(t, ledger.Verify(context.Background(), "project/repo", "master", commitAt(recorded, hashOf('9'))))

	foreign := hashOf('c')
	err := ledger.Verify(context.Background(), "project/repo", "master", commitAt(foreign, hashOf('d')))
	require.Error(t, err)

	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	require.Equal(t, "project/repo", integrity.Repository)
	require.Equal(t, "master", integrity.Branch)
	require.Equal(t, recorded.Hex(), integrity.Expected)
	require.Equal(t, foreign.Hex(), integrity.Actual)
}

func TestUpdateAdvancesRecord(t *testing.T) {
	t.Parallel()

	ledger, control := newTestLedger(t)
	old := hashOf('a')
	require.NoError(t, ledger.Verify(context.Background(), "project/repo", "master", commitAt(old, hashOf('9'))))

	next := hashOf('b')
	require.NoError(t, ledger.Update(context.Background(), "project/repo", "master", commitAt(next, old)))

	record := control.contents["project-repo-master"]
	require.Equal(t, next.Hex()+"\n"+old.Hex()+"\n", record)

	// The updated record satisfies the next verification round.
	require.NoError(t, ledger.Verify(context.Background(), "project/repo", "master", commitAt(next, old)))
}

func TestVerifyInitializesFromConfiguredBaseRef(t *testing.T) {
	t.Parallel()

	control := newFakeControl(t)
	delete(control.contents, "master")
	control.contents["main"] = ""
	ledger := NewLedger(control, "file:///control", "main", "mergebot", "bot@example.com", zerolog.Nop())

	head := hashOf('a')
	parent := hashOf('9')
	err := ledger.Verify(context.Background(), "project/repo", "master", commitAt(head, parent))
	require.NoError(t, err)

	record := control.contents["project-repo-master"]
	require.Equal(t, head.Hex()+"\n"+parent.Hex()+"\n", record)
}
