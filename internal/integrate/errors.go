package integrate

import "fmt"

// CommitFailure is a user-correctable reason why a commit could not be
// synthesized. Callers pattern-match on it to produce a reply instead
// of treating the failure as an operational fault.
type CommitFailure struct {
	Reason string
}

func (e *CommitFailure) Error() string {
	return e.Reason
}

// IntegrityError is a ledger mismatch that the crash-recovery rule
// cannot explain. Integration for the branch halts until an operator
// intervenes; it is deliberately never auto-repaired.
type IntegrityError struct {
	Repository string
	Branch     string
	Expected   string
	Actual     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("expected head of branch %s in repo %s to be '%s', but it was '%s'",
		e.Branch, e.Repository, e.Expected, e.Actual)
}
