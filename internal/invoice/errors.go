package invoice

import "errors"

var (
	// ErrSessionNotFound is returned by any operation referencing an unknown
	// session id.
	ErrSessionNotFound = errors.New("scan session not found")

	// ErrItemNotFound is returned when a patched item does not exist under
	// the given session.
	ErrItemNotFound = errors.New("extracted item not found")

	// ErrCommitConflict is returned when committing or rejecting a session
	// that is already in a terminal state.
	ErrCommitConflict = errors.New("session is already in a terminal state")

	// ErrDuplicateInvoice is returned at commit time when the session's
	// fingerprint collides with an already-committed invoice. The session is
	// left untouched so the operator can investigate or reject it.
	ErrDuplicateInvoice = errors.New("an invoice with this fingerprint has already been committed")

	// ErrNoItemsToCommit is returned when every extracted item has been
	// excluded from the commit.
	ErrNoItemsToCommit = errors.New("no items marked for commit")

	// ErrInvalidTransition is returned by the store when a status change
	// would move the session backwards through its state machine.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrUnknownTenant is returned when a request carries a missing or
	// malformed store identifier.
	ErrUnknownTenant = errors.New("unknown or invalid store id")
)
