package invoice

// Status is the closed set of scan session states. A session only ever moves
// forward through this machine; `committed` and `rejected` are terminal.
type Status string

const (
	// StatusPending: session created on upload, processing not started
	StatusPending Status = "pending"
	// StatusConverting: document is being rasterized into page images
	StatusConverting Status = "converting"
	// StatusScanning: per-page extraction in progress
	StatusScanning Status = "scanning"
	// StatusCompleted: aggregation done, awaiting operator review
	StatusCompleted Status = "completed"
	// StatusFailed: fatal conversion error or unrecoverable pipeline fault
	StatusFailed Status = "failed"
	// StatusCommitted: converted into permanent history, inventory applied
	StatusCommitted Status = "committed"
	// StatusRejected: discarded by the operator, no inventory effect
	StatusRejected Status = "rejected"
)

// transitions is the full transition table. Keeping it in one table (and
// funneling every status write through CanTransition) is what makes the
// one-directional invariant auditable.
var transitions = map[Status][]Status{
	StatusPending:    {StatusConverting, StatusFailed},
	StatusConverting: {StatusScanning, StatusFailed},
	StatusScanning:   {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusCommitted, StatusRejected},
	StatusFailed:     {StatusRejected},
	StatusCommitted:  {},
	StatusRejected:   {},
}

// CanTransition reports whether a session may move from one status to
// another. Unknown statuses never transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status permits no further transitions at all.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusRejected
}
