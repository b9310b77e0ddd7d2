package worker

import "errors"

// Error taxonomy shared by all workers. The queue checks these with
// errors.Is to decide retry versus terminal failure; workers themselves
// never make that call.
var (
	// ErrUpstream marks a network or non-success failure from the
	// inference service. Recoverable.
	ErrUpstream = errors.New("inference upstream failure")

	// ErrBadResponse marks inference output that failed to parse as the
	// expected structure. Recoverable.
	ErrBadResponse = errors.New("malformed inference response")
)
