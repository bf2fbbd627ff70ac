package errs

import (
	"github.com/pkg/errors"
)

var (
	// TaskNotFound is returned by lookups and subscriptions on an id the
	// registry has never seen.
	TaskNotFound = errors.New("task not found")

	// InvalidTransition is returned when a status change is not an edge of
	// the task state machine, including any attempt to re-enter pending.
	InvalidTransition = errors.New("invalid status transition")

	// GroupNotFound is returned for operations on an unknown download group.
	GroupNotFound = errors.New("download group not found")

	// ForeignHandle is returned when a download control operation names a
	// handle that does not belong to the given group.
	ForeignHandle = errors.New("handle does not belong to group")

	// SubscribeFailed wraps transport-level subscription failures surfaced
	// to observers as subscribe_error.
	SubscribeFailed = errors.New("subscribe failed")

	// UpstreamError marks failures of the external downloader or the draft
	// assembler; the owning task is moved to failed with the wrapped message.
	UpstreamError = errors.New("upstream failure")
)

// IsNotFound reports whether err is one of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, TaskNotFound) || errors.Is(err, GroupNotFound)
}
