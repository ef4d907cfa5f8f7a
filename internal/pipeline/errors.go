package pipeline

import (
	"errors"
)

// Sentinel errors for the pipeline surface. Lock contention and duplicate
// submissions are not errors at all: Submit reports those through its
// started flag and the caller polls.
var (
	// ErrSnapshotInvalid wraps a malformed snapshot submission.
	ErrSnapshotInvalid = errors.New("invalid snapshot")

	// ErrSnapshotUnknown means no snapshot row exists for the submitted id.
	ErrSnapshotUnknown = errors.New("unknown snapshot")
)
