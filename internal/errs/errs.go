// Package errs defines the error kinds shared across the pipeline so
// callers can branch on kind with errors.Is/errors.As instead of string
// matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrDecodeError marks a malformed frame body or JSON payload.
	ErrDecodeError = errors.New("decode error")
	// ErrSequenceGap marks a book diff whose first_update_id leaves a gap.
	ErrSequenceGap = errors.New("sequence gap")
	// ErrRingFull marks a ring buffer write that had no room for all bytes.
	ErrRingFull = errors.New("ring full")
	// ErrQueueClosed marks a push attempted after the queue was closed.
	ErrQueueClosed = errors.New("queue closed")
	// ErrShortRead marks a ring read that returned fewer bytes than a header promised.
	ErrShortRead = errors.New("short read")
	// ErrConfigError marks an invalid configuration option at startup.
	ErrConfigError = errors.New("config error")
)

// Wrap returns an error whose message is format applied to args and
// which unwraps to kind, so errors.Is(err, kind) still matches after
// this error is logged or passed up the call stack.
func Wrap(kind error, format string, args ...any) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	kind error
	msg  string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.kind }
