// Package syncerr defines the typed error kinds shared across the sync
// engine so callers can branch with errors.Is/errors.As instead of matching
// on message text.
package syncerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap one of these with fmt.Errorf("%w: ...", Kind)
// or attach it via a *Error so errors.Is keeps working through the stack.
var (
	ErrStorage   = errors.New("syncerr: storage error")
	ErrCrdt      = errors.New("syncerr: crdt apply error")
	ErrProtocol  = errors.New("syncerr: protocol error")
	ErrBlob      = errors.New("syncerr: blob store error")
	ErrQuota     = errors.New("syncerr: quota exceeded")
	ErrAuth      = errors.New("syncerr: auth error")
	ErrNotFound  = errors.New("syncerr: not found")
	ErrConflict  = errors.New("syncerr: conflict")
)

// QuotaExceeded carries the structured detail the spec requires so a UI can
// explain a snapshot import rejection (§4.7, §8 property 9, §8 scenario iv).
type QuotaExceeded struct {
	Used      int64
	Limit     int64
	Requested int64
}

func (e *QuotaExceeded) Error() string {
	return fmt.Sprintf("syncerr: quota exceeded: used=%d limit=%d requested=%d", e.Used, e.Limit, e.Requested)
}

func (e *QuotaExceeded) Unwrap() error { return ErrQuota }

// Wrap attaches kind as the errors.Is target for err while preserving err's
// message as additional context.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}

	return &wrapped{kind: kind, op: op, err: err}
}

type wrapped struct {
	kind error
	op   string
	err  error
}

func (w *wrapped) Error() string {
	return fmt.Sprintf("%s: %v", w.op, w.err)
}

func (w *wrapped) Unwrap() []error {
	return []error{w.kind, w.err}
}
