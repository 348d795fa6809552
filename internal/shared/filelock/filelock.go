// Package filelock serialises access to the append-only JSON files that
// the server and the CLI share on one host.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
)

// RetryDelay is how often a contended lock is retried
const RetryDelay = 25 * time.Millisecond

// With runs fn while holding lock, shared for readers and exclusive
// otherwise. It gives up with context.DeadlineExceeded after timeout.
func With(ctx context.Context, lock *flock.Flock, timeout time.Duration, shared bool, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var locked bool
	var err error
	if shared {
		locked, err = lock.TryRLockContext(lockCtx, RetryDelay)
	} else {
		locked, err = lock.TryLockContext(lockCtx, RetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("failed to lock %s: %w", lock.Path(), context.DeadlineExceeded)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// EndsWithoutNewline reports whether the last line of f was torn by an
// interrupted append.
func EndsWithoutNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read tail of %s: %w", f.Name(), err)
	}
	return last[0] != '\n', nil
}
