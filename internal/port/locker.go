package port

import (
	"context"
	"errors"
	"time"
)

var ErrLockTimeout = errors.New("lock wait timed out")

type Locker interface {
	// Acquire blocks up to wait for the named lock and returns its release
	// func. It fails with ErrLockTimeout when the wait elapses.
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}
