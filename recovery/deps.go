package recovery

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core/deadletter"
)

var (
	// errors
	ErrNotFound  = errors.New("key not found")
	ErrNoSession = errors.New("no active session")
)

type (
	// Store is the local durable key-value store of the client.
	Store interface {
		// Get returns ErrNotFound when key is absent.
		Get(ctx context.Context, key string) ([]byte, error)
		Set(ctx context.Context, key string, value []byte) error
		Delete(ctx context.Context, keys ...string) error
	}

	// Client talks to the progress API.
	Client interface {
		Send(ctx context.Context, op Operation) error
		Ping(ctx context.Context) error
		ReportDeadLetters(ctx context.Context, report deadletter.Report) error
	}
)

type permanent interface {
	Permanent() bool
}

// IsPermanent reports whether err rejects an operation for good; such operations are not retried.
func IsPermanent(err error) bool {
	p, ok := errors.Cause(err).(permanent)
	return ok && p.Permanent()
}
