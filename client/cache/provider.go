package cache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned by ReadRange when the requested window is not
	// fully covered by stored bytes.
	ErrOutOfRange = errors.New("range out of bounds")
	// ErrChecksumMismatch is returned by File.Commit when the stored bytes do
	// not hash to the expected value.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrClosed is returned by operations on a committed or discarded File.
	ErrClosed = errors.New("cache closed")
)

// Provider is an append-only byte sink.
type Provider interface {
	// Append stores p directly after the bytes already held.
	Append(ctx context.Context, p []byte) error
	// ClearData drops every stored byte.
	ClearData(ctx context.Context) error
	// CurrentLength reports the number of stored bytes.
	CurrentLength(ctx context.Context) (int64, error)
	// ReadRange returns length bytes starting at offset.
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)
}

// Error wraps a sentinel error with additional detail.
type Error struct {
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func checkRange(offset, length, size int64) error {
	if offset < 0 || length < 0 || offset > size || length > size-offset {
		return &Error{
			Err:    ErrOutOfRange,
			Detail: fmt.Sprintf("offset %d length %d, stored %d", offset, length, size),
		}
	}

	return nil
}
