package cache

import (
	"context"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Memory keeps appended bytes in a pooled buffer.
type Memory struct {
	mu  sync.RWMutex
	buf *bytebufferpool.ByteBuffer
}

// NewMemory returns an empty Memory provider. Call Release once it is no
// longer read from to return its buffer to the pool.
func NewMemory() *Memory {
	return &Memory{buf: bytebufferpool.Get()}
}

func (m *Memory) Append(_ context.Context, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buf == nil {
		return ErrClosed
	}
	_, err := m.buf.Write(p)
	return err
}

func (m *Memory) ClearData(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buf == nil {
		return ErrClosed
	}
	m.buf.Reset()
	return nil
}

func (m *Memory) CurrentLength(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.buf == nil {
		return 0, ErrClosed
	}
	return int64(m.buf.Len()), nil
}

func (m *Memory) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.buf == nil {
		return nil, ErrClosed
	}
	if err := checkRange(offset, length, int64(m.buf.Len())); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	copy(out, m.buf.B[offset:offset+length])
	return out, nil
}

// Bytes returns a copy of everything stored so far.
func (m *Memory) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.buf == nil {
		return nil
	}
	return append([]byte(nil), m.buf.B...)
}

// Release returns the buffer to the pool. Later calls fail with ErrClosed.
func (m *Memory) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.buf != nil {
		bytebufferpool.Put(m.buf)
		m.buf = nil
	}
}
