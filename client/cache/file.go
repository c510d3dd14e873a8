package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// File appends to a temporary file created alongside destPath. The file is
// moved to destPath by Commit, or removed by Discard.
type File struct {
	destPath string
	checksum *checksumVerifier

	mu   sync.Mutex
	file *os.File
	size int64
}

// FileOption configures a [File].
type FileOption func(*File) error

// WithChecksum makes Commit verify the stored bytes. h is a [hash.Hash]
// instance (e.g. sha256.New()), and expected is the hex-encoded checksum.
func WithChecksum(h hash.Hash, expected string) FileOption {
	return func(f *File) error {
		if h == nil {
			return errors.New("hash must not be nil")
		}
		if expected == "" {
			return errors.New("expected checksum must not be empty")
		}

		f.checksum = &checksumVerifier{hash: h, expected: expected}
		return nil
	}
}

// NewFile creates the temporary file backing a provider for destPath.
func NewFile(destPath string, optFns ...FileOption) (*File, error) {
	if destPath == "" {
		return nil, errors.New("destPath must not be empty")
	}

	f := &File{destPath: destPath}
	for _, opt := range optFns {
		if err := opt(f); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	file, err := os.CreateTemp(filepath.Dir(destPath), ".httpstream-cache-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	f.file = file

	return f, nil
}

// Name returns the path of the backing temporary file.
func (f *File) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return ""
	}
	return f.file.Name()
}

func (f *File) Append(_ context.Context, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return ErrClosed
	}

	n, err := f.file.WriteAt(p, f.size)
	f.record(p[:n])
	if err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	return nil
}

// record accounts for bytes that reached the file, including the written
// prefix of a failed write. Callers hold f.mu.
func (f *File) record(p []byte) {
	f.size += int64(len(p))
	if f.checksum != nil {
		f.checksum.Write(p)
	}
}

func (f *File) ClearData(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return ErrClosed
	}
	if err := f.file.Truncate(0); err != nil {
		return fmt.Errorf("truncating temp file: %w", err)
	}
	f.size = 0
	if f.checksum != nil {
		f.checksum.hash.Reset()
	}

	return nil
}

func (f *File) CurrentLength(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, ErrClosed
	}
	return f.size, nil
}

func (f *File) ReadRange(_ context.Context, offset, length int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil, ErrClosed
	}
	if err := checkRange(offset, length, f.size); err != nil {
		return nil, err
	}

	out := make([]byte, length)
	if _, err := f.file.ReadAt(out, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading temp file: %w", err)
	}

	return out, nil
}

// Commit verifies the checksum, if any, and renames the temporary file to the
// destination path. On failure the temporary file is removed.
func (f *File) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return ErrClosed
	}

	var successful bool
	defer func() {
		if !successful {
			f.cleanup()
		}
	}()

	if err := f.checksum.Verify(); err != nil {
		return err
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}

	name := f.file.Name()
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(name, f.destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	f.file = nil
	successful = true

	return nil
}

// Discard closes and removes the temporary file.
func (f *File) Discard() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	return f.cleanup()
}

func (f *File) cleanup() error {
	name := f.file.Name()
	err := f.file.Close()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	f.file = nil

	if rerr := os.Remove(name); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = errors.Join(err, fmt.Errorf("removing temp file: %w", rerr))
	}

	return err
}

// checksumVerifier hashes appended bytes for verification on commit.
type checksumVerifier struct {
	hash     hash.Hash
	expected string
}

func (v *checksumVerifier) Write(p []byte) {
	v.hash.Write(p)
}

func (v *checksumVerifier) Verify() error {
	if v == nil {
		return nil
	}

	actual := hex.EncodeToString(v.hash.Sum(nil))
	if actual != v.expected {
		return &Error{
			Err:    ErrChecksumMismatch,
			Detail: fmt.Sprintf("expected %s, got %s", v.expected, actual),
		}
	}

	return nil
}
