package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func providers(t *testing.T) map[string]Provider {
	t.Helper()

	mem := NewMemory()
	t.Cleanup(mem.Release)

	file, err := NewFile(filepath.Join(t.TempDir(), "out.bin"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { file.Discard() })

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	rds, err := NewRedis(rc, "stream:test")
	if err != nil {
		t.Fatal(err)
	}

	return map[string]Provider{
		"memory": mem,
		"file":   file,
		"redis":  rds,
	}
}

func TestProvider_AppendAndRead(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			for _, chunk := range []string{"Test ", "data", "!"} {
				if err := p.Append(ctx, []byte(chunk)); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			n, err := p.CurrentLength(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 10 {
				t.Errorf("expected length 10, got %d", n)
			}

			all, err := p.ReadRange(ctx, 0, n)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff("Test data!", string(all)); diff != "" {
				t.Errorf("full read (-want +got):\n%s", diff)
			}

			mid, err := p.ReadRange(ctx, 5, 4)
			if err != nil {
				t.Fatal(err)
			}
			if string(mid) != "data" {
				t.Errorf("expected %q, got %q", "data", mid)
			}

			empty, err := p.ReadRange(ctx, n, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(empty) != 0 {
				t.Errorf("expected empty read, got %q", empty)
			}
		})
	}
}

func TestProvider_OutOfRange(t *testing.T) {
	testCases := []struct {
		name   string
		offset int64
		length int64
	}{
		{name: "past end", offset: 2, length: 3},
		{name: "negative offset", offset: -1, length: 1},
		{name: "negative length", offset: 0, length: -1},
		{name: "offset past end", offset: 4, length: 0},
		{name: "length overflows", offset: 1, length: math.MaxInt64},
		{name: "both at max", offset: math.MaxInt64, length: math.MaxInt64},
	}

	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Append(t.Context(), []byte("abc")); err != nil {
				t.Fatal(err)
			}

			for _, tc := range testCases {
				t.Run(tc.name, func(t *testing.T) {
					_, err := p.ReadRange(t.Context(), tc.offset, tc.length)
					if !errors.Is(err, ErrOutOfRange) {
						t.Errorf("expected ErrOutOfRange, got %v", err)
					}
				})
			}
		})
	}
}

func TestProvider_ClearData(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			if err := p.Append(ctx, []byte("stale")); err != nil {
				t.Fatal(err)
			}
			if err := p.ClearData(ctx); err != nil {
				t.Fatal(err)
			}

			n, err := p.CurrentLength(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if n != 0 {
				t.Errorf("expected empty provider after clear, got %d bytes", n)
			}

			if err := p.Append(ctx, []byte("fresh")); err != nil {
				t.Fatal(err)
			}
			got, err := p.ReadRange(ctx, 0, 5)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "fresh" {
				t.Errorf("expected %q, got %q", "fresh", got)
			}
		})
	}
}

func TestMemory_Release(t *testing.T) {
	m := NewMemory()
	m.Release()
	m.Release()

	if err := m.Append(t.Context(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if m.Bytes() != nil {
		t.Error("expected nil bytes after release")
	}
}

func TestFile_Commit(t *testing.T) {
	payload := []byte("file contents")
	sum := sha256.Sum256(payload)

	testCases := []struct {
		name     string
		checksum string
		expErr   error
	}{
		{name: "no checksum"},
		{name: "matching checksum", checksum: hex.EncodeToString(sum[:])},
		{name: "mismatched checksum", checksum: "deadbeef", expErr: ErrChecksumMismatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "out.txt")

			var opts []FileOption
			if tc.checksum != "" {
				opts = append(opts, WithChecksum(sha256.New(), tc.checksum))
			}

			f, err := NewFile(dest, opts...)
			if err != nil {
				t.Fatal(err)
			}
			tmp := f.Name()

			if err := f.Append(t.Context(), payload); err != nil {
				t.Fatal(err)
			}

			err = f.Commit()
			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) {
					t.Fatalf("expected %v, got %v", tc.expErr, err)
				}
				if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
					t.Errorf("destination must not exist after failed commit, stat err: %v", err)
				}
				if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
					t.Errorf("temp file must be removed after failed commit, stat err: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("commit: %v", err)
			}

			got, err := os.ReadFile(dest)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(payload, got); diff != "" {
				t.Errorf("committed contents (-want +got):\n%s", diff)
			}

			if err := f.Append(t.Context(), []byte("more")); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed after commit, got %v", err)
			}
		})
	}
}

func TestFile_ChecksumAfterClear(t *testing.T) {
	payload := []byte("second attempt")
	sum := sha256.Sum256(payload)

	f, err := NewFile(filepath.Join(t.TempDir(), "out.txt"), WithChecksum(sha256.New(), hex.EncodeToString(sum[:])))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Append(t.Context(), []byte("first attempt")); err != nil {
		t.Fatal(err)
	}
	if err := f.ClearData(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := f.Append(t.Context(), payload); err != nil {
		t.Fatal(err)
	}

	if err := f.Commit(); err != nil {
		t.Errorf("expected checksum to cover only bytes after clear, got %v", err)
	}
}

func TestFile_ChecksumAfterPartialWrite(t *testing.T) {
	payload := []byte("abcdef")
	sum := sha256.Sum256(payload)

	dest := filepath.Join(t.TempDir(), "out.txt")
	f, err := NewFile(dest, WithChecksum(sha256.New(), hex.EncodeToString(sum[:])))
	if err != nil {
		t.Fatal(err)
	}

	// A write that failed after storing only "abc".
	if _, err := f.file.WriteAt(payload[:3], 0); err != nil {
		t.Fatal(err)
	}
	f.record(payload[:3])

	if err := f.Append(t.Context(), payload[3:]); err != nil {
		t.Fatal(err)
	}
	if err := f.Commit(); err != nil {
		t.Fatalf("expected checksum over the written prefix and retry to match, got %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Errorf("committed contents (-want +got):\n%s", diff)
	}
}

func TestFile_Discard(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.txt")

	f, err := NewFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	tmp := f.Name()

	if filepath.Dir(tmp) != dir {
		t.Errorf("expected temp file in %s, got %s", dir, tmp)
	}

	if err := f.Append(t.Context(), []byte("partial")); err != nil {
		t.Fatal(err)
	}
	if err := f.Discard(); err != nil {
		t.Fatal(err)
	}
	if err := f.Discard(); err != nil {
		t.Errorf("second discard: %v", err)
	}

	if _, err := os.Stat(tmp); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file must be removed, stat err: %v", err)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("destination must not exist, stat err: %v", err)
	}
	if err := f.Commit(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestRedis_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	r, err := NewRedisFromURL("redis://"+mr.Addr(), "stream:url")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Append(t.Context(), []byte("via url")); err != nil {
		t.Fatal(err)
	}

	got, err := mr.Get("stream:url")
	if err != nil {
		t.Fatal(err)
	}
	if got != "via url" {
		t.Errorf("expected %q stored under key, got %q", "via url", got)
	}
	if r.Key() != "stream:url" {
		t.Errorf("unexpected key %q", r.Key())
	}
}

func TestRedis_Validation(t *testing.T) {
	if _, err := NewRedis(nil, "k"); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewRedis(redis.NewClient(&redis.Options{}), ""); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewRedisFromURL("not a url", "k"); err == nil {
		t.Error("expected error for invalid url")
	}
}
