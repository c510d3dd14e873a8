package main

import (
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v2"

	"github.com/adamwoolhether/httpstream/client"
	"github.com/adamwoolhether/httpstream/config"
)

// newContext parses args against the get command's flags.
func newContext(t *testing.T, args ...string) *cli.Context {
	t.Helper()

	set := flag.NewFlagSet("get", flag.ContinueOnError)
	for _, f := range getCommand().Flags {
		if err := f.Apply(set); err != nil {
			t.Fatalf("applying flag %v: %v", f.Names(), err)
		}
	}
	if err := set.Parse(args); err != nil {
		t.Fatalf("parsing args: %v", err)
	}

	return cli.NewContext(&cli.App{}, set, nil)
}

func writeConfig(t *testing.T, data string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "httpstream.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `timeout: 5s
concurrency: 2
log_level: warn
cache:
  backend: memory
  key_prefix: "yaml:"
`)
	dir := t.TempDir()

	cfg, err := resolveConfig(newContext(t,
		"--config", path,
		"--cache", "file",
		"--out-dir", dir,
		"--concurrency", "8",
		"--timeout", "1s",
	))
	if err != nil {
		t.Fatalf("resolving config: %v", err)
	}

	exp := config.Config{
		Timeout:     config.Duration(time.Second),
		Concurrency: 8,
		LogLevel:    "warn",
		Cache: config.CacheConfig{
			Backend:   config.BackendFile,
			Dir:       dir,
			KeyPrefix: "yaml:",
		},
	}
	if diff := cmp.Diff(exp, *cfg); diff != "" {
		t.Errorf("merged config mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveConfig_FlagsOnly(t *testing.T) {
	cfg, err := resolveConfig(newContext(t,
		"--cache", "redis",
		"--redis-url", "redis://localhost:6379/0",
		"--progress",
		"--log-level", "debug",
	))
	if err != nil {
		t.Fatalf("resolving config: %v", err)
	}

	if cfg.Cache.Backend != config.BackendRedis || cfg.Cache.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if !cfg.Progress || cfg.LogLevel != "debug" {
		t.Errorf("expected progress and debug logging, got %+v", cfg)
	}
}

func TestResolveConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name   string
		args   []string
		fields []string
	}{
		{name: "redis without url", args: []string{"--cache", "redis"}, fields: []string{"cache.redis_url"}},
		{name: "file without dir", args: []string{"--cache", "file"}, fields: []string{"cache.dir"}},
		{name: "unknown backend", args: []string{"--cache", "s3"}, fields: []string{"cache.backend"}},
		{name: "bad log level", args: []string{"--log-level", "loud"}, fields: []string{"log_level"}},
		{name: "too much concurrency", args: []string{"--concurrency", "1000"}, fields: []string{"concurrency"}},
		{
			name:   "flag breaks valid file",
			args:   []string{"--config", writeConfig(t, "cache:\n  backend: file\n  dir: /tmp\n"), "--cache", "redis"},
			fields: []string{"cache.redis_url"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveConfig(newContext(t, tc.args...))

			var fe config.FieldErrors
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldErrors, got %v", err)
			}
			if diff := cmp.Diff(tc.fields, fe.Fields()); diff != "" {
				t.Errorf("fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveConfig_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	if _, err := resolveConfig(newContext(t, "--config", path)); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/data.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload bytes"))
	})
	mux.HandleFunc("/gone.bin", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

func newClient(t *testing.T) *client.Client {
	t.Helper()

	hc, err := client.Build()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hc.Close() })

	return hc
}

func TestFetch_FileCommit(t *testing.T) {
	ts := newServer(t)
	hc := newClient(t)
	dir := t.TempDir()

	cfg := &config.Config{Cache: config.CacheConfig{Backend: config.BackendFile, Dir: dir}}

	n, err := fetch(t.Context(), hc, cfg, ts.URL+"/data.bin", http.StatusOK)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != int64(len("payload bytes")) {
		t.Errorf("expected %d bytes, got %d", len("payload bytes"), n)
	}

	got, err := os.ReadFile(filepath.Join(dir, "data.bin"))
	if err != nil {
		t.Fatalf("reading committed file: %v", err)
	}
	if string(got) != "payload bytes" {
		t.Errorf("expected %q, got %q", "payload bytes", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the committed file, got %d entries", len(entries))
	}
}

func TestFetch_FileDiscardOnStatusMismatch(t *testing.T) {
	ts := newServer(t)
	hc := newClient(t)
	dir := t.TempDir()

	cfg := &config.Config{Cache: config.CacheConfig{Backend: config.BackendFile, Dir: dir}}

	_, err := fetch(t.Context(), hc, cfg, ts.URL+"/gone.bin", http.StatusOK)

	var statusErr *client.UnexpectedStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected UnexpectedStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, statusErr.StatusCode)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected temp file removed and nothing committed, got %d entries", len(entries))
	}
}

func TestFetch_Redis(t *testing.T) {
	ts := newServer(t)
	hc := newClient(t)
	mr := miniredis.RunT(t)

	cfg := &config.Config{Cache: config.CacheConfig{
		Backend:   config.BackendRedis,
		RedisURL:  "redis://" + mr.Addr(),
		KeyPrefix: "dl:",
	}}

	rawURL := ts.URL + "/data.bin"
	if _, err := fetch(t.Context(), hc, cfg, rawURL, http.StatusOK); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	got, err := mr.Get("dl:" + rawURL)
	if err != nil {
		t.Fatal(err)
	}
	if got != "payload bytes" {
		t.Errorf("expected %q stored in redis, got %q", "payload bytes", got)
	}
}

func TestFetch_Memory(t *testing.T) {
	ts := newServer(t)
	hc := newClient(t)

	n, err := fetch(t.Context(), hc, &config.Config{}, ts.URL+"/data.bin", 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if n != int64(len("payload bytes")) {
		t.Errorf("expected %d bytes, got %d", len("payload bytes"), n)
	}
}
