package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sync"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/adamwoolhether/httpstream/client"
	"github.com/adamwoolhether/httpstream/client/cache"
	"github.com/adamwoolhether/httpstream/client/task"
	"github.com/adamwoolhether/httpstream/config"
)

const defaultConcurrency = 4

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download URLs through stream tasks",
		ArgsUsage: "URL...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to an httpstream.yaml file"},
			&cli.StringFlag{Name: "cache", Usage: "cache backend: memory, file or redis"},
			&cli.StringFlag{Name: "out-dir", Aliases: []string{"o"}, Usage: "destination directory for the file backend"},
			&cli.StringFlag{Name: "redis-url", Usage: "redis://[:password@]host:port[/db] for the redis backend"},
			&cli.StringFlag{Name: "key-prefix", Usage: "redis key prefix"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"j"}, Usage: "maximum parallel downloads"},
			&cli.IntFlag{Name: "expect-status", Value: http.StatusOK, Usage: "fail unless the response has this status"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-transfer timeout"},
			&cli.BoolFlag{Name: "progress", Usage: "log throughput while downloading"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		},
		Action: getAction,
	}
}

func getAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one URL is required", 2)
	}

	cfg, err := resolveConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	hc, err := client.Build(cfg.ClientOptions(logger)...)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}
	defer hc.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var out sync.Mutex
	for _, rawURL := range c.Args().Slice() {
		g.Go(func() error {
			n, err := fetch(ctx, hc, cfg, rawURL, c.Int("expect-status"))

			out.Lock()
			defer out.Unlock()
			if err != nil {
				fmt.Fprintf(c.App.Writer, "%s\tfailed\t%v\n", rawURL, err)
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s\t%d bytes\n", rawURL, n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	return nil
}

// resolveConfig loads the config file, if any, and applies flag overrides.
func resolveConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if p := c.String("config"); p != "" {
		loaded, err := config.Load(p)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("cache") {
		cfg.Cache.Backend = c.String("cache")
	}
	if c.IsSet("out-dir") {
		cfg.Cache.Dir = c.String("out-dir")
	}
	if c.IsSet("redis-url") {
		cfg.Cache.RedisURL = c.String("redis-url")
	}
	if c.IsSet("key-prefix") {
		cfg.Cache.KeyPrefix = c.String("key-prefix")
	}
	if c.IsSet("concurrency") {
		cfg.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = config.Duration(c.Duration("timeout"))
	}
	if c.IsSet("progress") {
		cfg.Progress = c.Bool("progress")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fetch streams rawURL into the configured backend and returns the number of
// bytes received.
func fetch(ctx context.Context, hc *client.Client, cfg *config.Config, rawURL string, expCode int) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parsing url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("instantiating request: %w", err)
	}

	sink, err := newSink(cfg.Cache, u)
	if err != nil {
		return 0, err
	}

	var opts []client.RequestOption
	if cfg.Cache.Retain != nil {
		opts = append(opts, client.WithRetainInMemory(*cfg.Cache.Retain))
	} else if sink.provider != nil {
		opts = append(opts, client.WithRetainInMemory(false))
	}

	s, err := hc.Request(req, sink.provider, opts...)
	if err != nil {
		sink.finish(false)
		return 0, err
	}

	sub, err := s.Subscribe(ctx)
	if err != nil {
		sink.finish(false)
		return 0, err
	}
	defer sub.Dispose()

	var received int64
	for ev := range sub.Events() {
		switch ev.Kind {
		case task.EventResponse:
			if expCode != 0 && ev.Response.StatusCode != expCode {
				sub.Dispose()
				sink.finish(false)
				return 0, &client.UnexpectedStatusError{StatusCode: ev.Response.StatusCode, Err: client.ErrUnexpectedStatusCode}
			}
		case task.EventData:
			received = ev.Total
		case task.EventSuccess:
			return received, sink.finish(true)
		case task.EventFailed, task.EventCancelled:
			sink.finish(false)
			return received, ev.Err
		}
	}

	sink.finish(false)
	return received, fmt.Errorf("download interrupted: %w", context.Cause(ctx))
}

// sink is the cache provider for one download and how to finish it.
type sink struct {
	provider cache.Provider
	finish   func(ok bool) error
}

func newSink(cfg config.CacheConfig, u *url.URL) (*sink, error) {
	switch cfg.Backend {
	case config.BackendFile:
		name := path.Base(u.Path)
		if name == "/" || name == "." || name == "" {
			name = "index"
		}

		f, err := cache.NewFile(filepath.Join(cfg.Dir, name))
		if err != nil {
			return nil, err
		}
		return &sink{provider: f, finish: func(ok bool) error {
			if ok {
				return f.Commit()
			}
			return f.Discard()
		}}, nil

	case config.BackendRedis:
		r, err := cache.NewRedisFromURL(cfg.RedisURL, cfg.KeyPrefix+u.String())
		if err != nil {
			return nil, err
		}
		return &sink{provider: r, finish: func(bool) error { return r.Close() }}, nil

	default:
		m := cache.NewMemory()
		return &sink{provider: m, finish: func(bool) error {
			m.Release()
			return nil
		}}, nil
	}
}
