package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamwoolhether/httpstream/client/task"
)

// progressLog logs the throughput of a task at most once per second.
type progressLog struct {
	logger      *slog.Logger
	transferred int64
	total       int64
	startTime   time.Time
	lastLog     time.Time
}

// logProgress follows t's events until it is terminal.
func logProgress(t *task.Task, logger *slog.Logger) {
	r := t.Subscribe()
	defer r.Close()

	pl := progressLog{
		logger:    logger.With("task", t.ID()),
		total:     -1,
		startTime: time.Now(),
	}

	for {
		ev, err := r.Next(context.Background())
		if err != nil {
			return
		}

		switch ev.Kind {
		case task.EventResponse:
			if ev.Response != nil {
				pl.total = ev.Response.ContentLength
			}
		case task.EventData:
			pl.transferred = ev.Total
			if time.Since(pl.lastLog) >= time.Second {
				pl.lastLog = time.Now()
				pl.log("downloading")
			}
		case task.EventSuccess:
			pl.log("download complete")
		case task.EventFailed, task.EventCancelled:
			pl.log("download stopped", "reason", ev.Kind.String())
		}
	}
}

func (pl *progressLog) log(msg string, extra ...any) {
	elapsed := time.Since(pl.startTime)
	attrs := []any{
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", pl.transferred,
		"total", pl.total,
		"mbps", fmt.Sprintf("%.2f", float64(pl.transferred)/elapsed.Seconds()/(1024*1024)),
	}
	if pl.total > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(pl.transferred)/float64(pl.total)*100))
	}
	pl.logger.Info(msg, append(attrs, extra...)...)
}
