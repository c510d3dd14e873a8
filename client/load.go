package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adamwoolhether/httpstream/client/task"
)

// LoadData streams req to completion and returns the whole body. A response
// without a body yields nil data and a nil error.
//
// With [WithExpectedStatus], a mismatching response is read up to a small
// limit for the error body, after which the transfer is cancelled.
func (c *Client) LoadData(ctx context.Context, req *http.Request, optFns ...LoadOption) ([]byte, error) {
	var settings loadOpts
	for _, opt := range optFns {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	s, err := c.Request(req, settings.provider)
	if err != nil {
		return nil, err
	}

	sub, err := s.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	defer sub.Dispose()

	var statusErr *UnexpectedStatusError
	var body []byte

	for ev := range sub.Events() {
		switch ev.Kind {
		case task.EventResponse:
			if settings.expCode == 0 || ev.Response.StatusCode == settings.expCode {
				continue
			}

			statusErr = &UnexpectedStatusError{
				StatusCode: ev.Response.StatusCode,
				Err:        ErrUnexpectedStatusCode,
			}
			if ev.Response.StatusCode == http.StatusUnauthorized || ev.Response.StatusCode == http.StatusForbidden {
				statusErr.Err = errors.Join(ErrUnexpectedStatusCode, ErrAuthFailure)
			}

		case task.EventData:
			if statusErr == nil {
				continue
			}

			body = append(body, ev.Chunk[:min(len(ev.Chunk), maxErrBodySize-len(body))]...)
			if len(body) >= maxErrBodySize {
				statusErr.Body = string(body)
				return nil, statusErr
			}

		case task.EventSuccess:
			if statusErr != nil {
				statusErr.Body = string(body)
				return nil, statusErr
			}
			return ev.Data, nil

		case task.EventFailed, task.EventCancelled:
			if statusErr != nil {
				statusErr.Body = string(body)
				return nil, statusErr
			}
			return nil, fmt.Errorf("load %s: %w", ev.TaskID, ev.Err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}

	return nil, fmt.Errorf("load: %w", task.ErrCancelled)
}
