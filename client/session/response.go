package session

import (
	"net/http"
	"net/url"
)

// Response is the metadata of an HTTP response, detached from its body.
type Response struct {
	StatusCode    int
	Status        string
	Proto         string
	Header        http.Header
	ContentLength int64
	URL           *url.URL
}

func newResponse(resp *http.Response) *Response {
	if resp == nil {
		return nil
	}

	r := &Response{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Header:        resp.Header.Clone(),
		ContentLength: resp.ContentLength,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		u := *resp.Request.URL
		r.URL = &u
	}

	return r
}
