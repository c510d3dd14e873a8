// Package httpstream exposes the client builder.
package httpstream

import (
	"github.com/adamwoolhether/httpstream/client"
)

// NewClient instantiates a new *client.Client with the provided options.
// Call Close on the returned client to cancel outstanding transfers.
func NewClient(opts ...client.Option) (*client.Client, error) {
	return client.Build(opts...)
}
