// Package cache defines the sink a stream task writes downloaded bytes to,
// along with memory, file and Redis backed implementations.
//
// A [Provider] is append-only: bytes are stored contiguously from offset 0 in
// the order they were appended, and can be read back with
// [Provider.ReadRange] while a transfer is still running.
//
//	p := cache.NewMemory()
//	defer p.Release()
//
//	stream, err := c.Request(req, p)
//
// [File] keeps bytes in a temporary file next to its destination and moves it
// into place on [File.Commit], optionally verifying a checksum first.
// [Redis] appends to a single string key.
package cache
