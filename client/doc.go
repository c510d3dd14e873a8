// Package client streams HTTP responses as ordered progress events, writing
// the received bytes through to a pluggable cache provider.
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithTimeout(30 * time.Second),
//		client.WithUserAgent("myapp/1.0"),
//		client.WithThrottle(10, 5),
//	)
//	defer c.Close()
//
// # Streaming
//
// [Client.Request] returns a cold [Stream]. Nothing is sent until
// [Stream.Subscribe], which clears the cache provider, creates the task and
// resumes it:
//
//	p := cache.NewMemory()
//	s, err := c.Request(req, p)
//	sub, err := s.Subscribe(ctx)
//	defer sub.Dispose()
//
//	for ev := range sub.Events() {
//		switch ev.Kind {
//		case task.EventData:
//			fmt.Println("received", ev.Total)
//		case task.EventSuccess:
//			fmt.Println("done")
//		case task.EventFailed:
//			return ev.Err
//		}
//	}
//
// Disposing a subscription early cancels the transfer.
//
// # Loading Data
//
// [Client.LoadData] waits for the terminal event and returns the body:
//
//	b, err := c.LoadData(ctx, req, client.WithExpectedStatus(http.StatusOK))
//
// # Tasks
//
// [Client.CreateTask] hands out the underlying [task.Task] for callers that
// want to drive Resume and Cancel themselves. [Client.Close] cancels every
// task still running and invalidates the session.
package client
