// Package client provides a Go SDK for the task queue's HTTP task API and
// admin API, plus a WebSocket client for the real-time event feed.
//
// # Basic Usage
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	t, err := c.SubmitTask(ctx, "email", map[string]interface{}{
//	    "to":      "user@example.com",
//	    "subject": "Hello",
//	}, client.SubmitTaskOptions{})
//
// # WebSocket Events
//
//	if err := c.ConnectWebSocket(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for event := range c.Events() {
//	    fmt.Printf("event: %s task: %s\n", event.Type, event.Task.ID)
//	}
//
// # Configuration
//
// The client supports functional options for configuration:
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithAPIKey("your-api-key"),
//	    client.WithTimeout(30*time.Second),
//	)
package client
