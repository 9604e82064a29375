package client

import (
	"net/http"
	"time"
)

// Option configures the TaskQueue client.
type Option func(*options)

type options struct {
	apiKey     string
	httpClient *http.Client
	headers    map[string]string
}

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// WithAPIKey sets the API key sent as the X-API-Key header on every request.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithHTTPClientOpt allows providing a custom HTTP client, e.g. for custom
// transports or TLS configuration.
func WithHTTPClientOpt(httpClient *http.Client) Option {
	return func(o *options) {
		o.httpClient = httpClient
	}
}

// WithTimeout sets the request timeout on the client's http.Client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.httpClient.Timeout = d
	}
}

// WithHeader adds a custom header sent on every request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.headers[key] = value
	}
}
