package extract

import (
	"net/http"

	"go.uber.org/zap"
)

type options struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// Option configures an extractor.
type Option func(*options)

// WithEndpoint overrides the conversion service URL.
func WithEndpoint(u string) Option {
	return func(o *options) { o.endpoint = u }
}

// WithHTTPClient sets the HTTP client used for remote calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithLogger sets the logger failures are reported to.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{client: sharedHTTPClient, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = sharedHTTPClient
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}
