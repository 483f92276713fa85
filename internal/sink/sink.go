// Package sink implements C6: the search-index sink. It bulk-upserts and
// bulk-deletes documents, serves the _meta reverse-index terms search C4
// depends on, and owns index/mapping lifecycle (§4.6).
package sink

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

// RetryPolicy configures the backoff used for bulk actions and 429
// responses (§4.6 "retry policy (max retries, initial backoff seconds,
// exponential backoff cap)").
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy mirrors the original's conservative defaults.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      5,
	InitialInterval: time.Second,
	MaxInterval:     30 * time.Second,
}

// backoff returns a bounded exponential backoff.BackOff honoring the
// policy (§4.6 "retry policy ... initial backoff seconds, exponential
// backoff cap"); Bulk wraps transient send failures in it.
func (p RetryPolicy) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// Sink wraps an Elasticsearch/OpenSearch client (the wire protocol is
// compatible enough that go-elasticsearch serves both, §1 "search-index
// sink").
type Sink struct {
	client *elasticsearch.Client
	retry  RetryPolicy
	logger *zap.Logger
}

// Option configures a Sink at construction.
type Option func(*Sink)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Sink) { s.retry = p }
}

// WithLogger overrides the no-op default logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New connects to the search engine at the given addresses. insecureTLS
// disables certificate verification, for local/dev clusters running
// self-signed certificates.
func New(addresses []string, username, password string, insecureTLS bool, opts ...Option) (*Sink, error) {
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureTLS, MinVersion: tls.VersionTLS12}, //nolint:gosec
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}

	s := &Sink{client: client, retry: DefaultRetryPolicy, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
