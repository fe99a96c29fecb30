// Package graphql is the gateway's transport to the upstream GraphQL server.
// Queries and mutations go over HTTP, subscriptions over a
// graphql-transport-ws WebSocket, and file uploads over a multipart POST.
// Every request and connection attempt asks the TokenSource for a fresh
// bearer token.
package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxResponseBytes = 10 << 20

// TokenSource yields the bearer token attached to outgoing operations.
// An empty token means the operation is sent without Authorization.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Request is a GraphQL operation
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

func (r Request) name() string {
	if r.OperationName != "" {
		return r.OperationName
	}
	return OperationKind(r.Query)
}

// Response is the GraphQL response envelope
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GQLError      `json:"errors,omitempty"`
}

// Client sends queries and mutations over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
	tokens   TokenSource
	logger   *zap.SugaredLogger
}

// Option configures a Client or MultipartUploader
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewClient creates an HTTP GraphQL client for endpoint
func NewClient(endpoint string, tokens TokenSource, opts ...Option) *Client {
	o := buildOptions(opts)
	return &Client{endpoint: endpoint, http: o.httpClient, tokens: tokens, logger: o.logger}
}

// Do sends req and decodes the "data" member of the response into out.
// out may be nil when the caller only cares about success.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	op := req.name()

	body, err := json.Marshal(req)
	if err != nil {
		return &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindInternal, Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if err := authorize(ctx, c.tokens, httpReq); err != nil {
		return &Error{Kind: KindUnauthenticated, Op: op, Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debugw("GraphQL operation",
		"operation", op,
		"status", resp.StatusCode,
		"latency", time.Since(start),
	)

	return decodeResponse(op, resp, out)
}

// authorize sets the bearer token on r, fetched fresh from tokens.
func authorize(ctx context.Context, tokens TokenSource, r *http.Request) error {
	if tokens == nil {
		return nil
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch token: %w", err)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// decodeResponse turns an HTTP response into data or a typed *Error. A body
// that is not a GraphQL envelope yields an error classified from the status.
func decodeResponse(op string, resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var envelope Response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		kind := KindInternal
		if resp.StatusCode >= 300 {
			kind = KindForStatus(resp.StatusCode)
		}
		return &Error{Kind: kind, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(envelope.Errors) > 0 {
		return errorFromGraphQL(op, resp.StatusCode, envelope.Errors)
	}
	if resp.StatusCode >= 300 {
		return &Error{Kind: KindForStatus(resp.StatusCode), Op: op, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	return decodeData(op, envelope.Data, out)
}

func decodeData(op string, data json.RawMessage, out any) error {
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
