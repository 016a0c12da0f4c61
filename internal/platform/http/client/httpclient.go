package client

import (
	"context"
	"net/http"
)

// HTTPClient is the context-first request interface consumers depend on.
type HTTPClient interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	ReadBody(resp *http.Response) ([]byte, error)
}

// ContextClient adapts Client to HTTPClient.
type ContextClient struct {
	client *Client
}

// NewContextClient creates a ContextClient adapter.
func NewContextClient(c *Client) *ContextClient {
	return &ContextClient{client: c}
}

// Do performs an HTTP request, using the provided context.
func (c *ContextClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(ctx))
}

// ReadBody delegates to Client.ReadBody.
func (c *ContextClient) ReadBody(resp *http.Response) ([]byte, error) {
	return c.client.ReadBody(resp)
}
