// Package transport provides the authenticated JSON request sender,
// URL builder, and credential store that the realtime and bus clients
// depend on. It intentionally stays thin: plain CRUD concerns such as
// retry policies live outside this module.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// TokenStore exposes the current bearer credential.
type TokenStore interface {
	Token() string
	Valid() bool
}

// StaticToken is a TokenStore holding a fixed credential. The empty
// string means unauthenticated.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }
func (s StaticToken) Valid() bool   { return s != "" }

// APIError is a non-2xx response decoded from the server.
type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// Sender performs an authenticated JSON request. out may be nil when
// the caller does not need the response body.
type Sender interface {
	Send(ctx context.Context, method, path string, query url.Values, body, out any) error
}

// Client is the default Sender: base URL plus http.Client plus token
// store.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Auth    TokenStore
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) Send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, BuildURL(c.BaseURL, path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Auth != nil && c.Auth.Valid() {
		req.Header.Set("Authorization", "Bearer "+c.Auth.Token())
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// BuildURL joins base and path and appends normalized (sorted) query
// parameters.
func BuildURL(base, path string, query url.Values) string {
	u := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) == 0 {
		return u
	}
	return u + "?" + query.Encode()
}
