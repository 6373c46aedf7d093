// Package client is a small HTTP client for the pkgfs API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/foundry/pkgfs/internal/core/models"
	"github.com/foundry/pkgfs/internal/pathcodec"
)

// Client talks to a pkgfs server.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New returns a Client using http.DefaultClient.
func New(baseURL, token string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTP: http.DefaultClient}
}

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("error (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

func (c *Client) url(format string, parts ...string) string {
	escaped := make([]interface{}, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.BaseURL + fmt.Sprintf(format, escaped...)
}

func (c *Client) do(ctx context.Context, method, target string, body io.Reader, size int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = size
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	return hc.Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, target string, want int, out interface{}) error {
	resp, err := c.do(ctx, method, target, nil, 0)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Push uploads r as name|version.
func (c *Client) Push(ctx context.Context, name, version string, r io.Reader, size int64) (*models.WriteResponse, error) {
	resp, err := c.do(ctx, http.MethodPut, c.url("/api/v1/files/%s", pathcodec.Compose(name, version)), r, size)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, errorFromResponse(resp)
	}
	var out models.WriteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// Download is an open package body. The caller closes Body.
type Download struct {
	Body     io.ReadCloser
	Size     int64
	FullPath string
}

// Pull opens a package: the latest version for a bare name, else the
// exact version.
func (c *Client) Pull(ctx context.Context, path string) (*Download, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url("/api/v1/files/%s", path), nil, 0)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, errorFromResponse(resp)
	}
	return &Download{
		Body:     resp.Body,
		Size:     resp.ContentLength,
		FullPath: resp.Header.Get("X-Package-Path"),
	}, nil
}

// Exists reports whether path resolves on the server.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, c.url("/api/v1/files/%s", path), nil, 0)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
}

// List returns every package when dir is empty, else the entries of one
// package.
func (c *Client) List(ctx context.Context, dir string) (*models.ListResponse, error) {
	target := c.BaseURL + "/api/v1/files"
	if dir != "" {
		target = c.url("/api/v1/directories/%s/files", dir)
	}
	var out models.ListResponse
	if err := c.doJSON(ctx, http.MethodGet, target, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Versions(ctx context.Context, name string) (*models.VersionsResponse, error) {
	var out models.VersionsResponse
	if err := c.doJSON(ctx, http.MethodGet, c.url("/api/v1/packages/%s/versions", name), http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Info(ctx context.Context, name string) (*models.PackageStat, error) {
	var out models.PackageStat
	if err := c.doJSON(ctx, http.MethodGet, c.url("/api/v1/packages/%s", name), http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes one version.
func (c *Client) Delete(ctx context.Context, name, version string) error {
	return c.doJSON(ctx, http.MethodDelete, c.url("/api/v1/files/%s", pathcodec.Compose(name, version)), http.StatusOK, nil)
}

// DeleteDirectory removes a package and all of its versions.
func (c *Client) DeleteDirectory(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, c.url("/api/v1/directories/%s", name)+"?recursive=true", http.StatusOK, nil)
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	if len(body) == 0 {
		return apiErr
	}

	var payload models.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		apiErr.Message = payload.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
