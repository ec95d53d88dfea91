package annotate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pepper/internal/errx"
)

// Client reaches the annotation server over plain-text HTTP.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Dep posts the raw phrase and returns the rendered pre-parse HTML.
func (c *Client) Dep(ctx context.Context, phrase string) (string, error) {
	return c.do(ctx, http.MethodPost, "/dep", phrase)
}

// Next returns the next pending phrase.
func (c *Client) Next(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/next", "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(body), nil
}

// Store posts a serialized annotation and returns the total example count.
func (c *Client) Store(ctx context.Context, annotation []byte) (int, error) {
	body, err := c.do(ctx, http.MethodPost, "/store", string(annotation))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		return 0, errx.New(err, errx.CodeDecode, http.StatusBadGateway, "store returned a non-numeric count")
	}
	return n, nil
}

func (c *Client) do(ctx context.Context, method, path, body string) (string, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", errx.New(nil, errx.CodeNotFound, http.StatusNotFound, strings.TrimSpace(string(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errx.New(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			errx.CodeBadStatus, http.StatusBadGateway, path+" failed")
	}
	return string(data), nil
}
