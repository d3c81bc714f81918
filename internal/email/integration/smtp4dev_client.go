//go:build integration

// Package integration drives the responder against a local smtp4dev instance.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// SMTP4DevClient is a minimal client for the smtp4dev v3 API.
// It is used only in integration tests.
type SMTP4DevClient struct {
	base   string
	client *http.Client
}

func NewSMTP4DevClient(base string, httpClient *http.Client) *SMTP4DevClient {
	if base == "" {
		base = "http://localhost:8025/api"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SMTP4DevClient{base: strings.TrimRight(base, "/"), client: httpClient}
}

// Message is the summary smtp4dev returns for a received message.
type Message struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject"`
	From    string   `json:"from"`
	To      []string `json:"to"`
}

type messagePage struct {
	Results []Message `json:"results"`
}

func (c *SMTP4DevClient) DeleteAllMessages(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/messages/*", nil)
}

// ListMessages returns the most recent messages, optionally filtered by a
// search term matched against subject and addresses.
func (c *SMTP4DevClient) ListMessages(ctx context.Context, search string) ([]Message, error) {
	path := "/messages?pageSize=100"
	if search != "" {
		path += "&searchTerms=" + url.QueryEscape(search)
	}
	var page messagePage
	if err := c.do(ctx, http.MethodGet, path, &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

func (c *SMTP4DevClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("smtp4dev %s %s failed: %s (%s)", method, path, resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
