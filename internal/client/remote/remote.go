// Package remote implements the HTTP client for the remote document
// endpoint. One Client is scoped to a single collection addressed as
// {host}/{collection}; the websocket change feed lives in feed.go.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
)

// Client talks to one collection of the remote endpoint.
type Client struct {
	host  string
	coll  string
	http  *http.Client
	token string
}

type Option func(*Client)

// WithToken sets the bearer token attached to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a client for {host}/{collection}.
func New(host, collection string, opts ...Option) *Client {
	c := &Client{
		host: host,
		coll: collection,
		http: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Host returns the configured endpoint host.
func (c *Client) Host() string { return c.host }

// SetToken replaces the bearer token, e.g. after a re-login.
func (c *Client) SetToken(token string) { c.token = token }

// errorBody is the JSON error shape of the endpoint.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BulkResult reports the outcome of one document in a bulk write.
type BulkResult struct {
	ID     string            `json:"id"`
	OK     bool              `json:"ok"`
	Error  string            `json:"error,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Doc    document.Document `json:"doc,omitempty"`
}

// Get fetches one document by id.
func (c *Client) Get(ctx context.Context, id string) (document.Document, error) {
	var doc document.Document
	if err := c.do(ctx, http.MethodGet, c.docURL(id), nil, &doc); err != nil {
		return nil, err
	}
	return doc.NormalizeTimes(), nil
}

// Put writes one document. The endpoint checks the document's base revision
// and responds with a conflict when it is stale.
func (c *Client) Put(ctx context.Context, doc document.Document) (document.Document, error) {
	var saved document.Document
	if err := c.do(ctx, http.MethodPut, c.docURL(doc.ID()), doc, &saved); err != nil {
		return nil, err
	}
	return saved.NormalizeTimes(), nil
}

// Delete removes the document permanently.
func (c *Client) Delete(ctx context.Context, id, rev string) error {
	u := c.docURL(id) + "?rev=" + url.QueryEscape(rev)
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

type bulkRequest struct {
	Docs  []document.Document `json:"docs"`
	Force bool                `json:"force,omitempty"`
}

type bulkResponse struct {
	Results []BulkResult `json:"results"`
}

// BulkDocs writes a batch of documents. With force set, revision checks are
// skipped and client-assigned revisions are stored as-is; the sync session
// uses this for pushing offline edits.
func (c *Client) BulkDocs(ctx context.Context, docs []document.Document, force bool) ([]BulkResult, error) {
	var resp bulkResponse
	err := c.do(ctx, http.MethodPost, c.collURL("_bulk_docs"), bulkRequest{Docs: docs, Force: force}, &resp)
	if err != nil {
		return nil, err
	}
	for _, res := range resp.Results {
		if res.Doc != nil {
			res.Doc.NormalizeTimes()
		}
	}
	return resp.Results, nil
}

// BulkPut adapts BulkDocs to the store backend contract: best-effort batch,
// aggregate error for the documents that were rejected.
func (c *Client) BulkPut(ctx context.Context, docs []document.Document) ([]document.Document, error) {
	results, err := c.BulkDocs(ctx, docs, false)
	if err != nil {
		return nil, err
	}
	var saved []document.Document
	failures := map[string]error{}
	for _, res := range results {
		if !res.OK {
			failures[res.ID] = fmt.Errorf("%s: %s", res.Error, res.Reason)
			continue
		}
		saved = append(saved, res.Doc)
	}
	if len(failures) > 0 {
		return saved, &common.BulkError{Failures: failures}
	}
	return saved, nil
}

type findResponse struct {
	Docs []document.Document `json:"docs"`
}

// Find runs a selector query on the endpoint.
func (c *Client) Find(ctx context.Context, q document.Query) ([]document.Document, error) {
	var resp findResponse
	if err := c.do(ctx, http.MethodPost, c.collURL("_find"), q, &resp); err != nil {
		return nil, err
	}
	for _, doc := range resp.Docs {
		doc.NormalizeTimes()
	}
	return resp.Docs, nil
}

// Changes fetches one page of the collection's change log.
func (c *Client) Changes(ctx context.Context, since int64, limit int) (document.ChangesPage, error) {
	u := fmt.Sprintf("%s?since=%d", c.collURL("_changes"), since)
	if limit > 0 {
		u += fmt.Sprintf("&limit=%d", limit)
	}
	var page document.ChangesPage
	if err := c.do(ctx, http.MethodGet, u, nil, &page); err != nil {
		return document.ChangesPage{}, err
	}
	for _, ch := range page.Results {
		if ch.Doc != nil {
			ch.Doc.NormalizeTimes()
		}
	}
	return page, nil
}

// SessionInfo is the endpoint's answer to a login: the persisted auth blob
// fields plus the bearer token for subsequent requests.
type SessionInfo struct {
	OK    bool     `json:"ok"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	Token string   `json:"token"`
}

// Login authenticates against {host}/session.
func Login(ctx context.Context, httpc *http.Client, host, name, password string) (SessionInfo, error) {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{host: host, http: httpc}
	var info SessionInfo
	body := map[string]string{"name": name, "password": password}
	if err := c.do(ctx, http.MethodPost, host+"/session", body, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

func (c *Client) docURL(id string) string {
	return c.host + "/" + url.PathEscape(c.coll) + "/" + url.PathEscape(id)
}

func (c *Client) collURL(suffix string) string {
	return c.host + "/" + url.PathEscape(c.coll) + "/" + suffix
}

func (c *Client) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.asError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// asError maps HTTP statuses onto the shared error taxonomy so callers can
// use errors.Is regardless of which backend produced the failure.
func (c *Client) asError(resp *http.Response) error {
	var eb errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &eb)

	switch resp.StatusCode {
	case http.StatusNotFound:
		id := eb.Reason
		return &common.NotFoundError{ID: id}
	case http.StatusUnauthorized:
		return common.ErrUnauthorized
	case http.StatusForbidden:
		return common.ErrForbidden
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", eb.Reason, common.ErrConflict)
	default:
		if eb.Error != "" {
			return fmt.Errorf("endpoint error %d: %s: %s", resp.StatusCode, eb.Error, eb.Reason)
		}
		return fmt.Errorf("endpoint error %d", resp.StatusCode)
	}
}
