package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/engine"
	"github.com/roach88/stringpool/internal/ir"
)

var (
	_ engine.Peer         = (*Client)(nil)
	_ engine.IntervalPeer = (*Client)(nil)
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4096

// Client talks to a remote node.
//
// Iterators returned by Feed and Fetch hold the response body open; closing
// the iterator closes the body.
type Client struct {
	name     string
	base     *url.URL
	http     *http.Client
	interval time.Duration
	actor    ir.Actor
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. Defaults to a client without an
// overall timeout; the engine bounds every request by context.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithInterval sets the sync interval of this peer.
func WithInterval(d time.Duration) ClientOption {
	return func(cl *Client) { cl.interval = d }
}

// WithActor sets the user and domain sent with uploads and updates.
func WithActor(a ir.Actor) ClientOption {
	return func(cl *Client) { cl.actor = a }
}

// NewClient creates a client for the node at baseURL, known locally as
// name.
func NewClient(name, baseURL string, opts ...ClientOption) (*Client, error) {
	if name == "" {
		return nil, fmt.Errorf("peer name is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("peer %s: invalid url: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("peer %s: unsupported url scheme %q", name, u.Scheme)
	}
	c := &Client{name: name, base: u, http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements engine.Peer.
func (c *Client) Name() string { return c.name }

// Interval implements engine.IntervalPeer. Zero means the engine default.
func (c *Client) Interval() time.Duration { return c.interval }

// Feed implements engine.Peer.
func (c *Client) Feed(ctx context.Context, since int64, limit int) (ir.Iterator[ir.FeedEntry], error) {
	q := url.Values{}
	q.Set(paramSince, strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set(paramLimit, strconv.Itoa(limit))
	}
	resp, err := c.do(ctx, http.MethodGet, "/feed", q, nil, nil)
	if err != nil {
		return nil, err
	}
	return &feedPage{
		Iterator:  codec.DecodeFeed(ctx, resp.Body),
		truncated: resp.Header.Get(headerFeedTruncated) == "true",
	}, nil
}

// feedPage is a decoded feed response that knows whether the server held
// back newer entries.
type feedPage struct {
	ir.Iterator[ir.FeedEntry]
	truncated bool
}

// Truncated implements engine.TruncatedFeed.
func (p *feedPage) Truncated() bool { return p.truncated }

// Fetch implements engine.Peer.
func (c *Client) Fetch(ctx context.Context, ids []string) (ir.Iterator[ir.Record], error) {
	return c.Get(ctx, ids, false)
}

// Get returns the records with the given ids.
func (c *Client) Get(ctx context.Context, ids []string, concise bool) (ir.Iterator[ir.Record], error) {
	if len(ids) == 0 {
		return ir.NewSliceIterator[ir.Record](nil, nil), nil
	}
	q := url.Values{paramID: ids}
	if concise {
		q.Set(paramConcise, "true")
	}
	resp, err := c.do(ctx, http.MethodGet, "/strings", q, nil, nil)
	if err != nil {
		return nil, err
	}
	return codec.Decode(ctx, resp.Body), nil
}

// Linked returns the cluster of id.
func (c *Client) Linked(ctx context.Context, id string, concise bool) ([]ir.Record, error) {
	q := url.Values{paramID: {id}}
	if concise {
		q.Set(paramConcise, "true")
	}
	resp, err := c.do(ctx, http.MethodGet, "/linked", q, nil, nil)
	if err != nil {
		return nil, err
	}
	return ir.Collect[ir.Record](codec.Decode(ctx, resp.Body))
}

// Find runs a search with raw query parameters (text, combine, type, ...).
func (c *Client) Find(ctx context.Context, q url.Values) ([]ir.Record, error) {
	resp, err := c.do(ctx, http.MethodGet, "/find", q, nil, nil)
	if err != nil {
		return nil, err
	}
	return ir.Collect[ir.Record](codec.Decode(ctx, resp.Body))
}

// Upload stores records on the remote node and returns the per-record
// results.
func (c *Client) Upload(ctx context.Context, recs []ir.Record) ([]ir.WriteResult, error) {
	var body bytes.Buffer
	if err := codec.EncodeRecords(&body, recs); err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	header := http.Header{}
	header.Set(headerDataFormat, formatXML)
	header.Set("Content-Type", contentTypeXML)
	resp, err := c.do(ctx, http.MethodPut, "/strings", nil, &body, header)
	if err != nil {
		return nil, err
	}
	return ir.Collect(codec.DecodeResults(ctx, resp.Body))
}

// Update changes canonical id and/or deleted flag of id. Returns nil, nil
// when the remote node does not know id.
func (c *Client) Update(ctx context.Context, id string, canonicalID *string, deleted *bool) (*ir.Record, error) {
	q := url.Values{paramID: {id}}
	if canonicalID != nil {
		q.Set(paramCanonicalID, *canonicalID)
	}
	if deleted != nil {
		q.Set(paramDeleted, strconv.FormatBool(*deleted))
	}
	resp, err := c.do(ctx, http.MethodPost, "/update", q, nil, nil)
	if ir.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	recs, err := ir.Collect[ir.Record](codec.Decode(ctx, resp.Body))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Count returns the number of records created after since.
func (c *Client) Count(ctx context.Context, since int64) (int64, error) {
	return c.integer(ctx, "/count", url.Values{paramSince: {strconv.FormatInt(since, 10)}})
}

// ClusterCount returns the number of clusters.
func (c *Client) ClusterCount(ctx context.Context) (int64, error) {
	return c.integer(ctx, "/clusters/count", nil)
}

func (c *Client) integer(ctx context.Context, path string, q url.Values) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, path, q, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, ir.Transient("httpapi.count", err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, ir.NewDecodeError("httpapi.count", "invalid count", err)
	}
	return n, nil
}

// do sends a request and returns a successful response. The caller owns
// the body. Failures are classified: transport errors and 5xx as
// TRANSIENT, 404 as NOT_FOUND, other 4xx as VALIDATION.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body io.Reader, header http.Header) (*http.Response, error) {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, ir.NewInvariantError("httpapi.request", "", err.Error())
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if c.actor.User != "" {
		req.Header.Set(headerUser, c.actor.User)
	}
	if c.actor.Domain != "" {
		req.Header.Set(headerDomain, c.actor.Domain)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ir.Transient("httpapi."+c.name, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := fmt.Sprintf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &ir.Error{Kind: ir.KindNotFound, Op: "httpapi." + c.name, Message: text}
	case resp.StatusCode >= 500:
		return nil, &ir.Error{Kind: ir.KindTransient, Op: "httpapi." + c.name, Message: text}
	default:
		return nil, &ir.Error{Kind: ir.KindValidation, Op: "httpapi." + c.name, Message: text}
	}
}
