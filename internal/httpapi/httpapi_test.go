package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/engine"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/query"
	"github.com/roach88/stringpool/internal/stats"
	"github.com/roach88/stringpool/internal/store"
	"github.com/roach88/stringpool/internal/testutil"
)

type node struct {
	store   *store.Store
	facade  *query.Facade
	metrics *stats.Memory
	server  *httptest.Server
	client  *Client
}

func newNode(t *testing.T, name string, start int64) *node {
	t.Helper()
	return newNodeWithFeedCap(t, name, start, 100)
}

func newNodeWithFeedCap(t *testing.T, name string, start int64, feedCap int) *node {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "pool.db"), store.WithClock(testutil.NewFakeClock(start)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := stats.NewMemory()
	f := query.New(st, query.WithMetrics(m), query.WithDomain(name))
	srv := httptest.NewServer(NewServer(f, ServerConfig{FeedCap: feedCap}).Handler())
	t.Cleanup(srv.Close)

	c, err := NewClient(name, srv.URL, WithActor(ir.Actor{User: "tester"}))
	require.NoError(t, err)
	return &node{store: st, facade: f, metrics: m, server: srv, client: c}
}

func citation(text string) []byte {
	return []byte(`<citation type="book"><title>` + text + `</title></citation>`)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", "http://localhost")
	assert.Error(t, err)
	_, err = NewClient("a", "ftp://localhost")
	assert.Error(t, err)

	c, err := NewClient("a", "http://localhost:8080/pool/", WithInterval(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "a", c.Name())
	assert.Equal(t, time.Minute, c.Interval())
}

func TestUploadAndGet(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, "node-a", 1000)

	results, err := n.client.Upload(ctx, []ir.Record{
		{PlainText: "Smith, J. 2001."},
		{PlainText: "Alpha Paper", Parsed: citation("Alpha Paper")},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.Len(t, results[0].ID, 32)
	assert.Empty(t, results[0].ParseError)
	assert.NotEmpty(t, results[1].ParseChecksum)
	assert.Equal(t, "tester", results[0].CreateUser)
	assert.Equal(t, "node-a", results[0].CreateDomain)

	again, err := n.client.Upload(ctx, []ir.Record{{PlainText: "Smith, J. 2001."}})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.False(t, again[0].Created)
	assert.False(t, again[0].Updated)
	assert.Equal(t, results[0].ID, again[0].ID)

	it, err := n.client.Get(ctx, []string{results[1].ID, results[0].ID}, false)
	require.NoError(t, err)
	recs, err := ir.Collect(it)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Alpha Paper", recs[0].PlainText)
	assert.Contains(t, string(recs[0].Parsed), "<title>Alpha Paper</title>")
	assert.Equal(t, "Smith, J. 2001.", recs[1].PlainText)

	it, err = n.client.Get(ctx, []string{results[1].ID}, true)
	require.NoError(t, err)
	recs, err = ir.Collect(it)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Parsed)
	assert.NotEmpty(t, recs[0].ParseChecksum)
}

func TestUpload_StatusAndTextFormat(t *testing.T) {
	n := newNode(t, "node-a", 1000)

	put := func(body, format string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, n.server.URL+"/strings", strings.NewReader(body))
		require.NoError(t, err)
		if format != "" {
			req.Header.Set(headerDataFormat, format)
		}
		req.Header.Set(headerUser, "bob")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := put("Alpha Paper\n\n  Beta Paper  \n", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	results, err := ir.Collect(decodeResults(t, resp.Body))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Beta Paper", results[1].PlainText)
	assert.Equal(t, "bob", results[1].CreateUser)

	resp = put("Alpha Paper\n", formatText)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = put("Alpha Paper", "pdf")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	history, err := n.store.History(context.Background(), results[0].ID)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.True(t, strings.HasPrefix(history[0].SourceDescriptor, "UPLOAD:TXT:"), history[0].SourceDescriptor)
}

func TestUpload_RejectedItemReported(t *testing.T) {
	n := newNode(t, "node-a", 1000)
	body := `<stringSet><string><stringPlain>Alpha Paper</stringPlain></string>` +
		`<string><stringPlain>   </stringPlain></string></stringSet>`

	resp, err := http.Post(n.server.URL+"/strings", contentTypeXML, strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, n.server.URL+"/strings", strings.NewReader(body))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	results, err := ir.Collect(decodeResults(t, resp.Body))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.Contains(t, results[1].ParseError, "VALIDATION")
}

func TestFeedAndFetch(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, "node-a", 1000)
	_, err := n.client.Upload(ctx, []ir.Record{
		{PlainText: "One Paper"}, {PlainText: "Two Paper"}, {PlainText: "Three Paper"},
	})
	require.NoError(t, err)

	it, err := n.client.Feed(ctx, 0, 2)
	require.NoError(t, err)
	entries, err := ir.Collect(it)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].LocalUpdateTime, entries[1].LocalUpdateTime)
	assert.NotEmpty(t, entries[0].ID)
	assert.True(t, it.(engine.TruncatedFeed).Truncated())

	it, err = n.client.Feed(ctx, entries[1].LocalUpdateTime, 0)
	require.NoError(t, err)
	rest, err := ir.Collect(it)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.False(t, it.(engine.TruncatedFeed).Truncated())

	recIt, err := n.client.Fetch(ctx, []string{rest[0].ID, "00000000000000000000000000000000"})
	require.NoError(t, err)
	recs, err := ir.Collect(recIt)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Three Paper", recs[0].PlainText)
}

func TestFeed_BadParameters(t *testing.T) {
	n := newNode(t, "node-a", 1000)

	for _, q := range []string{"since=yesterday", "limit=0", "limit=x"} {
		resp, err := http.Get(n.server.URL + "/feed?" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, "node-a", 1000)
	results, err := n.client.Upload(ctx, []ir.Record{{PlainText: "Alpha Paper"}, {PlainText: "Alpha Paper (reprint)"}})
	require.NoError(t, err)
	a, b := results[0].ID, results[1].ID

	deleted := true
	rec, err := n.client.Update(ctx, a, nil, &deleted)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Deleted)
	assert.Equal(t, "tester", rec.UpdateUser)

	rec, err = n.client.Update(ctx, b, &a, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, a, rec.CanonicalID)

	linked, err := n.client.Linked(ctx, b, true)
	require.NoError(t, err)
	assert.Len(t, linked, 2)

	missing, err := n.client.Update(ctx, "00000000000000000000000000000000", nil, &deleted)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdate_BodyForm(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, "node-a", 1000)
	results, err := n.client.Upload(ctx, []ir.Record{{PlainText: "Alpha Paper"}, {PlainText: "Beta Paper"}})
	require.NoError(t, err)

	body := `<stringSet><string id="` + results[0].ID + `" deleted="true"/>` +
		`<string id="00000000000000000000000000000000" deleted="true"/>` +
		`<string id="` + results[1].ID + `" deleted="false"/></stringSet>`
	resp, err := http.Post(n.server.URL+"/update", contentTypeXML, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	recs, err := ir.Collect(decodeRecords(t, resp.Body))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Deleted)
	assert.False(t, recs[1].Deleted)
}

func TestFindAndCounts(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, "node-a", 1000)
	_, err := n.client.Upload(ctx, []ir.Record{
		{PlainText: "Smith, J. 2001. Ants", Parsed: citation("Smith, J. 2001. Ants")},
		{PlainText: "Miller, K. 1999. Bees"},
	})
	require.NoError(t, err)

	recs, err := n.client.Find(ctx, url.Values{paramText: {"Smith"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].Parsed)

	recs, err = n.client.Find(ctx, url.Values{paramText: {"Ants", "Bees"}, paramCombine: {combineOr}, paramConcise: {"true"}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Nil(t, recs[0].Parsed)

	_, err = n.client.Find(ctx, url.Values{paramText: {"%"}})
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.KindValidation))

	count, err := n.client.Count(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	clusters, err := n.client.ClusterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), clusters)
}

func TestSearchParams(t *testing.T) {
	p, err := searchParams(url.Values{
		paramText:          {"a", "b"},
		paramCombine:       {"or"},
		paramType:          {"book"},
		paramLimit:         {"10"},
		paramSelfCanonical: {"true"},
		"d.journal":        {"Nature"},
		"ID-doi":           {"10.1000/x"},
		"ignored":          {"x"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, p.Text)
	assert.True(t, p.Disjunctive)
	assert.Equal(t, "book", p.Type)
	assert.Equal(t, 10, p.Limit)
	assert.True(t, p.SelfCanonicalOnly)
	assert.Equal(t, map[string]string{"journal": "Nature", "ID-doi": "10.1000/x"}, p.Details)

	_, err = searchParams(url.Values{paramLimit: {"-1"}})
	assert.Error(t, err)
}

func TestStatsAndHealth(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, "node-a", 1000)
	_, err := n.client.Count(ctx, 0)
	require.NoError(t, err)

	resp, err := http.Get(n.server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var counters map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&counters))
	assert.Equal(t, int64(1), counters[stats.APICount])

	resp2, err := http.Get(n.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ir.NewValidationError("op", "", "bad"), http.StatusBadRequest},
		{ir.NewDecodeError("op", "bad", nil), http.StatusBadRequest},
		{ir.NewNotFoundError("op", "X"), http.StatusNotFound},
		{ir.NewConflictError("op", "X", 1, 2), http.StatusConflict},
		{ir.NewInvariantError("op", "", "bug"), http.StatusInternalServerError},
		{ir.Transient("op", io.ErrUnexpectedEOF), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}

func TestClient_ServerDown(t *testing.T) {
	n := newNode(t, "node-a", 1000)
	n.server.Close()

	_, err := n.client.Feed(context.Background(), 0, 10)
	require.Error(t, err)
	assert.True(t, ir.IsRetryable(err))
}

func TestReplicationOverHTTP(t *testing.T) {
	ctx := context.Background()
	a := newNode(t, "node-a", 1000)
	b := newNode(t, "node-b", 500_000)

	uploaded, err := a.client.Upload(ctx, []ir.Record{
		{PlainText: "Alpha Paper", Parsed: citation("Alpha Paper")},
		{PlainText: "Beta Paper"},
	})
	require.NoError(t, err)

	eng, err := engine.New(b.store, []engine.Peer{a.client}, engine.WithThrottle(0), engine.WithSlack(0))
	require.NoError(t, err)

	report, err := eng.SyncPeer(ctx, a.client)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)

	got, err := b.store.Lookup(ctx, uploaded[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uploaded[0].ParseChecksum, got.ParseChecksum)
	parsed, err := b.store.LoadParsed(got)
	require.NoError(t, err)
	assert.Contains(t, string(parsed), "<title>Alpha Paper</title>")

	// A metadata change travels without a content fetch.
	deleted := true
	_, err = a.client.Update(ctx, uploaded[0].ID, nil, &deleted)
	require.NoError(t, err)
	fetchesBefore := a.metrics.Get(stats.APIGet)

	report, err = eng.SyncPeer(ctx, a.client)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SimpleUpdates)
	assert.Equal(t, fetchesBefore, a.metrics.Get(stats.APIGet))

	got, err = b.store.Lookup(ctx, uploaded[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestReplicationOverHTTP_SmallerPeerFeedCap(t *testing.T) {
	ctx := context.Background()
	a := newNodeWithFeedCap(t, "node-a", 1000, 2)
	b := newNode(t, "node-b", 500_000)

	_, err := a.client.Upload(ctx, []ir.Record{
		{PlainText: "One Paper"}, {PlainText: "Two Paper"}, {PlainText: "Three Paper"},
		{PlainText: "Four Paper"}, {PlainText: "Five Paper"},
	})
	require.NoError(t, err)

	eng, err := engine.New(b.store, []engine.Peer{a.client}, engine.WithThrottle(0), engine.WithSlack(0))
	require.NoError(t, err)

	// The peer clamps every page to two entries; the cycle keeps reading
	// until the peer stops flagging truncation.
	report, err := eng.SyncPeer(ctx, a.client)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rounds)
	assert.Equal(t, 5, report.FeedEntries)
	assert.Equal(t, 5, report.Applied)

	n, err := b.store.Count(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
