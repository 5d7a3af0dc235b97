package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/query"
	"github.com/roach88/stringpool/internal/queryir"
)

// Request parameters and headers.
const (
	paramID            = "id"
	paramSince         = "since"
	paramLimit         = "limit"
	paramConcise       = "concise"
	paramText          = "text"
	paramCombine       = "combine"
	paramType          = "type"
	paramUser          = "user"
	paramSelfCanonical = "selfCanonical"
	paramCanonicalID   = "canonicalId"
	paramDeleted       = "deleted"

	// detailPrefix marks an index column predicate: d.<column>=value.
	detailPrefix = "d."

	headerUser       = "X-User"
	headerDomain     = "X-Domain"
	headerDataFormat = "Data-Format"

	// headerFeedTruncated is set on feed pages that stop short of the
	// newest entry.
	headerFeedTruncated = "X-Feed-Truncated"

	combineOr = "or"

	formatXML  = "xml"
	formatText = "txt"

	contentTypeXML  = "text/xml; charset=utf-8"
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeJSON = "application/json"
)

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := codec.ParseTime(q.Get(paramSince))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid %s: %v", paramSince, err)
		return
	}
	limit := s.feedCap
	if v := q.Get(paramLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, "invalid %s %q", paramLimit, v)
			return
		}
		limit = min(n, s.feedCap)
	}

	// One entry past the page tells whether the peer must come back for more.
	it := s.facade.Feed(r.Context(), since, limit+1)
	page, err := ir.Collect(it)
	it.Close()
	if err != nil {
		sendKindError(w, err)
		return
	}
	if len(page) > limit {
		page = page[:limit]
		w.Header().Set(headerFeedTruncated, "true")
	}

	w.Header().Set("Content-Type", contentTypeXML)
	enc := codec.NewEncoder(w)
	for i := range page {
		if err := enc.WriteFeedEntry(&page[i]); err != nil {
			slog.Warn("feed response aborted", "error", err)
			return
		}
	}
	enc.Close()
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids := q[paramID]
	if len(ids) == 0 {
		sendError(w, http.StatusBadRequest, "missing %s", paramID)
		return
	}
	results, err := s.facade.Get(r.Context(), ids, boolParam(q.Get(paramConcise)))
	if err != nil {
		sendKindError(w, err)
		return
	}
	writeResults(r.Context(), w, results)
}

func (s *Server) handleLinked(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get(paramID)
	if id == "" {
		sendError(w, http.StatusBadRequest, "missing %s", paramID)
		return
	}
	results, err := s.facade.GetLinked(r.Context(), id, boolParam(q.Get(paramConcise)))
	if err != nil {
		sendKindError(w, err)
		return
	}
	writeResults(r.Context(), w, results)
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	params, err := searchParams(r.URL.Query())
	if err != nil {
		sendError(w, http.StatusBadRequest, "%v", err)
		return
	}
	results, err := s.facade.Search(r.Context(), params)
	if err != nil {
		sendKindError(w, err)
		return
	}
	writeResults(r.Context(), w, results)
}

// searchParams translates query parameters into a search request.
func searchParams(q map[string][]string) (query.SearchParams, error) {
	p := query.SearchParams{
		Text:              q[paramText],
		Disjunctive:       first(q, paramCombine) == combineOr,
		Type:              first(q, paramType),
		User:              first(q, paramUser),
		SelfCanonicalOnly: boolParam(first(q, paramSelfCanonical)),
		Concise:           boolParam(first(q, paramConcise)),
	}
	if v := first(q, paramLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid %s %q", paramLimit, v)
		}
		p.Limit = n
	}
	for name, values := range q {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		switch {
		case strings.HasPrefix(name, detailPrefix):
			if p.Details == nil {
				p.Details = map[string]string{}
			}
			p.Details[strings.TrimPrefix(name, detailPrefix)] = values[0]
		case strings.HasPrefix(name, queryir.IdentifierPrefix):
			if p.Details == nil {
				p.Details = map[string]string{}
			}
			p.Details[name] = values[0]
		}
	}
	return p, nil
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	since, err := codec.ParseTime(r.URL.Query().Get(paramSince))
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid %s: %v", paramSince, err)
		return
	}
	n, err := s.facade.Count(r.Context(), since)
	if err != nil {
		sendKindError(w, err)
		return
	}
	writeInt(w, n)
}

func (s *Server) handleClusterCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.facade.ClusterCount(r.Context())
	if err != nil {
		sendKindError(w, err)
		return
	}
	writeInt(w, n)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body := bufio.NewReader(http.MaxBytesReader(w, r.Body, s.maxBody))
	format := strings.ToLower(r.Header.Get(headerDataFormat))
	if format == "" {
		format = sniffFormat(body)
	}

	var (
		items []query.UploadItem
		err   error
	)
	switch format {
	case formatXML:
		items, err = readUploadXML(r.Context(), body)
	case formatText:
		items, err = readUploadText(body)
	default:
		sendError(w, http.StatusBadRequest, "unsupported data format %q", format)
		return
	}
	if err != nil {
		sendKindError(w, err)
		return
	}

	detail := strings.ToUpper(format) + ":" + r.RemoteAddr
	results := s.facade.Upload(r.Context(), items, actorOf(r), detail)

	status := http.StatusOK
	for _, res := range results {
		if res.Err == nil && res.Created {
			status = http.StatusCreated
			break
		}
	}
	w.Header().Set("Content-Type", contentTypeXML)
	w.WriteHeader(status)
	enc := codec.NewEncoder(w)
	for i := range results {
		res := results[i].WriteResult
		if results[i].Err != nil {
			res.ParseError = results[i].Err.Error()
		}
		if err := enc.WriteResult(&res); err != nil {
			slog.Warn("upload response aborted", "error", err)
			return
		}
	}
	enc.Close()
}

// sniffFormat peeks at the body: a stringSet document is XML, anything else
// is plain text with one string per line.
func sniffFormat(body *bufio.Reader) string {
	peek, _ := body.Peek(512)
	trimmed := bytes.TrimSpace(peek)
	if bytes.HasPrefix(trimmed, []byte("<?xml")) || bytes.HasPrefix(trimmed, []byte("<stringSet")) {
		return formatXML
	}
	return formatText
}

func readUploadXML(ctx context.Context, r io.Reader) ([]query.UploadItem, error) {
	stream := codec.Decode(ctx, r)
	defer stream.Close()
	var items []query.UploadItem
	for stream.Next() {
		rec := stream.Value()
		items = append(items, query.UploadItem{
			PlainText:   rec.PlainText,
			Parsed:      rec.Parsed,
			CanonicalID: rec.CanonicalID,
		})
	}
	return items, stream.Err()
}

func readUploadText(r io.Reader) ([]query.UploadItem, error) {
	var items []query.UploadItem
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			items = append(items, query.UploadItem{PlainText: line})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, ir.NewValidationError("httpapi.upload", "", err.Error())
	}
	return items, nil
}

// handleUpdate applies one update given as query parameters, or a
// stringSet of <string id canonicalId deleted/> elements in the body.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actor := actorOf(r)
	detail := "POST:" + r.RemoteAddr

	if id := q.Get(paramID); id != "" {
		var canonical *string
		if v, ok := q[paramCanonicalID]; ok {
			canonical = &v[0]
		}
		var deleted *bool
		if v := q.Get(paramDeleted); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				sendError(w, http.StatusBadRequest, "invalid %s %q", paramDeleted, v)
				return
			}
			deleted = &b
		}
		rec, err := s.facade.Update(r.Context(), id, canonical, deleted, actor, detail)
		if err != nil {
			sendKindError(w, err)
			return
		}
		if rec == nil {
			sendError(w, http.StatusNotFound, "string %s not found", id)
			return
		}
		writeRecords(w, []ir.Record{*rec})
		return
	}

	stream := codec.Decode(r.Context(), http.MaxBytesReader(w, r.Body, s.maxBody))
	defer stream.Close()
	var updated []ir.Record
	for stream.Next() {
		u := stream.Value()
		if u.ID == "" {
			continue
		}
		var canonical *string
		if u.CanonicalID != "" {
			canonical = &u.CanonicalID
		}
		deleted := u.Deleted
		rec, err := s.facade.Update(r.Context(), u.ID, canonical, &deleted, actor, detail)
		if err != nil {
			slog.Warn("update rejected", "id", u.ID, "error", err)
			continue
		}
		if rec != nil {
			updated = append(updated, *rec)
		}
	}
	if err := stream.Err(); err != nil {
		sendKindError(w, err)
		return
	}
	writeRecords(w, updated)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.facade.Metrics().Snapshot(r.Context())
	if err != nil {
		sendKindError(w, ir.Transient("httpapi.stats", err))
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	json.NewEncoder(w).Encode(snapshot)
}

// HealthResponse is the JSON body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeJSON)
	if err := s.facade.Store().DB().PingContext(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
}

func actorOf(r *http.Request) ir.Actor {
	user := r.Header.Get(headerUser)
	if user == "" {
		user = r.Header.Get("User-Name")
	}
	return ir.Actor{Domain: r.Header.Get(headerDomain), User: user}
}

func writeResults(ctx context.Context, w http.ResponseWriter, results []*query.Result) {
	w.Header().Set("Content-Type", contentTypeXML)
	enc := codec.NewEncoder(w)
	for _, res := range results {
		rec, err := res.Full(ctx)
		if err != nil {
			slog.Error("structured representation unavailable", "id", res.ID, "error", err)
			enc.Flush()
			return
		}
		if err := enc.WriteRecord(&rec); err != nil {
			slog.Warn("response aborted", "error", err)
			return
		}
	}
	enc.Close()
}

func writeRecords(w http.ResponseWriter, recs []ir.Record) {
	w.Header().Set("Content-Type", contentTypeXML)
	if err := codec.EncodeRecords(w, recs); err != nil {
		slog.Warn("response aborted", "error", err)
	}
}

func writeInt(w http.ResponseWriter, n int64) {
	w.Header().Set("Content-Type", contentTypeText)
	io.WriteString(w, strconv.FormatInt(n, 10)+"\n")
}

func boolParam(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func first(q map[string][]string, name string) string {
	if v := q[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch ir.KindOf(err) {
	case ir.KindValidation, ir.KindDecode:
		return http.StatusBadRequest
	case ir.KindNotFound:
		return http.StatusNotFound
	case ir.KindConflict:
		return http.StatusConflict
	case ir.KindInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

func sendKindError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= 500 {
		slog.Error("request failed", "error", err)
	}
	sendError(w, status, "%v", err)
}

func sendError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", contentTypeText)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	fmt.Fprintf(w, format+"\n", args...)
}
