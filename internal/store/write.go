package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/stringpool/internal/blob"
	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/ident"
	"github.com/roach88/stringpool/internal/ir"
)

// Parse error messages recorded on records whose structured form was
// rejected.
const (
	ErrMsgMalformedParse = "malformed structured representation"
	ErrMsgParseMismatch  = "structured representation does not match plain text"
)

// SimpleUpdate is a metadata-only change: canonical id and deleted flag.
// Nil fields are left unchanged.
type SimpleUpdate struct {
	// CanonicalID sets the canonical id. An empty string means self.
	CanonicalID *string
	Deleted     *bool
	Actor       ir.Actor

	// UpdateTime is the logical time of the change. Zero means now.
	UpdateTime int64
}

// Upsert stores rec under the conflict rule and returns the resulting
// state.
//
// A new id is inserted with a resolved canonical id. An existing id is
// merged: updates older than the stored update time are ignored, updates
// that change nothing are not written. Every accepted write appends one
// history entry with src in the same transaction.
//
// rec.ID may be empty; it is derived from rec.PlainText. A supplied id that
// does not match the text is a VALIDATION error.
func (s *Store) Upsert(ctx context.Context, rec ir.Record, src ir.Source) (ir.WriteResult, error) {
	if err := s.prepare(&rec); err != nil {
		return ir.WriteResult{Record: rec}, err
	}

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.WriteResult{}, ir.Transient("store.upsert", err)
	}
	defer tx.Rollback()

	var blobs pendingBlobs
	defer blobs.discard()

	existing, err := getRecord(ctx, tx, rec.ID)
	if err != nil {
		return ir.WriteResult{}, ir.Transient("store.upsert", err)
	}

	var res ir.WriteResult
	if existing == nil {
		var inserted bool
		res, inserted, err = s.insert(ctx, tx, rec, src, &blobs)
		if err != nil {
			return ir.WriteResult{}, err
		}
		if !inserted {
			// Another process inserted the id first; merge into its row.
			existing, err = getRecord(ctx, tx, rec.ID)
			if err != nil {
				return ir.WriteResult{}, ir.Transient("store.upsert", err)
			}
			if existing == nil {
				return ir.WriteResult{}, ir.NewInvariantError("store.upsert", rec.ID, "row vanished after insert conflict")
			}
		}
	}
	if existing != nil {
		res, err = s.merge(ctx, tx, *existing, rec, src, &blobs)
		if err != nil {
			return ir.WriteResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ir.WriteResult{}, ir.Transient("store.upsert", err)
	}
	if err := blobs.publish(); err != nil {
		return ir.WriteResult{}, err
	}
	return res, nil
}

// prepare normalizes rec, derives its identity and validates its
// structured representation. A rejected representation is not an error:
// it is dropped and recorded in ParseError.
func (s *Store) prepare(rec *ir.Record) error {
	rec.PlainText = ident.Normalize(rec.PlainText)
	if rec.PlainText == "" {
		return ir.NewValidationError("store.upsert", rec.ID, "empty plain text")
	}
	id := s.ident.IdentifierOf(rec.PlainText)
	if rec.ID != "" && !strings.EqualFold(rec.ID, id) {
		return ir.NewValidationError("store.upsert", rec.ID,
			fmt.Sprintf("id does not match plain text (expected %s)", id))
	}
	rec.ID = id
	rec.ClusterID = s.ident.ClusterIDOf(rec.PlainText)
	if rec.CanonicalID != "" {
		rec.CanonicalID = strings.ToUpper(rec.CanonicalID)
	}

	if len(rec.Parsed) == 0 {
		rec.Parsed = nil
		rec.ParseChecksum = ""
		return nil
	}

	sum, err := s.ident.ChecksumOf(rec.Parsed)
	if err != nil {
		rejectParse(rec, ErrMsgMalformedParse+": "+err.Error())
		return nil
	}
	text, err := codec.TextContent(rec.Parsed)
	if err != nil || squash(text) != squash(rec.PlainText) {
		rejectParse(rec, ErrMsgParseMismatch)
		return nil
	}
	rec.ParseChecksum = sum
	rec.ParseError = ""
	if rec.Type == "" {
		rec.Type = codec.TypeOf(rec.Parsed)
	}
	return nil
}

func rejectParse(rec *ir.Record, msg string) {
	rec.Parsed = nil
	rec.ParseChecksum = ""
	rec.ParseError = msg
}

// squash removes all whitespace after normalization, so layout differences
// between the plain text and the structured text content do not count.
func squash(s string) string {
	return strings.Join(strings.Fields(ident.Normalize(s)), "")
}

// insert writes a new row. Returns inserted=false when the id already
// exists, in which case nothing was written.
func (s *Store) insert(ctx context.Context, tx *sql.Tx, rec ir.Record, src ir.Source, blobs *pendingBlobs) (ir.WriteResult, bool, error) {
	now := s.clock.NowMillis()

	if rec.CanonicalID == "" {
		canonical, err := resolveCanonical(ctx, tx, rec.ClusterID, rec.ID)
		if err != nil {
			return ir.WriteResult{}, false, ir.Transient("store.insert", err)
		}
		rec.CanonicalID = canonical
	}
	if rec.CanonicalID == "" {
		rec.CanonicalID = rec.ID
	}

	if rec.CreateTime == 0 {
		rec.CreateTime = now
	}
	if rec.UpdateTime == 0 {
		rec.UpdateTime = rec.CreateTime
	}
	if rec.CreateDomain == "" {
		rec.CreateDomain = src.Domain
	}
	if rec.UpdateDomain == "" {
		rec.UpdateDomain = rec.CreateDomain
	}
	if rec.UpdateUser == "" {
		rec.UpdateUser = rec.CreateUser
	}
	rec.LocalUpdateTime = now

	result, err := tx.ExecContext(ctx, `
		INSERT INTO strings (
			id, cluster_id, canonical_id, plain_text, parse_checksum, parse_error, type,
			create_time, create_domain, create_user,
			update_time, update_domain, update_user,
			local_update_time, deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID, rec.ClusterID, rec.CanonicalID, rec.PlainText, rec.ParseChecksum, rec.ParseError, rec.Type,
		rec.CreateTime, rec.CreateDomain, rec.CreateUser,
		rec.UpdateTime, rec.UpdateDomain, rec.UpdateUser,
		rec.LocalUpdateTime, rec.Deleted,
	)
	if err != nil {
		return ir.WriteResult{}, false, ir.Transient("store.insert", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return ir.WriteResult{}, false, ir.Transient("store.insert", err)
	}
	if n == 0 {
		return ir.WriteResult{}, false, nil
	}

	if err := s.writeParsed(ctx, tx, &rec, blobs); err != nil {
		return ir.WriteResult{}, false, err
	}
	if err := appendHistory(ctx, tx, &rec, src); err != nil {
		return ir.WriteResult{}, false, err
	}

	slog.Debug("record created", "id", rec.ID, "source", src.Descriptor)
	return ir.WriteResult{Record: rec, Created: true}, true, nil
}

// merge applies rec to the stored state old under the conflict rule.
func (s *Store) merge(ctx context.Context, tx *sql.Tx, old, rec ir.Record, src ir.Source, blobs *pendingBlobs) (ir.WriteResult, error) {
	if rec.UpdateTime != 0 && rec.UpdateTime < old.UpdateTime {
		slog.Debug("stale update ignored",
			"id", old.ID,
			"incoming", rec.UpdateTime,
			"stored", old.UpdateTime,
			"source", src.Descriptor)
		return ir.WriteResult{Record: old}, nil
	}

	next := old
	changed := false
	contentChanged := false

	if rec.ParseChecksum != "" && rec.ParseChecksum != old.ParseChecksum {
		next.Parsed = rec.Parsed
		next.ParseChecksum = rec.ParseChecksum
		next.ParseError = ""
		next.Type = rec.Type
		contentChanged = true
	} else if rec.ParseError != "" && old.ParseChecksum == "" && rec.ParseError != old.ParseError {
		// Nothing valid is stored, so the newest rejection is recorded.
		next.ParseError = rec.ParseError
		changed = true
	}
	if rec.Deleted != old.Deleted {
		next.Deleted = rec.Deleted
		changed = true
	}
	if rec.CanonicalID != "" && rec.CanonicalID != old.Canonical() {
		next.CanonicalID = rec.CanonicalID
		changed = true
	}

	if !changed && !contentChanged {
		return withParseError(ir.WriteResult{Record: old}, rec.ParseError), nil
	}

	now := s.clock.NowMillis()
	next.UpdateTime = rec.UpdateTime
	if next.UpdateTime == 0 {
		next.UpdateTime = max(now, old.UpdateTime)
	}
	next.UpdateDomain = rec.UpdateDomain
	if next.UpdateDomain == "" {
		next.UpdateDomain = src.Domain
	}
	next.UpdateUser = rec.UpdateUser
	next.LocalUpdateTime = max(now, old.LocalUpdateTime+1)

	if err := updateRow(ctx, tx, &next); err != nil {
		return ir.WriteResult{}, err
	}
	if contentChanged {
		if err := s.writeParsed(ctx, tx, &next, blobs); err != nil {
			return ir.WriteResult{}, err
		}
	}
	if err := appendHistory(ctx, tx, &next, src); err != nil {
		return ir.WriteResult{}, err
	}

	slog.Debug("record updated",
		"id", next.ID,
		"content", contentChanged,
		"deleted", next.Deleted,
		"canonical", next.CanonicalID,
		"source", src.Descriptor)
	return withParseError(ir.WriteResult{Record: next, Updated: true}, rec.ParseError), nil
}

// withParseError reports a rejected representation on a result whose
// stored state was kept. The reported record carries no structured form.
func withParseError(res ir.WriteResult, parseError string) ir.WriteResult {
	if parseError == "" || parseError == res.ParseError {
		return res
	}
	res.ParseError = parseError
	res.Parsed = nil
	return res
}

// ApplySimpleUpdate applies a metadata-only change to an existing record.
// Returns nil, nil when the record does not exist. A stale or empty change
// returns the stored record unchanged.
func (s *Store) ApplySimpleUpdate(ctx context.Context, id string, u SimpleUpdate, src ir.Source) (*ir.Record, error) {
	id = strings.ToUpper(id)
	if id == "" {
		return nil, ir.NewInvariantError("store.simple_update", "", "missing id")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ir.Transient("store.simple_update", err)
	}
	defer tx.Rollback()

	old, err := getRecord(ctx, tx, id)
	if err != nil {
		return nil, ir.Transient("store.simple_update", err)
	}
	if old == nil {
		return nil, nil
	}
	if u.UpdateTime != 0 && u.UpdateTime < old.UpdateTime {
		slog.Debug("stale simple update ignored",
			"id", id,
			"incoming", u.UpdateTime,
			"stored", old.UpdateTime,
			"source", src.Descriptor)
		return old, nil
	}

	next := *old
	changed := false
	if u.CanonicalID != nil {
		canonical := strings.ToUpper(*u.CanonicalID)
		if canonical == "" {
			canonical = id
		}
		if canonical != old.Canonical() {
			next.CanonicalID = canonical
			changed = true
		}
	}
	if u.Deleted != nil && *u.Deleted != old.Deleted {
		next.Deleted = *u.Deleted
		changed = true
	}
	if !changed {
		return old, nil
	}

	now := s.clock.NowMillis()
	next.UpdateTime = u.UpdateTime
	if next.UpdateTime == 0 {
		next.UpdateTime = max(now, old.UpdateTime)
	}
	next.UpdateDomain = u.Actor.Domain
	if next.UpdateDomain == "" {
		next.UpdateDomain = src.Domain
	}
	next.UpdateUser = u.Actor.User
	next.LocalUpdateTime = max(now, old.LocalUpdateTime+1)

	if err := updateRow(ctx, tx, &next); err != nil {
		return nil, err
	}
	if err := appendHistory(ctx, tx, &next, src); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, ir.Transient("store.simple_update", err)
	}

	slog.Debug("record metadata updated",
		"id", id,
		"deleted", next.Deleted,
		"canonical", next.CanonicalID,
		"source", src.Descriptor)
	return &next, nil
}

func updateRow(ctx context.Context, q queryer, rec *ir.Record) error {
	_, err := q.ExecContext(ctx, `
		UPDATE strings SET
			cluster_id = ?, canonical_id = ?, parse_checksum = ?, parse_error = ?, type = ?,
			update_time = ?, update_domain = ?, update_user = ?,
			local_update_time = ?, deleted = ?
		WHERE id = ?
	`,
		rec.ClusterID, rec.CanonicalID, rec.ParseChecksum, rec.ParseError, rec.Type,
		rec.UpdateTime, rec.UpdateDomain, rec.UpdateUser,
		rec.LocalUpdateTime, rec.Deleted,
		rec.ID,
	)
	return ir.Transient("store.update", err)
}

func appendHistory(ctx context.Context, q queryer, rec *ir.Record, src ir.Source) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO string_history (
			record_id, update_time, update_domain, update_user,
			local_update_time, source_domain, source_descriptor
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.UpdateTime, rec.UpdateDomain, rec.UpdateUser,
		rec.LocalUpdateTime, src.Domain, src.Descriptor,
	)
	return ir.Transient("store.history", err)
}

// writeParsed stages the structured blob and refreshes the index and
// identifier rows derived from it. The staged blob replaces the visible one
// only after the transaction commits.
func (s *Store) writeParsed(ctx context.Context, tx *sql.Tx, rec *ir.Record, blobs *pendingBlobs) error {
	if len(rec.Parsed) == 0 || rec.ParseChecksum == "" {
		return nil
	}
	staged, err := s.blobs.Stage(rec.ID, rec.Parsed)
	if err != nil {
		return ir.Transient("store.blob", err)
	}
	blobs.add(staged)
	if err := s.writeIndex(ctx, tx, rec); err != nil {
		return err
	}
	return s.writeIdentifiers(ctx, tx, rec)
}

func (s *Store) writeIndex(ctx context.Context, tx *sql.Tx, rec *ir.Record) error {
	if len(s.indexes) == 0 {
		return nil
	}
	values := s.indexValues(rec.Parsed)

	cols := make([]string, len(s.indexes))
	sets := make([]string, len(s.indexes))
	args := make([]any, 0, len(s.indexes)+1)
	for i, spec := range s.indexes {
		cols[i] = spec.Name
		sets[i] = spec.Name + " = ?"
		args = append(args, values[spec.Name])
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE string_index SET "+strings.Join(sets, ", ")+" WHERE id = ?",
		append(args, rec.ID)...)
	if err != nil {
		return ir.Transient("store.index", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return ir.Transient("store.index", err)
	} else if n > 0 {
		return nil
	}

	placeholders := strings.Repeat(", ?", len(cols))
	_, err = tx.ExecContext(ctx,
		"INSERT INTO string_index (id, "+strings.Join(cols, ", ")+") VALUES (?"+placeholders+")",
		append([]any{rec.ID}, args...)...)
	return ir.Transient("store.index", err)
}

// indexValues extracts the registered index columns from a blob.
func (s *Store) indexValues(parsed []byte) map[string]string {
	values := make(map[string]string, len(s.indexes))
	var details map[string]string
	for _, spec := range s.indexes {
		var v string
		if spec.Extract != nil {
			v = spec.Extract(parsed)
		} else {
			if details == nil {
				var err error
				details, err = codec.Details(parsed)
				if err != nil {
					details = map[string]string{}
				}
			}
			v = details[spec.Name]
		}
		if !spec.CaseSensitive {
			v = strings.ToLower(v)
		}
		values[spec.Name] = v
	}
	return values
}

func (s *Store) writeIdentifiers(ctx context.Context, tx *sql.Tx, rec *ir.Record) error {
	ids, err := s.identifiers(rec.Parsed)
	if err != nil {
		slog.Warn("identifier extraction failed", "id", rec.ID, "error", err)
		return nil
	}
	for typ, value := range ids {
		typ = strings.ToLower(strings.TrimSpace(typ))
		value = strings.ToLower(strings.TrimSpace(value))
		if typ == "" || value == "" {
			continue
		}
		result, err := tx.ExecContext(ctx,
			"UPDATE string_identifiers SET id_value = ? WHERE id = ? AND id_type = ?",
			value, rec.ID, typ)
		if err != nil {
			return ir.Transient("store.identifiers", err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return ir.Transient("store.identifiers", err)
		} else if n > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO string_identifiers (id, id_type, id_value) VALUES (?, ?, ?)",
			rec.ID, typ, value); err != nil {
			return ir.Transient("store.identifiers", err)
		}
	}
	return nil
}

// pendingBlobs holds the blobs staged by one write transaction.
type pendingBlobs []*blob.Staged

func (p *pendingBlobs) add(st *blob.Staged) {
	if st != nil {
		*p = append(*p, st)
	}
}

// publish makes the staged blobs visible. Called after commit.
func (p *pendingBlobs) publish() error {
	for _, st := range *p {
		if err := st.Commit(); err != nil {
			return ir.Transient("store.blob", err)
		}
	}
	return nil
}

// discard drops whatever was not published.
func (p *pendingBlobs) discard() {
	for _, st := range *p {
		st.Discard()
	}
}
