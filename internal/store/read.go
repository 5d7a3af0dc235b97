package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/queryir"
)

// recordColumns lists the strings columns in scanRecord order.
var recordColumns = []string{
	"id", "cluster_id", "canonical_id", "plain_text",
	"parse_checksum", "parse_error", "type",
	"create_time", "create_domain", "create_user",
	"update_time", "update_domain", "update_user",
	"local_update_time", "deleted",
}

var selectRecord = "SELECT " + strings.Join(recordColumns, ", ") + " FROM strings"

// feedColumns lists the strings columns in scanFeedEntry order.
const feedColumns = "id, canonical_id, parse_checksum, create_time, update_time, local_update_time, deleted"

// maxInArgs bounds the parameters of one IN (...) lookup.
const maxInArgs = 500

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (ir.Record, error) {
	var rec ir.Record
	err := row.Scan(
		&rec.ID, &rec.ClusterID, &rec.CanonicalID, &rec.PlainText,
		&rec.ParseChecksum, &rec.ParseError, &rec.Type,
		&rec.CreateTime, &rec.CreateDomain, &rec.CreateUser,
		&rec.UpdateTime, &rec.UpdateDomain, &rec.UpdateUser,
		&rec.LocalUpdateTime, &rec.Deleted,
	)
	return rec, err
}

func scanFeedEntry(row scanner) (ir.FeedEntry, error) {
	var fe ir.FeedEntry
	err := row.Scan(
		&fe.ID, &fe.CanonicalID, &fe.ParseChecksum,
		&fe.CreateTime, &fe.UpdateTime, &fe.LocalUpdateTime, &fe.Deleted,
	)
	return fe, err
}

// getRecord reads one row without its blob. Returns nil, nil when absent.
func getRecord(ctx context.Context, q queryer, id string) (*ir.Record, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, selectRecord+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Lookup returns the stored record for id without its structured form, or
// nil when absent.
func (s *Store) Lookup(ctx context.Context, id string) (*ir.Record, error) {
	rec, err := getRecord(ctx, s.db, strings.ToUpper(id))
	if err != nil {
		return nil, ir.Transient("store.lookup", err)
	}
	return rec, nil
}

// LookupMany returns the stored records among ids, keyed by id, without
// their structured forms. Absent ids are missing from the map.
func (s *Store) LookupMany(ctx context.Context, ids []string) (map[string]ir.Record, error) {
	out := make(map[string]ir.Record, len(ids))
	for start := 0; start < len(ids); start += maxInArgs {
		end := min(start+maxInArgs, len(ids))
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = strings.ToUpper(id)
		}
		query := selectRecord + " WHERE id IN (?" + strings.Repeat(", ?", len(chunk)-1) + ")"
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, ir.Transient("store.lookup", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, ir.Transient("store.lookup", err)
			}
			out[rec.ID] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, ir.Transient("store.lookup", err)
		}
	}
	return out, nil
}

// Get returns the records for ids in request order, structured forms
// loaded. Absent ids are skipped; duplicates are returned once.
func (s *Store) Get(ctx context.Context, ids ...string) ir.Iterator[ir.Record] {
	return s.get(ctx, ids, true)
}

// GetConcise is Get without structured forms.
func (s *Store) GetConcise(ctx context.Context, ids ...string) ir.Iterator[ir.Record] {
	return s.get(ctx, ids, false)
}

func (s *Store) get(ctx context.Context, ids []string, full bool) ir.Iterator[ir.Record] {
	if len(ids) == 0 {
		return ir.NewSliceIterator[ir.Record](nil, nil)
	}
	found, err := s.LookupMany(ctx, ids)
	if err != nil {
		return ir.NewSliceIterator[ir.Record](nil, err)
	}
	out := make([]ir.Record, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, id := range ids {
		id = strings.ToUpper(id)
		rec, ok := found[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if full {
			if err := s.attachParsed(&rec); err != nil {
				return ir.NewSliceIterator(out, err)
			}
		}
		out = append(out, rec)
	}
	return ir.NewSliceIterator(out, nil)
}

// LoadParsed returns the structured form of a record. Returns nil, nil for
// a record that has none.
func (s *Store) LoadParsed(rec *ir.Record) ([]byte, error) {
	if !rec.HasParsed() {
		return nil, nil
	}
	data, err := s.blobs.Get(rec.ID)
	if ir.IsNotFound(err) {
		return nil, ir.NewInvariantError("store.load_parsed", rec.ID, "record has a checksum but no blob")
	}
	return data, err
}

func (s *Store) attachParsed(rec *ir.Record) error {
	data, err := s.LoadParsed(rec)
	if err != nil {
		return err
	}
	rec.Parsed = data
	return nil
}

// GetByCanonical returns the cluster of canonicalID: the records naming it
// as canonical id plus the record itself, oldest first.
func (s *Store) GetByCanonical(ctx context.Context, canonicalID string, concise bool) ir.Iterator[ir.Record] {
	canonicalID = strings.ToUpper(canonicalID)
	rows, err := s.db.QueryContext(ctx,
		selectRecord+" WHERE canonical_id = ? OR id = ? ORDER BY create_time ASC, id COLLATE BINARY ASC",
		canonicalID, canonicalID)
	if err != nil {
		return ir.NewSliceIterator[ir.Record](nil, ir.Transient("store.get_by_canonical", err))
	}
	return s.recordRows(rows, concise, "store.get_by_canonical")
}

// Find runs a search. Results are ordered by create time, then id.
func (s *Store) Find(ctx context.Context, f queryir.Find) ir.Iterator[ir.Record] {
	q, err := queryir.Lower(f)
	if err != nil {
		return ir.NewSliceIterator[ir.Record](nil, err)
	}
	query, args, err := s.compiler.Compile(q)
	if err != nil {
		return ir.NewSliceIterator[ir.Record](nil, ir.NewValidationError("store.find", "", err.Error()))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ir.NewSliceIterator[ir.Record](nil, ir.Transient("store.find", err))
	}
	return s.recordRows(rows, f.Concise, "store.find")
}

func (s *Store) recordRows(rows *sql.Rows, concise bool, op string) ir.Iterator[ir.Record] {
	return &rowIterator[ir.Record]{
		rows: rows,
		op:   op,
		scan: func(row scanner) (ir.Record, error) {
			rec, err := scanRecord(row)
			if err != nil || concise {
				return rec, err
			}
			return rec, s.attachParsed(&rec)
		},
	}
}

// FeedSince streams feed entries with a local update time after since,
// ordered by local update time, then id. limit <= 0 means unbounded.
// The iterator holds a database connection until closed.
func (s *Store) FeedSince(ctx context.Context, since int64, limit int) ir.Iterator[ir.FeedEntry] {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feedColumns+` FROM strings
		WHERE local_update_time > ?
		ORDER BY local_update_time ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return ir.NewSliceIterator[ir.FeedEntry](nil, ir.Transient("store.feed", err))
	}
	return &rowIterator[ir.FeedEntry]{rows: rows, op: "store.feed", scan: scanFeedEntry}
}

// Count returns the number of records created after since.
func (s *Store) Count(ctx context.Context, since int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM strings WHERE create_time > ?", since).Scan(&n)
	if err != nil {
		return 0, ir.Transient("store.count", err)
	}
	return n, nil
}

// ClusterCount returns the number of records that represent their own
// cluster.
func (s *Store) ClusterCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM strings WHERE canonical_id = id OR canonical_id = ''").Scan(&n)
	if err != nil {
		return 0, ir.Transient("store.cluster_count", err)
	}
	return n, nil
}

// History returns the audit trail of a record, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]ir.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, update_time, update_domain, update_user,
		       local_update_time, source_domain, source_descriptor
		FROM string_history
		WHERE record_id = ?
		ORDER BY seq ASC
	`, strings.ToUpper(id))
	if err != nil {
		return nil, ir.Transient("store.history", err)
	}
	defer rows.Close()

	out := []ir.HistoryEntry{}
	for rows.Next() {
		var h ir.HistoryEntry
		if err := rows.Scan(&h.RecordID, &h.UpdateTime, &h.UpdateDomain, &h.UpdateUser,
			&h.LocalUpdateTime, &h.SourceDomain, &h.SourceDescriptor); err != nil {
			return nil, ir.Transient("store.history", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, ir.Transient("store.history", err)
	}
	return out, nil
}

// Identifiers returns the external identifiers of a record, lowercased.
func (s *Store) Identifiers(ctx context.Context, id string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id_type, id_value FROM string_identifiers WHERE id = ? ORDER BY id_type",
		strings.ToUpper(id))
	if err != nil {
		return nil, ir.Transient("store.identifiers", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var typ, value string
		if err := rows.Scan(&typ, &value); err != nil {
			return nil, ir.Transient("store.identifiers", err)
		}
		out[typ] = value
	}
	if err := rows.Err(); err != nil {
		return nil, ir.Transient("store.identifiers", err)
	}
	return out, nil
}

// IndexValues returns the registered index columns of a record. Returns an
// empty map when the record has no index row.
func (s *Store) IndexValues(ctx context.Context, id string) (map[string]string, error) {
	out := map[string]string{}
	if len(s.indexes) == 0 {
		return out, nil
	}
	cols := s.IndexColumns()
	dest := make([]any, len(cols))
	values := make([]string, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}
	err := s.db.QueryRowContext(ctx,
		"SELECT "+strings.Join(cols, ", ")+" FROM string_index WHERE id = ?",
		strings.ToUpper(id)).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return nil, ir.Transient("store.index_values", err)
	}
	for i, col := range cols {
		out[col] = values[i]
	}
	return out, nil
}

// ResolveCanonical returns the canonical id a new member of clusterID would
// get: the first explicit non-self canonical id among existing members in
// creation order, else the oldest member's id, else "".
func (s *Store) ResolveCanonical(ctx context.Context, clusterID string) (string, error) {
	id, err := resolveCanonical(ctx, s.db, clusterID, "")
	if err != nil {
		return "", ir.Transient("store.resolve_canonical", err)
	}
	return id, nil
}

func resolveCanonical(ctx context.Context, q queryer, clusterID, exclude string) (string, error) {
	if clusterID == "" {
		return "", nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, canonical_id FROM strings
		WHERE cluster_id = ? AND id != ?
		ORDER BY create_time ASC, id COLLATE BINARY ASC
	`, clusterID, exclude)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	oldest := ""
	for rows.Next() {
		var id, canonical string
		if err := rows.Scan(&id, &canonical); err != nil {
			return "", err
		}
		if oldest == "" {
			oldest = id
		}
		if canonical != "" && canonical != id {
			return canonical, nil
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return oldest, nil
}

// rowIterator adapts *sql.Rows to ir.Iterator. The rows are closed when
// iteration ends or on Close.
type rowIterator[T any] struct {
	rows   *sql.Rows
	op     string
	scan   func(scanner) (T, error)
	cur    T
	err    error
	closed bool
}

func (it *rowIterator[T]) Next() bool {
	if it.closed {
		return false
	}
	if !it.rows.Next() {
		it.err = ir.Transient(it.op, it.rows.Err())
		it.Close()
		return false
	}
	v, err := it.scan(it.rows)
	if err != nil {
		it.err = ir.Transient(it.op, err)
		it.Close()
		return false
	}
	it.cur = v
	return true
}

func (it *rowIterator[T]) Value() T { return it.cur }

func (it *rowIterator[T]) Err() error { return it.err }

func (it *rowIterator[T]) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.rows.Close()
}
