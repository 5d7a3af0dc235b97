package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/stringpool/internal/ir"
)

// Watermark returns the last fully applied local update time of peer's
// feed, or 0 when the peer was never synced.
func (s *Store) Watermark(ctx context.Context, peer string) (int64, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_local_update_time FROM peer_watermarks WHERE peer_id = ?", peer).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, ir.Transient("store.watermark", err)
	}
	return ms, nil
}

// SetWatermark records progress for peer. The watermark only moves
// forward; a lower value is ignored.
func (s *Store) SetWatermark(ctx context.Context, peer string, ms int64) error {
	if peer == "" {
		return ir.NewInvariantError("store.set_watermark", "", "missing peer id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peer_watermarks (peer_id, last_local_update_time) VALUES (?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			last_local_update_time = MAX(last_local_update_time, excluded.last_local_update_time)
	`, peer, ms)
	return ir.Transient("store.set_watermark", err)
}

// Watermarks returns the progress of every known peer, ordered by peer id.
func (s *Store) Watermarks(ctx context.Context) ([]ir.Watermark, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT peer_id, last_local_update_time FROM peer_watermarks ORDER BY peer_id")
	if err != nil {
		return nil, ir.Transient("store.watermarks", err)
	}
	defer rows.Close()

	out := []ir.Watermark{}
	for rows.Next() {
		var w ir.Watermark
		if err := rows.Scan(&w.PeerID, &w.LastLocalUpdateTime); err != nil {
			return nil, ir.Transient("store.watermarks", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, ir.Transient("store.watermarks", err)
	}
	return out, nil
}
