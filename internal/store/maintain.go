package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/stringpool/internal/ir"
)

// Default maintenance settings.
const (
	DefaultMaintainBatch     = 200
	DefaultMaintainMaxPasses = 10
)

// MaintainOptions configures a cluster maintenance run.
type MaintainOptions struct {
	// BatchSize is the number of clusters examined per query.
	BatchSize int

	// Pause is slept between batches to leave room for other writers.
	Pause time.Duration

	// MaxPasses bounds the number of passes over all clusters.
	MaxPasses int

	// Actor is recorded as the updater of rewritten records.
	Actor ir.Actor
}

// MaintainReport summarizes a maintenance run.
type MaintainReport struct {
	Passes           int `json:"passes"`
	ClusterIDsFilled int `json:"cluster_ids_filled"`
	ClustersFixed    int `json:"clusters_fixed"`
	RecordsUpdated   int `json:"records_updated"`
}

// Maintain makes every cluster agree on one canonical id.
//
// Records missing a cluster id get one first. Then each cluster whose
// members name different canonical ids is rewritten to its representative:
// the oldest explicit non-self canonical id, else the oldest member. Each
// rewrite is an ordinary metadata update with a fresh update time, so it
// replicates. Passes repeat until one changes nothing or MaxPasses is hit.
func (s *Store) Maintain(ctx context.Context, opts MaintainOptions) (MaintainReport, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultMaintainBatch
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultMaintainMaxPasses
	}
	src := ir.SourceFrom(opts.Actor.Domain, ir.SourceMaintenance, "")

	var report MaintainReport
	filled, err := s.fillClusterIDs(ctx, opts)
	if err != nil {
		return report, err
	}
	report.ClusterIDsFilled = filled

	for report.Passes < opts.MaxPasses {
		report.Passes++
		fixed, updated, err := s.maintainPass(ctx, opts, src)
		report.ClustersFixed += fixed
		report.RecordsUpdated += updated
		if err != nil {
			return report, err
		}
		slog.Info("maintenance pass complete",
			"pass", report.Passes,
			"clusters_fixed", fixed,
			"records_updated", updated)
		if updated == 0 {
			break
		}
	}
	return report, nil
}

// fillClusterIDs derives missing cluster ids. Cluster ids are local
// derived data and do not replicate, so no update time is bumped.
func (s *Store) fillClusterIDs(ctx context.Context, opts MaintainOptions) (int, error) {
	total := 0
	for {
		rows, err := s.db.QueryContext(ctx,
			"SELECT id, plain_text FROM strings WHERE cluster_id = '' ORDER BY id LIMIT ?", opts.BatchSize)
		if err != nil {
			return total, ir.Transient("store.maintain", err)
		}
		type pending struct{ id, text string }
		var batch []pending
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.id, &p.text); err != nil {
				rows.Close()
				return total, ir.Transient("store.maintain", err)
			}
			batch = append(batch, p)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return total, ir.Transient("store.maintain", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		for _, p := range batch {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE strings SET cluster_id = ? WHERE id = ?",
				s.ident.ClusterIDOf(p.text), p.id); err != nil {
				return total, ir.Transient("store.maintain", err)
			}
			total++
		}
		if err := pause(ctx, opts.Pause); err != nil {
			return total, err
		}
	}
}

// maintainPass walks inconsistent clusters in cluster id order.
func (s *Store) maintainPass(ctx context.Context, opts MaintainOptions, src ir.Source) (int, int, error) {
	fixed, updated := 0, 0
	cursor := ""
	for {
		clusters, err := s.inconsistentClusters(ctx, cursor, opts.BatchSize)
		if err != nil {
			return fixed, updated, err
		}
		if len(clusters) == 0 {
			return fixed, updated, nil
		}
		for _, cluster := range clusters {
			n, err := s.fixCluster(ctx, cluster, opts.Actor, src)
			if err != nil {
				return fixed, updated, err
			}
			if n > 0 {
				fixed++
				updated += n
			}
		}
		cursor = clusters[len(clusters)-1]
		if err := pause(ctx, opts.Pause); err != nil {
			return fixed, updated, err
		}
	}
}

func (s *Store) inconsistentClusters(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster_id FROM strings
		WHERE cluster_id > ?
		GROUP BY cluster_id
		HAVING COUNT(DISTINCT CASE WHEN canonical_id = '' THEN id ELSE canonical_id END) > 1
		ORDER BY cluster_id
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, ir.Transient("store.maintain", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, ir.Transient("store.maintain", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ir.Transient("store.maintain", err)
	}
	return out, nil
}

// fixCluster points every member of cluster at its representative and
// returns the number of records rewritten.
func (s *Store) fixCluster(ctx context.Context, cluster string, actor ir.Actor, src ir.Source) (int, error) {
	rep, err := s.ResolveCanonical(ctx, cluster)
	if err != nil || rep == "" {
		return 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, canonical_id FROM strings WHERE cluster_id = ? ORDER BY create_time, id", cluster)
	if err != nil {
		return 0, ir.Transient("store.maintain", err)
	}
	var stale []string
	for rows.Next() {
		var id, canonical string
		if err := rows.Scan(&id, &canonical); err != nil {
			rows.Close()
			return 0, ir.Transient("store.maintain", err)
		}
		if canonical == "" {
			canonical = id
		}
		if canonical != rep {
			stale = append(stale, id)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, ir.Transient("store.maintain", err)
	}

	n := 0
	for _, id := range stale {
		canonical := rep
		rec, err := s.ApplySimpleUpdate(ctx, id, SimpleUpdate{CanonicalID: &canonical, Actor: actor}, src)
		if err != nil {
			return n, err
		}
		if rec != nil && rec.Canonical() == rep {
			n++
		}
	}
	if n > 0 {
		slog.Debug("cluster canonical fixed", "cluster", cluster, "canonical", rep, "records", n)
	}
	return n, nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
