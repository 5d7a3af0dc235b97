package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/stats"
	"github.com/roach88/stringpool/internal/store"
)

// CycleReport summarizes one sync cycle of one peer.
type CycleReport struct {
	Peer  string `json:"peer"`
	RunID string `json:"run_id"`

	// Since is the watermark the cycle started from.
	Since int64 `json:"since"`

	Rounds        int `json:"rounds"`
	FeedEntries   int `json:"feed_entries"`
	Fetched       int `json:"fetched"`
	Applied       int `json:"applied"`
	SimpleUpdates int `json:"simple_updates"`
	Ignored       int `json:"ignored"`
	Skipped       int `json:"skipped"`

	// Watermark is the persisted watermark after the cycle.
	Watermark int64 `json:"watermark"`

	StartedAt  int64 `json:"started_at"`
	FinishedAt int64 `json:"finished_at"`
}

// cycle is the state of one SyncPeer call.
type cycle struct {
	e      *Engine
	peer   Peer
	name   string
	source ir.Source
	report CycleReport
}

// SyncPeer runs one sync cycle against p and returns what it did. A failed
// cycle returns a *CycleError together with the partial report; the
// watermark covers everything that was fully resolved before the failure.
func (e *Engine) SyncPeer(ctx context.Context, p Peer) (CycleReport, error) {
	name := p.Name()
	lock := e.peerLock(name)
	lock.Lock()
	defer lock.Unlock()

	c := &cycle{
		e:    e,
		peer: p,
		name: name,
		report: CycleReport{
			Peer:      name,
			RunID:     e.runIDs.Generate(),
			StartedAt: e.clock.NowMillis(),
		},
	}
	defer e.setState(name, StateIdle)

	state, err := c.run(ctx)
	c.report.FinishedAt = e.clock.NowMillis()
	c.record(ctx, err)

	if err != nil {
		return c.report, &CycleError{Peer: name, RunID: c.report.RunID, State: state, Err: err}
	}
	slog.Info("sync cycle complete",
		"peer", name,
		"run", c.report.RunID,
		"rounds", c.report.Rounds,
		"feed_entries", c.report.FeedEntries,
		"fetched", c.report.Fetched,
		"applied", c.report.Applied,
		"simple_updates", c.report.SimpleUpdates,
		"skipped", c.report.Skipped,
		"watermark", c.report.Watermark)
	return c.report, nil
}

// run drives the state machine. It returns the state in which it failed.
func (c *cycle) run(ctx context.Context) (State, error) {
	e := c.e
	start, err := e.store.Watermark(ctx, c.name)
	if err != nil {
		return StateIdle, err
	}
	c.report.Since = start
	c.report.Watermark = start

	slack := e.slack.Milliseconds()
	since := max(0, start-slack)
	safe := start

	var (
		failed  State
		roundOK = true
	)
	for round := 1; ; round++ {
		if round > e.maxRounds {
			err = &RoundsExceededError{Peer: c.name, Rounds: round, Limit: e.maxRounds}
			failed = StateFetchingFeed
			break
		}
		if err = ctx.Err(); err != nil {
			failed = StateFetchingFeed
			break
		}
		c.report.Rounds = round

		e.setState(c.name, StateFetchingFeed)
		entries, more, ferr := c.fetchFeed(ctx, since)
		if ferr != nil {
			err, failed = ferr, StateFetchingFeed
			break
		}
		if len(entries) == 0 {
			break
		}
		c.report.FeedEntries += len(entries)

		roundSafe, state, rerr := c.round(ctx, entries, safe)
		safe = max(safe, roundSafe)
		if rerr != nil {
			err, failed, roundOK = rerr, state, false
			break
		}
		if !more {
			break
		}

		// Page truncated: continue right after the last entry read, re-reading the
		// slack window unless that would not make progress.
		last := entries[len(entries)-1].LocalUpdateTime
		next := last - slack
		if next <= since {
			next = last
		}
		since = next
	}

	if safe > start {
		e.setState(c.name, StateAdvanceWatermark)
		if werr := e.store.SetWatermark(ctx, c.name, safe); werr != nil {
			if err == nil {
				err, failed = werr, StateAdvanceWatermark
			}
		} else {
			c.report.Watermark = safe
		}
	}
	if !roundOK {
		slog.Warn("sync round incomplete",
			"peer", c.name,
			"run", c.report.RunID,
			"state", failed,
			"watermark", c.report.Watermark)
	}
	return failed, err
}

// fetchFeed reads one feed page. The page is bounded by the feed cap and
// read completely before resolution starts. The bool reports whether the
// peer has entries past the page: the page filled the local cap, or the
// peer clamped it to a smaller cap of its own and said so.
func (c *cycle) fetchFeed(ctx context.Context, since int64) ([]ir.FeedEntry, bool, error) {
	fctx, cancel := context.WithTimeout(ctx, c.e.timeout)
	defer cancel()

	it, err := c.peer.Feed(fctx, since, c.e.feedCap)
	if err != nil {
		return nil, false, ir.Transient("peer.feed", err)
	}
	entries := make([]ir.FeedEntry, 0, min(c.e.feedCap, 1024))
	for len(entries) < c.e.feedCap && it.Next() {
		entries = append(entries, it.Value())
	}
	err = it.Err()
	it.Close()
	if err != nil {
		return nil, false, ir.Transient("peer.feed", err)
	}
	more := len(entries) >= c.e.feedCap
	if tf, ok := it.(TruncatedFeed); ok && tf.Truncated() {
		more = true
	}
	return entries, more, nil
}

// round resolves and applies one feed page. It returns the highest local
// update time below which every entry of the page was resolved.
func (c *cycle) round(ctx context.Context, entries []ir.FeedEntry, floor int64) (int64, State, error) {
	e := c.e
	resolved := make([]bool, len(entries))
	safe := func() int64 { return safeWatermark(entries, resolved, floor) }

	e.setState(c.name, StateResolving)
	ids := make([]string, len(entries))
	for i, fe := range entries {
		ids[i] = strings.ToUpper(fe.ID)
	}
	locals, err := e.store.LookupMany(ctx, ids)
	if err != nil {
		return safe(), StateResolving, err
	}

	queue := newFetchQueue()
	for i, fe := range entries {
		fe.ID = ids[i]
		if fe.ID == "" {
			slog.Warn("feed entry without id skipped", "peer", c.name, "run", c.report.RunID)
			c.report.Skipped++
			resolved[i] = true
			continue
		}
		local, ok := locals[fe.ID]
		switch {
		case !ok:
			queue.Push(i, fe)
		case fe.UpdateTime < local.UpdateTime:
			c.report.Ignored++
			resolved[i] = true
		case fe.ParseChecksum == "" || fe.ParseChecksum == local.ParseChecksum:
			rec, err := c.simpleUpdate(ctx, fe)
			if err != nil {
				return safe(), StateResolving, err
			}
			if rec == nil {
				queue.Push(i, fe)
				continue
			}
			if rec.LocalUpdateTime != local.LocalUpdateTime {
				c.report.SimpleUpdates++
			} else {
				c.report.Ignored++
			}
			resolved[i] = true
		default:
			queue.Push(i, fe)
		}
	}

	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return safe(), StateFetchingBatch, err
		}
		batch := queue.TakeBatch(e.batchSize)

		e.setState(c.name, StateFetchingBatch)
		recs, malformed, err := c.fetchBatch(ctx, batch)
		if err != nil {
			return safe(), StateFetchingBatch, err
		}

		e.setState(c.name, StateApplying)
		for _, p := range batch {
			rec, ok := recs[p.entry.ID]
			if !ok {
				if malformed[p.entry.ID] {
					slog.Warn("malformed record skipped", "peer", c.name, "run", c.report.RunID, "id", p.entry.ID)
				} else {
					slog.Warn("record missing from peer", "peer", c.name, "run", c.report.RunID, "id", p.entry.ID)
				}
				c.report.Skipped++
				resolved[p.index] = true
				continue
			}
			if err := c.apply(ctx, p.entry, rec); err != nil {
				if ir.IsRetryable(err) || ctx.Err() != nil {
					return safe(), StateApplying, err
				}
				slog.Warn("record rejected",
					"peer", c.name,
					"run", c.report.RunID,
					"id", p.entry.ID,
					"error", err)
				c.report.Skipped++
			}
			resolved[p.index] = true
		}

		if queue.Len() > 0 {
			if err := pause(ctx, e.throttle); err != nil {
				return safe(), StateApplying, err
			}
		}
	}
	return safe(), StateIdle, nil
}

// safeWatermark returns the highest local update time such that every
// entry up to it was resolved, never below floor.
func safeWatermark(entries []ir.FeedEntry, resolved []bool, floor int64) int64 {
	safe := floor
	for i, fe := range entries {
		if !resolved[i] {
			return max(floor, min(safe, fe.LocalUpdateTime-1))
		}
		safe = max(safe, fe.LocalUpdateTime)
	}
	return safe
}

// simpleUpdate applies the metadata of an entry whose content is already
// stored. Returns nil if the record disappeared locally.
func (c *cycle) simpleUpdate(ctx context.Context, fe ir.FeedEntry) (*ir.Record, error) {
	u := store.SimpleUpdate{
		Deleted:    &fe.Deleted,
		Actor:      c.e.actor,
		UpdateTime: fe.UpdateTime,
	}
	if fe.CanonicalID != "" {
		canonical := fe.CanonicalID
		u.CanonicalID = &canonical
	}
	return c.e.store.ApplySimpleUpdate(ctx, fe.ID, u, ir.SourceFrom(c.e.actor.Domain, ir.SourceFeed, c.name))
}

// fetchBatch fetches the records of a batch. If the response cannot be
// decoded, the ids are fetched one by one so that a single malformed
// record only costs itself.
func (c *cycle) fetchBatch(ctx context.Context, batch []pending) (map[string]ir.Record, map[string]bool, error) {
	ids := make([]string, len(batch))
	for i, p := range batch {
		ids[i] = p.entry.ID
	}

	recs, err := c.fetch(ctx, ids)
	if err == nil {
		return recs, nil, nil
	}
	if !ir.IsKind(err, ir.KindDecode) || len(ids) == 1 {
		if ir.IsKind(err, ir.KindDecode) {
			return map[string]ir.Record{}, map[string]bool{ids[0]: true}, nil
		}
		return nil, nil, err
	}

	slog.Warn("batch decode failed, fetching records individually",
		"peer", c.name, "run", c.report.RunID, "ids", len(ids), "error", err)
	recs = make(map[string]ir.Record, len(ids))
	malformed := make(map[string]bool)
	for _, id := range ids {
		one, err := c.fetch(ctx, []string{id})
		switch {
		case err == nil:
			for k, v := range one {
				recs[k] = v
			}
		case ir.IsKind(err, ir.KindDecode):
			malformed[id] = true
		default:
			return nil, nil, err
		}
	}
	return recs, malformed, nil
}

// fetch requests ids and returns the requested records found in the
// response, keyed by id.
func (c *cycle) fetch(ctx context.Context, ids []string) (map[string]ir.Record, error) {
	fctx, cancel := context.WithTimeout(ctx, c.e.timeout)
	defer cancel()

	it, err := c.peer.Fetch(fctx, ids)
	if err != nil {
		return nil, ir.Transient("peer.fetch", err)
	}
	recs, err := ir.Collect(it)
	if err != nil {
		return nil, ir.Transient("peer.fetch", err)
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	out := make(map[string]ir.Record, len(recs))
	for _, rec := range recs {
		rec.ID = strings.ToUpper(rec.ID)
		if !wanted[rec.ID] {
			slog.Debug("unrequested record ignored", "peer", c.name, "id", rec.ID)
			continue
		}
		out[rec.ID] = rec
	}
	c.report.Fetched += len(out)
	return out, nil
}

// apply upserts a fetched record. Times missing from the record are taken
// from its feed entry; the local update time is always this node's.
func (c *cycle) apply(ctx context.Context, fe ir.FeedEntry, rec ir.Record) error {
	if rec.CreateTime == 0 {
		rec.CreateTime = fe.CreateTime
	}
	if rec.UpdateTime == 0 {
		rec.UpdateTime = fe.UpdateTime
	}
	rec.LocalUpdateTime = 0

	res, err := c.e.store.Upsert(ctx, rec, ir.SourceFrom(c.e.actor.Domain, ir.SourceFetch, c.name))
	if err != nil {
		return err
	}
	if res.Created || res.Updated {
		c.report.Applied++
	}
	return nil
}

// record reports the cycle to the stats sink.
func (c *cycle) record(ctx context.Context, err error) {
	m := c.e.metrics
	m.Incr(ctx, stats.ReplicationCycles, 1)
	if err != nil {
		m.Incr(ctx, stats.ReplicationFailures, 1)
	}
	counters := []struct {
		name string
		n    int
	}{
		{stats.ReplicationFeedEntries, c.report.FeedEntries},
		{stats.ReplicationFetched, c.report.Fetched},
		{stats.ReplicationApplied, c.report.Applied},
		{stats.ReplicationSimpleUpdates, c.report.SimpleUpdates},
		{stats.ReplicationSkipped, c.report.Skipped},
	}
	for _, ctr := range counters {
		if ctr.n > 0 {
			m.Incr(ctx, ctr.name, int64(ctr.n))
		}
	}
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
