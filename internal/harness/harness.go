package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/stringpool/internal/engine"
	"github.com/roach88/stringpool/internal/httpapi"
	"github.com/roach88/stringpool/internal/ident"
	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/query"
	"github.com/roach88/stringpool/internal/store"
	"github.com/roach88/stringpool/internal/testutil"
)

// Actors the harness attributes writes to.
const (
	harnessUser     = "harness"
	replicationUser = "replication"
	maintenanceUser = "maintenance"
)

// node is one running member of the scenario cluster.
type node struct {
	spec   NodeSpec
	clock  *testutil.FakeClock
	store  *store.Store
	facade *query.Facade
	server *httptest.Server
	engine *engine.Engine
}

// idOf returns the identifier the node derives for text.
func (n *node) idOf(text string) string {
	return n.store.Identity().IdentifierOf(ident.Normalize(text))
}

// Harness is the test execution engine.
// It runs scenarios against real stores with deterministic clocks and run
// ids, so traces are identical across runs.
type Harness struct {
	scenario *Scenario
	dir      string
	nodes    map[string]*node
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in fresh databases under a temporary directory that
// is removed afterwards.
//
// Execution flow:
// 1. Open one store per node, serve it over HTTP if requested
// 2. Wire each node's peers into a replication engine
// 3. Execute steps, checking their expect counters
// 4. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "stringpool-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: scenario,
		dir:      dir,
		nodes:    make(map[string]*node, len(scenario.Nodes)),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	defer h.close()

	if err := h.start(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Ctx: ctx, Nodes: h.nodes}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) start() error {
	for _, spec := range h.scenario.Nodes {
		n, err := h.openNode(spec)
		if err != nil {
			return fmt.Errorf("node %s: %w", spec.Name, err)
		}
		h.nodes[spec.Name] = n
	}
	for _, spec := range h.scenario.Nodes {
		if err := h.wirePeers(h.nodes[spec.Name]); err != nil {
			return fmt.Errorf("node %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (h *Harness) openNode(spec NodeSpec) (*node, error) {
	id, err := ident.New(ident.Config{
		Algorithm: ident.Algorithm(spec.Hash),
		Cluster:   ident.ClusterMode(spec.Cluster),
	})
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(h.dir, spec.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	clock := testutil.NewFakeClock(spec.Clock)
	st, err := store.Open(filepath.Join(dir, "pool.db"), store.WithClock(clock), store.WithIdentity(id))
	if err != nil {
		return nil, err
	}
	n := &node{
		spec:   spec,
		clock:  clock,
		store:  st,
		facade: query.New(st, query.WithDomain(spec.Name)),
	}
	if h.scenario.Transport == TransportHTTP {
		n.server = httptest.NewServer(httpapi.NewServer(n.facade, httpapi.ServerConfig{}).Handler())
	}
	return n, nil
}

func (h *Harness) wirePeers(n *node) error {
	if len(n.spec.Peers) == 0 {
		return nil
	}
	peers := make([]engine.Peer, 0, len(n.spec.Peers))
	for _, name := range n.spec.Peers {
		remote := h.nodes[name]
		if h.scenario.Transport != TransportHTTP {
			peers = append(peers, engine.NewLocalPeer(name, remote.store))
			continue
		}
		c, err := httpapi.NewClient(name, remote.server.URL)
		if err != nil {
			return err
		}
		peers = append(peers, c)
	}
	eng, err := engine.New(n.store, peers,
		engine.WithClock(n.clock),
		engine.WithActor(ir.Actor{Domain: n.spec.Name, User: replicationUser}),
		engine.WithRunIDs(testutil.NewSequentialRunIDs(n.spec.Name)),
		engine.WithSlack(0),
		engine.WithThrottle(0))
	if err != nil {
		return err
	}
	n.engine = eng
	return nil
}

func (h *Harness) close() {
	for _, n := range h.nodes {
		if n.server != nil {
			n.server.Close()
		}
		n.store.Close()
	}
}

// executeStep runs one step, records it in the trace and checks its
// expect counters. Only harness failures are returned; unmet
// expectations are added to the result.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	n := h.nodes[step.Node]
	op := step.Op()

	var (
		target string
		counts map[string]int
		err    error
	)
	switch op {
	case OpUpload:
		counts = h.upload(ctx, n, step.Upload)
	case OpUpdate:
		target = step.Update.Text
		counts, err = h.update(ctx, n, step.Update)
	case OpSync:
		target = step.Sync
		counts = h.sync(ctx, n, step.Sync)
	case OpMaintain:
		counts, err = h.maintain(ctx, n)
	case OpAdvance:
		n.clock.Advance(step.Advance)
		counts = map[string]int{"ms": int(step.Advance)}
	}
	if err != nil {
		return err
	}

	result.AddTrace(step.Node, op, target, counts)
	h.logger.Info("step completed", "step", index, "node", step.Node, "op", op, "counts", counts)

	if counts["failed"] > 0 && step.Expect["failed"] == 0 {
		result.AddError(fmt.Sprintf("steps[%d]: %s on %s failed unexpectedly", index, op, step.Node))
	}
	keys := make([]string, 0, len(step.Expect))
	for k := range step.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if got, want := counts[k], step.Expect[k]; got != want {
			result.AddError(fmt.Sprintf("steps[%d]: %s on %s: %s = %d, expected %d",
				index, op, step.Node, k, got, want))
		}
	}
	return nil
}

func (h *Harness) upload(ctx context.Context, n *node, items []Item) map[string]int {
	batch := make([]query.UploadItem, len(items))
	for i, it := range items {
		batch[i] = query.UploadItem{PlainText: it.Text}
		if it.Parsed != "" {
			batch[i].Parsed = []byte(it.Parsed)
		}
		if it.Canonical != "" {
			batch[i].CanonicalID = n.idOf(it.Canonical)
		}
	}
	counts := map[string]int{"created": 0, "updated": 0, "rejected": 0, "parse_errors": 0}
	for _, res := range n.facade.Upload(ctx, batch, ir.Actor{User: harnessUser}, harnessUser) {
		switch {
		case res.Err != nil:
			counts["rejected"]++
			continue
		case res.Created:
			counts["created"]++
		case res.Updated:
			counts["updated"]++
		}
		if res.ParseError != "" {
			counts["parse_errors"]++
		}
	}
	return counts
}

func (h *Harness) update(ctx context.Context, n *node, u *UpdateStep) (map[string]int, error) {
	var canonical *string
	if u.Canonical != nil {
		c := ""
		if *u.Canonical != "" {
			c = n.idOf(*u.Canonical)
		}
		canonical = &c
	}
	rec, err := n.facade.Update(ctx, n.idOf(u.Text), canonical, u.Deleted, ir.Actor{User: harnessUser}, harnessUser)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]int{"found": 0}, nil
	}
	return map[string]int{"found": 1}, nil
}

func (h *Harness) sync(ctx context.Context, n *node, peer string) map[string]int {
	p, _ := n.engine.Peer(peer)
	report, err := n.engine.SyncPeer(ctx, p)
	counts := map[string]int{
		"rounds":         report.Rounds,
		"feed_entries":   report.FeedEntries,
		"fetched":        report.Fetched,
		"applied":        report.Applied,
		"simple_updates": report.SimpleUpdates,
		"ignored":        report.Ignored,
		"skipped":        report.Skipped,
	}
	if err != nil {
		h.logger.Warn("sync failed", "node", n.spec.Name, "peer", peer, "error", err)
		counts["failed"] = 1
	}
	return counts
}

func (h *Harness) maintain(ctx context.Context, n *node) (map[string]int, error) {
	report, err := n.store.Maintain(ctx, store.MaintainOptions{
		Actor: ir.Actor{Domain: n.spec.Name, User: maintenanceUser},
	})
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"cluster_ids_filled": report.ClusterIDsFilled,
		"clusters_fixed":     report.ClustersFixed,
		"records_updated":    report.RecordsUpdated,
	}, nil
}
