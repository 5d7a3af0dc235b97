package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/stringpool/internal/ir"
	"github.com/roach88/stringpool/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s %v\n", event.Seq, event.Node, event.Op, event.Target, event.Counts)
		}
	}
	return buf.String()
}

// AssertionContext provides access to the scenario's nodes.
type AssertionContext struct {
	Ctx   context.Context
	Nodes map[string]*node
}

// EvaluateAssertions evaluates all assertions against the final state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertRecord:
			err = assertRecord(actx, assertion)
		case AssertCount:
			err = assertCount(actx, assertion)
		case AssertClusters:
			err = assertClusters(actx, assertion)
		case AssertConverged:
			err = assertConverged(actx, assertion)
		case AssertHistory:
			err = assertHistory(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if ae, ok := err.(*AssertionError); ok {
			ae.Trace = result.Trace
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func assertRecord(actx *AssertionContext, a Assertion) error {
	n := actx.Nodes[a.Node]
	id := n.idOf(a.Text)
	rec, err := n.store.Lookup(actx.Ctx, id)
	if err != nil {
		return err
	}

	if a.Absent {
		if rec != nil {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%q absent on %s", a.Text, a.Node),
				Actual:   "present as " + rec.ID,
			}
		}
		return nil
	}
	if rec == nil {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("%q present on %s", a.Text, a.Node),
			Actual:   "not found",
		}
	}

	if a.Deleted != nil && rec.Deleted != *a.Deleted {
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("%q on %s deleted=%t", a.Text, a.Node, *a.Deleted),
			Actual:   fmt.Sprintf("deleted=%t", rec.Deleted),
		}
	}
	if a.Canonical != nil {
		want := id
		if *a.Canonical != "" {
			want = n.idOf(*a.Canonical)
		}
		if rec.Canonical() != want {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%q on %s has canonical %s (%q)", a.Text, a.Node, want, *a.Canonical),
				Actual:   "canonical " + rec.Canonical(),
			}
		}
	}
	return nil
}

func assertCount(actx *AssertionContext, a Assertion) error {
	got, err := actx.Nodes[a.Node].store.Count(actx.Ctx, -1)
	if err != nil {
		return err
	}
	if got != int64(a.Count) {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d strings on %s", a.Count, a.Node),
			Actual:   fmt.Sprintf("%d strings", got),
		}
	}
	return nil
}

func assertClusters(actx *AssertionContext, a Assertion) error {
	got, err := actx.Nodes[a.Node].store.ClusterCount(actx.Ctx)
	if err != nil {
		return err
	}
	if got != int64(a.Count) {
		return &AssertionError{
			Type:     AssertClusters,
			Expected: fmt.Sprintf("%d clusters on %s", a.Count, a.Node),
			Actual:   fmt.Sprintf("%d clusters", got),
		}
	}
	return nil
}

// replicated is the part of a record every node must agree on.
// Local update times are node specific and left out.
type replicated struct {
	CanonicalID   string
	CreateTime    int64
	UpdateTime    int64
	Deleted       bool
	ParseChecksum string
}

func snapshot(ctx context.Context, st *store.Store) (map[string]replicated, error) {
	entries, err := ir.Collect(st.FeedSince(ctx, 0, 0))
	if err != nil {
		return nil, err
	}
	out := make(map[string]replicated, len(entries))
	for _, fe := range entries {
		out[fe.ID] = replicated{
			CanonicalID:   fe.CanonicalID,
			CreateTime:    fe.CreateTime,
			UpdateTime:    fe.UpdateTime,
			Deleted:       fe.Deleted,
			ParseChecksum: fe.ParseChecksum,
		}
	}
	return out, nil
}

func assertConverged(actx *AssertionContext, a Assertion) error {
	base, err := snapshot(actx.Ctx, actx.Nodes[a.Nodes[0]].store)
	if err != nil {
		return err
	}
	for _, name := range a.Nodes[1:] {
		other, err := snapshot(actx.Ctx, actx.Nodes[name].store)
		if err != nil {
			return err
		}
		if diff := firstDifference(base, other); diff != "" {
			return &AssertionError{
				Type:     AssertConverged,
				Expected: fmt.Sprintf("%s and %s hold identical records", a.Nodes[0], name),
				Actual:   diff,
			}
		}
	}
	return nil
}

func firstDifference(a, b map[string]replicated) string {
	ids := make([]string, 0, len(a)+len(b))
	for id := range a {
		ids = append(ids, id)
	}
	for id := range b {
		if _, ok := a[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		ra, okA := a[id]
		rb, okB := b[id]
		switch {
		case !okA:
			return id + " missing on first node"
		case !okB:
			return id + " missing on second node"
		case ra != rb:
			return fmt.Sprintf("%s differs: %+v vs %+v", id, ra, rb)
		}
	}
	return ""
}

func assertHistory(actx *AssertionContext, a Assertion) error {
	n := actx.Nodes[a.Node]
	history, err := n.store.History(actx.Ctx, n.idOf(a.Text))
	if err != nil {
		return err
	}
	got := make([]string, len(history))
	for i, h := range history {
		got[i] = h.SourceDescriptor
	}
	if strings.Join(got, ",") != strings.Join(a.Sources, ",") {
		return &AssertionError{
			Type:     AssertHistory,
			Expected: fmt.Sprintf("%q on %s written by %v", a.Text, a.Node, a.Sources),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}
