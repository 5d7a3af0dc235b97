package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/ident"
	"github.com/roach88/stringpool/internal/ir"
)

func createFoldStore(t *testing.T) *Store {
	t.Helper()
	fold, err := ident.New(ident.Config{Cluster: ident.ClusterFold})
	require.NoError(t, err)
	s, _ := createTestStore(t, WithIdentity(fold))
	return s
}

func TestMaintain_JoinsOldestMember(t *testing.T) {
	s := createFoldStore(t)
	a := mustUpsert(t, s, ir.Record{PlainText: "Müller, K.", CreateTime: 1})
	// Explicit self canonical splits the cluster.
	bID := s.Identity().IdentifierOf("muller k")
	b := mustUpsert(t, s, ir.Record{PlainText: "muller k", CreateTime: 2, CanonicalID: bID})
	require.Equal(t, a.ClusterID, b.ClusterID)

	report, err := s.Maintain(context.Background(), MaintainOptions{Actor: ir.Actor{Domain: "node-a", User: "maint"}})

	require.NoError(t, err)
	assert.Equal(t, MaintainReport{Passes: 2, ClustersFixed: 1, RecordsUpdated: 1}, report)

	fixed := mustGet(t, s, b.ID)
	assert.Equal(t, a.ID, fixed.CanonicalID)
	assert.Greater(t, fixed.LocalUpdateTime, b.LocalUpdateTime)
	assert.Equal(t, "maint", fixed.UpdateUser)

	h, err := s.History(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, ir.SourceMaintenance, h[1].SourceDescriptor)
}

func TestMaintain_PrefersExplicitCanonical(t *testing.T) {
	s := createFoldStore(t)
	target := mustUpsert(t, s, ir.Record{PlainText: "Elsewhere", CreateTime: 1})
	a := mustUpsert(t, s, ir.Record{PlainText: "Müller, K.", CreateTime: 2})
	b := mustUpsert(t, s, ir.Record{PlainText: "muller k", CreateTime: 3, CanonicalID: target.ID})

	_, err := s.Maintain(context.Background(), MaintainOptions{BatchSize: 1})
	require.NoError(t, err)

	assert.Equal(t, target.ID, mustGet(t, s, a.ID).CanonicalID)
	assert.Equal(t, target.ID, mustGet(t, s, b.ID).CanonicalID)
}

func TestMaintain_ConsistentPoolIsUntouched(t *testing.T) {
	s := createFoldStore(t)
	a := mustUpsert(t, s, ir.Record{PlainText: "Müller, K.", CreateTime: 1})
	mustUpsert(t, s, ir.Record{PlainText: "muller k", CreateTime: 2})

	report, err := s.Maintain(context.Background(), MaintainOptions{})

	require.NoError(t, err)
	assert.Equal(t, MaintainReport{Passes: 1}, report)
	assert.Equal(t, 1, historyLen(t, s, a.ID))
}

func TestMaintain_FillsMissingClusterIDs(t *testing.T) {
	s := createFoldStore(t)
	a := mustUpsert(t, s, ir.Record{PlainText: "Müller, K."})
	_, err := s.db.Exec("UPDATE strings SET cluster_id = '' WHERE id = ?", a.ID)
	require.NoError(t, err)

	report, err := s.Maintain(context.Background(), MaintainOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.ClusterIDsFilled)
	assert.Equal(t, a.ClusterID, mustGet(t, s, a.ID).ClusterID)
}

func TestMaintain_Canceled(t *testing.T) {
	s := createFoldStore(t)
	mustUpsert(t, s, ir.Record{PlainText: "Müller, K.", CreateTime: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Maintain(ctx, MaintainOptions{})

	assert.Error(t, err)
}
