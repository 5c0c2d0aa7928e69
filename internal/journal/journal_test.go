package journal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentworld/worldkernel/pkg/cas"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	j := New(cas.NewMemStore(), Config{})

	e1, err := j.Append(1, ActionCause(1), "Domain", "body-1")
	require.NoError(t, err)
	e2, err := j.Append(2, ActionCause(1), "Domain", "body-2")
	require.NoError(t, err)

	require.EqualValues(t, 1, e1.ID)
	require.EqualValues(t, 2, e2.ID)
	require.EqualValues(t, 3, j.NextID())
}

func TestAppendRotatesToColdWhenHotExceedsThreshold(t *testing.T) {
	j := New(cas.NewMemStore(), Config{HotMaxRecords: 2, ColdSegmentMaxLines: 2})

	for i := 0; i < 5; i++ {
		_, err := j.Append(uint64(i), CauseNone, "Domain", i)
		require.NoError(t, err)
	}

	require.NotEmpty(t, j.ColdRefs())
	require.Equal(t, 5, j.Len())
}

func TestIterReturnsEventsFromIDAcrossColdAndHot(t *testing.T) {
	j := New(cas.NewMemStore(), Config{HotMaxRecords: 2, ColdSegmentMaxLines: 2})

	for i := 1; i <= 6; i++ {
		_, err := j.Append(uint64(i), CauseNone, "Domain", i)
		require.NoError(t, err)
	}

	events, err := j.Iter(4)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.EqualValues(t, 4, events[0].ID)
	require.EqualValues(t, 6, events[len(events)-1].ID)
}

func TestIterFromZeroReturnsEverythingInOrder(t *testing.T) {
	j := New(cas.NewMemStore(), Config{HotMaxRecords: 1, ColdSegmentMaxLines: 1})

	for i := 1; i <= 4; i++ {
		_, err := j.Append(uint64(i), CauseNone, "Domain", i)
		require.NoError(t, err)
	}

	events, err := j.Iter(0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for idx, e := range events {
		require.EqualValues(t, idx+1, e.ID)
	}
}

func TestCollectIgnoresWorldIDAndReturnsFullLog(t *testing.T) {
	j := New(cas.NewMemStore(), Config{})
	_, err := j.Append(1, CauseNone, "Domain", "x")
	require.NoError(t, err)

	events, err := j.Collect("any-world")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestReadColdReturnsJournalCorruptOnMissingBlob(t *testing.T) {
	store := &goneAfterPutStore{MemStore: cas.NewMemStore()}
	j := New(store, Config{HotMaxRecords: 1, ColdSegmentMaxLines: 1})
	_, err := j.Append(1, CauseNone, "Domain", "x")
	require.NoError(t, err)
	_, err = j.Append(2, CauseNone, "Domain", "y")
	require.NoError(t, err)

	require.Len(t, j.ColdRefs(), 1)

	_, err = j.Iter(0)
	require.Error(t, err)
}

// goneAfterPutStore accepts writes but reports every blob as missing on
// Get, simulating a cold segment that vanished from durable storage.
type goneAfterPutStore struct {
	*cas.MemStore
}

func (g *goneAfterPutStore) Get(hash string) ([]byte, error) {
	return nil, cas.ErrNotFound
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{}
	cfg.Normalize()
	require.Equal(t, 4096, cfg.HotMaxRecords)
	require.Equal(t, 256, cfg.ColdSegmentMaxLines)
}

func TestNormalizeKeepsExplicitPositiveValues(t *testing.T) {
	cfg := Config{HotMaxRecords: 10, ColdSegmentMaxLines: 3}
	cfg.Normalize()
	require.Equal(t, 10, cfg.HotMaxRecords)
	require.Equal(t, 3, cfg.ColdSegmentMaxLines)
}

func TestActionCauseEffectCauseModuleCauseConstructors(t *testing.T) {
	require.Equal(t, Cause{Kind: CauseAction, ActionID: 7}, ActionCause(7))
	require.Equal(t, Cause{Kind: CauseEffect, IntentID: "i1"}, EffectCause("i1"))
	require.Equal(t, Cause{Kind: CauseModule, TraceID: "t1"}, ModuleCause("t1"))
}
