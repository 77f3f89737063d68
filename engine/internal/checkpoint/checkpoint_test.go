package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartographer/engine/models"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	cp := models.Checkpoint{
		CrawlID:       "crawl-1",
		VisitedCount:  2,
		EnqueuedCount: 3,
		QueueDepth:    1,
		Timestamp:     time.Now(),
	}
	visited := []string{"keyA", "keyB"}
	frontier := []models.FrontierItem{{URL: "https://example.com/c", Depth: 1, DiscoveredFrom: "https://example.com/a"}}

	require.NoError(t, store.Save(cp, visited, frontier))

	snap, ok, err := Load(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "crawl-1", snap.State.CrawlID)
	assert.ElementsMatch(t, visited, snap.Visited)
	require.Len(t, snap.Frontier, 1)
	assert.Equal(t, "https://example.com/c", snap.Frontier[0].URL)
}

func TestLoadMissingCheckpointReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	snap, ok, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, snap)
}

func TestRebuildEnqueuedUnionsVisitedAndFrontier(t *testing.T) {
	snap := &Snapshot{
		Visited:  []string{"a", "b"},
		Frontier: []models.FrontierItem{{URL: "c"}, {URL: "a"}},
	}
	enqueued := snap.RebuildEnqueued()
	assert.True(t, enqueued["a"])
	assert.True(t, enqueued["b"])
	assert.True(t, enqueued["c"])
	assert.Len(t, enqueued, 3)
}

func TestSaveOverwritesPreviousSnapshotAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(models.Checkpoint{CrawlID: "first"}, []string{"a"}, nil))
	require.NoError(t, store.Save(models.Checkpoint{CrawlID: "second"}, []string{"a", "b"}, nil))

	snap, ok, err := Load(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", snap.State.CrawlID)
	assert.Len(t, snap.Visited, 2)
}

func TestFirePolicyFiresOnPageInterval(t *testing.T) {
	p := NewFirePolicy(3, 0)
	now := time.Now()
	assert.False(t, p.OnPageWritten(now))
	assert.False(t, p.OnPageWritten(now))
	assert.True(t, p.OnPageWritten(now))
}

func TestFirePolicyFiresOnTimeInterval(t *testing.T) {
	p := NewFirePolicy(0, 10*time.Millisecond)
	start := time.Now()
	assert.False(t, p.OnPageWritten(start))
	assert.True(t, p.OnPageWritten(start.Add(20*time.Millisecond)))
}

func TestFirePolicyResetClearsCounters(t *testing.T) {
	p := NewFirePolicy(2, 0)
	now := time.Now()
	assert.False(t, p.OnPageWritten(now))
	p.Reset(now)
	assert.False(t, p.OnPageWritten(now))
}

func TestNewFirePolicyDefaultsToFiveHundredPages(t *testing.T) {
	p := NewFirePolicy(0, 0)
	assert.Equal(t, 500, p.PageInterval)
}
