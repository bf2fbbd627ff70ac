package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsync/draftsync/internal/model"
)

func newTestAggregator(start time.Time) (*Aggregator, *time.Time) {
	a := NewAggregator()
	now := start
	a.now = func() time.Time { return now }
	return a, &now
}

func TestAggregatorScenario(t *testing.T) {
	// 4 files totaling 4000 bytes; 1000 bytes land on file 1, file 1
	// completes, file 2 fails.
	a, now := newTestAggregator(time.Now())
	for _, h := range []string{"f1", "f2", "f3", "f4"} {
		a.FileAdded(h, 1000)
	}
	*now = now.Add(time.Second)
	a.FileProgress("f1", 1000, 1000)
	snap := a.FileCompleted("f1")
	snap = a.FileFailed("f2")

	assert.Equal(t, 4, snap.TotalFiles)
	assert.Equal(t, 1, snap.CompletedFiles)
	assert.Equal(t, 1, snap.FailedFiles)
	assert.Equal(t, 2, snap.ActiveFiles)
	assert.GreaterOrEqual(t, snap.DownloadedSize, int64(1000))
	assert.Equal(t, int64(4000), snap.TotalSize)
	assert.InDelta(t, 100*float64(snap.DownloadedSize)/4000, snap.ProgressPercent, 1e-9)
}

func TestAggregatorMonotonicProgress(t *testing.T) {
	a, now := newTestAggregator(time.Now())
	a.FileAdded("f1", 2000)
	a.FileAdded("f2", 2000)

	var prev model.ProgressSnapshot
	apply := func(snap model.ProgressSnapshot) {
		assert.GreaterOrEqual(t, snap.DownloadedSize, prev.DownloadedSize)
		assert.GreaterOrEqual(t, snap.CompletedFiles, prev.CompletedFiles)
		prev = snap
	}

	*now = now.Add(time.Second)
	apply(a.FileProgress("f1", 500, 2000))
	// Duplicate and stale events do not move counters backwards.
	apply(a.FileProgress("f1", 500, 2000))
	apply(a.FileProgress("f1", 200, 2000))
	*now = now.Add(time.Second)
	apply(a.FileProgress("f2", 1500, 2000))
	apply(a.FileCompleted("f1"))
	apply(a.FileCompleted("f2"))
	assert.Equal(t, int64(4000), prev.DownloadedSize)
	assert.Equal(t, 2, prev.CompletedFiles)
}

func TestAggregatorPercentFallsBackToFileCounts(t *testing.T) {
	a, _ := newTestAggregator(time.Now())
	a.FileAdded("f1", 0)
	a.FileAdded("f2", 0)
	snap := a.FileCompleted("f1")
	assert.Zero(t, snap.TotalSize)
	assert.InDelta(t, 50.0, snap.ProgressPercent, 1e-9)
}

func TestAggregatorPercentBounds(t *testing.T) {
	a, now := newTestAggregator(time.Now())
	a.FileAdded("f1", 100)
	*now = now.Add(time.Second)
	snap := a.FileProgress("f1", 100, 100)
	assert.LessOrEqual(t, snap.ProgressPercent, 100.0)
	assert.GreaterOrEqual(t, snap.ProgressPercent, 0.0)
}

func TestAggregatorEta(t *testing.T) {
	a, now := newTestAggregator(time.Now())
	a.FileAdded("f1", 10000)

	// No bytes observed yet: speed is zero, eta absent.
	snap := a.Snapshot()
	assert.Zero(t, snap.DownloadSpeed)
	assert.Nil(t, snap.EtaSeconds)

	*now = now.Add(time.Second)
	a.FileProgress("f1", 1000, 10000)
	*now = now.Add(time.Second)
	snap = a.FileProgress("f1", 2000, 10000)
	require.NotNil(t, snap.EtaSeconds)
	assert.Greater(t, *snap.EtaSeconds, 0.0)
	assert.Positive(t, snap.DownloadSpeed)
}

func TestAggregatorEtaAbsentWhenTotalUnknown(t *testing.T) {
	a, now := newTestAggregator(time.Now())
	a.FileAdded("f1", 0)
	*now = now.Add(time.Second)
	a.FileProgress("f1", 500, 0)
	*now = now.Add(time.Second)
	snap := a.FileProgress("f1", 1500, 0)
	assert.Nil(t, snap.EtaSeconds)
}

func TestAggregatorFileRemoved(t *testing.T) {
	a, now := newTestAggregator(time.Now())
	a.FileAdded("f1", 1000)
	a.FileAdded("f2", 1000)
	*now = now.Add(time.Second)
	a.FileProgress("f1", 400, 1000)
	snap := a.FileRemoved("f1")
	assert.Equal(t, 1, snap.TotalFiles)
	assert.Equal(t, int64(1000), snap.TotalSize)
	assert.Zero(t, snap.DownloadedSize)
}

func TestSpeedMeterDecays(t *testing.T) {
	var m speedMeter
	start := time.Now()
	m.observe(1000, start)
	m.observe(1000, start.Add(time.Second))
	rate := m.rate(start.Add(time.Second))
	assert.Positive(t, rate)
	// After the idle cutoff the estimate reads zero.
	assert.Zero(t, m.rate(start.Add(time.Minute)))
}
