package catalogue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Catalogue {
	t.Helper()
	c, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleRow(streamID string, ts time.Time, class string, conf float64) Row {
	return Row{
		Timestamp:       ts,
		StreamID:        streamID,
		StreamName:      "front door",
		FilePath:        "/recordings/" + streamID + "/clip.mp4",
		Duration:        12.5,
		ObjectsDetected: []Detection{{Class: class, Confidence: conf, BBox: [4]float64{0, 0, 10, 10}}},
		ThumbnailPath:   "/recordings/" + streamID + "/clip_thumb.jpg",
		Confidence:      conf,
		Retained:        true,
	}
}

func TestInsertAndGet(t *testing.T) {
	c := openTest(t)
	id, err := c.Insert(sampleRow("s1", time.Now(), "person", 0.8))
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	row, err := c.Get(id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "s1", row.StreamID)
	assert.Equal(t, "person", row.ObjectsDetected[0].Class)
	assert.True(t, row.Retained)
}

func TestGetMissingReturnsNil(t *testing.T) {
	c := openTest(t)
	row, err := c.Get(999)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestListFilterByStreamAndClass(t *testing.T) {
	c := openTest(t)
	now := time.Now()
	_, _ = c.Insert(sampleRow("s1", now, "person", 0.9))
	_, _ = c.Insert(sampleRow("s2", now.Add(time.Minute), "car", 0.7))

	rows, err := c.List(Filter{StreamID: "s1"}, SortTimestamp, Desc, Paging{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].StreamID)

	rows, err = c.List(Filter{ObjectClass: "car"}, SortTimestamp, Desc, Paging{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "car", rows[0].ObjectsDetected[0].Class)
}

func TestListOnlyReturnsRetained(t *testing.T) {
	c := openTest(t)
	id, _ := c.Insert(sampleRow("s1", time.Now(), "person", 0.9))
	require.NoError(t, c.MarkEvicted(id))

	rows, err := c.List(Filter{}, SortTimestamp, Desc, Paging{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeleteIsIdempotent(t *testing.T) {
	c := openTest(t)
	id, _ := c.Insert(sampleRow("s1", time.Now(), "person", 0.9))

	var removed []string
	ok, err := c.Delete(id, func(p string) error { removed = append(removed, p); return nil })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, removed, 2)

	ok, err = c.Delete(id, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOldestRetained(t *testing.T) {
	c := openTest(t)
	now := time.Now()
	_, _ = c.Insert(sampleRow("s1", now.Add(-2*time.Hour), "person", 0.9))
	_, _ = c.Insert(sampleRow("s1", now.Add(-1*time.Hour), "person", 0.9))
	_, _ = c.Insert(sampleRow("s1", now, "person", 0.9))

	oldest, err := c.OldestRetained(2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.True(t, oldest[0].Timestamp.Before(oldest[1].Timestamp))
}

func TestObjectStatsCountsClassOncePerClip(t *testing.T) {
	c := openTest(t)
	row := sampleRow("s1", time.Now(), "person", 0.9)
	row.ObjectsDetected = append(row.ObjectsDetected, Detection{Class: "person", Confidence: 0.5})
	_, err := c.Insert(row)
	require.NoError(t, err)

	stats, err := c.ObjectStats(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalRecordings)
	assert.Equal(t, 1, stats.CountByClass["person"])
	assert.Equal(t, 100.0, stats.PercentByClass["person"])
}

func TestStreamStats(t *testing.T) {
	c := openTest(t)
	now := time.Now()
	_, _ = c.Insert(sampleRow("s1", now.Add(-time.Hour), "person", 0.9))
	_, _ = c.Insert(sampleRow("s1", now, "car", 0.8))

	stats, err := c.StreamStats("s1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 25.0, stats.TotalDurationSeconds, 0.01)
	require.NotNil(t, stats.LatestTimestamp)
}

func TestWriteErrorRoundTripsThroughObjectsDetectedJSON(t *testing.T) {
	c := openTest(t)
	row := sampleRow("s1", time.Now(), "person", 0.9)
	row.WriteError = "disk full"
	id, err := c.Insert(row)
	require.NoError(t, err)

	got, err := c.Get(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "disk full", got.WriteError)
	assert.Equal(t, "person", got.ObjectsDetected[0].Class)

	// object_class filtering must still see through the wrapper.
	rows, err := c.List(Filter{ObjectClass: "person"}, SortTimestamp, Desc, Paging{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRetainedFilePaths(t *testing.T) {
	c := openTest(t)
	_, _ = c.Insert(sampleRow("s1", time.Now(), "person", 0.9))

	paths, err := c.RetainedFilePaths()
	require.NoError(t, err)
	assert.Contains(t, paths, "/recordings/s1/clip.mp4")
	assert.Contains(t, paths, "/recordings/s1/clip_thumb.jpg")
}
