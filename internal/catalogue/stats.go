package catalogue

import (
	"fmt"
	"time"
)

// ObjectStats is the result of object_stats (spec §4.6). A class
// counts at most once per clip even if it appears in multiple
// detections within that clip.
type ObjectStats struct {
	TotalRecordings int
	CountByClass    map[string]int
	PercentByClass  map[string]float64
}

// ObjectStats matches the clips under filter and tallies the distinct
// object classes present in each. Grounded on
// original_source/video-feed/videofeed/routes/statistics.py's
// `/api/stats/objects` endpoint.
func (c *Catalogue) ObjectStats(f Filter) (ObjectStats, error) {
	rows, err := c.listAll(f, SortTimestamp, Desc)
	if err != nil {
		return ObjectStats{}, err
	}

	stats := ObjectStats{
		CountByClass:   make(map[string]int),
		PercentByClass: make(map[string]float64),
	}
	stats.TotalRecordings = len(rows)

	for _, row := range rows {
		seen := make(map[string]struct{})
		for _, d := range row.ObjectsDetected {
			seen[d.Class] = struct{}{}
		}
		for class := range seen {
			stats.CountByClass[class]++
		}
	}

	if stats.TotalRecordings > 0 {
		for class, n := range stats.CountByClass {
			stats.PercentByClass[class] = 100 * float64(n) / float64(stats.TotalRecordings)
		}
	}
	return stats, nil
}

// TimeStats is the result of time_stats (spec §4.6): a recording
// count broken down by hour-of-day and by weekday.
type TimeStats struct {
	ByHour    [24]int
	ByWeekday [7]int // Monday=0 .. Sunday=6
}

// TimeStats tallies recordings over the trailing windowDays (capped at
// 90, spec §4.6), optionally restricted to an object class and/or
// stream. Grounded on statistics.py's `/api/stats/times` endpoint.
func (c *Catalogue) TimeStats(objectClass, streamID string, windowDays int) (TimeStats, error) {
	if windowDays <= 0 || windowDays > 90 {
		windowDays = 90
	}
	since := time.Now().AddDate(0, 0, -windowDays)

	f := Filter{StreamID: streamID, ObjectClass: objectClass, StartDate: &since}
	rows, err := c.listAll(f, SortTimestamp, Asc)
	if err != nil {
		return TimeStats{}, err
	}

	var stats TimeStats
	for _, row := range rows {
		stats.ByHour[row.Timestamp.Hour()]++
		// time.Weekday: Sunday=0..Saturday=6; remap to Monday=0..Sunday=6.
		wd := (int(row.Timestamp.Weekday()) + 6) % 7
		stats.ByWeekday[wd]++
	}
	return stats, nil
}

// StreamStats is the result of stream_stats (spec §4.6).
type StreamStats struct {
	Count               int
	TotalDurationSeconds float64
	LatestTimestamp      *time.Time
}

// StreamStats summarizes every retained clip for one stream. Grounded
// on statistics.py's `/api/streams` merge of detector status with
// `recordings_api.get_stream_stats`.
func (c *Catalogue) StreamStats(streamID string) (StreamStats, error) {
	rows, err := c.listAll(Filter{StreamID: streamID}, SortTimestamp, Desc)
	if err != nil {
		return StreamStats{}, fmt.Errorf("catalogue: stream stats: %w", err)
	}

	var stats StreamStats
	stats.Count = len(rows)
	for i, row := range rows {
		stats.TotalDurationSeconds += row.Duration
		if i == 0 {
			ts := row.Timestamp
			stats.LatestTimestamp = &ts
		}
	}
	return stats, nil
}
