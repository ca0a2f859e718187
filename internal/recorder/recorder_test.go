package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentineld/internal/catalogue"
	"sentineld/internal/frame"
	"sentineld/internal/ring"
)

// fakeTimer is a Timer whose firing is driven manually by the test.
type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasStopped := t.stopped
	t.stopped = true
	return !wasStopped
}

// fakeClock gives tests full control over monotonic time and timer
// firing, so cooldown behavior can be asserted without sleeping.
type fakeClock struct {
	nowNS   int64
	nowWall time.Time
	timers  []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{nowWall: time.Unix(1700000000, 0)}
}

func (c *fakeClock) NowMonotonicNS() int64 { return c.nowNS }
func (c *fakeClock) NowWall() time.Time    { return c.nowWall }
func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	t := &fakeTimer{fn: f}
	c.timers = append(c.timers, t)
	return t
}

// fireLatest invokes the most recently scheduled, not-yet-stopped timer.
func (c *fakeClock) fireLatest() {
	for i := len(c.timers) - 1; i >= 0; i-- {
		if !c.timers[i].stopped {
			c.timers[i].fn()
			return
		}
	}
}

func (c *fakeClock) advance(d time.Duration) {
	c.nowNS += d.Nanoseconds()
	c.nowWall = c.nowWall.Add(d)
}

type fakeWriter struct {
	frames  []frame.Frame
	writeErr error
	closed  bool
	aborted bool
}

func (w *fakeWriter) WriteFrame(f frame.Frame) error {
	if w.writeErr != nil {
		return w.writeErr
	}
	w.frames = append(w.frames, f)
	return nil
}
func (w *fakeWriter) Close() error { w.closed = true; return nil }
func (w *fakeWriter) Abort()       { w.aborted = true }

type fakeInserter struct {
	rows []catalogue.Row
}

func (f *fakeInserter) Insert(row catalogue.Row) (int64, error) {
	f.rows = append(f.rows, row)
	return int64(len(f.rows)), nil
}

func jpegFrame(ts int64) frame.Frame {
	return frame.Frame{TimestampNS: ts, Width: 640, Height: 480, Pixels: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Encoding: frame.EncodingJPEG}
}

func newTestRecorder(t *testing.T) (*Recorder, *fakeClock, *fakeInserter) {
	t.Helper()
	clock := newFakeClock()
	ins := &fakeInserter{}

	r := New(Config{
		StreamID:   "cam1",
		StreamName: "Front Door",
		RecordDir:  "/tmp/recordings",
		Params: Params{
			PreBufferSeconds:  1,
			PostBufferSeconds: 5,
			MinConfidence:     0.5,
			FPS:               10,
		},
		Ring:       ring.New(1, 10),
		Catalogue:  ins,
		Clock:      clock,
		OpenWriter: func(path string, w, h, fps int) (Writer, error) { return &fakeWriter{}, nil },
		SaveThumb:  func(path string, f frame.Frame) error { return nil },
	})
	return r, clock, ins
}

func TestOnDetectionBelowConfidenceIgnored(t *testing.T) {
	r, _, ins := newTestRecorder(t)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.3}}, jpegFrame(1), 1, 0.3)
	assert.False(t, r.IsRecording())
	assert.Empty(t, ins.rows)
}

func TestOnDetectionStartsRecording(t *testing.T) {
	r, _, _ := newTestRecorder(t)
	r.ring.Push(jpegFrame(1))

	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(2), 2, 0.9)
	assert.True(t, r.IsRecording())
}

func TestOnDetectionRateLimited(t *testing.T) {
	r, clock, _ := newTestRecorder(t)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)
	require.True(t, r.IsRecording())

	// finalize first recording so a second start is even possible
	r.Stop()
	assert.False(t, r.IsRecording())

	clock.advance(1 * time.Second) // well under MinGapBetweenRecordings (5s)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(int64(clock.nowNS)), clock.nowNS, 0.9)
	assert.False(t, r.IsRecording(), "rate limit should have suppressed the second recording")
}

func TestOnDetectionExtendsCooldownWhileRecording(t *testing.T) {
	r, clock, ins := newTestRecorder(t)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)
	require.True(t, r.IsRecording())

	clock.advance(3 * time.Second)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.95}}, jpegFrame(int64(clock.nowNS)), clock.nowNS, 0.95)
	require.True(t, r.IsRecording())

	// A late fire of the original (now-superseded) cooldown still
	// checks idle time against the *updated* last_detection_ns, so it
	// must reschedule rather than finalize this early. Advancing 2s+1ns
	// lands exactly on the original deadline (ts=1ns + 5s) while only
	// 2s+1ns have passed since the extending detection.
	clock.advance(2*time.Second + 1)
	r.cooldownFired("cam1_1")
	assert.True(t, r.IsRecording(), "idle computed from the extended detection must not have elapsed yet")
	assert.Empty(t, ins.rows)
}

func TestCooldownFiredIgnoresMismatchedRecordingID(t *testing.T) {
	r, _, ins := newTestRecorder(t)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)
	require.True(t, r.IsRecording())

	r.cooldownFired("some-other-recording-id")
	assert.True(t, r.IsRecording(), "a stale id from a different recording must be ignored")
	assert.Empty(t, ins.rows)
}

func TestCooldownFinalizesAfterIdle(t *testing.T) {
	r, clock, ins := newTestRecorder(t)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)
	require.True(t, r.IsRecording())

	clock.advance(5*time.Second + 1)
	clock.fireLatest()

	assert.False(t, r.IsRecording())
	require.Len(t, ins.rows, 1)
	assert.Equal(t, "cam1", ins.rows[0].StreamID)
	assert.Equal(t, "person", ins.rows[0].ObjectsDetected[0].Class)
}

func TestCooldownReschedulesWhenNotYetIdle(t *testing.T) {
	r, clock, ins := newTestRecorder(t)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)

	// fire before the post-buffer has actually elapsed
	clock.advance(1 * time.Second)
	clock.fireLatest()

	assert.True(t, r.IsRecording(), "premature fire must reschedule, not finalize")
	assert.Empty(t, ins.rows)
}

func TestRecordObjectsFilter(t *testing.T) {
	clock := newFakeClock()
	ins := &fakeInserter{}
	r := New(Config{
		StreamID:  "cam1",
		RecordDir: "/tmp/recordings",
		Params: Params{
			PostBufferSeconds: 5,
			MinConfidence:     0.5,
			FPS:               10,
			RecordObjects:     map[string]struct{}{"car": {}},
		},
		Ring:       ring.New(1, 10),
		Catalogue:  ins,
		Clock:      clock,
		OpenWriter: func(path string, w, h, fps int) (Writer, error) { return &fakeWriter{}, nil },
		SaveThumb:  func(path string, f frame.Frame) error { return nil },
	})

	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)
	assert.False(t, r.IsRecording(), "person is not in RecordObjects allow-list")

	r.OnDetection([]frame.Detection{{Class: "car", Confidence: 0.9}}, jpegFrame(2), 2, 0.9)
	assert.True(t, r.IsRecording())
}

func TestStopFinalizesLiveRecording(t *testing.T) {
	r, _, ins := newTestRecorder(t)
	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)
	require.True(t, r.IsRecording())

	r.Stop()
	assert.False(t, r.IsRecording())
	assert.Len(t, ins.rows, 1)
}

func TestStartRecordingAbortsAndAbandonsOnTriggerWriteFailure(t *testing.T) {
	var fw *fakeWriter
	clock := newFakeClock()
	ins := &fakeInserter{}
	r := New(Config{
		StreamID:  "cam1",
		RecordDir: "/tmp/recordings",
		Params:    Params{PostBufferSeconds: 5, MinConfidence: 0.5, FPS: 10},
		Ring:      ring.New(1, 10),
		Catalogue: ins,
		Clock:     clock,
		OpenWriter: func(path string, w, h, fps int) (Writer, error) {
			fw = &fakeWriter{writeErr: assert.AnError}
			return fw, nil
		},
		SaveThumb: func(path string, f frame.Frame) error { return nil },
	})

	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)

	assert.False(t, r.IsRecording(), "event must be abandoned, not left live with a broken writer")
	assert.True(t, fw.aborted, "writer must be aborted so no partial file is left on disk")
	assert.Empty(t, ins.rows, "an abandoned event must never reach the catalogue")
}

func TestOnFrameWriteErrorFinalizesEarly(t *testing.T) {
	var fw *fakeWriter
	clock := newFakeClock()
	ins := &fakeInserter{}
	r := New(Config{
		StreamID:  "cam1",
		RecordDir: "/tmp/recordings",
		Params:    Params{PostBufferSeconds: 5, MinConfidence: 0.5, FPS: 10},
		Ring:      ring.New(1, 10),
		Catalogue: ins,
		Clock:     clock,
		OpenWriter: func(path string, w, h, fps int) (Writer, error) {
			fw = &fakeWriter{}
			return fw, nil
		},
		SaveThumb: func(path string, f frame.Frame) error { return nil },
	})

	r.OnDetection([]frame.Detection{{Class: "person", Confidence: 0.9}}, jpegFrame(1), 1, 0.9)
	require.True(t, r.IsRecording())

	fw.writeErr = assert.AnError
	r.OnFrame(jpegFrame(2))

	assert.False(t, r.IsRecording())
	require.Len(t, ins.rows, 1)
	assert.NotEmpty(t, ins.rows[0].WriteError)
}
