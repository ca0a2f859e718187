// Package recorder implements EventRecorder: the pre/post-roll state
// machine that turns a continuous frame stream plus detection events
// into finalized MP4 clips. See spec §4.5 — "the algorithmic heart of
// the system". Grounded on
// original_source/video-feed/videofeed/recorder.py's RecordingManager
// (handle_detection / _check_recording_status / _finalize_recording),
// translating its threading.Timer cooldown into a cancellable
// time.AfterFunc guarded by the same per-stream mutex, matching the
// idiom in marcopennelli-orbo/internal/pipeline/strategies (hybrid.go,
// motion.go): one sync.Mutex protects both the cooldown timer and the
// state it reschedules against.
package recorder

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"sentineld/internal/catalogue"
	"sentineld/internal/frame"
	"sentineld/internal/mp4writer"
	"sentineld/internal/ring"
)

// Writer is the subset of *mp4writer.Writer the recorder depends on,
// so tests can substitute a fake.
type Writer interface {
	WriteFrame(f frame.Frame) error
	Close() error
	Abort()
}

// Inserter is the subset of *catalogue.Catalogue the recorder depends on.
type Inserter interface {
	Insert(row catalogue.Row) (int64, error)
}

// Clock abstracts wall/monotonic time so tests can control cooldown
// firing without sleeping.
type Clock interface {
	NowMonotonicNS() int64
	NowWall() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// realClock is the production Clock, backed by time.Now/time.AfterFunc.
type realClock struct{}

func (realClock) NowMonotonicNS() int64 { return time.Now().UnixNano() }
func (realClock) NowWall() time.Time   { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the Clock implementations should use outside tests.
var RealClock Clock = realClock{}

// Params configures one stream's recorder (spec §4.5, "Parameters").
type Params struct {
	PreBufferSeconds        float64
	PostBufferSeconds       float64
	MinConfidence           float64
	FPS                     int
	MinGapBetweenRecordings time.Duration // default 5s
	RecordObjects           map[string]struct{} // empty = all classes qualify
}

// job is the live in-memory RecordingJob (spec §3).
type job struct {
	id               string
	startWall        time.Time
	startMonotonicNS int64
	lastDetectionNS  int64
	frameCount       int
	writer           Writer
	filePath         string
	thumbnailPath    string
	objectsUnion     map[string]catalogue.Detection
	maxConfidence    float64
	writeErr         string
}

// OpenWriter constructs an MP4 writer for a new clip. Production code
// passes mp4writer.Open; tests substitute a fake.
type OpenWriter func(path string, width, height, fps int) (Writer, error)

// SaveThumbnail persists a frame as a JPEG thumbnail. Production code
// passes mp4writer.SaveThumbnail; tests substitute a fake.
type SaveThumbnail func(path string, f frame.Frame) error

// Recorder is the per-stream EventRecorder.
type Recorder struct {
	streamID   string
	streamName string
	recordDir  string
	params     Params
	ring       *ring.Ring
	catalogue  Inserter
	clock      Clock
	openWriter OpenWriter
	saveThumb  SaveThumbnail

	mu                   sync.Mutex
	recording            *job
	lastDetectionNS      int64
	lastRecordingStartNS int64
	cooldownTimer        Timer
}

// Config bundles everything New needs.
type Config struct {
	StreamID   string
	StreamName string
	RecordDir  string
	Params     Params
	Ring       *ring.Ring
	Catalogue  Inserter
	Clock      Clock         // nil -> RealClock
	OpenWriter OpenWriter    // nil -> mp4writer.Open
	SaveThumb  SaveThumbnail // nil -> mp4writer.SaveThumbnail
}

// New builds a Recorder for one stream.
func New(cfg Config) *Recorder {
	if cfg.Clock == nil {
		cfg.Clock = RealClock
	}
	if cfg.Params.MinGapBetweenRecordings <= 0 {
		cfg.Params.MinGapBetweenRecordings = 5 * time.Second
	}
	if cfg.OpenWriter == nil {
		cfg.OpenWriter = func(path string, w, h, fps int) (Writer, error) {
			return mp4writer.Open(path, w, h, fps)
		}
	}
	if cfg.SaveThumb == nil {
		cfg.SaveThumb = mp4writer.SaveThumbnail
	}

	return &Recorder{
		streamID:   cfg.StreamID,
		streamName: cfg.StreamName,
		recordDir:  cfg.RecordDir,
		params:     cfg.Params,
		ring:       cfg.Ring,
		catalogue:  cfg.Catalogue,
		clock:      cfg.Clock,
		openWriter: cfg.OpenWriter,
		saveThumb:  cfg.SaveThumb,
	}
}

// OnFrame feeds every captured frame to a live recording, if any
// (spec §4.5, "on_frame"). The ring push itself already happened
// upstream in the capture task.
func (r *Recorder) OnFrame(f frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording == nil {
		return
	}
	if err := r.recording.writer.WriteFrame(f); err != nil {
		log.Printf("[recorder] %s: write error, finalizing early: %v", r.streamID, err)
		r.recording.writeErr = err.Error()
		r.finalizeLocked(r.recording.id)
		return
	}
	r.recording.frameCount++
}

// OnDetection runs the state machine described in spec §4.5.
func (r *Recorder) OnDetection(dets []frame.Detection, annotated frame.Frame, ts int64, maxConf float64) {
	if maxConf < r.params.MinConfidence {
		return
	}
	if len(r.params.RecordObjects) > 0 && !anyClassQualifies(dets, r.params.RecordObjects) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastDetectionNS = ts

	if r.recording != nil {
		r.recording.lastDetectionNS = ts
		mergeDetections(r.recording, dets, maxConf)
		r.rescheduleCooldownLocked(r.recording.id, ts)
		return
	}

	// lastRecordingStartNS is 0 until the first recording has started;
	// the first recording is never rate-limited.
	if r.lastRecordingStartNS != 0 && ts-r.lastRecordingStartNS < r.params.MinGapBetweenRecordings.Nanoseconds() {
		return
	}

	r.startRecordingLocked(dets, annotated, ts, maxConf)
}

func anyClassQualifies(dets []frame.Detection, allow map[string]struct{}) bool {
	for _, d := range dets {
		if _, ok := allow[d.Class]; ok {
			return true
		}
	}
	return false
}

func mergeDetections(j *job, dets []frame.Detection, maxConf float64) {
	for _, d := range dets {
		existing, ok := j.objectsUnion[d.Class]
		if !ok || d.Confidence > existing.Confidence {
			j.objectsUnion[d.Class] = catalogue.Detection{
				Class:      d.Class,
				Confidence: d.Confidence,
				BBox:       [4]float64{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2},
			}
		}
	}
	if maxConf > j.maxConfidence {
		j.maxConfidence = maxConf
	}
}

func (r *Recorder) startRecordingLocked(dets []frame.Detection, annotated frame.Frame, ts int64, maxConf float64) {
	wall := r.clock.NowWall()
	id := fmt.Sprintf("%s_%d", r.streamID, ts)
	safeName := sanitizeFilename(r.streamName)
	stamp := wall.Format("2006-01-02_15-04-05")
	filePath := filepath.Join(r.recordDir, fmt.Sprintf("%s_%s.mp4", safeName, stamp))
	thumbPath := filepath.Join(r.recordDir, fmt.Sprintf("%s_%s_thumb.jpg", safeName, stamp))

	if err := r.saveThumb(thumbPath, annotated); err != nil {
		log.Printf("[recorder] %s: thumbnail save failed: %v", r.streamID, err)
	}

	w, err := r.openWriter(filePath, annotated.Width, annotated.Height, r.params.FPS)
	if err != nil {
		log.Printf("[recorder] %s: writer open failed, abandoning event: %v", r.streamID, err)
		return
	}

	j := &job{
		id:               id,
		startWall:        wall,
		startMonotonicNS: ts,
		lastDetectionNS:  ts,
		writer:           w,
		filePath:         filePath,
		thumbnailPath:    thumbPath,
		objectsUnion:     make(map[string]catalogue.Detection),
		maxConfidence:    maxConf,
	}
	mergeDetections(j, dets, maxConf)

	for _, pre := range r.ring.Snapshot() {
		if err := w.WriteFrame(pre); err != nil {
			log.Printf("[recorder] %s: pre-roll write failed, aborting event: %v", r.streamID, err)
			w.Abort()
			return
		}
		j.frameCount++
	}
	if err := w.WriteFrame(annotated); err != nil {
		log.Printf("[recorder] %s: trigger frame write failed, aborting event: %v", r.streamID, err)
		w.Abort()
		return
	}
	j.frameCount++

	r.recording = j
	r.lastRecordingStartNS = ts

	r.rescheduleCooldownLocked(id, ts)
}

// rescheduleCooldownLocked cancels any existing cooldown timer and
// schedules a new one at ts + post_buffer_seconds. Caller must hold r.mu.
func (r *Recorder) rescheduleCooldownLocked(recordingID string, ts int64) {
	if r.cooldownTimer != nil {
		r.cooldownTimer.Stop()
	}
	delay := time.Duration(r.params.PostBufferSeconds * float64(time.Second))
	r.cooldownTimer = r.clock.AfterFunc(delay, func() {
		r.cooldownFired(recordingID)
	})
}

// cooldownFired implements spec §4.5's "On cooldown_fired".
func (r *Recorder) cooldownFired(recordingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording == nil || r.recording.id != recordingID {
		return // stale
	}

	idleNS := r.clock.NowMonotonicNS() - r.recording.lastDetectionNS
	postBufferNS := int64(r.params.PostBufferSeconds * float64(time.Second))
	if idleNS < postBufferNS {
		remaining := time.Duration(postBufferNS - idleNS)
		r.cooldownTimer = r.clock.AfterFunc(remaining, func() {
			r.cooldownFired(recordingID)
		})
		return
	}

	r.finalizeLocked(recordingID)
}

// finalizeLocked closes the writer, commits a catalogue row, and
// clears the live job. Caller must hold r.mu.
func (r *Recorder) finalizeLocked(recordingID string) {
	j := r.recording
	if j == nil || j.id != recordingID {
		return
	}

	if err := j.writer.Close(); err != nil {
		log.Printf("[recorder] %s: writer close error: %v", r.streamID, err)
		if j.writeErr == "" {
			j.writeErr = err.Error()
		}
	}

	duration := r.clock.NowWall().Sub(j.startWall).Seconds()

	objects := make([]catalogue.Detection, 0, len(j.objectsUnion))
	for _, d := range j.objectsUnion {
		objects = append(objects, d)
	}

	row := catalogue.Row{
		Timestamp:       j.startWall,
		StreamID:        r.streamID,
		StreamName:      r.streamName,
		FilePath:        j.filePath,
		Duration:        duration,
		ObjectsDetected: objects,
		ThumbnailPath:   j.thumbnailPath,
		Confidence:      j.maxConfidence,
		Retained:        true,
		WriteError:      j.writeErr,
	}

	if _, err := r.catalogue.Insert(row); err != nil {
		// spec §4.5: leave the file on disk, log loudly; the janitor's
		// orphan sweep will eventually reclaim it if it never gets a row.
		log.Printf("[recorder] %s: CATALOGUE INSERT FAILED for %s, file retained on disk: %v", r.streamID, j.filePath, err)
	}

	r.recording = nil
	if r.cooldownTimer != nil {
		r.cooldownTimer.Stop()
		r.cooldownTimer = nil
	}
}

// Stop finalizes any live recording and cancels the cooldown timer
// (spec §4.5, "stop()").
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cooldownTimer != nil {
		r.cooldownTimer.Stop()
		r.cooldownTimer = nil
	}
	if r.recording != nil {
		r.finalizeLocked(r.recording.id)
	}
}

// IsRecording reports whether a clip is currently being written.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording != nil
}

func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			out = append(out, c)
		case c == ' ':
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "stream"
	}
	return string(out)
}
