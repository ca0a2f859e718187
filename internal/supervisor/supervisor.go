// Package supervisor implements Supervisor: the manager of managers
// that owns every StreamPipeline, the shared Catalogue, the shared
// Detector, and the StorageJanitor, and coordinates graceful shutdown.
// See spec §4.8. Grounded on
// marcopennelli-orbo/internal/camera/camera.go's CameraManager
// (registry map + mutex, "not found" errors) and
// marcopennelli-orbo/cmd/orbo/main.go's signal/context-cancel/WaitGroup
// shutdown boilerplate, collapsed into the single coordinator spec §9
// calls for.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sentineld/internal/catalogue"
	"sentineld/internal/detector"
	"sentineld/internal/pipeline"
	"sentineld/internal/recorder"
	"sentineld/internal/ring"
	"sentineld/internal/stream"
)

// ErrStreamNotRegistered is returned by UnregisterStream for an unknown
// stream id (StreamStatus reports an unknown id with a false bool).
var ErrStreamNotRegistered = errors.New("supervisor: stream not registered")

// Catalogue is the subset of *catalogue.Catalogue the supervisor
// depends on directly (beyond what it hands to each Recorder).
type Catalogue interface {
	Insert(row catalogue.Row) (int64, error)
	Close() error
}

// Janitor is the subset of *janitor.Janitor the supervisor depends on.
type Janitor interface {
	Run(ctx context.Context)
}

// StreamParams configures one registered stream (spec §4.8,
// register_stream's "params").
type StreamParams struct {
	Width, Height           int
	FPS                     int
	PreBufferSeconds        float64
	PostBufferSeconds       float64
	MinConfidence           float64
	MinGapBetweenRecordings time.Duration
	RecordObjects           map[string]struct{}
	ReconnectInterval       time.Duration
	ModelPath               string
}

// Config bundles everything New needs. Catalogue, Detector, and
// Janitor are opened/loaded by the caller (cmd/sentineld's wiring) and
// handed in already-constructed, matching spec §4.8's "start(config):
// open catalogue, load detector, spin up janitor" translated to Go's
// construct-then-inject idiom rather than the Supervisor owning those
// constructors itself.
type Config struct {
	Catalogue Catalogue
	Detector  detector.Detector
	Janitor   Janitor
	RecordDir string
	// NewSource builds the capture source for a registered stream.
	// Defaults to wrapping stream.New; tests substitute a fake.
	NewSource func(cfg stream.Config) pipeline.Source
}

type entry struct {
	pipeline *pipeline.Pipeline
	name     string
}

// Supervisor owns every registered stream plus the shared catalogue,
// detector, and janitor.
type Supervisor struct {
	catalogue Catalogue
	detector  detector.Detector
	janitor   Janitor
	recordDir string
	newSource func(cfg stream.Config) pipeline.Source

	mu        sync.Mutex
	pipelines map[string]*entry

	janitorCancel context.CancelFunc
	shutdownOnce  sync.Once
}

// New builds a Supervisor. Call Start to begin the janitor's
// background ticker.
func New(cfg Config) *Supervisor {
	if cfg.NewSource == nil {
		cfg.NewSource = func(c stream.Config) pipeline.Source { return stream.New(c) }
	}
	return &Supervisor{
		catalogue: cfg.Catalogue,
		detector:  cfg.Detector,
		janitor:   cfg.Janitor,
		recordDir: cfg.RecordDir,
		newSource: cfg.NewSource,
		pipelines: make(map[string]*entry),
	}
}

// Start spins up the janitor's background ticker (spec §4.8).
func (s *Supervisor) Start(ctx context.Context) {
	janitorCtx, cancel := context.WithCancel(ctx)
	s.janitorCancel = cancel
	if s.janitor != nil {
		go s.janitor.Run(janitorCtx)
	}
}

// RegisterStream constructs a FrameRing, EventRecorder, and
// StreamPipeline for url, starts it, and returns its stream id (spec
// §4.8).
func (s *Supervisor) RegisterStream(ctx context.Context, url, name string, params StreamParams) (string, error) {
	streamID := uuid.NewString()

	r := ring.New(params.PreBufferSeconds, params.FPS)

	rec := recorder.New(recorder.Config{
		StreamID:   streamID,
		StreamName: name,
		RecordDir:  s.recordDir,
		Params: recorder.Params{
			PreBufferSeconds:        params.PreBufferSeconds,
			PostBufferSeconds:       params.PostBufferSeconds,
			MinConfidence:           params.MinConfidence,
			FPS:                     params.FPS,
			MinGapBetweenRecordings: params.MinGapBetweenRecordings,
			RecordObjects:           params.RecordObjects,
		},
		Ring:      r,
		Catalogue: s.catalogue,
	})

	src := s.newSource(stream.Config{URL: url, Width: params.Width, Height: params.Height, FPS: params.FPS})

	pl := pipeline.New(pipeline.Config{
		StreamID:          streamID,
		StreamName:        name,
		Source:            src,
		Ring:              r,
		Detector:          s.detector,
		Recorder:          rec,
		ReconnectInterval: params.ReconnectInterval,
		ModelPath:         params.ModelPath,
		Width:             params.Width,
		Height:            params.Height,
	})

	if err := pl.Start(ctx); err != nil {
		return "", fmt.Errorf("supervisor: register stream %s: %w", name, err)
	}

	s.mu.Lock()
	s.pipelines[streamID] = &entry{pipeline: pl, name: name}
	s.mu.Unlock()

	log.Printf("[supervisor] registered stream %s (%s)", streamID, name)
	return streamID, nil
}

// UnregisterStream stops the pipeline (which finalizes any live
// recording) and removes the registration (spec §4.8).
func (s *Supervisor) UnregisterStream(streamID string) error {
	s.mu.Lock()
	e, ok := s.pipelines[streamID]
	if !ok {
		s.mu.Unlock()
		return ErrStreamNotRegistered
	}
	delete(s.pipelines, streamID)
	s.mu.Unlock()

	e.pipeline.Stop()
	log.Printf("[supervisor] unregistered stream %s (%s)", streamID, e.name)
	return nil
}

// StreamIDs returns every currently registered stream id.
func (s *Supervisor) StreamIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	return ids
}

// StreamStatus returns the named stream's pipeline status.
func (s *Supervisor) StreamStatus(streamID string) (pipeline.Status, bool) {
	s.mu.Lock()
	e, ok := s.pipelines[streamID]
	s.mu.Unlock()
	if !ok {
		return pipeline.Status{}, false
	}
	return e.pipeline.Status(), true
}

// Shutdown unregisters every stream, stops the janitor, and flushes
// the catalogue and detector. Safe to call more than once; only the
// first call has effect (spec §4.8, "Signal handling... idempotent").
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		for _, id := range s.StreamIDs() {
			if err := s.UnregisterStream(id); err != nil {
				log.Printf("[supervisor] shutdown: unregister %s: %v", id, err)
			}
		}

		if s.janitorCancel != nil {
			s.janitorCancel()
		}

		if s.catalogue != nil {
			if err := s.catalogue.Close(); err != nil {
				log.Printf("[supervisor] shutdown: catalogue close: %v", err)
			}
		}
		if s.detector != nil {
			if err := s.detector.Close(); err != nil {
				log.Printf("[supervisor] shutdown: detector close: %v", err)
			}
		}

		log.Printf("[supervisor] shutdown complete")
	})
}

// osExit is a seam over os.Exit so the hard-exit watchdog is testable.
var osExit = os.Exit

// ShutdownWithWatchdog runs Shutdown and force-exits the process if it
// has not completed within timeout (spec §4.8, "Hard-exit watchdog").
func (s *Supervisor) ShutdownWithWatchdog(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("[supervisor] shutdown did not complete within %s, forcing exit", timeout)
		osExit(1)
	}
}

// HandleSignals blocks until INT or TERM is received, then runs
// ShutdownWithWatchdog(3s) and returns. Meant to be called from main
// after all streams are registered.
func (s *Supervisor) HandleSignals() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	log.Printf("[supervisor] received %s, shutting down", sig)
	s.ShutdownWithWatchdog(3 * time.Second)
}
