// Package pipeline implements StreamPipeline: the per-stream
// orchestrator that owns a StreamSource, feeds a FrameRing, pulls the
// latest frame into a Detector, and forwards detections and frames to
// an EventRecorder. See spec §4.4. Grounded on
// marcopennelli-orbo/internal/pipeline/detection_pipeline.go's
// manager/run()/processFrame() split and
// marcopennelli-orbo/internal/camera/camera.go's activate/deactivate
// lifecycle, merged into the single per-stream orchestrator spec §4.4
// calls for.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"sentineld/internal/detector"
	"sentineld/internal/frame"
	"sentineld/internal/ring"
)

// State is one of the four StreamPipeline lifecycle states (spec §4.4).
type State int32

const (
	Idle State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source is the subset of *stream.Source the pipeline depends on.
type Source interface {
	Open(ctx context.Context) error
	NextFrame() (frame.Frame, error)
	Close() error
	MaskedURL() string
}

// Recorder is the subset of *recorder.Recorder the pipeline depends on.
type Recorder interface {
	OnFrame(f frame.Frame)
	OnDetection(dets []frame.Detection, annotated frame.Frame, ts int64, maxConf float64)
	Stop()
}

// Status is the snapshot returned by Pipeline.Status (spec §4.4).
type Status struct {
	Running        bool
	FPS            int
	MaskedSource   string
	ModelPath      string
	Width          int
	Height         int
	DetectionCount int64
	RingOccupancy  int
}

// Config bundles everything New needs.
type Config struct {
	StreamID          string
	StreamName        string
	Source            Source
	Ring              *ring.Ring
	Detector          detector.Detector
	Recorder          Recorder
	ReconnectInterval time.Duration // default 5s
	ModelPath         string
	Width, Height     int
}

// Pipeline is a per-stream StreamPipeline.
type Pipeline struct {
	streamID          string
	streamName        string
	source            Source
	ring              *ring.Ring
	detector          detector.Detector
	recorder          Recorder
	reconnectInterval time.Duration
	modelPath         string
	width, height     int

	mu    sync.Mutex
	state State
	ctx   context.Context

	stopCh chan struct{}
	wg     sync.WaitGroup

	mailbox chan frame.Frame

	frameCounter   int64
	fps            int64
	detectionCount int64

	annotatedMu     sync.RWMutex
	latestAnnotated frame.Frame
	hasAnnotated    bool
}

// New builds a Pipeline. Call Start to begin processing.
func New(cfg Config) *Pipeline {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	return &Pipeline{
		streamID:          cfg.StreamID,
		streamName:        cfg.StreamName,
		source:            cfg.Source,
		ring:              cfg.Ring,
		detector:          cfg.Detector,
		recorder:          cfg.Recorder,
		reconnectInterval: cfg.ReconnectInterval,
		modelPath:         cfg.ModelPath,
		width:             cfg.Width,
		height:            cfg.Height,
		mailbox:           make(chan frame.Frame, 1),
	}
}

// Start opens the source and launches the capture, detect, and fps
// tasks. Returns an error if the source fails to open or the pipeline
// is not Idle.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != Idle {
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s: start called in state %s", p.streamID, p.state)
	}
	p.mu.Unlock()

	if err := p.source.Open(ctx); err != nil {
		p.mu.Lock()
		p.state = Stopped
		p.mu.Unlock()
		return fmt.Errorf("pipeline %s: open source: %w", p.streamID, err)
	}

	p.mu.Lock()
	p.ctx = ctx
	p.stopCh = make(chan struct{})
	p.state = Running
	p.mu.Unlock()

	p.wg.Add(3)
	go p.captureLoop()
	go p.detectLoop()
	go p.fpsLoop()

	log.Printf("[pipeline] %s: started (%s)", p.streamID, p.source.MaskedURL())
	return nil
}

// Stop triggers Running -> Stopping -> Stopped (spec §4.4). Idempotent:
// calling it more than once, or before Start, is a no-op.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.state = Stopping
	stopCh := p.stopCh
	p.mu.Unlock()

	close(stopCh)
	_ = p.source.Close() // unblocks a capture task parked in a blocking read

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Printf("[pipeline] %s: capture/detect tasks did not exit within grace period", p.streamID)
	}

	p.recorder.Stop()
	p.ring.Drain()

	p.mu.Lock()
	p.state = Stopped
	p.mu.Unlock()

	log.Printf("[pipeline] %s: stopped", p.streamID)
}

// Status returns the current status snapshot (spec §4.4).
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	running := p.state == Running
	p.mu.Unlock()

	return Status{
		Running:        running,
		FPS:            int(atomic.LoadInt64(&p.fps)),
		MaskedSource:   p.source.MaskedURL(),
		ModelPath:      p.modelPath,
		Width:          p.width,
		Height:         p.height,
		DetectionCount: atomic.LoadInt64(&p.detectionCount),
		RingOccupancy:  p.ring.Occupancy(),
	}
}

// LatestAnnotated returns the most recently published annotated frame,
// and whether one has ever been published. Read by the HTTP MJPEG
// handler external to this repo.
func (p *Pipeline) LatestAnnotated() (frame.Frame, bool) {
	p.annotatedMu.RLock()
	defer p.annotatedMu.RUnlock()
	return p.latestAnnotated, p.hasAnnotated
}

func (p *Pipeline) publishLatest(f frame.Frame) {
	p.annotatedMu.Lock()
	p.latestAnnotated = f
	p.hasAnnotated = true
	p.annotatedMu.Unlock()
}

// captureLoop is the capture task (spec §4.4).
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		f, err := p.source.NextFrame()
		if err != nil {
			log.Printf("[pipeline] %s: capture error, reconnecting in %s: %v", p.streamID, p.reconnectInterval, err)
			select {
			case <-p.stopCh:
				return
			case <-time.After(p.reconnectInterval):
			}
			if openErr := p.source.Open(p.ctx); openErr != nil {
				log.Printf("[pipeline] %s: reconnect failed: %v", p.streamID, openErr)
			}
			continue
		}

		atomic.AddInt64(&p.frameCounter, 1)
		p.ring.Push(f)
		p.mailboxPush(f)
		p.recorder.OnFrame(f)
	}
}

// mailboxPush implements the bounded 1-slot "latest wins" mailbox: a
// full mailbox has its stale frame dropped in favor of the new one,
// the producer never blocks (spec §4.4).
func (p *Pipeline) mailboxPush(f frame.Frame) {
	select {
	case p.mailbox <- f:
		return
	default:
	}
	select {
	case <-p.mailbox:
	default:
	}
	select {
	case p.mailbox <- f:
	default:
	}
}

// detectLoop is the detect task (spec §4.4): pops the mailbox (bounded
// 1s wait), runs inference, and forwards to the recorder.
func (p *Pipeline) detectLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.mailbox:
			p.handleFrame(f)
		case <-time.After(time.Second):
		}
	}
}

func (p *Pipeline) handleFrame(f frame.Frame) {
	_, dets := p.detector.Infer(p.ctx, f)
	maxConf := detector.MaxConfidence(dets)
	atomic.AddInt64(&p.detectionCount, int64(len(dets)))
	annotated := detector.Annotate(f, dets, float64(atomic.LoadInt64(&p.fps)))
	p.recorder.OnDetection(dets, annotated, f.TimestampNS, maxConf)
	p.publishLatest(annotated)
}

// fpsLoop implements the FPS accounting described in spec §4.4: the
// capture task's frame count, sampled once per wall-clock second.
func (p *Pipeline) fpsLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			cur := atomic.LoadInt64(&p.frameCounter)
			atomic.StoreInt64(&p.fps, cur-last)
			last = cur
		}
	}
}
