// Package detector implements the Detector component: infer(frame) ->
// (annotated_frame, detections[]). See spec §4.3.
package detector

import (
	"context"

	"sentineld/internal/frame"
)

// Detector infers objects in a frame and returns an annotated copy of
// the frame alongside the kept detections. The Supervisor hands one
// Detector to every pipeline and does not serialize calls, so
// implementations must be safe for concurrent use (spec §4.3).
type Detector interface {
	// Infer runs inference on f and returns f unchanged (the caller
	// draws the overlay separately via Annotate, which needs the
	// pipeline's current FPS) plus the filtered detection list. A
	// backend error is never returned to the caller: on failure the
	// detector logs and returns the original frame with zero
	// detections (spec §4.3, "Error semantics").
	Infer(ctx context.Context, f frame.Frame) (frame.Frame, []frame.Detection)
	// Close releases any backend connection.
	Close() error
}

// Config holds the filtering parameters applied, in order, to every
// raw detection before it is kept (spec §4.3, "Filtering pipeline").
type Config struct {
	ConfidenceThreshold float64
	FilterClasses       map[string]struct{} // empty/nil = keep all classes
	MinArea             float64             // 0 = no lower bound
	MaxArea             float64             // 0 = no upper bound
}

// Filter applies the three-stage filtering pipeline to raw detections,
// in the order specified: confidence, then class, then area.
func Filter(cfg Config, raw []frame.Detection) []frame.Detection {
	out := make([]frame.Detection, 0, len(raw))
	for _, d := range raw {
		if d.Confidence < cfg.ConfidenceThreshold {
			continue
		}
		if len(cfg.FilterClasses) > 0 {
			if _, ok := cfg.FilterClasses[d.Class]; !ok {
				continue
			}
		}
		area := d.BBox.Area()
		if cfg.MinArea > 0 && area < cfg.MinArea {
			continue
		}
		if cfg.MaxArea > 0 && area > cfg.MaxArea {
			continue
		}
		out = append(out, d)
	}
	return out
}

// MaxConfidence returns the highest confidence among detections, or 0
// if the slice is empty.
func MaxConfidence(dets []frame.Detection) float64 {
	max := 0.0
	for _, d := range dets {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}
