package detector

import (
	"context"

	"sentineld/internal/frame"
)

// NullDetector reports zero detections for every frame. It is the
// fallback when no detection sidecar is configured or reachable at
// startup, so a StreamPipeline can still run (capture and the pre-roll
// ring stay functional, but no recording is ever triggered) without
// requiring a detector (see DESIGN.md Open Questions decision 1).
type NullDetector struct{}

// Infer returns f unchanged with no detections.
func (NullDetector) Infer(_ context.Context, f frame.Frame) (frame.Frame, []frame.Detection) {
	return f, nil
}

// Close is a no-op.
func (NullDetector) Close() error { return nil }
