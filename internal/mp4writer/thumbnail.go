package mp4writer

import (
	"fmt"
	"os"
	"path/filepath"

	"sentineld/internal/frame"
)

// SaveThumbnail writes f to path as a JPEG file (spec §4.5, "Save
// annotated_frame to thumbnail_path as JPEG"). Frames already carry
// JPEG-encoded pixels end to end in this pipeline, so this is a plain
// file write rather than a re-encode.
func SaveThumbnail(path string, f frame.Frame) error {
	if f.Encoding != frame.EncodingJPEG {
		return fmt.Errorf("mp4writer: thumbnail frame is not JPEG-encoded")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mp4writer: mkdir: %w", err)
	}
	if err := os.WriteFile(path, f.Pixels, 0o644); err != nil {
		return fmt.Errorf("mp4writer: write thumbnail: %w", err)
	}
	return nil
}
