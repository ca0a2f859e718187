// Package frame defines the immutable frame and detection types shared by
// every stage of the capture -> detect -> record pipeline.
package frame

import "time"

// Frame is a single decoded video frame. TimestampNS is the monotonic
// capture clock used for all ordering and cooldown arithmetic;
// WallTime is used only for filenames and catalogue timestamps.
type Frame struct {
	TimestampNS int64
	WallTime    time.Time
	Width       int
	Height      int
	Pixels      []byte // raw RGBA (or JPEG, see Encoding) bytes, treat as read-only
	Encoding    Encoding
}

// Encoding identifies how Pixels is laid out.
type Encoding int

const (
	// EncodingRGBA means Pixels holds width*height*4 bytes, row-major.
	EncodingRGBA Encoding = iota
	// EncodingJPEG means Pixels holds a complete JPEG-encoded image.
	EncodingJPEG
)

// Clone returns a deep copy of the frame, for a caller that must retain
// a frame independently of the ring or mailbox. Nothing in this
// repository calls it; the recorder writes frames as it receives them.
func (f Frame) Clone() Frame {
	cp := make([]byte, len(f.Pixels))
	copy(cp, f.Pixels)
	f.Pixels = cp
	return f
}

// BBox is a bounding box in pixel coordinates of the annotated frame.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Area returns the pixel area of the box. A degenerate box (x2<x1 or
// y2<y1) has zero area.
func (b BBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Detection is one object detected in a frame.
type Detection struct {
	Class      string
	Confidence float64
	BBox       BBox
}
