package detector

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"sentineld/internal/frame"
)

var boxColor = color.RGBA{0, 200, 0, 255}

// Annotate draws a 2-pixel box and a "<class> <conf>" label for each
// detection, in detection order, plus an "FPS: <n>" overlay in the
// top-left (spec §4.3, "Annotation"). It decodes f.Pixels as JPEG,
// draws on an RGBA copy, and re-encodes. On decode/encode failure the
// original frame is returned unchanged.
func Annotate(f frame.Frame, dets []frame.Detection, fps float64) frame.Frame {
	if f.Encoding != frame.EncodingJPEG {
		return f
	}

	img, err := jpeg.Decode(bytes.NewReader(f.Pixels))
	if err != nil {
		return f
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	for _, d := range dets {
		x, y := int(d.BBox.X1), int(d.BBox.Y1)
		w, h := int(d.BBox.X2-d.BBox.X1), int(d.BBox.Y2-d.BBox.Y1)
		drawBox(rgba, x, y, w, h, boxColor, 2)
		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		drawLabel(rgba, x, y-14, label, boxColor)
	}

	drawLabel(rgba, 4, 4, fmt.Sprintf("FPS: %.0f", fps), color.RGBA{255, 255, 255, 255})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		return f
	}

	out := f
	out.Pixels = buf.Bytes()
	return out
}

func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	bounds := img.Bounds()
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < bounds.Max.X && py >= 0 && py < bounds.Max.Y {
				img.Set(px, py, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
