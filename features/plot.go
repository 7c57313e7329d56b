package features

import (
	"image"

	"github.com/fogleman/gg"
)

// PlotKeypoints plots keypoints on a canvas of the image size and saves it
// as a PNG.
func PlotKeypoints(size image.Point, kps KeyPoints, outName string) error {
	dc := gg.NewContext(size.X, size.Y)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGBA(0, 0, 1, 0.5)
	for _, p := range kps {
		dc.DrawCircle(p.Point.X, p.Point.Y, 3.0)
		dc.Fill()
	}
	return dc.SavePNG(outName)
}

// PlotMatchedLines draws the two keypoint sets side by side with a line per
// match and saves the result as a PNG. Useful to eyeball a pairwise
// registration.
func PlotMatchedLines(size1, size2 image.Point, kps1, kps2 KeyPoints, matches []DescriptorMatch, outName string) error {
	w := size1.X + size2.X
	h := size1.Y
	if size2.Y > h {
		h = size2.Y
	}
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGBA(0, 0, 1, 0.5)
	for _, p := range kps1 {
		dc.DrawCircle(p.Point.X, p.Point.Y, 3.0)
		dc.Fill()
	}
	for _, p := range kps2 {
		dc.DrawCircle(p.Point.X+float64(size1.X), p.Point.Y, 3.0)
		dc.Fill()
	}
	dc.SetRGBA(0, 1, 0, 0.5)
	dc.SetLineWidth(1.25)
	for _, m := range matches {
		p1 := kps1[m.Idx1].Point
		p2 := kps2[m.Idx2].Point
		dc.DrawLine(p1.X, p1.Y, p2.X+float64(size1.X), p2.Y)
		dc.Stroke()
	}
	return dc.SavePNG(outName)
}
