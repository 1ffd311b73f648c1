package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ScannerColor is the display color of one scanner's marker.
type ScannerColor struct {
	Marker color.NRGBA
	Label  color.NRGBA
}

// DefaultColors returns distinct marker colors; the first is the anchor's.
func DefaultColors() []ScannerColor {
	return []ScannerColor{
		{Marker: color.NRGBA{0, 0, 255, 255}, Label: color.NRGBA{0, 0, 139, 255}},      // Blue
		{Marker: color.NRGBA{255, 0, 0, 255}, Label: color.NRGBA{139, 0, 0, 255}},      // Red
		{Marker: color.NRGBA{0, 170, 0, 255}, Label: color.NRGBA{0, 100, 0, 255}},      // Green
		{Marker: color.NRGBA{255, 165, 0, 255}, Label: color.NRGBA{184, 134, 11, 255}}, // Orange
	}
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB"
func ParseHexColor(s string) (color.NRGBA, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{r, g, b, 255}, nil
}

// darken halves each channel
func darken(c color.NRGBA) color.NRGBA {
	return color.NRGBA{R: c.R / 2, G: c.G / 2, B: c.B / 2, A: 255}
}

// assignColors gives the anchor the first default color and cycles the rest,
// then applies hex overrides.
func assignColors(report *Report, overrides map[int]string) map[int]ScannerColor {
	defaults := DefaultColors()
	colors := make(map[int]ScannerColor, len(report.Scanners))
	i := 0
	for _, s := range report.Scanners {
		if s.ID == report.AnchorID {
			colors[s.ID] = defaults[0]
			continue
		}
		colors[s.ID] = defaults[(i%(len(defaults)-1))+1]
		i++
	}
	for id, hex := range overrides {
		if _, ok := colors[id]; !ok {
			continue
		}
		c, err := ParseHexColor(hex)
		if err != nil {
			continue
		}
		colors[id] = ScannerColor{Marker: c, Label: darken(c)}
	}
	return colors
}

// CompositeRenderer draws a top-down raster view of a merge report: beacons
// as grey dots, scanners as colored discs with id labels.
type CompositeRenderer struct {
	Report  *Report
	Colors  map[int]ScannerColor
	Scale   float64 // Pixels per frame unit
	Padding int
	MaxSize int // Longest image side in pixels
}

// NewCompositeRenderer creates a renderer with default settings. colors maps
// scanner ids to hex overrides and may be nil.
func NewCompositeRenderer(report *Report, colors map[int]string) *CompositeRenderer {
	return &CompositeRenderer{
		Report:  report,
		Colors:  assignColors(report, colors),
		Scale:   0.5,
		Padding: 40,
		MaxSize: 2000,
	}
}

// HasDrawableContent returns true if the report has anything to plot
func (r *CompositeRenderer) HasDrawableContent() bool {
	return r.Report != nil && (len(r.Report.Beacons) > 0 || len(r.Report.Scanners) > 0)
}

// Render creates the image
func (r *CompositeRenderer) Render() *image.RGBA {
	bound := FootprintBound(r.Report)
	spanX := bound.Max[0] - bound.Min[0]
	spanY := bound.Max[1] - bound.Min[1]

	scale := r.Scale
	if longest := math.Max(spanX, spanY) * scale; r.MaxSize > 0 && longest > float64(r.MaxSize) {
		scale *= float64(r.MaxSize) / longest
	}

	width := int(spanX*scale) + 2*r.Padding + 1
	height := int(spanY*scale) + 2*r.Padding + 1

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{245, 245, 245, 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, bg)
		}
	}

	// y grows downward in the image, so flip it
	toImage := func(p Point3D) (int, int) {
		x := int((float64(p.X)-bound.Min[0])*scale) + r.Padding
		y := height - 1 - (int((float64(p.Y)-bound.Min[1])*scale) + r.Padding)
		return x, y
	}

	beacon := color.RGBA{90, 90, 90, 255}
	for _, b := range r.Report.Beacons {
		ix, iy := toImage(b)
		drawSquare(img, ix, iy, 3, beacon)
	}

	for _, s := range r.Report.Scanners {
		sc := r.Colors[s.ID]
		ix, iy := toImage(s.Origin)
		drawCircle(img, ix, iy, 6, rgba(sc.Marker))
		drawText(img, ix+8, iy-8, fmt.Sprintf("S%d", s.ID), rgba(sc.Label))
	}

	r.drawLegend(img)
	return img
}

// WritePNG encodes the rendered image as PNG
func (r *CompositeRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// drawLegend writes the report totals and one swatch per scanner
func (r *CompositeRenderer) drawLegend(img *image.RGBA) {
	black := color.RGBA{0, 0, 0, 255}
	drawText(img, 10, 15, fmt.Sprintf("beacons: %d  spread: %d", r.Report.BeaconCount, r.Report.MaxScannerSpread), black)

	ids := make([]int, 0, len(r.Colors))
	for id := range r.Colors {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	y := 33
	for _, id := range ids {
		drawSquare(img, 16, y-4, 11, rgba(r.Colors[id].Marker))
		drawText(img, 28, y, fmt.Sprintf("scanner %d", id), black)
		y += 18
	}
}

func rgba(c color.NRGBA) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	bounds := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			if p := image.Pt(cx+dx, cy+dy); p.In(bounds) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	bounds := img.Bounds()
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if p := image.Pt(cx+dx, cy+dy); p.In(bounds) {
				img.SetRGBA(p.X, p.Y, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified baseline position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
