package mesh

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA premultiplies alpha, as canvas expects
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer renders a merge report as a top-down vector plot in frame
// units (1 unit = 1 canvas millimeter).
type VectorRenderer struct {
	Report       *Report
	Colors       map[int]ScannerColor
	Padding      float64           // Padding in frame units
	BeaconRadius float64           // Beacon dot radius
	ScannerSize  float64           // Scanner marker radius
	GridSpacing  float64           // Grid line spacing; 0 disables the grid
	Resolution   canvas.Resolution // Pixels per frame unit for PNG output
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(report *Report, colors map[int]string) *VectorRenderer {
	return &VectorRenderer{
		Report:       report,
		Colors:       assignColors(report, colors),
		Padding:      100.0,
		BeaconRadius: 8.0,
		ScannerSize:  20.0,
		GridSpacing:  500.0,
		Resolution:   canvas.DPMM(0.25),
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *VectorRenderer) size() (minX, minY, width, height float64) {
	bound := FootprintBound(r.Report)
	minX, minY = bound.Min[0], bound.Min[1]
	width = (bound.Max[0] - minX) + 2*r.Padding
	height = (bound.Max[1] - minY) + 2*r.Padding
	return
}

// RenderToSVG writes the plot as SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, width, height := r.size()

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, width, height)

	return svgRenderer.Close()
}

// RenderToPNG writes the plot as PNG
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, width, height := r.size()

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, width, height)

	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x - minX) + r.Padding, (y - minY) + r.Padding
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 2.0
		gridStyle.Dashes = []float64{10.0, 10.0}

		maxX := minX + width - 2*r.Padding
		maxY := minY + height - 2*r.Padding
		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			if x < minX {
				continue
			}
			p := &canvas.Path{}
			p.MoveTo(toCanvas(x, minY))
			p.LineTo(toCanvas(x, maxY))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			if y < minY {
				continue
			}
			p := &canvas.Path{}
			p.MoveTo(toCanvas(minX, y))
			p.LineTo(toCanvas(maxX, y))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	beaconStyle := canvas.DefaultStyle
	beaconStyle.Fill = canvas.Paint{Color: color.RGBA{105, 105, 105, 255}}
	beaconStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, b := range r.Report.Beacons {
		cx, cy := toCanvas(float64(b.X), float64(b.Y))
		renderer.RenderPath(canvas.Circle(r.BeaconRadius).Translate(cx, cy), beaconStyle, canvas.Identity)
	}

	for _, s := range r.Report.Scanners {
		sc := r.Colors[s.ID]
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(sc.Marker)}
		style.Stroke = canvas.Paint{Color: nrgbaToRGBA(sc.Label)}
		style.StrokeWidth = 4.0

		cx, cy := toCanvas(float64(s.Origin.X), float64(s.Origin.Y))
		marker := canvas.Circle(r.ScannerSize)
		if s.ID == r.Report.AnchorID {
			marker = canvas.Rectangle(2*r.ScannerSize, 2*r.ScannerSize).Translate(-r.ScannerSize, -r.ScannerSize)
		}
		renderer.RenderPath(marker.Translate(cx, cy), style, canvas.Identity)
	}
}
