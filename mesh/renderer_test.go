package mesh

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"
)

func TestHasDrawableContent(t *testing.T) {
	tests := []struct {
		name   string
		report *Report
		want   bool
	}{
		{"nil report", nil, false},
		{"empty report", &Report{}, false},
		{"beacons only", &Report{Beacons: []Point3D{{1, 2, 3}}}, true},
		{"full report", smallReport(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &CompositeRenderer{Report: tt.report}
			if got := r.HasDrawableContent(); got != tt.want {
				t.Errorf("HasDrawableContent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#FF0000", color.NRGBA{255, 0, 0, 255}, false},
		{"00ff7f", color.NRGBA{0, 255, 127, 255}, false},
		{"#FFF", color.NRGBA{}, true},
		{"zzzzzz", color.NRGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseHexColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseHexColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseHexColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAssignColors(t *testing.T) {
	report := smallReport()
	defaults := DefaultColors()

	colors := assignColors(report, nil)
	if colors[0] != defaults[0] {
		t.Errorf("anchor color = %v, want %v", colors[0], defaults[0])
	}
	if colors[1] != defaults[1] {
		t.Errorf("scanner 1 color = %v, want %v", colors[1], defaults[1])
	}

	colors = assignColors(report, map[int]string{1: "#00FF00", 9: "#FFFFFF", 0: "bad"})
	if colors[1].Marker != (color.NRGBA{0, 255, 0, 255}) {
		t.Errorf("override not applied: %v", colors[1])
	}
	if colors[1].Label != (color.NRGBA{0, 127, 0, 255}) {
		t.Errorf("label should be darkened: %v", colors[1].Label)
	}
	if _, ok := colors[9]; ok {
		t.Error("override for unknown scanner should be ignored")
	}
	if colors[0] != defaults[0] {
		t.Error("invalid override should be ignored")
	}
}

func TestCompositeRenderer_Render(t *testing.T) {
	report := smallReport()
	r := NewCompositeRenderer(report, nil)

	img := r.Render()
	bounds := img.Bounds()

	// span 600 x 1350 at scale 0.5 plus padding
	wantW := int(600*r.Scale) + 2*r.Padding + 1
	wantH := int(1350*r.Scale) + 2*r.Padding + 1
	if bounds.Dx() != wantW || bounds.Dy() != wantH {
		t.Errorf("image size = %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), wantW, wantH)
	}

	// the scanner 1 marker is drawn in its color at its projected position
	x := int((68.0+100)*r.Scale) + r.Padding
	y := wantH - 1 - (int((-1246.0+1300)*r.Scale) + r.Padding)
	want := rgba(r.Colors[1].Marker)
	if got := img.RGBAAt(x, y); got != want {
		t.Errorf("pixel at scanner 1 = %v, want %v", got, want)
	}
}

func TestCompositeRenderer_MaxSize(t *testing.T) {
	report := &Report{
		Scanners: []ScannerPlacement{{ID: 0}, {ID: 1, Origin: Point3D{100000, 0, 0}}},
	}
	r := NewCompositeRenderer(report, nil)
	img := r.Render()
	if img.Bounds().Dx() > r.MaxSize+2*r.Padding+1 {
		t.Errorf("width %d exceeds MaxSize %d plus padding", img.Bounds().Dx(), r.MaxSize)
	}
}

func TestCompositeRenderer_WritePNG(t *testing.T) {
	r := NewCompositeRenderer(smallReport(), map[int]string{0: "#123456"})

	var buf bytes.Buffer
	if err := r.WritePNG(&buf); err != nil {
		t.Fatalf("WritePNG() error: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if img.Bounds().Empty() {
		t.Error("decoded image is empty")
	}
}
