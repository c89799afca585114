package rover

import (
	"bytes"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func TestVectorRenderer_SVGOutput(t *testing.T) {
	r := NewVectorRenderer(renderTestDoc(t))

	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "<svg") || !strings.Contains(out, "</svg>") {
		t.Error("Output does not look like an SVG document")
	}
	// Cells, waypoint marker, and car marker all emit paths.
	if strings.Count(out, "<path") < 3 {
		t.Errorf("Expected several path elements, got %d", strings.Count(out, "<path"))
	}
}

func TestVectorRenderer_PNGOutput(t *testing.T) {
	r := NewVectorRenderer(renderTestDoc(t))

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("RenderToPNG failed: %v", err)
	}

	if _, err := png.Decode(&buf); err != nil {
		t.Errorf("Output is not a decodable PNG: %v", err)
	}
}

func TestVectorRenderer_GridLinesOptional(t *testing.T) {
	r := NewVectorRenderer(renderTestDoc(t))

	var withGrid bytes.Buffer
	if err := r.RenderToSVG(&withGrid); err != nil {
		t.Fatal(err)
	}

	r.GridSpacing = 0
	var withoutGrid bytes.Buffer
	if err := r.RenderToSVG(&withoutGrid); err != nil {
		t.Fatal(err)
	}

	if withoutGrid.Len() >= withGrid.Len() {
		t.Error("Expected grid lines to add SVG content")
	}
}

func TestNRGBAToRGBA_Premultiplies(t *testing.T) {
	cases := []struct {
		in   color.NRGBA
		want color.RGBA
	}{
		{color.NRGBA{255, 255, 255, 0}, color.RGBA{0, 0, 0, 0}},
		{color.NRGBA{10, 20, 30, 255}, color.RGBA{10, 20, 30, 255}},
		{color.NRGBA{200, 100, 50, 128}, color.RGBA{100, 50, 25, 128}},
	}
	for _, tc := range cases {
		if got := nrgbaToRGBA(tc.in); got != tc.want {
			t.Errorf("nrgbaToRGBA(%v): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}
