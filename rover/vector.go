package rover

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to premultiplied color.RGBA, which is
// what the canvas library expects.
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

// VectorRenderer renders a map document as vector graphics. Coordinates
// are in world meters scaled by Scale; canvas y points up, matching the
// world frame, so no flip is needed.
type VectorRenderer struct {
	Doc         *MapDocument
	Colors      CellColors
	Scale       float64 // canvas units per meter
	Padding     float64 // padding in canvas units
	GridSpacing float64 // grid line spacing in meters; 0 disables
	Resolution  canvas.Resolution
}

// NewVectorRenderer creates a vector renderer with default settings.
func NewVectorRenderer(doc *MapDocument) *VectorRenderer {
	return &VectorRenderer{
		Doc:         doc,
		Colors:      DefaultCellColors(),
		Scale:       50.0,
		Padding:     25.0,
		GridSpacing: 1.0,
		Resolution:  canvas.DPI(150),
	}
}

// canvasRenderer is satisfied by both the svg and rasterizer backends.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the map as an SVG document.
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	width, height := r.canvasSize()

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)

	return svgRenderer.Close()
}

// RenderToPNG rasterizes the vector map and encodes it as PNG.
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	width, height := r.canvasSize()

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)

	return png.Encode(w, rast)
}

func (r *VectorRenderer) canvasSize() (float64, float64) {
	cfg := r.Doc.Config
	width := float64(cfg.Width)*cfg.CellSize*r.Scale + 2*r.Padding
	height := float64(cfg.Height)*cfg.CellSize*r.Scale + 2*r.Padding
	return width, height
}

// toCanvas maps world meters into canvas coordinates.
func (r *VectorRenderer) toCanvas(x, y float64) (float64, float64) {
	cfg := r.Doc.Config
	cx := (x+cfg.OriginX)*r.Scale + r.Padding
	cy := (y+cfg.OriginY)*r.Scale + r.Padding
	return cx, cy
}

// renderToCanvas draws background, cells, grid lines, waypoints and the
// car marker. Shared between SVG and PNG output.
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	cfg := r.Doc.Config
	cellPx := cfg.CellSize * r.Scale

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: r.Colors.Unknown}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	for _, rec := range r.Doc.Cells {
		var c color.RGBA
		switch rec.Class {
		case Free:
			c = r.Colors.Free
		case Obstacle:
			c = r.Colors.Obstacle
		case WaypointMark:
			c = r.Colors.Waypoint
		case CarMark:
			c = r.Colors.Car
		default:
			if !rec.Visited {
				continue
			}
			c = r.Colors.Visited
		}

		cellStyle := canvas.DefaultStyle
		cellStyle.Fill = canvas.Paint{Color: c}
		cellStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

		wx := float64(rec.X)*cfg.CellSize - cfg.OriginX
		wy := float64(rec.Y)*cfg.CellSize - cfg.OriginY
		cx, cy := r.toCanvas(wx, wy)
		cell := canvas.Rectangle(cellPx, cellPx)
		cell = cell.Translate(cx, cy)
		renderer.RenderPath(cell, cellStyle, canvas.Identity)
	}

	if r.GridSpacing > 0 {
		r.renderGridLines(renderer)
	}

	r.renderWaypoints(renderer)
	r.renderCar(renderer)
}

// renderGridLines draws dashed metre lines over the map.
func (r *VectorRenderer) renderGridLines(renderer canvasRenderer) {
	cfg := r.Doc.Config
	minX := -cfg.OriginX
	minY := -cfg.OriginY
	maxX := float64(cfg.Width)*cfg.CellSize - cfg.OriginX
	maxY := float64(cfg.Height)*cfg.CellSize - cfg.OriginY

	gridStyle := canvas.DefaultStyle
	gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	gridStyle.StrokeWidth = 0.5
	gridStyle.Dashes = []float64{3.0, 3.0}

	for x := math.Ceil(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
		p := &canvas.Path{}
		x1, y1 := r.toCanvas(x, minY)
		x2, y2 := r.toCanvas(x, maxY)
		p.MoveTo(x1, y1)
		p.LineTo(x2, y2)
		renderer.RenderPath(p, gridStyle, canvas.Identity)
	}

	for y := math.Ceil(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
		p := &canvas.Path{}
		x1, y1 := r.toCanvas(minX, y)
		x2, y2 := r.toCanvas(maxX, y)
		p.MoveTo(x1, y1)
		p.LineTo(x2, y2)
		renderer.RenderPath(p, gridStyle, canvas.Identity)
	}
}

// renderWaypoints draws each waypoint as a stroked circle; visited
// waypoints get a filled center.
func (r *VectorRenderer) renderWaypoints(renderer canvasRenderer) {
	for _, wp := range r.Doc.Waypoints {
		cx, cy := r.toCanvas(wp.X, wp.Y)

		style := canvas.DefaultStyle
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 1.0
		if wp.Visited {
			style.Fill = canvas.Paint{Color: r.Colors.Waypoint}
		} else {
			// Unvisited markers get a translucent tint of the waypoint color.
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(color.NRGBA{255, 215, 0, 96})}
		}

		p := canvas.Circle(0.15 * r.Scale)
		p = p.Translate(cx, cy)
		renderer.RenderPath(p, style, canvas.Identity)
	}
}

// renderCar draws the pose as a filled circle with a heading line.
func (r *VectorRenderer) renderCar(renderer canvasRenderer) {
	pose := r.Doc.CarPosition
	cx, cy := r.toCanvas(pose.X, pose.Y)

	bodyStyle := canvas.DefaultStyle
	bodyStyle.Fill = canvas.Paint{Color: r.Colors.Car}
	bodyStyle.Stroke = canvas.Paint{Color: canvas.Black}
	bodyStyle.StrokeWidth = 1.0

	body := canvas.Circle(0.12 * r.Scale)
	body = body.Translate(cx, cy)
	renderer.RenderPath(body, bodyStyle, canvas.Identity)

	dirLen := 0.3 * r.Scale
	dirStyle := canvas.DefaultStyle
	dirStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	dirStyle.Stroke = canvas.Paint{Color: r.Colors.Car}
	dirStyle.StrokeWidth = 1.5

	dir := &canvas.Path{}
	dir.MoveTo(cx, cy)
	dir.LineTo(cx+dirLen*math.Cos(pose.Heading), cy+dirLen*math.Sin(pose.Heading))
	renderer.RenderPath(dir, dirStyle, canvas.Identity)
}
