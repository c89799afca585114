package rover

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// CellColors maps occupancy classes to render colors.
type CellColors struct {
	Unknown  color.RGBA
	Free     color.RGBA
	Obstacle color.RGBA
	Waypoint color.RGBA
	Car      color.RGBA
	Visited  color.RGBA // applied to visited cells still classified Unknown
}

// DefaultCellColors returns the stock palette.
func DefaultCellColors() CellColors {
	return CellColors{
		Unknown:  color.RGBA{52, 52, 56, 255},
		Free:     color.RGBA{228, 228, 222, 255},
		Obstacle: color.RGBA{178, 34, 34, 255},
		Waypoint: color.RGBA{255, 215, 0, 255},
		Car:      color.RGBA{30, 110, 235, 255},
		Visited:  color.RGBA{84, 110, 88, 255},
	}
}

// MapRenderer draws a map document as a raster image. Grid north (+y)
// renders toward the top of the image.
type MapRenderer struct {
	Doc    *MapDocument
	Colors CellColors
	Scale  int // pixels per cell
	Labels bool
}

// NewMapRenderer creates a renderer with default palette and scale.
func NewMapRenderer(doc *MapDocument) *MapRenderer {
	return &MapRenderer{
		Doc:    doc,
		Colors: DefaultCellColors(),
		Scale:  4,
		Labels: true,
	}
}

// Render produces the occupancy image: every cell painted by class, the
// car pose drawn as a heading marker, waypoints labeled.
func (r *MapRenderer) Render() *image.RGBA {
	cfg := r.Doc.Config
	scale := r.Scale
	if scale < 1 {
		scale = 1
	}

	img := image.NewRGBA(image.Rect(0, 0, cfg.Width*scale, cfg.Height*scale))

	// Background: everything unlisted is Unknown.
	for py := 0; py < cfg.Height*scale; py++ {
		for px := 0; px < cfg.Width*scale; px++ {
			img.SetRGBA(px, py, r.Colors.Unknown)
		}
	}

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
		r.fillCell(img, rec.X, rec.Y, c)
	}

	r.drawCar(img)

	if r.Labels {
		for _, wp := range r.Doc.Waypoints {
			px, py := r.worldToPixel(wp.X, wp.Y)
			drawText(img, px+scale, py-scale, wp.Name, color.RGBA{255, 255, 255, 255})
		}
	}

	return img
}

// fillCell paints one grid cell, flipping y so +y is up.
func (r *MapRenderer) fillCell(img *image.RGBA, gx, gy int, c color.RGBA) {
	cfg := r.Doc.Config
	baseX := gx * r.Scale
	baseY := (cfg.Height - 1 - gy) * r.Scale
	for dy := 0; dy < r.Scale; dy++ {
		for dx := 0; dx < r.Scale; dx++ {
			img.SetRGBA(baseX+dx, baseY+dy, c)
		}
	}
}

// worldToPixel converts world meters to image pixels.
func (r *MapRenderer) worldToPixel(x, y float64) (int, int) {
	cfg := r.Doc.Config
	gx := (x + cfg.OriginX) / cfg.CellSize
	gy := (y + cfg.OriginY) / cfg.CellSize
	px := int(gx * float64(r.Scale))
	py := int((float64(cfg.Height) - gy) * float64(r.Scale))
	return px, py
}

// drawCar marks the pose with a filled disc and a heading tick.
func (r *MapRenderer) drawCar(img *image.RGBA) {
	pose := r.Doc.CarPosition
	px, py := r.worldToPixel(pose.X, pose.Y)
	radius := r.Scale

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setIfInBounds(img, px+dx, py+dy, r.Colors.Car)
			}
		}
	}

	// Heading tick, image y axis points down.
	length := 3 * r.Scale
	for i := 0; i <= length; i++ {
		hx := px + int(float64(i)*math.Cos(pose.Heading))
		hy := py - int(float64(i)*math.Sin(pose.Heading))
		setIfInBounds(img, hx, hy, r.Colors.Car)
	}
}

func setIfInBounds(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// drawText renders a small label using the basic 7x13 face.
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// SavePNG renders the map and writes it to path.
func (r *MapRenderer) SavePNG(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return nil
}
