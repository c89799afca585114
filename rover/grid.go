package rover

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Grid is the rover's probabilistic occupancy map. It owns a flat cell
// buffer indexed y*width+x, the latest car pose, and the waypoint registry.
// All mutation goes through Grid methods; a single RWMutex covers each
// public mutating call and each full-map read so a concurrent HTTP export
// cannot observe a torn snapshot mid-tick.
type Grid struct {
	mu     sync.RWMutex
	config GridConfig
	cells  []Cell
	pose   Pose

	waypoints *waypointRegistry

	epoch time.Time
	now   func() time.Time
}

// NewGrid allocates a grid for the given configuration. All cells start
// Unknown with confidence 0. Dimensions and cell size must be positive and
// range bounds ordered; everything else is defaulted.
func NewGrid(config GridConfig) (*Grid, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", config.Width, config.Height)
	}
	if config.CellSize <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %g", config.CellSize)
	}
	if config.MinRange < 0 || config.MaxRange <= config.MinRange {
		return nil, fmt.Errorf("invalid range bounds [%g, %g]", config.MinRange, config.MaxRange)
	}
	config.normalize()

	return &Grid{
		config:    config,
		cells:     make([]Cell, config.Width*config.Height),
		waypoints: newWaypointRegistry(config.MaxWaypoints),
		epoch:     time.Now(),
		now:       time.Now,
	}, nil
}

// Config returns a copy of the grid's configuration. Restore can swap
// the configuration for the document's, so this reads under the lock.
func (g *Grid) Config() GridConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config
}

// millis returns milliseconds since the grid was created.
func (g *Grid) millis() int64 {
	return g.now().Sub(g.epoch).Milliseconds()
}

// WorldToGrid converts world-frame meters to grid indices. The result may
// be out of bounds; callers must bounds-check before indexing.
func (g *Grid) WorldToGrid(x, y float64) (int, int) {
	gx := int(math.Floor((x + g.config.OriginX) / g.config.CellSize))
	gy := int(math.Floor((y + g.config.OriginY) / g.config.CellSize))
	return gx, gy
}

// GridToWorld converts grid indices back to world-frame meters (the corner
// of the cell, inverse of WorldToGrid up to sub-cell truncation).
func (g *Grid) GridToWorld(gx, gy int) (float64, float64) {
	x := float64(gx)*g.config.CellSize - g.config.OriginX
	y := float64(gy)*g.config.CellSize - g.config.OriginY
	return x, y
}

func (g *Grid) inBounds(gx, gy int) bool {
	return gx >= 0 && gx < g.config.Width && gy >= 0 && gy < g.config.Height
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UpdateCell folds one observation into a cell. Out-of-bounds updates are
// silently ignored since sensor rays routinely project past the grid edge.
//
// Obstacle and Free observations blend with the existing belief and only
// commit the classification once confidence crosses the respective
// threshold. WaypointMark and CarMark are authoritative markers and
// overwrite directly.
func (g *Grid) UpdateCell(gx, gy int, class Classification, confidence float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCellLocked(gx, gy, class, confidence)
}

func (g *Grid) updateCellLocked(gx, gy int, class Classification, confidence float64) {
	if !g.inBounds(gx, gy) {
		return
	}
	cell := &g.cells[gy*g.config.Width+gx]

	switch class {
	case Obstacle:
		if cell.Class == Free {
			cell.Confidence = (cell.Confidence + confidence) / 2
		} else {
			cell.Confidence = math.Max(cell.Confidence, confidence)
		}
		cell.Confidence = clampUnit(cell.Confidence)
		if cell.Confidence > g.config.OccupancyThreshold {
			cell.Class = Obstacle
		}
	case Free:
		if cell.Class == Obstacle {
			cell.Confidence = math.Min(cell.Confidence, 1-confidence)
		} else {
			cell.Confidence = math.Max(cell.Confidence, confidence)
		}
		cell.Confidence = clampUnit(cell.Confidence)
		// An obstacle still held at high confidence is not reclassified;
		// erosion above must bring it below the occupancy threshold first.
		if cell.Confidence > g.config.FreeThreshold &&
			!(cell.Class == Obstacle && cell.Confidence > g.config.OccupancyThreshold) {
			cell.Class = Free
		}
	default:
		cell.Class = class
		cell.Confidence = clampUnit(confidence)
	}

	cell.Timestamp = g.millis()
}

// IntegrateRangeReading folds a single sensor beam into the map. The beam
// originates at pose, points along heading+bearingOffset, and hit something
// at distance meters. Readings outside (MinRange, MaxRange) are discarded
// with no cell update. The endpoint cell trends toward Obstacle; every cell
// along the ray trends toward Free, clearing stale obstacle beliefs.
func (g *Grid) IntegrateRangeReading(pose Pose, bearingOffset, distance float64) {
	if distance <= g.config.MinRange || distance >= g.config.MaxRange {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	bearing := pose.Heading + bearingOffset
	ex := pose.X + distance*math.Cos(bearing)
	ey := pose.Y + distance*math.Sin(bearing)

	// Free space along the ray, half-cell steps, endpoint excluded.
	step := g.config.CellSize / 2
	steps := int(distance / step)
	for i := 1; i < steps; i++ {
		d := float64(i) * step
		wx := pose.X + d*math.Cos(bearing)
		wy := pose.Y + d*math.Sin(bearing)
		gx, gy := g.WorldToGrid(wx, wy)
		g.updateCellLocked(gx, gy, Free, g.config.FreeConfidence)
	}

	gx, gy := g.WorldToGrid(ex, ey)
	g.updateCellLocked(gx, gy, Obstacle, g.config.ObstacleConfidence)
}

// SetPose records the latest externally-supplied pose, stamps the backing
// cell as the car position, and marks it visited.
func (g *Grid) SetPose(pose Pose) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pose = pose
	gx, gy := g.WorldToGrid(pose.X, pose.Y)
	if g.inBounds(gx, gy) {
		g.updateCellLocked(gx, gy, CarMark, 1.0)
		g.cells[gy*g.config.Width+gx].Visited = true
	}
}

// Pose returns the latest recorded car pose.
func (g *Grid) Pose() Pose {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pose
}

// MarkVisited flags a cell as traversed. No-op out of bounds.
func (g *Grid) MarkVisited(gx, gy int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.inBounds(gx, gy) {
		return
	}
	cell := &g.cells[gy*g.config.Width+gx]
	cell.Visited = true
	cell.Timestamp = g.millis()
}

// ClassificationAt returns the class of a cell, or Unknown when the indices
// fall outside the grid.
func (g *Grid) ClassificationAt(gx, gy int) Classification {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.inBounds(gx, gy) {
		return Unknown
	}
	return g.cells[gy*g.config.Width+gx].Class
}

// ClassificationAtWorld is ClassificationAt keyed by world coordinates.
func (g *Grid) ClassificationAtWorld(x, y float64) Classification {
	gx, gy := g.WorldToGrid(x, y)
	return g.ClassificationAt(gx, gy)
}

// CellAt returns a copy of the cell and whether the indices were in bounds.
func (g *Grid) CellAt(gx, gy int) (Cell, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.inBounds(gx, gy) {
		return Cell{}, false
	}
	return g.cells[gy*g.config.Width+gx], true
}

// Clear resets every cell to its initial state and empties the waypoint
// registry. Queries after Clear answer exactly as after NewGrid.
func (g *Grid) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.cells {
		g.cells[i] = Cell{}
	}
	g.pose = Pose{}
	g.waypoints.clear()
}

// Stats walks the grid and returns occupancy counters.
func (g *Grid) Stats() GridStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := GridStats{Width: g.config.Width, Height: g.config.Height}
	for i := range g.cells {
		if g.cells[i].Visited {
			stats.VisitedCells++
		}
		switch g.cells[i].Class {
		case Obstacle:
			stats.ObstacleCells++
		case Free:
			stats.FreeCells++
		}
	}
	total := g.config.Width * g.config.Height
	stats.Coverage = float64(stats.VisitedCells) / float64(total) * 100
	stats.Waypoints = g.waypoints.len()
	return stats
}
