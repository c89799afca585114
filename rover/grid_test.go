package rover

import (
	"math"
	"testing"
	"time"
)

// testGridConfig returns a small grid with 1m cells: indices are easy to
// compute by hand and world (0,0) lands on cell (5,5).
func testGridConfig() GridConfig {
	return GridConfig{
		CellSize: 1.0,
		Width:    10,
		Height:   10,
		OriginX:  5.0,
		OriginY:  5.0,
		MaxRange: 4.0,
		MinRange: 0.05,
	}
}

func newTestGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(testGridConfig())
	if err != nil {
		t.Fatalf("NewGrid failed: %v", err)
	}
	return g
}

func TestNewGrid_RejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*GridConfig)
	}{
		{"zero width", func(c *GridConfig) { c.Width = 0 }},
		{"negative height", func(c *GridConfig) { c.Height = -3 }},
		{"zero cell size", func(c *GridConfig) { c.CellSize = 0 }},
		{"min range above max", func(c *GridConfig) { c.MinRange = 5.0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testGridConfig()
			tc.mutate(&cfg)
			if _, err := NewGrid(cfg); err == nil {
				t.Errorf("Expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestWorldToGrid_RoundTrip(t *testing.T) {
	g := newTestGrid(t)

	// World origin maps to the grid center cell.
	gx, gy := g.WorldToGrid(0, 0)
	if gx != 5 || gy != 5 {
		t.Errorf("Expected (5,5) for world origin, got (%d,%d)", gx, gy)
	}

	// Negative world coordinates stay in bounds thanks to the origin offset.
	gx, gy = g.WorldToGrid(-4.5, -2.1)
	if gx != 0 || gy != 2 {
		t.Errorf("Expected (0,2), got (%d,%d)", gx, gy)
	}

	// GridToWorld returns the cell corner; converting back lands on the
	// same cell.
	for _, idx := range [][2]int{{0, 0}, {5, 5}, {9, 9}, {3, 7}} {
		wx, wy := g.GridToWorld(idx[0], idx[1])
		bx, by := g.WorldToGrid(wx, wy)
		if bx != idx[0] || by != idx[1] {
			t.Errorf("Round trip (%d,%d) -> (%f,%f) -> (%d,%d)", idx[0], idx[1], wx, wy, bx, by)
		}
	}
}

func TestIntegrateRangeReading_MarksRayAndEndpoint(t *testing.T) {
	g := newTestGrid(t)

	// Car at world origin facing +x, obstacle 3m ahead. The endpoint cell
	// (8,5) trends to Obstacle and the swept cells before it trend to Free.
	pose := Pose{X: 0, Y: 0, Heading: 0}
	g.IntegrateRangeReading(pose, 0, 3.0)

	if got := g.ClassificationAt(8, 5); got != Obstacle {
		t.Errorf("Expected Obstacle at (8,5), got %v", got)
	}
	for _, gx := range []int{6, 7} {
		if got := g.ClassificationAt(gx, 5); got != Free {
			t.Errorf("Expected Free at (%d,5), got %v", gx, got)
		}
	}
	// Off-ray cells stay Unknown.
	if got := g.ClassificationAt(8, 6); got != Unknown {
		t.Errorf("Expected Unknown off the ray, got %v", got)
	}
}

func TestIntegrateRangeReading_DiscardsOutOfRange(t *testing.T) {
	g := newTestGrid(t)
	pose := Pose{X: 0, Y: 0, Heading: 0}

	g.IntegrateRangeReading(pose, 0, 4.5)  // beyond MaxRange
	g.IntegrateRangeReading(pose, 0, 0.01) // below MinRange

	stats := g.Stats()
	if stats.ObstacleCells != 0 || stats.FreeCells != 0 {
		t.Errorf("Expected untouched grid, got %d obstacle / %d free cells",
			stats.ObstacleCells, stats.FreeCells)
	}
}

func TestIntegrateRangeReading_BearingOffset(t *testing.T) {
	g := newTestGrid(t)

	// Heading +x with a +90 degree beam offset points the ray along +y.
	pose := Pose{X: 0, Y: 0, Heading: 0}
	g.IntegrateRangeReading(pose, math.Pi/2, 2.0)

	if got := g.ClassificationAt(5, 7); got != Obstacle {
		t.Errorf("Expected Obstacle at (5,7), got %v", got)
	}
}

func TestUpdateCell_ObstacleCommitThreshold(t *testing.T) {
	g := newTestGrid(t)

	// A single default-confidence observation crosses the occupancy
	// threshold immediately.
	g.UpdateCell(2, 2, Obstacle, 0.8)

	cell, ok := g.CellAt(2, 2)
	if !ok {
		t.Fatal("Expected cell in bounds")
	}
	if cell.Class != Obstacle {
		t.Errorf("Expected Obstacle, got %v", cell.Class)
	}
	if cell.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %f", cell.Confidence)
	}

	// A weak observation on a fresh cell raises confidence but does not
	// commit the class.
	g.UpdateCell(3, 3, Obstacle, 0.5)
	if got := g.ClassificationAt(3, 3); got != Unknown {
		t.Errorf("Expected Unknown below threshold, got %v", got)
	}
}

func TestUpdateCell_FreeErodesObstacle(t *testing.T) {
	g := newTestGrid(t)

	// Committed obstacle at 0.8.
	g.UpdateCell(4, 4, Obstacle, 0.8)

	// One Free observation drags confidence to min(0.8, 1-0.6)=0.4. That
	// is above the free threshold and the obstacle is no longer held at
	// high confidence, so the cell flips.
	g.UpdateCell(4, 4, Free, 0.6)

	cell, _ := g.CellAt(4, 4)
	if cell.Class != Free {
		t.Errorf("Expected Free after erosion, got %v", cell.Class)
	}
	if math.Abs(cell.Confidence-0.4) > 1e-9 {
		t.Errorf("Expected confidence 0.4, got %f", cell.Confidence)
	}
}

func TestUpdateCell_ObstacleOnFreeAverages(t *testing.T) {
	g := newTestGrid(t)

	g.UpdateCell(1, 1, Free, 0.6)
	if got := g.ClassificationAt(1, 1); got != Free {
		t.Fatalf("Expected Free, got %v", got)
	}

	// Obstacle over Free averages: (0.6+0.8)/2 = 0.7, not above the
	// occupancy threshold, class holds.
	g.UpdateCell(1, 1, Obstacle, 0.8)
	cell, _ := g.CellAt(1, 1)
	if cell.Class != Free {
		t.Errorf("Expected Free to survive one conflicting observation, got %v", cell.Class)
	}

	// A second conflicting observation pushes it over: max(0.7,0.8)? No,
	// the cell is still Free so it averages again: (0.7+0.8)/2 = 0.75.
	g.UpdateCell(1, 1, Obstacle, 0.8)
	cell, _ = g.CellAt(1, 1)
	if cell.Class != Obstacle {
		t.Errorf("Expected Obstacle after repeated observations, got %v", cell.Class)
	}
}

func TestUpdateCell_ConfidenceNeverExceedsOne(t *testing.T) {
	g := newTestGrid(t)

	for i := 0; i < 50; i++ {
		g.UpdateCell(0, 0, Obstacle, 0.95)
	}
	cell, _ := g.CellAt(0, 0)
	if cell.Confidence > 1.0 {
		t.Errorf("Confidence exceeded 1.0: %f", cell.Confidence)
	}
}

func TestUpdateCell_OutOfBoundsIgnored(t *testing.T) {
	g := newTestGrid(t)

	// Must not panic and must not change stats.
	g.UpdateCell(-1, 0, Obstacle, 0.8)
	g.UpdateCell(0, 10, Obstacle, 0.8)
	g.UpdateCell(100, 100, Free, 0.6)

	stats := g.Stats()
	if stats.ObstacleCells != 0 || stats.FreeCells != 0 {
		t.Errorf("Out-of-bounds update mutated the grid: %+v", stats)
	}
}

func TestSetPose_MarksCarCellVisited(t *testing.T) {
	g := newTestGrid(t)

	g.SetPose(Pose{X: 1.2, Y: -0.7, Heading: math.Pi / 4})

	if got := g.Pose(); got.X != 1.2 || got.Y != -0.7 {
		t.Errorf("Pose not recorded: %+v", got)
	}
	cell, _ := g.CellAt(6, 4)
	if cell.Class != CarMark {
		t.Errorf("Expected CarMark at (6,4), got %v", cell.Class)
	}
	if !cell.Visited {
		t.Error("Expected car cell marked visited")
	}
}

func TestSetPose_OutsideGridStillRecorded(t *testing.T) {
	g := newTestGrid(t)

	// Pose beyond the grid edge: no cell update but the pose survives.
	g.SetPose(Pose{X: 50, Y: 50})
	if got := g.Pose(); got.X != 50 {
		t.Errorf("Expected pose retained, got %+v", got)
	}
	if stats := g.Stats(); stats.VisitedCells != 0 {
		t.Errorf("Expected no visited cells, got %d", stats.VisitedCells)
	}
}

func TestClassificationAt_OutOfBoundsIsUnknown(t *testing.T) {
	g := newTestGrid(t)
	if got := g.ClassificationAt(-1, -1); got != Unknown {
		t.Errorf("Expected Unknown out of bounds, got %v", got)
	}
	if got := g.ClassificationAtWorld(99, 99); got != Unknown {
		t.Errorf("Expected Unknown for far world point, got %v", got)
	}
}

func TestClear_RestoresFreshGrid(t *testing.T) {
	g := newTestGrid(t)

	g.IntegrateRangeReading(Pose{}, 0, 3.0)
	g.SetPose(Pose{X: 1, Y: 1})
	if _, err := g.AddWaypoint(2, 2, "gate"); err != nil {
		t.Fatalf("AddWaypoint failed: %v", err)
	}

	g.Clear()

	stats := g.Stats()
	if stats.ObstacleCells != 0 || stats.FreeCells != 0 || stats.VisitedCells != 0 {
		t.Errorf("Expected empty stats after Clear, got %+v", stats)
	}
	if wps := g.Waypoints(); len(wps) != 0 {
		t.Errorf("Expected no waypoints after Clear, got %d", len(wps))
	}
	if pose := g.Pose(); pose != (Pose{}) {
		t.Errorf("Expected zero pose after Clear, got %+v", pose)
	}

	// IDs restart as well: the next waypoint is 1 again.
	wp, err := g.AddWaypoint(1, 1, "")
	if err != nil {
		t.Fatalf("AddWaypoint failed: %v", err)
	}
	if wp.ID != 1 {
		t.Errorf("Expected waypoint ID 1 after Clear, got %d", wp.ID)
	}
}

func TestStats_Counters(t *testing.T) {
	g := newTestGrid(t)

	g.UpdateCell(0, 0, Obstacle, 0.8)
	g.UpdateCell(1, 0, Obstacle, 0.8)
	g.UpdateCell(2, 0, Free, 0.6)
	g.MarkVisited(3, 0)

	stats := g.Stats()
	if stats.ObstacleCells != 2 {
		t.Errorf("Expected 2 obstacle cells, got %d", stats.ObstacleCells)
	}
	if stats.FreeCells != 1 {
		t.Errorf("Expected 1 free cell, got %d", stats.FreeCells)
	}
	if stats.VisitedCells != 1 {
		t.Errorf("Expected 1 visited cell, got %d", stats.VisitedCells)
	}
	if stats.Width != 10 || stats.Height != 10 {
		t.Errorf("Expected 10x10 stats, got %dx%d", stats.Width, stats.Height)
	}
	if stats.Coverage != 1.0 {
		t.Errorf("Expected 1%% coverage (1 of 100 cells), got %f", stats.Coverage)
	}
}

func TestUpdateCell_TimestampAdvances(t *testing.T) {
	g := newTestGrid(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	g.UpdateCell(0, 0, Obstacle, 0.8)
	first, _ := g.CellAt(0, 0)

	g.now = func() time.Time { return base.Add(5 * time.Second) }
	g.UpdateCell(0, 0, Obstacle, 0.8)
	second, _ := g.CellAt(0, 0)

	if second.Timestamp-first.Timestamp != 5000 {
		t.Errorf("Expected timestamp to advance 5000ms, got %d", second.Timestamp-first.Timestamp)
	}
}
