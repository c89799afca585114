package rover

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// waypointRegistry is the ordered collection of named points of interest.
// It is owned by the Grid and shares its lock; ids are generated from a
// monotonic counter so they stay collision-free regardless of clock
// resolution.
type waypointRegistry struct {
	entries []Waypoint
	nextID  int64
	cap     int // 0 = unbounded
}

func newWaypointRegistry(cap int) *waypointRegistry {
	return &waypointRegistry{nextID: 1, cap: cap}
}

func (r *waypointRegistry) len() int {
	return len(r.entries)
}

func (r *waypointRegistry) clear() {
	r.entries = nil
	r.nextID = 1
}

// AddWaypoint registers a named point of interest and marks its backing
// cell (if in bounds) as a waypoint. A blank name defaults to
// "Waypoint {ordinal}". Fails only when the configured capacity is reached.
func (g *Grid) AddWaypoint(x, y float64, name string) (Waypoint, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.waypoints
	if r.cap > 0 && len(r.entries) >= r.cap {
		return Waypoint{}, fmt.Errorf("waypoint registry full (%d entries)", r.cap)
	}

	if name == "" {
		name = fmt.Sprintf("Waypoint %d", len(r.entries)+1)
	}

	wp := Waypoint{
		ID:        r.nextID,
		X:         x,
		Y:         y,
		Name:      name,
		Timestamp: g.millis(),
	}
	r.nextID++
	r.entries = append(r.entries, wp)

	gx, gy := g.WorldToGrid(x, y)
	g.updateCellLocked(gx, gy, WaypointMark, 1.0)

	return wp, nil
}

// RemoveWaypoint deletes a waypoint by id and reports whether it existed.
// The backing cell is reverted to Unknown, but only if it is still marked
// as a waypoint; a cell that has since been reclassified (obstacle drift,
// car position) keeps its newer belief.
func (g *Grid) RemoveWaypoint(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := g.waypoints
	for i, wp := range r.entries {
		if wp.ID != id {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)

		gx, gy := g.WorldToGrid(wp.X, wp.Y)
		if g.inBounds(gx, gy) && g.cells[gy*g.config.Width+gx].Class == WaypointMark {
			g.updateCellLocked(gx, gy, Unknown, 0)
		}
		return true
	}
	return false
}

// Waypoint looks up a waypoint by id.
func (g *Grid) Waypoint(id int64) (Waypoint, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, wp := range g.waypoints.entries {
		if wp.ID == id {
			return wp, true
		}
	}
	return Waypoint{}, false
}

// Waypoints returns all waypoints in insertion order.
func (g *Grid) Waypoints() []Waypoint {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Waypoint, len(g.waypoints.entries))
	copy(out, g.waypoints.entries)
	return out
}

// SetWaypointVisited updates the application-settable visited flag and
// reports whether the waypoint exists. The Grid never derives this flag
// itself.
func (g *Grid) SetWaypointVisited(id int64, visited bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.waypoints.entries {
		if g.waypoints.entries[i].ID == id {
			g.waypoints.entries[i].Visited = visited
			return true
		}
	}
	return false
}

// NearestWaypoint returns the waypoint closest to the given world
// coordinates, or false when the registry is empty.
func (g *Grid) NearestWaypoint(x, y float64) (Waypoint, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	from := orb.Point{x, y}
	best := -1
	bestDist := 0.0
	for i, wp := range g.waypoints.entries {
		d := planar.Distance(from, orb.Point{wp.X, wp.Y})
		if best == -1 || d < bestDist {
			best = i
			bestDist = d
		}
	}
	if best == -1 {
		return Waypoint{}, false
	}
	return g.waypoints.entries[best], true
}
