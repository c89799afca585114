package rover

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultMapFile is where the service persists the map between runs.
const DefaultMapFile = "map-data.json"

// CellRecord is one serialized grid cell. Only cells that are non-Unknown
// or visited are emitted; loaders default every unlisted cell to
// Unknown/confidence 0/not visited.
type CellRecord struct {
	X          int            `json:"x"`
	Y          int            `json:"y"`
	Class      Classification `json:"classification"`
	Confidence float64        `json:"confidence"`
	Visited    bool           `json:"visited"`
	Timestamp  int64          `json:"timestamp"`
}

// MapDocument is the persisted and HTTP-exported form of the grid:
// configuration, latest car pose, sparse cell list, and the waypoint
// registry.
type MapDocument struct {
	Config      GridConfig   `json:"config"`
	CarPosition Pose         `json:"carPosition"`
	Cells       []CellRecord `json:"cells"`
	Waypoints   []Waypoint   `json:"waypoints"`
}

// Snapshot serializes the grid into a MapDocument. The snapshot is taken
// under the read lock, so it is internally consistent even while the
// navigation tick keeps running.
func (g *Grid) Snapshot() *MapDocument {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := &MapDocument{
		Config:      g.config,
		CarPosition: g.pose,
		Cells:       make([]CellRecord, 0, 256),
		Waypoints:   make([]Waypoint, len(g.waypoints.entries)),
	}
	copy(doc.Waypoints, g.waypoints.entries)

	for y := 0; y < g.config.Height; y++ {
		for x := 0; x < g.config.Width; x++ {
			cell := g.cells[y*g.config.Width+x]
			if cell.Class == Unknown && !cell.Visited {
				continue
			}
			doc.Cells = append(doc.Cells, CellRecord{
				X:          x,
				Y:          y,
				Class:      cell.Class,
				Confidence: cell.Confidence,
				Visited:    cell.Visited,
				Timestamp:  cell.Timestamp,
			})
		}
	}
	return doc
}

// Restore rebuilds the grid from a previously produced document. The cell
// buffer is reallocated to the document's dimensions, so any in-memory
// state is discarded. Records outside the document's own bounds are
// rejected rather than silently dropped: a document that disagrees with
// itself is corrupt.
func (g *Grid) Restore(doc *MapDocument) error {
	if doc == nil {
		return fmt.Errorf("nil map document")
	}
	if doc.Config.Width <= 0 || doc.Config.Height <= 0 || doc.Config.CellSize <= 0 {
		return fmt.Errorf("map document has invalid config %dx%d cellSize=%g",
			doc.Config.Width, doc.Config.Height, doc.Config.CellSize)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cfg := doc.Config
	cfg.normalize()
	cells := make([]Cell, cfg.Width*cfg.Height)

	for _, rec := range doc.Cells {
		if rec.X < 0 || rec.X >= cfg.Width || rec.Y < 0 || rec.Y >= cfg.Height {
			return fmt.Errorf("cell record (%d,%d) outside %dx%d grid", rec.X, rec.Y, cfg.Width, cfg.Height)
		}
		cells[rec.Y*cfg.Width+rec.X] = Cell{
			Class:      rec.Class,
			Confidence: clampUnit(rec.Confidence),
			Visited:    rec.Visited,
			Timestamp:  rec.Timestamp,
		}
	}

	g.config = cfg
	g.cells = cells
	g.pose = doc.CarPosition

	g.waypoints.clear()
	for _, wp := range doc.Waypoints {
		g.waypoints.entries = append(g.waypoints.entries, wp)
		if wp.ID >= g.waypoints.nextID {
			g.waypoints.nextID = wp.ID + 1
		}
	}
	return nil
}

// SaveMapFile writes the grid snapshot to path as indented JSON.
func SaveMapFile(path string, g *Grid) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating map directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(g.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling map document: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing map file: %w", err)
	}
	return nil
}

// LoadMapFile reads a map document from path. A missing file is not an
// error: the rover simply starts with an empty map.
func LoadMapFile(path string) (*MapDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // no map saved yet
		}
		return nil, fmt.Errorf("reading map file: %w", err)
	}

	var doc MapDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing map file: %w", err)
	}
	return &doc, nil
}
