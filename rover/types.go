package rover

import "fmt"

// Classification is the occupancy class of a single grid cell.
type Classification int

const (
	Unknown Classification = iota
	Free
	Obstacle
	WaypointMark
	CarMark
)

// String returns a human-readable name for logging and rendering.
func (c Classification) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case Free:
		return "free"
	case Obstacle:
		return "obstacle"
	case WaypointMark:
		return "waypoint"
	case CarMark:
		return "car"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// Cell is one element of the occupancy grid.
// Confidence is kept in [0,1]; Timestamp is milliseconds since the grid
// was created and is refreshed on every classification or confidence change.
type Cell struct {
	Class      Classification `json:"classification"`
	Confidence float64        `json:"confidence"`
	Timestamp  int64          `json:"timestamp"`
	Visited    bool           `json:"visited"`
}

// Pose is the car's world-frame position and heading.
// X and Y are meters, Heading is radians (0 = +X axis, CCW positive).
// The pose is supplied by an external odometric source; the core never
// estimates it.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"angle"`
}

// Waypoint is a named point of interest tied to world coordinates.
type Waypoint struct {
	ID        int64   `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Name      string  `json:"name"`
	Visited   bool    `json:"visited"`
	Timestamp int64   `json:"timestamp"`
}

// GridConfig holds the fixed parameters of an occupancy grid.
// Dimensions and cell size are set once at construction; re-creating the
// grid discards all prior state.
type GridConfig struct {
	CellSize float64 `yaml:"cellSize" json:"cellSize"` // meters per cell
	Width    int     `yaml:"width" json:"width"`       // cells
	Height   int     `yaml:"height" json:"height"`     // cells
	OriginX  float64 `yaml:"originX" json:"originX"`   // world-to-grid offset, meters
	OriginY  float64 `yaml:"originY" json:"originY"`
	MaxRange float64 `yaml:"maxRange" json:"maxRange"` // meters; readings beyond are discarded
	MinRange float64 `yaml:"minRange" json:"minRange"`

	// Belief thresholds and per-reading sensor confidences. Zero values
	// are replaced with defaults by normalize().
	OccupancyThreshold float64 `yaml:"occupancyThreshold" json:"-"`
	FreeThreshold      float64 `yaml:"freeThreshold" json:"-"`
	ObstacleConfidence float64 `yaml:"obstacleConfidence" json:"-"`
	FreeConfidence     float64 `yaml:"freeConfidence" json:"-"`

	// MaxWaypoints caps the waypoint registry. 0 means unbounded.
	MaxWaypoints int `yaml:"maxWaypoints" json:"-"`
}

// DefaultGridConfig mirrors the rover's stock 20m x 20m arena model.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		CellSize: 0.1,
		Width:    200,
		Height:   200,
		OriginX:  10.0,
		OriginY:  10.0,
		MaxRange: 4.0,
		MinRange: 0.05,
	}
}

func (c *GridConfig) normalize() {
	if c.OccupancyThreshold == 0 {
		c.OccupancyThreshold = 0.7
	}
	if c.FreeThreshold == 0 {
		c.FreeThreshold = 0.3
	}
	if c.ObstacleConfidence == 0 {
		c.ObstacleConfidence = 0.8
	}
	if c.FreeConfidence == 0 {
		c.FreeConfidence = 0.6
	}
}

// GridStats aggregates occupancy counters for status reporting.
type GridStats struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	VisitedCells  int     `json:"visitedCells"`
	ObstacleCells int     `json:"obstacleCells"`
	FreeCells     int     `json:"freeCells"`
	Coverage      float64 `json:"coverage"` // percent of cells visited
	Waypoints     int     `json:"waypoints"`
}

// RangeBeam is one distance measurement to fold into the map.
// BearingOffset is relative to the car heading, radians. Distance is meters.
type RangeBeam struct {
	BearingOffset float64 `json:"bearing"`
	Distance      float64 `json:"distance"`
	Valid         bool    `json:"valid"`
}

// SensorSnapshot is the fused sensor state the navigator consumes each tick.
// Proximity flags come from the directional IR units, RangeCM from the
// wide-beam ranger (centimeters; Valid false means "no obstacle"), line
// flags from the floor sensors, and Beams carry the raw distances used for
// occupancy mapping. The JSON form doubles as the sensor-topic wire payload.
type SensorSnapshot struct {
	LeftProximity   bool `json:"leftProximity"`
	CenterProximity bool `json:"centerProximity"`
	RightProximity  bool `json:"rightProximity"`

	RangeCM    float64 `json:"rangeCm"`
	RangeValid bool    `json:"rangeValid"`

	LineLeft   bool `json:"lineLeft"`
	LineCenter bool `json:"lineCenter"`
	LineRight  bool `json:"lineRight"`

	Beams []RangeBeam `json:"beams,omitempty"`
}
