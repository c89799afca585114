package rover

import (
	"math"
	"sync"
	"time"
)

// SimSensors is a SensorProvider whose snapshot is set by the test or the
// simulation loop.
type SimSensors struct {
	mu   sync.Mutex
	snap SensorSnapshot
}

func NewSimSensors() *SimSensors {
	return &SimSensors{}
}

// Set replaces the snapshot returned by subsequent Snapshot calls.
func (s *SimSensors) Set(snap SensorSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func (s *SimSensors) Snapshot() SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// MotorAction records one directive issued to the simulated motors.
type MotorAction struct {
	Directive string
	Speed     int
	At        time.Time
}

// SimMotors is a MotorDriver that records directives instead of driving
// hardware.
type SimMotors struct {
	mu      sync.Mutex
	last    MotorAction
	history []MotorAction
}

func NewSimMotors() *SimMotors {
	return &SimMotors{}
}

func (m *SimMotors) record(directive string, speed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = MotorAction{Directive: directive, Speed: speed, At: time.Now()}
	m.history = append(m.history, m.last)
}

func (m *SimMotors) Forward(speed int)   { m.record("forward", speed) }
func (m *SimMotors) Backward(speed int)  { m.record("backward", speed) }
func (m *SimMotors) TurnLeft(speed int)  { m.record("turn_left", speed) }
func (m *SimMotors) TurnRight(speed int) { m.record("turn_right", speed) }
func (m *SimMotors) Stop()               { m.record("stop", 0) }

// Last returns the most recent directive.
func (m *SimMotors) Last() MotorAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// History returns a copy of all recorded directives.
func (m *SimMotors) History() []MotorAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MotorAction, len(m.history))
	copy(out, m.history)
	return out
}

// SimPose is a PoseProvider whose pose is set externally.
type SimPose struct {
	mu   sync.Mutex
	pose Pose
}

func NewSimPose(initial Pose) *SimPose {
	return &SimPose{pose: initial}
}

func (p *SimPose) Set(pose Pose) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pose = pose
}

func (p *SimPose) Pose() Pose {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pose
}

// SimWorld is a minimal closed-arena simulation for the --sim mode: the
// rover dead-reckons inside a rectangular room, the forward beam measures
// the distance to the nearest wall, and the center proximity flag asserts
// when that distance closes below half a meter.
type SimWorld struct {
	Sensors *SimSensors
	Motors  *SimMotors
	Poses   *SimPose

	// Arena bounds, world meters.
	MinX, MinY, MaxX, MaxY float64

	maxSpeed float64 // m/s at full PWM
	turnRate float64 // rad/s at full PWM
}

// NewSimWorld builds a square arena centered on the origin.
func NewSimWorld(halfSize float64) *SimWorld {
	w := &SimWorld{
		Sensors:  NewSimSensors(),
		Motors:   NewSimMotors(),
		Poses:    NewSimPose(Pose{}),
		MinX:     -halfSize,
		MinY:     -halfSize,
		MaxX:     halfSize,
		MaxY:     halfSize,
		maxSpeed: 0.5,
		turnRate: math.Pi / 2,
	}
	w.refreshSensors()
	return w
}

// Step advances the dead-reckoned pose by dt according to the last motor
// directive, then refreshes the sensor snapshot.
func (w *SimWorld) Step(dt time.Duration) {
	action := w.Motors.Last()
	pose := w.Poses.Pose()
	secs := dt.Seconds()
	gain := float64(action.Speed) / 255

	switch action.Directive {
	case "forward":
		pose.X += gain * w.maxSpeed * secs * math.Cos(pose.Heading)
		pose.Y += gain * w.maxSpeed * secs * math.Sin(pose.Heading)
	case "backward":
		pose.X -= gain * w.maxSpeed * secs * math.Cos(pose.Heading)
		pose.Y -= gain * w.maxSpeed * secs * math.Sin(pose.Heading)
	case "turn_left":
		pose.Heading += gain * w.turnRate * secs
	case "turn_right":
		pose.Heading -= gain * w.turnRate * secs
	}

	// The walls are solid.
	pose.X = math.Max(w.MinX, math.Min(w.MaxX, pose.X))
	pose.Y = math.Max(w.MinY, math.Min(w.MaxY, pose.Y))

	w.Poses.Set(pose)
	w.refreshSensors()
}

// refreshSensors synthesizes a snapshot from the pose: one forward beam to
// the nearest wall, proximity asserted under half a meter.
func (w *SimWorld) refreshSensors() {
	pose := w.Poses.Pose()
	dist := w.wallDistance(pose)

	w.Sensors.Set(SensorSnapshot{
		CenterProximity: dist < 0.5,
		RangeCM:         dist * 100,
		RangeValid:      true,
		Beams: []RangeBeam{
			{BearingOffset: 0, Distance: dist, Valid: true},
		},
	})
}

// wallDistance casts a ray from the pose along its heading and returns the
// distance to the first arena wall.
func (w *SimWorld) wallDistance(pose Pose) float64 {
	dx := math.Cos(pose.Heading)
	dy := math.Sin(pose.Heading)

	best := math.Inf(1)
	if dx > 1e-9 {
		best = math.Min(best, (w.MaxX-pose.X)/dx)
	} else if dx < -1e-9 {
		best = math.Min(best, (w.MinX-pose.X)/dx)
	}
	if dy > 1e-9 {
		best = math.Min(best, (w.MaxY-pose.Y)/dy)
	} else if dy < -1e-9 {
		best = math.Min(best, (w.MinY-pose.Y)/dy)
	}
	if math.IsInf(best, 1) || best < 0 {
		return 0
	}
	return best
}
