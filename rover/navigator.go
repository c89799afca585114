package rover

import (
	"log"
	"sync"
	"time"
)

// NavState is the navigator's current directive family.
type NavState int

const (
	StateForward NavState = iota
	StateTurnLeft
	StateTurnRight
	StateBackward
	StateStop
	StateAvoidLeft
	StateAvoidRight
)

func (s NavState) String() string {
	switch s {
	case StateForward:
		return "forward"
	case StateTurnLeft:
		return "turn_left"
	case StateTurnRight:
		return "turn_right"
	case StateBackward:
		return "backward"
	case StateStop:
		return "stop"
	case StateAvoidLeft:
		return "avoid_left"
	case StateAvoidRight:
		return "avoid_right"
	default:
		return "unknown"
	}
}

// SensorProvider supplies the fused sensor snapshot once per tick.
// Implementations must not block; a stuck read is bounded by the
// collaborator's own timeout, never by the navigator.
type SensorProvider interface {
	Snapshot() SensorSnapshot
}

// MotorDriver is the actuator sink. Speeds arrive pre-clamped to 0..255.
type MotorDriver interface {
	Forward(speed int)
	Backward(speed int)
	TurnLeft(speed int)
	TurnRight(speed int)
	Stop()
}

// PoseProvider supplies the externally-estimated car pose each tick.
type PoseProvider interface {
	Pose() Pose
}

// EventRecorder receives navigation transitions and alerts. Recording
// failures must be absorbed by the implementation; the navigator never
// checks them.
type EventRecorder interface {
	RecordTransition(from, to NavState, reason string)
	RecordAlert(kind, detail string)
}

// Alert is the one condition the navigator propagates upward: the obstacle
// watchdog tripping after prolonged blockage.
type Alert struct {
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
	State  NavState  `json:"-"`
	At     time.Time `json:"at"`
}

// NavConfig tunes the arbiter. Zero values are replaced with the stock
// firmware defaults by normalize().
type NavConfig struct {
	TickInterval    time.Duration
	StateTimeout    time.Duration // recovery for backward/avoid states
	MaxObstacleTime time.Duration // watchdog ceiling

	BaseSpeed    int
	TurnSpeed    int
	AvoidSpeed   int
	ReverseSpeed int

	NearFieldCM  float64 // ranger distance that asserts an obstacle
	CloseFieldCM float64 // ranger distance that forces reversing

	LineFollowing bool
}

func clampSpeed(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func (c *NavConfig) normalize() {
	if c.TickInterval == 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.StateTimeout == 0 {
		c.StateTimeout = 3 * time.Second
	}
	if c.MaxObstacleTime == 0 {
		c.MaxObstacleTime = 10 * time.Second
	}
	if c.BaseSpeed == 0 {
		c.BaseSpeed = 150
	}
	if c.TurnSpeed == 0 {
		c.TurnSpeed = 120
	}
	if c.AvoidSpeed == 0 {
		c.AvoidSpeed = 100
	}
	if c.ReverseSpeed == 0 {
		c.ReverseSpeed = 100
	}
	if c.NearFieldCM == 0 {
		c.NearFieldCM = 20
	}
	if c.CloseFieldCM == 0 {
		c.CloseFieldCM = 15
	}
	c.BaseSpeed = clampSpeed(c.BaseSpeed)
	c.TurnSpeed = clampSpeed(c.TurnSpeed)
	c.AvoidSpeed = clampSpeed(c.AvoidSpeed)
	c.ReverseSpeed = clampSpeed(c.ReverseSpeed)
}

// Navigator arbitrates between obstacle avoidance and line following and
// emits exactly one motor directive per tick. Collaborators are injected
// at construction so tests and the --sim mode can substitute fakes for the
// hardware glue.
type Navigator struct {
	mu       sync.Mutex
	config   NavConfig
	grid     *Grid
	sensors  SensorProvider
	motors   MotorDriver
	poses    PoseProvider
	recorder EventRecorder
	alertFn  func(Alert)

	active bool
	paused bool

	state         NavState
	stateSince    time.Time
	obstacleSince time.Time // zero while no obstacle condition holds

	// Sign of the last non-zero line position; cold start assumes the
	// line was lost to the right.
	lastLineSign int

	now func() time.Time
}

// NewNavigator wires the arbiter to its collaborators. grid, sensors, and
// motors are required; poses, recorder, and the alert callback may be nil.
func NewNavigator(config NavConfig, grid *Grid, sensors SensorProvider, motors MotorDriver, poses PoseProvider) *Navigator {
	config.normalize()
	return &Navigator{
		config:       config,
		grid:         grid,
		sensors:      sensors,
		motors:       motors,
		poses:        poses,
		state:        StateForward,
		lastLineSign: 1,
		now:          time.Now,
	}
}

// SetEventRecorder attaches a transition/alert sink.
func (n *Navigator) SetEventRecorder(r EventRecorder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recorder = r
}

// SetAlertHandler attaches the watchdog alert callback.
func (n *Navigator) SetAlertHandler(fn func(Alert)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alertFn = fn
}

// Start activates the navigator, resetting the state machine to Forward
// and clearing all timers. No-op when already active.
func (n *Navigator) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.active {
		return
	}
	n.active = true
	n.paused = false
	n.state = StateForward
	n.stateSince = n.now()
	n.obstacleSince = time.Time{}
	n.lastLineSign = 1
	log.Println("[NAV] started")
	if n.recorder != nil {
		n.recorder.RecordTransition(StateStop, StateForward, "mode started")
	}
}

// Stop deactivates the navigator and halts the motors. Idempotent.
func (n *Navigator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active {
		return
	}
	prev := n.state
	n.active = false
	n.paused = false
	n.state = StateStop
	n.motors.Stop()
	log.Println("[NAV] stopped")
	if n.recorder != nil && prev != StateStop {
		n.recorder.RecordTransition(prev, StateStop, "mode stopped")
	}
}

// Pause halts the motors and suspends ticking without losing the active
// mode. No-op unless active and not already paused.
func (n *Navigator) Pause() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active || n.paused {
		return
	}
	n.paused = true
	n.state = StateStop
	n.motors.Stop()
	log.Println("[NAV] paused")
}

// Resume continues from a pause, restarting from Forward.
func (n *Navigator) Resume() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active || !n.paused {
		return
	}
	n.paused = false
	n.state = StateForward
	n.stateSince = n.now()
	log.Println("[NAV] resumed")
}

// Active reports whether the navigator is running (possibly paused).
func (n *Navigator) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

// Paused reports whether ticking is suspended.
func (n *Navigator) Paused() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.paused
}

// State returns the current navigation state.
func (n *Navigator) State() NavState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SetLineFollowing toggles line following at runtime.
func (n *Navigator) SetLineFollowing(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.config.LineFollowing = enabled
}

// SetBaseSpeed adjusts the forward cruise speed, clamped to 0..255.
func (n *Navigator) SetBaseSpeed(speed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.config.BaseSpeed = clampSpeed(speed)
}

// NavStatus is the navigator's reportable state for the HTTP and MQTT
// surfaces.
type NavStatus struct {
	Active        bool   `json:"active"`
	Paused        bool   `json:"paused"`
	State         string `json:"state"`
	StateHeldMS   int64  `json:"stateHeldMs"`
	LineFollowing bool   `json:"lineFollowing"`
	BaseSpeed     int    `json:"baseSpeed"`
}

// Status returns a snapshot of the navigator for presentation layers.
func (n *Navigator) Status() NavStatus {
	n.mu.Lock()
	defer n.mu.Unlock()

	held := int64(0)
	if !n.stateSince.IsZero() {
		held = n.now().Sub(n.stateSince).Milliseconds()
	}
	return NavStatus{
		Active:        n.active,
		Paused:        n.paused,
		State:         n.state.String(),
		StateHeldMS:   held,
		LineFollowing: n.config.LineFollowing,
		BaseSpeed:     n.config.BaseSpeed,
	}
}

// Tick runs one sense-decide-act cycle. The caller drives it from a single
// periodic loop; Tick itself never blocks on I/O.
func (n *Navigator) Tick() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.active || n.paused {
		return
	}

	snap := n.sensors.Snapshot()
	now := n.now()

	// Feed the map before arbitration: fold every valid beam into the
	// occupancy grid, then stamp the pose cell last so the car marker is
	// not cleared by its own ray.
	if n.poses != nil && n.grid != nil {
		pose := n.poses.Pose()
		for _, beam := range snap.Beams {
			if !beam.Valid {
				continue
			}
			n.grid.IntegrateRangeReading(pose, beam.BearingOffset, beam.Distance)
		}
		n.grid.SetPose(pose)
	}

	// A negative distance is a no-echo reading, not a zero-range hit.
	rangeObstacle := snap.RangeValid && snap.RangeCM >= 0 && snap.RangeCM < n.config.NearFieldCM
	obstacle := snap.LeftProximity || snap.CenterProximity || snap.RightProximity || rangeObstacle

	if obstacle {
		if n.obstacleSince.IsZero() {
			n.obstacleSince = now
		}
	} else {
		n.obstacleSince = time.Time{}
	}

	// Watchdog: a hard ceiling regardless of avoidance attempts. The
	// window restarts after firing so a persisting obstacle alerts once
	// per interval instead of every tick.
	if obstacle && now.Sub(n.obstacleSince) > n.config.MaxObstacleTime {
		n.setState(StateStop, "prolonged obstacle", now)
		n.raiseAlert("obstacle_watchdog", "obstacle persisted past watchdog limit", now)
		n.obstacleSince = now
		n.execute()
		return
	}

	switch {
	case obstacle:
		n.setState(n.avoidState(snap), "obstacle", now)
	case n.config.LineFollowing:
		n.setState(n.lineState(snap), "line", now)
	default:
		n.setState(StateForward, "cruise", now)
	}

	// Recovery: avoidance states are never held past the timeout, so a
	// stalled sensor cannot trap the machine in a reverse/turn loop.
	if now.Sub(n.stateSince) > n.config.StateTimeout {
		switch n.state {
		case StateBackward, StateAvoidLeft, StateAvoidRight:
			n.setState(StateForward, "state timeout", now)
		}
	}

	n.execute()
}

// avoidState picks the avoidance directive from the proximity pattern.
func (n *Navigator) avoidState(snap SensorSnapshot) NavState {
	closeAhead := snap.RangeValid && snap.RangeCM >= 0 && snap.RangeCM < n.config.CloseFieldCM

	if snap.CenterProximity {
		if closeAhead {
			return StateBackward
		}
		switch {
		case snap.RightProximity && !snap.LeftProximity:
			return StateAvoidLeft
		case snap.LeftProximity && !snap.RightProximity:
			return StateAvoidRight
		default:
			// Both sides blocked, or neither side gives a hint.
			return StateBackward
		}
	}
	if snap.LeftProximity && !snap.RightProximity {
		return StateAvoidRight
	}
	if snap.RightProximity && !snap.LeftProximity {
		return StateAvoidLeft
	}
	if snap.LeftProximity && snap.RightProximity {
		return StateAvoidRight
	}
	// Ranger-only obstacle with no directional hint: back off.
	return StateBackward
}

// lineState discretizes the three line sensors into a signed position and
// maps it to a steering state. When the line is lost entirely, the search
// resumes toward the side it was last seen on.
func (n *Navigator) lineState(snap SensorSnapshot) NavState {
	var pos int
	switch {
	case snap.LineLeft && snap.LineCenter && snap.LineRight:
		pos = 0
	case snap.LineLeft && snap.LineCenter:
		pos = -1
	case snap.LineCenter && snap.LineRight:
		pos = 1
	case snap.LineLeft:
		pos = -2
	case snap.LineRight:
		pos = 2
	default:
		// None, or center alone: the line is lost.
		pos = 2 * n.lastLineSign
	}

	if pos < 0 {
		n.lastLineSign = -1
	} else if pos > 0 {
		n.lastLineSign = 1
	}

	switch {
	case pos == 0:
		return StateForward
	case pos < 0:
		return StateTurnLeft
	default:
		return StateTurnRight
	}
}

// setState commits a transition, stamping the state-entry clock and
// emitting a navigation event. No-op when the state is unchanged.
func (n *Navigator) setState(next NavState, reason string, now time.Time) {
	if next == n.state {
		return
	}
	prev := n.state
	n.state = next
	n.stateSince = now
	log.Printf("[NAV] state: %s -> %s (%s)", prev, next, reason)
	if n.recorder != nil {
		n.recorder.RecordTransition(prev, next, reason)
	}
}

func (n *Navigator) raiseAlert(kind, detail string, now time.Time) {
	log.Printf("[NAV] ALERT %s: %s", kind, detail)
	if n.recorder != nil {
		n.recorder.RecordAlert(kind, detail)
	}
	if n.alertFn != nil {
		n.alertFn(Alert{Kind: kind, Detail: detail, State: n.state, At: now})
	}
}

// execute issues exactly one motor directive for the committed state.
func (n *Navigator) execute() {
	switch n.state {
	case StateForward:
		n.motors.Forward(n.config.BaseSpeed)
	case StateTurnLeft:
		n.motors.TurnLeft(n.config.TurnSpeed)
	case StateTurnRight:
		n.motors.TurnRight(n.config.TurnSpeed)
	case StateBackward:
		n.motors.Backward(n.config.ReverseSpeed)
	case StateAvoidLeft:
		n.motors.TurnLeft(n.config.AvoidSpeed)
	case StateAvoidRight:
		n.motors.TurnRight(n.config.AvoidSpeed)
	case StateStop:
		n.motors.Stop()
	}
}
