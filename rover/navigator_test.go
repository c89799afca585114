package rover

import (
	"testing"
	"time"
)

// navFixture bundles a navigator with fake collaborators and a manual
// clock.
type navFixture struct {
	nav     *Navigator
	sensors *SimSensors
	motors  *SimMotors
	poses   *SimPose
	grid    *Grid
	clock   time.Time
}

func newNavFixture(t *testing.T, config NavConfig) *navFixture {
	t.Helper()
	f := &navFixture{
		sensors: NewSimSensors(),
		motors:  NewSimMotors(),
		poses:   NewSimPose(Pose{}),
		grid:    newTestGrid(t),
		clock:   time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	f.nav = NewNavigator(config, f.grid, f.sensors, f.motors, f.poses)
	f.nav.now = func() time.Time { return f.clock }
	return f
}

func (f *navFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *navFixture) tick(snap SensorSnapshot) {
	f.sensors.Set(snap)
	f.nav.Tick()
}

// transitionLog records transitions and alerts in memory.
type transitionLog struct {
	transitions []string
	alerts      []string
}

func (l *transitionLog) RecordTransition(from, to NavState, reason string) {
	l.transitions = append(l.transitions, from.String()+"->"+to.String())
}

func (l *transitionLog) RecordAlert(kind, detail string) {
	l.alerts = append(l.alerts, kind)
}

func TestNavigator_LifecycleGatesTicks(t *testing.T) {
	f := newNavFixture(t, NavConfig{})

	// Inactive: ticks do nothing.
	f.tick(SensorSnapshot{})
	if got := f.motors.Last(); got.Directive != "" {
		t.Fatalf("Expected no directive before Start, got %+v", got)
	}

	f.nav.Start()
	if !f.nav.Active() {
		t.Fatal("Expected active after Start")
	}
	f.tick(SensorSnapshot{})
	if got := f.motors.Last(); got.Directive != "forward" {
		t.Errorf("Expected forward cruise, got %+v", got)
	}

	// Paused: motors stop, ticks are suppressed, mode survives.
	f.nav.Pause()
	if got := f.motors.Last(); got.Directive != "stop" {
		t.Errorf("Expected stop on pause, got %+v", got)
	}
	before := len(f.motors.History())
	f.tick(SensorSnapshot{})
	if len(f.motors.History()) != before {
		t.Error("Expected no directive while paused")
	}
	if !f.nav.Active() || !f.nav.Paused() {
		t.Error("Expected active+paused state")
	}

	f.nav.Resume()
	f.tick(SensorSnapshot{})
	if got := f.motors.Last(); got.Directive != "forward" {
		t.Errorf("Expected forward after resume, got %+v", got)
	}

	f.nav.Stop()
	if got := f.motors.Last(); got.Directive != "stop" {
		t.Errorf("Expected stop, got %+v", got)
	}
	// Idempotent.
	f.nav.Stop()
	f.nav.Resume()
	if f.nav.Active() {
		t.Error("Resume must not reactivate a stopped navigator")
	}
}

func TestNavigator_CenterObstacleCloseRangeBacksOff(t *testing.T) {
	f := newNavFixture(t, NavConfig{})
	f.nav.Start()

	// Center blocked and the ranger inside the close field forces reverse.
	f.tick(SensorSnapshot{CenterProximity: true, RangeCM: 10, RangeValid: true})
	if f.nav.State() != StateBackward {
		t.Errorf("Expected backward, got %v", f.nav.State())
	}
	if got := f.motors.Last(); got.Directive != "backward" {
		t.Errorf("Expected backward directive, got %+v", got)
	}
}

func TestNavigator_NegativeRangeIsNoObstacle(t *testing.T) {
	f := newNavFixture(t, NavConfig{})
	f.nav.Start()

	// A no-echo reading comes back as a negative distance with the valid
	// flag still set. That is not an obstacle.
	f.tick(SensorSnapshot{RangeCM: -1, RangeValid: true})
	if f.nav.State() != StateForward {
		t.Errorf("Expected forward on negative range, got %v", f.nav.State())
	}
	if got := f.motors.Last(); got.Directive != "forward" {
		t.Errorf("Expected forward directive, got %+v", got)
	}

	// Same reading with center blocked must not count as a close-range
	// hit: the side pattern still picks the avoid direction.
	f.tick(SensorSnapshot{CenterProximity: true, RightProximity: true, RangeCM: -1, RangeValid: true})
	if f.nav.State() != StateAvoidLeft {
		t.Errorf("Expected avoid_left, got %v", f.nav.State())
	}
}

func TestNavigator_AvoidSteering(t *testing.T) {
	cases := []struct {
		name string
		snap SensorSnapshot
		want NavState
	}{
		{
			"center and right blocked turns left",
			SensorSnapshot{CenterProximity: true, RightProximity: true, RangeCM: 30, RangeValid: true},
			StateAvoidLeft,
		},
		{
			"center and left blocked turns right",
			SensorSnapshot{CenterProximity: true, LeftProximity: true, RangeCM: 30, RangeValid: true},
			StateAvoidRight,
		},
		{
			"all three blocked backs off",
			SensorSnapshot{CenterProximity: true, LeftProximity: true, RightProximity: true, RangeCM: 30, RangeValid: true},
			StateBackward,
		},
		{
			"left only veers right",
			SensorSnapshot{LeftProximity: true},
			StateAvoidRight,
		},
		{
			"right only veers left",
			SensorSnapshot{RightProximity: true},
			StateAvoidLeft,
		},
		{
			"both sides clear center veers right",
			SensorSnapshot{LeftProximity: true, RightProximity: true},
			StateAvoidRight,
		},
		{
			"ranger only backs off",
			SensorSnapshot{RangeCM: 18, RangeValid: true},
			StateBackward,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newNavFixture(t, NavConfig{})
			f.nav.Start()
			f.tick(tc.snap)
			if got := f.nav.State(); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNavigator_LineFollowingTable(t *testing.T) {
	cases := []struct {
		name string
		snap SensorSnapshot
		want NavState
	}{
		{"all three on line", SensorSnapshot{LineLeft: true, LineCenter: true, LineRight: true}, StateForward},
		{"center only reads as lost line", SensorSnapshot{LineCenter: true}, StateTurnRight},
		{"drifting right (left+center)", SensorSnapshot{LineLeft: true, LineCenter: true}, StateTurnLeft},
		{"drifting left (center+right)", SensorSnapshot{LineCenter: true, LineRight: true}, StateTurnRight},
		{"far right (left only)", SensorSnapshot{LineLeft: true}, StateTurnLeft},
		{"far left (right only)", SensorSnapshot{LineRight: true}, StateTurnRight},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newNavFixture(t, NavConfig{LineFollowing: true})
			f.nav.Start()
			f.tick(tc.snap)
			if got := f.nav.State(); got != tc.want {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNavigator_LostLineSearchesLastSeenSide(t *testing.T) {
	f := newNavFixture(t, NavConfig{LineFollowing: true})
	f.nav.Start()

	// Line drifts off to the left sensor, then disappears: the search
	// turns toward the left.
	f.tick(SensorSnapshot{LineLeft: true})
	if f.nav.State() != StateTurnLeft {
		t.Fatalf("Expected turn_left while line under left sensor, got %v", f.nav.State())
	}
	f.tick(SensorSnapshot{})
	if f.nav.State() != StateTurnLeft {
		t.Errorf("Expected search toward last seen side (left), got %v", f.nav.State())
	}

	// A center-only reading carries no side information and keeps the
	// search pointed at the last seen side.
	f.tick(SensorSnapshot{LineCenter: true})
	if f.nav.State() != StateTurnLeft {
		t.Errorf("Expected center-only to continue the left search, got %v", f.nav.State())
	}

	// Cold start: no line ever seen searches right.
	f2 := newNavFixture(t, NavConfig{LineFollowing: true})
	f2.nav.Start()
	f2.tick(SensorSnapshot{})
	if f2.nav.State() != StateTurnRight {
		t.Errorf("Expected cold-start search to the right, got %v", f2.nav.State())
	}
}

func TestNavigator_LineFollowingDisabledCruises(t *testing.T) {
	f := newNavFixture(t, NavConfig{})
	f.nav.Start()

	f.tick(SensorSnapshot{LineLeft: true})
	if f.nav.State() != StateForward {
		t.Errorf("Expected cruise with line following off, got %v", f.nav.State())
	}

	f.nav.SetLineFollowing(true)
	f.tick(SensorSnapshot{LineLeft: true})
	if f.nav.State() != StateTurnLeft {
		t.Errorf("Expected line steering after enable, got %v", f.nav.State())
	}
}

func TestNavigator_ObstacleBeatsLine(t *testing.T) {
	f := newNavFixture(t, NavConfig{LineFollowing: true})
	f.nav.Start()

	// Line says turn right, proximity says avoid: avoidance wins.
	f.tick(SensorSnapshot{LineRight: true, LeftProximity: true})
	if f.nav.State() != StateAvoidRight {
		t.Errorf("Expected avoidance to take priority, got %v", f.nav.State())
	}
}

func TestNavigator_StateTimeoutRecovers(t *testing.T) {
	f := newNavFixture(t, NavConfig{})
	f.nav.Start()

	f.tick(SensorSnapshot{LeftProximity: true})
	if f.nav.State() != StateAvoidRight {
		t.Fatalf("Expected avoid_right, got %v", f.nav.State())
	}

	// Sensor stuck for just past the timeout: the machine forces Forward
	// instead of circling forever.
	f.advance(3100 * time.Millisecond)
	f.tick(SensorSnapshot{LeftProximity: true})
	if f.nav.State() != StateForward {
		t.Errorf("Expected forced forward after state timeout, got %v", f.nav.State())
	}
}

func TestNavigator_ObstacleWatchdogStopsAndAlerts(t *testing.T) {
	f := newNavFixture(t, NavConfig{})
	f.nav.Start()

	rec := &transitionLog{}
	f.nav.SetEventRecorder(rec)
	var alerts []Alert
	f.nav.SetAlertHandler(func(a Alert) { alerts = append(alerts, a) })

	blocked := SensorSnapshot{CenterProximity: true, RangeCM: 10, RangeValid: true}
	f.tick(blocked)

	// Still blocked a hair past the watchdog ceiling.
	f.advance(10001 * time.Millisecond)
	f.tick(blocked)

	if f.nav.State() != StateStop {
		t.Errorf("Expected stop after watchdog, got %v", f.nav.State())
	}
	if got := f.motors.Last(); got.Directive != "stop" {
		t.Errorf("Expected stop directive, got %+v", got)
	}
	if len(alerts) != 1 || alerts[0].Kind != "obstacle_watchdog" {
		t.Fatalf("Expected one obstacle_watchdog alert, got %+v", alerts)
	}
	if len(rec.alerts) != 1 {
		t.Errorf("Expected alert recorded, got %v", rec.alerts)
	}

	// The next tick inside a fresh window must not re-alert.
	f.advance(100 * time.Millisecond)
	f.tick(blocked)
	if len(alerts) != 1 {
		t.Errorf("Expected no repeat alert, got %d", len(alerts))
	}

	// Obstacle clears: normal operation resumes.
	f.advance(100 * time.Millisecond)
	f.tick(SensorSnapshot{})
	if f.nav.State() != StateForward {
		t.Errorf("Expected recovery to forward, got %v", f.nav.State())
	}
}

func TestNavigator_TransitionsRecorded(t *testing.T) {
	f := newNavFixture(t, NavConfig{})
	rec := &transitionLog{}
	f.nav.SetEventRecorder(rec)

	f.nav.Start()
	f.tick(SensorSnapshot{LeftProximity: true})
	f.nav.Stop()

	want := []string{"stop->forward", "forward->avoid_right", "avoid_right->stop"}
	if len(rec.transitions) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), rec.transitions)
	}
	for i, w := range want {
		if rec.transitions[i] != w {
			t.Errorf("Transition %d: expected %s, got %s", i, w, rec.transitions[i])
		}
	}
}

func TestNavigator_TickFeedsGrid(t *testing.T) {
	f := newNavFixture(t, NavConfig{})
	f.nav.Start()

	f.poses.Set(Pose{X: 0, Y: 0, Heading: 0})
	f.tick(SensorSnapshot{
		Beams: []RangeBeam{
			{BearingOffset: 0, Distance: 3.0, Valid: true},
			{BearingOffset: 1.0, Distance: 9.0, Valid: false}, // ignored
		},
	})

	if got := f.grid.ClassificationAt(8, 5); got != Obstacle {
		t.Errorf("Expected beam endpoint mapped as obstacle, got %v", got)
	}
	cell, _ := f.grid.CellAt(5, 5)
	if cell.Class != CarMark || !cell.Visited {
		t.Errorf("Expected pose cell marked, got %+v", cell)
	}
}

func TestNavigator_SpeedConfiguration(t *testing.T) {
	f := newNavFixture(t, NavConfig{BaseSpeed: 200})
	f.nav.Start()

	f.tick(SensorSnapshot{})
	if got := f.motors.Last(); got.Speed != 200 {
		t.Errorf("Expected base speed 200, got %d", got.Speed)
	}

	f.nav.SetBaseSpeed(999) // clamped
	f.tick(SensorSnapshot{})
	if got := f.motors.Last(); got.Speed != 255 {
		t.Errorf("Expected clamp to 255, got %d", got.Speed)
	}

	status := f.nav.Status()
	if status.BaseSpeed != 255 || !status.Active || status.State != "forward" {
		t.Errorf("Status mismatch: %+v", status)
	}
}
