package main

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HybridzDynamics/yahmi-security-rover/rover"
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *rover.Config
	Grid       *rover.Grid
	Navigator  *rover.Navigator
	MQTTClient *rover.MQTTClient
	Publisher  *rover.Publisher
	Events     *rover.EventStore
	Queue      *rover.CommandQueue
	Hub        *wsHub

	// Sensor/motor/pose bindings. In --sim mode these belong to the
	// simulated world; in service mode the pose feed is driven by the
	// MQTT odometry subscription.
	Sensors rover.SensorProvider
	Motors  rover.MotorDriver
	Poses   *rover.SimPose
	World   *rover.SimWorld

	// CLI Flags (effectively dependencies)
	DataDir      string
	ConfigFile   string
	MapFile      string
	OutputFile   string
	RenderFormat string
	HttpPort     int
	MqttMode     bool
	HttpMode     bool
	SimMode      bool
}

// NewApp creates a new App instance
func NewApp() *App {
	queue := rover.NewCommandQueue()
	return &App{
		Queue: queue,
		Hub:   newWSHub(queue),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.DataDir = opts.DataDir
	a.ConfigFile = opts.ConfigFile
	a.MapFile = opts.MapFile
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.SimMode = opts.SimMode
}

// resolvePath resolves a file relative to data-dir unless it is already
// absolute or data-dir is the current directory.
func (a *App) resolvePath(name string) string {
	if a.DataDir == "." || a.DataDir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.DataDir, name)
}

// RunInitConfig writes a default config.yaml and exits.
func (a *App) RunInitConfig() {
	path := a.resolvePath(a.ConfigFile)
	if _, err := os.Stat(path); err == nil {
		log.Fatalf("Refusing to overwrite existing config at %s", path)
	}
	if err := rover.SaveConfig(path, rover.DefaultConfig()); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
}

// RunStats loads the saved map and prints a summary.
func (a *App) RunStats() {
	path := a.resolvePath(a.mapFileName())
	doc, err := rover.LoadMapFile(path)
	if err != nil {
		log.Fatalf("Failed to load map file %s: %v", path, err)
	}
	if doc == nil {
		log.Fatalf("No map data found at %s", path)
	}

	grid, err := rover.NewGrid(doc.Config)
	if err != nil {
		log.Fatalf("Invalid grid config in %s: %v", path, err)
	}
	if err := grid.Restore(doc); err != nil {
		log.Fatalf("Failed to restore map from %s: %v", path, err)
	}

	stats := grid.Stats()
	pose := grid.Pose()

	fmt.Printf("=== %s ===\n", path)
	fmt.Printf("Grid: %dx%d cells @ %.2fm\n", stats.Width, stats.Height, doc.Config.CellSize)
	fmt.Printf("Visited: %d cells (%.1f%% coverage)\n", stats.VisitedCells, stats.Coverage)
	fmt.Printf("Obstacles: %d cells, Free: %d cells\n", stats.ObstacleCells, stats.FreeCells)
	fmt.Printf("Waypoints: %d\n", stats.Waypoints)
	fmt.Printf("Car Position: (%.2f, %.2f) heading %.0f°\n", pose.X, pose.Y, pose.Heading*180/math.Pi)
}

// RunRender loads the saved map and renders it to a file, then exits.
func (a *App) RunRender() {
	path := a.resolvePath(a.mapFileName())
	doc, err := rover.LoadMapFile(path)
	if err != nil {
		log.Fatalf("Failed to load map file %s: %v", path, err)
	}
	if doc == nil {
		log.Fatalf("No map data found at %s", path)
	}

	out := a.OutputFile
	switch a.RenderFormat {
	case "png", "":
		renderer := rover.NewMapRenderer(doc)
		renderer.Labels = true
		if err := renderer.SavePNG(out); err != nil {
			log.Fatalf("Failed to render PNG: %v", err)
		}
	case "svg":
		f, err := os.Create(out)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", out, err)
		}
		defer f.Close()
		if err := rover.NewVectorRenderer(doc).RenderToSVG(f); err != nil {
			log.Fatalf("Failed to render SVG: %v", err)
		}
	case "geojson":
		f, err := os.Create(out)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", out, err)
		}
		defer f.Close()
		if err := rover.WriteGeoJSON(f, doc); err != nil {
			log.Fatalf("Failed to export GeoJSON: %v", err)
		}
	default:
		log.Fatalf("Unknown render format %q (want png, svg, or geojson)", a.RenderFormat)
	}

	fmt.Printf("Rendered %s (%s) from %s\n", out, a.RenderFormat, path)
}

// mapFileName picks the map file: CLI flag first, then config, then default.
func (a *App) mapFileName() string {
	if a.MapFile != "" {
		return a.MapFile
	}
	if a.Config != nil && a.Config.MapFile != "" {
		return a.Config.MapFile
	}
	return rover.DefaultMapFile
}

// RunService runs the long-lived rover service: MQTT telemetry, the HTTP
// surface, the websocket stream, and the navigation tick loop.
func (a *App) RunService() {
	fmt.Println("Starting yahmi rover service...")

	// 1. Load config.yaml; fall back to defaults when absent
	configPath := a.resolvePath(a.ConfigFile)
	config := rover.DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		config, err = rover.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v (looked at %s)", err, configPath)
		}
		log.Printf("Loaded config from %s", configPath)
	} else {
		log.Printf("No config at %s, using defaults", configPath)
	}
	if a.HttpPort != 0 {
		config.HTTPPort = a.HttpPort
	}
	a.Config = config

	// 2. Build the occupancy grid and restore the persisted map
	grid, err := rover.NewGrid(config.Grid)
	if err != nil {
		log.Fatalf("Invalid grid configuration: %v", err)
	}
	a.Grid = grid

	mapPath := a.resolvePath(a.mapFileName())
	if doc, err := rover.LoadMapFile(mapPath); err != nil {
		log.Printf("Warning: failed to load map file %s: %v", mapPath, err)
	} else if doc != nil {
		if err := grid.Restore(doc); err != nil {
			log.Printf("Warning: failed to restore map from %s: %v", mapPath, err)
		} else {
			stats := grid.Stats()
			log.Printf("[STORE] Restored map from %s (%d visited cells, %d waypoints)",
				mapPath, stats.VisitedCells, stats.Waypoints)
		}
	}

	// 3. Open the event store and begin a session
	if config.EventDB != "" {
		store, err := rover.OpenEventStore(a.resolvePath(config.EventDB))
		if err != nil {
			log.Printf("Warning: event store unavailable: %v", err)
		} else {
			a.Events = store
			if id, err := store.BeginSession(); err != nil {
				log.Printf("[STORE] Failed to begin session: %v", err)
			} else {
				log.Printf("[STORE] Session %s started", id)
			}
		}
	}

	// 4. Bind sensors, motors, and the pose feed. In --sim mode these
	// belong to the simulated world. In service mode the sensor and
	// odometry feeds are filled by the MQTT subscriptions and motor
	// directives flow back out over the motor topic.
	var sensorHandler rover.SensorHandler
	if a.SimMode {
		a.World = rover.NewSimWorld(float64(config.Grid.Width) * config.Grid.CellSize / 2)
		a.Sensors = a.World.Sensors
		a.Motors = a.World.Motors
		a.Poses = a.World.Poses
		fmt.Println("Simulation mode: closed arena, synthesized sensors")
	} else {
		feed := rover.NewSimSensors()
		a.Sensors = feed
		a.Poses = rover.NewSimPose(rover.Pose{})
		if a.MqttMode {
			sensorHandler = feed.Set
		} else {
			log.Printf("[NAV] Warning: no sensor feed without --mqtt; navigator sees an empty world")
		}
	}

	// 5. Start MQTT if enabled
	if a.MqttMode {
		poseHandler := func(pose rover.Pose) {
			a.Poses.Set(pose)
		}
		mqttClient, err := rover.InitMQTT(config.MQTT, poseHandler, sensorHandler, a.Queue.Push)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = mqttClient

		if mqttClient == nil {
			log.Fatal("MQTT broker not configured (set mqtt.broker in config.yaml or MQTT_BROKER)")
		}

		a.Publisher = rover.NewPublisher(mqttClient.GetClient(), config.MQTT.PublishPrefix)
		if !a.SimMode {
			a.Motors = rover.NewMotorPublisher(a.Publisher)
		}
		fmt.Println("MQTT telemetry publisher initialized")
	}
	if a.Motors == nil {
		a.Motors = rover.NewSimMotors()
	}

	// 6. Build the navigator
	nav := rover.NewNavigator(config.Navigation.NavConfig(), grid, a.Sensors, a.Motors, a.Poses)
	if a.Events != nil {
		nav.SetEventRecorder(a.Events)
	}
	nav.SetAlertHandler(func(alert rover.Alert) {
		log.Printf("[NAV] ALERT %s: %s", alert.Kind, alert.Detail)
		if a.Publisher != nil {
			if err := a.Publisher.PublishAlert(alert); err != nil {
				log.Printf("[MQTT] Error publishing alert: %v", err)
			}
		}
		a.Hub.BroadcastAlert(alert)
	})
	a.Navigator = nav

	// 7. Start HTTP server if enabled
	if a.HttpMode {
		httpServer := newHTTPServer(grid, nav, a.Events, a.Queue, a.Hub)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", config.HTTPPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	// 8. Print service info
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		if config.MQTT.PoseTopic != "" {
			fmt.Printf("  Odometry topic: %s\n", config.MQTT.PoseTopic)
		}
		if config.MQTT.SensorTopic != "" {
			fmt.Printf("  Sensor topic: %s\n", config.MQTT.SensorTopic)
		}
		if config.MQTT.CommandTopic != "" {
			fmt.Printf("  Command topic: %s\n", config.MQTT.CommandTopic)
		}
		prefix := config.MQTT.PublishPrefix
		if prefix == "" {
			prefix = "rover"
		}
		fmt.Printf("  Publishing to: %s/position, %s/state, %s/alerts, %s/map/stats, %s/motors\n",
			prefix, prefix, prefix, prefix, prefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", config.HTTPPort)
		fmt.Println("  GET  /health           - Health check")
		fmt.Println("  GET  /api/map          - Map document JSON")
		fmt.Println("  GET  /api/map.png      - Raster occupancy map")
		fmt.Println("  GET  /api/map.svg      - Vector occupancy map")
		fmt.Println("  GET  /api/map.geojson  - Obstacle/waypoint GeoJSON")
		fmt.Println("  GET  /api/stats        - Coverage statistics")
		fmt.Println("  GET  /api/position     - Current car position")
		fmt.Println("  GET  /api/waypoints    - Waypoints (POST adds, DELETE removes)")
		fmt.Println("  GET  /api/navigation   - Navigator status")
		fmt.Println("  POST /api/control      - Queue a control command")
		fmt.Println("  GET  /api/events       - Recent transitions and alerts")
		fmt.Println("  GET  /ws               - Live telemetry stream")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	// 9. Run the tick loop until interrupted
	a.runLoop(mapPath)

	// 10. Shut down: persist the map, close the session, drop MQTT
	fmt.Println("\nShutting down service...")
	if err := rover.SaveMapFile(mapPath, grid); err != nil {
		log.Printf("[STORE] Error saving map on shutdown: %v", err)
	} else {
		log.Printf("[STORE] Map saved to %s", mapPath)
	}
	if a.Events != nil {
		if err := a.Events.EndSession(); err != nil {
			log.Printf("[STORE] Error ending session: %v", err)
		}
		if err := a.Events.Close(); err != nil {
			log.Printf("[STORE] Error closing event store: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}

// runLoop drives the navigation tick, autosave, and telemetry until an
// interrupt arrives.
func (a *App) runLoop(mapPath string) {
	interval := a.Config.Navigation.NavConfig().TickInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	autosaveInterval := time.Duration(a.Config.AutosaveIntervalMS) * time.Millisecond
	if autosaveInterval <= 0 {
		autosaveInterval = 30 * time.Second
	}
	autosave := time.NewTicker(autosaveInterval)
	defer autosave.Stop()

	// Telemetry is published at 1/5 of the tick rate
	const telemetryDivisor = 5
	tickCount := 0

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if a.World != nil {
				a.World.Step(interval)
			}
			a.applyQueuedCommands(mapPath)
			a.Navigator.Tick()

			tickCount++
			if tickCount%telemetryDivisor == 0 {
				a.publishTelemetry()
			}

		case <-autosave.C:
			if err := rover.SaveMapFile(mapPath, a.Grid); err != nil {
				log.Printf("[STORE] Autosave failed: %v", err)
			}

		case <-sigChan:
			return
		}
	}
}

// applyQueuedCommands drains the command queue and dispatches each command.
func (a *App) applyQueuedCommands(mapPath string) {
	if dropped := a.Queue.Dropped(); dropped > 0 {
		log.Printf("[NAV] Command queue overflow: %d commands dropped", dropped)
	}
	for _, cmd := range a.Queue.Drain() {
		a.dispatch(cmd, mapPath)
	}
}

func (a *App) dispatch(cmd rover.Command, mapPath string) {
	switch cmd.Type {
	case rover.CmdStart:
		a.Navigator.Start()
	case rover.CmdStop:
		a.Navigator.Stop()
	case rover.CmdPause:
		a.Navigator.Pause()
	case rover.CmdResume:
		a.Navigator.Resume()
	case rover.CmdEmergencyStop:
		a.Navigator.Stop()
		a.Motors.Stop()
		if a.Events != nil {
			a.Events.RecordAlert("emergency_stop", "operator emergency stop")
		}
		log.Printf("[NAV] EMERGENCY STOP")
	case rover.CmdSetSpeed:
		a.Navigator.SetBaseSpeed(cmd.Speed)
	case rover.CmdSetLineFollowing:
		a.Navigator.SetLineFollowing(cmd.Enabled)
	case rover.CmdAddWaypoint:
		if _, err := a.Grid.AddWaypoint(cmd.X, cmd.Y, cmd.Name); err != nil {
			log.Printf("[NAV] Error adding waypoint: %v", err)
		}
	case rover.CmdRemoveWaypoint:
		if !a.Grid.RemoveWaypoint(cmd.WaypointID) {
			log.Printf("[NAV] Waypoint %d not found", cmd.WaypointID)
		}
	case rover.CmdClearMap:
		a.Grid.Clear()
		log.Printf("[NAV] Map cleared")
	case rover.CmdSaveMap:
		if err := rover.SaveMapFile(mapPath, a.Grid); err != nil {
			log.Printf("[STORE] Error saving map: %v", err)
		} else {
			log.Printf("[STORE] Map saved to %s", mapPath)
		}
	}
}

// publishTelemetry pushes the current position, navigator status, and map
// statistics to MQTT and the websocket clients.
func (a *App) publishTelemetry() {
	pose := a.Grid.Pose()
	status := a.Navigator.Status()
	stats := a.Grid.Stats()

	if a.Publisher != nil {
		if err := a.Publisher.PublishPosition(pose); err != nil {
			log.Printf("[MQTT] Error publishing position: %v", err)
		}
		if err := a.Publisher.PublishState(status); err != nil {
			log.Printf("[MQTT] Error publishing state: %v", err)
		}
		if err := a.Publisher.PublishStats(stats); err != nil {
			log.Printf("[MQTT] Error publishing stats: %v", err)
		}
	}

	a.Hub.BroadcastTelemetry(pose, status, stats)
}
