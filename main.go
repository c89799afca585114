package main

import (
	"flag"
	"fmt"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	dataDir    = flag.String("data-dir", ".", "Directory containing config, map data, and event database")
	mapFile    = flag.String("map-file", "", "Override map data file (default from config)")
	initConfig = flag.Bool("init-config", false, "Write a default config.yaml and exit")
	statsOnly  = flag.Bool("stats", false, "Print map statistics and exit")
	renderOnly = flag.Bool("render", false, "Render the saved map to a file and exit")
	outputFile = flag.String("output", "map.png", "Output file for --render mode")
	format     = flag.String("format", "png", "Render format: png, svg, or geojson")
	simMode    = flag.Bool("sim", false, "Run with a simulated arena instead of live telemetry")
	mqttMode   = flag.Bool("mqtt", false, "Run MQTT service mode for odometry and remote control")
	httpMode   = flag.Bool("http", false, "Enable HTTP server for map and control endpoints")
	httpPort   = flag.Int("http-port", 0, "HTTP server port (overrides config, default 8080)")
)

// AppOptions carries parsed CLI flags into the App.
type AppOptions struct {
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

func main() {
	flag.Parse()
	fmt.Printf("yahmi-rover version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		DataDir:      *dataDir,
		ConfigFile:   *configFile,
		MapFile:      *mapFile,
		OutputFile:   *outputFile,
		RenderFormat: *format,
		HttpPort:     *httpPort,
		MqttMode:     *mqttMode,
		HttpMode:     *httpMode,
		SimMode:      *simMode,
	})

	if *initConfig {
		app.RunInitConfig()
		return
	}

	if *statsOnly {
		app.RunStats()
		return
	}

	if *renderOnly {
		app.RunRender()
		return
	}

	if *mqttMode || *httpMode || *simMode {
		app.RunService()
		return
	}

	fmt.Println("yahmi rover companion service")
	fmt.Println("Use --init-config to write a default config.yaml")
	fmt.Println("Use --stats to summarize the saved map")
	fmt.Println("Use --render to export the saved map (png, svg, or geojson)")
	fmt.Println("Use --sim to run against a simulated arena")
	fmt.Println("Use --mqtt to run MQTT service mode")
	fmt.Println("Use --http to run the HTTP server")
	fmt.Println("Use --mqtt --http to run both together")
	fmt.Println("\nConfiguration:")
	fmt.Println("  config.yaml - broker, grid, and navigation settings")
	fmt.Println("  map-data.json - persisted occupancy map")
}
