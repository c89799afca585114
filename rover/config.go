package rover

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MQTTSettings configures the telemetry transport. Broker and credentials
// can also come from MQTT_BROKER / MQTT_USERNAME / MQTT_PASSWORD env vars,
// which take precedence over the file.
type MQTTSettings struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"clientId"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	PublishPrefix string `yaml:"publishPrefix"` // default "rover"
	PoseTopic     string `yaml:"poseTopic"`     // external odometry source
	SensorTopic   string `yaml:"sensorTopic"`   // fused sensor snapshots from the car
	CommandTopic  string `yaml:"commandTopic"`  // inbound control commands
}

// NavigationSettings is the YAML form of NavConfig; durations are plain
// millisecond integers in the file.
type NavigationSettings struct {
	TickIntervalMS    int `yaml:"tickIntervalMs"`
	StateTimeoutMS    int `yaml:"stateTimeoutMs"`
	MaxObstacleTimeMS int `yaml:"maxObstacleTimeMs"`

	BaseSpeed    int `yaml:"baseSpeed"`
	TurnSpeed    int `yaml:"turnSpeed"`
	AvoidSpeed   int `yaml:"avoidSpeed"`
	ReverseSpeed int `yaml:"reverseSpeed"`

	NearFieldCM  float64 `yaml:"nearFieldCm"`
	CloseFieldCM float64 `yaml:"closeFieldCm"`

	LineFollowing bool `yaml:"lineFollowing"`
}

// NavConfig converts the YAML settings to the navigator's config type.
func (s NavigationSettings) NavConfig() NavConfig {
	return NavConfig{
		TickInterval:    time.Duration(s.TickIntervalMS) * time.Millisecond,
		StateTimeout:    time.Duration(s.StateTimeoutMS) * time.Millisecond,
		MaxObstacleTime: time.Duration(s.MaxObstacleTimeMS) * time.Millisecond,
		BaseSpeed:       s.BaseSpeed,
		TurnSpeed:       s.TurnSpeed,
		AvoidSpeed:      s.AvoidSpeed,
		ReverseSpeed:    s.ReverseSpeed,
		NearFieldCM:     s.NearFieldCM,
		CloseFieldCM:    s.CloseFieldCM,
		LineFollowing:   s.LineFollowing,
	}
}

// Config is the rover service configuration.
type Config struct {
	MQTT       MQTTSettings       `yaml:"mqtt"`
	Grid       GridConfig         `yaml:"grid"`
	Navigation NavigationSettings `yaml:"navigation"`

	HTTPPort           int    `yaml:"httpPort"`
	MapFile            string `yaml:"mapFile"`
	EventDB            string `yaml:"eventDb"`
	AutosaveIntervalMS int    `yaml:"autosaveIntervalMs"`
}

// DefaultConfig returns a runnable configuration matching the stock rover:
// 20m x 20m map at 10 cm cells, 10 Hz tick, line following on.
func DefaultConfig() *Config {
	return &Config{
		Grid: DefaultGridConfig(),
		Navigation: NavigationSettings{
			LineFollowing: true,
		},
		HTTPPort:           8080,
		MapFile:            DefaultMapFile,
		EventDB:            "rover-events.db",
		AutosaveIntervalMS: 30000,
	}
}

// LoadConfig reads and validates the YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if config.Grid.Width <= 0 || config.Grid.Height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", config.Grid.Width, config.Grid.Height)
	}
	if config.Grid.CellSize <= 0 {
		return nil, fmt.Errorf("grid.cellSize must be positive, got %g", config.Grid.CellSize)
	}
	if config.HTTPPort <= 0 || config.HTTPPort > 65535 {
		return nil, fmt.Errorf("httpPort %d out of range", config.HTTPPort)
	}
	if (config.MQTT.PoseTopic != "" || config.MQTT.SensorTopic != "") &&
		config.MQTT.Broker == "" && os.Getenv("MQTT_BROKER") == "" {
		return nil, fmt.Errorf("mqtt subscription topics set but no broker configured")
	}

	return config, nil
}

// SaveConfig writes the configuration back to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
