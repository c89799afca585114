package rover

import (
	"encoding/json"
	"fmt"
)

// CommandType enumerates the control commands accepted over MQTT and HTTP.
// The wire form is a JSON object with a "type" discriminator; decoding maps
// it onto this tagged variant so dispatch is an exhaustive switch instead
// of string matching sprinkled through the handlers.
type CommandType int

const (
	CmdStart CommandType = iota
	CmdStop
	CmdPause
	CmdResume
	CmdEmergencyStop
	CmdSetSpeed
	CmdSetLineFollowing
	CmdAddWaypoint
	CmdRemoveWaypoint
	CmdClearMap
	CmdSaveMap
)

var commandNames = map[CommandType]string{
	CmdStart:            "start",
	CmdStop:             "stop",
	CmdPause:            "pause",
	CmdResume:           "resume",
	CmdEmergencyStop:    "emergency_stop",
	CmdSetSpeed:         "set_speed",
	CmdSetLineFollowing: "set_line_following",
	CmdAddWaypoint:      "add_waypoint",
	CmdRemoveWaypoint:   "remove_waypoint",
	CmdClearMap:         "clear_map",
	CmdSaveMap:          "save_map",
}

func (t CommandType) String() string {
	if name, ok := commandNames[t]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(t))
}

// Command is one decoded control request. Only the fields relevant to the
// Type carry meaning; the rest stay zero.
type Command struct {
	Type CommandType

	Speed      int     // set_speed
	Enabled    bool    // set_line_following
	X, Y       float64 // add_waypoint
	Name       string  // add_waypoint
	WaypointID int64   // remove_waypoint
}

// wireCommand is the JSON shape sent by clients.
type wireCommand struct {
	Type       string  `json:"type"`
	Speed      int     `json:"speed,omitempty"`
	Enabled    bool    `json:"enabled,omitempty"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	Name       string  `json:"name,omitempty"`
	WaypointID int64   `json:"waypointId,omitempty"`
}

// ParseCommand decodes a JSON control payload. Unknown types are rejected
// so a typo never silently becomes a no-op.
func ParseCommand(payload []byte) (Command, error) {
	var wire wireCommand
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Command{}, fmt.Errorf("parsing command JSON: %w", err)
	}

	var ctype CommandType
	found := false
	for t, name := range commandNames {
		if name == wire.Type {
			ctype = t
			found = true
			break
		}
	}
	if !found {
		return Command{}, fmt.Errorf("unknown command type %q", wire.Type)
	}

	return Command{
		Type:       ctype,
		Speed:      wire.Speed,
		Enabled:    wire.Enabled,
		X:          wire.X,
		Y:          wire.Y,
		Name:       wire.Name,
		WaypointID: wire.WaypointID,
	}, nil
}
