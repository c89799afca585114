package rover

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher pushes rover telemetry to the broker: retained position and
// state under {prefix}/position and {prefix}/state, fire-and-forget alerts
// under {prefix}/alerts, and map statistics under {prefix}/map/stats.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewPublisher creates a telemetry publisher. If client is nil, publishing
// is disabled (tests). Prefix resolution: MQTT_PUBLISH_PREFIX env var,
// then the supplied prefix, then "rover".
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "rover"
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		qos:    0, // telemetry is fire and forget
	}
}

func (p *Publisher) publish(topic string, retain bool, payload interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, data)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// PublishPosition publishes the latest pose, retained so late subscribers
// see the rover immediately.
func (p *Publisher) PublishPosition(pose Pose) error {
	payload := struct {
		Pose
		Timestamp int64 `json:"timestamp"`
	}{pose, time.Now().Unix()}
	return p.publish(p.prefix+"/position", true, payload)
}

// PublishState publishes the navigator status, retained.
func (p *Publisher) PublishState(status NavStatus) error {
	return p.publish(p.prefix+"/state", true, status)
}

// PublishAlert publishes a watchdog alert. Not retained: alerts are events,
// not state.
func (p *Publisher) PublishAlert(alert Alert) error {
	if err := p.publish(p.prefix+"/alerts", false, alert); err != nil {
		log.Printf("[MQTT] error publishing alert: %v", err)
		return err
	}
	return nil
}

// PublishStats publishes occupancy counters, retained.
func (p *Publisher) PublishStats(stats GridStats) error {
	return p.publish(p.prefix+"/map/stats", true, stats)
}

// PublishMotor publishes one motor directive under {prefix}/motors. Not
// retained: a stale directive must never replay on reconnect.
func (p *Publisher) PublishMotor(directive string, speed int) error {
	payload := struct {
		Directive string `json:"directive"`
		Speed     int    `json:"speed"`
		Timestamp int64  `json:"timestamp"`
	}{directive, speed, time.Now().UnixMilli()}
	return p.publish(p.prefix+"/motors", false, payload)
}

// MotorPublisher adapts the Publisher to the navigator's MotorDriver:
// in live service mode the arbiter's directives travel back to the car
// over the motor topic. Send failures are logged and dropped; the next
// tick reissues the current directive anyway.
type MotorPublisher struct {
	pub *Publisher
}

// NewMotorPublisher wraps a Publisher as a MotorDriver.
func NewMotorPublisher(pub *Publisher) *MotorPublisher {
	return &MotorPublisher{pub: pub}
}

func (m *MotorPublisher) send(directive string, speed int) {
	if err := m.pub.PublishMotor(directive, speed); err != nil {
		log.Printf("[MQTT] motor directive %s dropped: %v", directive, err)
	}
}

func (m *MotorPublisher) Forward(speed int)   { m.send("forward", speed) }
func (m *MotorPublisher) Backward(speed int)  { m.send("backward", speed) }
func (m *MotorPublisher) TurnLeft(speed int)  { m.send("turn_left", speed) }
func (m *MotorPublisher) TurnRight(speed int) { m.send("turn_right", speed) }
func (m *MotorPublisher) Stop()               { m.send("stop", 0) }
