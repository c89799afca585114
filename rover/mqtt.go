package rover

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PoseHandler is called for each odometry update received on the pose
// topic. The pose is the rover's externally-estimated world position.
type PoseHandler func(Pose)

// SensorHandler is called for each fused sensor snapshot received on the
// sensor topic. This is how the live car feeds the navigator's arbitration.
type SensorHandler func(SensorSnapshot)

// CommandHandler is called for each decoded control command received on
// the command topic.
type CommandHandler func(Command)

// MQTTClient manages the broker connection, the odometry and sensor
// subscriptions, and the inbound command subscription.
type MQTTClient struct {
	client        mqtt.Client
	settings      MQTTSettings
	poseHandler   PoseHandler
	sensorHandler SensorHandler
	cmdHandler    CommandHandler
	isConnected   bool
	mu            sync.RWMutex
}

// InitMQTT connects to the broker described by settings and env vars.
// If no broker is configured anywhere, MQTT is disabled and this returns
// (nil, nil).
func InitMQTT(settings MQTTSettings, poseHandler PoseHandler, sensorHandler SensorHandler, cmdHandler CommandHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = settings.Broker
	}
	if broker == "" {
		log.Println("[MQTT] disabled: no broker configured")
		return nil, nil
	}

	c := &MQTTClient{
		settings:      settings,
		poseHandler:   poseHandler,
		sensorHandler: sensorHandler,
		cmdHandler:    cmdHandler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" {
		clientID = settings.ClientID
	}
	if clientID == "" {
		clientID = "yahmi-rover"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = settings.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = settings.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // preserve subscriptions across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()

	return c, nil
}

// connectWithRetry attempts the initial connection with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] connected")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] connection timeout")
		}

		log.Printf("[MQTT] retrying in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	if topic := c.settings.PoseTopic; topic != "" {
		log.Printf("[MQTT] subscribing to pose topic %s", topic)
		token := client.Subscribe(topic, 0, c.handlePoseMessage)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
		}
	}

	if topic := c.settings.SensorTopic; topic != "" {
		log.Printf("[MQTT] subscribing to sensor topic %s", topic)
		token := client.Subscribe(topic, 0, c.handleSensorMessage)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
		}
	}

	if topic := c.settings.CommandTopic; topic != "" {
		log.Printf("[MQTT] subscribing to command topic %s", topic)
		token := client.Subscribe(topic, 1, c.handleCommandMessage)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", topic, token.Error())
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] reconnecting...")
}

// handlePoseMessage decodes an odometry payload {"x":..,"y":..,"angle":..}.
// A malformed payload is logged and skipped; pose updates are best-effort.
func (c *MQTTClient) handlePoseMessage(client mqtt.Client, msg mqtt.Message) {
	var pose Pose
	if err := json.Unmarshal(msg.Payload(), &pose); err != nil {
		log.Printf("[MQTT] bad pose payload on %s: %v", msg.Topic(), err)
		return
	}
	if c.poseHandler != nil {
		c.poseHandler(pose)
	}
}

// handleSensorMessage decodes a fused sensor snapshot. Like pose updates,
// delivery is best-effort: a bad payload is logged and skipped.
func (c *MQTTClient) handleSensorMessage(client mqtt.Client, msg mqtt.Message) {
	var snap SensorSnapshot
	if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
		log.Printf("[MQTT] bad sensor payload on %s: %v", msg.Topic(), err)
		return
	}
	if c.sensorHandler != nil {
		c.sensorHandler(snap)
	}
}

// handleCommandMessage decodes a control command payload.
func (c *MQTTClient) handleCommandMessage(client mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Printf("[MQTT] rejected command on %s: %v", msg.Topic(), err)
		return
	}
	log.Printf("[MQTT] command received: %s", cmd.Type)
	if c.cmdHandler != nil {
		c.cmdHandler(cmd)
	}
}

// IsConnected reports the broker connection state.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the broker connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient exposes the underlying client for the Publisher.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock builds an MQTTClient around a provided mqtt.Client.
// Used by tests with the mock client.
func newMQTTClientWithMock(client mqtt.Client, settings MQTTSettings, poseHandler PoseHandler, sensorHandler SensorHandler, cmdHandler CommandHandler) *MQTTClient {
	return &MQTTClient{
		client:        client,
		settings:      settings,
		poseHandler:   poseHandler,
		sensorHandler: sensorHandler,
		cmdHandler:    cmdHandler,
	}
}
