package mesh

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReadingHandler is called when a scanner report arrives over MQTT.
// On decode failure reading is zero and err is set.
type ReadingHandler func(scannerID int, reading ScannerReading, err error)

// MQTTClient manages the MQTT connection and scanner topic subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     ReadingHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates an MQTT client for the configured scanners and starts
// connecting in the background. If no broker is configured (MQTT_BROKER env
// var or mqtt.broker) MQTT is disabled and (nil, nil) is returned.
func InitMQTT(config *Config, handler ReadingHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Scanners) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no scanner configuration provided")
	}

	c := &MQTTClient{
		config:  config,
		handler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "beaconmesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep subscriptions across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()

	return c, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff
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

// onConnect subscribes to every configured scanner topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	c.subscribeAll(client)
}

func (c *MQTTClient) subscribeAll(client mqtt.Client) int {
	subscribed := 0
	for _, sc := range c.config.Scanners {
		if sc.Topic == "" {
			log.Printf("[MQTT] Warning: scanner %d has no topic configured", sc.ID)
			continue
		}

		token := client.Subscribe(sc.Topic, 0, c.createMessageHandler(sc.ID))
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("[MQTT] error subscribing to %s: %v", sc.Topic, token.Error())
			continue
		}
		log.Printf("[MQTT] subscribed to %s for scanner %d", sc.Topic, sc.ID)
		subscribed++
	}
	return subscribed
}

// onConnectionLost is called when the connection drops; auto-reconnect retries
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// createMessageHandler decodes scanner reports arriving on one scanner's topic
func (c *MQTTClient) createMessageHandler(scannerID int) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		log.Printf("[MQTT] received report for scanner %d (topic: %s, size: %d bytes)",
			scannerID, msg.Topic(), len(payload))

		reading, err := ParseScannerPayload(scannerID, payload)
		if err == nil && reading.ID != scannerID {
			err = fmt.Errorf("%w: payload names scanner %d on topic of scanner %d", ErrMalformedInput, reading.ID, scannerID)
			reading = ScannerReading{}
		}
		if err != nil {
			log.Printf("[MQTT] error decoding report for scanner %d: %v", scannerID, err)
		}
		if c.handler != nil {
			c.handler(scannerID, reading, err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
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

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetScannerByTopic returns the scanner ID subscribed to topic
func (c *MQTTClient) GetScannerByTopic(topic string) (int, bool) {
	for _, sc := range c.config.Scanners {
		if sc.Topic == topic {
			return sc.ID, true
		}
	}
	return 0, false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock wraps a provided mqtt.Client, for tests
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler ReadingHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  config,
		handler: handler,
	}
}
