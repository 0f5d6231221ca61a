// Package telemetry fans the control core's status snapshot out to the
// external systems spec.md §6 lists as non-goals for the core itself:
// MQTT, Redis, InfluxDB, and a local append-only event log.
package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the status publisher.
type MQTTConfig struct {
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	Retain         bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

// MQTTPublisher publishes StatusSnapshot payloads to one fixed topic on
// every call to Publish.
type MQTTPublisher struct {
	cfg       MQTTConfig
	client    mqtt.Client
	connected bool
	mu        sync.RWMutex
}

// NewMQTTPublisher connects to cfg.Broker and returns a ready publisher.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("drillctl_%d", timeNowUnix())
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	p := &MQTTPublisher{cfg: cfg}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.mu.Lock()
		p.connected = true
		p.mu.Unlock()
	})
	opts.SetConnectionLostHandler(func(mqtt.Client, error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
	})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return p, nil
}

// Publish marshals payload as JSON and publishes it to the configured
// topic. Failures are non-fatal to the control loop: Publish logs
// nothing itself, callers decide how to surface the error.
func (p *MQTTPublisher) Publish(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telemetry payload: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, data)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}

func timeNowUnix() int64 { return time.Now().Unix() }
