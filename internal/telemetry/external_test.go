package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// These three sinks talk to a live broker/server/instance; without one
// reachable in CI the only behavior worth asserting is that a
// misconfigured or unreachable endpoint fails fast at construction
// rather than hanging or panicking. Publish/Write success paths need a
// real MQTT broker, Redis server, or InfluxDB instance respectively and
// are exercised manually against docker-compose services, not here.

func TestNewMQTTPublisher_UnreachableBrokerFailsFast(t *testing.T) {
	_, err := NewMQTTPublisher(MQTTConfig{
		Broker: "tcp://127.0.0.1:1",
		Topic:  "drillctl/status",
	})
	assert.Error(t, err)
}

func TestNewRedisMirror_UnreachableAddrFailsFast(t *testing.T) {
	_, err := NewRedisMirror(RedisConfig{
		Addr:    "127.0.0.1:1",
		Channel: "drillctl:status",
	})
	assert.Error(t, err)
}

func TestNewInfluxWriter_UnreachableURLFailsFast(t *testing.T) {
	_, err := NewInfluxWriter(InfluxConfig{
		URL:    "http://127.0.0.1:1",
		Token:  "x",
		Org:    "drillctl",
		Bucket: "status",
	})
	assert.Error(t, err)
}
