package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig configures the time-series counter writer.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxWriter writes spindle-revolution counts (measurement
// "spindle_revolutions", tagged by phase) and axis step counts
// (measurement "step_edges", tagged by axis) for long-horizon
// throughput analysis outside the control core.
type InfluxWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxWriter connects to cfg.URL and verifies health.
func NewInfluxWriter(cfg InfluxConfig) (*InfluxWriter, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	return &InfluxWriter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// WriteSpindleRevolution records one spindle-revolution-count tick.
func (w *InfluxWriter) WriteSpindleRevolution(ctx context.Context, mode int, phase string, count int) error {
	point := write.NewPoint(
		"spindle_revolutions",
		map[string]string{"phase": phase},
		map[string]interface{}{"mode": mode, "count": count},
		time.Now(),
	)
	return w.writeAPI.WritePoint(ctx, point)
}

// WriteStepCount records a linear or drill axis rising-edge count.
func (w *InfluxWriter) WriteStepCount(ctx context.Context, axis string, count uint64) error {
	point := write.NewPoint(
		"step_edges",
		map[string]string{"axis": axis},
		map[string]interface{}{"count": count},
		time.Now(),
	)
	return w.writeAPI.WritePoint(ctx, point)
}

// Close releases the InfluxDB client.
func (w *InfluxWriter) Close() error {
	w.client.Close()
	return nil
}
