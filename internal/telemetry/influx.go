package telemetry

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"caen-hv-bridge/internal/config"
	"caen-hv-bridge/internal/logger"
)

// InfluxSink writes one point per tick to an InfluxDB 1.x database.
type InfluxSink struct {
	client      client.Client
	database    string
	measurement string
	device      string
}

// NewInfluxSink creates the HTTP client and, when configured, issues
// CREATE DATABASE. A failing CREATE DATABASE is only logged: the database
// may exist already or the user may lack admin rights.
func NewInfluxSink(settings config.InfluxSettings) (*InfluxSink, error) {
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     settings.URL,
		Username: settings.Username,
		Password: settings.Password,
		Timeout:  settings.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influx client for %s: %w", settings.URL, err)
	}

	s := newInfluxSinkWithClient(c, settings)
	if settings.CreateDatabase {
		s.createDatabase()
	}
	logger.LogInfo("📈 InfluxDB sink: %s db=%s measurement=%s", settings.URL, settings.Database, settings.Measurement)
	return s, nil
}

func newInfluxSinkWithClient(c client.Client, settings config.InfluxSettings) *InfluxSink {
	return &InfluxSink{
		client:      c,
		database:    settings.Database,
		measurement: settings.Measurement,
		device:      settings.DeviceTag,
	}
}

func (s *InfluxSink) createDatabase() {
	q := client.NewQuery(fmt.Sprintf("CREATE DATABASE %q", s.database), "", "")
	resp, err := s.client.Query(q)
	if err == nil && resp != nil {
		err = resp.Error()
	}
	if err != nil {
		logger.LogWarn("⚠️ CREATE DATABASE %s: %v", s.database, err)
	}
}

func (s *InfluxSink) Name() string { return "influx" }

// Write drops absent and non-finite values; an empty field set writes nothing.
func (s *InfluxSink) Write(_ context.Context, channel int, fields FieldSet, ts time.Time) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields.Present() {
		if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			continue
		}
		values[k] = v
	}
	if len(values) == 0 {
		logger.LogDebug("🔧 Influx: nothing to write for ch%d", channel)
		return nil
	}

	bp, err := client.NewBatchPoints(client.BatchPointsConfig{Database: s.database})
	if err != nil {
		return fmt.Errorf("influx batch: %w", err)
	}
	tags := map[string]string{
		"device":  s.device,
		"channel": strconv.Itoa(channel),
	}
	pt, err := client.NewPoint(s.measurement, tags, values, ts)
	if err != nil {
		return fmt.Errorf("influx point: %w", err)
	}
	bp.AddPoint(pt)

	if err := s.client.Write(bp); err != nil {
		return fmt.Errorf("influx write to %s: %w", s.database, err)
	}
	return nil
}

func (s *InfluxSink) Close() error {
	return s.client.Close()
}
