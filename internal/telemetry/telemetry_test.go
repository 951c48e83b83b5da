package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caen-hv-bridge/internal/config"
	"caen-hv-bridge/internal/logger"
	"caen-hv-bridge/internal/recovery"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleFields() FieldSet {
	return FieldSet{
		FieldVSet: 1500.0,
		FieldVMon: nil,
		FieldStat: int64(9),
		"IS_ON":   1,
		"IS_OVC":  1,
		"IS_TRIP": 0,
	}
}

func TestFieldSetHelpers(t *testing.T) {
	f := sampleFields()

	present := f.Present()
	assert.Len(t, present, 5)
	assert.NotContains(t, present, FieldVMon)
	assert.Equal(t, []string{FieldVMon}, f.Missing())

	v, ok := f.Float(FieldVSet)
	assert.True(t, ok)
	assert.Equal(t, 1500.0, v)
	_, ok = f.Float(FieldVMon)
	assert.False(t, ok)

	n, ok := f.Int(FieldStat)
	assert.True(t, ok)
	assert.EqualValues(t, 9, n)
	n, ok = f.Int("IS_ON")
	assert.True(t, ok)
	assert.EqualValues(t, 1, n)
}

// --- influx ---

type influxServer struct {
	mu      sync.Mutex
	writes  []string
	queries []string
	status  int
}

func newInfluxServer(t *testing.T) (*influxServer, *httptest.Server) {
	is := &influxServer{status: http.StatusNoContent}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.mu.Lock()
		defer is.mu.Unlock()
		switch r.URL.Path {
		case "/write":
			body, _ := io.ReadAll(r.Body)
			is.writes = append(is.writes, r.URL.Query().Get("db")+"|"+string(body))
			if is.status != http.StatusNoContent {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(is.status)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case "/query":
			_ = r.ParseForm()
			is.queries = append(is.queries, r.Form.Get("q"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"results":[{"statement_id":0}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return is, srv
}

func influxSettings(url string) config.InfluxSettings {
	return config.InfluxSettings{
		URL:            url,
		Database:       "hv",
		Measurement:    "DT5533E",
		DeviceTag:      "crate1",
		CreateDatabase: true,
		Timeout:        time.Second,
	}
}

func TestInfluxSinkWritesPoint(t *testing.T) {
	is, srv := newInfluxServer(t)
	sink, err := NewInfluxSink(influxSettings(srv.URL))
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(context.Background(), 3, sampleFields(), testTime))

	is.mu.Lock()
	defer is.mu.Unlock()
	require.Len(t, is.queries, 1)
	assert.Contains(t, is.queries[0], "CREATE DATABASE")
	require.Len(t, is.writes, 1)

	line := is.writes[0]
	assert.True(t, strings.HasPrefix(line, "hv|DT5533E,channel=3,device=crate1 "), line)
	assert.Contains(t, line, "VSET=1500")
	assert.Contains(t, line, "STAT=9i")
	assert.Contains(t, line, "IS_ON=1i")
	assert.NotContains(t, line, "VMON")
}

func TestInfluxSinkSkipsEmptyFieldSet(t *testing.T) {
	is, srv := newInfluxServer(t)
	settings := influxSettings(srv.URL)
	settings.CreateDatabase = false
	sink, err := NewInfluxSink(settings)
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), 0, FieldSet{FieldVMon: nil, FieldVSet: nil}, testTime))

	is.mu.Lock()
	defer is.mu.Unlock()
	assert.Empty(t, is.writes)
	assert.Empty(t, is.queries)
}

func TestInfluxSinkReportsServerError(t *testing.T) {
	is, srv := newInfluxServer(t)
	is.status = http.StatusInternalServerError
	sink, err := NewInfluxSink(influxSettings(srv.URL))
	require.NoError(t, err)

	err = sink.Write(context.Background(), 0, sampleFields(), testTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "influx write")
}

// --- mqtt ---

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	retain  bool
	payload string
}

type fakeMQTTClient struct {
	paho.Client // unimplemented methods panic

	mu           sync.Mutex
	connected    bool
	connectErrs  []error
	publishErr   error
	messages     []published
	disconnected bool
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTTClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return newFakeToken(err)
	}
	c.connected = true
	return newFakeToken(nil)
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var text string
	switch p := payload.(type) {
	case string:
		text = p
	case []byte:
		text = string(p)
	}
	c.messages = append(c.messages, published{topic, qos, retained, text})
	return newFakeToken(c.publishErr)
}

func mqttSettings() config.MQTTSettings {
	return config.MQTTSettings{
		BrokerURL:   "tcp://broker:1883",
		ClientID:    "test",
		RetryDelay:  time.Millisecond,
		TopicPrefix: "lab/hv",
		DeviceTag:   "crate1",
		QoS:         1,
	}
}

func TestMQTTSinkConnectRetries(t *testing.T) {
	fc := &fakeMQTTClient{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	sink := newMQTTSinkWithClient(fc, mqttSettings())

	require.NoError(t, sink.Connect(context.Background()))
	assert.True(t, fc.IsConnected())
}

func TestMQTTSinkConnectHonoursContext(t *testing.T) {
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = errors.New("refused")
	}
	fc := &fakeMQTTClient{connectErrs: errs}
	settings := mqttSettings()
	settings.RetryDelay = time.Hour
	sink := newMQTTSinkWithClient(fc, settings)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sink.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMQTTSinkWritePublishesJSON(t *testing.T) {
	fc := &fakeMQTTClient{connected: true}
	sink := newMQTTSinkWithClient(fc, mqttSettings())

	require.NoError(t, sink.Write(context.Background(), 2, sampleFields(), testTime))

	require.Len(t, fc.messages, 1)
	msg := fc.messages[0]
	assert.Equal(t, "lab/hv/ch2/state", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retain)

	var doc StatePayload
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &doc))
	assert.Equal(t, "crate1", doc.Device)
	assert.Equal(t, 2, doc.Channel)
	assert.Equal(t, "2026-03-01T12:00:00Z", doc.Timestamp)
	assert.Equal(t, 1500.0, doc.Fields[FieldVSet])
	assert.Equal(t, 9.0, doc.Fields[FieldStat])
	assert.Equal(t, []string{FieldVMon}, doc.Missing)
}

func TestMQTTSinkAnnouncesDiscoveryOncePerChannel(t *testing.T) {
	fc := &fakeMQTTClient{connected: true}
	settings := mqttSettings()
	settings.DiscoveryPrefix = "homeassistant"
	sink := newMQTTSinkWithClient(fc, settings)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, 2, sampleFields(), testTime))
	require.NoError(t, sink.Write(ctx, 2, sampleFields(), testTime))
	require.NoError(t, sink.Write(ctx, 3, sampleFields(), testTime))

	var configs, states []published
	for _, m := range fc.messages {
		if strings.HasPrefix(m.topic, "homeassistant/") {
			configs = append(configs, m)
		} else {
			states = append(states, m)
		}
	}
	// 6 sensors for ch2 plus the diagnostic sensor, then 6 for ch3
	require.Len(t, configs, 13)
	assert.Len(t, states, 3)
	assert.Equal(t, "homeassistant/sensor/crate1_ch2_vset/config", configs[0].topic)
	assert.Equal(t, "homeassistant/sensor/crate1_diagnostic/config", configs[6].topic)
	assert.Equal(t, "homeassistant/sensor/crate1_ch3_vset/config", configs[7].topic)
	for _, c := range configs {
		assert.True(t, c.retain, c.topic)
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(configs[1].payload), &doc))
	assert.Equal(t, "lab/hv/ch2/state", doc["state_topic"])
	assert.Equal(t, "lab/hv/status", doc["availability_topic"])
	assert.Equal(t, "{{ value_json.fields.get('VMON') }}", doc["value_template"])

	sink.resetDiscovery()
	fc.messages = nil
	require.NoError(t, sink.Write(ctx, 3, sampleFields(), testTime))
	assert.Len(t, fc.messages, 8, "reconnect announces again")
}

func TestMQTTSinkDiscoveryOffByDefault(t *testing.T) {
	fc := &fakeMQTTClient{connected: true}
	sink := newMQTTSinkWithClient(fc, mqttSettings())

	require.NoError(t, sink.Write(context.Background(), 0, sampleFields(), testTime))
	assert.Len(t, fc.messages, 1)
}

func TestMQTTSinkStatusAndDiagnostics(t *testing.T) {
	fc := &fakeMQTTClient{connected: true}
	sink := newMQTTSinkWithClient(fc, mqttSettings())
	ctx := context.Background()

	require.NoError(t, sink.PublishStatusOffline(ctx))
	require.NoError(t, sink.PublishStatusOnline(ctx))
	require.NoError(t, sink.PublishDiagnostic(ctx, 2, "device unreachable"))

	require.Len(t, fc.messages, 3)
	assert.Equal(t, published{"lab/hv/status", 1, true, "offline"}, fc.messages[0])
	assert.Equal(t, published{"lab/hv/status", 1, true, "online"}, fc.messages[1])
	assert.Equal(t, "lab/hv/diagnostic", fc.messages[2].topic)
	assert.Contains(t, fc.messages[2].payload, `"code":2`)
	assert.Contains(t, fc.messages[2].payload, "device unreachable")
}

func TestMQTTSinkNotConnected(t *testing.T) {
	fc := &fakeMQTTClient{}
	sink := newMQTTSinkWithClient(fc, mqttSettings())
	assert.Error(t, sink.Write(context.Background(), 0, sampleFields(), testTime))
	assert.NoError(t, sink.Close())
	assert.Empty(t, fc.messages)
}

func TestMQTTSinkPublishError(t *testing.T) {
	fc := &fakeMQTTClient{connected: true, publishErr: errors.New("queue full")}
	sink := newMQTTSinkWithClient(fc, mqttSettings())
	err := sink.Write(context.Background(), 0, sampleFields(), testTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestMQTTSinkCloseAnnouncesOffline(t *testing.T) {
	fc := &fakeMQTTClient{connected: true}
	sink := newMQTTSinkWithClient(fc, mqttSettings())
	require.NoError(t, sink.Close())
	require.Len(t, fc.messages, 1)
	assert.Equal(t, "offline", fc.messages[0].payload)
	assert.True(t, fc.disconnected)
}

// --- composition ---

type stubSink struct {
	name   string
	err    error
	writes int
	closed bool
}

func (s *stubSink) Name() string { return s.name }
func (s *stubSink) Write(context.Context, int, FieldSet, time.Time) error {
	s.writes++
	return s.err
}
func (s *stubSink) Close() error {
	s.closed = true
	return nil
}

func TestMultiSinkWritesAllAndJoinsErrors(t *testing.T) {
	a := &stubSink{name: "a", err: errors.New("a down")}
	b := &stubSink{name: "b"}
	m := NewMultiSink(a, b)

	err := m.Write(context.Background(), 0, sampleFields(), testTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a down")
	assert.Equal(t, 1, a.writes)
	assert.Equal(t, 1, b.writes, "a failing sink must not starve the others")
	assert.Equal(t, "multi(a,b)", m.Name())

	require.NoError(t, m.Close())
	assert.True(t, a.closed && b.closed)
}

func TestBreakerSinkFastFails(t *testing.T) {
	inner := &stubSink{name: "influx", err: errors.New("timeout")}
	bs := NewBreakerSink(inner, config.BreakerSettings{MaxFailures: 2, Timeout: time.Hour, HalfOpenMaxTries: 1})

	for i := 0; i < 2; i++ {
		assert.Error(t, bs.Write(context.Background(), 0, sampleFields(), testTime))
	}
	err := bs.Write(context.Background(), 0, sampleFields(), testTime)
	assert.ErrorIs(t, err, recovery.ErrCircuitOpen)
	assert.Equal(t, 2, inner.writes)
	assert.Equal(t, recovery.StateOpen, bs.Stats().State)
	assert.Equal(t, "influx", bs.Name())
}

func TestLogSink(t *testing.T) {
	mock := logger.NewMockLogger()
	s := NewLogSink(mock)
	require.NoError(t, s.Write(context.Background(), 1, sampleFields(), testTime))

	require.Len(t, mock.InfoMessages, 1)
	assert.Contains(t, mock.InfoMessages[0], "ch1")
	assert.Contains(t, mock.InfoMessages[0], "VSET=1500")
	assert.Contains(t, mock.InfoMessages[0], "STAT=9")
	require.Len(t, mock.DebugMessages, 1)
	assert.Contains(t, mock.DebugMessages[0], "VMON")
}

type anonymousSink struct{}

func (anonymousSink) Write(context.Context, int, FieldSet, time.Time) error { return nil }
func (anonymousSink) Close() error                                          { return nil }

func TestNameOf(t *testing.T) {
	assert.Equal(t, "log", NameOf(NewLogSink(logger.NewMockLogger())))
	assert.Equal(t, "telemetry.anonymousSink", NameOf(anonymousSink{}))
}
