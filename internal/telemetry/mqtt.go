package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"caen-hv-bridge/internal/config"
	"caen-hv-bridge/internal/homeassistant"
	"caen-hv-bridge/internal/logger"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// MQTTSink publishes each field set as JSON and carries the bridge's
// availability and diagnostic topics.
type MQTTSink struct {
	client   paho.Client
	settings config.MQTTSettings

	discovery *homeassistant.Discovery // nil when discovery is off
	mu        sync.Mutex
	announced map[int]bool
}

// StatePayload is the JSON document published per tick.
type StatePayload struct {
	Device    string         `json:"device"`
	Channel   int            `json:"channel"`
	Timestamp string         `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
	Missing   []string       `json:"missing,omitempty"`
}

// NewMQTTSink prepares the paho client. Call Connect before writing.
func NewMQTTSink(settings config.MQTTSettings) *MQTTSink {
	s := newMQTTSinkWithClient(nil, settings)

	opts := paho.NewClientOptions()
	opts.AddBroker(settings.BrokerURL)
	opts.SetClientID(settings.ClientID)
	opts.SetUsername(settings.Username)
	opts.SetPassword(settings.Password)
	opts.SetAutoReconnect(true)

	keepAlive := settings.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60 * time.Second
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(10 * time.Second)

	// The broker marks the bridge offline if the connection drops
	opts.SetWill(s.StatusTopic(), StatusOffline, 1, true)

	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.LogInfo("MQTT sink connected to %s", settings.BrokerURL)
		if token := c.Publish(s.StatusTopic(), 1, true, StatusOnline); token.Wait() && token.Error() != nil {
			logger.LogWarn("Error publishing online status on connect: %v", token.Error())
		}
		s.resetDiscovery()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.LogError("MQTT sink disconnected: %v", err)
	})

	s.client = paho.NewClient(opts)
	return s
}

func newMQTTSinkWithClient(c paho.Client, settings config.MQTTSettings) *MQTTSink {
	s := &MQTTSink{client: c, settings: settings, announced: map[int]bool{}}
	if settings.DiscoveryPrefix != "" {
		s.discovery = homeassistant.NewDiscovery(settings.DiscoveryPrefix, settings.DeviceTag, s.StatusTopic(), s.DiagnosticTopic())
	}
	return s
}

func (s *MQTTSink) Name() string { return "mqtt" }

// StatusTopic carries "online"/"offline", retained.
func (s *MQTTSink) StatusTopic() string { return s.settings.TopicPrefix + "/status" }

// DiagnosticTopic carries {code, message, timestamp} documents.
func (s *MQTTSink) DiagnosticTopic() string { return s.settings.TopicPrefix + "/diagnostic" }

// StateTopic is where the field sets of a channel go.
func (s *MQTTSink) StateTopic(channel int) string {
	return fmt.Sprintf("%s/ch%d/state", s.settings.TopicPrefix, channel)
}

// Connect connects to the broker, retrying until it succeeds or ctx is done.
func (s *MQTTSink) Connect(ctx context.Context) error {
	retryDelay := s.settings.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	for attempt := 1; ; attempt++ {
		logger.LogDebug("🔄 Connecting MQTT sink to %s (attempt %d)...", s.settings.BrokerURL, attempt)

		token := s.client.Connect()
		if token.Wait() && token.Error() == nil {
			logger.LogInfo("✅ MQTT sink connected after %d attempts", attempt)
			return nil
		}
		logger.LogError("❌ MQTT sink connection failed (attempt %d): %v", attempt, token.Error())
		logger.LogInfo("⏳ Retrying in %.0f seconds...", retryDelay.Seconds())

		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt sink connection cancelled: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}
}

// Write publishes the present fields of one tick.
func (s *MQTTSink) Write(ctx context.Context, channel int, fields FieldSet, ts time.Time) error {
	if err := s.announce(ctx, channel); err != nil {
		logger.LogWarn("⚠️ Home Assistant discovery for ch%d failed: %v", channel, err)
	}

	payload, err := json.Marshal(StatePayload{
		Device:    s.settings.DeviceTag,
		Channel:   channel,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Fields:    fields.Present(),
		Missing:   fields.Missing(),
	})
	if err != nil {
		return fmt.Errorf("error marshaling field set: %w", err)
	}
	return s.publish(ctx, s.StateTopic(channel), s.settings.QoS, s.settings.Retain, payload)
}

// announce publishes the discovery documents of channel once per broker
// session. The first announcement also carries the diagnostic sensor.
func (s *MQTTSink) announce(ctx context.Context, channel int) error {
	if s.discovery == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.announced[channel] {
		return nil
	}

	msgs, err := s.discovery.ChannelConfigs(channel, s.StateTopic(channel))
	if err != nil {
		return err
	}
	if len(s.announced) == 0 {
		diag, err := s.discovery.DiagnosticConfig()
		if err != nil {
			return err
		}
		msgs = append(msgs, diag)
	}
	for _, m := range msgs {
		if err := s.publish(ctx, m.Topic, 1, true, m.Payload); err != nil {
			return err
		}
	}
	s.announced[channel] = true
	logger.LogInfo("📡 Published %d Home Assistant discovery configs for ch%d", len(msgs), channel)
	return nil
}

func (s *MQTTSink) resetDiscovery() {
	s.mu.Lock()
	s.announced = map[int]bool{}
	s.mu.Unlock()
}

// PublishStatusOnline publishes "online" on the status topic.
func (s *MQTTSink) PublishStatusOnline(ctx context.Context) error {
	return s.publish(ctx, s.StatusTopic(), 1, true, StatusOnline)
}

// PublishStatusOffline publishes "offline" on the status topic.
func (s *MQTTSink) PublishStatusOffline(ctx context.Context) error {
	return s.publish(ctx, s.StatusTopic(), 1, true, StatusOffline)
}

// PublishDiagnostic publishes diagnostic information with code and message
func (s *MQTTSink) PublishDiagnostic(ctx context.Context, code int, message string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("error marshaling diagnostic: %w", err)
	}
	logger.LogDebug("🔧 📤 Publishing diagnostic to '%s': [%d] %s", s.DiagnosticTopic(), code, message)
	return s.publish(ctx, s.DiagnosticTopic(), 0, false, payload)
}

func (s *MQTTSink) publish(ctx context.Context, topic string, qos byte, retain bool, payload interface{}) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	token := s.client.Publish(topic, qos, retain, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("error publishing to %s: %w", topic, err)
	}
	return nil
}

// Close publishes "offline" and disconnects.
func (s *MQTTSink) Close() error {
	if !s.client.IsConnected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.PublishStatusOffline(ctx); err != nil {
		logger.LogWarn("⚠️ Error publishing offline status on close: %v", err)
	}
	s.client.Disconnect(250)
	return nil
}
