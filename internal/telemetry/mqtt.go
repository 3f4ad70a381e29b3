// Package telemetry publishes game events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warhost-project/warhost/internal/config"
	"github.com/warhost-project/warhost/internal/events"
	"github.com/warhost-project/warhost/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicHostAdmin     = "host/admin"
	TopicHostStatus    = "host/status"
	TopicGameLifecycle = "game/lifecycle"
	TopicGamePlayers   = "game/players"
	TopicGameSlots     = "game/slots"
	TopicGameLag       = "game/lag"
	TopicGameChat      = "game/chat"
	TopicRealmChat     = "realm/chat"

	defaultPrefix = "warhost"

	// SlotDebounce coalesces bursts of slot table changes into one message.
	SlotDebounce = 500 * time.Millisecond
)

// ErrDisabled is returned when MQTT is not enabled in the config.
var ErrDisabled = errors.New("MQTT is disabled")

// MQTTHandler publishes bus events as JSON messages.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger
	prefix   string
	now      func() time.Time

	// publishes a message; replaced in tests
	send func(topic string, data []byte)

	metadata map[string]interface{}

	slotDebounce time.Duration
	slots        map[string]*pendingSlots
}

type pendingSlots struct {
	debounced func(f func())
	latest    interface{}
}

// NewMQTTHandler creates the handler. It does not connect.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT
	if !mqttCfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("telemetry"),
		prefix:   strings.Trim(mqttCfg.TopicPrefix, "/"),
		now:      time.Now,
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"cpu_model":   sysInfo.CPUModel,
			"cpu_threads": sysInfo.CPUThreads,
			"memory_mb":   sysInfo.TotalMemory,
			"host_name":   cfg.GetHost().Name,
			"app_version": version,
		},
		slotDebounce: SlotDebounce,
		slots:        make(map[string]*pendingSlots),
	}
	if h.prefix == "" {
		h.prefix = defaultPrefix
	}

	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))
	opts.SetClientID(clientID(mqttCfg.ClientID, sysInfo.Hostname))
	if mqttCfg.Username != "" {
		opts.SetUsername(mqttCfg.Username)
		opts.SetPassword(mqttCfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)
	if mqttCfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.send = h.publishMQTT
	return h, nil
}

// clientID returns the configured id, or one unique to this process.
func clientID(configured, hostname string) string {
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("warhost-%s-%s", hostname, uuid.NewString()[:8])
}

// Start connects, subscribes to the bus and blocks until ctx is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Str("prefix", h.prefix).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	bus := h.eventBus
	for _, t := range []events.EventType{
		events.EventGameCreated, events.EventGameStarted, events.EventGameLoaded,
		events.EventGameOver, events.EventGameDeleted, events.EventLobbyAbandoned,
	} {
		bus.Subscribe(t, "mqtt.lifecycle", h.onLifecycle)
	}
	for _, t := range []events.EventType{
		events.EventPlayerJoined, events.EventPlayerLeft, events.EventPlayerReconnected,
		events.EventPlayerKicked, events.EventPlayerBanned,
	} {
		bus.Subscribe(t, "mqtt.players", h.onPlayer)
	}
	bus.Subscribe(events.EventSlotsChanged, "mqtt.slots", h.onSlots)
	bus.Subscribe(events.EventLagStart, "mqtt.lag", h.onLag)
	bus.Subscribe(events.EventLagStop, "mqtt.lag", h.onLag)
	bus.Subscribe(events.EventDesync, "mqtt.desync", h.onLag)
	bus.Subscribe(events.EventChat, "mqtt.chat", h.onChat)
	bus.Subscribe(events.EventRealmChat, "mqtt.realmChat", h.onRealmChat)
	bus.Subscribe(events.EventNotify, "mqtt.notify", h.onNotify)
	bus.Subscribe(events.EventHeartbeat, "mqtt.heartbeat", h.onNotify)
}

func (h *MQTTHandler) topic(suffix string) string {
	return h.prefix + "/" + suffix
}

func (h *MQTTHandler) publishMQTT(topic string, data []byte) {
	if !h.client.IsConnected() {
		return
	}
	token := h.client.Publish(topic, 1, false, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// publish sends a JSON message to a topic under the prefix.
func (h *MQTTHandler) publish(suffix string, event string, payload interface{}) {
	data, err := json.Marshal(h.buildMessage(event, payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", suffix).Msg("failed to marshal MQTT message")
		return
	}
	h.send(h.topic(suffix), data)
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(event string, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = event
	msg["payload"] = payload
	msg["timestamp"] = h.now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onLifecycle(ctx context.Context, event events.Event) error {
	h.publish(TopicGameLifecycle, string(event.Type), event.Payload)
	if event.Type == events.EventGameDeleted {
		h.mu.Lock()
		delete(h.slots, event.Source)
		h.mu.Unlock()
	}
	return nil
}

func (h *MQTTHandler) onPlayer(ctx context.Context, event events.Event) error {
	h.publish(TopicGamePlayers, string(event.Type), event.Payload)
	return nil
}

// onSlots publishes the latest slot table of a game once changes settle.
func (h *MQTTHandler) onSlots(ctx context.Context, event events.Event) error {
	h.mu.Lock()
	p, ok := h.slots[event.Source]
	if !ok {
		p = &pendingSlots{debounced: debounce.New(h.slotDebounce)}
		h.slots[event.Source] = p
	}
	p.latest = event.Payload
	h.mu.Unlock()

	p.debounced(func() {
		h.mu.Lock()
		payload := p.latest
		h.mu.Unlock()
		h.publish(TopicGameSlots, string(events.EventSlotsChanged), payload)
	})
	return nil
}

func (h *MQTTHandler) onLag(ctx context.Context, event events.Event) error {
	h.publish(TopicGameLag, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onChat(ctx context.Context, event events.Event) error {
	h.publish(TopicGameChat, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onRealmChat(ctx context.Context, event events.Event) error {
	h.publish(TopicRealmChat, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onNotify(ctx context.Context, event events.Event) error {
	h.publish(TopicHostStatus, string(event.Type), event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicHostAdmin, "shutdown", nil)
}
