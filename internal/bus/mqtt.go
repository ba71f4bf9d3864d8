package bus

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/bridge"
)

// Topics, relative to the configured prefix.
const (
	TopicBattery     = "mavros/battery"
	TopicPose        = "mavros/local_position/pose"
	TopicRange       = "rangefinder/range"
	TopicState       = "mavros/state"
	TopicArrived     = "drone/delivery/arrived"
	TopicDropReady   = "drone/delivery/drop_ready"
	TopicHomeArrived = "drone/delivery/home_arrived"
	TopicImage       = "main_camera/image_raw"
	TopicDropConfirm = "drone/delivery/drop_confirm"
)

const (
	qos            = 1
	retain         = false
	connectTimeout = 5 * time.Second
	publishTimeout = 5 * time.Second
	retryPause     = time.Second
)

var dropConfirmPayload = []byte(`{"data":true}`)

type MQTTConfig struct {
	Broker      string
	TopicPrefix string
}

type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client
	subs   *subscriptions
	log    zerolog.Logger
}

func NewMQTT(cfg MQTTConfig, sink Sink, frames FrameSink, log zerolog.Logger) *MQTT {
	m := &MQTT{
		cfg:  cfg,
		subs: newSubscriptions(cfg.TopicPrefix, log),
		log:  log,
	}
	registerHandlers(m.subs, sink, frames)

	clientID := "drone-agent-" + uuid.NewString()
	log.Info().Str("broker", cfg.Broker).Str("client_id", clientID).Msg("MQTT client configured")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetProtocolVersion(4). // MQTT 3.1.1
		SetOnConnectHandler(func(c mqtt.Client) {
			if err := m.subs.subscribe(c, connectTimeout); err != nil {
				m.log.Error().Err(err).Msg("Subscribing to sensor topics failed")
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Warn().Err(err).Msg("MQTT connection lost")
		})
	m.client = mqtt.NewClient(opts)
	return m
}

func registerHandlers(subs *subscriptions, sink Sink, frames FrameSink) {
	subs.add(TopicBattery, func(p []byte) error {
		b, err := decodeBattery(p)
		if err == nil {
			sink.OnBattery(b)
		}
		return err
	})
	subs.add(TopicPose, func(p []byte) error {
		pose, err := decodePose(p)
		if err == nil {
			sink.OnPose(pose)
		}
		return err
	})
	subs.add(TopicRange, func(p []byte) error {
		r, err := decodeRange(p)
		if err == nil {
			sink.OnAltitude(r)
		}
		return err
	})
	subs.add(TopicState, func(p []byte) error {
		s, err := decodeState(p)
		if err == nil {
			sink.OnLinkState(s)
		}
		return err
	})
	subs.add(TopicArrived, milestoneHandler(sink, bridge.Arrival))
	subs.add(TopicDropReady, milestoneHandler(sink, bridge.DropReady))
	subs.add(TopicHomeArrived, milestoneHandler(sink, bridge.HomeArrival))
	subs.add(TopicImage, func(p []byte) error {
		if len(p) == 0 {
			return errors.New("empty image")
		}
		frames.Store(p)
		return nil
	})
}

func milestoneHandler(sink Sink, kind bridge.Kind) handlerFunc {
	return func(p []byte) error {
		pose, err := decodePose(p)
		if err != nil {
			return err
		}
		sink.OnMilestone(kind, pose)
		return nil
	}
}

// Start connects to the broker, retrying until it succeeds or ctx ends.
// Subscriptions are made by the on-connect handler.
func (m *MQTT) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.log.Info().Msg("Connecting MQTT...")
		tok := m.client.Connect()
		if !tok.WaitTimeout(connectTimeout) {
			m.log.Warn().Msg("Connection Timeout")
			continue
		}
		if err := tok.Error(); err != nil {
			m.log.Warn().Err(err).Msg("MQTT connect failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryPause):
			}
			continue
		}
		m.log.Info().Msg("..Connected")
		return nil
	}
}

func (m *MQTT) SendDropConfirmation() error {
	topic := m.cfg.TopicPrefix + TopicDropConfirm
	tok := m.client.Publish(topic, qos, retain, dropConfirmPayload)
	if !tok.WaitTimeout(publishTimeout) {
		return errors.Errorf("timeout publishing to %s", topic)
	}
	return errors.WithMessagef(tok.Error(), "publish to %s", topic)
}

func (m *MQTT) Close() {
	m.client.Disconnect(1000)
	m.log.Info().Msg("MQTT disconnected")
}
