// Package connection keeps the agent attached to the drone service over a
// WebSocket: dial, register, keepalive, inbound dispatch and outbound sends,
// reconnecting forever until the context is cancelled.
package connection

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/session"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/types"
)

var (
	ErrNotConnected         = errors.New("not connected")
	ErrRegistrationRejected = errors.New("registration rejected")
	ErrRegistrationTimeout  = errors.New("registration timed out")
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Registering  State = "registering"
	Connected    State = "connected"
	Closing      State = "closing"
)

const (
	DefaultReconnectInterval = 5 * time.Second
	DefaultRegisterTimeout   = 10 * time.Second
	DefaultPingInterval      = 20 * time.Second
	DefaultPingTimeout       = 10 * time.Second
	writeTimeout             = 10 * time.Second
)

type Config struct {
	URL               string
	ReconnectInterval time.Duration
	RegisterTimeout   time.Duration
	PingInterval      time.Duration
	PingTimeout       time.Duration
	Retry             RetryPolicy
	// Tokens is optional; without it the dial carries no Authorization header.
	Tokens *TokenSource
}

func (c *Config) setDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = DefaultRegisterTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = DefaultRetryPolicy
	}
}

type Manager struct {
	cfg      Config
	session  *session.Session
	log      zerolog.Logger
	dialer   *websocket.Dialer
	handlers *handlers
	timer    backoff.Timer

	connMu sync.Mutex
	state  State
	conn   *websocket.Conn

	writeMu sync.Mutex
}

func New(cfg Config, sess *session.Session, log zerolog.Logger) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:      cfg,
		session:  sess,
		log:      log,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.RegisterTimeout},
		handlers: newHandlers(log),
		state:    Disconnected,
	}
}

// Handle registers the handler for one inbound message type. A later call
// for the same type replaces the earlier handler.
func (m *Manager) Handle(msgType string, fn HandlerFunc) {
	m.handlers.add(msgType, fn)
}

func (m *Manager) State() State {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.state == Connected && m.conn != nil
}

func (m *Manager) setState(s State) {
	m.connMu.Lock()
	m.state = s
	m.connMu.Unlock()
}

// Run connects and keeps reconnecting until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		err := m.runSession(ctx)
		m.session.Clear()
		m.setState(Disconnected)

		if ctx.Err() != nil {
			m.log.Info().Msg("Connection manager stopped")
			return
		}
		m.log.Warn().Err(err).Dur("retry_in", m.cfg.ReconnectInterval).Msg("Connection lost")

		select {
		case <-ctx.Done():
			m.log.Info().Msg("Connection manager stopped")
			return
		case <-time.After(m.cfg.ReconnectInterval):
		}
	}
}

func (m *Manager) runSession(ctx context.Context) error {
	log := m.log.With().Str("session_id", uuid.NewString()).Logger()

	m.setState(Connecting)
	log.Info().Str("url", m.cfg.URL).Msg("Connecting to drone service..")

	header := http.Header{}
	if m.cfg.Tokens != nil {
		token, err := m.cfg.Tokens.Token()
		if err != nil {
			return err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := m.dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		return errors.WithMessagef(err, "dial %s", m.cfg.URL)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			m.setState(Closing)
			m.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			m.writeMu.Unlock()
			conn.Close()
		case <-stop:
		}
	}()

	m.setState(Registering)
	droneID, err := m.register(conn)
	if err != nil {
		return err
	}
	m.session.SetDroneID(droneID)

	m.connMu.Lock()
	m.conn = conn
	m.state = Connected
	m.connMu.Unlock()
	defer func() {
		m.connMu.Lock()
		m.conn = nil
		m.connMu.Unlock()
	}()
	log.Info().Str("drone_id", droneID).Msg("..Registered")

	go m.keepalive(conn, stop, log)

	return m.readLoop(conn, log)
}

func (m *Manager) register(conn *websocket.Conn) (string, error) {
	err := m.writeTo(conn, types.Register{Type: types.MessageRegister, IPAddress: m.session.AgentIP()})
	if err != nil {
		return "", errors.WithMessage(err, "send register")
	}

	if err := conn.SetReadDeadline(time.Now().Add(m.cfg.RegisterTimeout)); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrRegistrationTimeout
		}
		return "", errors.Wrap(err, "read register reply")
	}

	var reply types.RegisterReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", errors.Wrap(err, "decode register reply")
	}

	switch reply.Type {
	case types.MessageRegistered:
		if reply.DroneID == "" {
			return "", errors.WithMessage(ErrRegistrationRejected, "empty drone id")
		}
		return reply.DroneID, nil
	case types.MessageError:
		return "", errors.WithMessage(ErrRegistrationRejected, reply.Message)
	default:
		return "", errors.WithMessagef(ErrRegistrationRejected, "unexpected reply %q", reply.Type)
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, log zerolog.Logger) error {
	deadline := m.cfg.PingInterval + m.cfg.PingTimeout
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error { return extend() })

	for {
		if err := extend(); err != nil {
			return errors.Wrap(err, "set read deadline")
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		m.handlers.dispatch(log, data)
	}
}

func (m *Manager) keepalive(conn *websocket.Conn, stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.PingTimeout))
			m.writeMu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("Ping failed")
				conn.Close()
				return
			}
		}
	}
}

func (m *Manager) writeTo(conn *websocket.Conn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	return errors.Wrap(conn.WriteJSON(v), "write")
}

func (m *Manager) write(v interface{}) error {
	m.connMu.Lock()
	conn := m.conn
	m.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return m.writeTo(conn, v)
}

// Send wraps payload in an envelope and writes it, retrying transient
// failures. It fails at once with ErrNotConnected when there is no session.
func (m *Manager) Send(ctx context.Context, msgType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", msgType)
	}
	env := types.Envelope{Type: msgType, Timestamp: time.Now().UTC(), Payload: body}

	op := func() error {
		err := m.write(env)
		if errors.Is(err, ErrNotConnected) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		m.log.Warn().Err(err).Str("type", msgType).Dur("retry_in", next).Msg("Send failed")
	}

	if err := retry(ctx, m.cfg.Retry, m.timer, op, notify); err != nil {
		return errors.WithMessagef(err, "send %s", msgType)
	}
	return nil
}

// SendHeartbeat writes a flat heartbeat once. The next tick carries fresher
// data, so there is no retry.
func (m *Manager) SendHeartbeat(ctx context.Context, hb types.Heartbeat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hb.Type = types.MessageHeartbeat
	return errors.WithMessage(m.write(hb), "send heartbeat")
}

func (m *Manager) SendVideoFrame(ctx context.Context, frame, deliveryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(types.VideoFrame{Frame: frame, DeliveryID: deliveryID})
	if err != nil {
		return errors.Wrap(err, "encode video frame")
	}
	env := types.Envelope{Type: types.MessageVideoFrame, Timestamp: time.Now().UTC(), Payload: body}
	return errors.WithMessage(m.write(env), "send video frame")
}
