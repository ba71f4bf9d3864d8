// Package agent wires the drone agent together and owns its lifecycle.
package agent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/bridge"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/bus"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/camera"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/config"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/connection"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/launcher"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/logger"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/mission"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/publisher"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/session"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
)

type Agent struct {
	cfg *config.Config
	log zerolog.Logger

	session  *session.Session
	bridge   *bridge.Bridge
	frames   *camera.Frames
	launcher *launcher.Launcher
	conn     *connection.Manager
	mission  *mission.Service
	heart    *publisher.Telemetry
	video    *publisher.Video
	bus      bus.Bus
}

func New(cfg *config.Config, log zerolog.Logger) (*Agent, error) {
	a := &Agent{
		cfg:     cfg,
		log:     log,
		session: session.New(cfg.DroneIP),
		frames:  camera.NewFrames(),
	}

	a.bridge = bridge.New(telemetry.NewSnapshot(), logger.Component(log, "bridge"),
		bridge.WithDebounceWindow(cfg.DebounceDuration()))

	a.launcher = launcher.New(launcher.Config{
		Interpreter: cfg.PythonBin,
		ScriptsDir:  cfg.ScriptsDir,
	}, logger.Component(log, "launcher"))

	connCfg := connection.Config{
		URL:               cfg.WebSocketURL(),
		ReconnectInterval: cfg.ReconnectDuration(),
	}
	if cfg.PrivateKey != "" {
		tokens, err := connection.LoadTokenSource(cfg.PrivateKey, cfg.DroneIP, "")
		if err != nil {
			return nil, errors.WithMessage(err, "backend credentials")
		}
		connCfg.Tokens = tokens
	}
	a.conn = connection.New(connCfg, a.session, logger.Component(log, "connection"))

	switch cfg.Bus {
	case config.BusMock:
		a.bus = bus.NewMock(a.bridge, logger.Component(log, "bus"))
	default:
		a.bus = bus.NewMQTT(bus.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, a.bridge, a.frames, logger.Component(log, "bus"))
	}

	a.mission = mission.New(a.conn, a.launcher, a.bus, a.bridge, a.bridge.Snapshot(), logger.Component(log, "mission"))
	a.mission.Bind(a.conn)

	a.heart = publisher.NewTelemetry(a.conn, a.session, a.bridge.Snapshot(), cfg.HeartbeatDuration(),
		logger.Component(log, "telemetry"))
	a.video = publisher.NewVideo(a.conn, a.session, a.frames, a.activeDeliveryID, cfg.VideoFPS,
		logger.Component(log, "video"))

	return a, nil
}

func (a *Agent) activeDeliveryID() string {
	if m, ok := a.mission.Active(); ok {
		return m.DeliveryID
	}
	return ""
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in order: publishers, mission service, connection, flight process,
// sensor bus.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info().
		Str("drone_ip", a.cfg.DroneIP).
		Str("backend", a.cfg.WebSocketURL()).
		Str("bus", a.cfg.Bus).
		Msg("Starting drone agent")

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := a.bus.Start(busCtx); err != nil && busCtx.Err() == nil {
			a.log.Error().Err(err).Msg("Sensor bus failed to start")
		}
	}()

	a.mission.Start(context.Background())

	connCtx, stopConn := context.WithCancel(context.Background())
	defer stopConn()
	connDone := make(chan struct{})
	go func() {
		defer close(connDone)
		a.conn.Run(connCtx)
	}()

	a.heart.Start(context.Background())
	a.video.Start(context.Background())

	<-ctx.Done()

	a.heart.Stop()
	a.video.Stop()
	a.mission.Stop()
	stopConn()
	<-connDone
	a.launcher.Terminate()
	stopBus()
	<-busDone
	a.bus.Close()

	a.log.Info().Msg("Drone agent stopped")
	return nil
}
