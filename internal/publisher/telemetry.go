package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/session"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/types"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	unknownBatteryLevel      = 100.0
)

type Telemetry struct {
	loop
	snapshot *telemetry.Snapshot
}

func NewTelemetry(link Link, sess *session.Session, snapshot *telemetry.Snapshot, interval time.Duration, log zerolog.Logger) *Telemetry {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	t := &Telemetry{snapshot: snapshot}
	t.loop = loop{name: "telemetry", interval: interval, link: link, session: sess, log: log, tick: t.publish}
	return t
}

func (t *Telemetry) publish(ctx context.Context) {
	hb := heartbeatFrom(t.snapshot)
	if err := t.link.SendHeartbeat(ctx, hb); err != nil {
		t.log.Warn().Err(err).Msg("Heartbeat not sent")
		return
	}
	t.log.Debug().Float64("battery_level", hb.BatteryLevel).Str("status", hb.Status).Msg("Heartbeat sent")
}

// heartbeatFrom reports the battery voltage as battery_level; the drone
// service has always read it that way.
func heartbeatFrom(s *telemetry.Snapshot) types.Heartbeat {
	hb := types.Heartbeat{
		Type:         types.MessageHeartbeat,
		BatteryLevel: unknownBatteryLevel,
		Status:       types.DroneStatusIdle,
	}
	if b, ok := s.Battery(); ok {
		hb.BatteryLevel = b.Voltage
	}
	if p, ok := s.Pose(); ok {
		hb.Position = types.Position{Latitude: p.X, Longitude: p.Y, Altitude: p.Z}
	}
	if l, ok := s.LinkState(); ok && l.Armed {
		hb.Status = types.DroneStatusFlying
	}
	return hb
}
