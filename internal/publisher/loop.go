// Package publisher runs the periodic outbound streams: heartbeat telemetry
// and camera frames.
package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/session"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/types"
)

// Link is the part of the connection manager the publishers write to.
type Link interface {
	IsConnected() bool
	SendHeartbeat(ctx context.Context, hb types.Heartbeat) error
	SendVideoFrame(ctx context.Context, frame, deliveryID string) error
}

// loop calls tick every interval while the agent is connected and
// registered. Ticks that find it offline are skipped, not queued.
type loop struct {
	name     string
	interval time.Duration
	link     Link
	session  *session.Session
	tick     func(ctx context.Context)
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) ready() bool {
	return l.link.IsConnected() && l.session.Registered()
}

func (l *loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.log.Warn().Str("publisher", l.name).Msg("Publisher already running")
		return
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	l.log.Info().Str("publisher", l.name).Dur("interval", l.interval).Msg("Publisher started")
}

func (l *loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.log.Info().Str("publisher", l.name).Msg("Publisher stopped")
}

func (l *loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.ready() {
				continue
			}
			l.tick(ctx)
		}
	}
}
