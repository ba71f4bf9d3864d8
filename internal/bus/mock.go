package bus

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
)

// Mock feeds synthetic telemetry for bench runs without a drone.
type Mock struct {
	sink     Sink
	log      zerolog.Logger
	interval time.Duration

	mu            sync.Mutex
	cancel        context.CancelFunc
	done          chan struct{}
	confirmations int
}

func NewMock(sink Sink, log zerolog.Logger) *Mock {
	return &Mock{sink: sink, log: log, interval: time.Second}
}

func (m *Mock) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	m.log.Info().Msg("Mock sensor bus started")
	return nil
}

func (m *Mock) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	start := time.Now()
	m.emit(0)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.emit(now.Sub(start).Seconds())
		}
	}
}

// emit publishes one sample: a slowly draining battery and a slow circle
// at a fixed altitude.
func (m *Mock) emit(elapsed float64) {
	voltage := math.Max(12.6-elapsed*0.001, 10.5)
	pct := (voltage - 10.5) / 2.1 * 100
	m.sink.OnBattery(telemetry.Battery{Voltage: voltage, Percentage: &pct})
	m.sink.OnPose(telemetry.Pose{
		X: 5 * math.Cos(elapsed/30),
		Y: 5 * math.Sin(elapsed/30),
		Z: 1.5,
	})
	m.sink.OnAltitude(1.5)
	m.sink.OnLinkState(telemetry.LinkState{Armed: true, Connected: true, Mode: "OFFBOARD"})
}

func (m *Mock) SendDropConfirmation() error {
	m.mu.Lock()
	m.confirmations++
	n := m.confirmations
	m.mu.Unlock()
	m.log.Info().Int("count", n).Msg("Mock drop confirmation")
	return nil
}

func (m *Mock) Close() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.log.Info().Msg("Mock sensor bus closed")
}
