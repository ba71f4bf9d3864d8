package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBridge(opts ...Option) (*Bridge, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(telemetry.NewSnapshot(), zerolog.Nop(), opts...), clock
}

func kinds(events []Event) []Kind {
	out := make([]Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestTelemetryBypassesQueue(t *testing.T) {
	b, _ := newTestBridge()

	b.OnBattery(telemetry.Battery{Voltage: 12.1})
	b.OnPose(telemetry.Pose{X: 1, Y: 2, Z: 3})
	b.OnAltitude(0.8)
	b.OnLinkState(telemetry.LinkState{Armed: true, Mode: "OFFBOARD"})

	battery, ok := b.Snapshot().Battery()
	require.True(t, ok)
	assert.Equal(t, 12.1, battery.Voltage)
	alt, ok := b.Snapshot().Altitude()
	require.True(t, ok)
	assert.Equal(t, 0.8, alt)

	select {
	case <-b.Ready():
		t.Fatal("telemetry must not wake the milestone consumer")
	default:
	}
	assert.Empty(t, b.Drain())
}

func TestMilestoneDebouncePerKind(t *testing.T) {
	b, clock := newTestBridge()

	b.OnMilestone(Arrival, telemetry.Pose{})
	clock.Advance(time.Second)
	b.OnMilestone(Arrival, telemetry.Pose{})  // within window
	b.OnMilestone(DropReady, telemetry.Pose{}) // other kind, independent
	clock.Advance(4 * time.Second)
	b.OnMilestone(Arrival, telemetry.Pose{}) // exactly 5s after first forward

	assert.Equal(t, []Kind{Arrival, DropReady, Arrival}, kinds(b.Drain()))
}

func TestDebounceMeasuredFromLastForwarded(t *testing.T) {
	b, clock := newTestBridge()

	b.OnMilestone(HomeArrival, telemetry.Pose{})
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		b.OnMilestone(HomeArrival, telemetry.Pose{})
	}
	clock.Advance(time.Second)
	b.OnMilestone(HomeArrival, telemetry.Pose{})

	assert.Len(t, b.Drain(), 2)
}

func TestReadyAndDrainPreserveOrder(t *testing.T) {
	b, _ := newTestBridge(WithDebounceWindow(0))

	b.OnMilestone(Arrival, telemetry.Pose{X: 1})
	b.OnMilestone(DropReady, telemetry.Pose{X: 2})
	b.OnMilestone(HomeArrival, telemetry.Pose{X: 3})

	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not signalled")
	}

	events := b.Drain()
	require.Len(t, events, 3)
	assert.Equal(t, []Kind{Arrival, DropReady, HomeArrival}, kinds(events))
	assert.Equal(t, 3.0, events[2].Pose.X)
	assert.Empty(t, b.Drain())
}

func TestOnMilestoneNeverBlocks(t *testing.T) {
	b, _ := newTestBridge(WithDebounceWindow(0), WithHighWater(8))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.OnMilestone(Arrival, telemetry.Pose{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked without a consumer")
	}
	assert.Len(t, b.Drain(), 500)
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	b, _ := newTestBridge(WithDebounceWindow(0))

	var wg sync.WaitGroup
	for _, k := range []Kind{Arrival, DropReady, HomeArrival} {
		wg.Add(1)
		go func(k Kind) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.OnMilestone(k, telemetry.Pose{X: float64(i)})
			}
		}(k)
	}
	wg.Wait()

	last := map[Kind]float64{Arrival: -1, DropReady: -1, HomeArrival: -1}
	events := b.Drain()
	require.Len(t, events, 600)
	for _, e := range events {
		assert.Greater(t, e.Pose.X, last[e.Kind])
		last[e.Kind] = e.Pose.X
	}
}
