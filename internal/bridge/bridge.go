// Package bridge moves sensor bus callbacks into the agent's network side.
//
// Bus adapters call the On* methods from their own goroutines. Telemetry
// samples are written straight into the shared snapshot. Milestone events
// are debounced per kind and queued; the mission service drains the queue
// whenever Ready fires.
package bridge

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
)

type Kind string

const (
	Arrival     Kind = "arrival"
	DropReady   Kind = "drop_ready"
	HomeArrival Kind = "home_arrival"
)

const (
	DefaultDebounceWindow = 5 * time.Second
	defaultHighWater      = 64
)

type Event struct {
	Kind       Kind
	Pose       telemetry.Pose
	ReceivedAt time.Time
}

type Bridge struct {
	snapshot  *telemetry.Snapshot
	log       zerolog.Logger
	window    time.Duration
	highWater int
	now       func() time.Time

	mu            sync.Mutex
	lastForwarded map[Kind]time.Time
	queue         []Event
	ready         chan struct{}
}

type Option func(*Bridge)

// WithDebounceWindow overrides the minimum gap between two forwarded
// milestones of the same kind.
func WithDebounceWindow(d time.Duration) Option {
	return func(b *Bridge) { b.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

func WithHighWater(n int) Option {
	return func(b *Bridge) { b.highWater = n }
}

func New(snapshot *telemetry.Snapshot, log zerolog.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		snapshot:      snapshot,
		log:           log,
		window:        DefaultDebounceWindow,
		highWater:     defaultHighWater,
		now:           time.Now,
		lastForwarded: make(map[Kind]time.Time),
		ready:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) Snapshot() *telemetry.Snapshot {
	return b.snapshot
}

func (b *Bridge) OnBattery(battery telemetry.Battery) {
	b.snapshot.SetBattery(battery)
}

func (b *Bridge) OnPose(pose telemetry.Pose) {
	b.snapshot.SetPose(pose)
}

func (b *Bridge) OnAltitude(altitude float64) {
	b.snapshot.SetAltitude(altitude)
}

func (b *Bridge) OnLinkState(state telemetry.LinkState) {
	b.snapshot.SetLinkState(state)
}

// OnMilestone queues a milestone unless another one of the same kind was
// forwarded less than the debounce window ago. It never blocks the caller.
func (b *Bridge) OnMilestone(kind Kind, pose telemetry.Pose) {
	now := b.now()

	b.mu.Lock()
	if last, seen := b.lastForwarded[kind]; seen && now.Sub(last) < b.window {
		b.mu.Unlock()
		b.log.Debug().Str("milestone", string(kind)).Msg("Milestone debounced")
		return
	}
	b.lastForwarded[kind] = now
	b.queue = append(b.queue, Event{Kind: kind, Pose: pose, ReceivedAt: now})
	backlog := len(b.queue)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}

	b.log.Info().Str("milestone", string(kind)).Msg("Milestone detected")
	if backlog > b.highWater {
		b.log.Warn().Int("backlog", backlog).Msg("Milestone queue over high-water mark")
	}
}

// Ready fires after at least one milestone was queued since the last Drain.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Drain returns all queued milestones in submission order.
func (b *Bridge) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.queue
	b.queue = nil
	return events
}
