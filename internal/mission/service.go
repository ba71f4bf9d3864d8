// Package mission drives a delivery from task to home arrival. One goroutine
// owns the state machine and reacts to backend tasks, backend commands and
// milestones coming from the drone.
package mission

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/bridge"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/connection"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/launcher"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/missionstate"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/types"
)

const (
	DefaultTargetMarker = 135
	DefaultHomeMarker   = 131

	milestoneArrived = "arrived"
	inboxSize        = 32
)

type Sender interface {
	Send(ctx context.Context, msgType string, payload interface{}) error
}

type FlightLauncher interface {
	Launch(leg launcher.Leg, target, home int) bool
	Terminate()
}

type DropSignaller interface {
	SendDropConfirmation() error
}

type Milestones interface {
	Ready() <-chan struct{}
	Drain() []bridge.Event
}

type Registrar interface {
	Handle(msgType string, fn connection.HandlerFunc)
}

type inboxMessage struct {
	msgType string
	payload json.RawMessage
}

type Service struct {
	sender     Sender
	launcher   FlightLauncher
	drop       DropSignaller
	milestones Milestones
	snapshot   *telemetry.Snapshot
	log        zerolog.Logger

	machine *missionstate.Machine
	active  atomic.Pointer[missionstate.Mission]
	inbox   chan inboxMessage

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(sender Sender, fl FlightLauncher, drop DropSignaller, milestones Milestones, snapshot *telemetry.Snapshot, log zerolog.Logger) *Service {
	return &Service{
		sender:     sender,
		launcher:   fl,
		drop:       drop,
		milestones: milestones,
		snapshot:   snapshot,
		log:        log,
		machine:    missionstate.New(log),
		inbox:      make(chan inboxMessage, inboxSize),
		done:       make(chan struct{}),
	}
}

// Bind routes inbound tasks and commands into the service inbox.
func (s *Service) Bind(r Registrar) {
	r.Handle(types.MessageDeliveryTask, func(p json.RawMessage) { s.Receive(types.MessageDeliveryTask, p) })
	r.Handle(types.MessageCommand, func(p json.RawMessage) { s.Receive(types.MessageCommand, p) })
}

// Receive queues an inbound message. After Stop it drops the message.
func (s *Service) Receive(msgType string, payload json.RawMessage) {
	select {
	case s.inbox <- inboxMessage{msgType: msgType, payload: payload}:
	case <-s.done:
		s.log.Warn().Str("type", msgType).Msg("Mission service stopped, message dropped")
	}
}

// Active returns a copy of the mission as of the last handled event.
func (s *Service) Active() (missionstate.Mission, bool) {
	m := s.active.Load()
	if m == nil {
		return missionstate.Mission{}, false
	}
	return *m, true
}

// Start runs the message loop. The service runs at most once.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.log.Warn().Msg("Mission service already started")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.runMessageLoop(ctx)
}

// Stop cancels the loop and waits for the event in progress to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

func (s *Service) runMessageLoop(ctx context.Context) {
	defer close(s.done)
	s.log.Info().Msg("Mission service started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Mission service shutting down")
			return
		case msg := <-s.inbox:
			switch msg.msgType {
			case types.MessageDeliveryTask:
				s.handleTask(msg.payload)
			case types.MessageCommand:
				s.handleCommand(ctx, msg.payload)
			}
		case <-s.milestones.Ready():
			for _, ev := range s.milestones.Drain() {
				s.handleMilestone(ctx, ev)
			}
		}
		s.publishActive()
	}
}

func (s *Service) publishActive() {
	if m, ok := s.machine.Current(); ok {
		s.active.Store(&m)
		return
	}
	s.active.Store(nil)
}

func missionFromTask(task types.DeliveryTask) missionstate.Mission {
	target := DefaultTargetMarker
	switch {
	case task.TargetArucoID != nil:
		target = *task.TargetArucoID
	case task.ArucoID != nil:
		target = *task.ArucoID
	}
	home := DefaultHomeMarker
	if task.HomeArucoID != nil {
		home = *task.HomeArucoID
	}
	return missionstate.Mission{
		DeliveryID:      task.DeliveryID,
		OrderID:         task.OrderID,
		GoodID:          task.GoodID,
		ParcelAutomatID: task.ParcelAutomatID,
		TargetMarkerID:  target,
		HomeMarkerID:    home,
		Coordinates:     task.Coordinates,
		InternalCellID:  task.InternalCellID,
		Dimensions:      task.Dimensions,
	}
}

func (s *Service) handleTask(payload json.RawMessage) {
	var task types.DeliveryTask
	err := json.Unmarshal(payload, &task)
	if err == nil && task.DeliveryID == "" {
		err = errors.New("missing delivery_id")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Malformed delivery task")
		if _, ok := s.machine.Current(); ok {
			s.machine.Transition(missionstate.Failed)
		}
		return
	}

	m := missionFromTask(task)
	s.log.Info().
		Str("delivery_id", m.DeliveryID).
		Str("order_id", m.OrderID).
		Str("parcel_automat_id", m.ParcelAutomatID).
		Int("target_marker", m.TargetMarkerID).
		Int("home_marker", m.HomeMarkerID).
		Msg("Delivery task received")

	s.machine.SetMission(m)
	if !s.launcher.Launch(launcher.Outbound, m.TargetMarkerID, m.HomeMarkerID) {
		s.log.Error().Str("delivery_id", m.DeliveryID).Msg("Failed to launch delivery flight")
		s.machine.Transition(missionstate.Failed)
		return
	}
	s.machine.Transition(missionstate.TakingOff)
}

func (s *Service) handleMilestone(ctx context.Context, ev bridge.Event) {
	m, ok := s.machine.Current()
	if !ok {
		s.log.Warn().Str("milestone", string(ev.Kind)).Msg("Milestone without active mission")
		return
	}

	switch ev.Kind {
	case bridge.Arrival:
		s.onArrival(ctx, m)
	case bridge.DropReady:
		s.machine.Transition(missionstate.WaitingConfirmation)
		s.log.Info().Str("delivery_id", m.DeliveryID).Msg("Cargo drop ready, waiting for confirmation")
	case bridge.HomeArrival:
		s.onHomeArrival(ctx, m)
	default:
		s.log.Warn().Str("milestone", string(ev.Kind)).Msg("Unknown milestone")
	}
}

func (s *Service) onArrival(ctx context.Context, m missionstate.Mission) {
	id := missionstate.MilestoneID(m.DeliveryID, milestoneArrived)
	if s.machine.HasDelivered(id) {
		s.log.Debug().Str("milestone_id", id).Msg("Arrival already reported")
		return
	}

	s.machine.Transition(missionstate.Arrived)
	err := s.sender.Send(ctx, types.MessageDeliveryUpdate, types.DeliveryUpdate{
		DeliveryID:      m.DeliveryID,
		DroneStatus:     types.DroneStatusArrivedAtDestination,
		OrderID:         m.OrderID,
		ParcelAutomatID: m.ParcelAutomatID,
	})
	if err != nil {
		s.log.Error().Err(err).Str("delivery_id", m.DeliveryID).Msg("Failed to report arrival")
		return
	}
	s.machine.MarkDelivered(id)
	s.log.Info().Str("delivery_id", m.DeliveryID).Msg("Arrival reported")
}

func (s *Service) onHomeArrival(ctx context.Context, m missionstate.Mission) {
	s.machine.Transition(missionstate.Completed)
	s.log.Info().Str("delivery_id", m.DeliveryID).Msg("Returned to home base, mission completed")

	update := types.StatusUpdate{Status: types.DroneStatusIdle, BatteryLevel: 100}
	if b, ok := s.snapshot.Battery(); ok {
		update.BatteryLevel = b.Voltage
	}
	if p, ok := s.snapshot.Pose(); ok {
		update.Position = types.Position{Latitude: p.X, Longitude: p.Y, Altitude: p.Z}
	}
	if err := s.sender.Send(ctx, types.MessageStatusUpdate, update); err != nil {
		s.log.Error().Err(err).Msg("Failed to report idle status")
	}
	s.machine.Clear()
}

func (s *Service) handleCommand(ctx context.Context, payload json.RawMessage) {
	var cmd types.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		s.log.Error().Err(err).Msg("Malformed command")
		return
	}

	switch cmd.Name() {
	case types.CommandDropCargo:
		s.dropCargo(cmd)
	case types.CommandCancelDelivery:
		s.cancelDelivery()
	case types.CommandReturnToBase:
		s.returnToBase(cmd)
	default:
		s.log.Warn().Str("command", cmd.Name()).Msg("Unknown command")
	}
}

func (s *Service) dropCargo(cmd types.Command) {
	m, ok := s.machine.Current()
	if !ok {
		s.log.Warn().Msg("Drop command without active mission")
		return
	}

	internalCell := ""
	if cmd.InternalCellID != nil {
		internalCell = *cmd.InternalCellID
	}
	s.log.Info().
		Str("delivery_id", m.DeliveryID).
		Str("order_id", cmd.OrderID).
		Str("cell_id", cmd.CellID).
		Str("internal_cell_id", internalCell).
		Msg("Drop cargo command received")

	s.machine.Transition(missionstate.Dropping)
	if err := s.drop.SendDropConfirmation(); err != nil {
		s.log.Error().Err(err).Msg("Failed to signal drop confirmation")
		return
	}
	s.log.Info().Msg("Drop confirmation signalled")
}

func (s *Service) cancelDelivery() {
	m, ok := s.machine.Current()
	if !ok {
		s.log.Warn().Msg("Cancel command without active mission")
		return
	}
	s.log.Info().Str("delivery_id", m.DeliveryID).Msg("Delivery cancelled")
	s.launcher.Terminate()
	s.machine.Transition(missionstate.Cancelled)
	s.machine.Clear()
}

func (s *Service) returnToBase(cmd types.Command) {
	var args types.ReturnToBase
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &args); err != nil {
			s.log.Error().Err(err).Msg("Malformed return_to_base arguments")
			return
		}
	}

	m, active := s.machine.Current()
	base := DefaultHomeMarker
	if active {
		base = m.HomeMarkerID
	}
	if args.BaseMarkerID != nil {
		base = *args.BaseMarkerID
	}

	s.log.Info().Str("delivery_id", args.DeliveryID).Int("base_marker", base).Msg("Return to base requested")
	if !s.launcher.Launch(launcher.Return, 0, base) {
		s.log.Error().Int("base_marker", base).Msg("Failed to launch return flight")
		return
	}
	if active {
		s.machine.Transition(missionstate.Returning)
	}
}
