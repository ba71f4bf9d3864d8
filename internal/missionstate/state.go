// Package missionstate tracks the single active delivery mission.
//
// Machine is not safe for concurrent use. The mission service goroutine is
// its only owner.
package missionstate

import (
	"github.com/rs/zerolog"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/types"
)

type State string

const (
	Pending             State = "pending"
	TakingOff           State = "taking_off"
	Navigating          State = "navigating"
	Landing             State = "landing"
	Arrived             State = "arrived"
	WaitingConfirmation State = "waiting_confirmation"
	Dropping            State = "dropping"
	Returning           State = "returning"
	Completed           State = "completed"
	Failed              State = "failed"
	Cancelled           State = "cancelled"
)

type Mission struct {
	DeliveryID      string
	OrderID         string
	GoodID          string
	ParcelAutomatID string
	TargetMarkerID  int
	HomeMarkerID    int
	Coordinates     string
	InternalCellID  *string
	Dimensions      *types.Dimensions
	State           State
}

// MilestoneID is the key of a forwarded milestone in the delivered set.
func MilestoneID(deliveryID, milestone string) string {
	return deliveryID + "_" + milestone
}

type Machine struct {
	log       zerolog.Logger
	mission   *Mission
	delivered map[string]struct{}
}

func New(log zerolog.Logger) *Machine {
	return &Machine{
		log:       log,
		delivered: make(map[string]struct{}),
	}
}

// SetMission installs m in Pending, replacing any previous mission and
// forgetting its delivered milestones.
func (m *Machine) SetMission(mission Mission) {
	if m.mission != nil {
		m.log.Info().
			Str("previous_delivery_id", m.mission.DeliveryID).
			Str("previous_state", string(m.mission.State)).
			Msg("Replacing active mission")
	}
	mission.State = Pending
	m.mission = &mission
	m.delivered = make(map[string]struct{})
	m.log.Info().Str("delivery_id", mission.DeliveryID).Msg("Mission set")
}

// Transition overwrites the mission state. Any state may follow any other.
func (m *Machine) Transition(state State) {
	if m.mission == nil {
		m.log.Warn().Str("state", string(state)).Msg("No active mission, transition ignored")
		return
	}
	m.log.Info().
		Str("delivery_id", m.mission.DeliveryID).
		Str("from", string(m.mission.State)).
		Str("to", string(state)).
		Msg("Mission state changed")
	m.mission.State = state
}

func (m *Machine) HasDelivered(id string) bool {
	_, ok := m.delivered[id]
	return ok
}

func (m *Machine) MarkDelivered(id string) {
	m.delivered[id] = struct{}{}
}

func (m *Machine) Clear() {
	if m.mission != nil {
		m.log.Info().Str("delivery_id", m.mission.DeliveryID).Msg("Mission cleared")
	}
	m.mission = nil
	m.delivered = make(map[string]struct{})
}

func (m *Machine) CurrentState() (State, bool) {
	if m.mission == nil {
		return "", false
	}
	return m.mission.State, true
}

// Current returns a copy of the active mission.
func (m *Machine) Current() (Mission, bool) {
	if m.mission == nil {
		return Mission{}, false
	}
	return *m.mission, true
}
