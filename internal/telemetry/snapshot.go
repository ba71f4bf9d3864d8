// Package telemetry keeps the latest readings reported by the drone.
package telemetry

import (
	"sync/atomic"
)

type Battery struct {
	Voltage    float64
	Percentage *float64
	Current    *float64
}

// Orientation is a unit quaternion.
type Orientation struct {
	X, Y, Z, W float64
}

type Pose struct {
	X           float64
	Y           float64
	Z           float64
	Orientation *Orientation
}

// LinkState is the flight controller connection state.
type LinkState struct {
	Armed     bool
	Connected bool
	Mode      string
}

// Snapshot holds the latest known value of every telemetry field. Fields are
// replaced wholesale and independently, so a reader never observes a torn
// value but may observe battery and pose from different moments.
type Snapshot struct {
	battery  atomic.Pointer[Battery]
	pose     atomic.Pointer[Pose]
	altitude atomic.Pointer[float64]
	link     atomic.Pointer[LinkState]
}

func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

func (s *Snapshot) SetBattery(b Battery) { s.battery.Store(&b) }

func (s *Snapshot) SetPose(p Pose) { s.pose.Store(&p) }

func (s *Snapshot) SetAltitude(a float64) { s.altitude.Store(&a) }

func (s *Snapshot) SetLinkState(l LinkState) { s.link.Store(&l) }

// Battery returns the latest battery sample and whether one arrived yet.
func (s *Snapshot) Battery() (Battery, bool) {
	b := s.battery.Load()
	if b == nil {
		return Battery{}, false
	}
	return *b, true
}

func (s *Snapshot) Pose() (Pose, bool) {
	p := s.pose.Load()
	if p == nil {
		return Pose{}, false
	}
	return *p, true
}

func (s *Snapshot) Altitude() (float64, bool) {
	a := s.altitude.Load()
	if a == nil {
		return 0, false
	}
	return *a, true
}

func (s *Snapshot) LinkState() (LinkState, bool) {
	l := s.link.Load()
	if l == nil {
		return LinkState{}, false
	}
	return *l, true
}
