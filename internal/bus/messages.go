package bus

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
)

// JSON renditions of the robot messages published on the sensor bus.

type batteryState struct {
	Voltage    float64  `json:"voltage"`
	Percentage float64  `json:"percentage"`
	Current    *float64 `json:"current"`
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type poseStamped struct {
	Pose struct {
		Position    point       `json:"position"`
		Orientation *quaternion `json:"orientation"`
	} `json:"pose"`
}

type rangeMsg struct {
	Range float64 `json:"range"`
}

type vehicleState struct {
	Armed     bool   `json:"armed"`
	Connected bool   `json:"connected"`
	Mode      string `json:"mode"`
}

type boolMsg struct {
	Data bool `json:"data"`
}

func decodeBattery(payload []byte) (telemetry.Battery, error) {
	var msg batteryState
	if err := json.Unmarshal(payload, &msg); err != nil {
		return telemetry.Battery{}, errors.Wrap(err, "decode battery state")
	}
	b := telemetry.Battery{Voltage: msg.Voltage, Current: msg.Current}
	if msg.Percentage > 0 {
		pct := msg.Percentage * 100
		b.Percentage = &pct
	}
	return b, nil
}

func decodePose(payload []byte) (telemetry.Pose, error) {
	var msg poseStamped
	if err := json.Unmarshal(payload, &msg); err != nil {
		return telemetry.Pose{}, errors.Wrap(err, "decode pose")
	}
	p := msg.Pose.Position
	pose := telemetry.Pose{X: p.X, Y: p.Y, Z: p.Z}
	if q := msg.Pose.Orientation; q != nil {
		pose.Orientation = &telemetry.Orientation{X: q.X, Y: q.Y, Z: q.Z, W: q.W}
	}
	return pose, nil
}

func decodeRange(payload []byte) (float64, error) {
	var msg rangeMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return 0, errors.Wrap(err, "decode range")
	}
	return msg.Range, nil
}

func decodeState(payload []byte) (telemetry.LinkState, error) {
	var msg vehicleState
	if err := json.Unmarshal(payload, &msg); err != nil {
		return telemetry.LinkState{}, errors.Wrap(err, "decode vehicle state")
	}
	return telemetry.LinkState{Armed: msg.Armed, Connected: msg.Connected, Mode: msg.Mode}, nil
}
