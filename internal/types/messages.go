// Package types defines the JSON messages exchanged with the drone service.
package types

import (
	"encoding/json"
	"time"
)

// Message type tags exchanged with the drone service.
const (
	MessageRegister       = "register"
	MessageRegistered     = "registered"
	MessageError          = "error"
	MessageHeartbeat      = "heartbeat"
	MessageDeliveryTask   = "delivery_task"
	MessageCommand        = "command"
	MessageStatusUpdate   = "status_update"
	MessageDeliveryUpdate = "delivery_update"
	MessageVideoFrame     = "video_frame"
)

// Commands carried inside a "command" message.
const (
	CommandDropCargo      = "drop_cargo"
	CommandCancelDelivery = "cancel_delivery"
	CommandReturnToBase   = "return_to_base"
)

// Drone statuses reported to the backend.
const (
	DroneStatusIdle                 = "idle"
	DroneStatusFlying               = "flying"
	DroneStatusArrivedAtDestination = "arrived_at_destination"
)

// Envelope is the typed wrapper of every outbound update and every inbound
// task or command.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Register is the first message of every connection session.
type Register struct {
	Type      string `json:"type"`
	IPAddress string `json:"ip_address"`
}

// RegisterReply is either "registered" with a drone id or "error" with a message.
type RegisterReply struct {
	Type    string `json:"type"`
	DroneID string `json:"drone_id"`
	Message string `json:"message"`
}

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Heartbeat is sent flat, without the envelope.
type Heartbeat struct {
	Type         string   `json:"type"`
	BatteryLevel float64  `json:"battery_level"`
	Position     Position `json:"position"`
	Status       string   `json:"status"`
	Speed        float64  `json:"speed"`
}

type StatusUpdate struct {
	Status       string   `json:"status"`
	BatteryLevel float64  `json:"battery_level"`
	Position     Position `json:"position"`
	Speed        float64  `json:"speed"`
}

type DeliveryUpdate struct {
	DeliveryID      string `json:"delivery_id"`
	DroneStatus     string `json:"drone_status"`
	OrderID         string `json:"order_id"`
	ParcelAutomatID string `json:"parcel_automat_id"`
}

type VideoFrame struct {
	Frame      string `json:"frame"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

type Dimensions struct {
	Weight float64 `json:"weight"`
	Height float64 `json:"height"`
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
}

// DeliveryTask is the payload of an inbound "delivery_task" message. Marker
// ids are pointers so that an absent field can fall back to a default.
type DeliveryTask struct {
	DeliveryID      string      `json:"delivery_id"`
	OrderID         string      `json:"order_id"`
	GoodID          string      `json:"good_id"`
	ParcelAutomatID string      `json:"parcel_automat_id"`
	TargetArucoID   *int        `json:"target_aruco_id"`
	ArucoID         *int        `json:"aruco_id"`
	HomeArucoID     *int        `json:"home_aruco_id"`
	Coordinates     string      `json:"coordinates"`
	InternalCellID  *string     `json:"internal_cell_id"`
	Dimensions      *Dimensions `json:"dimensions"`
}

// Command is the payload of an inbound "command" message. The drone service
// names most commands in "command"; return_to_base is named in "type" and
// carries its arguments in a nested payload.
type Command struct {
	Command        string          `json:"command"`
	Type           string          `json:"type"`
	OrderID        string          `json:"order_id"`
	CellID         string          `json:"cell_id"`
	InternalCellID *string         `json:"internal_cell_id"`
	Payload        json.RawMessage `json:"payload"`
}

// Name returns the command name regardless of which field carries it.
func (c Command) Name() string {
	if c.Command != "" {
		return c.Command
	}
	return c.Type
}

type ReturnToBase struct {
	DeliveryID   string `json:"delivery_id"`
	BaseMarkerID *int   `json:"base_marker_id"`
}
