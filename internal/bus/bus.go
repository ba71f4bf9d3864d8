// Package bus connects the agent to the drone's onboard sensor bus. Adapter
// callbacks run on the adapter's own goroutines and only ever call the Sink
// and FrameSink, which never block.
package bus

import (
	"context"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/bridge"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
)

type Sink interface {
	OnBattery(battery telemetry.Battery)
	OnPose(pose telemetry.Pose)
	OnAltitude(altitude float64)
	OnLinkState(state telemetry.LinkState)
	OnMilestone(kind bridge.Kind, pose telemetry.Pose)
}

type FrameSink interface {
	Store(jpeg []byte)
}

type Bus interface {
	Start(ctx context.Context) error
	SendDropConfirmation() error
	Close()
}
