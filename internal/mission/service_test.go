package mission

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/bridge"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/connection"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/launcher"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/missionstate"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/telemetry"
	"github.com/skr1ms/SkyPostDelivery/drone-agent/internal/types"
)

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, msgType string, payload interface{}) error {
	return m.Called(ctx, msgType, payload).Error(0)
}

type mockLauncher struct{ mock.Mock }

func (m *mockLauncher) Launch(leg launcher.Leg, target, home int) bool {
	return m.Called(leg, target, home).Bool(0)
}

func (m *mockLauncher) Terminate() { m.Called() }

type mockDrop struct{ mock.Mock }

func (m *mockDrop) SendDropConfirmation() error { return m.Called().Error(0) }

type registrar map[string]connection.HandlerFunc

func (r registrar) Handle(msgType string, fn connection.HandlerFunc) { r[msgType] = fn }

type fixture struct {
	svc      *Service
	sender   *mockSender
	launcher *mockLauncher
	drop     *mockDrop
	bridge   *bridge.Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sender:   &mockSender{},
		launcher: &mockLauncher{},
		drop:     &mockDrop{},
	}
	f.bridge = bridge.New(telemetry.NewSnapshot(), zerolog.Nop(), bridge.WithDebounceWindow(0))
	f.svc = New(f.sender, f.launcher, f.drop, f.bridge, f.bridge.Snapshot(), zerolog.Nop())
	return f
}

func (f *fixture) state(t *testing.T) missionstate.State {
	t.Helper()
	s, ok := f.svc.machine.CurrentState()
	require.True(t, ok, "expected an active mission")
	return s
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

var ctx = context.Background()

func TestTaskLaunchesOutboundFlight(t *testing.T) {
	f := newFixture(t)
	f.launcher.On("Launch", launcher.Outbound, 135, 131).Return(true).Once()

	f.svc.handleTask(raw(t, map[string]interface{}{"delivery_id": "D1", "target_aruco_id": 135}))

	assert.Equal(t, missionstate.TakingOff, f.state(t))
	f.launcher.AssertExpectations(t)
}

func TestTaskMarkerFallbacks(t *testing.T) {
	f := newFixture(t)
	f.launcher.On("Launch", launcher.Outbound, 140, 131).Return(true).Once()
	f.svc.handleTask(raw(t, map[string]interface{}{"delivery_id": "D1", "aruco_id": 140}))

	f.launcher.On("Launch", launcher.Outbound, 135, 120).Return(true).Once()
	f.svc.handleTask(raw(t, map[string]interface{}{"delivery_id": "D2", "home_aruco_id": 120}))

	f.launcher.On("Launch", launcher.Outbound, 150, 131).Return(true).Once()
	f.svc.handleTask(raw(t, map[string]interface{}{"delivery_id": "D3", "target_aruco_id": 150, "aruco_id": 140}))

	f.launcher.AssertExpectations(t)
}

func TestTaskKeepsOptionalFields(t *testing.T) {
	f := newFixture(t)
	f.launcher.On("Launch", launcher.Outbound, 135, 131).Return(true)

	f.svc.handleTask(json.RawMessage(`{
		"delivery_id": "D1", "order_id": "O1", "good_id": "G1", "parcel_automat_id": "P1",
		"coordinates": "55.75,37.61", "internal_cell_id": "C7",
		"dimensions": {"weight": 1.5, "height": 10, "length": 20, "width": 30}
	}`))

	m, ok := f.svc.machine.Current()
	require.True(t, ok)
	assert.Equal(t, "G1", m.GoodID)
	assert.Equal(t, "55.75,37.61", m.Coordinates)
	require.NotNil(t, m.InternalCellID)
	assert.Equal(t, "C7", *m.InternalCellID)
	assert.Equal(t, &types.Dimensions{Weight: 1.5, Height: 10, Length: 20, Width: 30}, m.Dimensions)
}

func TestLaunchFailureFailsMission(t *testing.T) {
	f := newFixture(t)
	f.launcher.On("Launch", launcher.Outbound, 135, 131).Return(false).Once()

	f.svc.handleTask(raw(t, map[string]interface{}{"delivery_id": "D1"}))

	assert.Equal(t, missionstate.Failed, f.state(t))
}

func TestMalformedTask(t *testing.T) {
	f := newFixture(t)

	f.svc.handleTask(json.RawMessage(`{"delivery_id": 12`))
	_, ok := f.svc.machine.Current()
	assert.False(t, ok, "no mission is created from a malformed task")

	f.launcher.On("Launch", launcher.Outbound, 135, 131).Return(true).Once()
	f.svc.handleTask(raw(t, map[string]interface{}{"delivery_id": "D1"}))
	f.svc.handleTask(json.RawMessage(`{"order_id": "O2"}`))

	assert.Equal(t, missionstate.Failed, f.state(t))
	f.launcher.AssertNumberOfCalls(t, "Launch", 1)
}

func startMission(t *testing.T, f *fixture, id string) {
	t.Helper()
	f.launcher.On("Launch", launcher.Outbound, 135, 131).Return(true).Once()
	f.svc.handleTask(raw(t, map[string]interface{}{
		"delivery_id": id, "order_id": "O-" + id, "parcel_automat_id": "P1",
	}))
}

func arrivalUpdate(id string) types.DeliveryUpdate {
	return types.DeliveryUpdate{
		DeliveryID:      id,
		DroneStatus:     types.DroneStatusArrivedAtDestination,
		OrderID:         "O-" + id,
		ParcelAutomatID: "P1",
	}
}

func TestArrivalIsReportedOnce(t *testing.T) {
	f := newFixture(t)
	startMission(t, f, "D1")
	f.sender.On("Send", mock.Anything, types.MessageDeliveryUpdate, arrivalUpdate("D1")).Return(nil).Once()

	for i := 0; i < 5; i++ {
		f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.Arrival})
	}

	assert.Equal(t, missionstate.Arrived, f.state(t))
	f.sender.AssertExpectations(t)
	f.sender.AssertNumberOfCalls(t, "Send", 1)
}

func TestNewMissionResetsArrivalDedup(t *testing.T) {
	f := newFixture(t)
	startMission(t, f, "D1")
	f.sender.On("Send", mock.Anything, types.MessageDeliveryUpdate, arrivalUpdate("D1")).Return(nil).Once()
	f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.Arrival})

	startMission(t, f, "D2")
	f.sender.On("Send", mock.Anything, types.MessageDeliveryUpdate, arrivalUpdate("D2")).Return(nil).Once()
	f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.Arrival})

	f.sender.AssertExpectations(t)
}

func TestFailedArrivalReportCanBeRetried(t *testing.T) {
	f := newFixture(t)
	startMission(t, f, "D1")
	f.sender.On("Send", mock.Anything, types.MessageDeliveryUpdate, arrivalUpdate("D1")).
		Return(errors.New("connection reset")).Once()
	f.sender.On("Send", mock.Anything, types.MessageDeliveryUpdate, arrivalUpdate("D1")).Return(nil).Once()

	f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.Arrival})
	assert.False(t, f.svc.machine.HasDelivered("D1_arrived"))

	f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.Arrival})
	assert.True(t, f.svc.machine.HasDelivered("D1_arrived"))
	f.sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestMilestonesWithoutMissionAreIgnored(t *testing.T) {
	f := newFixture(t)

	for _, k := range []bridge.Kind{bridge.Arrival, bridge.DropReady, bridge.HomeArrival} {
		f.svc.handleMilestone(ctx, bridge.Event{Kind: k})
	}

	_, ok := f.svc.machine.Current()
	assert.False(t, ok)
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestDropReadyWaitsWithoutSending(t *testing.T) {
	f := newFixture(t)
	startMission(t, f, "D1")

	f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.DropReady})

	assert.Equal(t, missionstate.WaitingConfirmation, f.state(t))
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestHomeArrivalCompletesAndClears(t *testing.T) {
	f := newFixture(t)
	startMission(t, f, "D1")
	f.sender.On("Send", mock.Anything, types.MessageStatusUpdate, types.StatusUpdate{
		Status:       types.DroneStatusIdle,
		BatteryLevel: 100,
	}).Return(nil).Once()

	f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.HomeArrival})

	_, ok := f.svc.machine.CurrentState()
	assert.False(t, ok)
	f.sender.AssertExpectations(t)
}

func TestHomeArrivalUsesKnownTelemetry(t *testing.T) {
	f := newFixture(t)
	f.bridge.OnBattery(telemetry.Battery{Voltage: 11.4})
	f.bridge.OnPose(telemetry.Pose{X: 1, Y: 2, Z: 0.1})
	startMission(t, f, "D1")
	f.sender.On("Send", mock.Anything, types.MessageStatusUpdate, types.StatusUpdate{
		Status:       types.DroneStatusIdle,
		BatteryLevel: 11.4,
		Position:     types.Position{Latitude: 1, Longitude: 2, Altitude: 0.1},
	}).Return(nil).Once()

	f.svc.handleMilestone(ctx, bridge.Event{Kind: bridge.HomeArrival})

	f.sender.AssertExpectations(t)
}

func TestDropCargoCommand(t *testing.T) {
	f := newFixture(t)
	f.svc.handleCommand(ctx, json.RawMessage(`{"command":"drop_cargo","order_id":"O1","cell_id":"C1"}`))
	f.drop.AssertNotCalled(t, "SendDropConfirmation")

	startMission(t, f, "D1")
	f.drop.On("SendDropConfirmation").Return(nil).Once()
	f.svc.handleCommand(ctx, json.RawMessage(`{"command":"drop_cargo","order_id":"O1","cell_id":"C1","internal_cell_id":null}`))

	assert.Equal(t, missionstate.Dropping, f.state(t))
	f.drop.AssertExpectations(t)
}

func TestCancelDeliveryCommand(t *testing.T) {
	f := newFixture(t)
	startMission(t, f, "D1")
	f.launcher.On("Terminate").Return().Once()

	f.svc.handleCommand(ctx, json.RawMessage(`{"command":"cancel_delivery","order_id":"O-D1"}`))

	_, ok := f.svc.machine.Current()
	assert.False(t, ok)
	f.launcher.AssertExpectations(t)
}

func TestReturnToBaseCommand(t *testing.T) {
	f := newFixture(t)
	f.launcher.On("Launch", launcher.Return, 0, 131).Return(true).Once()
	f.svc.handleCommand(ctx, json.RawMessage(`{"type":"return_to_base","payload":{}}`))

	startMission(t, f, "D1")
	f.launcher.On("Launch", launcher.Return, 0, 142).Return(true).Once()
	f.svc.handleCommand(ctx, json.RawMessage(`{"type":"return_to_base","payload":{"delivery_id":"D1","base_marker_id":142}}`))

	assert.Equal(t, missionstate.Returning, f.state(t))
	f.launcher.AssertExpectations(t)
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	f := newFixture(t)
	startMission(t, f, "D1")

	f.svc.handleCommand(ctx, json.RawMessage(`{"command":"do_a_barrel_roll"}`))
	f.svc.handleCommand(ctx, json.RawMessage(`[1,2`))

	assert.Equal(t, missionstate.TakingOff, f.state(t))
	f.drop.AssertNotCalled(t, "SendDropConfirmation")
}

// The loop is driven the way the agent drives it: tasks through the bound
// connection handlers and milestones through the bridge.
func TestDeliveryEndToEnd(t *testing.T) {
	f := newFixture(t)
	handlers := registrar{}
	f.svc.Bind(handlers)
	require.Contains(t, handlers, types.MessageDeliveryTask)
	require.Contains(t, handlers, types.MessageCommand)

	f.launcher.On("Launch", launcher.Outbound, 135, 131).Return(true).Once()
	f.sender.On("Send", mock.Anything, types.MessageDeliveryUpdate, mock.Anything).Return(nil).Once()
	f.sender.On("Send", mock.Anything, types.MessageStatusUpdate, mock.Anything).Return(nil).Once()

	f.svc.Start(context.Background())
	t.Cleanup(f.svc.Stop)

	handlers[types.MessageDeliveryTask](json.RawMessage(`{"delivery_id":"D1","target_aruco_id":135}`))
	require.Eventually(t, func() bool {
		m, ok := f.svc.Active()
		return ok && m.State == missionstate.TakingOff
	}, 2*time.Second, 10*time.Millisecond)

	f.bridge.OnMilestone(bridge.Arrival, telemetry.Pose{})
	f.bridge.OnMilestone(bridge.Arrival, telemetry.Pose{})
	require.Eventually(t, func() bool {
		m, ok := f.svc.Active()
		return ok && m.State == missionstate.Arrived
	}, 2*time.Second, 10*time.Millisecond)

	f.bridge.OnMilestone(bridge.HomeArrival, telemetry.Pose{})
	require.Eventually(t, func() bool {
		_, ok := f.svc.Active()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	f.svc.Stop()
	f.sender.AssertExpectations(t)
	f.sender.AssertNumberOfCalls(t, "Send", 2)
}

func TestStopIsIdempotentBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.svc.Stop()
}

func TestSecondStartIsIgnored(t *testing.T) {
	f := newFixture(t)
	out := &bytes.Buffer{}
	f.svc.log = zerolog.New(zerolog.SyncWriter(out))
	f.svc.Start(context.Background())
	f.svc.Start(context.Background())

	f.svc.Stop()
	f.svc.Stop()
	assert.Contains(t, out.String(), "Mission service already started")
}
