package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLifecycle(t *testing.T) {
	s := New("192.168.10.3")
	assert.Equal(t, "192.168.10.3", s.AgentIP())
	assert.False(t, s.Registered())

	s.SetDroneID("drone-7")
	assert.True(t, s.Registered())
	assert.Equal(t, "drone-7", s.DroneID())

	s.Clear()
	assert.False(t, s.Registered())
	assert.Empty(t, s.DroneID())
}
