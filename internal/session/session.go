// Package session holds the identity of the current backend connection.
package session

import "sync"

// Session is shared by pointer between the connection manager, which writes
// the backend-issued drone id, and the components that need to know whether
// the agent is registered.
type Session struct {
	agentIP string

	mu      sync.RWMutex
	droneID string
}

func New(agentIP string) *Session {
	return &Session{agentIP: agentIP}
}

func (s *Session) AgentIP() string {
	return s.agentIP
}

func (s *Session) DroneID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.droneID
}

func (s *Session) Registered() bool {
	return s.DroneID() != ""
}

func (s *Session) SetDroneID(id string) {
	s.mu.Lock()
	s.droneID = id
	s.mu.Unlock()
}

// Clear drops the drone id; called on every disconnect.
func (s *Session) Clear() {
	s.SetDroneID("")
}
