package connection

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFunc receives the payload of one inbound message. It runs on the
// read loop and must not block.
type HandlerFunc func(payload json.RawMessage)

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type handlers struct {
	log zerolog.Logger

	mu     sync.RWMutex
	byType map[string]HandlerFunc
}

func newHandlers(log zerolog.Logger) *handlers {
	return &handlers{log: log, byType: make(map[string]HandlerFunc)}
}

func (h *handlers) add(msgType string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byType[msgType]; exists {
		h.log.Warn().Str("type", msgType).Msg("Replacing message handler")
	}
	h.byType[msgType] = fn
}

func (h *handlers) dispatch(log zerolog.Logger, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Int("bytes", len(data)).Msg("Malformed message dropped")
		return
	}

	h.mu.RLock()
	fn, ok := h.byType[msg.Type]
	h.mu.RUnlock()
	if !ok {
		log.Warn().Str("type", msg.Type).Msg("Unknown message type")
		return
	}
	fn(msg.Payload)
}
