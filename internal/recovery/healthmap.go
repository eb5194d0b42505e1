package recovery

import (
	"sync"

	"relaypoint/internal/types"
)

// healthMap is a mutex-guarded snapshot store keyed by service ID. The poll
// loop writes while request-path callers read.
type healthMap struct {
	mu   sync.RWMutex
	data map[string]types.ServiceHealth
}

func newHealthMap() *healthMap {
	return &healthMap{data: make(map[string]types.ServiceHealth)}
}

func (h *healthMap) set(serviceID string, sh types.ServiceHealth) {
	h.mu.Lock()
	h.data[serviceID] = sh
	h.mu.Unlock()
}

func (h *healthMap) snapshot() map[string]types.ServiceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]types.ServiceHealth, len(h.data))
	for k, v := range h.data {
		out[k] = v
	}
	return out
}
