package timeline

import (
	"sync"

	"character_animator/animator/models"
)

// LayerRegistry hands out layer numbers per character. The first character
// seen gets layer 1 and each new one gets one past the highest assigned.
type LayerRegistry struct {
	mu     sync.RWMutex
	layers map[string]int
	max    int
}

func NewLayerRegistry() *LayerRegistry {
	return &LayerRegistry{layers: make(map[string]int)}
}

// RegistryFromClips seeds a registry with the layers already stored on clips,
// in creation order.
func RegistryFromClips(clips []models.Clip) *LayerRegistry {
	r := NewLayerRegistry()
	for _, c := range clips {
		r.Observe(c.Character, c.Layer)
	}
	return r
}

// Assign returns the character's layer, allocating one on first sight.
func (r *LayerRegistry) Assign(character string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if layer, ok := r.layers[character]; ok {
		return layer
	}
	r.max++
	r.layers[character] = r.max
	return r.max
}

func (r *LayerRegistry) Lookup(character string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	layer, ok := r.layers[character]
	return layer, ok
}

// Observe records an existing assignment without overriding an earlier one.
func (r *LayerRegistry) Observe(character string, layer int) {
	if layer < 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.layers[character]; !ok {
		r.layers[character] = layer
	}
	if layer > r.max {
		r.max = layer
	}
}

func (r *LayerRegistry) Snapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.layers))
	for k, v := range r.layers {
		out[k] = v
	}
	return out
}
