package agent

import (
	"encoding/json"
	"sort"
	"sync"

	"scriptagent/internal/domain"
)

// State is the shared mapping that tools publish into and tasks return.
type State struct {
	mu   sync.RWMutex
	data map[string]any
}

func NewState() *State {
	return &State{data: make(map[string]any)}
}

func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Keys returns the keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of the current mapping.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Restore replaces the mapping with a copy of snap.
func (s *State) Restore(snap map[string]any) {
	data := make(map[string]any, len(snap))
	for k, v := range snap {
		data[k] = v
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

// MarshalJSON encodes the mapping with keys in sorted order.
func (s *State) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.data)
}

// ResultKey is the state key a tool's last result is merged under.
func ResultKey(toolName string) string {
	return "last_" + toolName + "_result"
}

// MergeResults copies the recorded last result of every tool into state,
// overwriting earlier values. Tools without a result are skipped.
func MergeResults(state *State, tools []domain.Tool) {
	for _, t := range tools {
		rec, ok := t.(domain.ResultRecorder)
		if !ok {
			continue
		}
		if v, ok := rec.LastResult(); ok {
			state.Set(ResultKey(t.Name()), v)
		}
	}
}
