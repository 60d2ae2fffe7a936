// Package memorykv holds the agent's session-scoped memory, populated only
// through tool invocations. Entries persist until the session resets.
package memorykv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/voxloop-ai/voxloop/internal/realtime"
)

// Store is a string-to-string mapping with last-write-wins semantics. Racing
// writers are not serialized beyond the map lock; the later write simply
// sticks, matching what the agent observes.
type Store struct {
	mu      sync.Mutex
	entries map[string]string
}

// New constructs an empty store.
func New() *Store {
	return &Store{entries: make(map[string]string)}
}

// Set records a value under key, replacing any previous value.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

// Get returns the value for key and whether it exists.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	return value, ok
}

// Keys returns all stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset drops every entry. Called on session start and teardown.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]string)
}

// Snapshot returns a copy of the mapping.
func (s *Store) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// ToolRegistrar is the subset of the channel API the store binds tools to.
type ToolRegistrar interface {
	RegisterTool(schema realtime.ToolSchema, handler realtime.ToolHandler)
}

// RegisterTools exposes the store to the agent as set_memory and get_memory.
func (s *Store) RegisterTools(registrar ToolRegistrar) {
	registrar.RegisterTool(realtime.ToolSchema{
		Name:        "set_memory",
		Description: "Save a fact about the user or conversation for later recall.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Short snake_case identifier for the fact.",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "The fact to remember.",
				},
			},
			"required": []string{"key", "value"},
		},
	}, s.handleSet)

	registrar.RegisterTool(realtime.ToolSchema{
		Name:        "get_memory",
		Description: "Recall a previously saved fact by key, or list all keys.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Identifier of the fact to recall. Omit to list all keys.",
				},
			},
		},
	}, s.handleGet)
}

func (s *Store) handleSet(ctx context.Context, args map[string]any) (string, error) {
	key, _ := args["key"].(string)
	value, _ := args["value"].(string)
	if key == "" {
		return "", fmt.Errorf("memorykv: set_memory requires a key")
	}
	s.Set(key, value)
	return fmt.Sprintf(`{"saved":%q}`, key), nil
}

func (s *Store) handleGet(ctx context.Context, args map[string]any) (string, error) {
	key, _ := args["key"].(string)
	if key == "" {
		payload, err := json.Marshal(map[string]any{"keys": s.Keys()})
		if err != nil {
			return "", fmt.Errorf("memorykv: encode keys: %w", err)
		}
		return string(payload), nil
	}

	value, ok := s.Get(key)
	if !ok {
		return fmt.Sprintf(`{"found":false,"key":%q}`, key), nil
	}
	payload, err := json.Marshal(map[string]any{"found": true, "key": key, "value": value})
	if err != nil {
		return "", fmt.Errorf("memorykv: encode value: %w", err)
	}
	return string(payload), nil
}
