package realtime

import (
	"strings"
	"sync"
)

// Role identifies the logical author of a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ItemStatus tracks an item's streaming lifecycle.
type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusTruncated  ItemStatus = "truncated"
)

// ContentKind discriminates the union of item content parts.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentTranscript ContentKind = "transcript"
	ContentAudioRef   ContentKind = "audio_ref"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
)

// ContentPart is one element of an item's content union.
type ContentPart struct {
	Kind       ContentKind
	Text       string
	Transcript string
	TrackID    string // audio reference
	ToolName   string
	ToolArgs   string
	ToolOutput string
}

// Item is one entry of the conversation. The channel owns the authoritative
// copy; consumers receive value snapshots and re-read after every mutation.
type Item struct {
	ID      string
	Role    Role
	Status  ItemStatus
	Content []ContentPart
}

// Text flattens the textual content of the item for display.
func (it Item) Text() string {
	var sb strings.Builder
	for _, part := range it.Content {
		switch part.Kind {
		case ContentText:
			sb.WriteString(part.Text)
		case ContentTranscript:
			sb.WriteString(part.Transcript)
		}
	}
	return sb.String()
}

// itemStore keeps the ordered, authoritative conversation item list.
type itemStore struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*Item
}

func newItemStore() *itemStore {
	return &itemStore{byID: make(map[string]*Item)}
}

// upsert inserts the item or replaces the stored fields of an existing one,
// preserving its position. Returns true when the item is new.
func (s *itemStore) upsert(item Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[item.ID]; ok {
		*existing = item
		return false
	}
	copy := item
	s.byID[item.ID] = &copy
	s.order = append(s.order, item.ID)
	return true
}

// mutate applies fn to the stored item under lock. Returns false when absent.
func (s *itemStore) mutate(id string, fn func(*Item)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.byID[id]
	if !ok {
		return false
	}
	fn(item)
	return true
}

// remove deletes the item, preserving the order of the remainder.
func (s *itemStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// snapshot returns value copies of every item in conversation order.
func (s *itemStore) snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		if item, ok := s.byID[id]; ok {
			clone := *item
			clone.Content = append([]ContentPart(nil), item.Content...)
			out = append(out, clone)
		}
	}
	return out
}

// reset drops every item.
func (s *itemStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]*Item)
}
