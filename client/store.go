package client

import (
	"sync"
	"time"

	"presence-service/internal/models"
)

// LocalMessage is one entry in the client's rendered view. Pending entries
// carry a temp id and no server id yet.
type LocalMessage struct {
	ID             int
	TempID         string
	ConversationID int
	SenderID       int
	ReceiverID     int
	Content        string
	Attachment     string
	Pending        bool
	FailedAt       time.Time
	CreatedAt      time.Time
}

// Store is the reconciliation cache behind a client's message view: optimistic
// entries are inserted immediately on send, replaced by the authoritative
// broadcast, and rolled back on failure or timeout. All methods are safe for
// concurrent use by the read loop and the caller.
type Store struct {
	mu      sync.Mutex
	order   []*LocalMessage
	byID    map[int]*LocalMessage
	pending map[string]*LocalMessage
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		byID:    make(map[int]*LocalMessage),
		pending: make(map[string]*LocalMessage),
	}
}

// AddPending inserts an optimistic entry keyed by temp id.
func (s *Store) AddPending(m LocalMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Pending = true
	entry := &m
	s.order = append(s.order, entry)
	s.pending[m.TempID] = entry
}

// Reconcile merges an authoritative delivery into the view and reports
// whether it changed anything.
//
// A matching temp id upgrades the optimistic entry in place. Without a match
// the entry is inserted fresh, unless the server id is already present: a
// duplicate echo (same message arriving via the conversation room and a
// personal room, or via an HTTP fallback race) must never render twice. When
// the suppressed duplicate carries a temp id the optimistic entry is retired
// too, otherwise a late tagged echo behind an untagged delivery would leave
// the pending copy rendering forever.
func (s *Store) Reconcile(d models.DeliveredPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.byID[d.Message.ID]; seen {
		if entry, ok := s.pending[d.TempID]; ok && d.TempID != "" {
			delete(s.pending, d.TempID)
			s.removeLocked(entry)
		}
		return false
	}

	if entry, ok := s.pending[d.TempID]; ok && d.TempID != "" {
		delete(s.pending, d.TempID)
		entry.ID = d.Message.ID
		entry.ConversationID = d.Message.ConversationID
		entry.Content = d.Message.Content
		entry.Attachment = d.Message.Attachment
		entry.CreatedAt = d.Message.CreatedAt
		entry.Pending = false
		s.byID[entry.ID] = entry
		return true
	}

	entry := &LocalMessage{
		ID:             d.Message.ID,
		ConversationID: d.Message.ConversationID,
		SenderID:       d.Message.SenderID,
		ReceiverID:     d.Message.ReceiverID,
		Content:        d.Message.Content,
		Attachment:     d.Message.Attachment,
		CreatedAt:      d.Message.CreatedAt,
	}
	s.order = append(s.order, entry)
	s.byID[entry.ID] = entry
	return true
}

// Fail removes a pending entry and reports whether one existed. Confirmed
// entries are never rolled back.
func (s *Store) Fail(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[tempID]
	if !ok {
		return false
	}
	delete(s.pending, tempID)
	entry.FailedAt = time.Now()
	s.removeLocked(entry)
	return true
}

func (s *Store) removeLocked(target *LocalMessage) {
	for i, entry := range s.order {
		if entry == target {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Messages returns the rendered view in arrival order.
func (s *Store) Messages() []LocalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LocalMessage, 0, len(s.order))
	for _, entry := range s.order {
		out = append(out, *entry)
	}
	return out
}

// PendingCount reports how many optimistic entries await confirmation.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
