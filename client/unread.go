package client

import "sync"

// UnreadCounter tallies unseen messages per conversation, fed by the
// lightweight notification events so the full payload never needs parsing.
type UnreadCounter struct {
	mu     sync.Mutex
	counts map[int]int
}

// NewUnreadCounter builds an empty counter.
func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[int]int)}
}

// Increment bumps the tally for a conversation and returns the new count.
func (u *UnreadCounter) Increment(conversationID int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[conversationID]++
	return u.counts[conversationID]
}

// Reset clears the tally for a conversation.
func (u *UnreadCounter) Reset(conversationID int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.counts, conversationID)
}

// Count returns the tally for a conversation.
func (u *UnreadCounter) Count(conversationID int) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[conversationID]
}

// Total returns the sum over all conversations.
func (u *UnreadCounter) Total() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	total := 0
	for _, n := range u.counts {
		total += n
	}
	return total
}
