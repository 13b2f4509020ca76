// Package memory holds conversation state: the ordered turn history per
// conversation plus a cached summary. State lives in process; restarting the
// service starts conversations fresh.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/storihq/stori-rag/internal/log"
)

// ErrConversationNotFound indicates the conversation ID is unknown.
var ErrConversationNotFound = errors.New("conversation not found")

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Sources    []string  `json:"sources,omitempty"`
	ToolsUsed  []string  `json:"tools_used,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Info is conversation metadata for listings.
type Info struct {
	ID        string    `json:"conversation_id"`
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summarizer produces a summary from a conversation transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

type conversation struct {
	turns        []Turn
	summary      string
	summarizedAt int    // turn count when the summary was generated
	escalationID string // ticket of the open escalation, empty if none
	createdAt    time.Time
	updatedAt    time.Time
}

// Store is the in-process conversation store. Safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation

	summarizer Summarizer
	staleAfter int // new turns before a cached summary is regenerated
	logger     log.Logger
	now        func() time.Time
}

// New creates a store. staleAfter values below 1 default to 10.
func New(summarizer Summarizer, staleAfter int, logger log.Logger) *Store {
	if staleAfter < 1 {
		staleAfter = 10
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{
		conversations: make(map[string]*conversation),
		summarizer:    summarizer,
		staleAfter:    staleAfter,
		logger:        logger.With("component", "memory"),
		now:           time.Now,
	}
}

// AppendPair appends a user turn and its assistant turn in one operation.
// The conversation is created on first use. Readers never observe a user
// turn without its response.
func (s *Store) AppendPair(id string, user, assistant Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversations[id]
	if c == nil {
		c = &conversation{createdAt: s.now()}
		s.conversations[id] = c
	}

	now := s.now()
	if user.Timestamp.IsZero() {
		user.Timestamp = now
	}
	if assistant.Timestamp.IsZero() {
		assistant.Timestamp = now
	}
	user.Role = RoleUser
	assistant.Role = RoleAssistant

	c.turns = append(c.turns, user, assistant)
	c.updatedAt = now
}

// Recent returns up to limit most recent turns in chronological order. An
// unknown conversation has an empty history, not an error; the first message
// of a conversation arrives before the conversation exists.
func (s *Store) Recent(id string, limit int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.conversations[id]
	if c == nil || limit <= 0 {
		return nil
	}

	start := len(c.turns) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(c.turns)-start)
	copy(out, c.turns[start:])
	return out
}

// History returns the full turn history. Unknown conversations return
// ErrConversationNotFound.
func (s *Store) History(id string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.conversations[id]
	if c == nil {
		return nil, fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out, nil
}

// List returns metadata for all conversations, most recently updated first.
func (s *Store) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.conversations))
	for id, c := range s.conversations {
		out = append(out, Info{
			ID:        id,
			Turns:     len(c.turns),
			CreatedAt: c.createdAt,
			UpdatedAt: c.updatedAt,
		})
	}
	sortInfosByUpdated(out)
	return out
}

// Delete removes a conversation and all its state.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	delete(s.conversations, id)
	return nil
}

// TurnCount returns the number of stored turns, zero for unknown IDs.
func (s *Store) TurnCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c := s.conversations[id]; c != nil {
		return len(c.turns)
	}
	return 0
}

// Escalate records an escalation ticket for the conversation. The first call
// stores ticketID and reports created=true; a conversation keeps a single
// open escalation, so later calls return the existing ticket instead.
func (s *Store) Escalate(id, ticketID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conversations[id]
	if c == nil {
		c = &conversation{createdAt: s.now(), updatedAt: s.now()}
		s.conversations[id] = c
	}
	if c.escalationID != "" {
		return c.escalationID, false
	}
	c.escalationID = ticketID
	return ticketID, true
}

// Summarize returns a summary of the conversation. Summaries are cached and
// regenerated once staleAfter new turns have accumulated since the cached
// one. The summarizer runs outside the store lock.
func (s *Store) Summarize(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	c := s.conversations[id]
	if c == nil {
		s.mu.RUnlock()
		return "", fmt.Errorf("%w: %q", ErrConversationNotFound, id)
	}
	if len(c.turns) == 0 {
		s.mu.RUnlock()
		return "", nil
	}
	if c.summary != "" && len(c.turns)-c.summarizedAt < s.staleAfter {
		summary := c.summary
		s.mu.RUnlock()
		return summary, nil
	}
	transcript := transcript(c.turns)
	turnCount := len(c.turns)
	s.mu.RUnlock()

	if s.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}

	summary, err := s.summarizer.Summarize(ctx, transcript)
	if err != nil {
		return "", fmt.Errorf("summarize conversation %q: %w", id, err)
	}

	s.mu.Lock()
	if c := s.conversations[id]; c != nil && turnCount >= c.summarizedAt {
		c.summary = summary
		c.summarizedAt = turnCount
	}
	s.mu.Unlock()

	s.logger.Debug("summary generated", "conversation_id", id, "turns", turnCount)
	return summary, nil
}

// transcript renders turns as "role: content" lines.
func transcript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// sortInfosByUpdated orders newest first, breaking ties by ID for stable
// output.
func sortInfosByUpdated(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}
