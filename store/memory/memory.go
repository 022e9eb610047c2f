// Package memory is an in-process implementation of the conversation,
// message and user stores with the same semantics as the SQL stores.
// It backs the memory store driver used for local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/fitcoach/coachchat/store/conversation"
	"github.com/fitcoach/coachchat/store/message"
	"github.com/fitcoach/coachchat/store/user"
)

// Store holds all state behind a single mutex.
type Store struct {
	mu            sync.RWMutex
	now           func() time.Time
	users         map[string]user.User
	conversations map[string]*conversation.Conversation
	pairs         map[string]string
	messages      map[string][]message.Message
	nextMessageID int64
}

func New() *Store {
	return &Store{
		now:           time.Now,
		users:         make(map[string]user.User),
		conversations: make(map[string]*conversation.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string][]message.Message),
	}
}

// Conversations exposes s as a conversation.Store.
func (s *Store) Conversations() conversation.Store { return conversationStore{s} }

// Messages exposes s as a message.Store.
func (s *Store) Messages() message.Store { return messageStore{s} }

// Users exposes s as a user.Store.
func (s *Store) Users() user.Store { return userStore{s} }

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u user.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

type conversationStore struct{ s *Store }

func (c conversationStore) FindTwoParty(_ context.Context, userAID, userBID string) (*conversation.Conversation, error) {
	if userAID == "" || userBID == "" || userAID == userBID {
		return nil, conversation.ErrInvalidParticipants
	}
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var found *conversation.Conversation
	for _, convo := range c.s.conversations {
		if len(convo.Participants) != 2 || !lo.Every(convo.Participants, []string{userAID, userBID}) {
			continue
		}
		if found == nil || convo.CreatedAt.Before(found.CreatedAt) {
			found = convo
		}
	}
	if found == nil {
		return nil, conversation.ErrConversationNotFound
	}
	return cloneConversation(found), nil
}

func (c conversationStore) Create(_ context.Context, participantIDs []string) (*conversation.Conversation, error) {
	members := lo.Uniq(lo.Compact(participantIDs))
	if len(members) < 2 {
		return nil, conversation.ErrInvalidParticipants
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	var pairKey string
	if len(members) == 2 {
		pairKey = conversation.PairKey(members[0], members[1])
		if _, exists := c.s.pairs[pairKey]; exists {
			return nil, conversation.ErrDuplicatePair
		}
	}

	convo := &conversation.Conversation{
		ID:           uuid.NewString(),
		CreatedAt:    c.s.now().UTC(),
		Participants: members,
	}
	c.s.conversations[convo.ID] = convo
	if pairKey != "" {
		c.s.pairs[pairKey] = convo.ID
	}
	return cloneConversation(convo), nil
}

func (c conversationStore) Participants(_ context.Context, conversationID string) ([]conversation.Participant, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	convo, ok := c.s.conversations[conversationID]
	if !ok {
		return nil, conversation.ErrConversationNotFound
	}
	return c.s.participantsLocked(convo), nil
}

func (c conversationStore) ForUser(_ context.Context, userID string) ([]conversation.Summary, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	summaries := []conversation.Summary{}
	for _, convo := range c.s.conversations {
		if !lo.Contains(convo.Participants, userID) {
			continue
		}
		participants := c.s.participantsLocked(convo)
		sort.Slice(participants, func(i, j int) bool { return participants[i].UserID < participants[j].UserID })
		summary := conversation.Summary{ID: convo.ID, CreatedAt: convo.CreatedAt, Participants: participants}
		if msgs := c.s.messages[convo.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			summary.LastMessage = &conversation.Preview{Body: truncate(last.Body, 200), Kind: string(last.Kind), SentAt: last.SentAt}
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return lastActivity(summaries[i]).After(lastActivity(summaries[j]))
	})
	return summaries, nil
}

type messageStore struct{ s *Store }

func (m messageStore) Insert(_ context.Context, in message.New) (*message.Message, error) {
	if in.Kind != message.KindText && in.Kind != message.KindImage {
		return nil, message.ErrInvalidKind
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, ok := m.s.conversations[in.ConversationID]; !ok {
		return nil, message.ErrConversationNotFound
	}

	sentAt := m.s.now().UTC()
	history := m.s.messages[in.ConversationID]
	if n := len(history); n > 0 && sentAt.Before(history[n-1].SentAt) {
		sentAt = history[n-1].SentAt
	}

	m.s.nextMessageID++
	msg := message.Message{
		ID:                m.s.nextMessageID,
		ConversationID:    in.ConversationID,
		SenderID:          in.SenderID,
		SenderDisplayName: m.s.users[in.SenderID].Username,
		Body:              in.Body,
		Kind:              in.Kind,
		Filename:          in.Filename,
		SentAt:            sentAt,
	}
	m.s.messages[in.ConversationID] = append(history, msg)
	return &msg, nil
}

func (m messageStore) History(_ context.Context, conversationID string, beforeID int64, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = message.DefaultHistoryLimit
	}
	if limit > message.MaxHistoryLimit {
		limit = message.MaxHistoryLimit
	}
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	older := lo.Filter(m.s.messages[conversationID], func(msg message.Message, _ int) bool {
		return beforeID == 0 || msg.ID < beforeID
	})
	if len(older) > limit {
		older = older[len(older)-limit:]
	}
	return append([]message.Message{}, older...), nil
}

type userStore struct{ s *Store }

func (u userStore) Get(_ context.Context, id string) (*user.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	found, ok := u.s.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &found, nil
}

func (u userStore) Search(_ context.Context, tenantID, query, excludeID string, limit int) ([]user.User, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []user.User{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	matches := lo.Filter(lo.Values(u.s.users), func(candidate user.User, _ int) bool {
		return candidate.ID != excludeID &&
			candidate.TenantID == tenantID &&
			(candidate.Role == "customer" || candidate.Role == "trainer") &&
			(strings.Contains(strings.ToLower(candidate.Username), query) ||
				strings.Contains(strings.ToLower(candidate.Email), query))
	})
	sort.Slice(matches, func(i, j int) bool { return matches[i].Username < matches[j].Username })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) participantsLocked(convo *conversation.Conversation) []conversation.Participant {
	return lo.Map(convo.Participants, func(id string, _ int) conversation.Participant {
		return conversation.Participant{UserID: id, DisplayName: s.users[id].Username}
	})
}

func cloneConversation(c *conversation.Conversation) *conversation.Conversation {
	out := *c
	out.Participants = append([]string{}, c.Participants...)
	return &out
}

func lastActivity(s conversation.Summary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.SentAt
	}
	return s.CreatedAt
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// String is used in log lines.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memory(users=%d conversations=%d)", len(s.users), len(s.conversations))
}
