package presence

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/internal/domain/conversation"
	"github.com/carebridge/carebridge/internal/platform/realtime"
)

const (
	DefaultDebounce = 1500 * time.Millisecond
	DefaultTTL      = 2500 * time.Millisecond
)

type typingKey struct {
	conversationID uuid.UUID
	userID         uuid.UUID
}

type typingEntry struct {
	lastSeen time.Time
	expire   *time.Timer
}

// Broadcaster handles the ephemeral typing channel. Outgoing announcements
// are debounced so a steady typist produces one signal per debounce window,
// with an explicit stop on the trailing edge. Incoming signals are held in a
// TTL map so an indicator whose stop signal was lost still clears itself.
type Broadcaster struct {
	publisher realtime.Publisher
	debounce  time.Duration
	ttl       time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[typingKey]time.Time
	typing   map[typingKey]*typingEntry
	closed   bool
}

func NewBroadcaster(publisher realtime.Publisher, debounce, ttl time.Duration, log zerolog.Logger) *Broadcaster {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if ttl <= debounce {
		ttl = debounce + time.Second
	}
	return &Broadcaster{
		publisher: publisher,
		debounce:  debounce,
		ttl:       ttl,
		log:       log.With().Str("component", "presence").Logger(),
		now:       time.Now,
		lastSent:  make(map[typingKey]time.Time),
		typing:    make(map[typingKey]*typingEntry),
	}
}

// AnnounceTyping publishes a typing signal unless one went out for this
// sender within the debounce window.
func (b *Broadcaster) AnnounceTyping(conversationID, userID uuid.UUID) {
	key := typingKey{conversationID, userID}
	now := b.now()

	b.mu.Lock()
	if last, ok := b.lastSent[key]; ok && now.Sub(last) < b.debounce {
		b.mu.Unlock()
		return
	}
	b.lastSent[key] = now
	b.mu.Unlock()

	b.publish(conversation.TypingSignal{
		ConversationID: conversationID,
		UserID:         userID,
		LastSeenAt:     now.UTC(),
	})
}

// StopTyping publishes the trailing stop immediately and resets the debounce
// so the next keystroke announces again.
func (b *Broadcaster) StopTyping(conversationID, userID uuid.UUID) {
	key := typingKey{conversationID, userID}

	b.mu.Lock()
	delete(b.lastSent, key)
	b.mu.Unlock()

	b.publish(conversation.TypingSignal{
		ConversationID: conversationID,
		UserID:         userID,
		Stopped:        true,
		LastSeenAt:     b.now().UTC(),
	})
}

func (b *Broadcaster) publish(sig conversation.TypingSignal) {
	data, err := json.Marshal(sig)
	if err != nil {
		b.log.Error().Err(err).Msg("marshal typing signal")
		return
	}
	evt := realtime.Event{
		Op:        "typing",
		Topic:     realtime.ConversationTopic(sig.ConversationID),
		Timestamp: b.now().UTC(),
		Data:      data,
	}
	if err := b.publisher.Publish(context.Background(), evt); err != nil {
		b.log.Warn().Err(err).Msg("publish typing signal")
	}
}

// OnTypingSignal updates the receiver-side indicator map. Each signal
// restarts that entry's TTL clock; a stop removes it at once.
func (b *Broadcaster) OnTypingSignal(sig conversation.TypingSignal) {
	key := typingKey{sig.ConversationID, sig.UserID}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	entry, ok := b.typing[key]
	if sig.Stopped {
		if ok {
			entry.expire.Stop()
			delete(b.typing, key)
		}
		return
	}

	if ok {
		entry.lastSeen = sig.LastSeenAt
		entry.expire.Reset(b.ttl)
		return
	}
	b.typing[key] = &typingEntry{
		lastSeen: sig.LastSeenAt,
		expire:   time.AfterFunc(b.ttl, func() { b.expire(key) }),
	}
}

func (b *Broadcaster) expire(key typingKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.typing, key)
}

// TypingUsers returns who is currently typing in the conversation, in a
// stable order.
func (b *Broadcaster) TypingUsers(conversationID uuid.UUID) []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var users []uuid.UUID
	for key := range b.typing {
		if key.conversationID == conversationID {
			users = append(users, key.userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users
}

// Close stops every pending expiry timer. Signals arriving after Close are
// dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for key, entry := range b.typing {
		entry.expire.Stop()
		delete(b.typing, key)
	}
}
