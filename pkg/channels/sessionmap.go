package channels

import (
	"fmt"
	"sync"
)

// ConversationKey identifies one conversation on one channel. ThreadID is
// empty for top-level conversations.
type ConversationKey struct {
	Channel  string
	SourceID string
	ThreadID string
}

func (k ConversationKey) String() string {
	if k.ThreadID == "" {
		return k.Channel + ":" + k.SourceID
	}
	return k.Channel + ":" + k.SourceID + ":" + k.ThreadID
}

// KeyOf returns the conversation key of an inbound envelope.
func KeyOf(env InboundEnvelope) ConversationKey {
	return ConversationKey{Channel: env.ChannelID, SourceID: env.SourceID, ThreadID: env.ThreadID}
}

// SessionMap assigns stable session IDs to conversation keys and resolves
// them back.
type SessionMap[K comparable] struct {
	mu      sync.RWMutex
	forward map[K]string
	reverse map[string]K
	prefix  string
	toKey   func(K) string
}

func NewSessionMap[K comparable](prefix string, toKey func(K) string) *SessionMap[K] {
	return &SessionMap[K]{
		forward: make(map[K]string),
		reverse: make(map[string]K),
		prefix:  prefix,
		toKey:   toKey,
	}
}

func (sm *SessionMap[K]) GetOrCreate(key K) string {
	sm.mu.RLock()
	sid, ok := sm.forward[key]
	sm.mu.RUnlock()

	if ok {
		return sid
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sid, ok := sm.forward[key]; ok {
		return sid
	}

	sid = fmt.Sprintf("%s-%s", sm.prefix, sm.toKey(key))
	sm.forward[key] = sid
	sm.reverse[sid] = key
	return sid
}

func (sm *SessionMap[K]) Lookup(key K) (string, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sid, ok := sm.forward[key]
	return sid, ok
}

func (sm *SessionMap[K]) Reverse(sessionID string) (K, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	key, ok := sm.reverse[sessionID]
	return key, ok
}

func (sm *SessionMap[K]) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.forward)
}
