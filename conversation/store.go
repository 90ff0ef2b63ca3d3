// Package conversation keeps the per-persona message history and the
// backend session each persona's conversation is bound to.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/localstore"
	"github.com/room4-2/vox/model"
)

// StorageKey is the local storage entry holding every conversation.
const StorageKey = "vox_conversations"

// Record is one persona's conversation.
type Record struct {
	PersonaID   string          `json:"roleId"`
	Messages    []model.Message `json:"messages"`
	LastUpdated int64           `json:"lastUpdated"` // unix milliseconds
	SessionID   string          `json:"sessionId,omitempty"`
}

func (r Record) clone() Record {
	r.Messages = append([]model.Message(nil), r.Messages...)
	return r
}

// MergeSessionID keeps an established session id; incoming only fills an
// empty one.
func MergeSessionID(existing, incoming string) string {
	if existing != "" {
		return existing
	}
	return incoming
}

// Store holds conversations in memory and mirrors every mutation to local
// storage.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	kv      localstore.KV
	now     func() time.Time
	log     zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore loads the persisted conversations from kv. A corrupt entry is
// logged and replaced by an empty mapping.
func NewStore(ctx context.Context, kv localstore.KV, opts ...Option) (*Store, error) {
	s := &Store{
		records: make(map[string]Record),
		kv:      kv,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "conversation").Logger()

	raw, ok, err := kv.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if ok && len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &s.records); err != nil {
			s.log.Warn().Err(err).Msg("Discarding unreadable conversation history")
			s.records = make(map[string]Record)
		}
	}
	return s, nil
}

// Get returns a copy of the persona's record; unknown personas yield an
// empty record.
func (s *Store) Get(personaID string) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[personaID]
	if !ok {
		return Record{PersonaID: personaID}
	}
	return rec.clone()
}

// SessionID returns the persona's established session id, if any.
func (s *Store) SessionID(personaID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[personaID].SessionID
}

// AddMessage appends msg to the persona's conversation. Once a session is
// established it is stamped onto every later message.
func (s *Store) AddMessage(ctx context.Context, personaID string, msg model.Message) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[personaID]
	rec.PersonaID = personaID
	rec.SessionID = MergeSessionID(rec.SessionID, msg.SessionID)
	msg.SessionID = rec.SessionID
	rec.Messages = append(rec.Messages, msg)
	rec.LastUpdated = s.now().UnixMilli()
	s.records[personaID] = rec

	s.persistLocked(ctx)
	return msg
}

// SetSessionID establishes the persona's session id. An existing id wins;
// the effective id is returned.
func (s *Store) SetSessionID(ctx context.Context, personaID, sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[personaID]
	merged := MergeSessionID(rec.SessionID, sessionID)
	if merged == rec.SessionID {
		return merged
	}
	rec.PersonaID = personaID
	rec.SessionID = merged
	rec.LastUpdated = s.now().UnixMilli()
	s.records[personaID] = rec

	s.persistLocked(ctx)
	return merged
}

// Clear drops the persona's messages and session id.
func (s *Store) Clear(ctx context.Context, personaID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[personaID]; !ok {
		return
	}
	delete(s.records, personaID)
	s.persistLocked(ctx)
}

// Snapshot copies every record.
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.clone()
	}
	return out
}

// persistLocked writes the full mapping. Failures leave the in-memory state
// authoritative.
func (s *Store) persistLocked(ctx context.Context) {
	raw, err := sonic.Marshal(s.records)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode conversations")
		return
	}
	if err := s.kv.Set(ctx, StorageKey, raw); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist conversations")
	}
}
