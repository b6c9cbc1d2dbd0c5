// Package store implements the Entity Stores (component E of spec.md
// §2): three in-memory tables — sessions, messages, parts — with FK
// invariants (§3.2). The Store is the exclusive owner of these records
// (§3.3); every other component holds only query-based, non-owning
// references obtained through its accessors.
package store

import (
	"errors"
	"sync"

	"github.com/opencode-ai/opencode-core/pkg/types"
)

// ErrNotFound is returned by Get-style lookups that miss.
var ErrNotFound = errors.New("not found")

// ErrNoSuchMessage is returned when a Part is upserted against a
// messageID that doesn't exist yet — callers (the Router) are expected
// to route this into the pending-parts buffer rather than surface it as
// a user-visible error (§4.5.4, §7 FKDeferred).
var ErrNoSuchMessage = errors.New("no such message")

// Store holds the three entity tables in memory. No state is ever
// flushed to disk (§1 Non-goals: no persistence across restarts).
type Store struct {
	mu sync.RWMutex

	sessions map[string]*types.Session
	messages map[string]*types.Message
	parts    map[string]*types.Part

	messagesBySession map[string]map[string]struct{}
	partsByMessage    map[string]map[string]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions:          make(map[string]*types.Session),
		messages:          make(map[string]*types.Message),
		parts:             make(map[string]*types.Part),
		messagesBySession: make(map[string]map[string]struct{}),
		partsByMessage:    make(map[string]map[string]struct{}),
	}
}

// UpsertSession creates or replaces a Session record.
func (s *Store) UpsertSession(sess *types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
}

// GetSession returns a copy of the Session, or ErrNotFound.
func (s *Store) GetSession(id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// HasSession reports whether a Session exists without cloning it.
func (s *Store) HasSession(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// DeleteSession removes a Session and cascades to its Messages and Parts
// (§4.1 supplemented `session.deleted`).
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for msgID := range s.messagesBySession[id] {
		s.removeMessageLocked(msgID)
	}
	delete(s.messagesBySession, id)
	delete(s.sessions, id)
}

// UpsertMessage creates or replaces a Message record. Unlike UpsertPart,
// this enforces no session foreign key — callers that need a session to
// exist first (e.g. the Router's stub-session creation) do that on their
// own side.
func (s *Store) UpsertMessage(m *types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertMessageLocked(m)
}

func (s *Store) upsertMessageLocked(m *types.Message) {
	if existing, ok := s.messages[m.ID]; ok && existing.SessionID != m.SessionID {
		s.unindexMessageLocked(existing)
	}
	clone := m.Clone()
	s.messages[m.ID] = clone
	s.indexMessageLocked(clone)
}

func (s *Store) indexMessageLocked(m *types.Message) {
	if s.messagesBySession[m.SessionID] == nil {
		s.messagesBySession[m.SessionID] = make(map[string]struct{})
	}
	s.messagesBySession[m.SessionID][m.ID] = struct{}{}
}

func (s *Store) unindexMessageLocked(m *types.Message) {
	if set, ok := s.messagesBySession[m.SessionID]; ok {
		delete(set, m.ID)
	}
}

// GetMessage returns a copy of the Message, or ErrNotFound.
func (s *Store) GetMessage(id string) (*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// HasMessage reports whether a Message exists without cloning it.
func (s *Store) HasMessage(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[id]
	return ok
}

// ListMessagesBySession returns all Messages for a session.
func (s *Store) ListMessagesBySession(sessionID string) []*types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.messagesBySession[sessionID]
	out := make([]*types.Message, 0, len(ids))
	for id := range ids {
		out = append(out, s.messages[id].Clone())
	}
	return out
}

// ListOptimisticMessages returns the session's Messages still carrying
// live optimistic metadata.
func (s *Store) ListOptimisticMessages(sessionID string) []*types.Message {
	all := s.ListMessagesBySession(sessionID)
	out := all[:0]
	for _, m := range all {
		if m.IsOptimistic() {
			out = append(out, m)
		}
	}
	return out
}

// RemoveMessage deletes a Message and cascades to all of its Parts in a
// single atomic store transition.
func (s *Store) RemoveMessage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeMessageLocked(id)
}

func (s *Store) removeMessageLocked(id string) {
	m, ok := s.messages[id]
	if !ok {
		return
	}
	for partID := range s.partsByMessage[id] {
		delete(s.parts, partID)
	}
	delete(s.partsByMessage, id)
	s.unindexMessageLocked(m)
	delete(s.messages, id)
}

// UpsertPart creates or replaces a Part record. Returns ErrNoSuchMessage
// if p.MessageID does not reference an existing Message — the Router is
// expected to have already parked the part in the pending-parts buffer
// in that case rather than call UpsertPart (§4.5.4).
func (s *Store) UpsertPart(p *types.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[p.MessageID]; !ok {
		return ErrNoSuchMessage
	}
	if existing, ok := s.parts[p.ID]; ok && existing.MessageID != p.MessageID {
		s.unindexPartLocked(existing)
	}
	clone := p.Clone()
	s.parts[p.ID] = clone
	s.indexPartLocked(clone)
	return nil
}

func (s *Store) indexPartLocked(p *types.Part) {
	if s.partsByMessage[p.MessageID] == nil {
		s.partsByMessage[p.MessageID] = make(map[string]struct{})
	}
	s.partsByMessage[p.MessageID][p.ID] = struct{}{}
}

func (s *Store) unindexPartLocked(p *types.Part) {
	if set, ok := s.partsByMessage[p.MessageID]; ok {
		delete(set, p.ID)
	}
}

// GetPart returns a copy of the Part, or ErrNotFound.
func (s *Store) GetPart(id string) (*types.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// RemovePart deletes a Part; absent ids are silently ignored (§4.5.5).
func (s *Store) RemovePart(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	if !ok {
		return
	}
	s.unindexPartLocked(p)
	delete(s.parts, id)
}

// RemovePartByMessage deletes a Part scoped by its messageID, matching
// the `message.part.removed` wire shape (§4.5.5).
func (s *Store) RemovePartByMessage(messageID, partID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[partID]
	if !ok || p.MessageID != messageID {
		return
	}
	s.unindexPartLocked(p)
	delete(s.parts, partID)
}

// ListPartsByMessage returns all Parts for a message.
func (s *Store) ListPartsByMessage(messageID string) []*types.Part {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.partsByMessage[messageID]
	out := make([]*types.Part, 0, len(ids))
	for id := range ids {
		out = append(out, s.parts[id].Clone())
	}
	return out
}

// ListOptimisticParts returns the message's Parts still carrying live
// optimistic metadata.
func (s *Store) ListOptimisticParts(messageID string) []*types.Part {
	all := s.ListPartsByMessage(messageID)
	out := all[:0]
	for _, p := range all {
		if p.IsOptimistic() {
			out = append(out, p)
		}
	}
	return out
}

// RepointPart moves a Part to a new messageID in a single call — used
// when reconciliation rekeys an optimistic message to its canonical id
// and its Parts must follow without ever observing a dangling FK
// (§4.5.3, P5).
func (s *Store) RepointPart(partID, newMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parts[partID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.messages[newMessageID]; !ok {
		return ErrNoSuchMessage
	}
	s.unindexPartLocked(p)
	clone := p.Clone()
	clone.MessageID = newMessageID
	s.parts[partID] = clone
	s.indexPartLocked(clone)
	return nil
}
