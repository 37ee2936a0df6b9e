package whiteboard

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when an operation targets an unknown session id.
	ErrSessionNotFound = errors.New("whiteboard: session not found")
	// ErrAlreadyJoined is returned when a connection is already part of a roster.
	ErrAlreadyJoined = errors.New("whiteboard: connection already joined")
)

// Participant is a single roster entry.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"name"`
}

// SessionInfo is a read-only view of a session used by the HTTP layer.
type SessionInfo struct {
	ID           string
	Participants []string
	HasSnapshot  bool
	CreatedAt    time.Time
}

type session struct {
	id           string
	participants []Participant
	snapshot     string
	hasSnapshot  bool
	createdAt    time.Time
	emptySince   time.Time
}

// Store keeps whiteboard sessions in memory together with a connection to session index.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	index    map[string]string
	timeNow  func() time.Time
	newID    func() string
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the clock used to stamp session creation and idle times.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewStore constructs an empty in-memory session store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: make(map[string]*session),
		index:    make(map[string]string),
		timeNow:  time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new empty session and returns its id.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for s.sessions[id] != nil {
		id = s.newID()
	}
	s.insertLocked(id)
	return id
}

// EnsureExists creates the session when missing and reports whether it did so.
func (s *Store) EnsureExists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return false
	}
	s.insertLocked(id)
	return true
}

func (s *Store) insertLocked(id string) {
	now := s.timeNow()
	s.sessions[id] = &session{id: id, createdAt: now, emptySince: now}
}

func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// AddParticipant appends a participant to the session roster.
func (s *Store) AddParticipant(id, connID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if current, joined := s.index[connID]; joined {
		return fmt.Errorf("%w: %s is in session %s", ErrAlreadyJoined, connID, current)
	}

	sess.participants = append(sess.participants, Participant{ConnectionID: connID, DisplayName: name})
	sess.emptySince = time.Time{}
	s.index[connID] = id
	return nil
}

// RemoveParticipant drops the connection from whichever roster holds it and returns the
// ids of the sessions that changed.
func (s *Store) RemoveParticipant(connID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.index[connID]
	if !ok {
		return nil
	}
	delete(s.index, connID)

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}

	kept := sess.participants[:0]
	removed := false
	for _, p := range sess.participants {
		if p.ConnectionID == connID {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	sess.participants = kept
	if len(kept) == 0 {
		sess.emptySince = s.timeNow()
	}

	if !removed {
		return nil
	}
	return []string{id}
}

// SessionOf returns the session the connection is joined to.
func (s *Store) SessionOf(connID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.index[connID]
	return id, ok
}

// Roster returns display names in join order. Unknown sessions yield nil.
func (s *Store) Roster(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return rosterNames(sess.participants)
}

// Info returns a snapshot of the session's public state.
func (s *Store) Info(id string) (SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:           sess.id,
		Participants: rosterNames(sess.participants),
		HasSnapshot:  sess.hasSnapshot,
		CreatedAt:    sess.createdAt,
	}, true
}

// SetSnapshot replaces the cached canvas image. Unknown sessions are ignored.
func (s *Store) SetSnapshot(id, image string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.snapshot = image
	sess.hasSnapshot = true
	return true
}

func (s *Store) Snapshot(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.hasSnapshot {
		return "", false
	}
	return sess.snapshot, true
}

// ReapIdle deletes sessions whose roster has been empty for at least grace.
func (s *Store) ReapIdle(grace time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeNow()
	var reaped []string
	for id, sess := range s.sessions {
		if len(sess.participants) > 0 || sess.emptySince.IsZero() {
			continue
		}
		if now.Sub(sess.emptySince) >= grace {
			delete(s.sessions, id)
			reaped = append(reaped, id)
		}
	}
	sort.Strings(reaped)
	return reaped
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

func rosterNames(participants []Participant) []string {
	names := make([]string, len(participants))
	for i, p := range participants {
		names[i] = p.DisplayName
	}
	return names
}
