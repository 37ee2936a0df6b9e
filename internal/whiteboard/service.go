package whiteboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/inkroom/pkg/logger"
	"github.com/charlesng35/inkroom/pkg/metrics"
	"github.com/charlesng35/inkroom/pkg/validator"
)

var (
	ErrMalformedPayload = errors.New("whiteboard: malformed payload")
	ErrUnknownEvent     = errors.New("whiteboard: unknown event")
	ErrNotJoined        = errors.New("whiteboard: connection has not joined a session")
	ErrSessionMismatch  = errors.New("whiteboard: payload targets a different session")
)

// Broadcaster delivers events to realtime connections grouped into rooms.
type Broadcaster interface {
	Join(connID, room string)
	Leave(connID, room string)
	BroadcastToRoom(room, event string, payload any, exclude string) int
	SendTo(connID, event string, payload any) bool
}

// Config controls how display names are resolved.
type Config struct {
	DefaultName      string
	HostName         string
	ForceHostName    bool
	UploaderFallback string
}

// DefaultConfig mirrors the built-in naming rules.
func DefaultConfig() Config {
	return Config{
		DefaultName:      "Anonymous",
		HostName:         "Host",
		ForceHostName:    true,
		UploaderFallback: "Someone",
	}
}

// Service handles realtime whiteboard events. All handlers run under a single lock so a
// store mutation and the broadcasts describing it are observed together.
type Service struct {
	mu       sync.Mutex
	store    *Store
	registry *Registry
	hub      Broadcaster
	cfg      Config
	log      *zap.Logger
}

// NewService wires the store, registry and broadcaster together.
func NewService(store *Store, registry *Registry, hub Broadcaster, cfg Config) *Service {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.DefaultName) == "" {
		cfg.DefaultName = defaults.DefaultName
	}
	if strings.TrimSpace(cfg.HostName) == "" {
		cfg.HostName = defaults.HostName
	}
	if strings.TrimSpace(cfg.UploaderFallback) == "" {
		cfg.UploaderFallback = defaults.UploaderFallback
	}
	return &Service{
		store:    store,
		registry: registry,
		hub:      hub,
		cfg:      cfg,
		log:      logger.WithModule("whiteboard"),
	}
}

// Store exposes the backing session store.
func (s *Service) Store() *Store {
	return s.store
}

// Connect is invoked once the transport has accepted a connection.
func (s *Service) Connect(connID string) {
	s.log.Debug("connection opened", zap.String("conn_id", connID))
}

// HandleMessage routes one inbound event. Returned errors wrap one of the package sentinels.
func (s *Service) HandleMessage(connID, event string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event {
	case EventJoinSession:
		return s.join(connID, data)
	case EventDraw:
		var p DrawPayload
		if err := decode(data, &p); err != nil {
			return err
		}
		return s.relay(connID, p.SessionID, EventDraw, data)
	case EventShape:
		var p ShapePayload
		if err := decode(data, &p); err != nil {
			return err
		}
		return s.relay(connID, p.SessionID, EventShape, data)
	case EventChatMessage:
		return s.chat(connID, data)
	case EventSnapshot:
		return s.snapshot(connID, data)
	case EventPing:
		s.hub.SendTo(connID, EventPong, nil)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// Disconnect removes the connection from its session and tells the remaining members.
func (s *Service) Disconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leave(connID)
	s.registry.Remove(connID)
	s.refreshGauges()
	s.log.Debug("connection closed", zap.String("conn_id", connID))
}

// AnnounceFile broadcasts a shared file to every member of the session, uploader included.
func (s *Service) AnnounceFile(sessionID, uploaderID, fileName, fileURL string) FileShared {
	s.mu.Lock()
	defer s.mu.Unlock()

	shared := FileShared{
		FileName: fileName,
		FileURL:  fileURL,
		Uploader: s.registry.Name(uploaderID, s.cfg.UploaderFallback),
	}
	delivered := s.hub.BroadcastToRoom(sessionID, EventFileShared, shared, "")
	s.log.Info("file shared",
		zap.String("session_id", sessionID),
		zap.String("file_name", fileName),
		zap.Int("recipients", delivered),
	)
	return shared
}

// UploaderName resolves the display name recorded for connID, falling back to the
// configured uploader name for unknown or anonymous uploaders.
func (s *Service) UploaderName(connID string) string {
	return s.registry.Name(connID, s.cfg.UploaderFallback)
}

// ReapIdle removes sessions that have had no participants for at least grace.
func (s *Service) ReapIdle(grace time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := s.store.ReapIdle(grace)
	if len(reaped) > 0 {
		metrics.ReapedSessions.Add(float64(len(reaped)))
		s.refreshGauges()
		s.log.Info("reaped idle sessions", zap.Strings("session_ids", reaped))
	}
	return reaped
}

func (s *Service) join(connID string, data json.RawMessage) error {
	var p JoinPayload
	if err := decode(data, &p); err != nil {
		return err
	}

	if _, joined := s.store.SessionOf(connID); joined {
		s.leave(connID)
	}

	name := s.displayName(p)
	s.registry.SetName(connID, name)
	if s.store.EnsureExists(p.SessionID) {
		s.log.Info("session created on join", zap.String("session_id", p.SessionID))
	}
	s.hub.Join(connID, p.SessionID)
	if err := s.store.AddParticipant(p.SessionID, connID, name); err != nil {
		s.hub.Leave(connID, p.SessionID)
		return err
	}

	s.hub.BroadcastToRoom(p.SessionID, EventUpdateUserList, s.store.Roster(p.SessionID), "")
	if image, ok := s.store.Snapshot(p.SessionID); ok {
		s.hub.SendTo(connID, EventLoadSnapshot, image)
	}
	s.hub.BroadcastToRoom(p.SessionID, EventSystemMessage, name+" joined the session", "")

	s.refreshGauges()
	s.log.Info("participant joined",
		zap.String("conn_id", connID),
		zap.String("session_id", p.SessionID),
		zap.String("name", name),
	)
	return nil
}

// leave must be called with s.mu held.
func (s *Service) leave(connID string) {
	name := s.registry.Name(connID, s.cfg.DefaultName)
	for _, sessionID := range s.store.RemoveParticipant(connID) {
		s.hub.Leave(connID, sessionID)
		s.hub.BroadcastToRoom(sessionID, EventUpdateUserList, s.store.Roster(sessionID), "")
		s.hub.BroadcastToRoom(sessionID, EventSystemMessage, name+" left the session", "")
		s.log.Info("participant left",
			zap.String("conn_id", connID),
			zap.String("session_id", sessionID),
		)
	}
}

func (s *Service) relay(connID, sessionID, event string, data json.RawMessage) error {
	if err := s.checkSession(connID, sessionID); err != nil {
		return err
	}
	s.hub.BroadcastToRoom(sessionID, event, data, connID)
	return nil
}

func (s *Service) chat(connID string, data json.RawMessage) error {
	var p ChatPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := s.checkSession(connID, p.SessionID); err != nil {
		return err
	}
	msg := ChatMessage{
		Name: s.registry.Name(connID, s.cfg.DefaultName),
		Text: p.Text,
	}
	s.hub.BroadcastToRoom(p.SessionID, EventChatMessage, msg, "")
	return nil
}

func (s *Service) snapshot(connID string, data json.RawMessage) error {
	var p SnapshotPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if err := s.checkSession(connID, p.SessionID); err != nil {
		return err
	}
	s.store.SetSnapshot(p.SessionID, p.Image)
	return nil
}

func (s *Service) checkSession(connID, sessionID string) error {
	current, ok := s.store.SessionOf(connID)
	if !ok {
		return ErrNotJoined
	}
	if current != sessionID {
		return fmt.Errorf("%w: joined %s, got %s", ErrSessionMismatch, current, sessionID)
	}
	return nil
}

func (s *Service) displayName(p JoinPayload) string {
	name := strings.TrimSpace(p.Name)
	if p.IsHost && (s.cfg.ForceHostName || name == "") {
		return s.cfg.HostName
	}
	if name == "" {
		return s.cfg.DefaultName
	}
	return name
}

func (s *Service) refreshGauges() {
	metrics.ActiveSessions.Set(float64(s.store.Len()))
	metrics.Participants.Set(float64(s.store.ParticipantCount()))
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validator.ValidateStruct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
