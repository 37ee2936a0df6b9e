package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inkroom/internal/whiteboard"
	apperrors "github.com/charlesng35/inkroom/pkg/errors"
	"github.com/charlesng35/inkroom/pkg/response"
)

// SessionHandler exposes session creation and lookup over HTTP. It shares its store with the
// realtime service so sessions created here are immediately joinable over the socket.
type SessionHandler struct {
	store *whiteboard.Store
}

func NewSessionHandler(store *whiteboard.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type joinSessionRequest struct {
	SessionID string `json:"sessionId" validate:"max=128"`
}

type sessionInfoResponse struct {
	SessionID    string   `json:"sessionId"`
	Participants []string `json:"participants"`
	HasSnapshot  bool     `json:"hasSnapshot"`
}

// POST /session/create
func (h *SessionHandler) Create(c *gin.Context) {
	id := h.store.Create()
	response.JSON(c, http.StatusOK, createSessionResponse{SessionID: id})
}

// POST /session/join
func (h *SessionHandler) Join(c *gin.Context) {
	var req joinSessionRequest
	if !bindOptionalAndValidate(c, &req) {
		return
	}

	if !h.store.Exists(req.SessionID) {
		response.Error(c, apperrors.ErrSessionNotFound)
		return
	}

	response.OK(c)
}

// GET /session/:sessionId
func (h *SessionHandler) Get(c *gin.Context) {
	info, ok := h.store.Info(c.Param("sessionId"))
	if !ok {
		response.Error(c, apperrors.ErrSessionNotFound)
		return
	}

	participants := info.Participants
	if participants == nil {
		participants = []string{}
	}
	response.JSON(c, http.StatusOK, sessionInfoResponse{
		SessionID:    info.ID,
		Participants: participants,
		HasSnapshot:  info.HasSnapshot,
	})
}
