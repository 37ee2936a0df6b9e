package whiteboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Realtime event names exchanged with browser clients.
const (
	EventJoinSession    = "joinSession"
	EventUpdateUserList = "updateUserList"
	EventLoadSnapshot   = "loadSnapshot"
	EventSystemMessage  = "systemMessage"
	EventDraw           = "draw"
	EventShape          = "shape"
	EventChatMessage    = "chatMessage"
	EventSnapshot       = "snapshot"
	EventFileShared     = "fileShared"
	EventPing           = "ping"
	EventPong           = "pong"
)

// JoinPayload is sent by a client entering a session.
type JoinPayload struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
	Name      string `json:"name" validate:"max=64"`
	IsHost    bool   `json:"isHost"`
}

// Point is one vertex of a freehand stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Width is a brush size. Browsers send it either as a number or as the raw input string.
type Width float64

func (w *Width) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("size %q is not a number", raw)
		}
		*w = Width(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*w = Width(v)
	return nil
}

// DrawPayload is a freehand stroke.
type DrawPayload struct {
	SessionID string  `json:"sessionId" validate:"required"`
	Path      []Point `json:"path" validate:"required,min=1"`
	Color     string  `json:"color" validate:"required,max=64"`
	Size      Width   `json:"size" validate:"gt=0"`
}

// ShapePayload is a geometric primitive or a full canvas fill.
type ShapePayload struct {
	SessionID string   `json:"sessionId" validate:"required"`
	Type      string   `json:"type" validate:"required,oneof=rectangle circle triangle fill"`
	X1        *float64 `json:"x1" validate:"required_unless=Type fill"`
	Y1        *float64 `json:"y1" validate:"required_unless=Type fill"`
	X2        *float64 `json:"x2" validate:"required_unless=Type fill"`
	Y2        *float64 `json:"y2" validate:"required_unless=Type fill"`
	Color     string   `json:"color" validate:"required,max=64"`
	Size      Width    `json:"size" validate:"gte=0"`
}

// ChatPayload is an inbound chat line.
type ChatPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
	Text      string `json:"text" validate:"required,max=4000"`
}

// ChatMessage is the outbound chat line; Name always comes from the registry.
type ChatMessage struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// SnapshotPayload carries a full canvas image, usually a data URI.
type SnapshotPayload struct {
	SessionID string `json:"sessionId" validate:"required"`
	Image     string `json:"image" validate:"required"`
}

// FileShared announces an uploaded file to a session.
type FileShared struct {
	FileName string `json:"fileName"`
	FileURL  string `json:"fileUrl"`
	Uploader string `json:"uploader"`
}
