package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type broadcast struct {
	room    string
	event   string
	payload any
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	sent  []broadcast
	rooms map[string]map[string]struct{}
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{rooms: make(map[string]map[string]struct{})}
}

func (r *recordingBroadcaster) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
}

func (r *recordingBroadcaster) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[room], connID)
}

func (r *recordingBroadcaster) BroadcastToRoom(room, event string, payload any, _ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, broadcast{room: room, event: event, payload: payload})
	return len(r.rooms[room])
}

func (r *recordingBroadcaster) SendTo(string, string, any) bool { return true }

func (r *recordingBroadcaster) events(event string) []broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broadcast
	for _, b := range r.sent {
		if b.event == event {
			out = append(out, b)
		}
	}
	return out
}

func performRequest(t *testing.T, handler gin.HandlerFunc, method, target string, body io.Reader, params gin.Params, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, body)
	for key, value := range headers {
		c.Request.Header.Set(key, value)
	}
	c.Params = params
	handler(c)
	return rec
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
}

