package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/realtime"
	"github.com/gorilla/websocket"
)

func dial(t *testing.T, server *httptest.Server, query string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", query, err, status)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) realtime.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := realtime.DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode frame %s: %v", frame, err)
	}
	return env
}

// readUntil skips frames until one of msgType arrives.
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) realtime.Envelope {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, ws)
		if env.Type == msgType {
			return env
		}
	}
	t.Fatalf("no %s frame received", msgType)
	return realtime.Envelope{}
}

func writeFrame(t *testing.T, ws *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteJSON(realtime.Envelope{Type: msgType, Data: raw}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	fs := newFakeStore()
	fs.seedBoard()
	server := httptest.NewServer(newTestServer(fs).Handler())
	defer server.Close()

	owner := dial(t, server, "boardId=b1&pageId=p1", http.Header{"Authorization": {"Bearer " + issueToken(t, "u-owner", "jti-1")}})
	connected := readEnvelope(t, owner)
	if connected.Type != realtime.TypeConnected {
		t.Fatalf("expected connected greeting, got %s", connected.Type)
	}
	var greeting struct {
		ConnectionID string `json:"connectionId"`
		CanEdit      bool   `json:"canEdit"`
	}
	if err := json.Unmarshal(connected.Data, &greeting); err != nil {
		t.Fatalf("decode greeting: %v", err)
	}
	if !greeting.CanEdit || greeting.ConnectionID == "" {
		t.Fatalf("unexpected greeting %+v", greeting)
	}
	readUntil(t, owner, realtime.TypePageSwitched)

	guest := dial(t, server, "boardId=b1&pageId=p1&shareToken=view-token", nil)
	readUntil(t, guest, realtime.TypePageSwitched)

	writeFrame(t, owner, realtime.TypeShapeAdd, map[string]any{
		"boardId": "b1",
		"pageId":  "p1",
		"shape":   map[string]any{"id": "s1", "type": "ellipse"},
	})
	added := readUntil(t, guest, realtime.TypeShapeAdd)
	if added.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", added.Seq)
	}
	if added.From != greeting.ConnectionID {
		t.Fatalf("expected from %s, got %s", greeting.ConnectionID, added.From)
	}

	writeFrame(t, guest, realtime.TypeShapeDelete, map[string]any{"boardId": "b1", "pageId": "p1", "shapeId": "s1"})
	rejected := readUntil(t, guest, realtime.TypeError)
	var errData struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rejected.Data, &errData); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if errData.Code != string(realtime.CodePermissionDenied) {
		t.Fatalf("expected PermissionDenied, got %s", errData.Code)
	}
	if got := fs.eventCount(); got != 1 {
		t.Fatalf("expected 1 stored event, got %d", got)
	}

	writeFrame(t, guest, realtime.TypeCursor, map[string]any{"x": 3, "y": 4})
	cursor := readUntil(t, owner, realtime.TypeCursor)
	var cursorData struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(cursor.Data, &cursorData); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if cursorData.X != 3 || cursorData.Y != 4 {
		t.Fatalf("unexpected cursor %+v", cursorData)
	}
}

func TestWebSocketDisconnectDetaches(t *testing.T) {
	fs := newFakeStore()
	fs.seedBoard()
	httpServer := newTestServer(fs)
	server := httptest.NewServer(httpServer.Handler())
	defer server.Close()

	ws := dial(t, server, "boardId=b1&shareToken=view-token", nil)
	readEnvelope(t, ws)
	registry := httpServer.service.Hub().Registry()
	if got := len(registry.Members(realtime.BoardRoom("b1"))); got != 1 {
		t.Fatalf("expected 1 board member, got %d", got)
	}

	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(registry.Members(realtime.BoardRoom("b1"))) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection still attached after close")
}
