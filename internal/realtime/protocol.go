package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound and outbound message names.
const (
	TypePageSwitch    = "page:switch"
	TypeShapeAdd      = "shape:add"
	TypeShapeUpdate   = "shape:update"
	TypeShapeDelete   = "shape:delete"
	TypePageSettings  = "page:settings:update"
	TypeAssetAdd      = "asset:add"
	TypeCanvasEvent   = "canvas-event"
	TypeCursor        = "presence:cursor"
	TypePresenceLeave = "presence:leave"
	TypeConnected     = "connected"
	TypePageSwitched  = "page:switched"
	TypeError         = "error"
)

// Envelope is the JSON frame exchanged over the socket. Seq and From are only
// set on frames the server re-emits to peers.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	From string          `json:"from,omitempty"`
}

type errorData struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

type connectedData struct {
	ConnectionID string `json:"connectionId"`
	BoardID      string `json:"boardId"`
	PageID       string `json:"pageId,omitempty"`
	CanEdit      bool   `json:"canEdit"`
}

type pageSwitchedData struct {
	BoardID string `json:"boardId"`
	PageID  string `json:"pageId"`
}

type cursorData struct {
	ConnectionID string  `json:"connectionId"`
	UserID       string  `json:"userId,omitempty"`
	Name         string  `json:"name,omitempty"`
	PageID       string  `json:"pageId"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}

type leaveData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	PageID       string `json:"pageId"`
}

func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", env.Type, err)
	}
	return frame, nil
}

// encodeMessage wraps data as the payload of a frame of the given type.
func encodeMessage(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return encodeEnvelope(Envelope{Type: msgType, Data: raw})
}

func errorFrame(protoErr *Error) []byte {
	frame, err := encodeMessage(TypeError, errorData{Code: protoErr.Code, Message: protoErr.Message})
	if err != nil {
		return []byte(`{"type":"error","data":{"code":"InternalError","message":"encode error"}}`)
	}
	return frame
}
