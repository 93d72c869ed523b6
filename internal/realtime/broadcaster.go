package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/store"
	"github.com/rs/zerolog"
)

// EventStore is the durable, append-only mutation log.
type EventStore interface {
	AppendEvent(ctx context.Context, event store.Event) (store.Event, error)
}

// PageChecker reports whether a page belongs to a board.
type PageChecker interface {
	PageInBoard(ctx context.Context, pageID, boardID string) (bool, error)
}

type mutationInput struct {
	BoardID string          `json:"boardId"`
	PageID  string          `json:"pageId"`
	Shape   json.RawMessage `json:"shape"`
	ShapeID json.RawMessage `json:"shapeId"`
	Event   json.RawMessage `json:"event"`
}

func (in mutationInput) field(name string) json.RawMessage {
	switch name {
	case "shape":
		return in.Shape
	case "shapeId":
		return in.ShapeID
	case "event":
		return in.Event
	default:
		return nil
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`))
}

// Broadcaster validates, persists and fans out board mutations. Persist and
// broadcast for one room happen under that room's lock, so peers receive
// events in the order they were stored.
type Broadcaster struct {
	events         EventStore
	pages          PageChecker
	registry       *Registry
	persistTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger

	lockMu sync.Mutex
	locks  map[string]*roomLock
}

// roomLock serializes persist-then-broadcast for one room. refs counts the
// holders and waiters so idle rooms can be dropped from the map.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewBroadcaster(events EventStore, pages PageChecker, registry *Registry, persistTimeout time.Duration, logger zerolog.Logger) *Broadcaster {
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &Broadcaster{
		events:         events,
		pages:          pages,
		registry:       registry,
		persistTimeout: persistTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
		locks:          make(map[string]*roomLock),
	}
}

// HandleMutation applies one mutation message from conn. On success the
// stored event is returned and every other member of the target room has been
// sent the message. Rejections are *Error values and leave no trace.
func (b *Broadcaster) HandleMutation(ctx context.Context, conn *Conn, msgType string, payload json.RawMessage) (store.Event, error) {
	r, ok := lookupRoute(msgType)
	if !ok || r.kind != kindMutation {
		return store.Event{}, newErrorf(CodeValidationError, "unsupported message type %q", msgType)
	}
	if !conn.CanEdit() {
		return store.Event{}, newError(CodePermissionDenied, "read-only access")
	}

	var in mutationInput
	if isEmptyJSON(payload) {
		return store.Event{}, newError(CodeValidationError, "payload is required")
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return store.Event{}, newErrorf(CodeValidationError, "invalid %s payload", msgType)
	}
	if in.BoardID != "" && in.BoardID != conn.BoardID() {
		return store.Event{}, newError(CodeAccessDenied, "board does not match connection")
	}

	var roomKey string
	switch r.scope {
	case scopePage:
		if in.PageID == "" {
			return store.Event{}, newErrorf(CodeValidationError, "%s requires pageId", msgType)
		}
		roomKey = PageRoom(in.PageID)
	case scopeBoard:
		roomKey = BoardRoom(conn.BoardID())
	case scopePageOrBoard:
		if in.PageID != "" {
			roomKey = PageRoom(in.PageID)
		} else {
			roomKey = BoardRoom(conn.BoardID())
		}
	}
	if r.required != "" && isEmptyJSON(in.field(r.required)) {
		return store.Event{}, newErrorf(CodeValidationError, "%s requires %s", msgType, r.required)
	}

	if in.PageID != "" {
		ok, err := b.pages.PageInBoard(ctx, in.PageID, conn.BoardID())
		if err != nil {
			b.logger.Error().Err(err).Str("page_id", in.PageID).Msg("page lookup failed")
			return store.Event{}, newError(CodePersistenceFailure, "could not verify page")
		}
		if !ok {
			return store.Event{}, newError(CodeAccessDenied, "page does not belong to board")
		}
	}

	unlock := b.lockRoom(roomKey)
	defer unlock()

	event, err := b.persist(ctx, store.Event{
		BoardID:   conn.BoardID(),
		PageID:    in.PageID,
		Type:      msgType,
		Payload:   payload,
		CreatedAt: b.now(),
	})
	if err != nil {
		b.logger.Error().Err(err).
			Str("board_id", conn.BoardID()).
			Str("type", msgType).
			Str("connection_id", conn.ID()).
			Msg("persist event failed")
		return store.Event{}, newError(CodePersistenceFailure, "event could not be saved")
	}

	frame, err := encodeEnvelope(Envelope{Type: msgType, Data: payload, Seq: event.Seq, From: conn.ID()})
	if err != nil {
		b.logger.Error().Err(err).Int64("seq", event.Seq).Msg("encode broadcast failed")
		return event, nil
	}
	delivered := b.registry.Broadcast(roomKey, frame, conn.ID())
	b.logger.Debug().
		Str("room", roomKey).
		Str("type", msgType).
		Int64("seq", event.Seq).
		Int("recipients", delivered).
		Msg("event broadcast")
	return event, nil
}

// persist stores the event on a context that outlives the sender's
// connection, bounded by the persist timeout.
func (b *Broadcaster) persist(ctx context.Context, event store.Event) (store.Event, error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.persistTimeout)
	defer cancel()
	return b.events.AppendEvent(persistCtx, event)
}

// lockRoom acquires the room's lock and returns its release. The entry is
// removed once nobody holds or waits on it.
func (b *Broadcaster) lockRoom(key string) func() {
	b.lockMu.Lock()
	lock, ok := b.locks[key]
	if !ok {
		lock = &roomLock{}
		b.locks[key] = lock
	}
	lock.refs++
	b.lockMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		b.lockMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(b.locks, key)
		}
		b.lockMu.Unlock()
	}
}
