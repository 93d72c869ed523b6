package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Stores groups the collaborators the hub consumes.
type Stores struct {
	Users       UserStore
	Boards      BoardStore
	Events      EventStore
	Revocations RevocationChecker
}

type Options struct {
	Secret         []byte
	PresenceTTL    time.Duration
	PresenceSweep  time.Duration
	PersistTimeout time.Duration
}

// Hub owns the realtime state for one process: room membership, presence and
// the mutation pipeline. Start must be called before connections attach and
// Stop once they are gone.
type Hub struct {
	auth        *Authenticator
	registry    *Registry
	presence    *Presence
	broadcaster *Broadcaster
	boards      BoardStore
	logger      zerolog.Logger
}

func NewHub(opts Options, stores Stores, logger zerolog.Logger) *Hub {
	registry := NewRegistry(logger)
	return &Hub{
		auth:        NewAuthenticator(opts.Secret, stores.Users, stores.Boards, stores.Revocations, logger),
		registry:    registry,
		presence:    NewPresence(registry, opts.PresenceTTL, opts.PresenceSweep, logger),
		broadcaster: NewBroadcaster(stores.Events, stores.Boards, registry, opts.PersistTimeout, logger),
		boards:      stores.Boards,
		logger:      logger,
	}
}

func (h *Hub) Start(ctx context.Context) {
	h.presence.Start(ctx)
}

func (h *Hub) Stop() {
	h.presence.Stop()
}

func (h *Hub) Registry() *Registry { return h.registry }
func (h *Hub) Presence() *Presence { return h.presence }

func (h *Hub) Authenticate(ctx context.Context, hs Handshake) (Descriptor, error) {
	return h.auth.Authenticate(ctx, hs)
}

// Connect attaches an authenticated connection to its board room, greets it
// and, when the handshake named a page, moves it onto that page.
func (h *Hub) Connect(ctx context.Context, desc Descriptor, sink Sink) (*Conn, error) {
	conn := NewConn(desc, sink)
	if err := h.registry.Attach(conn); err != nil {
		return nil, err
	}

	greeting, err := encodeMessage(TypeConnected, connectedData{
		ConnectionID: conn.ID(),
		BoardID:      conn.BoardID(),
		PageID:       desc.PageID,
		CanEdit:      conn.CanEdit(),
	})
	if err == nil {
		conn.send(greeting)
	}

	h.logger.Info().
		Str("connection_id", conn.ID()).
		Str("user_id", conn.UserID()).
		Str("board_id", conn.BoardID()).
		Bool("can_edit", conn.CanEdit()).
		Bool("share_link", desc.ViaShareLink).
		Msg("connection attached")

	if desc.PageID != "" {
		if err := h.SwitchPage(ctx, conn, conn.BoardID(), desc.PageID); err != nil {
			conn.sendError(asProtocolError(err))
		}
	}
	return conn, nil
}

// Disconnect removes conn from every room. Its presence entry, if any, is
// left for the sweeper.
func (h *Hub) Disconnect(conn *Conn) {
	page := h.registry.Detach(conn)
	h.logger.Info().
		Str("connection_id", conn.ID()).
		Str("board_id", conn.BoardID()).
		Str("last_room", page).
		Msg("connection detached")
}

// HandleFrame decodes and dispatches one inbound frame. Rejections are sent
// back to conn as error frames; the connection stays open.
func (h *Hub) HandleFrame(ctx context.Context, conn *Conn, frame []byte) {
	if err := h.dispatch(ctx, conn, frame); err != nil {
		protoErr := asProtocolError(err)
		if protoErr.Code == CodeInternal {
			h.logger.Error().Err(err).Str("connection_id", conn.ID()).Msg("message handling failed")
		}
		conn.sendError(protoErr)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn *Conn, frame []byte) error {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		return newError(CodeValidationError, "malformed message")
	}
	r, ok := lookupRoute(env.Type)
	if !ok {
		return newErrorf(CodeValidationError, "unknown message type %q", env.Type)
	}

	switch r.kind {
	case kindMutation:
		_, err := h.broadcaster.HandleMutation(ctx, conn, env.Type, env.Data)
		return err
	case kindPageSwitch:
		var in pageSwitchedData
		if err := json.Unmarshal(env.Data, &in); err != nil || in.PageID == "" {
			return newError(CodeValidationError, "page:switch requires pageId")
		}
		return h.SwitchPage(ctx, conn, in.BoardID, in.PageID)
	case kindPresence:
		var in struct {
			PageID string   `json:"pageId"`
			X      *float64 `json:"x"`
			Y      *float64 `json:"y"`
		}
		if err := json.Unmarshal(env.Data, &in); err != nil || in.X == nil || in.Y == nil {
			return newError(CodeValidationError, "presence:cursor requires x and y")
		}
		// A cursor for a page the connection already left is stale.
		if in.PageID != "" && in.PageID != conn.PageID() {
			return nil
		}
		return h.presence.UpdateCursor(conn, *in.X, *in.Y)
	default:
		return newErrorf(CodeValidationError, "unknown message type %q", env.Type)
	}
}

// SwitchPage moves conn to pageID on boardID. boardID must be the bound
// board; an empty boardID means the bound board.
func (h *Hub) SwitchPage(ctx context.Context, conn *Conn, boardID, pageID string) error {
	if boardID != "" && boardID != conn.BoardID() {
		return newError(CodeAccessDenied, "board does not match connection")
	}
	if pageID == conn.PageID() {
		return nil
	}
	ok, err := h.boards.PageInBoard(ctx, pageID, conn.BoardID())
	if err != nil {
		return err
	}
	if !ok {
		return newError(CodeAccessDenied, "page does not belong to board")
	}

	h.presence.Remove(conn.ID())
	changed, err := h.registry.SwitchPage(conn, pageID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	ack, err := encodeMessage(TypePageSwitched, pageSwitchedData{BoardID: conn.BoardID(), PageID: pageID})
	if err != nil {
		return err
	}
	conn.send(ack)
	return nil
}

func asProtocolError(err error) *Error {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr
	}
	return newError(CodeInternal, "internal error")
}
