package realtime

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	boardRoomPrefix = "board:"
	pageRoomPrefix  = "page:"
)

func BoardRoom(boardID string) string { return boardRoomPrefix + boardID }
func PageRoom(pageID string) string   { return pageRoomPrefix + pageID }

type membership struct {
	board string
	page  string
}

// Registry tracks which connections belong to which rooms. A connection holds
// exactly one board room once attached and at most one page room. All
// membership changes and broadcast snapshots go through mu.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Conn
	members map[string]*membership
	logger  zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:   make(map[string]map[string]*Conn),
		members: make(map[string]*membership),
		logger:  logger,
	}
}

// Attach joins conn to the room of the board it was authorized for.
func (r *Registry) Attach(conn *Conn) error {
	_, err := r.Join(conn, BoardRoom(conn.BoardID()))
	return err
}

// SwitchPage moves conn into the room of pageID, leaving its previous page
// room first. It reports whether membership changed.
func (r *Registry) SwitchPage(conn *Conn, pageID string) (bool, error) {
	return r.Join(conn, PageRoom(pageID))
}

// Join adds conn to key. A board key must name the connection's own board;
// a page key replaces any page room the connection already holds. Joining a
// room the connection is already in is a no-op and returns false.
func (r *Registry) Join(conn *Conn, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.members[conn.ID()]
	switch {
	case strings.HasPrefix(key, boardRoomPrefix):
		boardID := strings.TrimPrefix(key, boardRoomPrefix)
		if boardID != conn.BoardID() {
			return false, fmt.Errorf("join %s: connection is bound to board %s", key, conn.BoardID())
		}
		if m != nil {
			return false, nil
		}
		r.members[conn.ID()] = &membership{board: key}
		r.add(key, conn)
		return true, nil

	case strings.HasPrefix(key, pageRoomPrefix):
		if m == nil {
			return false, fmt.Errorf("join %s: connection %s is not attached", key, conn.ID())
		}
		if m.page == key {
			return false, nil
		}
		if m.page != "" {
			r.remove(m.page, conn.ID())
		}
		m.page = key
		r.add(key, conn)
		conn.setPageID(strings.TrimPrefix(key, pageRoomPrefix))
		return true, nil

	default:
		return false, fmt.Errorf("join %s: unknown room kind", key)
	}
}

// Leave removes conn from key. Leaving the board room detaches the
// connection entirely.
func (r *Registry) Leave(conn *Conn, key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.members[conn.ID()]
	if m == nil {
		return false
	}
	switch key {
	case m.page:
		r.remove(m.page, conn.ID())
		m.page = ""
		conn.setPageID("")
		return true
	case m.board:
		r.detachLocked(conn, m)
		return true
	default:
		return false
	}
}

// Detach removes conn from every room it holds and returns the page room key
// it left, if any.
func (r *Registry) Detach(conn *Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.members[conn.ID()]
	if m == nil {
		return ""
	}
	page := m.page
	r.detachLocked(conn, m)
	return page
}

func (r *Registry) detachLocked(conn *Conn, m *membership) {
	if m.page != "" {
		r.remove(m.page, conn.ID())
	}
	r.remove(m.board, conn.ID())
	delete(r.members, conn.ID())
	conn.setPageID("")
}

func (r *Registry) add(key string, conn *Conn) {
	room, ok := r.rooms[key]
	if !ok {
		room = make(map[string]*Conn)
		r.rooms[key] = room
	}
	room[conn.ID()] = conn
}

func (r *Registry) remove(key, connID string) {
	room, ok := r.rooms[key]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, key)
	}
}

// Broadcast delivers frame to every member of key at the time of the call,
// except excludeID. It returns the number of members the frame was queued for.
func (r *Registry) Broadcast(key string, frame []byte, excludeID string) int {
	targets := r.snapshot(key, excludeID)
	delivered := 0
	for _, conn := range targets {
		switch err := conn.send(frame); {
		case err == nil:
			delivered++
		case errors.Is(err, errSinkClosed):
			r.logger.Debug().Str("room", key).Str("connection_id", conn.ID()).Msg("skipping closing connection")
		default:
			r.logger.Warn().Str("room", key).Str("connection_id", conn.ID()).Msg("dropping slow consumer")
		}
	}
	return delivered
}

func (r *Registry) snapshot(key, excludeID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[key]
	targets := make([]*Conn, 0, len(room))
	for id, conn := range room {
		if id == excludeID {
			continue
		}
		targets = append(targets, conn)
	}
	return targets
}

// Members returns the connection ids currently in key.
func (r *Registry) Members(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[key]))
	for id := range r.rooms[key] {
		ids = append(ids, id)
	}
	return ids
}

// Rooms returns the room keys conn currently belongs to.
func (r *Registry) Rooms(conn *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.members[conn.ID()]
	if m == nil {
		return nil
	}
	if m.page == "" {
		return []string{m.board}
	}
	return []string{m.board, m.page}
}

// Connections returns the number of attached connections.
func (r *Registry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
