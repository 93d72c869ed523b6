package realtime

import (
	"errors"
	"sync"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/util"
)

// Sink receives the encoded frames addressed to one connection. Deliver must
// not block; it returns false when the frame could not be queued. Closed
// reports whether Close has been called.
type Sink interface {
	Deliver(frame []byte) bool
	Close()
	Closed() bool
}

var (
	errSinkClosed   = errors.New("connection is closing")
	errSlowConsumer = errors.New("send buffer full")
)

// Descriptor is the outcome of a successful handshake.
type Descriptor struct {
	UserID       string
	DisplayName  string
	CanEdit      bool
	BoardID      string
	PageID       string
	ViaShareLink bool
}

// Conn is the runtime state of one attached client. Identity, capability and
// board binding are fixed at handshake; only the current page changes.
type Conn struct {
	id   string
	desc Descriptor
	sink Sink

	mu     sync.Mutex
	pageID string
}

func NewConn(desc Descriptor, sink Sink) *Conn {
	return &Conn{
		id:   util.NewID("conn"),
		desc: desc,
		sink: sink,
	}
}

func (c *Conn) ID() string          { return c.id }
func (c *Conn) UserID() string      { return c.desc.UserID }
func (c *Conn) DisplayName() string { return c.desc.DisplayName }
func (c *Conn) CanEdit() bool       { return c.desc.CanEdit }
func (c *Conn) BoardID() string     { return c.desc.BoardID }

// PageID returns the page room the connection currently belongs to.
func (c *Conn) PageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageID
}

func (c *Conn) setPageID(pageID string) {
	c.mu.Lock()
	c.pageID = pageID
	c.mu.Unlock()
}

// send queues frame for the client. A sink that cannot keep up is closed and
// errSlowConsumer returned; a sink that was already closing yields
// errSinkClosed.
func (c *Conn) send(frame []byte) error {
	if c.sink.Deliver(frame) {
		return nil
	}
	if c.sink.Closed() {
		return errSinkClosed
	}
	c.sink.Close()
	return errSlowConsumer
}

func (c *Conn) sendError(protoErr *Error) {
	c.send(errorFrame(protoErr))
}
