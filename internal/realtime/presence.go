package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type presenceEntry struct {
	connID   string
	userID   string
	pageID   string
	x, y     float64
	lastSeen time.Time
}

// Presence tracks the last cursor position of each connection. Entries are
// never persisted and expire after ttl without an update.
//
// Lock order is presence, then registry.
type Presence struct {
	registry *Registry
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]presenceEntry

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPresence(registry *Registry, ttl, interval time.Duration, logger zerolog.Logger) *Presence {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Presence{
		registry: registry,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   logger,
		entries:  make(map[string]presenceEntry),
	}
}

// UpdateCursor records conn's cursor on its current page and relays it to the
// other members of that page room.
func (p *Presence) UpdateCursor(conn *Conn, x, y float64) error {
	pageID := conn.PageID()
	if pageID == "" {
		return newError(CodeValidationError, "join a page before sending cursor updates")
	}
	frame, err := encodeMessage(TypeCursor, cursorData{
		ConnectionID: conn.ID(),
		UserID:       conn.UserID(),
		Name:         conn.DisplayName(),
		PageID:       pageID,
		X:            x,
		Y:            y,
	})
	if err != nil {
		return newError(CodeInternal, "could not encode cursor")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[conn.ID()] = presenceEntry{
		connID:   conn.ID(),
		userID:   conn.UserID(),
		pageID:   pageID,
		x:        x,
		y:        y,
		lastSeen: p.now(),
	}
	p.registry.Broadcast(PageRoom(pageID), frame, conn.ID())
	return nil
}

// Remove drops the entry for connID, if any, and tells its page room.
func (p *Presence) Remove(connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[connID]
	if !ok {
		return false
	}
	delete(p.entries, connID)
	p.announceLeave(entry)
	return true
}

// Sweep removes every entry whose age exceeds ttl and announces each removal
// exactly once. It returns the number of entries removed.
func (p *Presence) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := p.now().Add(-p.ttl)
	removed := 0
	for id, entry := range p.entries {
		if !entry.lastSeen.Before(cutoff) {
			continue
		}
		delete(p.entries, id)
		p.announceLeave(entry)
		removed++
	}
	return removed
}

func (p *Presence) announceLeave(entry presenceEntry) {
	frame, err := encodeMessage(TypePresenceLeave, leaveData{
		ConnectionID: entry.connID,
		UserID:       entry.userID,
		PageID:       entry.pageID,
	})
	if err != nil {
		p.logger.Error().Err(err).Str("connection_id", entry.connID).Msg("encode presence leave failed")
		return
	}
	p.registry.Broadcast(PageRoom(entry.pageID), frame, entry.connID)
}

// Len returns the number of live entries.
func (p *Presence) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Start runs the sweeper until ctx is cancelled or Stop is called.
func (p *Presence) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := p.Sweep(); n > 0 {
					p.logger.Debug().Int("removed", n).Msg("presence sweep")
				}
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}
