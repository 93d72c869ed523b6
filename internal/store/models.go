package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

type Board struct {
	ID        string
	Title     string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Page struct {
	ID        string
	BoardID   string
	Position  int
	Settings  json.RawMessage
	CreatedAt time.Time
}

type Membership struct {
	UserID  string
	BoardID string
	Role    string
}

// ShareLink grants anonymous access to a board. Only the SHA-256 digest of the
// token is stored.
type ShareLink struct {
	ID        string
	BoardID   string
	TokenHash string
	CanEdit   bool
	CreatedAt time.Time
}

// Event is one immutable entry of the mutation log. Seq is assigned by the
// database and increases monotonically.
type Event struct {
	Seq       int64
	BoardID   string
	PageID    string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// EventQuery selects events for a board, optionally narrowed to one page, in
// sequence order.
type EventQuery struct {
	BoardID  string
	PageID   string
	AfterSeq int64
	Limit    int
}
