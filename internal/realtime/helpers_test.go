package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/auth"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type recordingSink struct {
	mu       sync.Mutex
	frames   [][]byte
	capacity int
	closed   bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{}
}

// newBoundedSink rejects frames once capacity frames are queued.
func newBoundedSink(capacity int) *recordingSink {
	return &recordingSink{capacity: capacity}
}

func (s *recordingSink) Deliver(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.capacity > 0 && len(s.frames) >= s.capacity {
		return false
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return true
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *recordingSink) envelopes(t *testing.T) []Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, 0, len(s.frames))
	for _, frame := range s.frames {
		env, err := DecodeEnvelope(frame)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (s *recordingSink) ofType(t *testing.T, msgType string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range s.envelopes(t) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

// fakeStore is an in-memory stand-in for the Postgres collaborators.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	boards      map[string]store.Board
	memberships map[string]string
	links       map[string]store.ShareLink
	pages       map[string]string
	revoked     map[string]bool
	events      []store.Event
	nextSeq     int64

	appendFn func(ctx context.Context, event store.Event) (store.Event, error)
	pageErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		boards:      make(map[string]store.Board),
		memberships: make(map[string]string),
		links:       make(map[string]store.ShareLink),
		pages:       make(map[string]string),
		revoked:     make(map[string]bool),
	}
}

func (f *fakeStore) addUser(id, name string) {
	f.users[id] = store.User{ID: id, DisplayName: name}
}

func (f *fakeStore) addBoard(id, ownerID string, pageIDs ...string) {
	f.boards[id] = store.Board{ID: id, Title: id, OwnerID: ownerID}
	for _, pageID := range pageIDs {
		f.pages[pageID] = id
	}
}

func (f *fakeStore) addMembership(userID, boardID, role string) {
	f.memberships[userID+"|"+boardID] = role
}

func (f *fakeStore) addShareLink(token, boardID string, canEdit bool) {
	hash := auth.HashToken(token)
	f.links[hash] = store.ShareLink{ID: "link-" + token, BoardID: boardID, TokenHash: hash, CanEdit: canEdit}
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetBoard(_ context.Context, boardID string) (store.Board, error) {
	board, ok := f.boards[boardID]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	return board, nil
}

func (f *fakeStore) GetMembership(_ context.Context, userID, boardID string) (store.Membership, error) {
	role, ok := f.memberships[userID+"|"+boardID]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	return store.Membership{UserID: userID, BoardID: boardID, Role: role}, nil
}

func (f *fakeStore) GetShareLinkByTokenHash(_ context.Context, tokenHash string) (store.ShareLink, error) {
	link, ok := f.links[tokenHash]
	if !ok {
		return store.ShareLink{}, sql.ErrNoRows
	}
	return link, nil
}

func (f *fakeStore) PageInBoard(_ context.Context, pageID, boardID string) (bool, error) {
	if f.pageErr != nil {
		return false, f.pageErr
	}
	return f.pages[pageID] == boardID, nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	return f.revoked[jti], nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, event store.Event) (store.Event, error) {
	if f.appendFn != nil {
		return f.appendFn(ctx, event)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	event.Seq = f.nextSeq
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeStore) storedEvents() []store.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Event(nil), f.events...)
}

func (f *fakeStore) stores() Stores {
	return Stores{Users: f, Boards: f, Events: f, Revocations: f}
}

func newTestHub(t *testing.T, f *fakeStore) *Hub {
	t.Helper()
	hub := NewHub(Options{
		Secret:         testSecret,
		PresenceTTL:    3 * time.Second,
		PresenceSweep:  time.Hour,
		PersistTimeout: time.Second,
	}, f.stores(), zerolog.Nop())
	return hub
}

func issueTestToken(t *testing.T, userID, jti string) string {
	t.Helper()
	token, err := auth.IssueToken(testSecret, auth.NewClaims(userID, userID, jti, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	return token
}

func frame(t *testing.T, msgType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	out, err := json.Marshal(Envelope{Type: msgType, Data: raw})
	require.NoError(t, err)
	return out
}

func errorCode(t *testing.T, env Envelope) Code {
	t.Helper()
	require.Equal(t, TypeError, env.Type)
	var data errorData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Code
}
