package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/auth"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/config"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/realtime"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/store"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

// fakeStore is an in-memory store covering the app and realtime
// collaborators. Func fields override individual calls.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	boards      map[string]store.Board
	pages       map[string]store.Page
	memberships map[string]string
	links       map[string]store.ShareLink
	revoked     map[string]time.Time
	events      []store.Event

	pingFn func(context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		boards:      make(map[string]store.Board),
		pages:       make(map[string]store.Page),
		memberships: make(map[string]string),
		links:       make(map[string]store.ShareLink),
		revoked:     make(map[string]time.Time),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CountBoards(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.boards), nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) CreateBoard(_ context.Context, board store.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[board.ID] = board
	f.memberships[board.OwnerID+"|"+board.ID] = "OWNER"
	return nil
}

func (f *fakeStore) CreatePage(_ context.Context, page store.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[page.ID] = page
	return nil
}

func (f *fakeStore) CreateShareLink(_ context.Context, link store.ShareLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[link.TokenHash] = link
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetBoard(_ context.Context, boardID string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[boardID]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	return board, nil
}

func (f *fakeStore) GetMembership(_ context.Context, userID, boardID string) (store.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.memberships[userID+"|"+boardID]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	return store.Membership{UserID: userID, BoardID: boardID, Role: role}, nil
}

func (f *fakeStore) GetShareLinkByTokenHash(_ context.Context, tokenHash string) (store.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[tokenHash]
	if !ok {
		return store.ShareLink{}, sql.ErrNoRows
	}
	return link, nil
}

func (f *fakeStore) PageInBoard(_ context.Context, pageID, boardID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	return ok && page.BoardID == boardID, nil
}

func (f *fakeStore) AppendEvent(_ context.Context, event store.Event) (store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.Seq = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = exp
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// seedBoard creates owner "u-owner" with board "b1" holding pages "p1" and
// "p2", plus a read-only share link "view-token".
func (f *fakeStore) seedBoard() {
	ctx := context.Background()
	_ = f.CreateUser(ctx, store.User{ID: "u-owner", DisplayName: "Avery"})
	_ = f.CreateBoard(ctx, store.Board{ID: "b1", Title: "Board", OwnerID: "u-owner"})
	_ = f.CreatePage(ctx, store.Page{ID: "p1", BoardID: "b1"})
	_ = f.CreatePage(ctx, store.Page{ID: "p2", BoardID: "b1", Position: 1})
	_ = f.CreateShareLink(ctx, store.ShareLink{ID: "s1", BoardID: "b1", TokenHash: auth.HashToken("view-token")})
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.JWTSecret = testSecret
	cfg.HandshakeRate = 0
	cfg.SeedDemo = false
	return cfg
}

func newTestService(fs *fakeStore, cfg config.Config) *Service {
	hub := realtime.NewHub(realtime.Options{
		Secret:         []byte(cfg.JWTSecret),
		PresenceTTL:    cfg.PresenceTTL,
		PresenceSweep:  cfg.PresenceSweep,
		PersistTimeout: cfg.PersistTimeout,
	}, realtime.Stores{Users: fs, Boards: fs, Events: fs, Revocations: fs}, zerolog.Nop())
	return NewService(cfg, fs, fs, hub, zerolog.Nop())
}

func issueToken(t *testing.T, userID, jti string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(userID, userID, jti, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
