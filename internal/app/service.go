package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/auth"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/config"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/realtime"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/store"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/util"
	"github.com/rs/zerolog"
)

type dataStore interface {
	Ping(context.Context) error
	CountBoards(context.Context) (int, error)
	CreateUser(context.Context, store.User) error
	CreateBoard(context.Context, store.Board) error
	CreatePage(context.Context, store.Page) error
	CreateShareLink(context.Context, store.ShareLink) error
}

// RevocationStore records logged-out access tokens and answers the
// handshake revocation check.
type RevocationStore interface {
	realtime.RevocationChecker
	RevokeAccessToken(context.Context, string, time.Time) error
}

type pinger interface {
	Ping(context.Context) error
}

type Service struct {
	cfg         config.Config
	store       dataStore
	revocations RevocationStore
	hub         *realtime.Hub
	logger      zerolog.Logger
}

func NewService(cfg config.Config, dataStore dataStore, revocations RevocationStore, hub *realtime.Hub, logger zerolog.Logger) *Service {
	if cfg.UsesDevSecret() {
		logger.Warn().Msg("signing access tokens with the built-in development secret; set WHITEBOARD_JWT_SECRET")
	}
	return &Service{
		cfg:         cfg,
		store:       dataStore,
		revocations: revocations,
		hub:         hub,
		logger:      logger,
	}
}

func (s *Service) Hub() *realtime.Hub {
	return s.hub
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingRevocations checks the revocation store when it is separate from the
// database.
func (s *Service) PingRevocations(ctx context.Context) error {
	p, ok := s.revocations.(pinger)
	if !ok || any(s.revocations) == any(s.store) {
		return nil
	}
	return p.Ping(ctx)
}

// Logout revokes the access token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return errUnauthorized()
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return err
	}
	if err := s.revocations.RevokeAccessToken(ctx, claims.ID, claims.Expiry()); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	s.logger.Info().Str("user_id", claims.Subject).Str("jti", claims.ID).Msg("access token revoked")
	return nil
}

// DemoSeed describes the fixtures created by Bootstrap.
type DemoSeed struct {
	UserID      string
	BoardID     string
	PageID      string
	ShareToken  string
	BearerToken string
}

// Bootstrap seeds a demo owner, board, page and read-only share link when
// seeding is enabled and the database holds no boards yet. It returns nil
// when nothing was created.
func (s *Service) Bootstrap(ctx context.Context) (*DemoSeed, error) {
	if !s.cfg.SeedDemo {
		return nil, nil
	}
	count, err := s.store.CountBoards(ctx)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}

	owner := store.User{ID: util.NewID("user"), DisplayName: "Avery"}
	if err := s.store.CreateUser(ctx, owner); err != nil {
		return nil, err
	}
	board := store.Board{ID: util.NewID("board"), Title: "Demo board", OwnerID: owner.ID}
	if err := s.store.CreateBoard(ctx, board); err != nil {
		return nil, err
	}
	page := store.Page{ID: util.NewID("page"), BoardID: board.ID, Position: 0}
	if err := s.store.CreatePage(ctx, page); err != nil {
		return nil, err
	}

	shareToken := util.NewToken()
	if err := s.store.CreateShareLink(ctx, store.ShareLink{
		ID:        util.NewID("share"),
		BoardID:   board.ID,
		TokenHash: auth.HashToken(shareToken),
		CanEdit:   false,
	}); err != nil {
		return nil, err
	}

	lifetime := s.cfg.DemoTokenLifetime
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	bearer, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.NewClaims(owner.ID, owner.DisplayName, util.NewID("jti"), time.Now().Add(lifetime)))
	if err != nil {
		return nil, err
	}

	seed := &DemoSeed{
		UserID:      owner.ID,
		BoardID:     board.ID,
		PageID:      page.ID,
		ShareToken:  shareToken,
		BearerToken: bearer,
	}
	s.logger.Info().
		Str("user_id", seed.UserID).
		Str("board_id", seed.BoardID).
		Str("page_id", seed.PageID).
		Str("share_token", seed.ShareToken).
		Str("bearer_token", seed.BearerToken).
		Msg("demo data seeded")
	return seed, nil
}
