package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/auth"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/rbac"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/store"
	"github.com/rs/zerolog"
)

// UserStore resolves authenticated identities.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// BoardStore answers the board, membership, share-link and page lookups the
// handshake and page checks need. Lookup misses are reported with
// sql.ErrNoRows.
type BoardStore interface {
	GetBoard(ctx context.Context, boardID string) (store.Board, error)
	GetMembership(ctx context.Context, userID, boardID string) (store.Membership, error)
	GetShareLinkByTokenHash(ctx context.Context, tokenHash string) (store.ShareLink, error)
	PageInBoard(ctx context.Context, pageID, boardID string) (bool, error)
}

type RevocationChecker interface {
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Handshake carries the credentials and target presented when connecting.
type Handshake struct {
	BearerToken string
	ShareToken  string
	BoardID     string
	PageID      string
}

type Authenticator struct {
	secret      []byte
	users       UserStore
	boards      BoardStore
	revocations RevocationChecker
	logger      zerolog.Logger
}

// NewAuthenticator builds an authenticator. revocations may be nil, in which
// case revoked tokens are not checked.
func NewAuthenticator(secret []byte, users UserStore, boards BoardStore, revocations RevocationChecker, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		secret:      secret,
		users:       users,
		boards:      boards,
		revocations: revocations,
		logger:      logger,
	}
}

// Authenticate validates exactly one credential and resolves the identity and
// capability it grants on hs.BoardID. Rejections are *Error values; any other
// error is a store failure.
func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake) (Descriptor, error) {
	bearer := strings.TrimSpace(hs.BearerToken)
	share := strings.TrimSpace(hs.ShareToken)
	boardID := strings.TrimSpace(hs.BoardID)

	switch {
	case bearer == "" && share == "":
		return Descriptor{}, newError(CodeAuthRequired, "a bearer token or share token is required")
	case bearer != "" && share != "":
		return Descriptor{}, newError(CodeAuthInvalid, "present either a bearer token or a share token, not both")
	case boardID == "":
		return Descriptor{}, newError(CodeBoardNotFound, "boardId is required")
	}

	var (
		desc Descriptor
		err  error
	)
	if bearer != "" {
		desc, err = a.authenticateBearer(ctx, bearer, boardID)
	} else {
		desc, err = a.authenticateShareLink(ctx, share, boardID)
	}
	if err != nil {
		return Descriptor{}, err
	}
	desc.PageID = strings.TrimSpace(hs.PageID)
	return desc, nil
}

func (a *Authenticator) authenticateBearer(ctx context.Context, token, boardID string) (Descriptor, error) {
	claims, err := auth.ParseToken(a.secret, token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return Descriptor{}, newError(CodeAuthInvalid, "token expired")
		}
		return Descriptor{}, newError(CodeAuthInvalid, "invalid token")
	}
	if a.revocations != nil {
		revoked, err := a.revocations.IsAccessTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Descriptor{}, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return Descriptor{}, newError(CodeAuthInvalid, "token revoked")
		}
	}

	user, err := a.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if store.IsNotFound(err) {
			return Descriptor{}, newError(CodeAuthInvalid, "unknown user")
		}
		return Descriptor{}, fmt.Errorf("load user: %w", err)
	}

	board, err := a.boards.GetBoard(ctx, boardID)
	if err != nil {
		if store.IsNotFound(err) {
			return Descriptor{}, newErrorf(CodeBoardNotFound, "board %s not found", boardID)
		}
		return Descriptor{}, fmt.Errorf("load board: %w", err)
	}

	role := rbac.RoleNone
	membership, err := a.boards.GetMembership(ctx, user.ID, board.ID)
	switch {
	case err == nil:
		role = rbac.Normalize(membership.Role)
	case store.IsNotFound(err):
		a.logger.Warn().Str("user_id", user.ID).Str("board_id", board.ID).Msg("user has no membership; joining read-only")
	default:
		return Descriptor{}, fmt.Errorf("load membership: %w", err)
	}

	return Descriptor{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		CanEdit:     rbac.CanEdit(board.OwnerID == user.ID, role),
		BoardID:     board.ID,
	}, nil
}

func (a *Authenticator) authenticateShareLink(ctx context.Context, token, boardID string) (Descriptor, error) {
	link, err := a.boards.GetShareLinkByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if store.IsNotFound(err) {
			return Descriptor{}, newError(CodeShareTokenInvalid, "share token not recognised")
		}
		return Descriptor{}, fmt.Errorf("load share link: %w", err)
	}
	if link.BoardID != boardID {
		return Descriptor{}, newError(CodeShareTokenInvalid, "share token does not grant access to this board")
	}
	return Descriptor{
		CanEdit:      rbac.ShareLinkCanEdit(link.CanEdit),
		BoardID:      link.BoardID,
		ViaShareLink: true,
	}, nil
}
