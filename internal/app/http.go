package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/auth"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/config"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/realtime"
	"github.com/Tarun-Nandi/Collaborative-whiteboard/internal/util"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type HTTPServer struct {
	service         *Service
	corsOrigin      string
	logger          zerolog.Logger
	limiter         *handshakeLimiter
	proxies         trustedProxies
	upgrader        websocket.Upgrader
	sendBuffer      int
	maxMessageBytes int64
}

func NewHTTPServer(service *Service, cfg config.Config, logger zerolog.Logger) *HTTPServer {
	corsOrigin := cfg.CORSOrigin
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		logger:     logger,
		limiter:    newHandshakeLimiter(cfg.HandshakeRate, cfg.HandshakeBurst),
		proxies:    parseTrustedProxies(cfg.TrustedProxies, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return corsOrigin == "" || corsOrigin == "*" || r.Header.Get("Origin") == "" || r.Header.Get("Origin") == corsOrigin
			},
		},
		sendBuffer:      cfg.SendBuffer,
		maxMessageBytes: cfg.MaxMessageBytes,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Post("/api/session/logout", s.handleLogout)
	r.With(s.throttleHandshakes).Get("/ws", s.handleWebSocket)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database":    map[string]any{"status": "ok"},
		"revocations": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.service.PingRevocations(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["revocations"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), bearerToken(r)); err != nil {
		status, code, message, details := mapError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Msg("logout failed")
		}
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleWebSocket authenticates the handshake before upgrading, so rejected
// clients get a plain JSON error and nothing is attached.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	bearer := bearerToken(r)
	if bearer == "" {
		bearer = strings.TrimSpace(query.Get("token"))
	}
	hs := realtime.Handshake{
		BearerToken: bearer,
		ShareToken:  query.Get("shareToken"),
		BoardID:     query.Get("boardId"),
		PageID:      query.Get("pageId"),
	}

	hub := s.service.Hub()
	desc, err := hub.Authenticate(r.Context(), hs)
	if err != nil {
		status, code, message, details := mapError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("board_id", hs.BoardID).Msg("handshake failed")
		} else {
			s.logger.Info().Str("board_id", hs.BoardID).Str("code", code).Msg("handshake rejected")
		}
		writeError(w, status, code, message, details)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(ws, s.sendBuffer, s.maxMessageBytes, s.logger)
	conn, err := hub.Connect(r.Context(), desc, client)
	if err != nil {
		s.logger.Error().Err(err).Msg("attach connection failed")
		_ = ws.Close()
		return
	}
	client.run(r.Context(), hub, conn)
}

func (s *HTTPServer) throttleHandshakes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.proxies.clientIP(r)
		if !s.limiter.allow(ip) {
			s.logger.Warn().Str("ip", ip).Msg("handshake throttled")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "HANDSHAKE_THROTTLED", "Too many connection attempts", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writeJSON(writer, http.StatusNoContent, map[string]any{})
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var protoErr *realtime.Error
	if errors.As(err, &protoErr) {
		return protocolStatus(protoErr.Code), string(protoErr.Code), protoErr.Message, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func protocolStatus(code realtime.Code) int {
	switch code {
	case realtime.CodeAuthRequired, realtime.CodeAuthInvalid:
		return http.StatusUnauthorized
	case realtime.CodeShareTokenInvalid, realtime.CodePermissionDenied, realtime.CodeAccessDenied:
		return http.StatusForbidden
	case realtime.CodeBoardNotFound:
		return http.StatusNotFound
	case realtime.CodeValidationError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
