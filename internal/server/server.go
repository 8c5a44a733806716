// Package server exposes the HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/umutdz/dca/internal/service"
	"github.com/umutdz/dca/internal/util"
	"github.com/umutdz/dca/pkg/domain"
	"github.com/umutdz/dca/pkg/queue"
)

const defaultMaxUploadBytes = 50 * 1024 * 1024

// Config carries the server dependencies.
type Config struct {
	Auth *service.AuthService
	PDFs *service.PDFService
	Chat *service.ChatService

	// Queue, when set, schedules a background parse right after upload.
	Queue *queue.RedisJobQueue

	MaxUploadBytes int64
	CORSOrigins    []string
	TrustedProxies *util.TrustedProxies
}

// Server routes API requests to the services.
type Server struct {
	auth           *service.AuthService
	pdfs           *service.PDFService
	chat           *service.ChatService
	queue          *queue.RedisJobQueue
	mux            *http.ServeMux
	maxUploadBytes int64
	corsOrigins    []string
	trustedProxies *util.TrustedProxies
}

func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		auth:           cfg.Auth,
		pdfs:           cfg.PDFs,
		chat:           cfg.Chat,
		queue:          cfg.Queue,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		corsOrigins:    cfg.CORSOrigins,
		trustedProxies: cfg.TrustedProxies,
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog(s.trustedProxies, s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithCORS(s.corsOrigins, handler)
	return util.WithSecurityHeaders(handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/v1/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/v1/auth/refresh-token", s.handleRefresh)
	s.mux.Handle("/api/v1/auth/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/v1/auth/change-password", s.authenticated(s.handleChangePassword))

	// pdf lifecycle (auth required)
	s.mux.Handle("/api/v1/pdf/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/v1/pdf/list", s.authenticated(s.handleList))
	s.mux.Handle("/api/v1/pdf/parse/", s.authenticated(s.handleParse))
	s.mux.Handle("/api/v1/pdf/select/", s.authenticated(s.handleSelect))
	s.mux.Handle("/api/v1/pdf/selected", s.authenticated(s.handleSelected))

	// chat (auth required)
	s.mux.Handle("/api/v1/chat", s.authenticated(s.handleChat))
	s.mux.Handle("/api/v1/chat/history", s.authenticated(s.handleChatHistory))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.CurrentUser(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		next(w, r, user)
	})
}

// auth handlers

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.auth.ChangePassword(r.Context(), user, req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// pdf handlers

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeDomainError(w, domain.ErrFileTooLarge.WithDescription("invalid or oversized form data"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDomainError(w, domain.ErrMissingField.WithDescription("file is required (field: file)"))
		return
	}
	defer file.Close()
	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		writeDomainError(w, domain.ErrInvalidFileType)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeDomainError(w, domain.ErrPDFUploadFailed.WithDescription(err.Error()))
		return
	}
	meta, err := s.pdfs.Upload(r.Context(), user.ID, r.FormValue("title"), header.Filename, data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.queue != nil {
		if _, err := s.queue.Enqueue(r.Context(), meta.ID, user.ID); err != nil {
			slog.Warn("parse enqueue failed", "pdf_id", meta.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	docs, err := s.pdfs.ListForUser(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id := pathSuffix(r.URL.Path, "/api/v1/pdf/parse/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	meta, err := s.pdfs.Get(r.Context(), user.ID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if meta.Parsed {
		writeDomainError(w, domain.ErrPDFAlreadyParsed)
		return
	}
	ok, err := s.pdfs.Parse(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeDomainError(w, domain.ErrPDFParseFailed.WithDescription("no text could be extracted"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "parsed"})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id := pathSuffix(r.URL.Path, "/api/v1/pdf/select/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	meta, err := s.pdfs.Select(r.Context(), user.ID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleSelected(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	meta, ok, err := s.pdfs.Selected(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeDomainError(w, domain.ErrPDFNotFound.WithDescription("no document selected"))
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// chat handlers

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Question  string `json:"question"`
		SessionID string `json:"session_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	answer, err := s.chat.Ask(r.Context(), user, req.Question, req.SessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 0)
	records, err := s.chat.History(r.Context(), user.ID, skip, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"count": len(records),
	})
}

// helpers

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out); err != nil {
		writeDomainError(w, domain.ErrInvalidInput.WithDescription("invalid JSON body"))
		return false
	}
	return true
}

func pathSuffix(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	if id == path || strings.Contains(id, "/") {
		return ""
	}
	return id
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		domainErr = domain.ErrInternalServer
	}
	writeJSON(w, domainErr.StatusCode, domainErr)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
