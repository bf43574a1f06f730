package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"littlehero/internal/app"
	"littlehero/internal/ratelimit"
	"littlehero/internal/util"
	"littlehero/pkg/domain"
	"littlehero/pkg/storage"
	"littlehero/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	InternalToken  string
	MaxUploadBytes int64
	LoginLimiter   *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the public API and the generator-facing internal endpoint.
type Server struct {
	app            *app.App
	internalToken  string
	maxUploadBytes int64
	loginLimiter   *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if strings.TrimSpace(cfg.InternalToken) == "" {
		return nil, errors.New("internal token is required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 30 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		internalToken:  strings.TrimSpace(cfg.InternalToken),
		maxUploadBytes: maxUploadBytes,
		loginLimiter:   cfg.LoginLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("littlehero", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// accounts
	s.mux.HandleFunc("/api/users/register", s.handleRegister)
	s.mux.HandleFunc("/api/users/login", s.handleLogin)
	s.mux.Handle("/api/users/me", s.withUser(s.handleMe))

	// catalog
	s.mux.HandleFunc("/api/adventure-types", s.handleAdventureTypes)

	// books
	s.mux.Handle("/api/books", s.withUser(s.handleBooks))
	s.mux.Handle("/api/books/", s.withUser(s.handleBookByID))

	// generator callback
	s.mux.Handle("/internal/books/", s.withInternal(s.handleInternalBook))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "AUTH_INVALID_TOKEN")
			return
		}
		user, ok := s.app.UserFromToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "AUTH_INVALID_TOKEN")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) withInternal(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			token = strings.TrimSpace(r.Header.Get("X-Internal-Token"))
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.internalToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "AUTH_INVALID_TOKEN")
			return
		}
		next(w, r)
	})
}

// accounts

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAuthAttempt(r) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, retry later", "AUTH_RATE_LIMITED")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID_BODY")
		return
	}
	user, err := s.app.Register(req.Email, req.Password, req.Name)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"accessToken"`
	TokenType   string      `json:"tokenType"`
	User        domain.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowAuthAttempt(r) {
		writeError(w, http.StatusTooManyRequests, "too many attempts, retry later", "AUTH_RATE_LIMITED")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID_BODY")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := s.app.DeleteAccount(r.Context(), user.ID); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) allowAuthAttempt(r *http.Request) bool {
	if s.loginLimiter == nil {
		return true
	}
	return s.loginLimiter.Allow(util.ClientIP(r, s.trustedProxies))
}

// catalog

func (s *Server) handleAdventureTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"adventureTypes": domain.AdventureCatalog(),
	})
}

// books

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateBook(w, r, user)
	case http.MethodGet:
		s.handleListBooks(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data", "REQUEST_INVALID_FORM")
		return
	}
	childName := r.FormValue("child_name")
	adventureType := r.FormValue("adventure_type")

	var photos []storage.File
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["photos"] {
			f, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid form data", "REQUEST_INVALID_FORM")
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid form data", "REQUEST_INVALID_FORM")
				return
			}
			photos = append(photos, storage.File{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	book, err := s.app.CreateBook(r.Context(), user, childName, adventureType, photos)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, user domain.User) {
	page, ok := queryInt(r, "page", 1)
	if !ok || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer", "REQUEST_INVALID_QUERY")
		return
	}
	limit, ok := queryInt(r, "limit", 10)
	if !ok || limit < 1 || limit > 100 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100", "REQUEST_INVALID_QUERY")
		return
	}
	result, err := s.app.ListBooks(r.Context(), user.ID, page, limit)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// /api/books/{id} or /api/books/{id}/download
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not found", "SYSTEM_NOT_FOUND")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "download" {
			s.handleDownloadBook(w, r, user, id)
			return
		}
		writeError(w, http.StatusNotFound, "not found", "SYSTEM_NOT_FOUND")
		return
	}

	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBookStatus(r.Context(), id, user.ID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if err := s.app.DeleteBook(r.Context(), id, user.ID); err != nil {
			s.writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDownloadBook(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.RequestDownload(r.Context(), id, user.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// generator callback

type completionRequest struct {
	Status       string `json:"status"`
	PDFKey       string `json:"pdfKey"`
	ThumbnailKey string `json:"thumbnailKey"`
	ErrorMessage string `json:"errorMessage"`
}

// POST /internal/books/{id}/completion
func (s *Server) handleInternalBook(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/internal/books/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "completion" {
		writeError(w, http.StatusNotFound, "not found", "SYSTEM_NOT_FOUND")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req completionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "REQUEST_INVALID_BODY")
		return
	}
	if _, err := s.app.CompleteBook(r.Context(), app.CompletionRequest{
		BookID:       parts[0],
		Status:       domain.BookStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		PDFKey:       req.PDFKey,
		ThumbnailKey: req.ThumbnailKey,
		ErrorMessage: req.ErrorMessage,
	}); err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// helpers

func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", "SYSTEM_METHOD_NOT_ALLOWED")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps application errors onto stable status and code pairs.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "BOOK_NOT_FOUND")
	case errors.Is(err, app.ErrBookNotReady):
		writeError(w, http.StatusBadRequest, err.Error(), "BOOK_NOT_READY")
	case errors.Is(err, app.ErrBookPDFMissing):
		writeError(w, http.StatusBadRequest, err.Error(), "BOOK_PDF_MISSING")
	case errors.Is(err, app.ErrBookAlreadyFinal):
		writeError(w, http.StatusConflict, err.Error(), "BOOK_ALREADY_FINAL")
	case errors.Is(err, app.ErrChildNameRequired),
		errors.Is(err, app.ErrChildNameTooLong),
		errors.Is(err, app.ErrInvalidAdventureType),
		errors.Is(err, app.ErrPhotosRequired),
		errors.Is(err, app.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error(), "BOOK_INVALID_REQUEST")
	case errors.Is(err, storage.ErrInvalidContentType):
		writeError(w, http.StatusBadRequest, err.Error(), "BOOK_PHOTO_TYPE")
	case errors.Is(err, storage.ErrPayloadTooLarge):
		writeError(w, http.StatusBadRequest, err.Error(), "BOOK_PHOTO_TOO_LARGE")
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "BOOK_ASSET_MISSING")
	case errors.Is(err, storage.ErrStoreUnavailable):
		writeError(w, http.StatusBadGateway, "object storage unavailable", "STORAGE_UNAVAILABLE")
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error(), "AUTH_INVALID_CREDENTIALS")
	case errors.Is(err, app.ErrUserDisabled):
		writeError(w, http.StatusUnauthorized, err.Error(), "AUTH_USER_DISABLED")
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusBadRequest, err.Error(), "USER_EMAIL_EXISTS")
	case errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, err.Error(), "USER_INVALID_REQUEST")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found", "SYSTEM_NOT_FOUND")
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "SYSTEM_INTERNAL_ERROR")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
