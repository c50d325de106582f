package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"secret.letters/config"
	"secret.letters/internal/letters"
	"secret.letters/internal/store"
	"secret.letters/web"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	letters *letters.Service
	store   store.Store
	config  *config.Config
	assets  http.Handler
}

func NewHandler(svc *letters.Service, s store.Store, cfg *config.Config) *Handler {
	return &Handler{
		letters: svc,
		store:   s,
		config:  cfg,
		assets:  http.FileServer(web.StaticFS()),
	}
}

type SubmitResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready pings the store with a short timeout.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "store_not_ready", err)
		writeError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) SubmitLetter(w http.ResponseWriter, r *http.Request) {
	var req letters.SubmitInput
	if !decodeBody(w, r, &req) {
		return
	}

	expiresAt, err := h.letters.Submit(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{
		Message:   "Letter sent successfully",
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) GetLetter(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "secretCode")

	letter, err := h.letters.Retrieve(r.Context(), code)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, letter)
}

func (h *Handler) ReplyToLetter(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "secretCode")

	var req letters.ReplyInput
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.letters.Reply(r.Context(), code, req); err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Reply sent successfully"})
}

// ClientShell serves embedded assets by path and falls back to index.html so
// the client application can route on its own.
func (h *Handler) ClientShell(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name != "" && name != "index.html" && web.Exists(name) {
		h.assets.ServeHTTP(w, r)
		return
	}
	h.serveFile(w, "index.html")
}

func (h *Handler) APINotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) serveFile(w http.ResponseWriter, filename string) {
	content, err := web.GetFile(filename)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, letters.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, letters.ErrPayloadTooLarge):
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("image too large (max %d characters)", h.config.Letters.MaxImageChars))
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusBadRequest, "secret code already in use")
	case errors.Is(err, store.ErrAlreadyReplied):
		writeError(w, http.StatusBadRequest, "letter already has a reply")
	case errors.Is(err, store.ErrExpired):
		writeError(w, http.StatusBadRequest, "letter has expired")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "letter not found")
	default:
		log.Printf("rid=%s method=%s route=%s msg=%q err=%v",
			RequestIDFromContext(r.Context()), r.Method, routePattern(r), "internal_error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
