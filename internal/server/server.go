// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bryan-buckman/zenith/internal/feedsync"
	"github.com/bryan-buckman/zenith/internal/model"
	"github.com/bryan-buckman/zenith/internal/opml"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const exportTitle = "Zenith Feeds"

// Server is the main HTTP server.
type Server struct {
	session *feedsync.Session
	log     *slog.Logger
	router  chi.Router
}

// New creates a new server over session.
func New(session *feedsync.Session, log *slog.Logger) *Server {
	s := &Server{
		session: session,
		log:     log.With(slog.String("component", "server")),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/feeds", s.handleListFeeds)
		r.Post("/feeds", s.handleAddFeed)
		r.Delete("/feeds", s.handleRemoveFeed)
		r.Post("/select", s.handleSelect)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
		r.Post("/mark-read", s.handleMarkRead)
		r.Post("/settings", s.handleSaveSettings)
		r.Get("/settings", s.handleGetSettings)
	})

	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server starting", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- API Handlers ---

type stateResponse struct {
	feedsync.Snapshot
	VisiblePosts []model.Post `json:"visiblePosts"`
	ReadGUIDs    []string     `json:"readGuids"`
	DisplayCount int          `json:"displayCount"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	count, err := s.session.DisplayCount(r.Context())
	if err != nil {
		s.log.Warn("Reading display count failed", slog.Any("error", err))
		count = model.DefaultDisplayCount
	}
	snap := s.session.State.Snapshot()
	writeJSON(w, http.StatusOK, stateResponse{
		Snapshot:     snap,
		VisiblePosts: feedsync.Visible(snap.Posts, r.URL.Query().Get("q"), count),
		ReadGUIDs:    s.session.Reads.GUIDs(),
		DisplayCount: count,
	})
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feeds": s.session.Subscriptions.Feeds(),
	})
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	feed, err := s.session.Subscriptions.Add(context.WithoutCancel(r.Context()), req.URL)
	if err != nil && feed.ID == "" {
		s.writeError(w, err)
		return
	}
	if err != nil {
		s.log.Warn("Activating new feed failed", slog.String("url", feed.URL), slog.Any("error", err))
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleRemoveFeed(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if strings.TrimSpace(id) == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}
	if err := s.session.Subscriptions.Remove(context.WithoutCancel(r.Context()), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSelect returns as soon as cached posts are on display; the refresh
// continues in the background.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &req) {
		return
	}
	var target *model.Feed
	if req.ID != "" {
		feed, ok := s.session.Subscriptions.Find(req.ID)
		if !ok {
			s.writeError(w, feedsync.ErrFeedNotFound)
			return
		}
		target = &feed
	}
	if _, err := s.session.Controller.Start(context.WithoutCancel(r.Context()), target); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.session.State.Snapshot())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RefreshSelected(context.WithoutCancel(r.Context())); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.State.Snapshot())
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeError(w, feedsync.ErrEmptyURL)
		return
	}
	added, err := s.session.Subscriptions.ImportFromOutline(context.WithoutCancel(r.Context()), strings.TrimSpace(req.URL))
	if err != nil && len(added) == 0 {
		s.writeError(w, err)
		return
	}
	if err != nil {
		s.log.Warn("Activating imported feed failed", slog.Any("error", err))
	}
	if added == nil {
		added = []model.Feed{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"imported": len(added),
		"feeds":    added,
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := opml.Export(exportTitle, s.session.Subscriptions.Feeds())
	if err != nil {
		s.log.Error("OPML export failed", slog.Any("error", err))
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=zenith-feeds.opml")
	w.Write(data)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GUID string `json:"guid"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.GUID == "" {
		http.Error(w, "Missing guid", http.StatusBadRequest)
		return
	}
	if err := s.session.Reads.MarkRead(r.Context(), req.GUID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayCount int `json:"display_count"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.session.SetDisplayCount(r.Context(), req.DisplayCount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "display_count": req.DisplayCount})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	count, err := s.session.DisplayCount(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"display_count": count})
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps sync errors to HTTP status codes.
func statusFor(err error) int {
	var dup *feedsync.DuplicateFeedError
	var fetchErr *feedsync.FetchError
	var parseErr *feedsync.ParseError
	switch {
	case errors.As(err, &dup), errors.Is(err, feedsync.ErrFeedNotActive), errors.Is(err, feedsync.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, feedsync.ErrFeedNotFound):
		return http.StatusNotFound
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, feedsync.ErrEmptyURL), errors.Is(err, feedsync.ErrInvalidDisplayCount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", slog.Any("error", err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
