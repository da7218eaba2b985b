package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/tabterm/core"
	"pkt.systems/tabterm/internal/logx"
	"pkt.systems/tabterm/schema"
)

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	service  core.Service
	hub      *Hub
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HistorySize, nil)
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		hub:      hub,
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Hub returns the event hub the server streams from.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tabs", s.requireToken(s.handleTabs))
	mux.HandleFunc("/api/tabs/activate", s.requireToken(s.handleActivate))
	mux.HandleFunc("/api/tabs/title", s.requireToken(s.handleTitle))
	mux.HandleFunc("/api/connect", s.requireToken(s.handleConnect))
	mux.HandleFunc("/api/input", s.requireToken(s.handleInput))
	mux.HandleFunc("/api/resize", s.requireToken(s.handleResize))
	mux.HandleFunc("/api/profiles", s.requireToken(s.handleProfiles))
	mux.HandleFunc("/api/stream", s.requireToken(s.handleStream))

	handler := withRequestLogging(mux)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

type tabsResponse struct {
	Tabs      []schema.TabSnapshot `json:"tabs"`
	ActiveTab schema.TabID         `json:"active_tab,omitempty"`
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logx.Ctx(ctx)
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, tabsResponse{Tabs: s.service.Tabs(), ActiveTab: s.service.ActiveTab()})
	case http.MethodPost:
		var payload struct {
			ProfileID schema.ProfileID `json:"profile_id"`
		}
		if err := decodeOptionalJSON(r.Body, &payload); err != nil {
			log.Warn("http tab create decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var profile *schema.SessionProfile
		if payload.ProfileID != "" {
			p, err := s.service.GetProfile(ctx, payload.ProfileID)
			if err != nil {
				log.Warn("http tab create profile lookup failed", "profile", payload.ProfileID, "err", err)
				writeError(w, statusFor(err), err)
				return
			}
			profile = &p
		}
		tabID := s.service.AddTab(ctx, profile)
		tab, _ := s.service.Tab(tabID)
		log.Info("http tab created", "tab", tabID, "profile", payload.ProfileID)
		writeJSON(w, http.StatusCreated, tab)
	case http.MethodDelete:
		tabID := schema.TabID(strings.TrimSpace(r.URL.Query().Get("tab")))
		if _, ok := s.service.Tab(tabID); !ok {
			writeError(w, http.StatusNotFound, schema.ErrTabNotFound)
			return
		}
		s.service.RemoveTab(ctx, tabID)
		log.Info("http tab removed", "tab", tabID)
		writeJSON(w, http.StatusOK, tabsResponse{Tabs: s.service.Tabs(), ActiveTab: s.service.ActiveTab()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		TabID schema.TabID `json:"tab_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.service.Tab(payload.TabID); !ok {
		writeError(w, http.StatusNotFound, schema.ErrTabNotFound)
		return
	}
	s.service.SetActiveTab(r.Context(), payload.TabID)
	writeJSON(w, http.StatusOK, tabsResponse{Tabs: s.service.Tabs(), ActiveTab: s.service.ActiveTab()})
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		TabID schema.TabID    `json:"tab_id"`
		Title schema.TabTitle `json:"title"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.service.Tab(payload.TabID); !ok {
		writeError(w, http.StatusNotFound, schema.ErrTabNotFound)
		return
	}
	s.service.UpdateTitle(r.Context(), payload.TabID, payload.Title)
	tab, _ := s.service.Tab(payload.TabID)
	writeJSON(w, http.StatusOK, tab)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		TabID     schema.TabID     `json:"tab_id"`
		ProfileID schema.ProfileID `json:"profile_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log := logx.WithTabProfile(r.Context(), payload.TabID, payload.ProfileID)
	if err := s.service.Connect(r.Context(), payload.TabID, payload.ProfileID); err != nil {
		log.Warn("http connect rejected", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	tab, _ := s.service.Tab(payload.TabID)
	log.Info("http connect accepted", "state", tab.State)
	writeJSON(w, http.StatusAccepted, tab)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		TabID schema.TabID `json:"tab_id"`
		Data  string       `json:"data"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.service.Tab(payload.TabID); !ok {
		writeError(w, http.StatusNotFound, schema.ErrTabNotFound)
		return
	}
	s.service.Send(r.Context(), payload.TabID, []byte(payload.Data))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		TabID schema.TabID `json:"tab_id"`
		Cols  int          `json:"cols"`
		Rows  int          `json:"rows"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Cols <= 0 || payload.Rows <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: cols and rows must be positive", schema.ErrInvalidRequest))
		return
	}
	if _, ok := s.service.Tab(payload.TabID); !ok {
		writeError(w, http.StatusNotFound, schema.ErrTabNotFound)
		return
	}
	s.service.Resize(r.Context(), payload.TabID, payload.Cols, payload.Rows)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logx.Ctx(ctx)
	switch r.Method {
	case http.MethodGet:
		profiles, err := s.service.ListProfiles(ctx)
		if err != nil {
			log.Warn("http profile list failed", "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		for i := range profiles {
			profiles[i] = redactProfile(profiles[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
	case http.MethodPost:
		var profile schema.SessionProfile
		if err := decodeJSON(r.Body, &profile); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		profile = s.keepStoredPassword(r, profile)
		saved, err := s.service.SaveProfile(ctx, profile)
		if err != nil {
			log.Warn("http profile save failed", "profile", profile.ID, "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		status := http.StatusOK
		if profile.ID == "" {
			status = http.StatusCreated
		}
		log.Info("http profile saved", "profile", saved.ID)
		writeJSON(w, status, redactProfile(saved))
	case http.MethodDelete:
		id := schema.ProfileID(strings.TrimSpace(r.URL.Query().Get("id")))
		if err := s.service.DeleteProfile(ctx, id); err != nil {
			log.Warn("http profile delete failed", "profile", id, "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		log.Info("http profile deleted", "profile", id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// keepStoredPassword lets clients update a password profile without echoing
// the secret back: an empty password keeps the stored one.
func (s *Server) keepStoredPassword(r *http.Request, profile schema.SessionProfile) schema.SessionProfile {
	if profile.ID == "" || profile.Password != "" {
		return profile
	}
	if profile.AuthType != "" && profile.AuthType != schema.AuthPassword {
		return profile
	}
	existing, err := s.service.GetProfile(r.Context(), profile.ID)
	if err != nil {
		return profile
	}
	profile.Password = existing.Password
	return profile
}

func redactProfile(profile schema.SessionProfile) schema.SessionProfile {
	profile.Password = ""
	return profile
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	// Subscribe first; replay is bounded by the subscribe sequence.
	ch, unsubscribe, seq := s.hub.Subscribe()
	defer unsubscribe()

	tabs := s.service.Tabs()
	_ = writeSSEvent(w, StreamEvent{
		Type:      EventSnapshot,
		Tabs:      tabs,
		ActiveTab: s.service.ActiveTab(),
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 {
		replay := s.hub.Replay(lastID, seq)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event)
		}
		flusher.Flush()
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "tabs", len(tabs))
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" {
			logx.Ctx(r.Context()).Warn("http token missing")
			writeError(w, http.StatusUnauthorized, errors.New("missing token"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			logx.Ctx(r.Context()).Warn("http token invalid")
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if value, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrProfileValidation):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrTabNotFound), errors.Is(err, schema.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrTabBusy):
		return http.StatusConflict
	case errors.Is(err, schema.ErrProfileStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %w", schema.ErrInvalidRequest, err)
	}
	return nil
}

func decodeOptionalJSON(body io.Reader, target any) error {
	err := decodeJSON(body, target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
