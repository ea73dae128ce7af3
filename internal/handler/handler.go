package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/devroom-ai/devroom/internal/auth"
	"github.com/devroom-ai/devroom/internal/collab"
	"github.com/devroom-ai/devroom/internal/config"
	"github.com/devroom-ai/devroom/internal/filetree"
	"github.com/devroom-ai/devroom/internal/middleware"
	"github.com/devroom-ai/devroom/internal/store"
)

// Handler contains all HTTP handlers
type Handler struct {
	store       *store.Store
	cfg         *config.Config
	authService *auth.Service
	gate        *collab.Gate
	registry    *collab.Registry
	router      *collab.Router

	// Per-project debounced file-tree savers, created on first update.
	saversMu sync.Mutex
	savers   map[string]*filetree.Saver
}

// New creates a new Handler wired to the collaboration gate, registry,
// and message router.
func New(s *store.Store, cfg *config.Config, authService *auth.Service, gate *collab.Gate, registry *collab.Registry, router *collab.Router) *Handler {
	return &Handler{
		store:       s,
		cfg:         cfg,
		authService: authService,
		gate:        gate,
		registry:    registry,
		router:      router,
		savers:      make(map[string]*filetree.Saver),
	}
}

// Routes builds the application router. Global middleware (CORS, logging,
// recovery) is layered on by the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/register", h.RegisterUser)
		r.Post("/login", h.LoginUser)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(h.authService))
			r.Get("/profile", h.Profile)
			r.Get("/logout", h.LogoutUser)
			r.Get("/all", h.ListUsers)
		})
	})

	r.Route("/projects", func(r chi.Router) {
		r.Use(middleware.Auth(h.authService))
		r.Post("/create", h.CreateProject)
		r.Get("/all", h.ListProjects)
		r.Get("/get-project/{projectId}", h.GetProject)
		r.Put("/add-user", h.AddProjectUser)
		r.Put("/update-file-tree", h.UpdateFileTree)
		r.Get("/{projectId}/users", h.ListProjectUsers)
	})

	// The socket endpoint authenticates through the gate, not the auth
	// middleware, so it can report distinct refusal reasons.
	r.Get("/ws", h.Socket)

	return r
}

// Close flushes and stops the per-project savers. Called on shutdown.
func (h *Handler) Close() {
	h.saversMu.Lock()
	defer h.saversMu.Unlock()
	for id, saver := range h.savers {
		saver.Flush()
		saver.Stop()
		delete(h.savers, id)
	}
}

// saverFor returns the project's debounced saver, creating it on first use.
func (h *Handler) saverFor(projectID string) *filetree.Saver {
	h.saversMu.Lock()
	defer h.saversMu.Unlock()

	saver, ok := h.savers[projectID]
	if !ok {
		saver = filetree.NewSaver(h.store, projectID, h.cfg.FileTreeSaveDebounce, func(err error) {
			log.Printf("[Handler] File tree save failed for project %s: %v", projectID, err)
		})
		h.savers[projectID] = saver
	}
	return saver
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
