package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/devroom-ai/devroom/internal/filetree"
	"github.com/devroom-ai/devroom/internal/middleware"
	"github.com/devroom-ai/devroom/internal/model"
)

// CreateProject creates a new project with the caller as its first member.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "Name is required")
		return
	}

	project := &model.Project{Name: req.Name}
	if err := h.store.CreateProject(r.Context(), project); err != nil {
		h.Error(w, http.StatusConflict, "Project name already exists")
		return
	}
	if err := h.store.AddProjectMembers(r.Context(), project.ID, []string{userID}); err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	h.JSON(w, http.StatusCreated, map[string]*model.Project{"project": project})
}

// ListProjects returns the caller's projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	projects, err := h.store.ListProjectsByUser(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}

	h.JSON(w, http.StatusOK, map[string][]*model.Project{"projects": projects})
}

// GetProject returns a single project with its members.
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if _, err := uuid.Parse(projectID); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	project, err := h.store.GetProjectByID(r.Context(), projectID)
	if err != nil {
		h.Error(w, http.StatusNotFound, "Project not found")
		return
	}

	users, err := h.store.ListProjectUsers(r.Context(), projectID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to load project users")
		return
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"project": struct {
			*model.Project
			Users []*model.User `json:"users"`
		}{project, users},
	})
}

// AddProjectUser adds users to a project the caller belongs to. Adding a
// user who is already a member is a no-op.
func (h *Handler) AddProjectUser(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		ProjectID string   `json:"projectId"`
		Users     []string `json:"users"`
	}
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProjectID == "" || len(req.Users) == 0 {
		h.Error(w, http.StatusBadRequest, "projectId and users are required")
		return
	}

	if err := h.requireMember(w, r, req.ProjectID, userID); err != nil {
		return
	}

	if err := h.store.AddProjectMembers(r.Context(), req.ProjectID, req.Users); err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to add users")
		return
	}

	users, err := h.store.ListProjectUsers(r.Context(), req.ProjectID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to load project users")
		return
	}

	h.JSON(w, http.StatusOK, map[string][]*model.User{"users": users})
}

// UpdateFileTree merges an incoming file tree into the project's stored
// tree. Persistence is debounced; the response carries the merged tree.
func (h *Handler) UpdateFileTree(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req struct {
		ProjectID string          `json:"projectId"`
		FileTree  json.RawMessage `json:"fileTree"`
	}
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ProjectID == "" {
		h.Error(w, http.StatusBadRequest, "projectId is required")
		return
	}

	incoming, err := filetree.Parse(req.FileTree)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid file tree")
		return
	}

	if err := h.requireMember(w, r, req.ProjectID, userID); err != nil {
		return
	}

	project, err := h.store.GetProjectByID(r.Context(), req.ProjectID)
	if err != nil {
		h.Error(w, http.StatusNotFound, "Project not found")
		return
	}

	existing, err := filetree.Parse(project.FileTree)
	if err != nil {
		// A corrupt stored tree should not wedge the project; start over
		// from the incoming tree.
		existing = filetree.Tree{}
	}
	merged := filetree.Merge(existing, incoming)

	h.saverFor(req.ProjectID).Notify(merged)

	raw, err := json.Marshal(merged)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to encode file tree")
		return
	}
	project.FileTree = raw

	h.JSON(w, http.StatusOK, map[string]*model.Project{"project": project})
}

// ListProjectUsers returns the members of a project the caller belongs to.
func (h *Handler) ListProjectUsers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	projectID := chi.URLParam(r, "projectId")

	if err := h.requireMember(w, r, projectID, userID); err != nil {
		return
	}

	users, err := h.store.ListProjectUsers(r.Context(), projectID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to load project users")
		return
	}

	h.JSON(w, http.StatusOK, map[string][]*model.User{"users": users})
}

// requireMember writes the error response and returns non-nil unless the
// user is a member of the project.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, projectID, userID string) error {
	member, err := h.store.IsProjectMember(r.Context(), projectID, userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "Failed to check membership")
		return err
	}
	if !member {
		h.Error(w, http.StatusForbidden, "Not a member of this project")
		return errors.New("not a member")
	}
	return nil
}
