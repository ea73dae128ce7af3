package collab

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/devroom-ai/devroom/internal/auth"
	"github.com/devroom-ai/devroom/internal/middleware"
	"github.com/devroom-ai/devroom/internal/store"
)

// Admission errors. Each precondition failure gets its own reason so the
// client can tell a bad room target from a bad credential.
var (
	ErrInvalidRoomID = errors.New("invalid project ID")
	ErrMissingToken  = errors.New("authentication error: token required")
	ErrInvalidToken  = errors.New("authentication error: invalid token")
	ErrRoomNotFound  = errors.New("project not found")
)

// Identity is the authenticated identity attached to an admitted
// connection.
type Identity struct {
	UserID string
	Email  string
}

// Gate validates connection handshakes before room admission.
type Gate struct {
	auth     *auth.Service
	projects *store.Store
}

// NewGate creates a session gate over the given auth service and store.
func NewGate(authService *auth.Service, s *store.Store) *Gate {
	return &Gate{auth: authService, projects: s}
}

// Authenticate validates a handshake request and returns the connection's
// identity and resolved room ID. The credential comes from the
// Authorization header or the "token" query parameter; the room target
// from the "projectId" query parameter. Any violated precondition refuses
// admission with its specific error.
func (g *Gate) Authenticate(r *http.Request) (*Identity, string, error) {
	roomID := r.URL.Query().Get("projectId")
	if _, err := uuid.Parse(roomID); err != nil {
		return nil, "", ErrInvalidRoomID
	}

	token := middleware.TokenFromRequest(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, "", ErrMissingToken
	}

	claims, err := g.auth.VerifyToken(r.Context(), token)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	project, err := g.projects.GetProjectByID(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrRoomNotFound
		}
		return nil, "", err
	}

	return &Identity{UserID: claims.Subject, Email: claims.Email}, project.ID, nil
}
