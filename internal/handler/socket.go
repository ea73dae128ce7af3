package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/devroom-ai/devroom/internal/collab"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS layer; the socket
	// endpoint authenticates every connection through the gate.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Socket admits a chat connection. The gate validates the project ID,
// token, and project existence before the upgrade so each refusal reason
// maps to a distinct status code.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	identity, roomID, err := h.gate.Authenticate(r)
	if err != nil {
		switch {
		case errors.Is(err, collab.ErrInvalidRoomID):
			h.Error(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, collab.ErrRoomNotFound):
			h.Error(w, http.StatusNotFound, err.Error())
		default:
			h.Error(w, http.StatusUnauthorized, err.Error())
		}
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		log.Printf("[Socket] Upgrade failed for user %s: %v", identity.UserID, err)
		return
	}

	conn := collab.NewConn(ws, *identity, roomID)
	conn.Run(h.router, h.registry)
}
