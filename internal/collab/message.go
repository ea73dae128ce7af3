// Package collab implements the real-time collaboration layer: the socket
// handshake gate, the in-memory room registry, and the message router that
// fans chat messages out to room participants and relays AI-directed
// prompts to the completion service.
package collab

import (
	"encoding/json"

	"github.com/devroom-ai/devroom/internal/filetree"
)

// Wire event names.
const (
	// EventProjectMessage is shared by user and AI chat messages.
	EventProjectMessage = "project-message"

	// EventRunProject asks the server to mount and start the sender's
	// file tree in its sandbox.
	EventRunProject = "run-project"

	// EventStopProject stops the sender's running sandbox process.
	EventStopProject = "stop-project"

	// EventServerReady announces a started dev server's preview URL to
	// the room.
	EventServerReady = "server-ready"

	// EventRunLog streams sandbox process output to the initiating
	// connection.
	EventRunLog = "run-log"

	// EventError carries validation and run failures back to the sender.
	EventError = "error"
)

// AI sender sentinels used on relayed completion results.
const (
	AISender      = "AI"
	AISenderLabel = "AI reply"
)

// aiMarker flags a message body as a prompt for the completion relay.
const aiMarker = "@ai"

// ChatMessage is a broadcast chat message. Messages are immutable once
// broadcast; the ID and CreatedAt stamp are assigned by the router.
type ChatMessage struct {
	ID          string        `json:"_id"`
	Message     string        `json:"message"`
	Sender      string        `json:"sender"`
	SenderEmail string        `json:"senderEmail"`
	CreatedAt   string        `json:"createdAt"`
	FileTree    filetree.Tree `json:"fileTree,omitempty"`
}

// IncomingMessage is the client payload for a chat event. Sender fields
// sent by the client are ignored; the router stamps the connection's
// authenticated identity instead.
type IncomingMessage struct {
	Message  string        `json:"message"`
	FileTree filetree.Tree `json:"fileTree,omitempty"`
}

// RunRequest is the client payload for a run event. EntryPath is the file
// the user launched from; it decides whether dependencies are installed.
type RunRequest struct {
	FileTree  filetree.Tree `json:"fileTree"`
	EntryPath string        `json:"entryPath"`
}

// ReadyNotice is the broadcast payload when a sandbox server comes up.
type ReadyNotice struct {
	Port int    `json:"port"`
	URL  string `json:"url"`
}

// Envelope frames every message on the socket wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope marshals data into an envelope frame.
func NewEnvelope(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}
