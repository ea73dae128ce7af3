package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devroom-ai/devroom/internal/ai"
	"github.com/devroom-ai/devroom/internal/sandbox"
)

// Completer is the completion relay the router hands AI prompts to.
type Completer interface {
	Complete(ctx context.Context, prompt string) *ai.Result
}

// Router validates, stamps, and fans out chat messages within rooms,
// forwards AI-directed prompts to the completion relay, and drives each
// connection's execution supervisor for run requests.
type Router struct {
	registry  *Registry
	completer Completer

	// RunnerFactory builds a fresh execution supervisor for a connection's
	// first run request. Run events are refused when nil.
	RunnerFactory func() *sandbox.Supervisor
}

// NewRouter creates a router over the given registry and completer.
func NewRouter(registry *Registry, completer Completer) *Router {
	return &Router{registry: registry, completer: completer}
}

// HandleIncoming processes one inbound frame from a connection. Malformed
// frames and empty message bodies are dropped with a notification to the
// sender; they never affect other participants.
func (r *Router) HandleIncoming(c *Conn, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		log.Printf("[Router] Dropping malformed frame from user %s: %v", c.identity.UserID, err)
		r.notifyError(c, "malformed frame")
		return
	}

	switch envelope.Event {
	case EventProjectMessage:
	case EventRunProject:
		r.handleRun(c, envelope.Data)
		return
	case EventStopProject:
		r.handleStop(c)
		return
	default:
		log.Printf("[Router] Ignoring unknown event %q from user %s", envelope.Event, c.identity.UserID)
		return
	}

	var incoming IncomingMessage
	if err := json.Unmarshal(envelope.Data, &incoming); err != nil {
		log.Printf("[Router] Dropping malformed payload from user %s: %v", c.identity.UserID, err)
		r.notifyError(c, "malformed payload")
		return
	}
	if incoming.Message == "" {
		log.Printf("[Router] Dropping empty message from user %s", c.identity.UserID)
		r.notifyError(c, "message body required")
		return
	}

	msg := &ChatMessage{
		ID:          uuid.NewString(),
		Message:     incoming.Message,
		Sender:      c.identity.UserID,
		SenderEmail: c.identity.Email,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		FileTree:    incoming.FileTree,
	}

	r.Broadcast(c.roomID, msg)

	// The AI leg never blocks the broadcast above; relay failures are
	// logged inside the relay and surface as a fallback text message.
	if strings.Contains(incoming.Message, aiMarker) {
		prompt := strings.TrimSpace(strings.Replace(incoming.Message, aiMarker, "", 1))
		go r.relayToAI(c.roomID, prompt)
	}
}

// Broadcast delivers a message to every participant of a room, including
// the sender. All participants get byte-identical frames. A participant
// whose outbound queue is full is dropped from the room rather than
// allowed to stall the fan-out.
func (r *Router) Broadcast(roomID string, msg *ChatMessage) {
	frame, err := NewEnvelope(EventProjectMessage, msg)
	if err != nil {
		log.Printf("[Router] Failed to encode message %s: %v", msg.ID, err)
		return
	}

	for _, participant := range r.registry.Participants(roomID) {
		if !participant.enqueue(frame) {
			log.Printf("[Router] Dropping slow participant %s from room %s",
				participant.identity.UserID, roomID)
			r.registry.Leave(participant)
			participant.close()
		}
	}
}

// relayToAI forwards a prompt to the completion relay and broadcasts the
// result back into the originating room under the AI sender sentinel.
func (r *Router) relayToAI(roomID, prompt string) {
	if r.completer == nil {
		log.Printf("[Router] No completion relay configured; ignoring AI prompt")
		return
	}

	result := r.completer.Complete(context.Background(), prompt)
	if result == nil || result.Text == "" && !result.IsCode() {
		log.Printf("[Router] Empty AI result for room %s", roomID)
		return
	}

	reply := &ChatMessage{
		ID:          uuid.NewString(),
		Message:     result.Text,
		Sender:      AISender,
		SenderEmail: AISenderLabel,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		FileTree:    result.FileTree,
	}
	r.Broadcast(roomID, reply)
}

// handleRun mounts and starts the sender's file tree in its session
// sandbox. The run proceeds asynchronously; a ready server is announced to
// the whole room, output and failures go back to the sender only.
func (r *Router) handleRun(c *Conn, data json.RawMessage) {
	if r.RunnerFactory == nil {
		r.notifyError(c, "execution is not enabled")
		return
	}

	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[Router] Dropping malformed run request from user %s: %v", c.identity.UserID, err)
		r.notifyError(c, "malformed run request")
		return
	}
	if len(req.FileTree) == 0 {
		r.notifyError(c, "file tree required")
		return
	}

	// Callbacks are installed once, at creation, so no run ever races a
	// previous run's watcher over them.
	roomID := c.roomID
	runner := c.ensureRunner(func() *sandbox.Supervisor {
		sup := r.RunnerFactory()
		sup.OnReady = func(ev sandbox.ReadyEvent) {
			r.announce(roomID, EventServerReady, ReadyNotice{Port: ev.Port, URL: ev.URL})
		}
		sup.OnOutput = func(line string) {
			if frame, err := NewEnvelope(EventRunLog, map[string]string{"line": line}); err == nil {
				c.enqueue(frame)
			}
		}
		sup.OnError = func(err error) {
			r.notifyError(c, err.Error())
		}
		return sup
	})

	go func() {
		if err := runner.Run(context.Background(), req.FileTree, req.EntryPath); err != nil {
			log.Printf("[Router] Run failed for user %s: %v", c.identity.UserID, err)
			// Post-boot failures already notified through OnError.
			if errors.Is(err, sandbox.ErrBootFailed) {
				r.notifyError(c, "sandbox failed to start")
			}
		}
	}()
}

// handleStop kills the sender's running sandbox process, if any.
func (r *Router) handleStop(c *Conn) {
	runner := c.currentRunner()
	if runner == nil {
		r.notifyError(c, "nothing is running")
		return
	}
	if err := runner.Stop(); err != nil {
		r.notifyError(c, "nothing is running")
	}
}

// announce broadcasts a non-chat event to every participant of a room.
func (r *Router) announce(roomID, event string, data any) {
	frame, err := NewEnvelope(event, data)
	if err != nil {
		return
	}
	for _, participant := range r.registry.Participants(roomID) {
		participant.enqueue(frame)
	}
}

// notifyError sends a validation notification to a single connection.
func (r *Router) notifyError(c *Conn, reason string) {
	frame, err := NewEnvelope(EventError, map[string]string{"error": reason})
	if err != nil {
		return
	}
	c.enqueue(frame)
}
