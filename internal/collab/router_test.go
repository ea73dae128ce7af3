package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/devroom-ai/devroom/internal/ai"
	"github.com/devroom-ai/devroom/internal/filetree"
	"github.com/devroom-ai/devroom/internal/sandbox"
	"github.com/devroom-ai/devroom/internal/sandbox/mock"
)

type fakeCompleter struct {
	prompts chan string
	result  *ai.Result
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) *ai.Result {
	f.prompts <- prompt
	return f.result
}

func roomConn(r *Registry, roomID, userID string) *Conn {
	c := NewConn(nil, Identity{UserID: userID, Email: userID + "@example.com"}, roomID)
	r.Join(c, roomID)
	return c
}

func mustFrame(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frame")
		return nil
	}
}

func noFrame(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("Unexpected frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func chatFrame(t *testing.T, message string) []byte {
	t.Helper()
	frame, err := NewEnvelope(EventProjectMessage, IncomingMessage{Message: message})
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	return frame
}

func decodeChat(t *testing.T, frame []byte) *ChatMessage {
	t.Helper()
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if envelope.Event != EventProjectMessage {
		t.Fatalf("Unexpected event %q", envelope.Event)
	}
	var msg ChatMessage
	if err := json.Unmarshal(envelope.Data, &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	return &msg
}

func TestRouterBroadcastsToAllParticipants(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	sender := roomConn(registry, "room1", "alice")
	peer := roomConn(registry, "room1", "bob")
	outsider := roomConn(registry, "room2", "carol")

	router.HandleIncoming(sender, chatFrame(t, "hello room"))

	senderFrame := mustFrame(t, sender)
	peerFrame := mustFrame(t, peer)

	// Sender included, frames byte-identical.
	if !bytes.Equal(senderFrame, peerFrame) {
		t.Errorf("Frames differ:\n%s\n%s", senderFrame, peerFrame)
	}

	msg := decodeChat(t, senderFrame)
	if msg.Message != "hello room" {
		t.Errorf("Unexpected message: %q", msg.Message)
	}
	if msg.Sender != "alice" || msg.SenderEmail != "alice@example.com" {
		t.Errorf("Sender not stamped from identity: %+v", msg)
	}
	if msg.ID == "" || msg.CreatedAt == "" {
		t.Errorf("Missing server stamps: %+v", msg)
	}

	noFrame(t, outsider)
}

func TestRouterDropsEmptyMessage(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	sender := roomConn(registry, "room1", "alice")
	peer := roomConn(registry, "room1", "bob")

	router.HandleIncoming(sender, chatFrame(t, ""))

	// Sender gets a notification, the peer gets nothing.
	frame := mustFrame(t, sender)
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if envelope.Event != "error" {
		t.Errorf("Expected error event, got %q", envelope.Event)
	}
	noFrame(t, peer)
}

func TestRouterDropsMalformedFrame(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	sender := roomConn(registry, "room1", "alice")
	peer := roomConn(registry, "room1", "bob")

	router.HandleIncoming(sender, []byte("{{{not json"))

	frame := mustFrame(t, sender)
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if envelope.Event != "error" {
		t.Errorf("Expected error event, got %q", envelope.Event)
	}
	noFrame(t, peer)
}

func TestRouterIgnoresUnknownEvent(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	sender := roomConn(registry, "room1", "alice")

	frame, err := NewEnvelope("some-other-event", map[string]string{"x": "y"})
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	router.HandleIncoming(sender, frame)

	noFrame(t, sender)
}

func TestRouterRelaysAIPrompt(t *testing.T) {
	completer := &fakeCompleter{
		prompts: make(chan string, 1),
		result: &ai.Result{
			Text:     "here is your server",
			FileTree: filetree.Tree{"app.js": filetree.NewFile("// app")},
		},
	}
	registry := NewRegistry()
	router := NewRouter(registry, completer)

	sender := roomConn(registry, "room1", "alice")
	peer := roomConn(registry, "room1", "bob")

	router.HandleIncoming(sender, chatFrame(t, "@ai build me an express server"))

	// The user message broadcasts first, unchanged.
	userMsg := decodeChat(t, mustFrame(t, peer))
	if userMsg.Message != "@ai build me an express server" {
		t.Errorf("User message altered: %q", userMsg.Message)
	}
	mustFrame(t, sender) // sender's copy of the user message

	// The relay sees the prompt with the marker stripped and trimmed.
	select {
	case prompt := <-completer.prompts:
		if prompt != "build me an express server" {
			t.Errorf("Unexpected prompt: %q", prompt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Completer never called")
	}

	// The AI reply reaches everyone under the AI sender sentinel.
	reply := decodeChat(t, mustFrame(t, peer))
	if reply.Sender != AISender || reply.SenderEmail != AISenderLabel {
		t.Errorf("AI reply not stamped: %+v", reply)
	}
	if reply.Message != "here is your server" {
		t.Errorf("Unexpected reply text: %q", reply.Message)
	}
	if reply.FileTree["app.js"] == nil {
		t.Error("AI reply file tree missing")
	}
	mustFrame(t, sender) // sender receives the AI reply too
}

func runFrame(t *testing.T, tree filetree.Tree, entry string) []byte {
	t.Helper()
	frame, err := NewEnvelope(EventRunProject, RunRequest{FileTree: tree, EntryPath: entry})
	if err != nil {
		t.Fatalf("Failed to build run frame: %v", err)
	}
	return frame
}

func expectErrorFrame(t *testing.T, c *Conn) {
	t.Helper()
	var envelope Envelope
	if err := json.Unmarshal(mustFrame(t, c), &envelope); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if envelope.Event != EventError {
		t.Fatalf("Expected error event, got %q", envelope.Event)
	}
}

func TestRouterRunAnnouncesServerReady(t *testing.T) {
	var mu sync.Mutex
	var procs []*mock.Process
	rt := &mock.Runtime{}
	rt.SpawnFunc = func(context.Context, string, ...string) (sandbox.Process, error) {
		p := mock.NewProcess()
		mu.Lock()
		procs = append(procs, p)
		mu.Unlock()
		return p, nil
	}

	registry := NewRegistry()
	router := NewRouter(registry, nil)
	router.RunnerFactory = func() *sandbox.Supervisor {
		return sandbox.NewSupervisor(rt)
	}

	sender := roomConn(registry, "room1", "alice")
	peer := roomConn(registry, "room1", "bob")

	tree := filetree.Tree{"main.go": filetree.NewFile("package main")}
	router.HandleIncoming(sender, runFrame(t, tree, "main.go"))

	// Wait for the server process to spawn, then report it ready.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(procs)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Process never spawned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	proc := procs[0]
	mu.Unlock()
	proc.EmitReady(sandbox.ReadyEvent{Port: 3000, URL: "http://localhost:3000"})

	// The whole room hears about the server.
	for _, c := range []*Conn{sender, peer} {
		var envelope Envelope
		if err := json.Unmarshal(mustFrame(t, c), &envelope); err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}
		if envelope.Event != EventServerReady {
			t.Fatalf("Expected server-ready, got %q", envelope.Event)
		}
		var notice ReadyNotice
		if err := json.Unmarshal(envelope.Data, &notice); err != nil {
			t.Fatalf("Failed to decode notice: %v", err)
		}
		if notice.Port != 3000 || notice.URL != "http://localhost:3000" {
			t.Errorf("Unexpected notice: %+v", notice)
		}
	}
}

func TestRouterRunWithoutFactoryIsRefused(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	sender := roomConn(registry, "room1", "alice")
	router.HandleIncoming(sender, runFrame(t, filetree.Tree{"a.js": filetree.NewFile("x")}, "a.js"))

	expectErrorFrame(t, sender)
}

func TestRouterRunRejectsEmptyTree(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)
	router.RunnerFactory = func() *sandbox.Supervisor {
		return sandbox.NewSupervisor(&mock.Runtime{})
	}

	sender := roomConn(registry, "room1", "alice")
	router.HandleIncoming(sender, runFrame(t, nil, "a.js"))

	expectErrorFrame(t, sender)
}

func TestRouterStopWithoutRun(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	sender := roomConn(registry, "room1", "alice")
	frame, err := NewEnvelope(EventStopProject, nil)
	if err != nil {
		t.Fatalf("Failed to build frame: %v", err)
	}
	router.HandleIncoming(sender, frame)

	expectErrorFrame(t, sender)
}

func TestRouterWithoutCompleterIgnoresAIMarker(t *testing.T) {
	registry := NewRegistry()
	router := NewRouter(registry, nil)

	sender := roomConn(registry, "room1", "alice")

	router.HandleIncoming(sender, chatFrame(t, "@ai hello"))

	// The user message still broadcasts; no AI reply ever arrives.
	msg := decodeChat(t, mustFrame(t, sender))
	if msg.Message != "@ai hello" {
		t.Errorf("Unexpected message: %q", msg.Message)
	}
	noFrame(t, sender)
}
