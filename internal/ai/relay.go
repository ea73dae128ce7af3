// Package ai wraps the external code-generation service behind a relay that
// normalizes its structured-or-plain responses into a single result shape.
package ai

import (
	"context"
	"encoding/json"
	"log"

	"github.com/devroom-ai/devroom/internal/filetree"
)

// Command is a runnable command in a code-generation response, e.g.
// {"mainItem": "npm", "commands": ["install"]}.
type Command struct {
	MainItem string   `json:"mainItem"`
	Commands []string `json:"commands"`
}

// Result is the normalized completion result. A conversational reply has
// only Text set; a code-generation reply additionally carries a FileTree
// and optionally build/start commands.
type Result struct {
	Text         string        `json:"text"`
	FileTree     filetree.Tree `json:"fileTree,omitempty"`
	BuildCommand *Command      `json:"buildCommand,omitempty"`
	StartCommand *Command      `json:"startCommand,omitempty"`
}

// IsCode reports whether the result carries generated files.
func (r *Result) IsCode() bool {
	return r != nil && len(r.FileTree) > 0
}

// Generator produces a raw completion for a prompt. Implemented by the
// Gemini client and by test fakes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Relay normalizes generator output. It never propagates parse failures:
// anything that isn't the expected JSON shape degrades to a plain-text
// result carrying the raw response.
type Relay struct {
	generator Generator
}

// NewRelay creates a relay over the given generator.
func NewRelay(g Generator) *Relay {
	return &Relay{generator: g}
}

// rawResponse mirrors the response-shape contract the generator is
// instructed to follow. The single-file shorthand (code.file.name +
// code.file.contents) is accepted alongside the full fileTree form.
type rawResponse struct {
	Text         string        `json:"text"`
	FileTree     filetree.Tree `json:"fileTree"`
	BuildCommand *Command      `json:"buildCommand"`
	StartCommand *Command      `json:"startCommand"`
	Code         *struct {
		File struct {
			Name     string `json:"name"`
			Contents string `json:"contents"`
		} `json:"file"`
	} `json:"code"`
}

// Complete sends the prompt to the generator and normalizes the response.
// Upstream failures are logged and degrade to a generic text result; the
// caller never sees an error from this path.
func (r *Relay) Complete(ctx context.Context, prompt string) *Result {
	raw, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		log.Printf("[Relay] Generation failed: %v", err)
		return &Result{Text: "Error processing request"}
	}
	return Normalize(raw)
}

// Normalize parses a raw generator response into a Result. Non-JSON input
// becomes a plain-text result; the single-file shorthand becomes a
// one-entry file tree keyed by the file name.
func Normalize(raw string) *Result {
	var parsed rawResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return &Result{Text: raw}
	}

	if parsed.Code != nil {
		return &Result{
			Text: parsed.Text,
			FileTree: filetree.Tree{
				parsed.Code.File.Name: filetree.NewFile(parsed.Code.File.Contents),
			},
		}
	}

	return &Result{
		Text:         parsed.Text,
		FileTree:     parsed.FileTree,
		BuildCommand: parsed.BuildCommand,
		StartCommand: parsed.StartCommand,
	}
}
