// Package llm abstracts the chat-completion service the engine translates
// through. Providers receive a fully rendered prompt and return the raw
// model text; everything above this layer works with tagged fragments and
// never sees transport details.
package llm

import (
	"context"
)

// Request is one completion call. Prompt is the fully rendered instruction
// text including the fragment payload; TaskID is carried for logging only.
type Request struct {
	TaskID string
	Prompt string
}

// Client is a chat-completion provider.
type Client interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
