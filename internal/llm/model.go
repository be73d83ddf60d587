package llm

import (
	"context"
	"encoding/base64"
)

// Role of a chat message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Normalised finish reasons shared by all backends.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
	FinishOther         = "other"
)

// Message is one chat turn. Image is optional and always JPEG.
type Message struct {
	Role  Role
	Text  string
	Image []byte
}

// Request is a single model call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the text answer plus the metadata the classifier needs.
type Response struct {
	Text             string
	FinishReason     string
	CompletionTokens int
	PromptTokens     int
}

// Model is a vision-and-text language model.
type Model interface {
	Call(ctx context.Context, req Request) (*Response, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req Request) (*Response, error)

func (f ModelFunc) Call(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// UserText builds a text-only user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// UserImage builds a user message carrying a prompt and a page image.
func UserImage(text string, image []byte) Message {
	return Message{Role: RoleUser, Text: text, Image: image}
}

// SystemText builds a system message.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Text: text}
}

// DataURL encodes a JPEG for providers that take images inline.
func DataURL(image []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
}
