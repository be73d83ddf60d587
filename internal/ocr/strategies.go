package ocr

import (
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/llm"
)

// PromptContext is what a strategy needs to build its messages.
type PromptContext struct {
	Page     int
	Language string
	Category string
	Image    []byte
}

// Strategy is one step of the refusal cascade.
type Strategy struct {
	Name        string
	Build       func(p PromptContext) []llm.Message
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultCascade returns the refusal fallbacks in escalating order.
func DefaultCascade() []Strategy {
	return []Strategy{
		{
			Name: "content-masking",
			Build: func(p PromptContext) []llm.Message {
				return []llm.Message{llm.UserImage(maskingPrompt(p), p.Image)}
			},
			MaxAttempts: 2,
			BaseDelay:   time.Second,
		},
		{
			Name: "selective-extraction",
			Build: func(p PromptContext) []llm.Message {
				return []llm.Message{llm.UserImage(selectivePrompt(p), p.Image)}
			},
			MaxAttempts: 2,
			BaseDelay:   time.Second,
		},
		{
			Name: "ultra-simple",
			Build: func(p PromptContext) []llm.Message {
				return []llm.Message{llm.UserImage(ultraSimplePrompt(p), p.Image)}
			},
			MaxAttempts: 2,
			BaseDelay:   500 * time.Millisecond,
		},
		{
			Name: "last-resort",
			Build: func(p PromptContext) []llm.Message {
				return []llm.Message{
					llm.SystemText(lastResortSystem),
					llm.UserImage(lastResortPrompt(p), p.Image),
				}
			},
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
		},
	}
}
