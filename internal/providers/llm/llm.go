package llm

import (
	"context"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

type ChatRequest struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int32
}

type Provider interface {
	// StreamChat returns a stream of text chunks (incremental). The error
	// channel yields at most one error and is closed after chunks.
	StreamChat(ctx context.Context, req ChatRequest) (chunks <-chan string, errs <-chan error)
	// CompleteJSON asks for a single JSON document answer.
	CompleteJSON(ctx context.Context, system, user string) (string, error)
	Close() error
}

// ExtractJSON trims markdown fences and any prose around the outermost JSON
// object in a model answer.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// Collect drains a StreamChat result into one string.
func Collect(chunks <-chan string, errs <-chan error) (string, error) {
	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
	}
	if err, ok := <-errs; ok && err != nil {
		return b.String(), err
	}
	return b.String(), nil
}
