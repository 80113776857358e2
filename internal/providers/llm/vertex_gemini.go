package llm

import (
	"context"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

const defaultGeminiModel = "gemini-1.5-flash"

type VertexGemini struct {
	client    *vertexgenai.Client
	modelName string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &VertexGemini{client: c, modelName: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

// model builds a fresh handle per request: system instruction and generation
// config live on the handle, and calls run concurrently for many sessions.
func (v *VertexGemini) model(system string, temperature float32, maxTokens int32) *vertexgenai.GenerativeModel {
	m := v.client.GenerativeModel(v.modelName)
	if system != "" {
		m.SystemInstruction = &vertexgenai.Content{Parts: []vertexgenai.Part{vertexgenai.Text(system)}}
	}
	if temperature > 0 {
		m.SetTemperature(temperature)
	}
	if maxTokens > 0 {
		m.SetMaxOutputTokens(maxTokens)
	}
	return m
}

func (v *VertexGemini) StreamChat(ctx context.Context, req ChatRequest) (<-chan string, <-chan error) {
	out := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		history, last := toContents(req.Messages)
		if last == "" {
			errs <- errors.New("llm: chat request has no user turn")
			return
		}

		cs := v.model(req.System, req.Temperature, req.MaxTokens).StartChat()
		cs.History = history

		it := cs.SendMessageStream(ctx, vertexgenai.Text(last))
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				errs <- err
				return
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
						select {
						case out <- string(t):
						case <-ctx.Done():
							errs <- ctx.Err()
							return
						}
					}
				}
			}
		}
	}()

	return out, errs
}

func (v *VertexGemini) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	m := v.model(system, 0.1, 1024)
	m.ResponseMIMEType = "application/json"

	resp, err := m.GenerateContent(ctx, vertexgenai.Text(user))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	if b.Len() == 0 {
		return "", errors.New("llm: empty completion")
	}
	return b.String(), nil
}

// toContents maps the conversation to Gemini contents. The trailing user
// turn is returned separately since it is what gets sent; consecutive turns
// from the same role are merged. A conversation that ends on the assistant
// gets a synthetic nudge so the model continues the interview.
func toContents(msgs []Message) ([]*vertexgenai.Content, string) {
	var merged []Message
	for _, m := range msgs {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Content += "\n" + text
			continue
		}
		merged = append(merged, Message{Role: m.Role, Content: text})
	}
	if len(merged) == 0 {
		return nil, ""
	}

	last := merged[len(merged)-1]
	if last.Role != RoleUser {
		merged = append(merged, Message{Role: RoleUser, Content: "(The candidate is silent. Continue the interview.)"})
		last = merged[len(merged)-1]
	}

	history := make([]*vertexgenai.Content, 0, len(merged)-1)
	for _, m := range merged[:len(merged)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &vertexgenai.Content{Role: role, Parts: []vertexgenai.Part{vertexgenai.Text(m.Content)}})
	}
	return history, last.Content
}
