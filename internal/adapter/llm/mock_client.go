package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockBackend is the backend file returned by the mock code generation.
const MockBackend = `from flask import Flask

app = Flask(__name__)

PAGE = "<!DOCTYPE html><html><body><h1>Resurrected</h1></body></html>"


@app.route("/")
def index():
    return PAGE


if __name__ == "__main__":
    print(PAGE)
`

// MockPreview is the preview document returned by the mock code generation.
const MockPreview = "<!DOCTYPE html><html><body><h1>Resurrected</h1></body></html>"

const mockPlan = `[MOCK] Resurrection Blueprint
1. Backend: Flask application serving the legacy routes.
2. Frontend: static preview page rendered by the backend.
3. Entrypoint: modernized_stack/backend/main.py prints the landing page.`

// MockClient is a deterministic LLMClient used in mock mode and tests.
// Requests with a response format get a two-file project as fenced JSON,
// every other request gets a fixed blueprint.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletion returns the canned answer for req.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content := mockAnswer(req)
	return &ChatCompletionResponse{
		ID:      mockID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: mockUsage(req, content),
	}, nil
}

// CreateChatCompletionStream delivers the canned answer one line per chunk.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	content := mockAnswer(req)
	id := mockID()
	lines := strings.SplitAfter(content, "\n")

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk := &StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Model:   req.Model,
			Choices: []Choice{{Delta: &ChatMessage{Content: line}}},
		}
		if i == len(lines)-1 {
			chunk.Choices[0].FinishReason = "stop"
		}
		if err := callback(chunk); err != nil {
			return nil, err
		}
	}
	return mockUsage(req, content), nil
}

func mockAnswer(req *ChatCompletionRequest) string {
	if req.ResponseFormat == nil {
		return mockPlan
	}
	data, _ := json.Marshal(map[string]any{
		"files": []map[string]string{
			{"filename": "modernized_stack/backend/main.py", "content": MockBackend},
			{"filename": "modernized_stack/frontend/preview.html", "content": MockPreview},
		},
		"entrypoint": "modernized_stack/backend/main.py",
	})
	return "```json\n" + string(data) + "\n```"
}

func mockID() string {
	return fmt.Sprintf("mock-%d", time.Now().UnixNano())
}

// mockUsage estimates four characters per token.
func mockUsage(req *ChatCompletionRequest, content string) *Usage {
	var prompt int
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	completion := len(content) / 4
	return &Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}
