package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/lazarus/internal/adapter/llm"
	"github.com/xiaot623/lazarus/internal/domain"
)

// DefaultEntrypoint is used when the model does not name one.
const DefaultEntrypoint = "modernized_stack/backend/main.py"

// FallbackNotice is reported when the plan call fails and the generator
// continues with an intent-only plan.
const FallbackNotice = "Warning: Connection Unstable. Engaged Fallback Protocols."

// GenerateInput is the model input of one run.
type GenerateInput struct {
	RepositoryURL string
	Intent        string
	// Summary is a text digest of the legacy repository.
	Summary string
}

// Generation is the output of a successful generation.
type Generation struct {
	Plan       string
	Files      domain.Artifacts
	Entrypoint string
	// FallbackPlan is set when the plan call failed.
	FallbackPlan bool
}

// Generator runs the plan and code calls against an LLMClient.
type Generator struct {
	client llm.LLMClient
	model  string
	logger zerolog.Logger
}

// NewGenerator creates a generator for the named model.
func NewGenerator(client llm.LLMClient, model string) *Generator {
	return &Generator{
		client: client,
		model:  model,
		logger: log.With().Str("component", "model").Logger(),
	}
}

// Generate produces an architecture plan and then the files implementing it.
// emit is called synchronously for each phase; an error from emit aborts.
func (g *Generator) Generate(ctx context.Context, in GenerateInput, emit func(Phase) error) (*Generation, error) {
	if err := emit(PhaseStarted{Name: PhaseArchitecture}); err != nil {
		return nil, err
	}

	gen := &Generation{}
	plan, err := g.plan(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn().Err(err).Msg("plan call failed, using fallback plan")
		if err := emit(ModelNotice{Message: FallbackNotice}); err != nil {
			return nil, err
		}
		plan = fallbackPlan(in)
		gen.FallbackPlan = true
	}
	gen.Plan = plan
	if err := emit(PlanReady{Plan: plan}); err != nil {
		return nil, err
	}

	if err := emit(PhaseStarted{Name: PhaseGeneration}); err != nil {
		return nil, err
	}
	files, entrypoint, err := g.code(ctx, plan)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	gen.Files = files
	gen.Entrypoint = entrypoint
	if err := emit(FilesReady{Files: files, Entrypoint: entrypoint}); err != nil {
		return nil, err
	}
	return gen, nil
}

// plan streams the architecture plan and reassembles it.
func (g *Generator) plan(ctx context.Context, in GenerateInput) (string, error) {
	req := &llm.ChatCompletionRequest{
		Model: g.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: planPrompt(in)},
		},
	}

	var b strings.Builder
	_, err := g.client.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
		for _, choice := range chunk.Choices {
			if choice.Delta != nil {
				b.WriteString(choice.Delta.Content)
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("plan call: %w", err)
	}
	plan := strings.TrimSpace(b.String())
	if plan == "" {
		return "", errors.New("plan call: empty response")
	}
	return plan, nil
}

func (g *Generator) code(ctx context.Context, plan string) (domain.Artifacts, string, error) {
	req := &llm.ChatCompletionRequest{
		Model: g.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: codePrompt(plan)},
		},
		ResponseFormat: map[string]interface{}{"type": "json_object"},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: code call: %v", domain.ErrGenerationFailed, err)
	}
	return ParseFiles(resp.Content())
}

type filesPayload struct {
	Files      []domain.Artifact `json:"files"`
	Entrypoint string            `json:"entrypoint"`
}

// ParseFiles parses the code generation response. Markdown fences around
// the JSON are tolerated. An unparseable response or an empty file list
// is ErrGenerationFailed.
func ParseFiles(text string) (domain.Artifacts, string, error) {
	raw := stripFences(text)

	var payload filesPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, "", fmt.Errorf("%w: response is not JSON", domain.ErrGenerationFailed)
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
			return nil, "", fmt.Errorf("%w: unparseable response: %v", domain.ErrGenerationFailed, err)
		}
	}

	files := make(domain.Artifacts, 0, len(payload.Files))
	for _, f := range payload.Files {
		if strings.TrimSpace(f.Filename) == "" {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, "", fmt.Errorf("%w: no files generated", domain.ErrGenerationFailed)
	}

	entrypoint := strings.TrimSpace(payload.Entrypoint)
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}
	return files, entrypoint, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
