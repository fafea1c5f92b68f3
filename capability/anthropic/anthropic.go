// Package anthropic provides a ScriptGenerator backed by the Anthropic Claude API.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hupe1980/agenthive/capability"
)

// DefaultSystemPrompt instructs the model to answer with a bare automation
// script so the response can be executed without post-processing.
const DefaultSystemPrompt = "You are an expert device automation engineer. " +
	"Given a task description and optional screen context, respond with the automation script only. " +
	"No explanations, no markdown fences."

// Options configures the Anthropic generator adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model        anthropic.Model
	Temperature  float64
	MaxTokens    int64
	APIKey       string
	SystemPrompt string
}

// Generator wraps the Anthropic Messages API behind the generic
// capability.ScriptGenerator interface.
type Generator struct {
	client *anthropic.Client
	opts   Options
}

// NewGenerator creates a new Anthropic generator using the official client
func NewGenerator(optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:        anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:  0.7,
		MaxTokens:    4096,
		SystemPrompt: DefaultSystemPrompt,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Generator{
		client: &client,
		opts:   opts,
	}
}

// NewGeneratorFromClient creates a new Anthropic generator from an existing client
func NewGeneratorFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Generator {
	opts := Options{
		Model:        anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:  0.7,
		MaxTokens:    4096,
		SystemPrompt: DefaultSystemPrompt,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Generator{
		client: client,
		opts:   opts,
	}
}

// GenerateScript implements capability.ScriptGenerator against the Anthropic
// Messages API. The instruction (plus any hints) becomes the user turn; an
// attached screenshot is passed as an image block.
func (g *Generator) GenerateScript(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResponse, error) {
	if req.Instruction == "" {
		return nil, fmt.Errorf("no instruction provided")
	}

	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock(g.buildPrompt(req)),
	}
	if req.Screen != nil && req.Screen.Base64 != "" {
		blocks = append(blocks, anthropic.NewImageBlockBase64(req.Screen.MediaType, req.Screen.Base64))
	}

	params := anthropic.MessageNewParams{
		Model:       g.opts.Model,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		MaxTokens:   g.opts.MaxTokens,
		Temperature: anthropic.Float(g.opts.Temperature),
	}
	if g.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: g.opts.SystemPrompt}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			textBlock := block.AsText()
			sb.WriteString(textBlock.Text)
		}
	}

	script := strings.TrimSpace(sb.String())
	if script == "" {
		return nil, fmt.Errorf("anthropic returned no script text")
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return &capability.GenerateResponse{
		Script:       script,
		TokensUsed:   int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		FinishReason: finishReason,
	}, nil
}

// buildPrompt folds the instruction and hint pairs into a single user turn.
func (g *Generator) buildPrompt(req capability.GenerateRequest) string {
	if len(req.Hints) == 0 {
		return req.Instruction
	}
	var sb strings.Builder
	sb.WriteString(req.Instruction)
	sb.WriteString("\n\nContext:\n")
	for k, v := range req.Hints {
		fmt.Fprintf(&sb, "- %s: %s\n", k, v)
	}
	return sb.String()
}

// Info returns metadata describing this Anthropic generator implementation.
func (g *Generator) Info() capability.Info {
	return capability.Info{
		Name:     string(g.opts.Model),
		Provider: "anthropic",
	}
}
