// Package openai provides implementations of capability.ScriptGenerator and
// capability.ScreenAnalyzer backed by the OpenAI Chat Completions API.
//
// The generator turns automation instructions into executable device scripts,
// while the analyzer inspects screenshots (sent as data-URL image parts) and
// returns the UI elements the model recognized.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agenthive/capability"
)

// DefaultGeneratorPrompt is the system prompt used by Generator when no
// custom prompt is configured.
const DefaultGeneratorPrompt = "You are an expert device automation engineer. " +
	"Given an instruction and optional context about the current screen, produce a " +
	"complete automation script that performs the requested action. Respond with the " +
	"script only, without commentary or markdown fences."

// DefaultAnalyzerPrompt is the system prompt used by Analyzer when no custom
// prompt is configured. It instructs the model to answer with a JSON array so
// the response can be decoded into capability.UIElement values.
const DefaultAnalyzerPrompt = "You are a UI analysis assistant. Identify the interactive " +
	"elements visible in the screenshot and answer with a JSON array of objects with the " +
	"fields label, kind, x, y, width, height and confidence (0..1). Answer with JSON only."

// Options configures the OpenAI-backed capabilities.
type Options struct {
	// Model is the OpenAI model identifier.
	Model string
	// Temperature controls response randomness.
	Temperature float64
	// MaxCompletionTokens bounds the generated completion length.
	MaxCompletionTokens int64
	// SystemPrompt overrides the default system prompt.
	SystemPrompt string
	// APIKey optionally overrides the OPENAI_API_KEY environment variable.
	APIKey string
}

// Generator implements capability.ScriptGenerator using OpenAI chat
// completions.
type Generator struct {
	client *openai.Client
	opts   Options
}

var _ capability.ScriptGenerator = (*Generator)(nil)

// NewGenerator creates a Generator with a client configured from the
// environment (and Options.APIKey, when set).
func NewGenerator(optFns ...func(o *Options)) *Generator {
	opts := defaultOptions(DefaultGeneratorPrompt)
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)

	return &Generator{client: &client, opts: opts}
}

// NewGeneratorFromClient creates a Generator that reuses an existing client.
func NewGeneratorFromClient(client *openai.Client, optFns ...func(o *Options)) *Generator {
	opts := defaultOptions(DefaultGeneratorPrompt)
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Generator{client: client, opts: opts}
}

// GenerateScript produces an automation script for the given request.
func (g *Generator) GenerateScript(ctx context.Context, req capability.GenerateRequest) (*capability.GenerateResponse, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, fmt.Errorf("openai: instruction must not be empty")
	}

	userMsg := openai.UserMessage(buildGeneratorPrompt(req))
	if req.Screen != nil {
		userMsg = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(buildGeneratorPrompt(req)),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(req.Screen),
			}),
		})
	}

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.opts.SystemPrompt),
			userMsg,
		},
		Model:               g.opts.Model,
		Temperature:         openai.Float(g.opts.Temperature),
		MaxCompletionTokens: openai.Int(g.opts.MaxCompletionTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	ch0 := resp.Choices[0]

	script := strings.TrimSpace(ch0.Message.Content)
	if script == "" {
		return nil, fmt.Errorf("openai returned no script text")
	}

	return &capability.GenerateResponse{
		Script:       script,
		TokensUsed:   int(resp.Usage.PromptTokens + resp.Usage.CompletionTokens),
		FinishReason: string(ch0.FinishReason),
	}, nil
}

// Info returns metadata describing this generator.
func (g *Generator) Info() capability.Info {
	return capability.Info{
		Name:     g.opts.Model,
		Provider: "openai",
	}
}

// Analyzer implements capability.ScreenAnalyzer using OpenAI vision-capable
// chat completions.
type Analyzer struct {
	client *openai.Client
	opts   Options
}

var _ capability.ScreenAnalyzer = (*Analyzer)(nil)

// NewAnalyzer creates an Analyzer with a client configured from the
// environment (and Options.APIKey, when set).
func NewAnalyzer(optFns ...func(o *Options)) *Analyzer {
	opts := defaultOptions(DefaultAnalyzerPrompt)
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)

	return &Analyzer{client: &client, opts: opts}
}

// NewAnalyzerFromClient creates an Analyzer that reuses an existing client.
func NewAnalyzerFromClient(client *openai.Client, optFns ...func(o *Options)) *Analyzer {
	opts := defaultOptions(DefaultAnalyzerPrompt)
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Analyzer{client: client, opts: opts}
}

// AnalyzeScreen inspects the screenshot in the request and returns the UI
// elements the model recognized.
func (a *Analyzer) AnalyzeScreen(ctx context.Context, req capability.AnalyzeRequest) (*capability.AnalyzeResponse, error) {
	if req.Screen.Base64 == "" {
		return nil, fmt.Errorf("openai: screenshot must not be empty")
	}

	prompt := "Identify the interactive UI elements in this screenshot."
	if req.Hint != "" {
		prompt = fmt.Sprintf("%s Focus on: %s", prompt, req.Hint)
	}

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.opts.SystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(&req.Screen),
				}),
			}),
		},
		Model:               a.opts.Model,
		Temperature:         openai.Float(a.opts.Temperature),
		MaxCompletionTokens: openai.Int(a.opts.MaxCompletionTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	elements, err := decodeElements(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai: decode analysis: %w", err)
	}

	return &capability.AnalyzeResponse{
		Elements:   elements,
		TokensUsed: int(resp.Usage.PromptTokens + resp.Usage.CompletionTokens),
	}, nil
}

// Info returns metadata describing this analyzer.
func (a *Analyzer) Info() capability.Info {
	return capability.Info{
		Name:     a.opts.Model,
		Provider: "openai",
	}
}

func defaultOptions(systemPrompt string) Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 4096,
		SystemPrompt:        systemPrompt,
	}
}

// buildGeneratorPrompt folds the instruction and hints into a single user
// prompt.
func buildGeneratorPrompt(req capability.GenerateRequest) string {
	var sb strings.Builder

	sb.WriteString("Instruction: ")
	sb.WriteString(req.Instruction)

	if len(req.Hints) > 0 {
		sb.WriteString("\n\nContext:\n")

		for k, v := range req.Hints {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}

	return sb.String()
}

// dataURL encodes a screenshot as an inline data URL.
func dataURL(s *capability.Screenshot) string {
	return fmt.Sprintf("data:%s;base64,%s", s.MediaType, s.Base64)
}

// wireElement mirrors the JSON shape the analyzer prompt asks the model to
// produce.
type wireElement struct {
	Label      string  `json:"label"`
	Kind       string  `json:"kind"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// decodeElements parses the model response into UI elements. Markdown fences
// around the JSON payload are tolerated.
func decodeElements(content string) ([]capability.UIElement, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	if trimmed == "" {
		return nil, fmt.Errorf("empty response")
	}

	var wire []wireElement
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return nil, err
	}

	elements := make([]capability.UIElement, 0, len(wire))
	for _, w := range wire {
		elements = append(elements, capability.UIElement{
			Label:      w.Label,
			Kind:       w.Kind,
			Bounds:     capability.Rect{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height},
			Confidence: w.Confidence,
		})
	}

	return elements, nil
}
