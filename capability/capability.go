package capability

import (
	"context"
	"fmt"
	"strings"
)

// Screenshot carries base64-encoded image data plus its media type, matching
// what multimodal provider APIs expect.
type Screenshot struct {
	MediaType string `json:"media_type"` // e.g. "image/png"
	Base64    string `json:"base64"`
}

// GenerateRequest captures the normalized input for script generation.
type GenerateRequest struct {
	Instruction string            `json:"instruction"`       // natural-language task description
	Screen      *Screenshot       `json:"screen,omitempty"`  // optional visual context
	Hints       map[string]string `json:"hints,omitempty"`   // extra key/value guidance
	MaxAttempts int               `json:"max_attempts,omitempty"`
}

// GenerateResponse is the outcome of a script generation call.
type GenerateResponse struct {
	Script       string `json:"script"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"` // "stop", "length", etc.
}

// ScriptGenerator turns a task description (and optional screenshot) into an
// executable automation script. Implementations may block on network I/O.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// Info returns information about the generator implementation.
	Info() Info
}

// Rect is a pixel-space bounding box.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// UIElement is one recognized interactive element on a screen.
type UIElement struct {
	Label      string  `json:"label"`
	Kind       string  `json:"kind"` // "button", "text", "input", etc.
	Bounds     Rect    `json:"bounds"`
	Confidence float64 `json:"confidence"`
}

// AnalyzeRequest captures the input for screenshot analysis.
type AnalyzeRequest struct {
	Screen Screenshot `json:"screen"`
	Hint   string     `json:"hint,omitempty"` // optional focus hint, e.g. "login form"
}

// AnalyzeResponse lists the elements recognized on a screen.
type AnalyzeResponse struct {
	Elements   []UIElement `json:"elements"`
	TokensUsed int         `json:"tokens_used,omitempty"`
}

// ScreenAnalyzer extracts UI elements from a screenshot. Implementations may
// block on network I/O.
type ScreenAnalyzer interface {
	AnalyzeScreen(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error)

	// Info returns information about the analyzer implementation.
	Info() Info
}

// Info contains metadata about a capability implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "static", etc.
}

// StaticGenerator is a lightweight in-memory ScriptGenerator useful for tests
// & examples. Registered instructions return canned scripts; everything else
// returns a commented placeholder script.
type StaticGenerator struct {
	info    Info
	scripts map[string]string
}

// NewStaticGenerator constructs a StaticGenerator.
func NewStaticGenerator() *StaticGenerator {
	return &StaticGenerator{
		info:    Info{Name: "static-generator", Provider: "static"},
		scripts: make(map[string]string),
	}
}

// AddScript registers a deterministic canned script for an instruction.
func (g *StaticGenerator) AddScript(instruction, script string) { g.scripts[instruction] = script }

// GenerateScript implements ScriptGenerator.
func (g *StaticGenerator) GenerateScript(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if req.Instruction == "" {
		return nil, fmt.Errorf("no instruction provided")
	}
	script, ok := g.scripts[req.Instruction]
	if !ok {
		script = fmt.Sprintf("// generated for: %s\n", req.Instruction)
	}
	return &GenerateResponse{Script: script, FinishReason: "stop"}, nil
}

// Info implements ScriptGenerator.
func (g *StaticGenerator) Info() Info { return g.info }

// StaticAnalyzer is a deterministic ScreenAnalyzer for tests & examples.
// Elements are registered per hint; an unregistered hint yields a single
// synthetic element derived from the hint text.
type StaticAnalyzer struct {
	info     Info
	elements map[string][]UIElement
}

// NewStaticAnalyzer constructs a StaticAnalyzer.
func NewStaticAnalyzer() *StaticAnalyzer {
	return &StaticAnalyzer{
		info:     Info{Name: "static-analyzer", Provider: "static"},
		elements: make(map[string][]UIElement),
	}
}

// AddElements registers canned elements returned for a hint.
func (a *StaticAnalyzer) AddElements(hint string, elements ...UIElement) {
	a.elements[hint] = append(a.elements[hint], elements...)
}

// AnalyzeScreen implements ScreenAnalyzer.
func (a *StaticAnalyzer) AnalyzeScreen(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if req.Screen.Base64 == "" {
		return nil, fmt.Errorf("no screenshot provided")
	}
	if els, ok := a.elements[req.Hint]; ok {
		out := make([]UIElement, len(els))
		copy(out, els)
		return &AnalyzeResponse{Elements: out}, nil
	}
	label := req.Hint
	if label == "" {
		label = "screen"
	}
	return &AnalyzeResponse{Elements: []UIElement{{
		Label:      strings.ToLower(label),
		Kind:       "region",
		Bounds:     Rect{Width: 1, Height: 1},
		Confidence: 1.0,
	}}}, nil
}

// Info implements ScreenAnalyzer.
func (a *StaticAnalyzer) Info() Info { return a.info }
