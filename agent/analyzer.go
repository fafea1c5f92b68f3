package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agenthive/capability"
	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/logging"
)

// CommandAnalyzeScreen asks the analyzer to identify UI elements in a
// screenshot.
const CommandAnalyzeScreen = "analyze_screen"

// AnalyzerAgentOptions configures an AnalyzerAgent instance.
type AnalyzerAgentOptions struct {
	// Description documents the agent's purpose.
	Description string
	// Logger provides structured logging.
	Logger logging.Logger
	// Router delivers reply messages to requesting agents.
	Router core.Router
	// MaxCalls bounds capability calls over the agent lifetime. Zero means
	// unlimited.
	MaxCalls int
}

// AnalyzerAgent inspects device screenshots and reports the UI elements it
// recognizes using a capability.ScreenAnalyzer backend.
//
// The agent reacts to CommandAnalyzeScreen messages with the payload fields
// screenshot_b64 (required), media_type, hint and reply_to. Recognized
// elements are replied to the requesting agent under the "elements" payload
// key.
type AnalyzerAgent struct {
	*BaseAgent
	analyzer capability.ScreenAnalyzer
	router   core.Router
	limiter  *core.CallLimiter
}

// NewAnalyzerAgent creates a screen analysis agent backed by the given
// capability.
func NewAnalyzerAgent(id, name string, analyzer capability.ScreenAnalyzer, optFns ...func(o *AnalyzerAgentOptions)) *AnalyzerAgent {
	opts := AnalyzerAgentOptions{
		Description: "Analyzes device screenshots for UI elements",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &AnalyzerAgent{
		analyzer: analyzer,
		router:   opts.Router,
		limiter:  core.NewCallLimiter(opts.MaxCalls),
	}

	a.BaseAgent = New(id, name, a, func(o *Options) {
		o.Description = opts.Description
		o.Logger = opts.Logger
	})

	return a
}

// HandleMessage implements Handler.
func (a *AnalyzerAgent) HandleMessage(ctx context.Context, msg core.Message) error {
	if msg.Type != core.MessageTypeCommand || msg.Content != CommandAnalyzeScreen {
		a.Logger().Debug("analyzer.ignore", "agent_id", a.ID(), "type", string(msg.Type), "content", msg.Content)
		return nil
	}

	b64, err := msg.StringField("screenshot_b64")
	if err != nil {
		return fmt.Errorf("analyzer %s: %w", a.ID(), err)
	}

	if err := a.limiter.Increment(); err != nil {
		return fmt.Errorf("analyzer %s: %w", a.ID(), err)
	}

	mediaType, err := msg.StringField("media_type")
	if err != nil {
		mediaType = "image/png"
	}
	hint, _ := msg.StringField("hint")

	start := time.Now()

	resp, err := a.analyzer.AnalyzeScreen(ctx, capability.AnalyzeRequest{
		Screen: capability.Screenshot{MediaType: mediaType, Base64: b64},
		Hint:   hint,
	})
	if err != nil {
		a.Logger().Error("analyzer.analyze.error",
			"agent_id", a.ID(),
			"backend", a.analyzer.Info().Provider,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		return fmt.Errorf("analyzer %s: analyze screen: %w", a.ID(), err)
	}

	a.Logger().Info("analyzer.analyze.done",
		"agent_id", a.ID(),
		"backend", a.analyzer.Info().Provider,
		"elements", len(resp.Elements),
		"tokens", resp.TokensUsed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if replyTarget, err := msg.StringField("reply_to"); err == nil && a.router != nil {
		reply := core.NewResponse(a.ID(), fmt.Sprintf("%d elements recognized", len(resp.Elements)), map[string]any{
			"request_id":  msg.ID,
			"elements":    resp.Elements,
			"tokens_used": resp.TokensUsed,
		})
		if err := a.router.SendMessage(replyTarget, reply); err != nil {
			a.Logger().Error("analyzer.reply.error", "agent_id", a.ID(), "target", replyTarget, "error", err.Error())
		}
	}

	return nil
}
