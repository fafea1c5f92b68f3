package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agenthive/capability"
	"github.com/hupe1980/agenthive/core"
	"github.com/hupe1980/agenthive/logging"
)

// Command names understood by GeneratorAgent.
const (
	// CommandGenerateScript asks the generator to turn an instruction into an
	// automation script.
	CommandGenerateScript = "generate_script"
)

// GeneratorAgentOptions configures a GeneratorAgent instance.
//
// Use functional options with NewGeneratorAgent to override defaults.
type GeneratorAgentOptions struct {
	// Description documents the agent's purpose.
	Description string
	// Logger provides structured logging.
	Logger logging.Logger
	// Router delivers reply messages to requesting agents. Replies are
	// skipped when nil.
	Router core.Router
	// Store persists generated scripts. Persistence is skipped when nil.
	Store core.BlobStore
	// MaxCalls bounds how many capability calls the agent may make over its
	// lifetime. Zero means unlimited.
	MaxCalls int
}

// GeneratorAgent turns natural language automation instructions into
// executable device scripts using a capability.ScriptGenerator backend.
//
// The agent reacts to CommandGenerateScript messages. Expected payload
// fields:
//
//   - instruction (required): what the script should do
//   - screenshot_b64, media_type (optional): current screen for visual context
//   - hints (optional): extra key/value context folded into the prompt
//   - reply_to (optional): agent id that receives the generated script
//   - blob_key (optional): storage key for the persisted script
//   - task_id (optional): task correlation id for completion events
//
// Generated scripts are persisted to the configured blob store and replied to
// the requesting agent as a response message carrying the script text plus
// token usage metadata.
type GeneratorAgent struct {
	*BaseAgent
	generator capability.ScriptGenerator
	router    core.Router
	store     core.BlobStore
	limiter   *core.CallLimiter
}

// NewGeneratorAgent creates a script generation agent backed by the given
// capability.
func NewGeneratorAgent(id, name string, generator capability.ScriptGenerator, optFns ...func(o *GeneratorAgentOptions)) *GeneratorAgent {
	opts := GeneratorAgentOptions{
		Description: "Generates device automation scripts from instructions",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &GeneratorAgent{
		generator: generator,
		router:    opts.Router,
		store:     opts.Store,
		limiter:   core.NewCallLimiter(opts.MaxCalls),
	}

	a.BaseAgent = New(id, name, a, func(o *Options) {
		o.Description = opts.Description
		o.Logger = opts.Logger
	})

	return a
}

// RemainingCalls reports how many capability calls the agent may still make,
// or -1 when unlimited.
func (a *GeneratorAgent) RemainingCalls() int { return a.limiter.Remaining() }

// HandleMessage implements Handler.
func (a *GeneratorAgent) HandleMessage(ctx context.Context, msg core.Message) error {
	if msg.Type != core.MessageTypeCommand {
		a.Logger().Debug("generator.ignore", "agent_id", a.ID(), "type", string(msg.Type))
		return nil
	}

	switch msg.Content {
	case CommandGenerateScript:
		return a.handleGenerate(ctx, msg)
	default:
		return fmt.Errorf("generator %s: unknown command %q", a.ID(), msg.Content)
	}
}

func (a *GeneratorAgent) handleGenerate(ctx context.Context, msg core.Message) error {
	instruction, err := msg.StringField("instruction")
	if err != nil {
		return fmt.Errorf("generator %s: %w", a.ID(), err)
	}

	if err := a.limiter.Increment(); err != nil {
		return fmt.Errorf("generator %s: %w", a.ID(), err)
	}

	req := capability.GenerateRequest{
		Instruction: instruction,
		Hints:       stringMap(msg.Data["hints"]),
	}
	if b64, err := msg.StringField("screenshot_b64"); err == nil {
		mediaType, mErr := msg.StringField("media_type")
		if mErr != nil {
			mediaType = "image/png"
		}
		req.Screen = &capability.Screenshot{MediaType: mediaType, Base64: b64}
	}

	start := time.Now()

	resp, err := a.generator.GenerateScript(ctx, req)
	if err != nil {
		a.Logger().Error("generator.generate.error",
			"agent_id", a.ID(),
			"backend", a.generator.Info().Provider,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		return fmt.Errorf("generator %s: generate script: %w", a.ID(), err)
	}

	a.Logger().Info("generator.generate.done",
		"agent_id", a.ID(),
		"backend", a.generator.Info().Provider,
		"tokens", resp.TokensUsed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	blobKey := ""
	if a.store != nil {
		blobKey, err = msg.StringField("blob_key")
		if err != nil {
			blobKey = fmt.Sprintf("scripts/%s", msg.ID)
		}
		if err := a.store.Save(ctx, blobKey, []byte(resp.Script)); err != nil {
			return fmt.Errorf("generator %s: persist script: %w", a.ID(), err)
		}
	}

	if taskID, err := msg.StringField("task_id"); err == nil {
		a.Emit(core.NewTaskCompletedEvent(a.ID(), taskID, true))
	}

	if replyTarget, err := msg.StringField("reply_to"); err == nil {
		reply := core.NewResponse(a.ID(), resp.Script, map[string]any{
			"request_id":    msg.ID,
			"tokens_used":   resp.TokensUsed,
			"finish_reason": resp.FinishReason,
			"blob_key":      blobKey,
		})
		a.reply(replyTarget, reply)
	}

	return nil
}

// reply routes a response message when a router is configured. Replies are
// best effort; routing failures are logged, not returned.
func (a *GeneratorAgent) reply(target string, msg core.Message) {
	if a.router == nil {
		a.Logger().Warn("generator.reply.skipped", "agent_id", a.ID(), "target", target)
		return
	}
	if err := a.router.SendMessage(target, msg); err != nil {
		a.Logger().Error("generator.reply.error", "agent_id", a.ID(), "target", target, "error", err.Error())
	}
}

// stringMap coerces a decoded hints payload into a flat string map. JSON and
// YAML decoding both surface map[string]any, so values are stringified.
func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprintf("%v", val)
		}
		return out
	default:
		return nil
	}
}
