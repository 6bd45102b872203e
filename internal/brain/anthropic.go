package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/nexus-core/agentruntime/internal/backoff"
	"github.com/nexus-core/agentruntime/internal/circuit"
	"github.com/nexus-core/agentruntime/internal/models"
)

// CredentialSource supplies the current API key and a channel that fires
// whenever it changes (the runtime's `config:apikey:updated` pub/sub
// signal). A nil Updates channel means the credential is static.
type CredentialSource interface {
	APIKey() string
	Updates() <-chan string
}

type staticCredential struct{ key string }

func (s staticCredential) APIKey() string         { return s.key }
func (s staticCredential) Updates() <-chan string { return nil }

// StaticCredential wraps a fixed API key as a CredentialSource.
func StaticCredential(key string) CredentialSource { return staticCredential{key: key} }

// AnthropicConfig configures AnthropicBrain.
type AnthropicConfig struct {
	Credential   CredentialSource
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	Logger       *slog.Logger
	Breaker      *circuit.Breaker
}

// AnthropicBrain implements Brain against Anthropic's Messages API.
type AnthropicBrain struct {
	mu           sync.RWMutex
	client       anthropic.Client
	baseURL      string
	defaultModel string
	maxRetries   int
	logger       *slog.Logger
	breaker      *circuit.Breaker

	closeOnce sync.Once
	stopCh    chan struct{}
	inFlight  sync.WaitGroup
	refreshed atomic.Int64
}

// NewAnthropicBrain builds a Brain backed by the Anthropic SDK and starts a
// background goroutine that swaps the client whenever the credential source
// signals an update, without interrupting requests already in flight.
func NewAnthropicBrain(cfg AnthropicConfig) (*AnthropicBrain, error) {
	if cfg.Credential == nil || cfg.Credential.APIKey() == "" {
		return nil, errors.New("brain: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuit.New("brain:anthropic", circuit.Config{}, cfg.Logger)
	}

	b := &AnthropicBrain{
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		logger:       cfg.Logger,
		breaker:      cfg.Breaker,
		stopCh:       make(chan struct{}),
	}
	b.client = b.newClient(cfg.Credential.APIKey())

	if updates := cfg.Credential.Updates(); updates != nil {
		go b.watchCredential(updates)
	}
	return b, nil
}

func (b *AnthropicBrain) newClient(apiKey string) anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(b.baseURL) != "" {
		opts = append(opts, option.WithBaseURL(b.baseURL))
	}
	return anthropic.NewClient(opts...)
}

// watchCredential refreshes the client on signal. Swapping the pointer
// under the write lock does not affect calls that already captured the
// previous client via currentClient, so in-flight requests finish on the
// credential they started with instead of being dropped mid-flight.
func (b *AnthropicBrain) watchCredential(updates <-chan string) {
	for {
		select {
		case <-b.stopCh:
			return
		case key, ok := <-updates:
			if !ok {
				return
			}
			if key == "" {
				continue
			}
			b.mu.Lock()
			b.client = b.newClient(key)
			b.mu.Unlock()
			b.refreshed.Add(1)
			b.logger.Info("brain: anthropic credential refreshed")
		}
	}
}

// Close stops the credential-watch goroutine and waits for in-flight
// Complete calls to finish streaming.
func (b *AnthropicBrain) Close() {
	b.closeOnce.Do(func() { close(b.stopCh) })
	b.inFlight.Wait()
}

func (b *AnthropicBrain) currentClient() anthropic.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

// Name identifies this Brain implementation.
func (b *AnthropicBrain) Name() string { return "anthropic" }

// Complete streams one turn's response per the Brain interface contract.
func (b *AnthropicBrain) Complete(ctx context.Context, req Request) (<-chan Event, error) {
	params, err := b.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("brain: %w", err)
	}

	out := make(chan Event)
	b.inFlight.Add(1)

	go func() {
		defer b.inFlight.Done()
		defer close(out)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		for attempt := 1; ; attempt++ {
			if !b.breaker.IsCallPermitted() {
				out <- Event{Kind: EventError, Err: models.NewError(models.KindBrainTransient, "llm circuit open", models.ErrUpstreamUnavailable)}
				return
			}

			stream = b.currentClient().Messages.NewStreaming(ctx, params)
			if serr := stream.Err(); serr != nil {
				if ctx.Err() != nil {
					out <- Event{Kind: EventAborted, Err: ctx.Err()}
					return
				}
				wrapped := classify(serr)
				b.breaker.RecordFailure()
				if wrapped.Kind != models.KindBrainFatal && attempt <= b.maxRetries {
					if waitErr := backoff.SleepWithBackoff(ctx, backoff.LLM, attempt); waitErr != nil {
						out <- Event{Kind: EventAborted, Err: ctx.Err()}
						return
					}
					continue
				}
				out <- Event{Kind: EventError, Err: wrapped}
				return
			}
			break
		}

		b.process(ctx, stream, out)
	}()

	return out, nil
}

func (b *AnthropicBrain) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = b.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// process drains the SSE stream, translating Anthropic's content-block
// lifecycle into the Brain's text/tool-call/done event vocabulary. A
// tool_use block is buffered across its input_json_delta fragments and
// emitted as a single atomic EventToolCall on content_block_stop, matching
// the "tool-call-intent is atomic" streaming invariant.
func (b *AnthropicBrain) process(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- Event) {
	var currentCall *models.ToolCall
	var currentInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		if ctx.Err() != nil {
			b.breaker.RecordFailure()
			out <- Event{Kind: EventAborted, Err: ctx.Err()}
			return
		}

		event := stream.Current()
		switch event.Type {
		case "message_start":
			if ms := event.AsMessageStart(); ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{CallID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- Event{Kind: EventText, Text: delta.Text}
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Arguments = marshalArguments(json.RawMessage(currentInput.String()))
				out <- Event{Kind: EventToolCall, ToolCall: currentCall}
				currentCall = nil
			}

		case "message_delta":
			if md := event.AsMessageDelta(); md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			b.breaker.RecordSuccess()
			out <- Event{Kind: EventDone, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			b.breaker.RecordFailure()
			out <- Event{Kind: EventError, Err: models.NewError(models.KindBrainFatal, "anthropic stream error", errors.New("anthropic stream error"))}
			return
		}
	}

	if err := stream.Err(); err != nil {
		b.breaker.RecordFailure()
		if ctx.Err() != nil {
			out <- Event{Kind: EventAborted, Err: ctx.Err()}
			return
		}
		out <- Event{Kind: EventError, Err: classify(err)}
		return
	}
	b.breaker.RecordSuccess()
	out <- Event{Kind: EventDone, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func convertMessages(messages []Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			isErr := tr.Result != nil && !tr.Result.Success
			text := ""
			if tr.Result != nil {
				if tr.Result.Error != "" {
					text = tr.Result.Error
				} else {
					text = string(tr.Result.Output)
				}
			}
			content = append(content, anthropic.NewToolResultBlock(tr.CallID, text, isErr))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.CallID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

// classify maps a raw SDK/transport error to a RuntimeError: 4xx and
// content-policy refusals are BrainFatal, everything else (5xx, timeouts,
// connection resets, rate limits) is BrainTransient and eligible for retry.
func classify(err error) *models.RuntimeError {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return models.NewError(models.KindBrainTransient, "anthropic transient error", err)
		}
		return models.NewError(models.KindBrainFatal, "anthropic request rejected", err)
	}

	msg := strings.ToLower(err.Error())
	transient := []string{"rate_limit", "429", "500", "502", "503", "504",
		"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"}
	for _, s := range transient {
		if strings.Contains(msg, s) {
			return models.NewError(models.KindBrainTransient, "llm transient error", err)
		}
	}
	return models.NewError(models.KindBrainFatal, "llm request failed", err)
}
