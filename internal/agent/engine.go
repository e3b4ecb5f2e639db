package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"memagent/internal/llm"
	"memagent/internal/observability"
	"memagent/internal/tools"

	"golang.org/x/sync/errgroup"
)

// MaxTurns bounds the number of LLM/tool round-trips a single chat_agent
// invocation may take before the loop gives up and returns a timeout message.
const MaxTurns = 5

// Engine drives the tool-calling loop: call the model, dispatch any tool
// calls it requests in parallel, feed the results back, repeat until the
// model stops requesting tools or MaxTurns is exhausted.
type Engine struct {
	LLM   llm.Provider
	Tools tools.Registry
	// MaxSteps overrides MaxTurns when > 0; mainly useful for tests.
	MaxSteps int
	System   string
	Model    string
	// MaxToolParallelism bounds how many tool calls run concurrently within a
	// single turn. <= 0 means unbounded (one goroutine per tool call).
	MaxToolParallelism int
	// Tracer, if set, wraps each turn and each tool dispatch in a span.
	Tracer *OTELTracer

	// OnAssistant is invoked with each assistant message the provider returns.
	OnAssistant func(llm.Message)
	// OnTurnMessage is invoked for every message appended during the run,
	// including tool-result messages, enabling full transcript capture.
	OnTurnMessage func(llm.Message)
	// OnToolStart/OnTool bracket a single tool dispatch for observability.
	OnToolStart func(toolName string, args []byte, toolID string)
	OnTool      func(toolName string, args []byte, result []byte, toolID string)

	toolCallSeq uint64
}

func (e *Engine) maxSteps() int {
	if e.MaxSteps > 0 {
		return e.MaxSteps
	}
	return MaxTurns
}

func (e *Engine) model() string { return e.Model }

// Run executes the tool-call loop to completion and returns the model's
// final text. Tool failures are not returned as Go errors, and neither are
// LLM dispatch failures: the loop turns those into the user-facing text
// "处理错误: <message>" and returns it with a nil error.
func (e *Engine) Run(ctx context.Context, userInput string, history []llm.Message) (string, error) {
	msgs := BuildInitialLLMMessages(e.System, userInput, history)
	return e.runLoop(ctx, msgs)
}

// runLoop implements the MAX_TURNS loop: LLM call, then — if the model asked
// for tools — dispatch them in parallel and feed results back, else return.
func (e *Engine) runLoop(ctx context.Context, msgs []llm.Message) (string, error) {
	log := observability.LoggerWithTrace(ctx)
	var final string

	for step := 0; step < e.maxSteps(); step++ {
		schemas := e.Tools.Schemas()

		turnCtx := ctx
		var endTurn func(error)
		if e.Tracer != nil {
			turnCtx, endTurn = e.Tracer.Start(ctx, "agent.turn", map[string]any{"step": step})
		}

		msg, err := e.LLM.Chat(turnCtx, msgs, schemas, e.model())
		if endTurn != nil {
			endTurn(err)
		}
		if err != nil {
			log.Error().Err(err).Int("step", step).Msg("engine_step_error")
			return fmt.Sprintf("处理错误: %s", err.Error()), nil
		}

		msg.ToolCalls = e.ensureToolCallIDs(msgs, msg.ToolCalls)
		msgs = append(msgs, msg)
		if e.OnAssistant != nil {
			e.OnAssistant(msg)
		}
		if e.OnTurnMessage != nil {
			e.OnTurnMessage(msg)
		}

		if len(msg.ToolCalls) == 0 {
			final = msg.Content
			break
		}

		log.Info().Int("step", step).Int("tool_calls", len(msg.ToolCalls)).Msg("engine_tool_calls")
		msgs = e.dispatchTools(ctx, msgs, msg.ToolCalls)
	}

	if final == "" {
		final = "thinking timed out"
	}
	return final, nil
}

func (e *Engine) ensureToolCallIDs(msgs []llm.Message, toolCalls []llm.ToolCall) []llm.ToolCall {
	used := make(map[string]struct{}, len(toolCalls))
	for _, msg := range msgs {
		if msg.Role != "assistant" {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if id := strings.TrimSpace(tc.ID); id != "" {
				used[id] = struct{}{}
			}
		}
	}
	for i := range toolCalls {
		id := strings.TrimSpace(toolCalls[i].ID)
		if id == "" {
			id = e.nextToolCallID()
		}
		for {
			if _, ok := used[id]; !ok {
				break
			}
			id = e.nextToolCallID()
		}
		toolCalls[i].ID = id
		used[id] = struct{}{}
	}
	return toolCalls
}

func (e *Engine) nextToolCallID() string {
	seq := atomic.AddUint64(&e.toolCallSeq, 1)
	return fmt.Sprintf("engine-call-%d", seq)
}

// dispatchTools executes every tool call in toolCalls concurrently, bounded
// by MaxToolParallelism, and appends the resulting tool messages to msgs in
// the SAME ORDER the tool calls appeared in the driving response — this is
// required so tool_call/tool_result pairing stays valid for the LLM provider
// regardless of which tool happens to finish first.
func (e *Engine) dispatchTools(ctx context.Context, msgs []llm.Message, toolCalls []llm.ToolCall) []llm.Message {
	if len(toolCalls) == 0 {
		return msgs
	}

	results := make([]llm.Message, len(toolCalls))

	maxParallel := e.MaxToolParallelism
	if maxParallel <= 0 || maxParallel > len(toolCalls) {
		maxParallel = len(toolCalls)
	}

	var eg errgroup.Group
	eg.SetLimit(maxParallel)

	for i, tc := range toolCalls {
		i, tc := i, tc
		if e.OnToolStart != nil {
			e.OnToolStart(tc.Name, tc.Args, tc.ID)
		}
		eg.Go(func() error {
			results[i] = e.executeToolCall(ctx, tc)
			return nil
		})
	}
	_ = eg.Wait()

	if e.OnTurnMessage != nil {
		for _, toolMsg := range results {
			e.OnTurnMessage(toolMsg)
		}
	}
	return append(msgs, results...)
}

// executeToolCall never throws: dispatch failures are stringified into the
// tool payload so the loop can continue and the model can recover.
func (e *Engine) executeToolCall(ctx context.Context, tc llm.ToolCall) llm.Message {
	observability.LoggerWithTrace(ctx).Info().Str("tool", tc.Name).Msg("engine_tool_call")

	toolCtx := ctx
	var endTool func(error)
	if e.Tracer != nil {
		toolCtx, endTool = e.Tracer.Start(ctx, "agent.tool."+tc.Name, map[string]any{"tool_call_id": tc.ID})
	}
	payload, err := e.Tools.Dispatch(toolCtx, tc.Name, tc.Args)
	if endTool != nil {
		endTool(err)
	}
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	if e.OnTool != nil {
		e.OnTool(tc.Name, tc.Args, payload, tc.ID)
	}
	return llm.Message{Role: "tool", Content: string(payload), ToolID: tc.ID}
}
