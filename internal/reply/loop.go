package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/llm"
	"github.com/nugget/salesreply/internal/tools"
)

// MaxRounds bounds the number of model calls in one generation.
const MaxRounds = 10

// OutcomeKind tags a [RoundOutcome].
type OutcomeKind int

// Round outcome kinds.
const (
	// OutcomeFinal carries the model's final structured answer.
	OutcomeFinal OutcomeKind = iota + 1

	// OutcomeToolCalls carries one or more tool requests to run before
	// the next round.
	OutcomeToolCalls
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFinal:
		return "final"
	case OutcomeToolCalls:
		return "tool_calls"
	}
	return "unknown"
}

// FinalAnswer is the structured answer the reply model must end with.
type FinalAnswer struct {
	ResponseHTML string `json:"responseHtml"`
}

// RoundOutcome is the result of one model call. Exactly one of Final
// or ToolCalls is set, according to Kind.
type RoundOutcome struct {
	Kind      OutcomeKind
	Final     FinalAnswer
	ToolCalls []llm.ToolCall

	// Message is the assistant message as returned, kept so it can be
	// appended to the conversation before tool results.
	Message llm.Message
}

// classify turns a model response into a RoundOutcome. A response with
// no tool calls must contain a JSON object with a responseHtml string.
func classify(msg llm.Message) (RoundOutcome, error) {
	if len(msg.ToolCalls) > 0 {
		return RoundOutcome{Kind: OutcomeToolCalls, ToolCalls: msg.ToolCalls, Message: msg}, nil
	}

	objs := llm.JSONObjects(msg.Content)
	if len(objs) == 0 {
		return RoundOutcome{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedOutput, clip(msg.Content, 200))
	}
	// Models sometimes echo an example object before the real answer,
	// so take the first object that carries responseHtml.
	for _, raw := range objs {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			continue
		}
		field, ok := fields["responseHtml"]
		if !ok {
			continue
		}
		var final FinalAnswer
		if err := json.Unmarshal(field, &final.ResponseHTML); err != nil {
			return RoundOutcome{}, fmt.Errorf("%w: responseHtml is not a string", ErrMalformedOutput)
		}
		return RoundOutcome{Kind: OutcomeFinal, Final: final, Message: msg}, nil
	}
	return RoundOutcome{}, fmt.Errorf("%w: responseHtml missing", ErrMalformedOutput)
}

// generator runs the tool-augmented generation loop.
type generator struct {
	llm          llm.Client
	model        string
	registry     *tools.Registry
	roundTimeout time.Duration
	stream       llm.StreamCallback
	logger       *slog.Logger
}

// run calls the model until it gives a final answer or MaxRounds calls
// have been made. Tool requests from the last allowed round are not
// executed, since no later round could read their results.
func (g *generator) run(ctx context.Context, messages []llm.Message) (FinalAnswer, error) {
	toolDefs := g.registry.List()

	for round := range MaxRounds {
		if err := ctx.Err(); err != nil {
			return FinalAnswer{}, fmt.Errorf("generation cancelled: %w", err)
		}

		outcome, err := g.round(ctx, round, messages, toolDefs)
		if err != nil {
			return FinalAnswer{}, err
		}

		switch outcome.Kind {
		case OutcomeFinal:
			return outcome.Final, nil

		case OutcomeToolCalls:
			if round == MaxRounds-1 {
				continue
			}
			messages = append(messages, outcome.Message)
			results, err := g.execute(ctx, round, outcome.ToolCalls)
			if err != nil {
				return FinalAnswer{}, err
			}
			messages = append(messages, results...)
		}
	}

	g.logger.Warn("generation round cap reached",
		"run_id", tools.RunIDFromContext(ctx),
		"max_rounds", MaxRounds,
	)
	return FinalAnswer{}, fmt.Errorf("%w after %d rounds", ErrRoundCapExceeded, MaxRounds)
}

func (g *generator) round(ctx context.Context, round int, messages []llm.Message, toolDefs []map[string]any) (RoundOutcome, error) {
	callCtx := ctx
	if g.roundTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.roundTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.llm.ChatStream(callCtx, g.model, messages, toolDefs, g.stream)
	if err != nil {
		return RoundOutcome{}, fmt.Errorf("%w (round %d): %w", ErrModel, round, err)
	}

	outcome, err := classify(resp.Message)
	if err != nil {
		return RoundOutcome{}, err
	}

	g.logger.Info("generation round",
		"run_id", tools.RunIDFromContext(ctx),
		"round", round,
		"model", g.model,
		"outcome", outcome.Kind.String(),
		"tool_calls", len(outcome.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return outcome, nil
}

// execute runs the requested tools in order. Ordinary tool errors are
// reported to the model as the tool result; side-effect failures end
// the run as provider failures.
func (g *generator) execute(ctx context.Context, round int, calls []llm.ToolCall) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(calls))
	for _, tc := range calls {
		argsJSON := ""
		if tc.Function.Arguments != nil {
			argsBytes, _ := json.Marshal(tc.Function.Arguments)
			argsJSON = string(argsBytes)
		}

		start := time.Now()
		result, err := g.registry.Execute(ctx, tc.Function.Name, argsJSON)
		if err != nil {
			var side *tools.ErrSideEffect
			if errors.As(err, &side) {
				return nil, fmt.Errorf("%w: %w", ErrProvider, err)
			}
			g.logger.Warn("tool exec failed",
				"run_id", tools.RunIDFromContext(ctx),
				"round", round,
				"tool", tc.Function.Name,
				"error", err,
			)
			result = "Error: " + err.Error()
		} else {
			g.logger.Debug("tool exec done",
				"run_id", tools.RunIDFromContext(ctx),
				"round", round,
				"tool", tc.Function.Name,
				"result_len", len(result),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
		}

		out = append(out, llm.Message{
			Role:       llm.RoleTool,
			Content:    result,
			ToolCallID: tc.ID,
		})
	}
	return out, nil
}

func clip(s string, n int) string {
	return llm.Truncate(strings.TrimSpace(s), n)
}
