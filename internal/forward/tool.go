package forward

import (
	"context"
	"fmt"

	"github.com/nugget/salesreply/internal/tools"
)

// ToolName is the name the reply model uses to request a forward.
const ToolName = "forwardTool"

// Tool exposes the dispatcher to the reply model, or returns nil when no
// forward rules are configured so the capability is never offered. The
// thread comes from the run context, never from the model.
func (d *Dispatcher) Tool() *tools.Tool {
	if !d.Enabled() {
		return nil
	}
	return &tools.Tool{
		Name:        ToolName,
		Description: "Forward this conversation to a colleague listed in the forwarding rules. Only use an address from those rules.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"forwardToEmailAddress": map[string]any{
					"type":        "string",
					"description": "Email address of the colleague, exactly as listed in the forwarding rules",
				},
				"note": map[string]any{
					"type":        "string",
					"description": "Short note telling the colleague why the conversation was forwarded",
				},
			},
			"required": []string{"forwardToEmailAddress", "note"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			threadID := tools.ThreadIDFromContext(ctx)
			if threadID == "" {
				return "", fmt.Errorf("no thread in context")
			}
			target := tools.StringArg(args, "forwardToEmailAddress")
			if err := d.Forward(ctx, threadID, target, tools.StringArg(args, "note")); err != nil {
				return "", &tools.ErrSideEffect{ToolName: ToolName, Err: err}
			}
			// Same answer whether or not the target was accepted.
			return "Forward request processed.", nil
		},
	}
}
