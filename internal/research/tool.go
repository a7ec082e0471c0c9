package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/salesreply/internal/tools"
)

// ToolName is the name the reply model uses to call [Engine.Tool].
const ToolName = "researchCompany"

// Researcher is anything that can research a company by name.
type Researcher interface {
	Research(ctx context.Context, companyName string) Result
}

// Tool exposes the engine to the reply model.
func (e *Engine) Tool() *tools.Tool {
	return NewTool(e, e.logger)
}

// NewTool returns the researchCompany tool backed by r. The tool
// returns the joined research texts for the named company.
func NewTool(r Researcher, logger *slog.Logger) *tools.Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &tools.Tool{
		Name:        ToolName,
		Description: "A tool for researching a company. Use this if you want to know more about a different company.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"companyName": map[string]any{
					"type":        "string",
					"description": "Name of the company to research",
				},
			},
			"required": []string{"companyName"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			name := strings.TrimSpace(tools.StringArg(args, "companyName"))
			if name == "" {
				return "", fmt.Errorf("companyName is required")
			}
			logger.Info("researching company for model", "company", name, "run_id", tools.RunIDFromContext(ctx))
			joined := JoinTexts(r.Research(ctx, name).InterestingTexts)
			if joined == "" {
				return "No research found for " + name + ".", nil
			}
			return joined, nil
		},
	}
}
