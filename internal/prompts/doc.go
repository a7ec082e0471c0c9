// Package prompts contains all LLM prompt templates used by salesreply.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. Deployment-specific text (assistant name,
// company description, forward rules) lives in config.yaml and is passed in.
//
// Every prompt is built through [Assemble], so models always see the same
// section headers in the same order.
//
// Convention: each prompt category gets its own file (reply.go,
// company.go) with an exported function that accepts the dynamic parts
// and returns the fully interpolated prompt string.
package prompts
