package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNoJSONObject is returned by [GenerateObject] when the model reply
// contains no decodable JSON object.
var ErrNoJSONObject = errors.New("model reply contains no JSON object")

// ObjectRequest describes a single structured-output call.
type ObjectRequest struct {
	Model  string
	System string
	Prompt string

	// Schema is a JSON Schema for the expected object. It is embedded in
	// the system instructions so every provider sees the same contract.
	Schema map[string]any
}

// GenerateObject makes one tool-less chat call asking for a JSON object
// matching req.Schema and decodes the first JSON object in the reply
// into out. There are no retries; a reply without a decodable object
// yields an error wrapping [ErrNoJSONObject].
func GenerateObject(ctx context.Context, client Client, req ObjectRequest, out any) error {
	schema, err := json.Marshal(req.Schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	var system strings.Builder
	if req.System != "" {
		system.WriteString(req.System)
		system.WriteString("\n\n")
	}
	system.WriteString("Respond with a single JSON object and nothing else. It must validate against this JSON Schema:\n")
	system.Write(schema)

	resp, err := client.Chat(ctx, req.Model, []Message{
		{Role: RoleSystem, Content: system.String()},
		{Role: RoleUser, Content: req.Prompt},
	}, nil)
	if err != nil {
		return err
	}

	raw, ok := ExtractJSONObject(resp.Message.Content)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoJSONObject, Truncate(resp.Message.Content, 200))
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrNoJSONObject, err)
	}
	return nil
}

// ExtractJSONObject returns the first complete JSON object embedded in s,
// tolerating surrounding prose and markdown code fences.
func ExtractJSONObject(s string) (string, bool) {
	objs := JSONObjects(s)
	if len(objs) == 0 {
		return "", false
	}
	return objs[0], true
}

// JSONObjects returns every complete top-level JSON object embedded in
// s, in order. Objects nested inside a returned object are not listed
// separately.
func JSONObjects(s string) []string {
	var out []string
	i := strings.IndexByte(s, '{')
	for i != -1 {
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		start := i + 1
		if err := dec.Decode(&raw); err == nil && len(raw) > 0 && raw[0] == '{' {
			out = append(out, string(raw))
			start = i + int(dec.InputOffset())
		}
		next := strings.IndexByte(s[start:], '{')
		if next == -1 {
			break
		}
		i = start + next
	}
	return out
}

// StringSchema builds the object schema used by the single-field
// extractions in this module: every named property is a required string.
func StringSchema(fields ...string) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             fields,
		"additionalProperties": false,
	}
}

// Truncate shortens s to at most n bytes plus an ellipsis, backing off
// to a rune boundary so multi-byte characters are never split.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
