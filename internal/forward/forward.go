// Package forward hands a conversation to a configured human contact.
package forward

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/salesreply/internal/config"
	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/prompts"
)

// Dispatcher forwards threads to the contacts listed in the assistant's
// forward rules. Requests for any other address are dropped.
type Dispatcher struct {
	rules    []config.ForwardRule
	match    string
	name     string
	provider inbox.Provider
	logger   *slog.Logger
}

// New creates a Dispatcher from the assistant configuration.
func New(cfg config.AssistantConfig, provider inbox.Provider, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		rules:    cfg.ForwardRules,
		match:    cfg.ForwardMatch,
		name:     cfg.Name,
		provider: provider,
		logger:   logger,
	}
}

// Enabled reports whether any forward rule is configured.
func (d *Dispatcher) Enabled() bool {
	return len(d.rules) > 0
}

// Targets returns the forward rules in prompt form.
func (d *Dispatcher) Targets() []prompts.ForwardTarget {
	out := make([]prompts.ForwardTarget, 0, len(d.rules))
	for _, r := range d.rules {
		out = append(out, prompts.ForwardTarget{Email: r.Email, Name: r.Name, Condition: r.ForwardPrompt})
	}
	return out
}

// Allowed reports whether target is a configured contact. Matching is
// exact unless the case_insensitive match mode is configured.
func (d *Dispatcher) Allowed(target string) bool {
	for _, r := range d.rules {
		if d.match == config.ForwardMatchCaseInsensitive {
			if strings.EqualFold(strings.TrimSpace(r.Email), strings.TrimSpace(target)) {
				return true
			}
			continue
		}
		if r.Email == target {
			return true
		}
	}
	return false
}

// Forward forwards threadID to target with note prefixed by the
// assistant's display name. An unknown target is not an error: nothing
// is sent and nil is returned. Provider errors are returned as-is.
func (d *Dispatcher) Forward(ctx context.Context, threadID, target, note string) error {
	if !d.Allowed(target) {
		d.logger.Debug("forward target not configured, ignoring",
			"thread_id", threadID,
			"target", target,
		)
		return nil
	}

	start := time.Now()
	err := d.provider.ForwardThread(ctx, threadID, inbox.ForwardOptions{
		To:   target,
		Note: fmt.Sprintf("%s: %s", d.name, note),
	})
	if err != nil {
		return err
	}

	d.logger.Info("thread forwarded",
		"thread_id", threadID,
		"target", target,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}
