package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/salesreply/internal/config"
	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/reply"
)

// claimNamespace is the opstate namespace for processed inbound emails.
const claimNamespace = "inbound_email"

// Orchestrator decides how to answer an inbound email.
// [*reply.Orchestrator] implements it.
type Orchestrator interface {
	Handle(ctx context.Context, email inbox.InboundEmail) (reply.Decision, error)
}

// Claims records which emails have been taken for processing.
// [*opstate.Store] implements it.
type Claims interface {
	Claim(namespace, key, value string) (bool, error)
	Release(namespace, key string) error
}

// Result is the webhook response body.
type Result struct {
	Sent      bool `json:"sent"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// InboundHandler runs the reply pipeline for one inbound email and
// delivers the reply. It is shared by the webhook and the mailbox poller.
type InboundHandler struct {
	orch      Orchestrator
	provider  inbox.Provider
	claims    Claims
	assistant config.AssistantConfig
	timeout   time.Duration
	logger    *slog.Logger
}

// NewInboundHandler creates an InboundHandler. A nil claims disables
// duplicate suppression.
func NewInboundHandler(orch Orchestrator, provider inbox.Provider, claims Claims, assistant config.AssistantConfig, logger *slog.Logger) *InboundHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InboundHandler{
		orch:      orch,
		provider:  provider,
		claims:    claims,
		assistant: assistant,
		timeout:   time.Duration(assistant.HandleTimeoutSec) * time.Second,
		logger:    logger,
	}
}

// Timeout is the per-invocation deadline applied by Process.
func (h *InboundHandler) Timeout() time.Duration {
	return h.timeout
}

// Process handles email and sends the reply when the pipeline produced
// one. A claimed email is released again if processing fails, so a
// redelivery can retry it.
func (h *InboundHandler) Process(ctx context.Context, email inbox.InboundEmail) (res Result, err error) {
	log := h.logger.With("email_id", email.ID, "thread_id", email.ThreadID)

	if h.claims != nil {
		ok, err := h.claims.Claim(claimNamespace, email.ID, email.ThreadID)
		if err != nil {
			return Result{}, fmt.Errorf("claim email %s: %w", email.ID, err)
		}
		if !ok {
			log.Info("duplicate delivery, skipping")
			return Result{Duplicate: true}, nil
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := h.claims.Release(claimNamespace, email.ID); rerr != nil {
				log.Warn("failed to release claim", "error", rerr)
			}
		}()
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	decision, err := h.orch.Handle(ctx, email)
	if err != nil {
		log.Error("reply pipeline failed",
			"error", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return Result{}, err
	}
	if !decision.CanBeAnswered {
		log.Info("no reply sent", "elapsed", time.Since(start).Round(time.Millisecond))
		return Result{}, nil
	}

	err = h.provider.ReplyToEmail(ctx, email.ID, inbox.ReplyOptions{
		From:     h.assistant.Email,
		FromName: h.assistant.Name,
		HTML:     decision.ResponseHTML,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: reply to %s: %w", reply.ErrProvider, email.ID, err)
	}

	log.Info("reply sent", "elapsed", time.Since(start).Round(time.Millisecond))
	return Result{Sent: true}, nil
}

// Poll adapts Process to the mailbox poller's callback. Failures are
// logged; the poller has no one to report them to.
func (h *InboundHandler) Poll(ctx context.Context, email inbox.InboundEmail) {
	if _, err := h.Process(ctx, email); err != nil {
		h.logger.Warn("polled email not handled", "email_id", email.ID, "error", err)
	}
}
