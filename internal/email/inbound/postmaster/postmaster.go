// Package postmaster runs the per-message workflow: parse, dedup, reply, record.
package postmaster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/email/inbound/connector"
	"github.com/gotrs-io/autoreply/internal/email/inbound/filters"
	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/models"
)

// recordTimeout bounds the processed-record write that follows a sent reply.
const recordTimeout = 30 * time.Second

// ProcessedStore is the durable record of answered messages. MarkProcessed
// must be an atomic insert-if-absent and reports whether a row was written.
type ProcessedStore interface {
	HasProcessed(ctx context.Context, account, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, rec models.ProcessedRecord) (bool, error)
}

// Replier sends one reply for one inbound message.
type Replier interface {
	Reply(ctx context.Context, account models.EmailAccount, tmpl models.ReplyTemplate, msg *models.InboundMessage) error
}

// Service wires parsing, filters, the processed store and the replier together.
type Service struct {
	parser  *Parser
	chain   filters.Chain
	store   ProcessedStore
	replier Replier
	events  ledger.Logger
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithFilterChain replaces the loop-protection chain.
func WithFilterChain(chain filters.Chain) Option {
	return func(s *Service) { s.chain = chain }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for synthesized ids and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds the per-message workflow.
func NewService(store ProcessedStore, replier Replier, events ledger.Logger, opts ...Option) *Service {
	s := &Service{
		chain:   filters.DefaultChain(),
		store:   store,
		replier: replier,
		events:  events,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.parser = NewParser(s.now)
	return s
}

// Handler binds the service to the template loaded for one run.
func (s *Service) Handler(tmpl models.ReplyTemplate) connector.Handler {
	tmpl = tmpl.Normalized()
	return connector.HandlerFunc(func(ctx context.Context, account models.EmailAccount, msg *connector.FetchedMessage) connector.Outcome {
		return s.Handle(ctx, account, tmpl, msg)
	})
}

// Handle processes one fetched message. Every failure produces exactly one
// ledger entry and leaves the message eligible for the next poll.
func (s *Service) Handle(ctx context.Context, account models.EmailAccount, tmpl models.ReplyTemplate, fetched *connector.FetchedMessage) connector.Outcome {
	acc := account.Email

	msg, err := s.parser.Parse(fetched)
	if err != nil {
		s.events.Error(acc, "failed to parse message %s: %v", fetched.Ref(), err)
		return connector.OutcomeFailed
	}

	mc := &filters.MessageContext{Account: account, Message: msg}
	if err := s.chain.Run(ctx, mc); err != nil {
		s.events.Error(acc, "filter check failed for message from %s: %v", msg.From, err)
		return connector.OutcomeFailed
	}
	if mc.Skipped() {
		s.events.Info(acc, "not replying to %s (%s): %s", describeSender(msg), msg.Subject, mc.SkipReason)
		return connector.OutcomeSkipped
	}

	done, err := s.store.HasProcessed(ctx, acc, msg.MessageID)
	if err != nil {
		s.events.Error(acc, "processed-message lookup failed for %s: %v", msg.From, err)
		return connector.OutcomeFailed
	}
	if done {
		s.events.Info(acc, "message from %s already processed, skipping", msg.From)
		return connector.OutcomeDuplicate
	}

	s.events.Info(acc, "processing message from %s: %s", msg.From, msg.Subject)
	if err := s.replier.Reply(ctx, account, tmpl, msg); err != nil {
		s.events.Error(acc, "failed to send auto-reply to %s (subject %q): %v", msg.From, msg.Subject, err)
		return connector.OutcomeFailed
	}

	rec := models.ProcessedRecord{
		Account:     acc,
		MessageID:   msg.MessageID,
		Sender:      msg.From,
		Subject:     msg.Subject,
		ProcessedAt: s.now(),
	}
	// The reply is already out, so recording it must outlive the caller.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	inserted, err := s.store.MarkProcessed(recordCtx, rec)
	switch {
	case err != nil:
		s.events.Error(acc, "auto-reply sent to %s but recording it failed: %v", msg.From, err)
	case !inserted:
		s.logger.Warn("processed record already existed after send",
			zap.String("account", acc), zap.String("message_id", msg.MessageID))
		s.events.Info(acc, "auto-reply sent to %s", msg.From)
	default:
		s.events.Info(acc, "auto-reply sent to %s", msg.From)
	}
	return connector.OutcomeReplied
}

func describeSender(msg *models.InboundMessage) string {
	if msg.From == "" {
		return "unknown sender"
	}
	return msg.From
}
