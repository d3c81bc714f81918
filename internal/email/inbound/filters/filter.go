package filters

import (
	"context"

	"github.com/gotrs-io/autoreply/internal/models"
)

// MessageContext is the parsed message a filter inspects.
type MessageContext struct {
	Account models.EmailAccount
	Message *models.InboundMessage
	// SkipReason is set by a filter that decides the message must not be answered.
	SkipReason string
	SkippedBy  string
}

// Skip marks the message as not to be answered.
func (m *MessageContext) Skip(filterID, reason string) {
	m.SkippedBy = filterID
	m.SkipReason = reason
}

// Skipped reports whether a filter vetoed the reply.
func (m *MessageContext) Skipped() bool {
	return m.SkipReason != ""
}

// Filter inspects a message before a reply is considered.
type Filter interface {
	ID() string
	Apply(ctx context.Context, m *MessageContext) error
}

// Chain executes filters in order, stopping at the first error or skip.
type Chain struct {
	filters []Filter
}

// NewChain returns a filter chain that runs the provided filters sequentially.
func NewChain(fs ...Filter) Chain {
	return Chain{filters: fs}
}

// DefaultChain returns the loop-protection filters.
func DefaultChain() Chain {
	return NewChain(SenderFilter{}, AutoSubmittedFilter{}, BulkMailFilter{})
}

// Run executes the chain.
func (c Chain) Run(ctx context.Context, m *MessageContext) error {
	for _, f := range c.filters {
		if err := f.Apply(ctx, m); err != nil {
			return err
		}
		if m.Skipped() {
			return nil
		}
	}
	return nil
}
