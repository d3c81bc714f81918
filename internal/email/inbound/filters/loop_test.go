package filters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/autoreply/internal/models"
)

func TestDefaultChain(t *testing.T) {
	account := models.EmailAccount{Email: "Support@Example.com"}
	tests := []struct {
		name     string
		msg      models.InboundMessage
		skipped  bool
		filterID string
	}{
		{"regular", models.InboundMessage{From: "alice@example.org"}, false, ""},
		{"no sender", models.InboundMessage{}, true, "sender"},
		{"self", models.InboundMessage{From: "support@example.com"}, true, "sender"},
		{"mailer daemon", models.InboundMessage{From: "MAILER-DAEMON@mx.example.org"}, true, "sender"},
		{"auto replied", models.InboundMessage{From: "bob@example.org", AutoSubmitted: "auto-replied"}, true, "auto_submitted"},
		{"auto submitted no", models.InboundMessage{From: "bob@example.org", AutoSubmitted: "No"}, false, ""},
		{"auto generated params", models.InboundMessage{From: "bob@example.org", AutoSubmitted: "auto-generated; type=dsn"}, true, "auto_submitted"},
		{"bulk", models.InboundMessage{From: "news@example.org", Precedence: "Bulk"}, true, "bulk_mail"},
		{"list id", models.InboundMessage{From: "list@example.org", ListID: "<dev.lists.example.org>"}, true, "bulk_mail"},
		{"precedence first-class", models.InboundMessage{From: "bob@example.org", Precedence: "first-class"}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.msg
			m := &MessageContext{Account: account, Message: &msg}
			require.NoError(t, DefaultChain().Run(context.Background(), m))
			assert.Equal(t, tt.skipped, m.Skipped())
			assert.Equal(t, tt.filterID, m.SkippedBy)
		})
	}
}

type errFilter struct{}

func (errFilter) ID() string { return "err" }
func (errFilter) Apply(context.Context, *MessageContext) error {
	return errors.New("boom")
}

type countingFilter struct{ calls *int }

func (countingFilter) ID() string { return "count" }
func (f countingFilter) Apply(context.Context, *MessageContext) error {
	*f.calls++
	return nil
}

func TestChainStopsOnErrorAndSkip(t *testing.T) {
	calls := 0
	m := &MessageContext{Message: &models.InboundMessage{From: "a@b"}}
	err := NewChain(errFilter{}, countingFilter{&calls}).Run(context.Background(), m)
	require.Error(t, err)
	assert.Zero(t, calls)

	m = &MessageContext{Message: &models.InboundMessage{}}
	require.NoError(t, NewChain(SenderFilter{}, countingFilter{&calls}).Run(context.Background(), m))
	assert.True(t, m.Skipped())
	assert.Zero(t, calls)
}
