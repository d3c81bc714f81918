package filters

import (
	"context"
	"strings"
)

// automatedLocalParts are mailbox names that belong to delivery systems.
var automatedLocalParts = map[string]struct{}{
	"mailer-daemon": {},
	"postmaster":    {},
	"noreply":       {},
	"no-reply":      {},
	"do-not-reply":  {},
	"donotreply":    {},
}

// SenderFilter skips messages without a sender, sent by the account itself,
// or sent by a delivery system mailbox.
type SenderFilter struct{}

// ID returns the filter identifier.
func (SenderFilter) ID() string { return "sender" }

// Apply implements Filter.
func (f SenderFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil {
		return nil
	}
	from := strings.ToLower(strings.TrimSpace(m.Message.From))
	switch {
	case from == "":
		m.Skip(f.ID(), "message has no sender address")
	case strings.EqualFold(from, strings.TrimSpace(m.Account.Email)):
		m.Skip(f.ID(), "message was sent by the account itself")
	default:
		local := from
		if at := strings.LastIndex(from, "@"); at >= 0 {
			local = from[:at]
		}
		if _, ok := automatedLocalParts[local]; ok {
			m.Skip(f.ID(), "sender "+from+" is an automated mailbox")
		}
	}
	return nil
}

// AutoSubmittedFilter honours RFC 3834: anything but "Auto-Submitted: no" is
// machine generated and gets no automatic reply.
type AutoSubmittedFilter struct{}

// ID returns the filter identifier.
func (AutoSubmittedFilter) ID() string { return "auto_submitted" }

// Apply implements Filter.
func (f AutoSubmittedFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil {
		return nil
	}
	value := strings.ToLower(strings.TrimSpace(m.Message.AutoSubmitted))
	if i := strings.IndexByte(value, ';'); i >= 0 {
		value = strings.TrimSpace(value[:i])
	}
	if value != "" && value != "no" {
		m.Skip(f.ID(), "message is auto-submitted ("+value+")")
	}
	return nil
}

// BulkMailFilter skips list traffic and bulk precedence classes.
type BulkMailFilter struct{}

// ID returns the filter identifier.
func (BulkMailFilter) ID() string { return "bulk_mail" }

// Apply implements Filter.
func (f BulkMailFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(m.Message.Precedence)) {
	case "bulk", "list", "junk":
		m.Skip(f.ID(), "message has precedence "+strings.ToLower(strings.TrimSpace(m.Message.Precedence)))
		return nil
	}
	if strings.TrimSpace(m.Message.ListID) != "" {
		m.Skip(f.ID(), "message is list traffic")
	}
	return nil
}
