package outbound

import (
	"context"
	"fmt"

	"github.com/gotrs-io/autoreply/internal/models"
)

// Replier composes and transmits exactly one reply per call.
type Replier struct {
	composer *Composer
	sender   Sender
}

// NewReplier wires a composer to a sender.
func NewReplier(composer *Composer, sender Sender) *Replier {
	if composer == nil {
		composer = NewComposer()
	}
	return &Replier{composer: composer, sender: sender}
}

// Reply builds the reply for msg and sends it from account.
func (r *Replier) Reply(ctx context.Context, account models.EmailAccount, tmpl models.ReplyTemplate, msg *models.InboundMessage) error {
	reply, err := r.composer.Compose(account, tmpl, msg)
	if err != nil {
		return err
	}
	if r.sender == nil {
		return fmt.Errorf("no sender configured")
	}
	return r.sender.Send(ctx, account, reply)
}
