package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotrs-io/autoreply/internal/models"
)

// ErrTimeout is returned when a protocol round trip exceeds its deadline.
var ErrTimeout = errors.New("imap command timed out")

// ErrConnectionLost ends a traversal after the session became unusable.
var ErrConnectionLost = errors.New("imap connection lost")

// DefaultFolders are visited in order when none are configured.
var DefaultFolders = []string{"INBOX", "Junk"}

// Outcome is the result of one per-message workflow.
type Outcome int

const (
	// OutcomeFailed leaves the message unseen so the next poll retries it.
	OutcomeFailed Outcome = iota
	// OutcomeSkipped means the message was deliberately not answered.
	OutcomeSkipped
	// OutcomeDuplicate means a processed record already existed.
	OutcomeDuplicate
	// OutcomeReplied means a reply was sent; the engine marks the message seen.
	OutcomeReplied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeReplied:
		return "replied"
	default:
		return "failed"
	}
}

// FetchedMessage is the raw RFC 5322 payload of one unseen message.
type FetchedMessage struct {
	Folder       string
	SeqNum       uint32
	UID          uint32
	InternalDate time.Time
	FetchedAt    time.Time
	Raw          []byte
}

// Ref identifies the message for log lines.
func (m *FetchedMessage) Ref() string {
	return fmt.Sprintf("%s/%d", m.Folder, m.UID)
}

// Handler runs the per-message workflow. It may be called concurrently for
// messages of the same folder and reports its own failures.
type Handler interface {
	Handle(ctx context.Context, account models.EmailAccount, msg *FetchedMessage) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, account models.EmailAccount, msg *FetchedMessage) Outcome

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, account models.EmailAccount, msg *FetchedMessage) Outcome {
	return f(ctx, account, msg)
}

// Report counts what happened during one account traversal.
type Report struct {
	FoldersVisited int `json:"folders_visited"`
	FoldersFailed  int `json:"folders_failed"`
	Messages       int `json:"messages"`
	Replied        int `json:"replied"`
	Duplicates     int `json:"duplicates"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
}

func (r *Report) add(o Outcome) {
	r.Messages++
	switch o {
	case OutcomeReplied:
		r.Replied++
	case OutcomeDuplicate:
		r.Duplicates++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
}

// Fetcher traverses one account's folders. A returned error is fatal to the
// account; folder and message failures are logged and counted instead.
type Fetcher interface {
	Fetch(ctx context.Context, account models.EmailAccount, handler Handler) (Report, error)
}
