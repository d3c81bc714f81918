package models

import "time"

// InboundMessage is the parsed view of one fetched message. It lives only for
// the duration of the per-message workflow.
type InboundMessage struct {
	MessageID   string
	Synthesized bool
	Folder      string
	SeqNum      uint32
	UID         uint32
	From        string
	FromName    string
	To          string
	Subject     string
	Date        time.Time
	Body        string
	BodyIsHTML  bool

	// Headers used for loop protection.
	AutoSubmitted string
	Precedence    string
	ListID        string
}

// ProcessedRecord marks that a reply was sent for (Account, MessageID).
type ProcessedRecord struct {
	ID          int64     `json:"id" db:"id"`
	Account     string    `json:"email_account" db:"email_account"`
	MessageID   string    `json:"message_id" db:"message_id"`
	Sender      string    `json:"sender" db:"sender"`
	Subject     string    `json:"subject" db:"subject"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}
