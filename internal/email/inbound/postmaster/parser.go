package postmaster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/gotrs-io/autoreply/internal/email/inbound/connector"
	"github.com/gotrs-io/autoreply/internal/models"
)

// NoSubject replaces an absent subject.
const NoSubject = "(no subject)"

const defaultBodyLimit int64 = 2 << 20

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Parser turns fetched RFC 5322 bytes into an InboundMessage.
type Parser struct {
	decoder   *mime.WordDecoder
	bodyLimit int64
	now       func() time.Time
}

// NewParser returns a parser with the default body limit.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{
		decoder:   &mime.WordDecoder{CharsetReader: htmlcharset.NewReaderLabel},
		bodyLimit: defaultBodyLimit,
		now:       now,
	}
}

// Parse extracts identifier, sender, subject, date and body. When the message
// has no Message-ID an identifier is synthesized from folder, time and sequence
// number and flagged as such.
func (p *Parser) Parse(msg *connector.FetchedMessage) (*models.InboundMessage, error) {
	if msg == nil || len(msg.Raw) == 0 {
		return nil, errors.New("empty message")
	}
	out := &models.InboundMessage{
		Folder: msg.Folder,
		SeqNum: msg.SeqNum,
		UID:    msg.UID,
	}

	reader, err := gomail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		if lerr := p.parseLegacy(msg, out); lerr != nil {
			return nil, fmt.Errorf("parse message: %w", errors.Join(err, lerr))
		}
	} else {
		defer reader.Close()
		p.fillFromHeader(&reader.Header, out)
		if out.Body, out.BodyIsHTML, err = p.readBodyParts(reader); err != nil {
			return nil, fmt.Errorf("parse message body: %w", err)
		}
	}

	if out.Subject == "" {
		out.Subject = NoSubject
	}
	if out.Date.IsZero() {
		out.Date = msg.InternalDate
	}
	if out.Date.IsZero() {
		out.Date = p.now()
	}
	if out.FromName == "" {
		out.FromName = out.From
	}
	if out.MessageID == "" {
		out.MessageID = SynthesizeMessageID(msg.Folder, p.now(), msg.SeqNum)
		out.Synthesized = true
	}
	return out, nil
}

// SynthesizeMessageID builds the fallback identifier "<folder>-<unix millis>-<seq>".
func SynthesizeMessageID(folder string, at time.Time, seq uint32) string {
	return fmt.Sprintf("%s-%d-%d", folder, at.UnixMilli(), seq)
}

func (p *Parser) fillFromHeader(h *gomail.Header, out *models.InboundMessage) {
	if subject, err := h.Subject(); err == nil {
		out.Subject = strings.TrimSpace(subject)
	} else {
		out.Subject = p.decodeHeader(h.Get("Subject"))
	}
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		out.From = strings.TrimSpace(list[0].Address)
		out.FromName = strings.TrimSpace(list[0].Name)
	} else {
		out.From, out.FromName = p.parseAddress(h.Get("From"))
	}
	if list, err := h.AddressList("To"); err == nil && len(list) > 0 {
		out.To = strings.TrimSpace(list[0].Address)
	}
	if id, err := h.MessageID(); err == nil && id != "" {
		out.MessageID = id
	} else {
		out.MessageID = normalizeMessageID(h.Get("Message-Id"))
	}
	if date, err := h.Date(); err == nil {
		out.Date = date
	}
	out.AutoSubmitted = h.Get("Auto-Submitted")
	out.Precedence = h.Get("Precedence")
	out.ListID = h.Get("List-Id")
}

func (p *Parser) parseLegacy(msg *connector.FetchedMessage, out *models.InboundMessage) error {
	reader, err := stdmail.ReadMessage(bytes.NewReader(msg.Raw))
	if err != nil {
		return err
	}
	out.Subject = p.decodeHeader(reader.Header.Get("Subject"))
	out.From, out.FromName = p.parseAddress(reader.Header.Get("From"))
	out.To, _ = p.parseAddress(reader.Header.Get("To"))
	out.MessageID = normalizeMessageID(reader.Header.Get("Message-Id"))
	if date, err := reader.Header.Date(); err == nil {
		out.Date = date
	}
	out.AutoSubmitted = reader.Header.Get("Auto-Submitted")
	out.Precedence = reader.Header.Get("Precedence")
	out.ListID = reader.Header.Get("List-Id")
	body, err := io.ReadAll(io.LimitReader(reader.Body, p.bodyLimit))
	if err != nil {
		return err
	}
	out.Body = string(body)
	mediaType, _, _ := mime.ParseMediaType(reader.Header.Get("Content-Type"))
	out.BodyIsHTML = strings.EqualFold(mediaType, "text/html")
	return nil
}

// readBodyParts prefers the first text/plain part, then the first text/html part.
// A broken part structure is an error only when no text was read before it.
func (p *Parser) readBodyParts(reader *gomail.Reader) (string, bool, error) {
	var plain, rich *string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if plain == nil && rich == nil {
				return "", false, err
			}
			break
		}
		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := header.ContentType()
		if err != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		mediaType = strings.ToLower(mediaType)
		if !strings.HasPrefix(mediaType, "text/") {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part.Body, p.bodyLimit))
		if err != nil || len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		body := string(data)
		switch {
		case mediaType == "text/html":
			if rich == nil {
				rich = &body
			}
		case plain == nil:
			plain = &body
		}
		if plain != nil {
			break
		}
	}
	if plain != nil {
		return *plain, false, nil
	}
	if rich != nil {
		return *rich, true, nil
	}
	return "", false, nil
}

func (p *Parser) decodeHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	decoded, err := p.decoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func (p *Parser) parseAddress(value string) (string, string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	parser := stdmail.AddressParser{WordDecoder: p.decoder}
	if addr, err := parser.Parse(value); err == nil {
		return strings.TrimSpace(addr.Address), strings.TrimSpace(addr.Name)
	}
	return strings.Trim(p.decodeHeader(value), "<> "), ""
}

func normalizeMessageID(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "<")
	value = strings.TrimSuffix(value, ">")
	return strings.TrimSpace(value)
}
