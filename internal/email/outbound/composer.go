package outbound

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/k3a/html2text"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/gotrs-io/autoreply/internal/models"
)

// QuoteDateLayout renders the original timestamp inside the quotation.
const QuoteDateLayout = "Mon, 02 Jan 2006 15:04:05 -0700"

// Reply is a fully rendered outbound message.
type Reply struct {
	From      string
	To        string
	Subject   string
	MessageID string
	InReplyTo string
	Text      string
	HTML      string
	Raw       []byte
}

// Composer renders replies in plain text and HTML from the same data.
type Composer struct {
	now       func() time.Time
	location  *time.Location
	messageID func(domain string) string
	sanitizer *bluemonday.Policy
	markdown  goldmark.Markdown
}

// ComposerOption customizes a Composer.
type ComposerOption func(*Composer)

// WithComposerClock overrides the Date header clock.
func WithComposerClock(now func() time.Time) ComposerOption {
	return func(c *Composer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithQuoteLocation sets the zone used to render the original timestamp.
func WithQuoteLocation(loc *time.Location) ComposerOption {
	return func(c *Composer) {
		if loc != nil {
			c.location = loc
		}
	}
}

// WithMessageIDGenerator overrides Message-ID generation.
func WithMessageIDGenerator(fn func(domain string) string) ComposerOption {
	return func(c *Composer) {
		if fn != nil {
			c.messageID = fn
		}
	}
}

// NewComposer returns a composer with UGC sanitising and GFM markdown.
func NewComposer(opts ...ComposerOption) *Composer {
	c := &Composer{
		now:       time.Now,
		location:  time.Local,
		messageID: GenerateMessageID,
		sanitizer: bluemonday.UGCPolicy(),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateMessageID returns a bare message id (no angle brackets) for domain.
func GenerateMessageID(domain string) string {
	if domain == "" {
		domain = "localhost"
	}
	return fmt.Sprintf("%s@%s", uuid.NewString(), domain)
}

// Compose builds the reply for msg as sent from account.
func (c *Composer) Compose(account models.EmailAccount, tmpl models.ReplyTemplate, msg *models.InboundMessage) (*Reply, error) {
	if msg == nil {
		return nil, fmt.Errorf("compose: nil message")
	}
	if msg.From == "" {
		return nil, fmt.Errorf("compose: message has no sender")
	}
	tmpl = tmpl.Normalized()

	subject := ReplySubject(msg.Subject)
	if tmpl.HasFixedSubject() {
		subject = tmpl.Subject
	}

	text := c.renderText(account, tmpl, msg)
	htmlBody, err := c.renderHTML(account, tmpl, msg)
	if err != nil {
		return nil, err
	}

	r := &Reply{
		From:      account.Email,
		To:        msg.From,
		Subject:   subject,
		MessageID: c.messageID(account.Domain()),
		Text:      text,
		HTML:      htmlBody,
	}
	if !msg.Synthesized && msg.MessageID != "" {
		r.InReplyTo = msg.MessageID
	}

	raw, err := c.encode(r, tmpl.SenderName, msg.FromName)
	if err != nil {
		return nil, err
	}
	r.Raw = raw
	return r, nil
}

func (c *Composer) encode(r *Reply, senderName, recipientName string) ([]byte, error) {
	var h mail.Header
	h.SetDate(c.now())
	h.SetAddressList("From", []*mail.Address{{Name: senderName, Address: r.From}})
	if recipientName == r.To {
		recipientName = ""
	}
	h.SetAddressList("To", []*mail.Address{{Name: recipientName, Address: r.To}})
	h.SetSubject(r.Subject)
	h.SetMessageID(r.MessageID)
	if r.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{r.InReplyTo})
		h.SetMsgIDList("References", []string{r.InReplyTo})
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.Set("X-Auto-Response-Suppress", "All")
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/alternative", nil)

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h.Header)
	if err != nil {
		return nil, fmt.Errorf("compose: create writer: %w", err)
	}
	if err := writePart(w, "text/plain", r.Text); err != nil {
		return nil, err
	}
	if err := writePart(w, "text/html", r.HTML); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compose: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(w *message.Writer, contentType, body string) error {
	var ph message.Header
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := w.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("compose: create %s part: %w", contentType, err)
	}
	if _, err := pw.Write([]byte(body)); err != nil {
		pw.Close()
		return fmt.Errorf("compose: write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func (c *Composer) renderText(account models.EmailAccount, tmpl models.ReplyTemplate, msg *models.InboundMessage) string {
	body := msg.Body
	if msg.BodyIsHTML {
		body = html2text.HTML2Text(body)
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(normalizeNewlines(tmpl.Content), "\n"))
	b.WriteString("\n\n---\nOriginal Message\n")
	fmt.Fprintf(&b, "From: %s\n", senderDisplay(msg))
	fmt.Fprintf(&b, "Sent: %s\n", c.quoteDate(msg.Date))
	fmt.Fprintf(&b, "To: %s\n", account.Email)
	fmt.Fprintf(&b, "Subject: %s\n\n", msg.Subject)
	for _, line := range strings.Split(strings.TrimRight(normalizeNewlines(body), "\n"), "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Composer) renderHTML(account models.EmailAccount, tmpl models.ReplyTemplate, msg *models.InboundMessage) (string, error) {
	view := replyView{
		Content: c.contentHTML(tmpl),
		From:    senderDisplay(msg),
		Sent:    c.quoteDate(msg.Date),
		To:      account.Email,
		Subject: msg.Subject,
	}
	if msg.BodyIsHTML {
		view.Body = template.HTML(c.sanitizer.Sanitize(msg.Body))
	} else {
		view.Body = template.HTML(linesToHTML(msg.Body, "<br />"))
	}

	var buf bytes.Buffer
	if err := replyHTML.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("compose: render html: %w", err)
	}
	return buf.String(), nil
}

func (c *Composer) contentHTML(tmpl models.ReplyTemplate) template.HTML {
	if tmpl.Format == models.TemplateFormatMarkdown {
		var buf bytes.Buffer
		if err := c.markdown.Convert([]byte(tmpl.Content), &buf); err == nil {
			return template.HTML(c.sanitizer.Sanitize(buf.String()))
		}
	}
	var b strings.Builder
	for _, line := range strings.Split(normalizeNewlines(tmpl.Content), "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString("<br />")
			continue
		}
		b.WriteString("<div>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</div>")
	}
	return template.HTML(b.String())
}

func (c *Composer) quoteDate(t time.Time) string {
	if t.IsZero() {
		t = c.now()
	}
	return t.In(c.location).Format(QuoteDateLayout)
}

func senderDisplay(msg *models.InboundMessage) string {
	if msg.FromName == "" || msg.FromName == msg.From {
		return msg.From
	}
	return fmt.Sprintf("%q <%s>", msg.FromName, msg.From)
}

func linesToHTML(s, sep string) string {
	lines := strings.Split(strings.TrimRight(normalizeNewlines(s), "\n"), "\n")
	for i, line := range lines {
		lines[i] = html.EscapeString(line)
	}
	return strings.Join(lines, sep)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\r", "\n")
}
