package outbound

import (
	"html"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/autoreply/internal/models"
)

func testComposer() *Composer {
	return NewComposer(
		WithComposerClock(func() time.Time { return time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC) }),
		WithQuoteLocation(time.UTC),
		WithMessageIDGenerator(func(domain string) string { return "fixed@" + domain }),
	)
}

func testAccount() models.EmailAccount {
	return models.EmailAccount{Email: "support@example.com", SMTPHost: "smtp.example.com", Password: "secret"}
}

func readParts(t *testing.T, raw []byte) (*mail.Header, map[string]string) {
	t.Helper()
	mr, err := mail.CreateReader(strings.NewReader(string(raw)))
	require.NoError(t, err)
	parts := map[string]string{}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ct, _, _ := p.Header.(*mail.InlineHeader).ContentType()
		body, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		parts[ct] = strings.ReplaceAll(string(body), "\r\n", "\n")
	}
	return &mr.Header, parts
}

func TestComposeThreadedReply(t *testing.T) {
	msg := &models.InboundMessage{
		MessageID: "orig-123@mail.example.org",
		Folder:    "INBOX",
		From:      "alice@example.org",
		FromName:  "Alice",
		Subject:   "Invoice question",
		Date:      time.Date(2025, 5, 1, 12, 30, 0, 0, time.UTC),
		Body:      "Hello,\nwhere is my invoice?",
	}
	tmpl := models.ReplyTemplate{Content: "Thanks for writing.\nWe will answer soon.", SenderName: "Support Team"}

	reply, err := testComposer().Compose(testAccount(), tmpl, msg)
	require.NoError(t, err)

	assert.Equal(t, "support@example.com", reply.From)
	assert.Equal(t, "alice@example.org", reply.To)
	assert.Equal(t, "Re: Invoice question", reply.Subject)
	assert.Equal(t, "fixed@example.com", reply.MessageID)
	assert.Equal(t, "orig-123@mail.example.org", reply.InReplyTo)

	assert.Contains(t, reply.Text, "Thanks for writing.\nWe will answer soon.\n\n---\nOriginal Message\n")
	assert.Contains(t, reply.Text, "From: \"Alice\" <alice@example.org>\n")
	assert.Contains(t, reply.Text, "Sent: Thu, 01 May 2025 12:30:00 +0000\n")
	assert.Contains(t, reply.Text, "To: support@example.com\n")
	assert.Contains(t, reply.Text, "Subject: Invoice question\n")
	assert.True(t, strings.HasSuffix(reply.Text, "> Hello,\n> where is my invoice?\n"))

	assert.Contains(t, reply.HTML, "<div>Thanks for writing.</div><div>We will answer soon.</div>")
	assert.Contains(t, html.UnescapeString(reply.HTML), "Thu, 01 May 2025 12:30:00 +0000")
	assert.Contains(t, reply.HTML, "Hello,<br />where is my invoice?")
	assert.Contains(t, reply.HTML, "&#34;Alice&#34; &lt;alice@example.org&gt;")

	h, parts := readParts(t, reply.Raw)
	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Invoice question", subject)
	from, err := h.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "Support Team", from[0].Name)
	inReplyTo, err := h.MsgIDList("In-Reply-To")
	require.NoError(t, err)
	assert.Equal(t, []string{"orig-123@mail.example.org"}, inReplyTo)
	refs, err := h.MsgIDList("References")
	require.NoError(t, err)
	assert.Equal(t, []string{"orig-123@mail.example.org"}, refs)
	assert.Equal(t, "auto-replied", h.Get("Auto-Submitted"))
	id, err := h.MessageID()
	require.NoError(t, err)
	assert.Equal(t, "fixed@example.com", id)

	require.Contains(t, parts, "text/plain")
	require.Contains(t, parts, "text/html")
	assert.Equal(t, reply.Text, parts["text/plain"])
	assert.Equal(t, reply.HTML, parts["text/html"])
}

func TestComposeSynthesizedIDSkipsThreadingHeaders(t *testing.T) {
	msg := &models.InboundMessage{
		MessageID:   "INBOX-1700000000000-4",
		Synthesized: true,
		From:        "bob@example.org",
		Subject:     "Re: ping",
		Body:        "pong",
	}
	reply, err := testComposer().Compose(testAccount(), models.ReplyTemplate{Content: "ok"}, msg)
	require.NoError(t, err)

	assert.Empty(t, reply.InReplyTo)
	assert.Equal(t, "Re: ping", reply.Subject)
	assert.Contains(t, reply.Text, "From: bob@example.org\n")
	assert.Contains(t, reply.Text, "Sent: Tue, 06 May 2025 07:08:09 +0000\n")

	h, _ := readParts(t, reply.Raw)
	assert.Empty(t, h.Get("In-Reply-To"))
	assert.Empty(t, h.Get("References"))
}

func TestComposeFixedSubjectAndMarkdown(t *testing.T) {
	msg := &models.InboundMessage{MessageID: "a@b", From: "carol@example.org", Subject: "anything", Body: "hi"}
	tmpl := models.ReplyTemplate{Content: "**Out of office** until Monday", Subject: "Auto reply", Format: "markdown"}

	reply, err := testComposer().Compose(testAccount(), tmpl, msg)
	require.NoError(t, err)
	assert.Equal(t, "Auto reply", reply.Subject)
	assert.Contains(t, reply.HTML, "<strong>Out of office</strong>")
	assert.Contains(t, reply.Text, "**Out of office** until Monday")
}

func TestComposeHTMLOriginal(t *testing.T) {
	msg := &models.InboundMessage{
		MessageID:  "h@b",
		From:       "dave@example.org",
		Subject:    "html",
		Body:       `<p>Hello <b>there</b></p><script>alert(1)</script>`,
		BodyIsHTML: true,
	}
	reply, err := testComposer().Compose(testAccount(), models.ReplyTemplate{Content: "ok"}, msg)
	require.NoError(t, err)

	assert.Contains(t, reply.HTML, "<b>there</b>")
	assert.NotContains(t, reply.HTML, "<script>")
	assert.Contains(t, reply.Text, "> Hello there")
	assert.NotContains(t, reply.Text, "<p>")
}

func TestComposeEscapesTemplateText(t *testing.T) {
	msg := &models.InboundMessage{MessageID: "e@b", From: "eve@example.org", Subject: "<x>", Body: "a < b"}
	reply, err := testComposer().Compose(testAccount(), models.ReplyTemplate{Content: "<b>not bold</b>"}, msg)
	require.NoError(t, err)

	assert.Contains(t, reply.HTML, "&lt;b&gt;not bold&lt;/b&gt;")
	assert.Contains(t, reply.HTML, "a &lt; b")
	assert.Contains(t, reply.HTML, "&lt;x&gt;")
}

func TestComposeRequiresSender(t *testing.T) {
	_, err := testComposer().Compose(testAccount(), models.ReplyTemplate{Content: "x"}, &models.InboundMessage{Subject: "s"})
	require.Error(t, err)
	_, err = testComposer().Compose(testAccount(), models.ReplyTemplate{Content: "x"}, nil)
	require.Error(t, err)
}
