package postmaster

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/autoreply/internal/email/inbound/connector"
	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/models"
)

var (
	fixedNow    = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	testAccount = models.EmailAccount{Email: "support@example.com", Password: "pw"}
	testTmpl    = models.ReplyTemplate{Content: "Thanks, we got your mail."}
)

const plainMail = "From: Alice Example <alice@example.org>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: Order 42\r\n" +
	"Message-ID: <order-42@example.org>\r\n" +
	"Date: Sat, 31 May 2025 10:00:00 +0200\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Where is my order?\r\n"

func fetched(raw string) *connector.FetchedMessage {
	return &connector.FetchedMessage{Folder: "INBOX", SeqNum: 3, UID: 42, Raw: []byte(raw)}
}

type memoryStore struct {
	mu       sync.Mutex
	records  map[string]models.ProcessedRecord
	hasErr   error
	markErr  error
	hasCalls []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]models.ProcessedRecord{}}
}

func (s *memoryStore) HasProcessed(_ context.Context, account, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasCalls = append(s.hasCalls, id)
	if s.hasErr != nil {
		return false, s.hasErr
	}
	_, ok := s.records[account+"|"+id]
	return ok, nil
}

func (s *memoryStore) MarkProcessed(ctx context.Context, rec models.ProcessedRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s.markErr != nil {
		return false, s.markErr
	}
	key := rec.Account + "|" + rec.MessageID
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = rec
	return true, nil
}

type stubReplier struct {
	mu     sync.Mutex
	err    error
	onSend func()
	sent  []*models.InboundMessage
	tmpls []models.ReplyTemplate
}

func (r *stubReplier) Reply(_ context.Context, _ models.EmailAccount, tmpl models.ReplyTemplate, msg *models.InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	r.tmpls = append(r.tmpls, tmpl)
	if r.onSend != nil {
		r.onSend()
	}
	return nil
}

func newTestService(t *testing.T, store *memoryStore, replier *stubReplier) (*Service, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New()
	require.NoError(t, err)
	return NewService(store, replier, l, WithClock(func() time.Time { return fixedNow })), l
}

func TestHandleRepliesAndRecords(t *testing.T) {
	store := newMemoryStore()
	replier := &stubReplier{}
	svc, l := newTestService(t, store, replier)

	outcome := svc.Handler(testTmpl).Handle(context.Background(), testAccount, fetched(plainMail))
	require.Equal(t, connector.OutcomeReplied, outcome)

	require.Len(t, replier.sent, 1)
	msg := replier.sent[0]
	assert.Equal(t, "order-42@example.org", msg.MessageID)
	assert.False(t, msg.Synthesized)
	assert.Equal(t, "alice@example.org", msg.From)
	assert.Equal(t, "Alice Example", msg.FromName)
	assert.Equal(t, "Order 42", msg.Subject)
	assert.Equal(t, "Where is my order?\r\n", msg.Body)
	assert.Equal(t, models.TemplateFormatText, replier.tmpls[0].Format)

	rec, ok := store.records["support@example.com|order-42@example.org"]
	require.True(t, ok)
	assert.Equal(t, "alice@example.org", rec.Sender)
	assert.Equal(t, "Order 42", rec.Subject)
	assert.Equal(t, fixedNow, rec.ProcessedAt)

	var info []string
	for _, e := range l.ByLevel(ledger.LevelInfo) {
		info = append(info, e.Message)
	}
	assert.Contains(t, info, "processing message from alice@example.org: Order 42")
	assert.Contains(t, info, "auto-reply sent to alice@example.org")
	assert.Empty(t, l.ByLevel(ledger.LevelError))
}

func TestHandleRecordsReplyAfterCallerCancels(t *testing.T) {
	store := newMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	replier := &stubReplier{onSend: cancel}
	svc, l := newTestService(t, store, replier)
	handler := svc.Handler(testTmpl)

	require.Equal(t, connector.OutcomeReplied, handler.Handle(ctx, testAccount, fetched(plainMail)))
	require.Error(t, ctx.Err())

	done, err := store.HasProcessed(context.Background(), testAccount.Email, "order-42@example.org")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, l.ByLevel(ledger.LevelError))

	assert.Equal(t, connector.OutcomeDuplicate, handler.Handle(context.Background(), testAccount, fetched(plainMail)))
	assert.Len(t, replier.sent, 1)
}

func TestHandleIsIdempotentAcrossRuns(t *testing.T) {
	store := newMemoryStore()
	replier := &stubReplier{}
	svc, l := newTestService(t, store, replier)
	h := svc.Handler(testTmpl)

	require.Equal(t, connector.OutcomeReplied, h.Handle(context.Background(), testAccount, fetched(plainMail)))
	before := store.records["support@example.com|order-42@example.org"]

	require.Equal(t, connector.OutcomeDuplicate, h.Handle(context.Background(), testAccount, fetched(plainMail)))
	assert.Len(t, replier.sent, 1)
	assert.Equal(t, before, store.records["support@example.com|order-42@example.org"])
	assert.Equal(t, "message from alice@example.org already processed, skipping", l.Recent(1)[0].Message)
}

func TestHandleSendFailureLeavesMessageUnprocessed(t *testing.T) {
	store := newMemoryStore()
	replier := &stubReplier{err: errors.New("smtp auth: 535 bad credentials")}
	svc, l := newTestService(t, store, replier)

	outcome := svc.Handle(context.Background(), testAccount, testTmpl, fetched(plainMail))
	assert.Equal(t, connector.OutcomeFailed, outcome)
	assert.Empty(t, store.records)

	errs := l.ByLevel(ledger.LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "alice@example.org")
	assert.Contains(t, errs[0].Message, `"Order 42"`)

	replier.err = nil
	assert.Equal(t, connector.OutcomeReplied, svc.Handle(context.Background(), testAccount, testTmpl, fetched(plainMail)))
	assert.Len(t, store.records, 1)
}

func TestHandleSynthesizesMissingMessageID(t *testing.T) {
	raw := "From: bob@example.org\r\nSubject: no id\r\n\r\nbody\r\n"
	store := newMemoryStore()
	replier := &stubReplier{}
	svc, _ := newTestService(t, store, replier)

	require.Equal(t, connector.OutcomeReplied, svc.Handle(context.Background(), testAccount, testTmpl, fetched(raw)))

	want := SynthesizeMessageID("INBOX", fixedNow, 3)
	assert.Equal(t, "INBOX-1748764800000-3", want)
	require.Len(t, replier.sent, 1)
	assert.True(t, replier.sent[0].Synthesized)
	assert.Equal(t, want, replier.sent[0].MessageID)
	assert.Equal(t, []string{want}, store.hasCalls)
	_, ok := store.records["support@example.com|"+want]
	assert.True(t, ok)
}

func TestHandleParseFailure(t *testing.T) {
	store := newMemoryStore()
	replier := &stubReplier{}
	svc, l := newTestService(t, store, replier)

	outcome := svc.Handle(context.Background(), testAccount, testTmpl, fetched("this is not a header line\r\n\r\nbody"))
	assert.Equal(t, connector.OutcomeFailed, outcome)
	assert.Empty(t, store.hasCalls)
	assert.Empty(t, replier.sent)
	errs := l.ByLevel(ledger.LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "failed to parse message INBOX/42")
}

func TestHandleTruncatedMultipartIsParseFailure(t *testing.T) {
	store := newMemoryStore()
	replier := &stubReplier{}
	svc, l := newTestService(t, store, replier)

	raw := "From: alice@example.org\r\n" +
		"Message-ID: <cut-1@example.org>\r\n" +
		"Subject: cut off\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
		"\r\n" +
		"preamble only, the parts never arrived\r\n"

	outcome := svc.Handle(context.Background(), testAccount, testTmpl, fetched(raw))
	assert.Equal(t, connector.OutcomeFailed, outcome)
	assert.Empty(t, replier.sent)
	assert.Empty(t, store.records)
	errs := l.ByLevel(ledger.LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "failed to parse message")
}

func TestHandleSkipsAutomatedMail(t *testing.T) {
	raw := "From: bob@example.org\r\nSubject: Out of office\r\nAuto-Submitted: auto-replied\r\nMessage-ID: <ooo@example.org>\r\n\r\naway\r\n"
	store := newMemoryStore()
	replier := &stubReplier{}
	svc, l := newTestService(t, store, replier)

	assert.Equal(t, connector.OutcomeSkipped, svc.Handle(context.Background(), testAccount, testTmpl, fetched(raw)))
	assert.Empty(t, replier.sent)
	assert.Empty(t, store.records)
	assert.Contains(t, l.Recent(1)[0].Message, "auto-submitted")
}

func TestHandleStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.hasErr = errors.New("db down")
	replier := &stubReplier{}
	svc, l := newTestService(t, store, replier)

	assert.Equal(t, connector.OutcomeFailed, svc.Handle(context.Background(), testAccount, testTmpl, fetched(plainMail)))
	assert.Empty(t, replier.sent)

	store.hasErr = nil
	store.markErr = errors.New("disk full")
	assert.Equal(t, connector.OutcomeReplied, svc.Handle(context.Background(), testAccount, testTmpl, fetched(plainMail)))
	errs := l.ByLevel(ledger.LevelError)
	require.Len(t, errs, 2)
	assert.True(t, strings.HasPrefix(errs[0].Message, "auto-reply sent to alice@example.org but recording it failed"))
}

func TestParserBodySelection(t *testing.T) {
	alternative := "From: carol@example.org\r\n" +
		"Subject: =?UTF-8?B?5L2g5aW9?=\r\n" +
		"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		"<p>rich</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"plain\r\n" +
		"--XYZ--\r\n"
	p := NewParser(func() time.Time { return fixedNow })

	msg, err := p.Parse(fetched(alternative))
	require.NoError(t, err)
	assert.Equal(t, "你好", msg.Subject)
	assert.Equal(t, "plain", strings.TrimSpace(msg.Body))
	assert.False(t, msg.BodyIsHTML)
	assert.Equal(t, "carol@example.org", msg.FromName)

	htmlOnly := "From: carol@example.org\r\nContent-Type: text/html; charset=utf-8\r\n\r\n<p>only html</p>\r\n"
	msg, err = p.Parse(fetched(htmlOnly))
	require.NoError(t, err)
	assert.True(t, msg.BodyIsHTML)
	assert.Contains(t, msg.Body, "<p>only html</p>")
	assert.Equal(t, NoSubject, msg.Subject)
	assert.Equal(t, fixedNow, msg.Date)
}

func TestParserLegacyCharsetAndInternalDate(t *testing.T) {
	raw := "From: =?gb2312?B?1cXI/Q==?= <zhang@example.cn>\r\n" +
		"Subject: hello\r\n" +
		"Content-Type: text/plain; charset=gb2312\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"=C4=E3=BA=C3\r\n"
	internal := time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)
	msg, err := NewParser(nil).Parse(&connector.FetchedMessage{Folder: "Junk", SeqNum: 1, Raw: []byte(raw), InternalDate: internal})
	require.NoError(t, err)

	assert.Equal(t, "张三", msg.FromName)
	assert.Equal(t, "zhang@example.cn", msg.From)
	assert.Equal(t, "你好", strings.TrimSpace(msg.Body))
	assert.Equal(t, internal, msg.Date)
	assert.Equal(t, "Junk", msg.Folder)
	assert.True(t, msg.Synthesized)
	assert.True(t, strings.HasPrefix(msg.MessageID, "Junk-"))
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "abc@host", normalizeMessageID(" <abc@host> "))
	assert.Equal(t, "abc@host", normalizeMessageID("abc@host"))
	assert.Equal(t, "", normalizeMessageID(""))
}
