package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/autoreply/internal/cache"
	"github.com/gotrs-io/autoreply/internal/email/inbound/connector"
	"github.com/gotrs-io/autoreply/internal/email/inbound/postmaster"
	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/models"
)

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type staticAccounts struct {
	accounts []models.EmailAccount
	err      error
}

func (s staticAccounts) ListActive(context.Context) ([]models.EmailAccount, error) {
	return s.accounts, s.err
}

type staticTemplate struct {
	tmpl *models.ReplyTemplate
	err  error
}

func (s staticTemplate) Get(context.Context) (*models.ReplyTemplate, error) { return s.tmpl, s.err }

// scriptedFetcher hands each account's raw messages to the handler, the way
// the IMAP engine would after a successful search and fetch.
type scriptedFetcher struct {
	mu       sync.Mutex
	messages map[string][]string
	errs     map[string]error
	panics   map[string]bool
	calls    []string
	active   int32
	overlap  int32
	delay    time.Duration
}

func (f *scriptedFetcher) Fetch(ctx context.Context, account models.EmailAccount, handler connector.Handler) (connector.Report, error) {
	if atomic.AddInt32(&f.active, 1) > 1 {
		atomic.StoreInt32(&f.overlap, 1)
	}
	defer atomic.AddInt32(&f.active, -1)

	f.mu.Lock()
	f.calls = append(f.calls, account.Email)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics[account.Email] {
		panic("imap client exploded")
	}
	if err := f.errs[account.Email]; err != nil {
		return connector.Report{}, err
	}

	var report connector.Report
	report.FoldersVisited = 1
	for i, raw := range f.messages[account.Email] {
		msg := &connector.FetchedMessage{Folder: "INBOX", SeqNum: uint32(i + 1), UID: uint32(100 + i), Raw: []byte(raw)}
		report.Messages++
		switch handler.Handle(ctx, account, msg) {
		case connector.OutcomeReplied:
			report.Replied++
		case connector.OutcomeDuplicate:
			report.Duplicates++
		case connector.OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	return report, nil
}

func (f *scriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type memoryStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *memoryStore) HasProcessed(_ context.Context, account, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[account+"|"+id], nil
}

func (s *memoryStore) MarkProcessed(_ context.Context, rec models.ProcessedRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Account + "|" + rec.MessageID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

type countingReplier struct {
	mu   sync.Mutex
	sent []string
}

func (r *countingReplier) Reply(_ context.Context, account models.EmailAccount, _ models.ReplyTemplate, msg *models.InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, account.Email+"->"+msg.From)
	return nil
}

type recordingStatus struct {
	mu       sync.Mutex
	statuses []cache.PollStatus
	err      error
}

func (r *recordingStatus) Save(_ context.Context, st cache.PollStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
	return r.err
}

func rawMessage(id, from, subject string) string {
	return fmt.Sprintf("From: %s\r\nTo: help@example.com\r\nSubject: %s\r\nMessage-ID: <%s>\r\nDate: Sun, 01 Jun 2025 07:00:00 +0000\r\n\r\nHello there\r\n", from, subject, id)
}

var helpAccount = models.EmailAccount{ID: 1, Email: "help@example.com", IMAPHost: "imap.example.com", SMTPHost: "smtp.example.com", Password: "pw", IsActive: true}

type harness struct {
	svc     *Service
	ledger  *ledger.Ledger
	fetcher *scriptedFetcher
	replier *countingReplier
	store   *memoryStore
	status  *recordingStatus
	metrics *Metrics
}

func newHarness(t *testing.T, accounts AccountSource, templates TemplateSource, fetcher *scriptedFetcher) *harness {
	t.Helper()
	lg, err := ledger.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = lg.Close() })

	store := &memoryStore{seen: map[string]bool{}}
	replier := &countingReplier{}
	workflow := postmaster.NewService(store, replier, lg, postmaster.WithClock(func() time.Time { return fixedNow }))
	status := &recordingStatus{}
	metrics := NewMetrics(prometheus.NewRegistry())

	svc := NewService(accounts, templates, fetcher, workflow, lg,
		WithStatusRecorder(status),
		WithMetrics(metrics),
		WithClock(func() time.Time { return fixedNow }),
	)
	return &harness{svc: svc, ledger: lg, fetcher: fetcher, replier: replier, store: store, status: status, metrics: metrics}
}

func messagesOf(entries []ledger.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestRunRepliesToEveryUnseenMessage(t *testing.T) {
	fetcher := &scriptedFetcher{messages: map[string][]string{
		helpAccount.Email: {
			rawMessage("one@example.org", "alice@example.org", "Question"),
			rawMessage("two@example.org", "bob@example.org", "Another question"),
		},
	}}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{helpAccount}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks, we will get back to you."}}, fetcher)

	sum := h.svc.Run(context.Background(), OriginManual)

	require.True(t, sum.Success)
	assert.Equal(t, "email processing finished", sum.Message)
	assert.Empty(t, sum.Error)
	assert.Equal(t, 1, sum.Accounts)
	assert.Equal(t, 0, sum.FailedAccounts)
	assert.Equal(t, 2, sum.Replies)
	assert.Equal(t, fixedNow, sum.StartedAt)
	assert.Len(t, h.replier.sent, 2)

	entries := h.ledger.All()
	assert.GreaterOrEqual(t, len(entries), 5)
	assert.Empty(t, h.ledger.ByLevel(ledger.LevelError))
	msgs := messagesOf(entries)
	assert.Contains(t, msgs, "starting manual email processing")
	assert.Contains(t, msgs, "processing 1 email account(s)")
	assert.Contains(t, msgs, "all mailboxes processed")
	assert.Equal(t, "email processing finished", entries[0].Message, "newest entry closes the run")

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("manual", "success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.MessagesTotal.WithLabelValues("replied")))
	assert.Equal(t, float64(fixedNow.Unix()), testutil.ToFloat64(h.metrics.LastSuccessTime))

	require.Len(t, h.status.statuses, 1)
	assert.Equal(t, cache.PollStatusOK, h.status.statuses[0].Status)
	assert.Equal(t, 2, h.status.statuses[0].Replied)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	fetcher := &scriptedFetcher{messages: map[string][]string{
		helpAccount.Email: {rawMessage("one@example.org", "alice@example.org", "Question")},
	}}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{helpAccount}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks"}}, fetcher)

	first := h.svc.Run(context.Background(), OriginManual)
	second := h.svc.Run(context.Background(), OriginScheduled)

	assert.Equal(t, 1, first.Replies)
	assert.Equal(t, 0, second.Replies)
	assert.True(t, second.Success)
	assert.Len(t, h.replier.sent, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.MessagesTotal.WithLabelValues("duplicate")))
}

func TestRunWithoutTemplateContactsNoServer(t *testing.T) {
	fetcher := &scriptedFetcher{}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{helpAccount}}, staticTemplate{}, fetcher)

	sum := h.svc.Run(context.Background(), OriginManual)

	assert.False(t, sum.Success)
	assert.ErrorIs(t, sum.Err, ErrNoTemplate)
	assert.Equal(t, "no reply content configured", sum.Message)
	assert.False(t, sum.Aborted())
	assert.Empty(t, fetcher.Calls())

	warnings := h.ledger.ByLevel(ledger.LevelWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "no reply content configured", warnings[0].Message)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunsTotal.WithLabelValues("manual", "failed")))
}

func TestRunWithBlankTemplateIsTreatedAsMissing(t *testing.T) {
	fetcher := &scriptedFetcher{}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{helpAccount}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "  \n"}}, fetcher)

	sum := h.svc.Run(context.Background(), OriginManual)
	assert.ErrorIs(t, sum.Err, ErrNoTemplate)
	assert.Empty(t, fetcher.Calls())
}

func TestRunWithoutActiveAccounts(t *testing.T) {
	inactive := helpAccount
	inactive.IsActive = false
	fetcher := &scriptedFetcher{}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{inactive}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks"}}, fetcher)

	sum := h.svc.Run(context.Background(), OriginScheduled)

	assert.False(t, sum.Success)
	assert.ErrorIs(t, sum.Err, ErrNoAccounts)
	assert.Empty(t, fetcher.Calls())
	warnings := h.ledger.ByLevel(ledger.LevelWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "scheduled run: no email accounts configured", warnings[0].Message)
	assert.Equal(t, "scheduled run: starting email processing", h.ledger.ByLevel(ledger.LevelInfo)[0].Message)
}

func TestRunIsolatesAccountFailures(t *testing.T) {
	broken := models.EmailAccount{ID: 2, Email: "broken@example.com", Password: "pw", IsActive: true}
	exploding := models.EmailAccount{ID: 3, Email: "panic@example.com", Password: "pw", IsActive: true}
	fetcher := &scriptedFetcher{
		errs:   map[string]error{broken.Email: errors.New("imap auth broken@example.com: invalid credentials")},
		panics: map[string]bool{exploding.Email: true},
		messages: map[string][]string{
			helpAccount.Email: {rawMessage("one@example.org", "alice@example.org", "Question")},
		},
	}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{broken, exploding, helpAccount}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks"}}, fetcher)

	sum := h.svc.Run(context.Background(), OriginManual)

	assert.True(t, sum.Success)
	assert.Equal(t, 3, sum.Accounts)
	assert.Equal(t, 2, sum.FailedAccounts)
	assert.Equal(t, "email processing finished, 2 of 3 account(s) failed", sum.Message)
	assert.Equal(t, 1, sum.Replies)
	assert.Equal(t, []string{broken.Email, exploding.Email, helpAccount.Email}, fetcher.Calls())

	errs := h.ledger.ByLevel(ledger.LevelError)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[1].Message, "invalid credentials")
	assert.Equal(t, broken.Email, errs[1].AccountName())
	assert.Contains(t, errs[0].Message, "panic: imap client exploded")
	assert.Equal(t, exploding.Email, errs[0].AccountName())

	require.Len(t, h.status.statuses, 3)
	assert.Equal(t, cache.PollStatusError, h.status.statuses[0].Status)
	assert.Contains(t, h.status.statuses[0].Error, "invalid credentials")
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.AccountPolls.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.AccountPolls.WithLabelValues("success")))
}

func TestRunSourceErrorAbortsRun(t *testing.T) {
	fetcher := &scriptedFetcher{}
	h := newHarness(t, staticAccounts{err: errors.New("database is locked")},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks"}}, fetcher)

	sum := h.svc.Run(context.Background(), OriginManual)

	assert.False(t, sum.Success)
	assert.True(t, sum.Aborted())
	assert.Contains(t, sum.Error, "database is locked")
	assert.Empty(t, fetcher.Calls())
	errs := h.ledger.ByLevel(ledger.LevelError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "error while processing emails")
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	fetcher := &scriptedFetcher{}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{helpAccount}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks"}}, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := h.svc.Run(ctx, OriginManual)

	assert.False(t, sum.Success)
	assert.ErrorIs(t, sum.Err, context.Canceled)
	assert.Empty(t, fetcher.Calls())
}

func TestRunsAreSerialised(t *testing.T) {
	fetcher := &scriptedFetcher{delay: 20 * time.Millisecond}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{helpAccount}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks"}}, fetcher)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.svc.Run(context.Background(), OriginScheduled)
		}()
	}
	wg.Wait()

	assert.Len(t, fetcher.Calls(), 4)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fetcher.overlap), "runs must not overlap")
}

func TestStatusRecorderFailureDoesNotFailRun(t *testing.T) {
	fetcher := &scriptedFetcher{}
	h := newHarness(t, staticAccounts{accounts: []models.EmailAccount{helpAccount}},
		staticTemplate{tmpl: &models.ReplyTemplate{Content: "Thanks"}}, fetcher)
	h.status.err = errors.New("redis down")

	sum := h.svc.Run(context.Background(), OriginManual)
	assert.True(t, sum.Success)
	assert.Empty(t, h.ledger.ByLevel(ledger.LevelError))
}
