package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/gotrs-io/autoreply/internal/email"
	"github.com/gotrs-io/autoreply/internal/ledger"
	"github.com/gotrs-io/autoreply/internal/models"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	Unselect() commandWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPFetcher walks the configured folders of an account and hands every
// unseen message to a Handler.
type IMAPFetcher struct {
	folders            []string
	tlsMode            email.TLSMode
	insecureSkipVerify bool
	dialTimeout        time.Duration
	commandTimeout     time.Duration
	workers            int
	now                func() time.Time
	events             ledger.Logger
	logger             *zap.Logger
	newClient          func(ctx context.Context, account models.EmailAccount) (imapClient, error)
}

// IMAPFetcherOption customizes fetcher behavior.
type IMAPFetcherOption func(*IMAPFetcher)

// NewIMAPFetcher returns a fetcher for INBOX then Junk over implicit TLS.
func NewIMAPFetcher(opts ...IMAPFetcherOption) *IMAPFetcher {
	f := &IMAPFetcher{
		folders:        append([]string(nil), DefaultFolders...),
		tlsMode:        email.TLSImplicit,
		dialTimeout:    10 * time.Second,
		commandTimeout: 30 * time.Second,
		workers:        4,
		now:            time.Now,
		events:         discardEvents{},
		logger:         zap.NewNop(),
	}
	f.newClient = f.defaultClientFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newClient == nil {
		f.newClient = f.defaultClientFactory
	}
	return f
}

// WithIMAPFolders sets the ordered folder list. Duplicates and blanks are dropped.
func WithIMAPFolders(folders ...string) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		seen := make(map[string]struct{}, len(folders))
		var out []string
		for _, name := range folders {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
		if len(out) > 0 {
			f.folders = out
		}
	}
}

// WithIMAPTLSMode selects implicit TLS, STARTTLS or a plain session.
func WithIMAPTLSMode(mode email.TLSMode) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if mode != "" {
			f.tlsMode = mode
		}
	}
}

// WithIMAPInsecureSkipVerify disables certificate verification.
func WithIMAPInsecureSkipVerify(skip bool) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.insecureSkipVerify = skip
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithIMAPCommandTimeout bounds every protocol round trip.
func WithIMAPCommandTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.commandTimeout = timeout
		}
	}
}

// WithIMAPWorkers caps concurrent per-message workflows within a folder.
func WithIMAPWorkers(n int) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// WithIMAPEvents sets the operational event sink.
func WithIMAPEvents(events ledger.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if events != nil {
			f.events = events
		}
	}
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *zap.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func withIMAPClientFactory(factory func(context.Context, models.EmailAccount) (imapClient, error)) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.newClient = factory
	}
}

// Folders returns the ordered folder list.
func (f *IMAPFetcher) Folders() []string {
	return append([]string(nil), f.folders...)
}

// Fetch runs one traversal. Connect and login failures are returned; every
// other failure is logged and the traversal moves on.
func (f *IMAPFetcher) Fetch(ctx context.Context, account models.EmailAccount, handler Handler) (Report, error) {
	if handler == nil {
		return Report{}, errors.New("imap fetcher requires a handler")
	}
	if err := validateIMAPAccount(account); err != nil {
		return Report{}, err
	}
	t := &traversal{
		f:       f,
		ctx:     ctx,
		account: account,
		handler: handler,
	}
	return t.run()
}

func (f *IMAPFetcher) defaultClientFactory(ctx context.Context, account models.EmailAccount) (imapClient, error) {
	if account.IMAPHost == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.IMAPPort
	if port == 0 {
		port = f.tlsMode.IMAPPort()
	}
	opts := &imapclient.Options{
		Dialer:    &net.Dialer{Timeout: f.dialTimeout},
		TLSConfig: email.ClientTLSConfig(account.IMAPHost, f.insecureSkipVerify),
	}
	addr := net.JoinHostPort(account.IMAPHost, strconv.Itoa(port))

	type dialResult struct {
		client *imapclient.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		var r dialResult
		switch f.tlsMode {
		case email.TLSStartTLS:
			r.client, r.err = imapclient.DialStartTLS(addr, opts)
		case email.TLSNone:
			r.client, r.err = imapclient.DialInsecure(addr, opts)
		default:
			r.client, r.err = imapclient.DialTLS(addr, opts)
		}
		done <- r
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &imapClientWrapper{Client: r.client}, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter   { return w.Client.Logout() }
func (w *imapClientWrapper) Unselect() commandWaiter { return w.Client.Unselect() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}

func validateIMAPAccount(account models.EmailAccount) error {
	if strings.TrimSpace(account.Email) == "" {
		return errors.New("imap account missing address")
	}
	if account.Password == "" {
		return fmt.Errorf("imap account %s missing password", account.Email)
	}
	return nil
}

type discardEvents struct{}

func (discardEvents) Info(string, string, ...any)  {}
func (discardEvents) Warn(string, string, ...any)  {}
func (discardEvents) Error(string, string, ...any) {}

var _ Fetcher = (*IMAPFetcher)(nil)
