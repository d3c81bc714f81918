package outbound

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/gotrs-io/autoreply/internal/email"
	"github.com/gotrs-io/autoreply/internal/models"
)

// Sender transmits a composed reply.
type Sender interface {
	Send(ctx context.Context, account models.EmailAccount, reply *Reply) error
}

type smtpClient interface {
	Hello(localName string) error
	Auth(a sasl.Client) error
	Mail(from string, opts *smtp.MailOptions) error
	Rcpt(to string, opts *smtp.RcptOptions) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// DispatchError records which protocol stage failed.
type DispatchError struct {
	Stage string
	Err   error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("smtp %s: %v", e.Stage, e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }

// IsTemporary reports whether err is a 4xx SMTP reply or a transport error.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return smtpErr.Temporary()
	}
	return true
}

// SMTPDispatcher sends replies through the account's outbound server.
type SMTPDispatcher struct {
	tlsMode            email.TLSMode
	insecureSkipVerify bool
	dialTimeout        time.Duration
	commandTimeout     time.Duration
	localName          string
	newClient          func(ctx context.Context, account models.EmailAccount) (smtpClient, error)
}

// SMTPOption customizes dispatcher behavior.
type SMTPOption func(*SMTPDispatcher)

// WithSMTPTLSMode selects implicit TLS, STARTTLS or a plain session.
func WithSMTPTLSMode(mode email.TLSMode) SMTPOption {
	return func(d *SMTPDispatcher) {
		if mode != "" {
			d.tlsMode = mode
		}
	}
}

// WithSMTPInsecureSkipVerify disables certificate verification.
func WithSMTPInsecureSkipVerify(skip bool) SMTPOption {
	return func(d *SMTPDispatcher) {
		d.insecureSkipVerify = skip
	}
}

// WithSMTPDialTimeout overrides the socket dial timeout.
func WithSMTPDialTimeout(timeout time.Duration) SMTPOption {
	return func(d *SMTPDispatcher) {
		if timeout > 0 {
			d.dialTimeout = timeout
		}
	}
}

// WithSMTPCommandTimeout bounds each SMTP command round trip.
func WithSMTPCommandTimeout(timeout time.Duration) SMTPOption {
	return func(d *SMTPDispatcher) {
		if timeout > 0 {
			d.commandTimeout = timeout
		}
	}
}

// WithSMTPLocalName sets the EHLO name.
func WithSMTPLocalName(name string) SMTPOption {
	return func(d *SMTPDispatcher) {
		d.localName = strings.TrimSpace(name)
	}
}

func withSMTPClientFactory(factory func(context.Context, models.EmailAccount) (smtpClient, error)) SMTPOption {
	return func(d *SMTPDispatcher) {
		d.newClient = factory
	}
}

// NewSMTPDispatcher returns a dispatcher using implicit TLS by default.
func NewSMTPDispatcher(opts ...SMTPOption) *SMTPDispatcher {
	d := &SMTPDispatcher{
		tlsMode:        email.TLSImplicit,
		dialTimeout:    10 * time.Second,
		commandTimeout: 30 * time.Second,
	}
	d.newClient = d.defaultClientFactory
	for _, opt := range opts {
		opt(d)
	}
	if d.newClient == nil {
		d.newClient = d.defaultClientFactory
	}
	return d
}

// Send opens a session, authenticates and submits the reply. Nothing is retried.
func (d *SMTPDispatcher) Send(ctx context.Context, account models.EmailAccount, reply *Reply) error {
	if reply == nil || len(reply.Raw) == 0 {
		return errors.New("smtp: empty reply")
	}
	c, err := d.newClient(ctx, account)
	if err != nil {
		return &DispatchError{Stage: "connect", Err: err}
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if d.localName != "" {
		if err := c.Hello(d.localName); err != nil {
			return &DispatchError{Stage: "hello", Err: err}
		}
	}
	if account.Password != "" {
		if err := c.Auth(sasl.NewPlainClient("", account.Email, account.Password)); err != nil {
			return &DispatchError{Stage: "auth", Err: err}
		}
	}
	if err := c.Mail(reply.From, nil); err != nil {
		return &DispatchError{Stage: "mail from", Err: err}
	}
	if err := c.Rcpt(reply.To, nil); err != nil {
		return &DispatchError{Stage: "rcpt to", Err: err}
	}
	wc, err := c.Data()
	if err != nil {
		return &DispatchError{Stage: "data", Err: err}
	}
	if _, err := wc.Write(reply.Raw); err != nil {
		_ = wc.Close()
		return &DispatchError{Stage: "write", Err: err}
	}
	if err := wc.Close(); err != nil {
		return &DispatchError{Stage: "data", Err: err}
	}
	// The message is accepted once DATA completes.
	_ = c.Quit()
	return nil
}

func (d *SMTPDispatcher) defaultClientFactory(ctx context.Context, account models.EmailAccount) (smtpClient, error) {
	if account.SMTPHost == "" {
		return nil, errors.New("account missing smtp host")
	}
	port := account.SMTPPort
	if port == 0 {
		port = d.tlsMode.SMTPPort()
	}
	addr := net.JoinHostPort(account.SMTPHost, strconv.Itoa(port))
	tlsConfig := email.ClientTLSConfig(account.SMTPHost, d.insecureSkipVerify)

	dialer := &net.Dialer{Timeout: d.dialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if d.tlsMode == email.TLSImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	var c *smtp.Client
	if d.tlsMode == email.TLSStartTLS {
		// The greeting and handshake run before CommandTimeout applies.
		_ = conn.SetDeadline(time.Now().Add(d.commandTimeout))
		c, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("starttls: %w", err)
		}
		_ = conn.SetDeadline(time.Time{})
	} else {
		c = smtp.NewClient(conn)
	}
	c.CommandTimeout = d.commandTimeout
	c.SubmissionTimeout = d.commandTimeout
	return &goSMTPClient{Client: c}, nil
}

type goSMTPClient struct{ *smtp.Client }

func (c *goSMTPClient) Data() (io.WriteCloser, error) {
	return c.Client.Data()
}
