// Package email holds settings shared by the inbound and outbound mail paths.
package email

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// TLSMode selects how a mail session is secured.
type TLSMode string

const (
	TLSImplicit TLSMode = "tls"
	TLSStartTLS TLSMode = "starttls"
	TLSNone     TLSMode = "none"
)

// ParseTLSMode maps configuration values onto a TLSMode. Empty means implicit TLS.
func ParseTLSMode(value string) (TLSMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "tls", "ssl", "implicit":
		return TLSImplicit, nil
	case "starttls":
		return TLSStartTLS, nil
	case "none", "plain", "insecure":
		return TLSNone, nil
	default:
		return "", fmt.Errorf("unknown tls mode %q", value)
	}
}

// IMAPPort is the conventional IMAP port for the mode.
func (m TLSMode) IMAPPort() int {
	if m == TLSImplicit || m == "" {
		return 993
	}
	return 143
}

// SMTPPort is the conventional submission port for the mode.
func (m TLSMode) SMTPPort() int {
	switch m {
	case TLSStartTLS:
		return 587
	case TLSNone:
		return 25
	default:
		return 465
	}
}

// ClientTLSConfig returns the client TLS settings for host.
func ClientTLSConfig(host string, insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // operator opt-in
	}
}
