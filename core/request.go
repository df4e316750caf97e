package core

import (
	"fmt"
	"net"
	"net/http"
	"net/mail"
	"strings"
)

// ValidateEmail checks if an email address is valid according to RFC 5322
// Returns nil if valid, or an error describing why the email is invalid
func ValidateEmail(email string) error {
	_, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

// GetClientIP returns the request's client address, trusting
// Server.ClientIpProxyHeader (if configured) over r.RemoteAddr. When the
// header carries a comma-separated forwarding chain, the first (original
// client) entry is used.
func (a *App) GetClientIP(r *http.Request) string {
	if header := a.Config().Server.ClientIpProxyHeader; header != "" {
		if value := r.Header.Get(header); value != "" {
			ip := strings.TrimSpace(strings.SplitN(value, ",", 2)[0])
			if ip != "" {
				return ip
			}
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

