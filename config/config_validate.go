package config

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Validate checks the entire configuration for correctness.
// It aggregates validation checks from different parts of the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := validateBlockUaList(&cfg.BlockUaList); err != nil {
		return fmt.Errorf("block_ua_list config validation failed: %w", err)
	}
	if err := validateBlockHost(&cfg.BlockHost); err != nil {
		return fmt.Errorf("block_host config validation failed: %w", err)
	}
	if err := validateBlockRequestBody(&cfg.BlockRequestBody); err != nil {
		return fmt.Errorf("block_request_body config validation failed: %w", err)
	}
	if err := validateNotifier(&cfg.Notifier); err != nil {
		return fmt.Errorf("notifier config validation failed: %w", err)
	}
	if err := validateLoggerBatch(&cfg.Log.Batch); err != nil {
		return fmt.Errorf("logger_batch config validation failed: %w", err)
	}
	if err := validateRequestLog(&cfg.Log.Request); err != nil {
		return fmt.Errorf("request_log config validation failed: %w", err)
	}
	if err := validateBlockIp(&cfg.BlockIp); err != nil {
		return fmt.Errorf("block_ip config validation failed: %w", err)
	}
	if err := validateCache(&cfg.Cache); err != nil {
		return fmt.Errorf("cache config validation failed: %w", err)
	}
	return nil
}

// validateBlockIp checks the BlockIp configuration section.
func validateBlockIp(blockIp *BlockIp) error {
	if !blockIp.Enabled {
		return nil
	}

	if blockIp.Level == "" {
		return fmt.Errorf("block_ip.level cannot be empty")
	}

	allowedLevels := map[string]bool{"low": true, "medium": true, "high": true}
	if !allowedLevels[blockIp.Level] {
		return fmt.Errorf("invalid block_ip.level '%s': must be one of 'low', 'medium', or 'high'", blockIp.Level)
	}

	if blockIp.ActivationRPS <= 0 {
		return fmt.Errorf("block_ip.activation_rps must be positive")
	}

	if blockIp.MaxSharePercent <= 0 || blockIp.MaxSharePercent > 100 {
		return fmt.Errorf("block_ip.max_share_percent must be between 1 and 100")
	}

	return nil
}

// validateCache checks the Cache configuration section against the presets
// cache/ristretto knows how to build.
func validateCache(c *Cache) error {
	allowedLevels := map[string]bool{"small": true, "medium": true, "large": true, "very-large": true}
	if !allowedLevels[c.Level] {
		return fmt.Errorf("invalid cache.level '%s': must be one of 'small', 'medium', 'large', or 'very-large'", c.Level)
	}
	return nil
}

// validateLoggerBatch checks the batch logger configuration for logical consistency.
func validateLoggerBatch(loggerBatch *BatchLogger) error {
	if loggerBatch.ChanSize < 1 {
		return fmt.Errorf("chan_size must be >= 1")
	}
	if loggerBatch.FlushSize < 1 {
		return fmt.Errorf("flush_size must be >= 1")
	}
	if loggerBatch.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive")
	}
	if loggerBatch.DbPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	return nil
}

func validateRequestLog(requestLog *LogRequest) error {
	if !requestLog.Activated {
		return nil
	}

	const (
		minURILength       = 64
		minUserAgentLength = 32
		minRefererLength   = 64
		minRemoteIPLength  = 15 // Minimum for IPv4 (xxx.xxx.xxx.xxx)
	)

	if requestLog.Limits.URILength < minURILength {
		return fmt.Errorf("uri length limit must be at least %d", minURILength)
	}
	if requestLog.Limits.UserAgentLength < minUserAgentLength {
		return fmt.Errorf("user_agent length limit must be at least %d", minUserAgentLength)
	}
	if requestLog.Limits.RefererLength < minRefererLength {
		return fmt.Errorf("referer length limit must be at least %d", minRefererLength)
	}
	if requestLog.Limits.RemoteIPLength < minRemoteIPLength {
		return fmt.Errorf("remote_ip length limit must be at least %d", minRemoteIPLength)
	}

	return nil
}

// validateServer checks the Server configuration section.
// It ensures the Addr field is not empty and contains a valid host:port or :port format.
// Addr is not modified; an empty host (e.g., ":8080") is reported as
// "localhost" by Server.BaseURL.
//
// Allowed formats:
//   - "host:port" (e.g., "example.com:8080", "127.0.0.1:8080", "[::1]:8080")
//   - ":port"     (e.g., ":8080")
//
// The ":" separator is mandatory; an empty port after it is not rejected.
func validateServer(server *Server) error {
	if err := validateServerAddr(server); err != nil {
		return err
	}

	if err := validateServerRedirectAddr(server); err != nil {
		return err
	}

	if err := validateServerTLS(server); err != nil {
		return err
	}

	return nil
}

func sanitizeAddrEmptyHost(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

// validateServerAddr checks the Server.Addr field.
func validateServerAddr(server *Server) error {
	if server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	_, port, err := net.SplitHostPort(server.Addr)
	if err != nil {
		return fmt.Errorf("invalid server address format '%s': %w", server.Addr, err)
	}

	if err := validateServerPort(port); err != nil {
		return fmt.Errorf("invalid server port in address '%s': %w", server.Addr, err)
	}

	return nil
}

func validateServerRedirectAddr(server *Server) error {
	if server.RedirectAddr == "" {
		return nil
	}

	_, port, err := net.SplitHostPort(server.RedirectAddr)
	if err != nil {
		return fmt.Errorf("failed to parse host from redirect address '%s': %w", server.RedirectAddr, err)
	}

	if err := validateServerPort(port); err != nil {
		return fmt.Errorf("invalid server port in redirect address '%s': %w", server.RedirectAddr, err)
	}

	return nil
}

// validateServerTLS checks that CertData and KeyData are present if TLS is enabled.
func validateServerTLS(server *Server) error {
	if !server.EnableTLS {
		return nil
	}

	if server.CertData == "" {
		return fmt.Errorf("server.cert_data cannot be empty when TLS is enabled")
	}
	if server.KeyData == "" {
		return fmt.Errorf("server.key_data cannot be empty when TLS is enabled")
	}

	block, _ := pem.Decode([]byte(server.CertData))
	if block == nil {
		return fmt.Errorf("server.cert_data: failed to decode PEM block containing the certificate")
	}
	if block.Type != "CERTIFICATE" {
		return fmt.Errorf("server.cert_data: PEM block type is '%s', expected 'CERTIFICATE'", block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("server.cert_data: failed to parse certificate: %w", err)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("server.cert_data: certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("server.cert_data: certificate has expired (expired on %s)", cert.NotAfter.Format(time.RFC3339))
	}

	return nil
}

// validateBlockUaList checks the BlockUaList configuration section.
func validateBlockUaList(blockUaList *BlockUaList) error {
	if !blockUaList.Activated {
		return nil
	}

	if blockUaList.List.Regexp == nil {
		return fmt.Errorf("block_ua_list.list regex is invalid or empty, but blocking is activated")
	}

	return nil
}

func validateBlockHost(blockHost *BlockHost) error {
	if !blockHost.Activated {
		return nil
	}

	for _, host := range blockHost.AllowedHosts {
		if host == "" {
			return fmt.Errorf("block_host.allowed_hosts must not contain empty strings")
		}
		if strings.ContainsAny(host, " \t\r\n") {
			return fmt.Errorf("block_host.allowed_hosts: host '%s' contains whitespace characters", host)
		}
	}
	return nil
}

func validateBlockRequestBody(b *BlockRequestBody) error {
	if !b.Activated {
		return nil
	}
	if b.Limit <= 0 {
		return fmt.Errorf("block_request_body.limit must be positive when activated")
	}
	return nil
}

func validateNotifier(notifier *Notifier) error {
	if !notifier.Discord.Activated {
		return nil
	}

	if notifier.Discord.WebhookURL == "" {
		return fmt.Errorf("discord webhook_url cannot be empty when activated")
	}

	if !strings.Contains(notifier.Discord.WebhookURL, "discord.com/api/webhooks/") &&
		!strings.Contains(notifier.Discord.WebhookURL, "discordapp.com/api/webhooks/") {
		return fmt.Errorf("discord webhook_url must contain discord.com/api/webhooks/ or discordapp.com/api/webhooks/")
	}

	return nil
}

func validateServerPort(portStr string) error {
	if portStr == "" {
		return nil
	}

	portNum, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port '%s': must be a number: %w", portStr, err)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("invalid port '%d': port number must be between 1 and 65535", portNum)
	}

	return nil
}
