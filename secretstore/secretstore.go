// Package secretstore implements the Secret Store Adapter (C5): a KV-v2
// style client used to hold certificate private keys and EAB credentials.
// No such vendor SDK appears anywhere in the example corpus, so the client
// is hand-rolled over net/http in the same fashion as notify/discord.
package secretstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Entry is the payload stored at a KV-v2 path. The caller decides which
// fields are populated: a private key entry sets PrivateKeyPEM, an EAB
// entry sets Kid and HmacKey.
type Entry struct {
	PrivateKeyPEM string `json:"private_key_pem,omitempty"`
	Kid           string `json:"kid,omitempty"`
	HmacKey       string `json:"hmac_key,omitempty"`
}

// Options configures a Client.
type Options struct {
	Addr       string // e.g. https://vault.internal:8200
	Token      string
	CAPath     string // optional, PEM file
	Timeout    time.Duration
	MaxRetries uint64
}

// Client reads and writes Entry values against a KV-v2 mount.
type Client struct {
	addr       string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries uint64
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("secretstore: Addr is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("secretstore: Token is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("secretstore: logger is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}

	transport := &http.Transport{}
	if opts.CAPath != "" {
		caCert, err := os.ReadFile(opts.CAPath)
		if err != nil {
			return nil, fmt.Errorf("secretstore: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("secretstore: no certificates parsed from %s", opts.CAPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}

	return &Client{
		addr:       strings.TrimRight(opts.Addr, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: opts.Timeout, Transport: transport},
		logger:     logger,
		maxRetries: opts.MaxRetries,
	}, nil
}

// NormalizePath reduces any of "foo/bar", "/secret/data/foo/bar",
// "v1/secret/data/foo/bar", "/v1/secret/data/foo/bar" to the leaf "foo/bar".
func NormalizePath(path string) string {
	p := strings.Trim(path, "/")
	p = strings.TrimPrefix(p, "v1/")
	p = strings.TrimPrefix(p, "secret/data/")
	p = strings.TrimPrefix(p, "secret/")
	return p
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/v1/secret/data/%s", c.addr, NormalizePath(path))
}

type kvWrapper struct {
	Data json.RawMessage `json:"data"`
}

type readResponse struct {
	Data struct {
		Data json.RawMessage `json:"data"`
	} `json:"data"`
}

// Read fetches the entry at path. A missing secret yields a zero-value Entry
// and no error, per spec.
func (c *Client) Read(ctx context.Context, path string) (Entry, error) {
	var out Entry
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Vault-Token", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			out = Entry{}
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 500 {
				return fmt.Errorf("secretstore: read %s: status %d", path, resp.StatusCode)
			}
			return backoff.Permanent(fmt.Errorf("secretstore: read %s: status %d", path, resp.StatusCode))
		}

		var rr readResponse
		if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
			return backoff.Permanent(fmt.Errorf("secretstore: decode %s: %w", path, err))
		}
		if len(rr.Data.Data) == 0 {
			out = Entry{}
			return nil
		}
		if err := json.Unmarshal(rr.Data.Data, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("secretstore: unmarshal %s: %w", path, err))
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return Entry{}, err
	}
	return out, nil
}

// Write stores entry at path, wrapping it as {data: entry}.
func (c *Client) Write(ctx context.Context, path string, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("secretstore: marshal entry: %w", err)
	}
	wrapped, err := json.Marshal(kvWrapper{Data: body})
	if err != nil {
		return fmt.Errorf("secretstore: marshal wrapper: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(wrapped))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Vault-Token", c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			if resp.StatusCode >= 500 {
				return fmt.Errorf("secretstore: write %s: status %d", path, resp.StatusCode)
			}
			return backoff.Permanent(fmt.Errorf("secretstore: write %s: status %d", path, resp.StatusCode))
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
