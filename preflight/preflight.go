// Package preflight implements the Preflight Verifier (C3): it polls the
// public HTTP-01 URL until the LB serves back the expected key
// authorization, closing the race between the LB datagroup being written
// and the ACME provider's own validation GET.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned when expected never matches before the deadline.
var ErrTimeout = errors.New("preflight-timeout")

const (
	DefaultTimeout  = 45 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

// Options configures one Wait call.
type Options struct {
	Timeout  time.Duration // default DefaultTimeout
	Interval time.Duration // default DefaultInterval
}

// Wait GETs http://<hostname>/.well-known/acme-challenge/<token> over
// plaintext HTTP until it returns 200 with a trimmed body equal to
// expected, or the deadline elapses.
func Wait(ctx context.Context, httpClient *http.Client, hostname, token, expected string, opts Options) error {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/.well-known/acme-challenge/%s", hostname, token)

	op := func() error {
		req, err := http.NewRequestWithContext(deadlineCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) == expected {
			return nil
		}
		return fmt.Errorf("preflight: %s returned status %d, body %q", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	b := backoff.NewConstantBackOff(opts.Interval)
	if err := backoff.Retry(op, backoff.WithContext(b, deadlineCtx)); err != nil {
		if deadlineCtx.Err() != nil {
			return ErrTimeout
		}
		return err
	}
	return nil
}
