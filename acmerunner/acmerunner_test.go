package acmerunner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStartAndFinishCapturesOutput(t *testing.T) {
	h, err := Start(context.Background(), []string{"sh", "-c", "echo stdout-line; echo stderr-line 1>&2"}, t.TempDir())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rc, stdout, stderr := h.Finish()
	if rc != 0 {
		t.Errorf("rc = %d, want 0", rc)
	}
	if !strings.Contains(stdout, "stdout-line") {
		t.Errorf("stdout = %q, want to contain stdout-line", stdout)
	}
	if !strings.Contains(stderr, "stderr-line") {
		t.Errorf("stderr = %q, want to contain stderr-line", stderr)
	}
}

func TestStartNonZeroExit(t *testing.T) {
	h, err := Start(context.Background(), []string{"sh", "-c", "exit 7"}, t.TempDir())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	rc, _, _ := h.Finish()
	if rc != 7 {
		t.Errorf("rc = %d, want 7", rc)
	}
}

func TestWaitOrExitTimesOutThenExits(t *testing.T) {
	h, err := Start(context.Background(), []string{"sh", "-c", "sleep 0.2"}, t.TempDir())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	exited, _, _, _ := h.WaitOrExit(10 * time.Millisecond)
	if exited {
		t.Fatal("expected WaitOrExit to time out before process exit")
	}

	exited, rc, _, _ := h.WaitOrExit(2 * time.Second)
	if !exited {
		t.Fatal("expected WaitOrExit to observe process exit")
	}
	if rc != 0 {
		t.Errorf("rc = %d, want 0", rc)
	}
}

func TestWaitOrExitRepeatedCallsAfterExit(t *testing.T) {
	h, err := Start(context.Background(), []string{"sh", "-c", "true"}, t.TempDir())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		exited, rc, _, _ := h.WaitOrExit(2 * time.Second)
		if !exited || rc != 0 {
			t.Fatalf("call %d: exited=%v rc=%d, want true/0", i, exited, rc)
		}
	}
}

func TestClassifyRateLimitedWithRetryAfter(t *testing.T) {
	out := "acme: error: urn:ietf:params:acme:error:rateLimited :: too many certificates, retry after 2026-08-01 00:00:00 UTC"
	outcome, retryAfter := Classify(out, false)
	if outcome != OutcomeRateLimited {
		t.Fatalf("outcome = %q, want rate_limited", outcome)
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !retryAfter.Equal(want) {
		t.Errorf("retryAfter = %v, want %v", retryAfter, want)
	}
}

func TestClassifyEABRequired(t *testing.T) {
	outcome, _ := Classify("acme: error: externalAccountRequired", false)
	if outcome != OutcomeEABRequired {
		t.Errorf("outcome = %q, want eab_required", outcome)
	}
}

func TestClassifyReusedSkip(t *testing.T) {
	outcome, _ := Classify("Skipping. Next renewal time is: 2026-09-01", false)
	if outcome != OutcomeReusedSkip {
		t.Errorf("outcome = %q, want reused_skip", outcome)
	}
}

func TestClassifyNotManagedOnlyOnRenewPath(t *testing.T) {
	outcome, _ := Classify("example.com is not an issued domain", false)
	if outcome != OutcomeUnknown {
		t.Errorf("outcome (issue path) = %q, want unknown (not-managed only applies on renew)", outcome)
	}
	outcome, _ = Classify("example.com is not an issued domain", true)
	if outcome != OutcomeNotManaged {
		t.Errorf("outcome (renew path) = %q, want not_managed", outcome)
	}
}

func TestClassifySuccessMarkers(t *testing.T) {
	outcome, _ := Classify("Cert success.\nYour cert is in: /foo/cert.pem", false)
	if outcome != OutcomeSuccess {
		t.Errorf("outcome = %q, want success", outcome)
	}
}

func TestClassifyUnknown(t *testing.T) {
	outcome, _ := Classify("some unrelated output", false)
	if outcome != OutcomeUnknown {
		t.Errorf("outcome = %q, want unknown", outcome)
	}
}
