// Package acmerunner implements the ACME Runner (C1): it launches the
// external ACME client as a subprocess and exposes its textual stdout/stderr
// once the process exits. Handle does not interpret that output; Classify
// (markers.go) maps it to an Outcome, and the coordinator package decides
// what each Outcome means for an issuance.
package acmerunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Handle tracks one running (or finished) ACME client invocation. WaitOrExit
// may be polled repeatedly by a caller racing it against other events; once
// the process exits, exitDone is closed and every subsequent call observes
// the same cached result.
type Handle struct {
	cmd    *exec.Cmd
	stdout *bytes.Buffer
	stderr *bytes.Buffer

	exitDone chan struct{}
	exitErr  error
}

// Start launches the ACME client with argv[0] as the executable and the
// rest as arguments, in workDir.
func Start(ctx context.Context, argv []string, workDir string) (*Handle, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("acmerunner: argv must have at least one element")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir

	h := &Handle{
		cmd:      cmd,
		stdout:   &bytes.Buffer{},
		stderr:   &bytes.Buffer{},
		exitDone: make(chan struct{}),
	}
	cmd.Stdout = h.stdout
	cmd.Stderr = h.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("acmerunner: start %s: %w", argv[0], err)
	}

	go func() {
		h.exitErr = cmd.Wait()
		close(h.exitDone)
	}()

	return h, nil
}

// WaitOrExit blocks until either the process exits or deadline elapses,
// whichever comes first. exited reports which case occurred; safe to call
// repeatedly in a polling loop.
func (h *Handle) WaitOrExit(deadline time.Duration) (exited bool, rc int, stdout, stderr string) {
	select {
	case <-h.exitDone:
		return true, h.exitCode(), h.stdout.String(), h.stderr.String()
	case <-time.After(deadline):
		return false, 0, h.stdout.String(), h.stderr.String()
	}
}

// Finish blocks until the process exits, however long that takes.
func (h *Handle) Finish() (rc int, stdout, stderr string) {
	<-h.exitDone
	return h.exitCode(), h.stdout.String(), h.stderr.String()
}

func (h *Handle) exitCode() int {
	if h.exitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(h.exitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
