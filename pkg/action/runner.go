package action

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// defaultCommandTimeout bounds every subprocess a handler shells out to,
// per spec §5 ("All subprocess calls have explicit timeouts").
const defaultCommandTimeout = 2 * time.Minute

// ErrExternalCommandFailed wraps a non-zero exit or timeout from a
// subprocess (spec §7 ExternalCommandFailed), carrying the stderr tail.
type ErrExternalCommandFailed struct {
	Command    string
	Args       []string
	ExitErr    error
	StderrTail string
}

func (e *ErrExternalCommandFailed) Error() string {
	return fmt.Sprintf("command %q failed: %v: %s", e.Command, e.ExitErr, e.StderrTail)
}

func (e *ErrExternalCommandFailed) Unwrap() error { return e.ExitErr }

// runAs runs a command as a given Linux user via `sudo -u <user>`, with a
// timeout and working directory, returning stdout. Root-level handlers
// (install_system_packages, create_postgresql_database, systemd_service)
// run without runAsUser.
func runCommand(ctx context.Context, timeout time.Duration, dir, runAsUser string, name string, args ...string) (string, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdName := name
	cmdArgs := args
	if runAsUser != "" {
		cmdArgs = append([]string{"-u", runAsUser, name}, args...)
		cmdName = "sudo"
	}

	cmd := exec.CommandContext(cctx, cmdName, cmdArgs...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		tail := stderr.String()
		if len(tail) > 2000 {
			tail = tail[len(tail)-2000:]
		}
		return stdout.String(), &ErrExternalCommandFailed{Command: name, Args: args, ExitErr: err, StderrTail: tail}
	}
	return stdout.String(), nil
}
