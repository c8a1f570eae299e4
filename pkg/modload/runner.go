package modload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// MaxOutputBytes caps how much subprocess output is kept in a status.
const MaxOutputBytes = 2000

// Runner executes an external command. Implementations return the captured
// stdout and stderr even when the command fails.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec under the C locale so that error
// text is stable.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), stderr.Bytes(), &CommandError{
			Command: name,
			Args:    args,
			Stderr:  Truncate(strings.TrimSpace(stderr.String()), MaxOutputBytes),
			Err:     err,
		}
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// CommandError records a failed command execution.
type CommandError struct {
	Command string
	Args    []string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	line := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	if e.Stderr != "" {
		return fmt.Sprintf("command %q failed: %v: %s", line, e.Err, e.Stderr)
	}
	return fmt.Sprintf("command %q failed: %v", line, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
