package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/polisai/rtcbind/pkg/domain"
)

// Runner executes the extraction tool and returns its standard output.
type Runner interface {
	Run(ctx context.Context, command []string, workDir string, env []string) ([]byte, error)
}

// ToolError describes a failed extraction tool invocation.
type ToolError struct {
	Command  []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command[0], e.ExitCode)
	if e.ExitCode < 0 {
		msg = fmt.Sprintf("%s: %v", e.Command[0], e.Err)
	}
	if first := firstLine(e.Stderr); first != "" {
		msg += ": " + first
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Is matches domain.ErrExtractionFailed.
func (e *ToolError) Is(target error) bool {
	return target == domain.ErrExtractionFailed
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// ProcessRunner runs the tool as a child process.
type ProcessRunner struct {
	logger *slog.Logger
}

// NewProcessRunner creates a runner that logs tool diagnostics to logger.
func NewProcessRunner(logger *slog.Logger) *ProcessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRunner{logger: logger}
}

// Run starts command, waits for it and returns its standard output. Any
// standard error output is logged line by line; a non-zero exit is a *ToolError.
func (r *ProcessRunner) Run(ctx context.Context, command []string, workDir string, env []string) ([]byte, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: command cannot be empty", domain.ErrExtractionFailed)
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Running extraction tool", "command", command)
	err := cmd.Run()

	scanner := bufio.NewScanner(bytes.NewReader(stderr.Bytes()))
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			r.logger.Warn("Extraction tool stderr", "tool", command[0], "line", line)
		}
	}

	if err != nil {
		toolErr := &ToolError{Command: command, ExitCode: -1, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			toolErr.Err = ctx.Err()
		}
		return nil, toolErr
	}
	return stdout.Bytes(), nil
}
