package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/media"
)

// TailLines is the number of non-empty stderr lines kept for messages.
const TailLines = 10

// Job is a single external tool invocation.
type Job struct {
	Binary     string   // tool name or path, resolved at execution time
	Args       []string // arguments, without the binary itself
	OutputFile string   // file the tool is expected to produce
}

// Outcome holds the raw result of running a Job.
type Outcome struct {
	ExitCode     int           `json:"exit_code"`
	Stdout       string        `json:"-"`
	Stderr       string        `json:"-"`
	Tail         []string      `json:"tail,omitempty"`
	OutputExists bool          `json:"output_exists"`
	OutputSize   int64         `json:"output_size"`
	ToolNotFound bool          `json:"tool_not_found"`
	Err          error         `json:"-"`
	Duration     time.Duration `json:"duration"`
}

// Started reports whether the process was actually launched.
func (o Outcome) Started() bool {
	return !o.ToolNotFound && o.ExitCode >= 0
}

// Execute runs job to completion and inspects the output file afterwards.
// It never returns an error; launch problems are carried in the Outcome.
func Execute(ctx context.Context, job Job) Outcome {
	start := time.Now()
	out := Outcome{ExitCode: -1}
	defer func() { out.Duration = time.Since(start) }()

	path, err := exec.LookPath(job.Binary)
	if err != nil {
		out.ToolNotFound = true
		out.Err = media.ErrToolNotFound
		return out
	}

	before, statErr := os.Stat(job.OutputFile)
	existedBefore := statErr == nil

	cmd := exec.CommandContext(ctx, path, job.Args...)
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	out.Stdout = decodeLossy(stdout.Bytes())
	out.Stderr = decodeLossy(stderr.Bytes())
	out.Tail = TailOf(out.Stderr, TailLines)

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			out.ExitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrNotFound), errors.Is(runErr, os.ErrNotExist):
			// removed between lookup and launch
			out.ToolNotFound = true
			out.Err = media.ErrToolNotFound
			return out
		default:
			out.Err = runErr
			return out
		}
	} else {
		out.ExitCode = 0
	}

	// the process has exited; the output can be inspected safely now
	if fi, err := os.Stat(job.OutputFile); err == nil && fi.Mode().IsRegular() {
		fresh := !existedBefore || !fi.ModTime().Equal(before.ModTime()) || fi.Size() != before.Size()
		if fresh && fi.Size() > 0 {
			out.OutputExists = true
			out.OutputSize = fi.Size()
		}
	}
	return out
}

// TailOf returns up to n trailing non-empty lines of text.
func TailOf(text string, n int) []string {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimRight(l, "\r"))
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// decodeLossy drops byte sequences that are not valid UTF-8.
func decodeLossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}
