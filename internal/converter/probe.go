package converter

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// DefaultBinary is the tool name looked up on PATH.
const DefaultBinary = "ffmpeg"

// ToolStatus is the result of a liveness check of the external tool.
type ToolStatus struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Probe locates binary and runs it with -version. It never fails: any lookup
// or execution problem just yields Available == false.
func Probe(ctx context.Context, binary string) ToolStatus {
	if binary == "" {
		binary = DefaultBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return ToolStatus{}
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ToolStatus{Path: path}
	}

	status := ToolStatus{Available: true, Path: path}
	if line, _, _ := strings.Cut(strings.ToValidUTF8(stdout.String(), ""), "\n"); line != "" {
		status.Version = strings.TrimSpace(line)
	}
	return status
}
