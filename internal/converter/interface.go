package converter

import (
	"strings"

	"github.com/ah-its-andy/mediaconv/internal/media"
)

// Request describes one conversion asked for by a caller.
type Request struct {
	InputFile      string              `json:"input_file"`
	Operation      media.OperationKind `json:"operation"`
	Format         string              `json:"format"`
	OutputDir      string              `json:"output_dir,omitempty"` // empty means the input's directory
	Quality        int                 `json:"quality,omitempty"`    // 1..10, 0 selects the default
	Record         bool                `json:"record,omitempty"`     // append the attempt to the history ledger
	DeleteOriginal bool                `json:"delete_original,omitempty"`
}

// Invocation is a fully resolved tool call built from a Request.
type Invocation struct {
	Operation  media.OperationKind `json:"operation"`
	Format     string              `json:"format"`
	Quality    int                 `json:"quality"`
	InputFile  string              `json:"input_file"`
	InputSize  int64               `json:"input_size"`
	OutputFile string              `json:"output_file"`
	Args       []string            `json:"args"`
}

// CommandLine renders the invocation for logs and dry runs.
func (inv Invocation) CommandLine(binary string) string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, shellQuote(binary))
	for _, a := range inv.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// Operation maps a target format and quality level onto codec arguments.
type Operation interface {
	// Kind returns the operation kind this implementation handles
	Kind() media.OperationKind

	// Formats lists the target formats accepted by CodecArgs
	Formats() []string

	// CodecArgs returns the arguments placed between the input and the output.
	// Quality is already validated to lie in 1..10.
	CodecArgs(format string, quality int) []string
}

// OperationInfo describes a registered operation.
type OperationInfo struct {
	Kind    media.OperationKind `json:"kind"`
	Formats []string            `json:"formats"`
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>()*?[]#~!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
