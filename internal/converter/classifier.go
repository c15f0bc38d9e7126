package converter

import (
	"fmt"
	"strings"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/ah-its-andy/mediaconv/internal/worker"
)

// ToolNotFoundMessage is shown when the external tool is missing at run time.
const ToolNotFoundMessage = "FFmpeg not found. Please install FFmpeg."

// Result is the classified outcome of one conversion attempt.
type Result struct {
	Success    bool                `json:"success"`
	Status     string              `json:"status"` // success, warning or error
	Message    string              `json:"message"`
	Operation  media.OperationKind `json:"operation"`
	Format     string              `json:"format"`
	Quality    int                 `json:"quality"`
	InputFile  string              `json:"input_file"`
	OutputFile string              `json:"output_file,omitempty"`
	InputSize  int64               `json:"input_size"`
	OutputSize int64               `json:"output_size"`
	ExitCode   int                 `json:"exit_code"`
	Duration   time.Duration       `json:"duration"`
}

// Warning reports whether the tool failed but still left usable output.
func (r Result) Warning() bool {
	return r.Status == media.StatusWarning
}

// Classify decides success from the produced file rather than from the exit
// code alone: ffmpeg may exit non-zero after writing a valid artifact.
func Classify(inv Invocation, out worker.Outcome) Result {
	res := Result{
		Operation: inv.Operation,
		Format:    inv.Format,
		Quality:   inv.Quality,
		InputFile: inv.InputFile,
		InputSize: inv.InputSize,
		ExitCode:  out.ExitCode,
		Duration:  out.Duration,
	}

	if out.OutputExists && out.OutputSize > 0 {
		res.Success = true
		res.OutputFile = inv.OutputFile
		res.OutputSize = out.OutputSize
		if out.ExitCode == 0 {
			res.Status = media.StatusSuccess
			res.Message = fmt.Sprintf("%s: %s", successVerb(inv.Operation), inv.OutputFile)
		} else {
			res.Status = media.StatusWarning
			res.Message = fmt.Sprintf("%s (with warnings): %s", successVerb(inv.Operation), inv.OutputFile)
			res.Message = withTail(res.Message, out.Tail)
		}
		return res
	}

	res.Status = media.StatusError
	switch {
	case out.ToolNotFound:
		res.Message = ToolNotFoundMessage
	case !out.Started() && out.Err != nil:
		res.Message = fmt.Sprintf("System error: %v", out.Err)
	case out.ExitCode == 0:
		res.Message = "Output file was not created"
	default:
		res.Message = fmt.Sprintf("%s (exit code %d)", failureVerb(inv.Operation), out.ExitCode)
		res.Message = withTail(res.Message, out.Tail)
	}
	return res
}

func successVerb(kind media.OperationKind) string {
	if kind == media.OperationAudio {
		return "Audio extracted successfully"
	}
	return "Conversion completed successfully"
}

func failureVerb(kind media.OperationKind) string {
	if kind == media.OperationAudio {
		return "Audio extraction failed"
	}
	return "Conversion failed"
}

func withTail(msg string, tail []string) string {
	if len(tail) == 0 {
		return msg
	}
	return msg + "\n" + strings.Join(tail, "\n")
}
