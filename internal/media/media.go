package media

import (
	"errors"
	"fmt"
	"strings"
)

// OperationKind selects between container/codec conversion and audio extraction.
// The string values are what the history ledger stores.
type OperationKind string

const (
	OperationVideo OperationKind = "video"
	OperationAudio OperationKind = "audio"
)

const (
	MinQuality     = 1
	MaxQuality     = 10
	DefaultQuality = 8
)

// Result status values
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

var (
	videoFormats = []string{"mp4", "avi", "mkv", "mov", "webm", "flv", "wmv"}
	audioFormats = []string{"mp3", "wav", "aac", "flac", "ogg", "m4a"}
)

// ErrToolNotFound is returned when the external media tool cannot be located.
var ErrToolNotFound = errors.New("ffmpeg not found")

// ValidationError reports a malformed conversion request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ParseOperation maps user input onto an OperationKind.
func ParseOperation(s string) (OperationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "video", "convert":
		return OperationVideo, nil
	case "audio", "extract":
		return OperationAudio, nil
	}
	return "", &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", s)}
}

// Formats returns a copy of the supported target formats for kind.
func Formats(kind OperationKind) []string {
	var src []string
	switch kind {
	case OperationVideo:
		src = videoFormats
	case OperationAudio:
		src = audioFormats
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Supports reports whether format is a valid target for kind.
func Supports(kind OperationKind, format string) bool {
	for _, f := range Formats(kind) {
		if f == format {
			return true
		}
	}
	return false
}

// DefaultFormat is used when the caller does not pick a target format.
func DefaultFormat(kind OperationKind) string {
	if kind == OperationAudio {
		return "mp3"
	}
	return "mp4"
}

// ClampQuality limits q to [lo, hi].
func ClampQuality(q, lo, hi int) int {
	if q < lo {
		return lo
	}
	if q > hi {
		return hi
	}
	return q
}
