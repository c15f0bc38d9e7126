package converter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ah-its-andy/mediaconv/internal/media"
)

// Build validates req and resolves it into an Invocation. A
// *media.ValidationError is returned for malformed requests; any other error
// comes from the filesystem while preparing the output directory.
//
// Build is deterministic: identical requests against the same filesystem
// produce identical invocations.
func Build(req Request) (Invocation, error) {
	op, err := Lookup(req.Operation)
	if err != nil {
		return Invocation{}, err
	}

	quality := req.Quality
	if quality == 0 {
		quality = media.DefaultQuality
	}
	if quality < media.MinQuality || quality > media.MaxQuality {
		return Invocation{}, &media.ValidationError{
			Field:  "quality",
			Reason: fmt.Sprintf("%d is outside %d..%d", req.Quality, media.MinQuality, media.MaxQuality),
		}
	}

	format := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Format), "."))
	if !media.Supports(req.Operation, format) {
		return Invocation{}, &media.ValidationError{
			Field:  "format",
			Reason: fmt.Sprintf("%q is not supported for %s (supported: %s)", req.Format, req.Operation, strings.Join(op.Formats(), ", ")),
		}
	}

	if req.InputFile == "" {
		return Invocation{}, &media.ValidationError{Field: "input", Reason: "no input file given"}
	}
	input, err := filepath.Abs(req.InputFile)
	if err != nil {
		return Invocation{}, &media.ValidationError{Field: "input", Reason: err.Error()}
	}
	fi, err := os.Stat(input)
	if err != nil || !fi.Mode().IsRegular() {
		return Invocation{}, &media.ValidationError{Field: "input", Reason: fmt.Sprintf("file %s not found", req.InputFile)}
	}

	outDir, err := resolveOutputDir(input, req.OutputDir)
	if err != nil {
		return Invocation{}, err
	}
	output := filepath.Join(outDir, OutputName(input, format))
	if sameFile(input, fi, output) {
		return Invocation{}, &media.ValidationError{
			Field:  "output",
			Reason: fmt.Sprintf("output %s would overwrite the input", output),
		}
	}

	args := []string{"-i", input}
	args = append(args, op.CodecArgs(format, quality)...)
	args = append(args, "-y", output)

	return Invocation{
		Operation:  req.Operation,
		Format:     format,
		Quality:    quality,
		InputFile:  input,
		InputSize:  fi.Size(),
		OutputFile: output,
		Args:       args,
	}, nil
}

// OutputName replaces the extension of input's base name with format.
func OutputName(input, format string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "." + format
}

// resolveOutputDir picks the override directory, creating it if needed, or
// falls back to the input's own directory.
func resolveOutputDir(input, override string) (string, error) {
	if override == "" {
		return filepath.Dir(input), nil
	}
	dir, err := filepath.Abs(override)
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return dir, nil
}

// sameFile reports whether output names the input, either literally or
// through a case-insensitive filesystem or a link.
func sameFile(input string, inputInfo os.FileInfo, output string) bool {
	if input == output {
		return true
	}
	oi, err := os.Stat(output)
	return err == nil && os.SameFile(inputInfo, oi)
}
