package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// RecentLimit is how many recent attempts a report lists.
const RecentLimit = 50

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Entry is one attempt as it appears in a report.
type Entry struct {
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Operation  string    `json:"operation" yaml:"operation"`
	Format     string    `json:"format" yaml:"format"`
	Status     string    `json:"status" yaml:"status"`
	InputFile  string    `json:"input_file" yaml:"input_file"`
	OutputFile string    `json:"output_file,omitempty" yaml:"output_file,omitempty"`
	SizeBefore *int64    `json:"size_before,omitempty" yaml:"size_before,omitempty"`
	SizeAfter  *int64    `json:"size_after,omitempty" yaml:"size_after,omitempty"`
}

// Report is a statistics snapshot plus the most recent attempts.
type Report struct {
	GeneratedAt time.Time `json:"generated_at" yaml:"generated_at"`
	Stats       db.Stats  `json:"stats" yaml:"stats"`
	Recent      []Entry   `json:"recent" yaml:"recent"`
}

// New assembles a report. records are expected newest first; only the first
// RecentLimit are kept.
func New(stats db.Stats, records []db.AttemptRecord, now time.Time) Report {
	if len(records) > RecentLimit {
		records = records[:RecentLimit]
	}
	r := Report{GeneratedAt: now, Stats: stats, Recent: make([]Entry, 0, len(records))}
	for _, rec := range records {
		e := Entry{
			Timestamp:  rec.Timestamp,
			Operation:  rec.Operation,
			Format:     rec.Format,
			Status:     rec.Status,
			InputFile:  rec.InputFile,
			SizeBefore: rec.SizeBefore,
			SizeAfter:  rec.SizeAfter,
		}
		if rec.OutputFile != nil {
			e.OutputFile = *rec.OutputFile
		}
		r.Recent = append(r.Recent, e)
	}
	return r
}

// Write renders r in the named format.
func Write(w io.Writer, r Report, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return WriteText(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown report format %q", format)
}

// WriteText renders the human-readable report.
func WriteText(w io.Writer, r Report) error {
	var b strings.Builder
	s := r.Stats

	b.WriteString("CONVERSION REPORT\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("STATISTICS:\n-----------\n")
	fmt.Fprintf(&b, "Total operations: %d\n", s.Total)
	fmt.Fprintf(&b, "Successful: %d\n", s.Success)
	fmt.Fprintf(&b, "Errors: %d\n", s.Error)
	fmt.Fprintf(&b, "Success rate: %.1f%%\n", s.SuccessRate)

	b.WriteString("\nBy operation:\n")
	for _, k := range sortedKeys(s.ByOperation) {
		fmt.Fprintf(&b, "  • %s: %d\n", k, s.ByOperation[k])
	}
	b.WriteString("\nBy format:\n")
	for _, k := range sortedKeys(s.ByFormat) {
		fmt.Fprintf(&b, "  • %s: %d\n", strings.ToUpper(k), s.ByFormat[k])
	}

	b.WriteString("\nRECENT OPERATIONS:\n------------------\n")
	for _, e := range r.Recent {
		status := "SUCCESS"
		if e.Status != db.StatusSuccess {
			status = "ERROR"
		}
		fmt.Fprintf(&b, "%s | %-6s | %-4s | %-7s | %s%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04"),
			e.Operation, e.Format, status, filepath.Base(e.InputFile), sizes(e))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func sizes(e Entry) string {
	switch {
	case e.SizeBefore != nil && e.SizeAfter != nil:
		return fmt.Sprintf(" (%s -> %s)", humanize.Bytes(uint64(*e.SizeBefore)), humanize.Bytes(uint64(*e.SizeAfter)))
	case e.SizeBefore != nil:
		return fmt.Sprintf(" (%s)", humanize.Bytes(uint64(*e.SizeBefore)))
	}
	return ""
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
