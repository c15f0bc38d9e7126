package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// setupEnv isolates config, database and logging in temp dirs and points the
// CLI at a fake ffmpeg.
func setupEnv(t *testing.T, ffmpegBody string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"-version\" ]; then echo \"ffmpeg version 6.1\"; exit 0; fi\n" +
		"for a; do out=\"$a\"; done\n" +
		ffmpegBody + "\n"
	if err := os.WriteFile(tool, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEDIACONV_FFMPEG", tool)
	t.Setenv("MEDIACONV_DB", filepath.Join(dir, "settings.db"))
	t.Setenv("MEDIACONV_LOGGING", "false")
	t.Setenv("MEDIACONV_LOG_FILE", filepath.Join(dir, "mediaconv.log"))
	t.Setenv("MEDIACONV_LOG_LEVEL", "")
	t.Setenv("MEDIACONV_ADDR", "")
	return dir
}

func run(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append([]string{"--config", filepath.Join(dir, "config.toml")}, args...)
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake media"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionAndFormats(t *testing.T) {
	dir := setupEnv(t, "")

	code, out, _ := run(t, dir, "--version")
	if code != 0 || !strings.Contains(out, "v"+version) {
		t.Errorf("--version: %d %q", code, out)
	}

	code, out, _ = run(t, dir, "--formats")
	if code != 0 || !strings.Contains(out, "webm") || !strings.Contains(out, "flac") {
		t.Errorf("--formats: %d %q", code, out)
	}
}

func TestCheckFFmpeg(t *testing.T) {
	dir := setupEnv(t, "")
	code, out, _ := run(t, dir, "--check-ffmpeg")
	if code != 0 || !strings.Contains(out, "available") || !strings.Contains(out, "ffmpeg version 6.1") {
		t.Errorf("--check-ffmpeg: %d %q", code, out)
	}

	t.Setenv("MEDIACONV_FFMPEG", filepath.Join(dir, "missing"))
	_, out, _ = run(t, dir, "--check-ffmpeg")
	if !strings.Contains(out, "not available") {
		t.Errorf("missing tool: %q", out)
	}
}

func TestMissingInputExitsNonZero(t *testing.T) {
	dir := setupEnv(t, "")
	if code, _, stderr := run(t, dir); code != 1 || !strings.Contains(stderr, "no input file") {
		t.Errorf("code = %d, stderr = %q", code, stderr)
	}
	if code, _, _ := run(t, dir, filepath.Join(dir, "nope.avi")); code != 1 {
		t.Errorf("nonexistent input: code = %d", code)
	}
}

func TestToolMissingExitsNonZero(t *testing.T) {
	dir := setupEnv(t, "")
	input := writeInput(t, dir, "clip.avi")
	t.Setenv("MEDIACONV_FFMPEG", filepath.Join(dir, "missing"))
	if code, _, stderr := run(t, dir, input); code != 1 || !strings.Contains(stderr, "not found") {
		t.Errorf("code = %d, stderr = %q", code, stderr)
	}
}

func enableHistory(t *testing.T, dir string) {
	t.Helper()
	if code, _, stderr := run(t, dir, "settings", "set", "save_history", "true"); code != 0 {
		t.Fatalf("settings set save_history: %s", stderr)
	}
}

func TestHistoryOffByDefault(t *testing.T) {
	dir := setupEnv(t, `printf 'converted' > "$out"`)
	input := writeInput(t, dir, "clip.avi")

	if code, out, stderr := run(t, dir, input, "-f", "mkv"); code != 0 {
		t.Fatalf("convert: %d %q %q", code, out, stderr)
	}
	_, out, _ := run(t, dir, "stats")
	if !strings.Contains(out, "Total:        0") {
		t.Errorf("conversion recorded without save_history: %q", out)
	}
}

func TestConvertRecordsHistory(t *testing.T) {
	dir := setupEnv(t, `printf 'converted' > "$out"`)
	input := writeInput(t, dir, "clip.avi")
	enableHistory(t, dir)

	code, out, stderr := run(t, dir, input, "-f", "mkv", "-q", "5")
	if code != 0 {
		t.Fatalf("convert: %d %q %q", code, out, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "clip.mkv")); err != nil {
		t.Errorf("output not written: %v", err)
	}

	_, out, _ = run(t, dir, "history")
	if !strings.Contains(out, "clip.avi") || !strings.Contains(out, "mkv") {
		t.Errorf("history = %q", out)
	}

	_, out, _ = run(t, dir, "report", "--format", "json")
	var rep struct {
		Stats struct {
			Total   int `json:"total"`
			Success int `json:"success"`
		} `json:"stats"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("report json: %v\n%s", err, out)
	}
	if rep.Stats.Total != 1 || rep.Stats.Success != 1 {
		t.Errorf("report stats = %+v", rep.Stats)
	}

	run(t, dir, "history", "clear")
	_, out, _ = run(t, dir, "stats")
	if !strings.Contains(out, "Total:        0") {
		t.Errorf("stats after clear = %q", out)
	}
}

func TestAudioDefaultsAndNoHistory(t *testing.T) {
	dir := setupEnv(t, `printf 'a' > "$out"`)
	input := writeInput(t, dir, "video.mp4")
	enableHistory(t, dir)

	if code, out, stderr := run(t, dir, input, "--audio", "--no-history"); code != 0 {
		t.Fatalf("extract: %d %q %q", code, out, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "video.mp3")); err != nil {
		t.Errorf("audio default should be mp3: %v", err)
	}
	_, out, _ := run(t, dir, "history")
	if !strings.Contains(out, "No conversions recorded") {
		t.Errorf("--no-history should skip the ledger: %q", out)
	}
}

func TestFailedConversionExitsNonZero(t *testing.T) {
	dir := setupEnv(t, `echo "Invalid data found when processing input" >&2; exit 1`)
	input := writeInput(t, dir, "clip.avi")

	code, out, _ := run(t, dir, input)
	if code != 1 || !strings.Contains(out, "Invalid data found") {
		t.Errorf("code = %d, out = %q", code, out)
	}
}

func TestSettingsCommands(t *testing.T) {
	dir := setupEnv(t, `printf 'x' > "$out"`)
	outDir := filepath.Join(dir, "constant")

	for _, kv := range [][2]string{{"use_constant_output", "true"}, {"output_folder", outDir}} {
		if code, _, stderr := run(t, dir, "settings", "set", kv[0], kv[1]); code != 0 {
			t.Fatalf("settings set %s: %s", kv[0], stderr)
		}
	}
	if _, out, _ := run(t, dir, "settings", "get", "output_folder"); strings.TrimSpace(out) != outDir {
		t.Errorf("settings get = %q", out)
	}
	if code, _, _ := run(t, dir, "settings", "get", "theme"); code != 1 {
		t.Error("unset key should fail")
	}
	if _, out, _ := run(t, dir, "settings", "list"); !strings.Contains(out, "use_constant_output") {
		t.Errorf("settings list = %q", out)
	}

	input := writeInput(t, dir, "clip.avi")
	if code, _, stderr := run(t, dir, input); code != 0 {
		t.Fatalf("convert: %s", stderr)
	}
	if _, err := os.Stat(filepath.Join(outDir, "clip.mp4")); err != nil {
		t.Errorf("constant output folder not used: %v", err)
	}
}
