package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/converter"
	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/jobs"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeFFmpeg answers -version and otherwise writes its last argument.
func fakeFFmpeg(t *testing.T, convertBody string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"-version\" ]; then echo \"ffmpeg version 6.1\"; exit 0; fi\n" +
		"for a; do out=\"$a\"; done\n" +
		convertBody + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

type fixture struct {
	srv      *Server
	database *db.DB
	dir      string
}

func newFixture(t *testing.T, tool string) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })
	svc := converter.NewService(converter.Options{Binary: tool}, nil, database.Ledger())
	return &fixture{
		srv:      NewServer(svc, jobs.NewTracker(0), database, nil),
		database: database,
		dir:      t.TempDir(),
	}
}

func (f *fixture) input(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, []byte("fake media"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Router.ServeHTTP(w, req)
	return w
}

func (f *fixture) waitJob(t *testing.T, id string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		w := f.do(http.MethodGet, "/api/jobs/"+id, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET job: %d %s", w.Code, w.Body.String())
		}
		var job jobs.Job
		if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
			t.Fatal(err)
		}
		if job.State == jobs.StateDone {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return jobs.Job{}
}

func jobID(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("bad convert response: %s", w.Body.String())
	}
	return resp.JobID
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, ""))
	w := f.do(http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ffmpeg version 6.1") {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}

	missing := newFixture(t, filepath.Join(t.TempDir(), "no-ffmpeg"))
	if w := missing.do(http.MethodGet, "/api/health", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("health without tool: %d", w.Code)
	}
}

func TestFormats(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, ""))
	w := f.do(http.MethodGet, "/api/formats", nil)
	var infos []converter.OperationInfo
	if err := json.Unmarshal(w.Body.Bytes(), &infos); err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Kind != "video" || len(infos[1].Formats) != 6 {
		t.Errorf("formats = %+v", infos)
	}
}

func TestConvertAndHistory(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, `printf 'converted' > "$out"`))
	input := f.input(t, "clip.avi")

	if w := f.do(http.MethodPut, "/api/settings", map[string]string{db.KeySaveHistory: "true"}); w.Code != http.StatusOK {
		t.Fatalf("put settings: %d %s", w.Code, w.Body.String())
	}

	w := f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": input, "operation": "convert"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("convert: %d %s", w.Code, w.Body.String())
	}
	job := f.waitJob(t, jobID(t, w))
	if job.Result == nil || !job.Result.Success || job.Result.OutputFile != filepath.Join(f.dir, "clip.mp4") {
		t.Fatalf("job result = %+v", job.Result)
	}

	w = f.do(http.MethodGet, "/api/history?limit=5", nil)
	var rows []db.AttemptRecord
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Status != db.StatusSuccess {
		t.Errorf("history = %+v", rows)
	}

	w = f.do(http.MethodGet, "/api/stats", nil)
	if !strings.Contains(w.Body.String(), `"total":1`) {
		t.Errorf("stats = %s", w.Body.String())
	}

	if w := f.do(http.MethodDelete, "/api/history", nil); w.Code != http.StatusNoContent {
		t.Errorf("clear history: %d", w.Code)
	}
	w = f.do(http.MethodGet, "/api/history", nil)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("history after clear = %s", w.Body.String())
	}
}

func TestConvertHistoryOffByDefault(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, `printf 'converted' > "$out"`))
	input := f.input(t, "clip.avi")

	w := f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": input})
	if w.Code != http.StatusAccepted {
		t.Fatalf("convert: %d %s", w.Code, w.Body.String())
	}
	job := f.waitJob(t, jobID(t, w))
	if !job.Result.Success {
		t.Fatalf("job result = %+v", job.Result)
	}
	if job.Request.Record {
		t.Error("unset save_history must not enable recording")
	}
	if w := f.do(http.MethodGet, "/api/history", nil); strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("history = %s", w.Body.String())
	}

	w = f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": input, "format": "mkv", "record": true})
	if w.Code != http.StatusAccepted {
		t.Fatalf("convert: %d %s", w.Code, w.Body.String())
	}
	f.waitJob(t, jobID(t, w))
	var rows []db.AttemptRecord
	_ = json.Unmarshal(f.do(http.MethodGet, "/api/history", nil).Body.Bytes(), &rows)
	if len(rows) != 1 || rows[0].Format != "mkv" {
		t.Errorf("explicit record should be honoured: %+v", rows)
	}
}

func TestConvertHonoursSettings(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, `printf 'x' > "$out"`))
	input := f.input(t, "song.wav")
	outDir := filepath.Join(t.TempDir(), "constant")

	w := f.do(http.MethodPut, "/api/settings", map[string]string{
		db.KeySaveHistory:       "false",
		db.KeyUseConstantOutput: "true",
		db.KeyOutputFolder:      outDir,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("put settings: %d %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": input, "operation": "extract"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("convert: %d %s", w.Code, w.Body.String())
	}
	job := f.waitJob(t, jobID(t, w))
	if job.Result.OutputFile != filepath.Join(outDir, "song.mp3") {
		t.Errorf("OutputFile = %s", job.Result.OutputFile)
	}
	if job.Request.Record {
		t.Error("save_history=false should disable recording")
	}
	if w := f.do(http.MethodGet, "/api/history", nil); strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("history = %s", w.Body.String())
	}
}

func TestConvertRejections(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, `printf 'x' > "$out"`))
	input := f.input(t, "clip.avi")

	tests := []struct {
		name string
		body any
		code int
	}{
		{"missing input file field", map[string]any{"format": "mp4"}, http.StatusBadRequest},
		{"nonexistent file", map[string]any{"input_file": filepath.Join(f.dir, "nope.avi")}, http.StatusBadRequest},
		{"unsupported format", map[string]any{"input_file": input, "format": "gif"}, http.StatusBadRequest},
		{"unknown operation", map[string]any{"input_file": input, "operation": "resize"}, http.StatusBadRequest},
		{"quality out of range", map[string]any{"input_file": input, "quality": 42}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(http.MethodPost, "/api/convert", tt.body); w.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", w.Code, tt.code, w.Body.String())
			}
		})
	}
}

func TestConvertToolMissing(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "no-ffmpeg"))
	input := f.input(t, "clip.avi")
	w := f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": input})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", w.Code)
	}
}

func TestConvertBusy(t *testing.T) {
	gate := filepath.Join(t.TempDir(), "gate")
	f := newFixture(t, fakeFFmpeg(t, `while [ ! -f "`+gate+`" ]; do sleep 0.05; done; printf 'x' > "$out"`))
	a := f.input(t, "a.avi")
	b := f.input(t, "b.avi")

	w := f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": a})
	if w.Code != http.StatusAccepted {
		t.Fatalf("first convert: %d", w.Code)
	}
	id := jobID(t, w)

	if w := f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": b}); w.Code != http.StatusConflict {
		t.Errorf("second convert: %d, want 409", w.Code)
	}

	_ = os.WriteFile(gate, nil, 0o644)
	if job := f.waitJob(t, id); !job.Result.Success {
		t.Errorf("result = %+v", job.Result)
	}
}

func TestJobNotFound(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, ""))
	if w := f.do(http.MethodGet, "/api/jobs/unknown", nil); w.Code != http.StatusNotFound {
		t.Errorf("code = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/api/jobs/unknown/ws", nil); w.Code != http.StatusNotFound {
		t.Errorf("ws code = %d", w.Code)
	}
}

func TestJobWebSocket(t *testing.T) {
	gate := filepath.Join(t.TempDir(), "gate")
	f := newFixture(t, fakeFFmpeg(t, `while [ ! -f "`+gate+`" ]; do sleep 0.05; done; printf 'x' > "$out"`))
	input := f.input(t, "clip.avi")

	server := httptest.NewServer(f.srv.Router)
	defer server.Close()

	w := f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": input, "format": "mkv"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("convert: %d", w.Code)
	}
	id := jobID(t, w)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/jobs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = os.WriteFile(gate, nil, 0o644)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var job jobs.Job
	if err := conn.ReadJSON(&job); err != nil {
		t.Fatalf("read: %v", err)
	}
	if job.ID != id || job.State != jobs.StateDone || job.Result == nil || !job.Result.Success {
		t.Errorf("job = %+v", job)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close after one message, got %v", err)
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, ""))
	out := "/media/clip.mp4"
	_ = f.database.Ledger().Append(context.Background(), &db.AttemptRecord{
		InputFile: "/media/clip.avi", OutputFile: &out, Operation: "video", Format: "mp4", Status: db.StatusSuccess,
	})

	w := f.do(http.MethodGet, "/api/report", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Success rate: 100.0%") {
		t.Errorf("text report: %d %s", w.Code, w.Body.String())
	}
	w = f.do(http.MethodGet, "/api/report?format=yaml", nil)
	if !strings.Contains(w.Header().Get("Content-Type"), "yaml") || !strings.Contains(w.Body.String(), "total: 1") {
		t.Errorf("yaml report: %s", w.Body.String())
	}
	if w := f.do(http.MethodGet, "/api/report?format=pdf", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad format: %d", w.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newFixture(t, fakeFFmpeg(t, ""))
	w := f.do(http.MethodPut, "/api/settings", map[string]string{db.KeyTheme: "dark", db.KeyQuality: "6"})
	if w.Code != http.StatusOK {
		t.Fatalf("put: %d %s", w.Code, w.Body.String())
	}
	var all map[string]string
	_ = json.Unmarshal(f.do(http.MethodGet, "/api/settings", nil).Body.Bytes(), &all)
	if all[db.KeyTheme] != "dark" || all[db.KeyQuality] != "6" {
		t.Errorf("settings = %v", all)
	}
	if w := f.do(http.MethodPut, "/api/settings", map[string]string{"": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("empty key: %d", w.Code)
	}
}

func TestJobWebSocketReleasedOnDisconnect(t *testing.T) {
	gate := filepath.Join(t.TempDir(), "gate")
	f := newFixture(t, fakeFFmpeg(t, `while [ ! -f "`+gate+`" ]; do sleep 0.05; done; printf 'x' > "$out"`))
	input := f.input(t, "clip.avi")
	defer os.WriteFile(gate, nil, 0o644)

	server := httptest.NewServer(f.srv.Router)
	defer server.Close()

	w := f.do(http.MethodPost, "/api/convert", map[string]any{"input_file": input})
	if w.Code != http.StatusAccepted {
		t.Fatalf("convert: %d", w.Code)
	}
	id := jobID(t, w)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/jobs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitSockets := func(want int32) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for f.srv.sockets.Load() != want {
			if time.Now().After(deadline) {
				t.Fatalf("open sockets = %d, want %d", f.srv.sockets.Load(), want)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	waitSockets(1)

	conn.Close()
	waitSockets(0)

	if job, _ := f.srv.jobs.Get(id); job.State != jobs.StateRunning {
		t.Errorf("handler should return before the job finishes, state = %s", job.State)
	}
}
