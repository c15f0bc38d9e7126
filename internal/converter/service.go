package converter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/ah-its-andy/mediaconv/internal/worker"
)

// Recorder persists conversion attempts.
type Recorder interface {
	Append(ctx context.Context, rec *db.AttemptRecord) error
}

// Options configures a Service.
type Options struct {
	Binary string       // ffmpeg name or path; DefaultBinary when empty
	Logger *slog.Logger // slog.Default() when nil
}

// Service runs the full pipeline: build, execute in the background,
// classify, record.
type Service struct {
	mu     sync.RWMutex
	binary string

	logger *slog.Logger
	runner *worker.Runner
	ledger Recorder
}

// NewService creates the orchestrator. ledger may be nil when history is
// never recorded.
func NewService(opts Options, runner *worker.Runner, ledger Recorder) *Service {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if runner == nil {
		runner = worker.New(opts.Logger)
	}
	return &Service{
		binary: opts.Binary,
		logger: opts.Logger,
		runner: runner,
		ledger: ledger,
	}
}

// Binary returns the configured tool name or path.
func (s *Service) Binary() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.binary
}

// SetBinary changes the tool used by subsequent conversions.
func (s *Service) SetBinary(binary string) {
	if binary == "" {
		binary = DefaultBinary
	}
	s.mu.Lock()
	s.binary = binary
	s.mu.Unlock()
}

// Busy reports whether a conversion is in flight.
func (s *Service) Busy() bool {
	return s.runner.Busy()
}

// Probe checks the configured tool.
func (s *Service) Probe(ctx context.Context) ToolStatus {
	return Probe(ctx, s.Binary())
}

// Convert runs req and waits for its result. The only error returned is a
// *media.ValidationError (or worker.ErrBusy when another conversion started
// through Start is still running); every other failure is reported as a
// failed Result.
func (s *Service) Convert(ctx context.Context, req Request) (Result, error) {
	ch, err := s.Start(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return <-ch, nil
}

// Start begins req in the background. The returned channel receives exactly
// one Result and is then closed. Validation errors and worker.ErrBusy are
// returned synchronously and no process is spawned.
func (s *Service) Start(ctx context.Context, req Request) (<-chan Result, error) {
	inv, err := Build(req)
	if err != nil {
		if media.IsValidationError(err) {
			s.logger.Warn("rejected conversion request", "input", req.InputFile, "error", err)
			return nil, err
		}
		res := s.systemFailure(req, err)
		s.finish(ctx, req, Invocation{}, &res)
		return deliver(res), nil
	}

	binary := s.Binary()
	s.logger.Info("starting conversion",
		"operation", inv.Operation,
		"input", inv.InputFile,
		"output", inv.OutputFile,
		"quality", inv.Quality)
	s.logger.Debug("command", "cmd", inv.CommandLine(binary))

	outCh, err := s.runner.Submit(ctx, worker.Job{Binary: binary, Args: inv.Args, OutputFile: inv.OutputFile})
	if err != nil {
		return nil, err
	}

	resCh := make(chan Result, 1)
	go func() {
		defer close(resCh)
		resCh <- s.complete(ctx, req, inv, <-outCh)
	}()
	return resCh, nil
}

func (s *Service) complete(ctx context.Context, req Request, inv Invocation, out worker.Outcome) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = s.systemFailure(req, fmt.Errorf("panic: %v", p))
		}
	}()

	res = Classify(inv, out)
	switch res.Status {
	case media.StatusSuccess:
		s.logger.Info(res.Message, "duration", res.Duration)
	case media.StatusWarning:
		s.logger.Warn("conversion finished with warnings", "output", inv.OutputFile, "exit_code", out.ExitCode)
		for _, line := range out.Tail {
			s.logger.Warn("ffmpeg: " + line)
		}
	default:
		s.logger.Error("conversion failed", "input", inv.InputFile, "exit_code", out.ExitCode, "error", out.Err)
		for _, line := range out.Tail {
			s.logger.Error("ffmpeg: " + line)
		}
	}

	s.finish(ctx, req, inv, &res)
	return res
}

// finish applies post-conversion actions and records the attempt.
func (s *Service) finish(ctx context.Context, req Request, inv Invocation, res *Result) {
	if res.Success && req.DeleteOriginal {
		if err := os.Remove(res.InputFile); err != nil {
			s.logger.Error("could not delete original", "input", res.InputFile, "error", err)
			res.Message += fmt.Sprintf("\n\nCould not delete the original file: %v", err)
		} else {
			s.logger.Info("original deleted", "input", res.InputFile)
			res.Message += "\n\nThe original file was deleted."
		}
	}

	if !req.Record || s.ledger == nil {
		return
	}
	rec := &db.AttemptRecord{
		InputFile: res.InputFile,
		Operation: string(req.Operation),
		Format:    inv.Format,
		Quality:   inv.Quality,
		Status:    db.StatusError,
		Message:   res.Message,
	}
	if rec.InputFile == "" {
		rec.InputFile = req.InputFile
	}
	if rec.Format == "" {
		rec.Format = req.Format
	}
	if inv.InputFile != "" {
		size := inv.InputSize
		rec.SizeBefore = &size
	}
	if res.Success {
		rec.Status = db.StatusSuccess
		out := res.OutputFile
		size := res.OutputSize
		rec.OutputFile = &out
		rec.SizeAfter = &size
	}
	if err := s.ledger.Append(ctx, rec); err != nil {
		s.logger.Error("failed to record conversion history", "error", err)
		return
	}
	s.logger.Info("conversion recorded in history", "id", rec.ID)
}

func (s *Service) systemFailure(req Request, err error) Result {
	s.logger.Error("system error during conversion", "input", req.InputFile, "error", err)
	return Result{
		Status:    media.StatusError,
		Message:   fmt.Sprintf("System error: %v", err),
		Operation: req.Operation,
		Format:    req.Format,
		Quality:   req.Quality,
		InputFile: req.InputFile,
		ExitCode:  -1,
	}
}

func deliver(res Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- res
	close(ch)
	return ch
}

// ResolveOutputDir returns the constant output folder when the settings ask
// for one, or "" to write next to the input.
func ResolveOutputDir(ctx context.Context, settings *db.Settings) string {
	if settings == nil {
		return ""
	}
	folder := settings.GetString(ctx, db.KeyOutputFolder, "")
	if folder != "" && settings.GetBool(ctx, db.KeyUseConstantOutput, false) {
		return folder
	}
	return ""
}
