package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/config"
	"github.com/ah-its-andy/mediaconv/internal/converter"
	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/logging"
	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const version = "2.0.0"

// errFailed marks a failure that has already been reported to the user.
var errFailed = errors.New("failed")

type rootOptions struct {
	configPath  string
	format      string
	output      string
	audio       bool
	quality     int
	noHistory   bool
	showVersion bool
	showFormats bool
	checkFFmpeg bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(stderr, errorStyle.Render("Error: "+err.Error()))
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "mediaconv [INPUT]",
		Short: "Convert video containers and extract audio tracks with ffmpeg",
		Long: `mediaconv converts a video file into another container or extracts its
audio track, delegating the work to the ffmpeg executable.

Examples:
  mediaconv video.avi
  mediaconv input.mov --format webm --output ./converted/
  mediaconv video.mp4 --audio
  mediaconv video.mp4 --audio --format wav -q 5`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, opts, args)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path")
	f := root.Flags()
	f.StringVarP(&opts.format, "format", "f", "", "output format (default mp4, or mp3 with --audio)")
	f.StringVarP(&opts.output, "output", "o", "", "output directory (default: next to the input)")
	f.BoolVarP(&opts.audio, "audio", "a", false, "extract the audio track")
	f.IntVarP(&opts.quality, "quality", "q", 0, "quality 1-10 (default from settings, else 8)")
	f.BoolVar(&opts.noHistory, "no-history", false, "do not record this conversion")
	f.BoolVar(&opts.showVersion, "version", false, "print the version")
	f.BoolVar(&opts.showFormats, "formats", false, "list supported formats")
	f.BoolVar(&opts.checkFFmpeg, "check-ffmpeg", false, "check whether ffmpeg is available")

	root.AddCommand(
		newHistoryCmd(opts),
		newStatsCmd(opts),
		newReportCmd(opts),
		newSettingsCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func runRoot(cmd *cobra.Command, opts *rootOptions, args []string) error {
	out := cmd.OutOrStdout()

	if opts.showVersion {
		fmt.Fprintln(out, titleStyle.Render("Media Converter v"+version))
		return nil
	}
	if opts.showFormats {
		printFormats(out)
		return nil
	}

	env, err := openEnv(opts)
	if err != nil {
		return err
	}
	defer env.Close()

	if opts.checkFFmpeg {
		status := env.svc.Probe(cmd.Context())
		if status.Available {
			fmt.Fprintf(out, "FFmpeg status: %s\n", successStyle.Render("available"))
			fmt.Fprintln(out, mutedStyle.Render(status.Path+": "+status.Version))
		} else {
			fmt.Fprintf(out, "FFmpeg status: %s\n", errorStyle.Render("not available"))
		}
		return nil
	}

	if len(args) == 0 {
		_ = cmd.Help()
		return errors.New("no input file given")
	}
	if status := env.svc.Probe(cmd.Context()); !status.Available {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("Error: FFmpeg was not found on this system"))
		fmt.Fprintln(cmd.ErrOrStderr(), "Please install ffmpeg")
		return errFailed
	}

	req := env.request(cmd, opts, args[0])

	verb := "Converting"
	if req.Operation == media.OperationAudio {
		verb = "Extracting audio from"
	}
	fmt.Fprintf(out, "%s %s -> %s\n", verb, req.InputFile, strings.ToUpper(req.Format))

	res, err := env.svc.Convert(cmd.Context(), req)
	if err != nil {
		return err
	}
	printResult(out, res)
	if !res.Success {
		return errFailed
	}
	return nil
}

func printFormats(out io.Writer) {
	for _, info := range converter.ListInfo() {
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Supported %s formats:", info.Kind)))
		for _, f := range info.Formats {
			fmt.Fprintf(out, "  • %s\n", f)
		}
	}
}

func printResult(out io.Writer, res converter.Result) {
	fmt.Fprintln(out, statusStyle(res.Status).Render(res.Message))
	if res.Success {
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%s -> %s in %s",
			humanize.Bytes(uint64(res.InputSize)),
			humanize.Bytes(uint64(res.OutputSize)),
			res.Duration.Round(time.Millisecond))))
	}
}

// env is the per-invocation wiring shared by all commands.
type env struct {
	cfg    *config.Config
	db     *db.DB
	svc    *converter.Service
	logger *slog.Logger
	closer io.Closer
}

func openEnv(opts *rootOptions) (*env, error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	database, err := db.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	enabled := cfg.Logging.Enabled &&
		database.Settings().GetBool(context.Background(), db.KeyEnableLogging, true)
	logger, closer, err := logging.Setup(logging.Options{
		Enabled: enabled,
		File:    cfg.Logging.File,
		Level:   cfg.Logging.Level,
	}, nil)
	if err != nil {
		database.Close()
		return nil, err
	}

	svc := converter.NewService(converter.Options{Binary: cfg.FFmpeg.Binary, Logger: logger}, nil, database.Ledger())
	return &env{cfg: cfg, db: database, svc: svc, logger: logger, closer: closer}, nil
}

func (e *env) Close() {
	e.db.Close()
	e.closer.Close()
}

func (e *env) request(cmd *cobra.Command, opts *rootOptions, input string) converter.Request {
	ctx := cmd.Context()
	settings := e.db.Settings()

	op := media.OperationVideo
	if opts.audio {
		op = media.OperationAudio
	}
	req := converter.Request{
		InputFile:      input,
		Operation:      op,
		Format:         opts.format,
		OutputDir:      opts.output,
		Quality:        opts.quality,
		Record:         !opts.noHistory && settings.GetBool(ctx, db.KeySaveHistory, false),
		DeleteOriginal: settings.GetBool(ctx, db.KeyDeleteOriginal, false),
	}
	if req.Format == "" {
		req.Format = media.DefaultFormat(op)
	}
	if req.OutputDir == "" {
		req.OutputDir = converter.ResolveOutputDir(ctx, settings)
	}
	if !cmd.Flags().Changed("quality") {
		req.Quality = settings.GetInt(ctx, db.KeyQuality, media.DefaultQuality)
	}
	return req
}
