package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/api"
	"github.com/ah-its-andy/mediaconv/internal/config"
	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/jobs"
	"github.com/ah-its-andy/mediaconv/internal/report"
	"github.com/ah-its-andy/mediaconv/internal/watcher"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			rows, err := env.db.Ledger().List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No conversions recorded"))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOPERATION\tFORMAT\tSTATUS\tINPUT\tSIZE")
			for _, r := range rows {
				size := "-"
				if r.SizeBefore != nil && r.SizeAfter != nil {
					size = humanize.Bytes(uint64(*r.SizeBefore)) + " -> " + humanize.Bytes(uint64(*r.SizeAfter))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(r.Timestamp),
					r.Operation,
					r.Format,
					statusStyle(r.Status).Render(r.Status),
					filepath.Base(r.InputFile),
					size)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", db.DefaultHistoryLimit, "maximum number of entries")

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.db.Ledger().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("History cleared"))
			return nil
		},
	})
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show conversion statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			s, err := env.db.Ledger().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("Conversion statistics"))
			fmt.Fprintf(out, "Total:        %d\n", s.Total)
			fmt.Fprintf(out, "Successful:   %s\n", successStyle.Render(fmt.Sprint(s.Success)))
			fmt.Fprintf(out, "Errors:       %s\n", errorStyle.Render(fmt.Sprint(s.Error)))
			fmt.Fprintf(out, "Success rate: %.1f%%\n", s.SuccessRate)
			printCounts(out, "By operation", s.ByOperation)
			printCounts(out, "By format", s.ByFormat)
			return nil
		},
	}
}

func printCounts(out io.Writer, title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(out, mutedStyle.Render(title+":"))
	for _, k := range keys {
		fmt.Fprintf(out, "  • %s: %d\n", k, counts[k])
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var format, outPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export a statistics report",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			ctx := cmd.Context()
			stats, err := env.db.Ledger().Stats(ctx)
			if err != nil {
				return err
			}
			rows, err := env.db.Ledger().List(ctx, report.RecentLimit)
			if err != nil {
				return err
			}
			r := report.New(*stats, rows, time.Now())

			if outPath == "" {
				return report.Write(cmd.OutOrStdout(), r, format)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := report.Write(f, r, format); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Report written to "+outPath))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", report.FormatText, "text, json or yaml")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the report to a file")
	return cmd
}

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage stored settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			all, err := env.db.Settings().All(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\n", k, all[k])
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			v, ok, err := env.db.Settings().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("setting %q is not set", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			return env.db.Settings().Set(cmd.Context(), args[0], args[1])
		},
	})
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()
			if addr == "" {
				addr = env.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if status := env.svc.Probe(ctx); status.Available {
				env.logger.Info("ffmpeg available", "path", status.Path, "version", status.Version)
			} else {
				env.logger.Warn("ffmpeg not found, conversions will be rejected", "binary", env.svc.Binary())
			}

			configPath := opts.configPath
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}
			if w, err := watcher.New(configPath, watcher.DefaultDebounce, env.logger, func(cfg *config.Config) {
				env.svc.SetBinary(cfg.FFmpeg.Binary)
				status := env.svc.Probe(ctx)
				env.logger.Info("ffmpeg binary updated", "binary", cfg.FFmpeg.Binary, "available", status.Available)
			}); err != nil {
				env.logger.Warn("config reload disabled", "error", err)
			} else {
				defer w.Close()
				go w.Start(ctx)
			}

			server := api.NewServer(env.svc, jobs.NewTracker(time.Hour), env.db, env.logger)
			httpServer := &http.Server{Addr: addr, Handler: server.Router}

			errCh := make(chan error, 1)
			go func() {
				env.logger.Info("starting HTTP server", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			env.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
