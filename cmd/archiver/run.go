package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blockedby/tg-archiver/internal/archiver"
	"github.com/blockedby/tg-archiver/internal/config"
	"github.com/blockedby/tg-archiver/internal/progress"
)

var runCmd = &cobra.Command{
	Use:   "run [channel]",
	Short: "Archive one channel, or every run of a job file",
	Example: `  archiver run @golang_news --types images,documents --start 100 --end 1100
  archiver run --job jobs.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArchive,
}

func init() {
	f := runCmd.Flags()
	f.String("job", "", "yaml job file with several runs")
	f.StringSlice("types", []string{"images", "videos", "documents", "others"}, "media types to download")
	f.Bool("metadata-only", false, "store message metadata without media")
	f.Int("start", 0, "lowest message id, inclusive (0 = unbounded)")
	f.Int("end", 0, "highest message id, inclusive (0 = unbounded)")
	f.String("path", "", "download root (default DOWNLOAD_PATH)")
	f.String("filter", "", "file name keywords separated by ',' or '|'")
	f.String("filter-mode", "include", "include or exclude matching files")
	f.Float64("min-size", 0, "minimum file size in KB")
	f.Float64("max-size", 0, "maximum file size in KB")
	f.Int("batch", 0, "history page size, 1..100 (default BATCH_SIZE)")

	for _, name := range []string{"types", "metadata-only", "start", "end", "path", "filter", "filter-mode", "min-size", "max-size", "batch"} {
		_ = viper.BindPFlag("run."+name, f.Lookup(name))
	}

	rootCmd.AddCommand(runCmd)
}

// optionsFrom builds run options from bound flags, config file and env.
func optionsFrom(v *viper.Viper, channel string, defaults *config.Config) (archiver.Options, error) {
	opts := archiver.Options{
		Channel:        channel,
		StartMessageID: v.GetInt("run.start"),
		EndMessageID:   v.GetInt("run.end"),
		DownloadPath:   v.GetString("run.path"),
		FilenameFilter: v.GetString("run.filter"),
		FilterMode:     archiver.FilterMode(v.GetString("run.filter-mode")),
		MinFileSize:    v.GetFloat64("run.min-size"),
		MaxFileSize:    v.GetFloat64("run.max-size"),
		BatchSize:      v.GetInt("run.batch"),
	}
	if opts.DownloadPath == "" {
		opts.DownloadPath = defaults.DownloadPath
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if !v.GetBool("run.metadata-only") {
		types, err := archiver.ParseDownloadTypes(v.GetStringSlice("run.types"))
		if err != nil {
			return opts, err
		}
		opts.DownloadTypes = types
	}

	opts.Normalize()
	return opts, opts.Validate()
}

func runArchive(cmd *cobra.Command, args []string) error {
	var runs []archiver.Options
	if job, _ := cmd.Flags().GetString("job"); job != "" {
		var err error
		if runs, err = config.LoadJobFile(job); err != nil {
			return err
		}
	} else {
		if len(args) == 0 {
			return fmt.Errorf("channel argument or --job is required")
		}
		opts, err := optionsFrom(viper.GetViper(), args[0], cfg)
		if err != nil {
			return err
		}
		runs = []archiver.Options{opts}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireReady(); err != nil {
		return err
	}

	events, cancel := a.bus.Subscribe(256)
	defer cancel()
	go logProgress(events)

	svc := a.service()
	for _, opts := range runs {
		res, err := svc.Run(ctx, opts)
		if err != nil {
			return fmt.Errorf("archive %s: %w", opts.Channel, err)
		}
		log.Info().
			Int64("channel_id", res.ChannelID).
			Str("state", string(res.State)).
			Int("messages", res.TotalMessages).
			Int("downloaded", res.Downloaded).
			Int("skipped", res.Skipped).
			Int("errors", res.Errors).
			Dur("took", res.FinishedAt.Sub(res.StartedAt)).
			Msg("archive run finished")
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
	}
	return nil
}

// logProgress writes bus events to the log until the bus closes.
func logProgress(events <-chan progress.Event) {
	for ev := range events {
		switch ev.Type {
		case progress.EventStatus, progress.EventDone:
			log.Info().Str("run_id", ev.RunID).Str("state", ev.State).Msg(ev.Status)
		case progress.EventFile:
			e := log.Debug().Str("file", ev.CurrentFile)
			if ev.FileProgress != nil {
				e = e.Float64("percent", *ev.FileProgress)
			}
			e.Msg("downloading")
		case progress.EventCounters:
			log.Debug().
				Int("downloaded", deref(ev.Downloaded)).
				Int("skipped", deref(ev.Skipped)).
				Int("errors", deref(ev.Errors)).
				Msg("counters")
		}
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
