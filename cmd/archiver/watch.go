package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockedby/tg-archiver/internal/nats"
	"github.com/blockedby/tg-archiver/internal/progress"
)

var watchCmd = &cobra.Command{
	Use:   "watch [channel-id]",
	Short: "Follow progress events from the NATS stream",
	Long: `watch prints the progress events that run and serve publish to NATS.
Without a channel id it follows every channel.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.NatsURL == "" {
			return errors.New("NATS_URL is not set")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := nc.EnsureArchiveStream(ctx); err != nil {
			return err
		}

		subject := nats.SubjectPrefix + ".>"
		if len(args) == 1 {
			subject = nats.SubjectPrefix + "." + args[0]
		}

		log.Info().Str("subject", subject).Msg("watching progress events")
		return nc.Subscribe(ctx, nats.StreamName, "", subject, func(data []byte) error {
			var ev progress.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				// malformed events are acked and dropped
				log.Warn().Err(err).Msg("bad progress event")
				return nil
			}
			fmt.Println(formatEvent(ev))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// formatEvent renders one event as a single line.
func formatEvent(ev progress.Event) string {
	head := fmt.Sprintf("%s [%d] %-8s", ev.Time.Format("15:04:05"), ev.ChannelID, ev.Type)
	switch ev.Type {
	case progress.EventStatus, progress.EventDone:
		return fmt.Sprintf("%s %s %s", head, ev.State, ev.Status)
	case progress.EventMessage:
		return fmt.Sprintf("%s %d/%d", head, deref(ev.Current), deref(ev.Total))
	case progress.EventFile:
		pct := 0.0
		if ev.FileProgress != nil {
			pct = *ev.FileProgress
		}
		return fmt.Sprintf("%s %s %.0f%%", head, ev.CurrentFile, pct)
	case progress.EventCounters:
		return fmt.Sprintf("%s downloaded=%d skipped=%d errors=%d", head, deref(ev.Downloaded), deref(ev.Skipped), deref(ev.Errors))
	case progress.EventOverall:
		speed := 0.0
		if ev.Speed != nil {
			speed = *ev.Speed
		}
		return fmt.Sprintf("%s active=%d queued=%d %.0f B/s", head, deref(ev.Active), deref(ev.Queued), speed)
	default:
		return head
	}
}
