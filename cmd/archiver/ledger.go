package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blockedby/tg-archiver/internal/archiver"
	"github.com/blockedby/tg-archiver/internal/config"
)

var ledgerList bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger [channel]",
	Short: "Print the download record of a channel",
	Long: `ledger prints the stored download record. A numeric channel id is
read straight from the database; a username is resolved through telegram.
With --list it prints the ids of every channel that has a record.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if ledgerList {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ledgerList {
			return listLedgers(ctx)
		}
		ref := archiver.NormalizeChannel(args[0])

		var (
			a         *app
			channelID int64
			err       error
		)
		if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil && id > 0 {
			channelID = id
			a, err = openStore(ctx)
		} else {
			a, err = openApp(ctx)
		}
		if err != nil {
			return err
		}
		defer a.Close()

		if channelID == 0 {
			if err := a.requireReady(); err != nil {
				return err
			}
			ch, err := a.client.ResolveChannel(ctx, ref)
			if err != nil {
				return err
			}
			channelID = ch.ID
		}

		l, err := a.recorder.Ledger(ctx, channelID)
		if err != nil {
			return err
		}
		if l == nil {
			return fmt.Errorf("no download record for channel %d", channelID)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	},
}

func listLedgers(ctx context.Context) error {
	a, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.recorder.Channels(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no download records")
		return nil
	}
	for _, id := range ids {
		l, err := a.recorder.Ledger(ctx, id)
		if err != nil {
			return err
		}
		if l == nil {
			fmt.Printf("%d\t(unreadable)\n", id)
			continue
		}
		span := "-"
		if l.TotalRange != nil {
			span = fmt.Sprintf("%d-%d", l.TotalRange.Min, l.TotalRange.Max)
		}
		fmt.Printf("%d\t%d sessions\t%s\n", id, len(l.DownloadSessions), span)
	}
	return nil
}

var validateCmd = &cobra.Command{
	Use:   "validate <job-file>...",
	Short: "Check job files without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		failed := false
		for _, path := range args {
			runs, err := config.LoadJobFile(path)
			if err != nil {
				fmt.Printf("❌ %s: %v\n", path, err)
				failed = true
				continue
			}
			fmt.Printf("✅ %s is valid (%d runs)\n", path, len(runs))
		}
		if failed {
			return fmt.Errorf("invalid job files")
		}
		return nil
	},
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerList, "list", false, "list every channel with a download record")
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(validateCmd)
}
