package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/blockedby/tg-archiver/internal/telegram"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Log in to telegram by scanning a QR code",
	Long: `auth prints a QR code in the terminal. Scan it from a logged-in
telegram app (Settings > Devices > Link Desktop Device). The session is
stored in the database and reused by run and serve.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
			return errNoCredentials
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.tg = telegram.NewManager(cfg, a.db.GORM)
		if err := a.tg.Init(ctx); err != nil {
			return err
		}
		a.client = telegram.NewClient(a.tg, nil)

		err = a.tg.StartQR(ctx, func(url string) {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				// piped output gets the raw token url
				fmt.Println(url)
				return
			}
			fmt.Println("\nscan with telegram: Settings > Devices > Link Desktop Device")
			qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
		})
		switch {
		case errors.Is(err, telegram.ErrAlreadyAuthorized):
			fmt.Println("already logged in")
			return nil
		case err != nil:
			return err
		}

		fmt.Println("\n✓ authentication successful!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
}
