// Command archiver downloads the history and media of Telegram channels
// into a local directory tree.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
