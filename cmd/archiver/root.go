package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blockedby/tg-archiver/internal/config"
	"github.com/blockedby/tg-archiver/internal/logger"
)

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Archive Telegram channel history and media",
	Long: `archiver pages through the history of a Telegram channel, stores
message metadata as JSON shards and downloads the selected media types.
Re-running over the same range skips files that already exist and appends
a session to the channel's download record.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		log = logger.Get()
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file with run defaults (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
}

// initConfig lets a yaml file or ARCHIVER_* variables supply flag values.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".archiver")
	}

	viper.SetEnvPrefix("archiver")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
