package commands

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bloom/internal/app"
)

var (
	home       string
	relays     []string
	storage    string
	passphrase string
	timeout    time.Duration
	logLevel   string
	logFormat  string

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:           "bloom",
		Short:         "Remote-signing client over relay networks",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".bloom")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			v := viper.New()
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath(home)
			v.SetDefault("storage", app.StorageFile)
			v.SetDefault("log_level", "info")
			v.SetDefault("log_format", "console")
			v.SetDefault("request_timeout", "60s")
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return err
				}
			}

			// Flags win over the config file.
			if len(relays) == 0 {
				relays = v.GetStringSlice("relays")
			}
			if !cmd.Flags().Changed("storage") {
				storage = v.GetString("storage")
			}
			if !cmd.Flags().Changed("log-level") {
				logLevel = v.GetString("log_level")
			}
			if !cmd.Flags().Changed("log-format") {
				logFormat = v.GetString("log_format")
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = v.GetDuration("request_timeout")
			}

			var err error
			wire, err = app.NewWire(app.Config{
				Home:           home,
				Relays:         relays,
				Storage:        storage,
				Passphrase:     passphrase,
				RequestTimeout: timeout,
				LogLevel:       logLevel,
				LogFormat:      logFormat,
			})
			if err != nil {
				return err
			}
			return wire.Signer.Init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if wire != nil {
				wire.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.bloom)")
	root.PersistentFlags().StringSliceVar(&relays, "relay", nil, "relay URL (repeatable)")
	root.PersistentFlags().StringVar(&storage, "storage", app.StorageFile, "snapshot storage: file, memory, encrypted, sqlite")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase for encrypted storage")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")

	root.AddCommand(inviteCmd(), pairCmd(), sessionsCmd(), signCmd(), pubkeyCmd(), pingCmd())
	return root.Execute()
}
