// Package cmd implements the hostkeep command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/hostkeep/internal/config"
	"github.com/xkilldash9x/hostkeep/internal/observability"
	"github.com/xkilldash9x/hostkeep/internal/service"
)

type contextKey string

const appKey contextKey = "app"

// App is what PersistentPreRunE hands to every subcommand.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Factory service.ComponentFactory
}

// appFrom retrieves the App stored on the command context.
func appFrom(cmd *cobra.Command) (*App, error) {
	app, ok := cmd.Context().Value(appKey).(*App)
	if !ok || app == nil {
		return nil, errors.New("application not initialized")
	}
	return app, nil
}

// NewRootCommand builds a fresh command tree. Every invocation gets its own viper instance
// and logger, so the tree can be executed repeatedly in one process.
func NewRootCommand(factory service.ComponentFactory) *cobra.Command {
	var cfgFile, envFile string

	rootCmd := &cobra.Command{
		Use:   "hostkeep",
		Short: "Hostkeep keeps hosting panel accounts alive by logging in to them.",
		Long: `Hostkeep logs in to every configured hosting panel account through a real browser,
retrying with fresh fingerprints and rotated proxies, and sends one summary per run.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}

			v := viper.New()
			config.SetDefaults(v)
			if err := initializeConfig(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			logger := observability.NewLogger(cfg.Logger, cmd.ErrOrStderr())
			logger.Debug("Starting hostkeep", zap.String("version", Version), zap.String("command", cmd.Name()))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, appKey, &App{Config: cfg, Logger: logger, Factory: factory}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app, err := appFrom(cmd); err == nil {
				observability.Sync(app.Logger)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newProxiesCmd())
	rootCmd.AddCommand(newDaemonCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the production command tree with the given context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand(service.NewComponentFactory())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

// loadEnvFile populates the process environment from a dotenv file. Variables already set
// are left alone and a missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading env file %s: %w", path, err)
	}
	return nil
}

// initializeConfig reads in the config file and ENV variables if set.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		// An explicitly named file must exist.
		if _, err := os.Stat(cfgFile); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}
