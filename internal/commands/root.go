package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"xcoffee/internal/config"
	"xcoffee/internal/logger"
	"xcoffee/internal/ui"
	processing "xcoffee/processing/viewer"
)

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:   "xcoffee",
		Short: "xcoffee - watch the HNF coffee pot",
		Long: `xcoffee opens a window showing the live MJPEG stream of the coffee pot
camera at the Heinz Nixdorf MuseumsForum.

Tick "Trojan View" to see the pot the way the 1991 Trojan Room camera did:
grayscale and 128x128.`,
		Example: `  # Open the viewer
  xcoffee

  # Start in Trojan view
  xcoffee --trojan

  # Watch a different MJPEG endpoint
  xcoffee --url http://127.0.0.1:8080/stream`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
		RunE:              runViewer,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/xcoffee/config.yaml)")
	flags.String("url", "", "MJPEG stream URL (default "+config.DefaultStreamURL+")")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("trojan", false, "start with the Trojan view filter enabled")
}

// loadConfig resolves the effective config from defaults, the config file,
// XCOFFEE_* environment variables and flags, in rising precedence.
func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.New()

	flags := cmd.Root().PersistentFlags()
	for key, name := range map[string]string{
		"stream_url":  "url",
		"log_level":   "log-level",
		"trojan_view": "trojan",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}

	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	logger.WithComponent("cli").Debug().Str("config", cfg.Path()).Msg("configuration loaded")

	return nil
}

func runViewer(cmd *cobra.Command, args []string) error {
	proc := processing.NewProcessor(cfg, nil)

	app := ui.CreateApp(proc, cfg)
	app.Run()

	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
