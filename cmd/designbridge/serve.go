package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artfold/designbridge/bootstrap"
	"github.com/artfold/designbridge/config"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the host editor and start serving",
	Long: `Start the designbridge process.

The process will:
  - Load configuration from designbridge.yaml (or --config)
  - Or load configuration from DESIGNBRIDGE_* environment variables
  - Connect to the host editor's scripting endpoint
  - Pull the initial document model and subscribe to host notifications
  - Serve diagnostics on the admin endpoint if enabled

Environment variables:
  DESIGNBRIDGE_BRIDGE_URL       - Host scripting endpoint (ws:// or wss://)
  DESIGNBRIDGE_BRIDGE_MODE      - websocket or mock
  DESIGNBRIDGE_JOURNAL_PATH     - Journal database path
  DESIGNBRIDGE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  designbridge serve
  designbridge serve --config /etc/designbridge/config.yaml
  designbridge serve --hot-reload=false

  # Env vars only:
  DESIGNBRIDGE_BRIDGE_URL=ws://127.0.0.1:8899/scripting designbridge serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if hasConfigFile && hotReload {
		app, err := bootstrap.New(cfgFile)
		if err != nil {
			return fmt.Errorf("error initializing: %w", err)
		}
		if err := app.Config.WatchFile(); err != nil {
			app.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		app.Config.WatchSignals()
		return app.Run()
	}

	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !hasConfigFile {
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}
	return app.Run()
}
