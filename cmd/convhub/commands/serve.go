package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/convhub/convhub/blob"
	"github.com/convhub/convhub/config"
	"github.com/convhub/convhub/db"
	"github.com/convhub/convhub/errors"
	"github.com/convhub/convhub/logger"
	"github.com/convhub/convhub/server"
)

// ServeCmd starts the ConvHub server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the ConvHub HTTP/WebSocket server",
	Long:    `Launch the ConvHub server. Clients create and browse jobs over the REST API and watch applicant updates over the /ws WebSocket endpoint.`,
	RunE:    runServe,
}

var (
	servePort   int
	serveDBPath string
	serveWatch  bool
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
	ServeCmd.Flags().BoolVar(&serveWatch, "watch-config", false, "Reload config when convhub.toml changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	dbPath := cfg.Database.Path
	if serveDBPath != "" {
		dbPath = serveDBPath
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	blobs, err := blob.NewStore(cfg.Files.Dir)
	if err != nil {
		return errors.Wrap(err, "failed to initialize file store")
	}

	printStartupBanner(port, dbPath, cfg.Files.Dir)

	srv := server.New(database, cfg, blobs, logger.Logger)

	if serveWatch {
		if path := config.ProjectConfigPath(); path != "" {
			watcher, werr := config.NewConfigWatcher(path)
			if werr != nil {
				logger.Warnw("Config watcher unavailable", "error", werr)
			} else {
				watcher.OnReload(func(newCfg *config.Config) error {
					logger.Infow("Configuration reloaded; restart to apply server settings")
					return nil
				})
				watcher.Start()
				defer watcher.Stop()
			}
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			shutdownDone <- srv.Shutdown(ctx)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}
