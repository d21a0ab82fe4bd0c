package main

import (
	"fmt"

	"github.com/ethpandaops/dbbot/pkg/api"
	"github.com/spf13/cobra"
)

var (
	serveDatabase string
	serveListen   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only API server",
	Long:  `Serve the failure rankings and the HTML report over HTTP.`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveDatabase, "database", "b", "",
		"SQLite database file (overrides database config)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"listen address (overrides api config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveDatabase)
	if err != nil {
		return err
	}

	if serveListen != "" {
		cfg.API.Server.Listen = serveListen
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := api.NewServer(log, cfg)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
