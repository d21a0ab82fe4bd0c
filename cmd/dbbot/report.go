package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/ethpandaops/dbbot/pkg/dbstore"
	"github.com/ethpandaops/dbbot/pkg/fsutil"
	"github.com/ethpandaops/dbbot/pkg/report"
	"github.com/ethpandaops/dbbot/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	reportDatabase string
	reportOutput   string
	reportLimit    int
	reportUpload   bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the failure report as HTML",
	Long: `Rank the most frequently failing suites, tests and keywords stored in
the database and write them to an HTML file.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	f := reportCmd.Flags()
	f.StringVarP(&reportDatabase, "database", "b", "",
		"SQLite database file (overrides database config)")
	f.StringVarP(&reportOutput, "output", "o", "",
		"HTML output file (overrides report config)")
	f.IntVar(&reportLimit, "limit", 0,
		"maximum rows per table, 0 for no limit (overrides report config)")
	f.BoolVar(&reportUpload, "upload", false,
		"upload the report to the configured S3 bucket")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(reportDatabase)
	if err != nil {
		return err
	}

	if reportOutput != "" {
		cfg.Report.Output = reportOutput
	}

	if cmd.Flags().Changed("limit") {
		cfg.Report.Limit = reportLimit
	}

	if reportUpload {
		cfg.Upload.S3.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if cfg.Database.Driver == "sqlite" && !cfg.Database.IsInMemory() {
		if _, err := os.Stat(cfg.Database.SQLite.Path); err != nil {
			return fmt.Errorf("opening database %s: %w", cfg.Database.SQLite.Path, err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	var uploader upload.Uploader

	if cfg.Upload.S3.Enabled {
		uploader, err = upload.NewS3Uploader(log, &cfg.Upload.S3)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("s3 preflight: %w", err)
		}
	}

	if err := writeReport(ctx, cfg); err != nil {
		return err
	}

	if uploader == nil {
		return nil
	}

	return uploadReport(ctx, cfg, uploader)
}

// writeReport collects the rankings and renders them to the output file.
// The store is closed on return so the database file is complete on disk.
func writeReport(ctx context.Context, cfg *config.Config) error {
	owner, err := fsutil.ParseOwner(cfg.Report.Owner)
	if err != nil {
		return fmt.Errorf("parsing report owner: %w", err)
	}

	store := dbstore.NewStore(log, &cfg.Database, cfg.Import.BatchSize)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	summary, err := report.Collect(ctx, report.NewReader(store.DB()), report.Options{
		Title: cfg.Report.Title,
		Limit: cfg.Report.Limit,
	})
	if err != nil {
		return err
	}

	if err := report.WriteHTMLFile(cfg.Report.Output, summary, owner); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	log.WithFields(logrus.Fields{
		"output": cfg.Report.Output,
		"runs":   len(summary.Runs),
		"suites": len(summary.Suites),
		"tests":  len(summary.Tests),
	}).Info("Report written")

	return nil
}

func uploadReport(ctx context.Context, cfg *config.Config, uploader upload.Uploader) error {
	files := []string{cfg.Report.Output}

	if cfg.Upload.S3.IncludeDatabase {
		if cfg.Database.Driver != "sqlite" || cfg.Database.IsInMemory() {
			log.Warn("Database upload requires a SQLite database file, skipping")
		} else {
			files = append(files, cfg.Database.SQLite.Path)
		}
	}

	for _, path := range files {
		key, err := uploader.UploadFile(ctx, path)
		if err != nil {
			return fmt.Errorf("uploading: %w", err)
		}

		log.WithFields(logrus.Fields{
			"file":   path,
			"bucket": cfg.Upload.S3.Bucket,
			"key":    key,
		}).Info("Upload completed")
	}

	return nil
}
