package main

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/dbbot/pkg/dbstore"
	"github.com/ethpandaops/dbbot/pkg/importer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// errImportFailed makes the process exit non-zero when any file failed.
var errImportFailed = errors.New("one or more files failed to import")

var (
	importDatabase       string
	importVerbose        bool
	importDryRun         bool
	importAlsoKeywords   bool
	importSkipDuplicates bool
)

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Import Robot Framework output.xml files",
	Long: `Import one or more Robot Framework output.xml files. Each file is
committed in its own transaction; a failing file does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	f := importCmd.Flags()
	f.StringVarP(&importDatabase, "database", "b", "",
		"SQLite database file (overrides database config)")
	f.BoolVarP(&importVerbose, "verbose", "v", false,
		"log every imported suite and test")
	f.BoolVarP(&importDryRun, "dry-run", "d", false,
		"import into a temporary in-memory database")
	f.BoolVarP(&importAlsoKeywords, "also-keywords", "k", false,
		"also import keywords and their messages")
	f.BoolVar(&importSkipDuplicates, "skip-duplicates", false,
		"skip files whose fingerprint is already stored")
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(importDatabase)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("also-keywords") {
		cfg.Import.IncludeKeywords = importAlsoKeywords
	}

	if cmd.Flags().Changed("skip-duplicates") {
		cfg.Import.SkipDuplicates = importSkipDuplicates
	}

	if importDryRun || cfg.Import.DryRun {
		cfg = cfg.ForDryRun()
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if importVerbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := importer.ValidateFiles(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	store := dbstore.NewStore(log, &cfg.Database, cfg.Import.BatchSize)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	imp := importer.New(log, store, importer.Options{
		IncludeKeywords: cfg.Import.IncludeKeywords,
		SkipDuplicates:  cfg.Import.SkipDuplicates,
	})

	rep, err := imp.ImportFiles(ctx, args)
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}

	if cfg.Import.DryRun {
		log.Info("Dry run finished, nothing was persisted")
	}

	if len(rep.Failed()) > 0 {
		return errImportFailed
	}

	return nil
}
