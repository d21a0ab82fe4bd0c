// Package importer runs the per-file import loop: fingerprint, optional
// duplicate skip, read, and a single transaction per file.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/dbbot/pkg/dbstore"
	"github.com/ethpandaops/dbbot/pkg/mapper"
	"github.com/ethpandaops/dbbot/pkg/result"
	"github.com/sirupsen/logrus"
)

// ErrMissingFiles is returned when input files do not exist.
var ErrMissingFiles = errors.New("result files not found")

// Options controls an import.
type Options struct {
	IncludeKeywords bool
	// SkipDuplicates skips files whose fingerprint is already stored.
	SkipDuplicates bool
}

// FileResult is the outcome of importing one file.
type FileResult struct {
	Path        string
	Fingerprint string
	Size        int64
	Skipped     bool
	Summary     *mapper.Summary
	Duration    time.Duration
	Err         error
}

// Report collects the per-file results of ImportFiles.
type Report struct {
	Files []FileResult
}

// Failed returns the files that could not be imported.
func (r *Report) Failed() []FileResult {
	failed := make([]FileResult, 0)

	for _, f := range r.Files {
		if f.Err != nil {
			failed = append(failed, f)
		}
	}

	return failed
}

// Imported returns the number of files committed to the store.
func (r *Report) Imported() int {
	n := 0

	for _, f := range r.Files {
		if f.Err == nil && !f.Skipped {
			n++
		}
	}

	return n
}

// Skipped returns the number of files skipped as duplicates.
func (r *Report) Skipped() int {
	n := 0

	for _, f := range r.Files {
		if f.Skipped {
			n++
		}
	}

	return n
}

// Importer imports result files into a store.
type Importer struct {
	log    logrus.FieldLogger
	store  dbstore.Store
	mapper *mapper.Mapper
	opts   Options
}

// New creates an Importer.
func New(
	log logrus.FieldLogger,
	store dbstore.Store,
	opts Options,
) *Importer {
	return &Importer{
		log:    log.WithField("component", "importer"),
		store:  store,
		mapper: mapper.New(log, mapper.Options{IncludeKeywords: opts.IncludeKeywords}),
		opts:   opts,
	}
}

// ValidateFiles checks that every path exists and is a regular file.
func ValidateFiles(paths []string) error {
	missing := make([]string, 0)

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			missing = append(missing, path)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingFiles, missing)
	}

	return nil
}

// ImportFiles imports the files sequentially. A failing file is logged and
// recorded in the report; the remaining files are still imported. The
// returned error is only set when the batch could not run at all.
func (i *Importer) ImportFiles(ctx context.Context, paths []string) (*Report, error) {
	if err := ValidateFiles(paths); err != nil {
		return nil, err
	}

	report := &Report{Files: make([]FileResult, 0, len(paths))}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := i.ImportFile(ctx, path)
		report.Files = append(report.Files, res)

		if res.Err != nil {
			i.log.WithError(res.Err).
				WithField("file", path).
				Error("Failed to import result file")
		}
	}

	i.log.WithFields(logrus.Fields{
		"imported": report.Imported(),
		"skipped":  report.Skipped(),
		"failed":   len(report.Failed()),
	}).Info("Import finished")

	return report, nil
}

// ImportFile imports a single file in its own transaction. Nothing is
// committed for the file when an error is returned in the result.
func (i *Importer) ImportFile(ctx context.Context, path string) FileResult {
	started := time.Now()
	res := FileResult{Path: path}

	log := i.log.WithField("file", path)

	digest, err := result.Fingerprint(path)
	if err != nil {
		res.Err = err

		return res
	}

	fingerprint := digest.Hash
	res.Fingerprint = fingerprint
	res.Size = digest.Size

	if i.opts.SkipDuplicates {
		exists, err := i.store.Writer().Exists(ctx, dbstore.TableTestRuns, map[string]any{
			"hash": fingerprint,
		})
		if err != nil {
			res.Err = fmt.Errorf("checking fingerprint: %w", err)

			return res
		}

		if exists {
			log.WithField("fingerprint", fingerprint).
				Info("Skipping already imported result file")

			res.Skipped = true

			return res
		}
	}

	run, err := result.ReadFile(path)
	if err != nil {
		res.Err = err

		return res
	}

	log.Debug("Parsed result file")

	err = i.store.Transaction(ctx, func(w *dbstore.Writer) error {
		sum, err := i.mapper.Map(ctx, w, run, fingerprint)
		if err != nil {
			return err
		}

		res.Summary = sum

		return nil
	})
	if err != nil {
		res.Summary = nil
		res.Err = fmt.Errorf("importing %s: %w", path, err)

		return res
	}

	res.Duration = time.Since(started)

	fields := logrus.Fields{
		"run_id":   res.Summary.RunID,
		"run":      res.Summary.RunOutcome,
		"suites":   res.Summary.Suites.Created + res.Summary.Suites.Resolved,
		"tests":    res.Summary.Tests.Created + res.Summary.Tests.Resolved,
		"duration": units.HumanDuration(res.Duration),
		"size":     units.HumanSize(float64(res.Size)),
	}

	if i.opts.IncludeKeywords {
		fields["keywords"] = res.Summary.Keywords.Created + res.Summary.Keywords.Resolved
	}

	log.WithFields(fields).Info("Imported result file")

	return res
}
