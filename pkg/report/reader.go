// Package report queries failure statistics from the store and renders
// them as HTML.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/dbbot/pkg/dbstore"
	"github.com/ethpandaops/dbbot/pkg/result"
	"gorm.io/gorm"
)

// SuiteFailure is a suite ranked by its number of failed runs.
type SuiteFailure struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Source    string `json:"source"`
	FailCount int64  `json:"fail_count"`
}

// TestFailure is a test ranked by its number of failed runs.
type TestFailure struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	SuiteID   uint   `json:"suite_id"`
	SuiteName string `json:"suite_name"`
	FailCount int64  `json:"fail_count"`
}

// KeywordFailure is a keyword ranked by its number of failed runs.
type KeywordFailure struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	FailCount int64  `json:"fail_count"`
}

// RunSummary is an imported run with its test outcome totals.
type RunSummary struct {
	ID         uint      `json:"id"`
	SourceFile string    `json:"source_file"`
	Generator  string    `json:"generator"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ImportedAt time.Time `json:"imported_at"`
	Passed     int64     `json:"passed"`
	Failed     int64     `json:"failed"`
	Skipped    int64     `json:"skipped"`
}

// Duration is the wall time of the run.
func (r RunSummary) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}

// Reader runs the read-only reporting queries. A limit of zero or less
// returns all rows. An empty store yields empty slices.
type Reader interface {
	MostFailedSuites(ctx context.Context, limit int) ([]SuiteFailure, error)
	// MostFailedTests ranks tests, optionally only those of one suite.
	MostFailedTests(
		ctx context.Context, suiteID *uint, limit int,
	) ([]TestFailure, error)
	// MostFailedKeywords ranks keywords, optionally only those called
	// directly by one test.
	MostFailedKeywords(
		ctx context.Context, testID *uint, limit int,
	) ([]KeywordFailure, error)
	RunSummaries(ctx context.Context, limit int) ([]RunSummary, error)
}

// Compile-time interface check.
var _ Reader = (*reader)(nil)

type reader struct {
	db *gorm.DB
}

// NewReader creates a Reader over an open database.
func NewReader(db *gorm.DB) Reader {
	return &reader{db: db}
}

func withLimit(q *gorm.DB, limit int) *gorm.DB {
	if limit > 0 {
		return q.Limit(limit)
	}

	return q
}

func (r *reader) MostFailedSuites(
	ctx context.Context, limit int,
) ([]SuiteFailure, error) {
	rows := make([]SuiteFailure, 0)

	q := r.db.WithContext(ctx).
		Table(dbstore.TableSuiteStatus).
		Select("suites.id AS id, suites.name AS name, suites.source AS source, COUNT(*) AS fail_count").
		Joins("JOIN suites ON suites.id = suite_status.suite_id").
		Where("suite_status.status = ?", result.StatusFail).
		Group("suites.id, suites.name, suites.source").
		Order("fail_count DESC, suites.name ASC, suites.id ASC")

	if err := withLimit(q, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying most failed suites: %w", err)
	}

	return rows, nil
}

func (r *reader) MostFailedTests(
	ctx context.Context, suiteID *uint, limit int,
) ([]TestFailure, error) {
	rows := make([]TestFailure, 0)

	q := r.db.WithContext(ctx).
		Table(dbstore.TableTestStatus).
		Select("tests.id AS id, tests.name AS name, tests.suite_id AS suite_id, " +
			"suites.name AS suite_name, COUNT(*) AS fail_count").
		Joins("JOIN tests ON tests.id = test_status.test_id").
		Joins("JOIN suites ON suites.id = tests.suite_id").
		Where("test_status.status = ?", result.StatusFail)

	if suiteID != nil {
		q = q.Where("tests.suite_id = ?", *suiteID)
	}

	q = q.Group("tests.id, tests.name, tests.suite_id, suites.name").
		Order("fail_count DESC, tests.name ASC, tests.id ASC")

	if err := withLimit(q, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying most failed tests: %w", err)
	}

	return rows, nil
}

func (r *reader) MostFailedKeywords(
	ctx context.Context, testID *uint, limit int,
) ([]KeywordFailure, error) {
	rows := make([]KeywordFailure, 0)

	q := r.db.WithContext(ctx).
		Table(dbstore.TableKeywordStatus).
		Select("keywords.id AS id, keywords.name AS name, keywords.type AS type, COUNT(*) AS fail_count").
		Joins("JOIN keywords ON keywords.id = keyword_status.keyword_id").
		Where("keyword_status.status = ?", result.StatusFail)

	if testID != nil {
		q = q.Where("keywords.test_id = ?", *testID)
	}

	q = q.Group("keywords.id, keywords.name, keywords.type").
		Order("fail_count DESC, keywords.name ASC, keywords.id ASC")

	if err := withLimit(q, limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying most failed keywords: %w", err)
	}

	return rows, nil
}

func (r *reader) RunSummaries(
	ctx context.Context, limit int,
) ([]RunSummary, error) {
	var runs []dbstore.TestRun

	q := r.db.WithContext(ctx).Order("started_at DESC, id DESC")
	if err := withLimit(q, limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	summaries := make([]RunSummary, 0, len(runs))
	if len(runs) == 0 {
		return summaries, nil
	}

	ids := make([]uint, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}

	var counts []struct {
		TestRunID uint
		Status    string
		N         int64
	}

	if err := r.db.WithContext(ctx).
		Table(dbstore.TableTestStatus).
		Select("test_run_id, status, COUNT(*) AS n").
		Where("test_run_id IN ?", ids).
		Group("test_run_id, status").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting test outcomes: %w", err)
	}

	byRun := make(map[uint]map[string]int64, len(runs))
	for _, c := range counts {
		if byRun[c.TestRunID] == nil {
			byRun[c.TestRunID] = make(map[string]int64, 3)
		}

		byRun[c.TestRunID][c.Status] = c.N
	}

	for _, run := range runs {
		statuses := byRun[run.ID]

		summaries = append(summaries, RunSummary{
			ID:         run.ID,
			SourceFile: run.SourceFile,
			Generator:  run.Generator,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
			ImportedAt: run.ImportedAt,
			Passed:     statuses[result.StatusPass],
			Failed:     statuses[result.StatusFail],
			Skipped:    statuses[result.StatusSkip],
		})
	}

	return summaries, nil
}
