package report

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options controls what Collect gathers.
type Options struct {
	Title string
	// Limit caps each ranked table; zero means no limit.
	Limit int
}

// Summary is everything the HTML report shows.
type Summary struct {
	Title       string           `json:"title"`
	GeneratedAt time.Time        `json:"generated_at"`
	Runs        []RunSummary     `json:"runs"`
	Suites      []SuiteFailure   `json:"suites"`
	Tests       []TestFailure    `json:"tests"`
	Keywords    []KeywordFailure `json:"keywords"`
}

// Collect runs the ranking queries concurrently.
func Collect(ctx context.Context, r Reader, opts Options) (*Summary, error) {
	s := &Summary{
		Title:       opts.Title,
		GeneratedAt: time.Now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runs, err := r.RunSummaries(gctx, opts.Limit)
		if err != nil {
			return err
		}

		s.Runs = runs

		return nil
	})

	g.Go(func() error {
		suites, err := r.MostFailedSuites(gctx, opts.Limit)
		if err != nil {
			return err
		}

		s.Suites = suites

		return nil
	})

	g.Go(func() error {
		tests, err := r.MostFailedTests(gctx, nil, opts.Limit)
		if err != nil {
			return err
		}

		s.Tests = tests

		return nil
	})

	g.Go(func() error {
		keywords, err := r.MostFailedKeywords(gctx, nil, opts.Limit)
		if err != nil {
			return err
		}

		s.Keywords = keywords

		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collecting report: %w", err)
	}

	return s, nil
}
