// Package mapper writes a result tree into the store. Structural rows
// (suites, tests, keywords) are inserted or resolved by natural key and
// shared across runs; status rows are written per run.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/dbbot/pkg/dbstore"
	"github.com/ethpandaops/dbbot/pkg/result"
	"github.com/sirupsen/logrus"
)

// Options controls which parts of the tree are written.
type Options struct {
	// IncludeKeywords enables descent into keywords. When false no
	// keyword, keyword status, message or argument rows are written.
	IncludeKeywords bool
}

// Counter counts structural rows by outcome.
type Counter struct {
	Created  int
	Resolved int
}

func (c *Counter) add(o dbstore.Outcome) {
	if o == dbstore.Resolved {
		c.Resolved++

		return
	}

	c.Created++
}

// Summary describes what a single Map call wrote.
type Summary struct {
	RunID      uint
	RunOutcome dbstore.Outcome
	Suites     Counter
	Tests      Counter
	Keywords   Counter
}

// Mapper walks result trees and writes them through a dbstore.Writer.
type Mapper struct {
	log  logrus.FieldLogger
	opts Options
	now  func() time.Time
}

// New creates a Mapper.
func New(log logrus.FieldLogger, opts Options) *Mapper {
	return &Mapper{
		log:  log.WithField("component", "mapper"),
		opts: opts,
		now:  time.Now,
	}
}

// parentSlot holds the parent of a keyword. Exactly one field is set.
type parentSlot struct {
	suiteID   *uint
	testID    *uint
	keywordID *uint
}

// Map writes the run and its whole tree. The caller owns the transaction
// and must not commit when an error is returned.
func (m *Mapper) Map(
	ctx context.Context,
	w *dbstore.Writer,
	run *result.Run,
	fingerprint string,
) (*Summary, error) {
	if run.Suite == nil {
		return nil, fmt.Errorf("mapping %s: result has no root suite", run.Source)
	}

	res, err := m.resolveRun(ctx, w, run, fingerprint)
	if err != nil {
		return nil, err
	}

	sum := &Summary{RunID: res.ID, RunOutcome: res.Outcome}

	log := m.log.WithFields(logrus.Fields{
		"run_id":  res.ID,
		"outcome": res.Outcome,
	})
	log.Debug("Resolved test run")

	if err := m.runErrors(ctx, w, res.ID, run.Errors); err != nil {
		return nil, err
	}

	if err := m.statistics(ctx, w, res.ID, run.Statistics); err != nil {
		return nil, err
	}

	if err := m.suite(ctx, w, res.ID, run.Suite, nil, sum); err != nil {
		return nil, err
	}

	return sum, nil
}

// resolveRun inserts the run or finds the existing one by
// (source, start, end), falling back to the fingerprint.
func (m *Mapper) resolveRun(
	ctx context.Context,
	w *dbstore.Writer,
	run *result.Run,
	fingerprint string,
) (dbstore.Resolution, error) {
	row := &dbstore.TestRun{
		Hash:       fingerprint,
		Generator:  run.Generator,
		SourceFile: run.Source,
		StartedAt:  run.StartTime(),
		FinishedAt: run.EndTime(),
		ImportedAt: m.now().UTC(),
	}

	id, err := w.Insert(ctx, row)
	if err == nil {
		return dbstore.Resolution{ID: id, Outcome: dbstore.Created}, nil
	}

	if !errors.Is(err, dbstore.ErrConflict) {
		return dbstore.Resolution{}, fmt.Errorf("inserting test run: %w", err)
	}

	id, err = w.FetchID(ctx, dbstore.TableTestRuns, row.NaturalKey())
	if errors.Is(err, dbstore.ErrNotFound) {
		id, err = w.FetchID(ctx, dbstore.TableTestRuns, map[string]any{"hash": fingerprint})
	}

	if err != nil {
		return dbstore.Resolution{}, fmt.Errorf("resolving test run: %w", err)
	}

	return dbstore.Resolution{ID: id, Outcome: dbstore.Resolved}, nil
}

func (m *Mapper) runErrors(
	ctx context.Context,
	w *dbstore.Writer,
	runID uint,
	messages []result.Message,
) error {
	rows := make([]dbstore.TestRunError, 0, len(messages))
	for _, msg := range messages {
		rows = append(rows, dbstore.TestRunError{
			TestRunID: runID,
			Level:     msg.Level,
			Timestamp: msg.Timestamp,
			Content:   msg.Text,
		})
	}

	if err := dbstore.InsertManyOrIgnore(ctx, w, rows); err != nil {
		return fmt.Errorf("writing run errors: %w", err)
	}

	return nil
}

func (m *Mapper) statistics(
	ctx context.Context,
	w *dbstore.Writer,
	runID uint,
	stats result.Statistics,
) error {
	for _, stat := range stats.Total {
		if err := w.InsertOrIgnore(ctx, &dbstore.TestRunStatus{
			TestRunID: runID,
			Name:      stat.Name,
			Elapsed:   stat.Elapsed,
			Failed:    stat.Failed,
			Passed:    stat.Passed,
		}); err != nil {
			return fmt.Errorf("writing run statistics: %w", err)
		}
	}

	for _, stat := range stats.Tags {
		if err := w.InsertOrIgnore(ctx, &dbstore.TagStatus{
			TestRunID: runID,
			Name:      stat.Name,
			Critical:  stat.Critical,
			Elapsed:   stat.Elapsed,
			Failed:    stat.Failed,
			Passed:    stat.Passed,
		}); err != nil {
			return fmt.Errorf("writing tag statistics: %w", err)
		}
	}

	return nil
}

func (m *Mapper) suite(
	ctx context.Context,
	w *dbstore.Writer,
	runID uint,
	s *result.Suite,
	parentID *uint,
	sum *Summary,
) error {
	m.log.WithField("suite", s.Name).Debug("Mapping suite")

	res, err := w.InsertOrResolve(ctx, &dbstore.Suite{
		ParentID: parentID,
		XMLID:    s.ID,
		Name:     s.Name,
		Source:   s.Source,
		Doc:      s.Doc,
	})
	if err != nil {
		return fmt.Errorf("writing suite %q: %w", s.Name, err)
	}

	sum.Suites.add(res.Outcome)

	suiteID := res.ID
	passed, failed := s.Counts()

	if err := w.InsertOrIgnore(ctx, &dbstore.SuiteStatus{
		TestRunID: runID,
		SuiteID:   suiteID,
		Elapsed:   s.Elapsed,
		Failed:    failed,
		Passed:    passed,
		Status:    s.Status,
	}); err != nil {
		return fmt.Errorf("writing status of suite %q: %w", s.Name, err)
	}

	for _, sub := range s.Suites {
		if err := m.suite(ctx, w, runID, sub, &suiteID, sum); err != nil {
			return err
		}
	}

	for _, t := range s.Tests {
		if err := m.test(ctx, w, runID, t, suiteID, sum); err != nil {
			return err
		}
	}

	return m.keywords(ctx, w, runID, s.Keywords, parentSlot{suiteID: &suiteID}, sum)
}

func (m *Mapper) test(
	ctx context.Context,
	w *dbstore.Writer,
	runID uint,
	t *result.Test,
	suiteID uint,
	sum *Summary,
) error {
	m.log.WithField("test", t.Name).Debug("Mapping test")

	res, err := w.InsertOrResolve(ctx, &dbstore.Test{
		SuiteID: suiteID,
		XMLID:   t.ID,
		Name:    t.Name,
		Timeout: t.Timeout,
		Doc:     t.Doc,
	})
	if err != nil {
		return fmt.Errorf("writing test %q: %w", t.Name, err)
	}

	sum.Tests.add(res.Outcome)

	testID := res.ID

	if err := w.InsertOrIgnore(ctx, &dbstore.TestStatus{
		TestRunID: runID,
		TestID:    testID,
		Status:    t.Status,
		Elapsed:   t.Elapsed,
	}); err != nil {
		return fmt.Errorf("writing status of test %q: %w", t.Name, err)
	}

	tags := make([]dbstore.Tag, 0, len(t.Tags))
	for _, tag := range t.Tags {
		tags = append(tags, dbstore.Tag{TestID: testID, Content: tag})
	}

	if err := dbstore.InsertManyOrIgnore(ctx, w, tags); err != nil {
		return fmt.Errorf("writing tags of test %q: %w", t.Name, err)
	}

	return m.keywords(ctx, w, runID, t.Keywords, parentSlot{testID: &testID}, sum)
}

func (m *Mapper) keywords(
	ctx context.Context,
	w *dbstore.Writer,
	runID uint,
	keywords []*result.Keyword,
	parent parentSlot,
	sum *Summary,
) error {
	if !m.opts.IncludeKeywords {
		return nil
	}

	for _, kw := range keywords {
		if err := m.keyword(ctx, w, runID, kw, parent, sum); err != nil {
			return err
		}
	}

	return nil
}

func (m *Mapper) keyword(
	ctx context.Context,
	w *dbstore.Writer,
	runID uint,
	kw *result.Keyword,
	parent parentSlot,
	sum *Summary,
) error {
	res, err := w.InsertOrResolve(ctx, &dbstore.Keyword{
		SuiteID:  parent.suiteID,
		TestID:   parent.testID,
		ParentID: parent.keywordID,
		Name:     kw.Name,
		Type:     kw.Type,
		Timeout:  kw.Timeout,
		Doc:      kw.Doc,
	})
	if err != nil {
		return fmt.Errorf("writing keyword %q: %w", kw.Name, err)
	}

	sum.Keywords.add(res.Outcome)

	keywordID := res.ID

	if err := w.InsertOrIgnore(ctx, &dbstore.KeywordStatus{
		TestRunID: runID,
		KeywordID: keywordID,
		Status:    kw.Status,
		Elapsed:   kw.Elapsed,
	}); err != nil {
		return fmt.Errorf("writing status of keyword %q: %w", kw.Name, err)
	}

	messages := make([]dbstore.Message, 0, len(kw.Messages))
	for _, msg := range kw.Messages {
		messages = append(messages, dbstore.Message{
			KeywordID: keywordID,
			Level:     msg.Level,
			Timestamp: msg.Timestamp,
			Content:   msg.Text,
		})
	}

	if err := dbstore.InsertManyOrIgnore(ctx, w, messages); err != nil {
		return fmt.Errorf("writing messages of keyword %q: %w", kw.Name, err)
	}

	args := make([]dbstore.Argument, 0, len(kw.Args))
	for _, arg := range kw.Args {
		args = append(args, dbstore.Argument{KeywordID: keywordID, Content: arg})
	}

	if err := dbstore.InsertManyOrIgnore(ctx, w, args); err != nil {
		return fmt.Errorf("writing arguments of keyword %q: %w", kw.Name, err)
	}

	return m.keywords(ctx, w, runID, kw.Keywords, parentSlot{keywordID: &keywordID}, sum)
}
