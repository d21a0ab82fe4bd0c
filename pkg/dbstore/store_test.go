package dbstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/ethpandaops/dbbot/pkg/dbstore"
)

func setupTestStore(t *testing.T) dbstore.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: config.InMemoryPath},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := dbstore.NewStore(log, cfg, 2)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func count(t *testing.T, s dbstore.Store, table string) int64 {
	t.Helper()

	var n int64
	require.NoError(t, s.DB().Table(table).Count(&n).Error)

	return n
}

func TestStore_StartIsIdempotent(t *testing.T) {
	s := setupTestStore(t)

	// Running migrations again against the same connection must not fail.
	require.NoError(t, s.Start(context.Background()))

	for _, table := range []string{
		dbstore.TableTestRuns, dbstore.TableTestRunStatus, dbstore.TableTestRunErrors,
		dbstore.TableTagStatus, dbstore.TableSuites, dbstore.TableSuiteStatus,
		dbstore.TableTests, dbstore.TableTestStatus, dbstore.TableKeywords,
		dbstore.TableKeywordStatus, dbstore.TableMessages, dbstore.TableTags,
		dbstore.TableArguments,
	} {
		assert.True(t, s.DB().Migrator().HasTable(table), table)
	}
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := dbstore.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"}, 0)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	require.NoError(t, s.Stop())
}

func TestWriter_InsertConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.Transaction(ctx, func(w *dbstore.Writer) error {
		id, err := w.Insert(ctx, &dbstore.Suite{Name: "Login Tests", Source: "login.robot", XMLID: "s1"})
		require.NoError(t, err)
		assert.NotZero(t, id)

		_, err = w.Insert(ctx, &dbstore.Suite{Name: "Login Tests", Source: "login.robot", XMLID: "s2"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, dbstore.ErrConflict))

		var conflict *dbstore.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, dbstore.TableSuites, conflict.Table)

		// The transaction stays usable after the conflict.
		_, err = w.Insert(ctx, &dbstore.Suite{Name: "Other", Source: "other.robot", XMLID: "s3"})

		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), count(t, s, dbstore.TableSuites))
}

func TestWriter_InsertOrResolve(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	w := s.Writer()

	first, err := w.InsertOrResolve(ctx, &dbstore.Suite{Name: "Root", Source: "root"})
	require.NoError(t, err)
	assert.Equal(t, dbstore.Created, first.Outcome)

	second, err := w.InsertOrResolve(ctx, &dbstore.Suite{Name: "Root", Source: "root", Doc: "changed"})
	require.NoError(t, err)
	assert.Equal(t, dbstore.Resolved, second.Outcome)
	assert.Equal(t, first.ID, second.ID)

	kwA, err := w.InsertOrResolve(ctx, &dbstore.Keyword{Name: "Log", Type: "kw", SuiteID: &first.ID})
	require.NoError(t, err)

	test, err := w.InsertOrResolve(ctx, &dbstore.Test{SuiteID: first.ID, Name: "t"})
	require.NoError(t, err)

	// Keyword identity ignores the parent slot.
	kwB, err := w.InsertOrResolve(ctx, &dbstore.Keyword{Name: "Log", Type: "kw", TestID: &test.ID})
	require.NoError(t, err)
	assert.Equal(t, dbstore.Resolved, kwB.Outcome)
	assert.Equal(t, kwA.ID, kwB.ID)

	kwC, err := w.InsertOrResolve(ctx, &dbstore.Keyword{Name: "Log", Type: "setup", TestID: &test.ID})
	require.NoError(t, err)
	assert.Equal(t, dbstore.Created, kwC.Outcome)
}

func TestWriter_InsertOrIgnore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	w := s.Writer()

	run := &dbstore.TestRun{
		Hash:       "abc",
		SourceFile: "output.xml",
		StartedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC),
		ImportedAt: time.Now().UTC(),
	}
	runID, err := w.Insert(ctx, run)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, w.InsertOrIgnore(ctx, &dbstore.TestRunStatus{
			TestRunID: runID, Name: "All Tests", Passed: 1,
		}))
	}

	assert.Equal(t, int64(1), count(t, s, dbstore.TableTestRunStatus))
}

func TestWriter_InsertManyOrIgnore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	w := s.Writer()

	suite, err := w.InsertOrResolve(ctx, &dbstore.Suite{Name: "S", Source: "s"})
	require.NoError(t, err)

	test, err := w.InsertOrResolve(ctx, &dbstore.Test{SuiteID: suite.ID, Name: "T"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		tags     []dbstore.Tag
		expected int64
	}{
		{name: "empty input is a no-op", tags: nil, expected: 0},
		{
			name: "duplicates within one batch are ignored",
			tags: []dbstore.Tag{
				{TestID: test.ID, Content: "smoke"},
				{TestID: test.ID, Content: "smoke"},
				{TestID: test.ID, Content: "login"},
			},
			expected: 2,
		},
		{
			name: "repeats across calls are ignored",
			tags: []dbstore.Tag{
				{TestID: test.ID, Content: "smoke"},
				{TestID: test.ID, Content: "regression"},
			},
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, dbstore.InsertManyOrIgnore(ctx, w, tt.tags))
			assert.Equal(t, tt.expected, count(t, s, dbstore.TableTags))
		})
	}
}

func TestWriter_FetchIDAndExists(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	w := s.Writer()

	_, err := w.FetchID(ctx, dbstore.TableSuites, map[string]any{"name": "missing", "source": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dbstore.ErrNotFound))

	var notFound *dbstore.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, dbstore.TableSuites, notFound.Table)

	id, err := w.Insert(ctx, &dbstore.Suite{Name: "found", Source: "x"})
	require.NoError(t, err)

	got, err := w.FetchID(ctx, dbstore.TableSuites, map[string]any{"name": "found", "source": "x"})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	exists, err := w.Exists(ctx, dbstore.TableSuites, map[string]any{"name": "found"})
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = w.Exists(ctx, dbstore.TableSuites, map[string]any{"name": "missing"})
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")

	err := s.Transaction(ctx, func(w *dbstore.Writer) error {
		_, err := w.Insert(ctx, &dbstore.Suite{Name: "rolled back", Source: "x"})
		require.NoError(t, err)

		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(0), count(t, s, dbstore.TableSuites))
}

func TestWriter_ForeignKeysEnforced(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Writer().Insert(ctx, &dbstore.Test{SuiteID: 9999, Name: "orphan"})
	require.Error(t, err)

	var storeErr *dbstore.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.False(t, errors.Is(err, dbstore.ErrConflict))
}

func TestStore_ForeignKeysPointAtParents(t *testing.T) {
	s := setupTestStore(t)

	type foreignKey struct {
		Table string
		From  string
		To    string
	}

	tests := []struct {
		table string
		want  map[string]string
	}{
		{table: dbstore.TableSuites, want: map[string]string{"parent_id": dbstore.TableSuites}},
		{table: dbstore.TableTests, want: map[string]string{"suite_id": dbstore.TableSuites}},
		{
			table: dbstore.TableKeywords,
			want: map[string]string{
				"suite_id":  dbstore.TableSuites,
				"test_id":   dbstore.TableTests,
				"parent_id": dbstore.TableKeywords,
			},
		},
		{
			table: dbstore.TableSuiteStatus,
			want: map[string]string{
				"test_run_id": dbstore.TableTestRuns,
				"suite_id":    dbstore.TableSuites,
			},
		},
		{
			table: dbstore.TableKeywordStatus,
			want: map[string]string{
				"test_run_id": dbstore.TableTestRuns,
				"keyword_id":  dbstore.TableKeywords,
			},
		},
		{table: dbstore.TableMessages, want: map[string]string{"keyword_id": dbstore.TableKeywords}},
		{table: dbstore.TableArguments, want: map[string]string{"keyword_id": dbstore.TableKeywords}},
		{table: dbstore.TableTags, want: map[string]string{"test_id": dbstore.TableTests}},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			var rows []foreignKey
			require.NoError(t, s.DB().Raw("PRAGMA foreign_key_list(" + tt.table + ")").Scan(&rows).Error)

			got := make(map[string]string, len(rows))
			for _, row := range rows {
				assert.Equal(t, "id", row.To, "%s.%s", tt.table, row.From)
				got[row.From] = row.Table
			}

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriter_NestedParentsInsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Transaction(ctx, func(w *dbstore.Writer) error {
		rootID, err := w.Insert(ctx, &dbstore.Suite{Name: "Root", Source: "tests"})
		require.NoError(t, err)

		childID, err := w.Insert(ctx, &dbstore.Suite{ParentID: &rootID, Name: "Child", Source: "tests/child.robot"})
		require.NoError(t, err)

		testID, err := w.Insert(ctx, &dbstore.Test{SuiteID: childID, Name: "nested"})
		require.NoError(t, err)

		outerID, err := w.Insert(ctx, &dbstore.Keyword{TestID: &testID, Name: "Outer", Type: "KEYWORD"})
		require.NoError(t, err)

		_, err = w.Insert(ctx, &dbstore.Keyword{ParentID: &outerID, Name: "Inner", Type: "KEYWORD"})

		return err
	}))

	assert.Equal(t, int64(2), count(t, s, dbstore.TableSuites))
	assert.Equal(t, int64(2), count(t, s, dbstore.TableKeywords))

	// A dangling parent is still rejected.
	missing := uint(9999)
	_, err := s.Writer().Insert(ctx, &dbstore.Suite{ParentID: &missing, Name: "Orphan", Source: "x"})
	require.Error(t, err)
}
