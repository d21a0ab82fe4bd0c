package dbstore

import "time"

// Table names.
const (
	TableTestRuns      = "test_runs"
	TableTestRunStatus = "test_run_status"
	TableTestRunErrors = "test_run_errors"
	TableTagStatus     = "tag_status"
	TableSuites        = "suites"
	TableSuiteStatus   = "suite_status"
	TableTests         = "tests"
	TableTestStatus    = "test_status"
	TableKeywords      = "keywords"
	TableKeywordStatus = "keyword_status"
	TableMessages      = "messages"
	TableTags          = "tags"
	TableArguments     = "arguments"
)

// Entity is a structural row that is identified by a natural key.
type Entity interface {
	TableName() string
	// NaturalKey returns the column criteria that identify the row.
	NaturalKey() map[string]any
	// PrimaryKey returns the id assigned on insert.
	PrimaryKey() uint
}

// Compile-time interface checks.
var (
	_ Entity = (*TestRun)(nil)
	_ Entity = (*Suite)(nil)
	_ Entity = (*Test)(nil)
	_ Entity = (*Keyword)(nil)
)

// TestRun is one imported result file.
type TestRun struct {
	ID         uint      `gorm:"primaryKey"`
	Hash       string    `gorm:"not null;uniqueIndex:idx_test_runs_hash"`
	Generator  string    `gorm:"not null"`
	SourceFile string    `gorm:"not null;uniqueIndex:idx_test_runs_natural"`
	StartedAt  time.Time `gorm:"not null;uniqueIndex:idx_test_runs_natural"`
	FinishedAt time.Time `gorm:"not null;uniqueIndex:idx_test_runs_natural"`
	ImportedAt time.Time `gorm:"not null"`
}

func (TestRun) TableName() string { return TableTestRuns }

func (r *TestRun) NaturalKey() map[string]any {
	return map[string]any{
		"source_file": r.SourceFile,
		"started_at":  r.StartedAt,
		"finished_at": r.FinishedAt,
	}
}

func (r *TestRun) PrimaryKey() uint { return r.ID }

// TestRunStatus is a total statistics bucket of a run.
type TestRunStatus struct {
	ID        uint     `gorm:"primaryKey"`
	TestRunID uint     `gorm:"not null;uniqueIndex:idx_test_run_status_key"`
	TestRun   *TestRun `gorm:"foreignKey:TestRunID"`
	Name      string   `gorm:"not null;uniqueIndex:idx_test_run_status_key"`
	Elapsed   int64    `gorm:"not null"`
	Failed    int      `gorm:"not null"`
	Passed    int      `gorm:"not null"`
}

func (TestRunStatus) TableName() string { return TableTestRunStatus }

// TestRunError is an execution error that is not attached to a suite.
type TestRunError struct {
	ID        uint      `gorm:"primaryKey"`
	TestRunID uint      `gorm:"not null;uniqueIndex:idx_test_run_errors_key"`
	TestRun   *TestRun  `gorm:"foreignKey:TestRunID"`
	Level     string    `gorm:"not null;uniqueIndex:idx_test_run_errors_key"`
	Timestamp time.Time `gorm:"not null"`
	Content   string    `gorm:"not null;uniqueIndex:idx_test_run_errors_key"`
}

func (TestRunError) TableName() string { return TableTestRunErrors }

// TagStatus is a tag statistics bucket of a run.
type TagStatus struct {
	ID        uint     `gorm:"primaryKey"`
	TestRunID uint     `gorm:"not null;uniqueIndex:idx_tag_status_key"`
	TestRun   *TestRun `gorm:"foreignKey:TestRunID"`
	Name      string   `gorm:"not null;uniqueIndex:idx_tag_status_key"`
	Critical  bool     `gorm:"not null"`
	Elapsed   int64    `gorm:"not null"`
	Failed    int      `gorm:"not null"`
	Passed    int      `gorm:"not null"`
}

func (TagStatus) TableName() string { return TableTagStatus }

// Suite is a node of the suite tree, shared across runs.
type Suite struct {
	ID uint `gorm:"primaryKey"`
	// ParentID must not be named or stored as suite_id: gorm resolves the
	// SuiteID foreign keys of child models against this schema first.
	ParentID *uint  `gorm:"column:parent_id;index"`
	Parent   *Suite `gorm:"foreignKey:ParentID;references:ID"`
	XMLID    string `gorm:"column:xml_id;not null"`
	Name     string `gorm:"not null;uniqueIndex:idx_suites_natural"`
	Source   string `gorm:"not null;uniqueIndex:idx_suites_natural"`
	Doc      string `gorm:"not null"`
}

func (Suite) TableName() string { return TableSuites }

func (s *Suite) NaturalKey() map[string]any {
	return map[string]any{"name": s.Name, "source": s.Source}
}

func (s *Suite) PrimaryKey() uint { return s.ID }

// SuiteStatus is the outcome of a suite in one run.
type SuiteStatus struct {
	ID        uint     `gorm:"primaryKey"`
	TestRunID uint     `gorm:"not null;uniqueIndex:idx_suite_status_key"`
	TestRun   *TestRun `gorm:"foreignKey:TestRunID"`
	SuiteID   uint     `gorm:"not null;uniqueIndex:idx_suite_status_key"`
	Suite     *Suite   `gorm:"foreignKey:SuiteID"`
	Elapsed   int64    `gorm:"not null"`
	Failed    int      `gorm:"not null"`
	Passed    int      `gorm:"not null"`
	Status    string   `gorm:"not null;index"`
}

func (SuiteStatus) TableName() string { return TableSuiteStatus }

// Test is a test case, shared across runs.
type Test struct {
	ID      uint   `gorm:"primaryKey"`
	SuiteID uint   `gorm:"not null;uniqueIndex:idx_tests_natural"`
	Suite   *Suite `gorm:"foreignKey:SuiteID"`
	XMLID   string `gorm:"column:xml_id;not null"`
	Name    string `gorm:"not null;uniqueIndex:idx_tests_natural"`
	Timeout string `gorm:"not null"`
	Doc     string `gorm:"not null"`
}

func (Test) TableName() string { return TableTests }

func (t *Test) NaturalKey() map[string]any {
	return map[string]any{"suite_id": t.SuiteID, "name": t.Name}
}

func (t *Test) PrimaryKey() uint { return t.ID }

// TestStatus is the outcome of a test in one run.
type TestStatus struct {
	ID        uint     `gorm:"primaryKey"`
	TestRunID uint     `gorm:"not null;uniqueIndex:idx_test_status_key"`
	TestRun   *TestRun `gorm:"foreignKey:TestRunID"`
	TestID    uint     `gorm:"not null;uniqueIndex:idx_test_status_key"`
	Test      *Test    `gorm:"foreignKey:TestID"`
	Status    string   `gorm:"not null;index"`
	Elapsed   int64    `gorm:"not null"`
}

func (TestStatus) TableName() string { return TableTestStatus }

// Keyword is an executed step. Exactly one of SuiteID, TestID and
// ParentID is set. Identity is (name, type) regardless of the parent.
type Keyword struct {
	ID        uint     `gorm:"primaryKey"`
	SuiteID   *uint    `gorm:"index"`
	Suite     *Suite   `gorm:"foreignKey:SuiteID"`
	TestID    *uint    `gorm:"index"`
	Test      *Test    `gorm:"foreignKey:TestID"`
	ParentID  *uint    `gorm:"column:parent_id;index"`
	Parent    *Keyword `gorm:"foreignKey:ParentID;references:ID"`
	Name      string   `gorm:"not null;uniqueIndex:idx_keywords_natural"`
	Type      string   `gorm:"not null;uniqueIndex:idx_keywords_natural"`
	Timeout   string   `gorm:"not null"`
	Doc       string   `gorm:"not null"`
}

func (Keyword) TableName() string { return TableKeywords }

func (k *Keyword) NaturalKey() map[string]any {
	return map[string]any{"name": k.Name, "type": k.Type}
}

func (k *Keyword) PrimaryKey() uint { return k.ID }

// KeywordStatus is the outcome of a keyword in one run.
type KeywordStatus struct {
	ID        uint     `gorm:"primaryKey"`
	TestRunID uint     `gorm:"not null;uniqueIndex:idx_keyword_status_key"`
	TestRun   *TestRun `gorm:"foreignKey:TestRunID"`
	KeywordID uint     `gorm:"not null;uniqueIndex:idx_keyword_status_key"`
	Keyword   *Keyword `gorm:"foreignKey:KeywordID"`
	Status    string   `gorm:"not null;index"`
	Elapsed   int64    `gorm:"not null"`
}

func (KeywordStatus) TableName() string { return TableKeywordStatus }

// Message is a log message of a keyword.
type Message struct {
	ID        uint      `gorm:"primaryKey"`
	KeywordID uint      `gorm:"not null;uniqueIndex:idx_messages_key"`
	Keyword   *Keyword  `gorm:"foreignKey:KeywordID"`
	Level     string    `gorm:"not null;uniqueIndex:idx_messages_key"`
	Timestamp time.Time `gorm:"not null"`
	Content   string    `gorm:"not null;uniqueIndex:idx_messages_key"`
}

func (Message) TableName() string { return TableMessages }

// Tag is a tag of a test.
type Tag struct {
	ID      uint   `gorm:"primaryKey"`
	TestID  uint   `gorm:"not null;uniqueIndex:idx_tags_key"`
	Test    *Test  `gorm:"foreignKey:TestID"`
	Content string `gorm:"not null;uniqueIndex:idx_tags_key"`
}

func (Tag) TableName() string { return TableTags }

// Argument is an argument of a keyword.
type Argument struct {
	ID        uint     `gorm:"primaryKey"`
	KeywordID uint     `gorm:"not null;uniqueIndex:idx_arguments_key"`
	Keyword   *Keyword `gorm:"foreignKey:KeywordID"`
	Content   string   `gorm:"not null;uniqueIndex:idx_arguments_key"`
}

func (Argument) TableName() string { return TableArguments }

// models lists every table in creation order.
func models() []any {
	return []any{
		&TestRun{},
		&TestRunStatus{},
		&TestRunError{},
		&TagStatus{},
		&Suite{},
		&SuiteStatus{},
		&Test{},
		&TestStatus{},
		&Keyword{},
		&KeywordStatus{},
		&Message{},
		&Tag{},
		&Argument{},
	}
}
