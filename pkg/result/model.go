// Package result holds the typed tree of a Robot Framework execution result
// and reads it from output.xml files.
package result

import "time"

// Status values reported by Robot Framework.
const (
	StatusPass   = "PASS"
	StatusFail   = "FAIL"
	StatusSkip   = "SKIP"
	StatusNotRun = "NOT RUN"
)

// Keyword types used for suite and test setup/teardown, regular steps and
// control structures.
const (
	KeywordTypeSetup    = "setup"
	KeywordTypeTeardown = "teardown"
	KeywordTypeKeyword  = "kw"
	KeywordTypeFor      = "for"
	KeywordTypeForItem  = "foritem"
	KeywordTypeIf       = "if"
	KeywordTypeTry      = "try"
	KeywordTypeBranch   = "branch"
	KeywordTypeWhile    = "while"
	KeywordTypeGroup    = "group"
	KeywordTypeReturn   = "return"
	KeywordTypeBreak    = "break"
	KeywordTypeContinue = "continue"
	KeywordTypeVar      = "var"
	KeywordTypeError    = "error"
)

// Run is one execution result: the root of the tree.
type Run struct {
	// Source is the path of the file the result was read from.
	Source     string
	Generator  string
	Statistics Statistics
	Errors     []Message
	Suite      *Suite
}

// StartTime is the start time of the root suite.
func (r *Run) StartTime() time.Time {
	if r.Suite == nil {
		return time.Time{}
	}

	return r.Suite.StartTime
}

// EndTime is the end time of the root suite.
func (r *Run) EndTime() time.Time {
	if r.Suite == nil {
		return time.Time{}
	}

	return r.Suite.EndTime
}

// Suite is a node of the suite tree.
type Suite struct {
	ID        string
	Name      string
	Source    string
	Doc       string
	Status    string
	StartTime time.Time
	EndTime   time.Time
	// Elapsed is in milliseconds.
	Elapsed  int64
	Suites   []*Suite
	Tests    []*Test
	Keywords []*Keyword
}

// Counts returns the number of passed and failed tests in the suite and
// all of its sub-suites.
func (s *Suite) Counts() (passed, failed int) {
	for _, t := range s.Tests {
		switch t.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		}
	}

	for _, sub := range s.Suites {
		p, f := sub.Counts()
		passed += p
		failed += f
	}

	return passed, failed
}

// AllTests returns the tests of the suite and its sub-suites in pre-order.
func (s *Suite) AllTests() []*Test {
	tests := make([]*Test, 0, len(s.Tests))
	tests = append(tests, s.Tests...)

	for _, sub := range s.Suites {
		tests = append(tests, sub.AllTests()...)
	}

	return tests
}

// Test is a single test case.
type Test struct {
	ID       string
	Name     string
	Timeout  string
	Doc      string
	Status   string
	Elapsed  int64
	Tags     []string
	Keywords []*Keyword
}

// Keyword is an executed step, possibly containing nested steps.
type Keyword struct {
	Name     string
	Type     string
	Timeout  string
	Doc      string
	Status   string
	Elapsed  int64
	Messages []Message
	Args     []string
	Keywords []*Keyword
}

// Message is a log message or an execution error.
type Message struct {
	Level     string
	Timestamp time.Time
	Text      string
}

// Statistics holds the aggregated buckets of a run.
type Statistics struct {
	Total  []Stat
	Tags   []TagStat
	Suites []Stat
}

// Stat is a named bucket of passed/failed counts.
type Stat struct {
	Name    string
	Passed  int
	Failed  int
	Elapsed int64
}

// TagStat is a tag bucket.
type TagStat struct {
	Stat
	Critical bool
}
