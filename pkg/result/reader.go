package result

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts used by the different output.xml generations.
const (
	legacyTimestampLayout = "20060102 15:04:05.000"
	isoTimestampLayout    = "2006-01-02T15:04:05.999999"
)

type xmlRobot struct {
	XMLName    xml.Name      `xml:"robot"`
	Generator  string        `xml:"generator,attr"`
	Suite      *xmlSuite     `xml:"suite"`
	Statistics xmlStatistics `xml:"statistics"`
	Errors     []xmlMessage  `xml:"errors>msg"`
}

type xmlSuite struct {
	ID       string       `xml:"id,attr"`
	Name     string       `xml:"name,attr"`
	Source   string       `xml:"source,attr"`
	Doc      string       `xml:"doc"`
	Suites   []xmlSuite   `xml:"suite"`
	Tests    []xmlTest    `xml:"test"`
	Keywords []xmlKeyword `xml:"kw"`
	Setup    *xmlKeyword  `xml:"setup"`
	Teardown *xmlKeyword  `xml:"teardown"`
	Status   xmlStatus    `xml:"status"`
}

type xmlTest struct {
	ID         string       `xml:"id,attr"`
	Name       string       `xml:"name,attr"`
	Doc        string       `xml:"doc"`
	Tags       []string     `xml:"tag"`
	LegacyTags []string     `xml:"tags>tag"`
	Timeout    xmlTimeout   `xml:"timeout"`
	Status     xmlStatus    `xml:"status"`
	Body       []xmlKeyword `xml:",any"`
}

type xmlKeyword struct {
	XMLName    xml.Name
	Name       string       `xml:"name,attr"`
	Library    string       `xml:"library,attr"`
	Owner      string       `xml:"owner,attr"`
	Type       string       `xml:"type,attr"`
	Timeout    string       `xml:"timeout,attr"`
	Doc        string       `xml:"doc"`
	Args       []string     `xml:"arg"`
	LegacyArgs []string     `xml:"arguments>arg"`
	TimeoutEl  xmlTimeout   `xml:"timeout"`
	Messages   []xmlMessage `xml:"msg"`
	Status     xmlStatus    `xml:"status"`
	Body       []xmlKeyword `xml:",any"`
}

type xmlTimeout struct {
	Value string `xml:"value,attr"`
}

type xmlStatus struct {
	Status    string `xml:"status,attr"`
	StartTime string `xml:"starttime,attr"`
	EndTime   string `xml:"endtime,attr"`
	Start     string `xml:"start,attr"`
	Elapsed   string `xml:"elapsed,attr"`
}

type xmlMessage struct {
	Timestamp string `xml:"timestamp,attr"`
	Time      string `xml:"time,attr"`
	Level     string `xml:"level,attr"`
	Text      string `xml:",chardata"`
}

type xmlStatistics struct {
	Total  []xmlStat `xml:"total>stat"`
	Tags   []xmlStat `xml:"tag>stat"`
	Suites []xmlStat `xml:"suite>stat"`
}

type xmlStat struct {
	Pass     int    `xml:"pass,attr"`
	Fail     int    `xml:"fail,attr"`
	ID       string `xml:"id,attr"`
	Info     string `xml:"info,attr"`
	Critical string `xml:"critical,attr"`
	Name     string `xml:",chardata"`
}

// stepElements are the body elements that become keywords. Control
// structures are kept so the keywords run inside them are not lost.
var stepElements = map[string]string{
	"kw":       "",
	"setup":    KeywordTypeSetup,
	"teardown": KeywordTypeTeardown,
	"for":      KeywordTypeFor,
	"iter":     KeywordTypeForItem,
	"if":       KeywordTypeIf,
	"try":      KeywordTypeTry,
	"branch":   KeywordTypeBranch,
	"while":    KeywordTypeWhile,
	"group":    KeywordTypeGroup,
	"return":   KeywordTypeReturn,
	"break":    KeywordTypeBreak,
	"continue": KeywordTypeContinue,
	"var":      KeywordTypeVar,
	"error":    KeywordTypeError,
}

// ReadFile reads an output.xml file into a Run tree.
func ReadFile(path string) (*Run, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Read(f, path)
}

// Read decodes an output.xml document. source is recorded as the run
// source and used in error messages.
func Read(r io.Reader, source string) (*Run, error) {
	var doc xmlRobot
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, malformed(source, "invalid XML", err)
	}

	if doc.Suite == nil {
		return nil, malformed(source, "missing root suite", nil)
	}

	c := &converter{source: source}

	suite, err := c.suite(doc.Suite)
	if err != nil {
		return nil, err
	}

	errs, err := c.messages(doc.Errors)
	if err != nil {
		return nil, err
	}

	run := &Run{
		Source:    source,
		Generator: doc.Generator,
		Errors:    errs,
		Suite:     suite,
	}
	run.Statistics = c.statistics(doc.Statistics, suite)

	return run, nil
}

type converter struct {
	source string
}

func (c *converter) suite(s *xmlSuite) (*Suite, error) {
	if s.Name == "" {
		return nil, malformed(c.source, fmt.Sprintf("suite %q has no name", s.ID), nil)
	}

	start, end, elapsed, err := c.status(s.Status)
	if err != nil {
		return nil, err
	}

	out := &Suite{
		ID:        s.ID,
		Name:      s.Name,
		Source:    s.Source,
		Doc:       s.Doc,
		Status:    s.Status.Status,
		StartTime: start,
		EndTime:   end,
		Elapsed:   elapsed,
		Suites:    make([]*Suite, 0, len(s.Suites)),
		Tests:     make([]*Test, 0, len(s.Tests)),
	}

	if s.Setup != nil {
		kw, err := c.keyword(s.Setup)
		if err != nil {
			return nil, err
		}

		out.Keywords = append(out.Keywords, kw)
	}

	for i := range s.Keywords {
		kw, err := c.keyword(&s.Keywords[i])
		if err != nil {
			return nil, err
		}

		out.Keywords = append(out.Keywords, kw)
	}

	if s.Teardown != nil {
		kw, err := c.keyword(s.Teardown)
		if err != nil {
			return nil, err
		}

		out.Keywords = append(out.Keywords, kw)
	}

	for i := range s.Suites {
		sub, err := c.suite(&s.Suites[i])
		if err != nil {
			return nil, err
		}

		out.Suites = append(out.Suites, sub)
	}

	for i := range s.Tests {
		t, err := c.test(&s.Tests[i])
		if err != nil {
			return nil, err
		}

		out.Tests = append(out.Tests, t)
	}

	return out, nil
}

func (c *converter) test(t *xmlTest) (*Test, error) {
	if t.Name == "" {
		return nil, malformed(c.source, fmt.Sprintf("test %q has no name", t.ID), nil)
	}

	_, _, elapsed, err := c.status(t.Status)
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(t.Tags)+len(t.LegacyTags))
	tags = append(tags, t.LegacyTags...)
	tags = append(tags, t.Tags...)

	keywords, err := c.body(t.Body)
	if err != nil {
		return nil, err
	}

	return &Test{
		ID:       t.ID,
		Name:     t.Name,
		Timeout:  t.Timeout.Value,
		Doc:      t.Doc,
		Status:   t.Status.Status,
		Elapsed:  elapsed,
		Tags:     tags,
		Keywords: keywords,
	}, nil
}

func (c *converter) body(elements []xmlKeyword) ([]*Keyword, error) {
	keywords := make([]*Keyword, 0, len(elements))

	for i := range elements {
		if _, ok := stepElements[elements[i].XMLName.Local]; !ok {
			continue
		}

		kw, err := c.keyword(&elements[i])
		if err != nil {
			return nil, err
		}

		keywords = append(keywords, kw)
	}

	return keywords, nil
}

func (c *converter) keyword(k *xmlKeyword) (*Keyword, error) {
	kwType := keywordType(k)

	name := k.Name
	if name == "" {
		if kwType == KeywordTypeKeyword {
			return nil, malformed(c.source, "keyword has no name", nil)
		}

		// Branches carry their kind (IF, ELSE, EXCEPT, ...) in the type
		// attribute.
		name = strings.ToUpper(kwType)
		if kwType == KeywordTypeBranch && k.Type != "" {
			name = strings.ToUpper(k.Type)
		}
	}

	if lib := firstNonEmpty(k.Library, k.Owner); lib != "" && !strings.HasPrefix(name, lib+".") {
		name = lib + "." + name
	}

	_, _, elapsed, err := c.status(k.Status)
	if err != nil {
		return nil, err
	}

	messages, err := c.messages(k.Messages)
	if err != nil {
		return nil, err
	}

	children, err := c.body(k.Body)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(k.Args)+len(k.LegacyArgs))
	args = append(args, k.LegacyArgs...)
	args = append(args, k.Args...)

	return &Keyword{
		Name:     name,
		Type:     kwType,
		Timeout:  firstNonEmpty(k.Timeout, k.TimeoutEl.Value),
		Doc:      k.Doc,
		Status:   k.Status.Status,
		Elapsed:  elapsed,
		Messages: messages,
		Args:     args,
		Keywords: children,
	}, nil
}

// keywordType normalizes the legacy type attribute and the newer
// element-based setup/teardown/for representation.
func keywordType(k *xmlKeyword) string {
	if t := stepElements[k.XMLName.Local]; t != "" {
		return t
	}

	switch t := strings.ToLower(k.Type); t {
	case "", "keyword", KeywordTypeKeyword:
		return KeywordTypeKeyword
	case "iteration":
		return KeywordTypeForItem
	default:
		return t
	}
}

func (c *converter) messages(in []xmlMessage) ([]Message, error) {
	out := make([]Message, 0, len(in))

	for _, m := range in {
		ts, err := parseTimestamp(firstNonEmpty(m.Timestamp, m.Time))
		if err != nil {
			return nil, malformed(c.source, "invalid message timestamp", err)
		}

		out = append(out, Message{
			Level:     m.Level,
			Timestamp: ts,
			Text:      m.Text,
		})
	}

	return out, nil
}

// status returns start, end and elapsed milliseconds from either the
// starttime/endtime or the start/elapsed attribute pair.
func (c *converter) status(s xmlStatus) (time.Time, time.Time, int64, error) {
	if s.Start != "" || s.Elapsed != "" {
		start, err := parseTimestamp(s.Start)
		if err != nil {
			return time.Time{}, time.Time{}, 0, malformed(c.source, "invalid start time", err)
		}

		var elapsed int64

		if s.Elapsed != "" {
			secs, err := strconv.ParseFloat(s.Elapsed, 64)
			if err != nil {
				return time.Time{}, time.Time{}, 0, malformed(c.source, "invalid elapsed time", err)
			}

			elapsed = int64(math.Round(secs * 1000))
		}

		end := start
		if !start.IsZero() {
			end = start.Add(time.Duration(elapsed) * time.Millisecond)
		}

		return start, end, elapsed, nil
	}

	start, err := parseTimestamp(s.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, 0, malformed(c.source, "invalid start time", err)
	}

	end, err := parseTimestamp(s.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, 0, malformed(c.source, "invalid end time", err)
	}

	var elapsed int64
	if !start.IsZero() && !end.IsZero() {
		elapsed = end.Sub(start).Milliseconds()
	}

	return start, end, elapsed, nil
}

// statistics converts the statistics section. Bucket elapsed time is the
// sum of the elapsed time of the tests in the bucket.
func (c *converter) statistics(in xmlStatistics, root *Suite) Statistics {
	tests := root.AllTests()

	var total int64
	for _, t := range tests {
		total += t.Elapsed
	}

	out := Statistics{
		Total:  make([]Stat, 0, len(in.Total)),
		Tags:   make([]TagStat, 0, len(in.Tags)),
		Suites: make([]Stat, 0, len(in.Suites)),
	}

	for _, s := range in.Total {
		out.Total = append(out.Total, Stat{
			Name:    strings.TrimSpace(s.Name),
			Passed:  s.Pass,
			Failed:  s.Fail,
			Elapsed: total,
		})
	}

	for _, s := range in.Tags {
		name := strings.TrimSpace(s.Name)

		out.Tags = append(out.Tags, TagStat{
			Stat: Stat{
				Name:    name,
				Passed:  s.Pass,
				Failed:  s.Fail,
				Elapsed: tagElapsed(tests, name),
			},
			Critical: s.Info == "critical" || s.Critical == "yes",
		})
	}

	suites := make(map[string]int64)
	indexSuiteElapsed(root, suites)

	for _, s := range in.Suites {
		out.Suites = append(out.Suites, Stat{
			Name:    strings.TrimSpace(s.Name),
			Passed:  s.Pass,
			Failed:  s.Fail,
			Elapsed: suites[s.ID],
		})
	}

	return out
}

func tagElapsed(tests []*Test, tag string) int64 {
	var elapsed int64

	for _, t := range tests {
		for _, candidate := range t.Tags {
			if strings.EqualFold(candidate, tag) {
				elapsed += t.Elapsed

				break
			}
		}
	}

	return elapsed
}

func indexSuiteElapsed(s *Suite, into map[string]int64) {
	into[s.ID] = s.Elapsed

	for _, sub := range s.Suites {
		indexSuiteElapsed(sub, into)
	}
}

// parseTimestamp parses both timestamp layouts. Empty and "N/A" values
// yield the zero time.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" || value == "N/A" {
		return time.Time{}, nil
	}

	layout := legacyTimestampLayout
	if strings.Contains(value, "T") {
		layout = isoTimestampLayout
	}

	ts, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return time.Time{}, err
	}

	return ts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
