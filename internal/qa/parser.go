package qa

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TestID is a parsed plan test identifier, E{epic}-{A|B|C}{NN}.
type TestID struct {
	Raw      string
	Epic     int
	Category byte
	Num      int
}

var testIDPattern = regexp.MustCompile(`\bE(\d+)-([ABC])(\d+)\b`)

// ParseTestID parses the first test ID in s.
func ParseTestID(s string) (TestID, bool) {
	m := testIDPattern.FindStringSubmatch(s)
	if m == nil {
		return TestID{}, false
	}
	epic, _ := strconv.Atoi(m[1])
	num, _ := strconv.Atoi(m[3])
	return TestID{Raw: m[0], Epic: epic, Category: m[2][0], Num: num}, true
}

// Test is one plan entry. Checklist rows without a matching section have an
// empty Script and cannot execute.
type Test struct {
	ID     TestID
	Title  string
	Script string
	// Lang is the fenced block language: bash for category A, typescript
	// for category B.
	Lang string
	// Expect is an optional output assertion: plain substring, or /re/ for
	// a regular expression.
	Expect string
}

// Plan is a parsed QA plan.
type Plan struct {
	Tests []Test
}

// Find returns the test with the given raw ID.
func (p *Plan) Find(raw string) (Test, bool) {
	for _, t := range p.Tests {
		if t.ID.Raw == raw {
			return t, true
		}
	}
	return Test{}, false
}

var headerLine = regexp.MustCompile(`^#{3,4}\s+`)
var expectLine = regexp.MustCompile(`(?m)^Expect:\s*(.+)$`)

// ParsePlan parses the Markdown QA plan. The master checklist table is the
// source of truth for which tests exist; per-test sections contribute titles
// and scripts. Section boundaries are detected with fence tracking so that
// Markdown headers inside heredocs never split a test in two.
func ParsePlan(content string) (*Plan, error) {
	lines := strings.Split(content, "\n")

	// Pass 1: header indices and checklist IDs, skipping fenced regions.
	var headerIdx []int
	var checklist []TestID
	inChecklist := map[string]bool{}
	fenced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			fenced = !fenced
			continue
		}
		if fenced {
			continue
		}
		if headerLine.MatchString(line) {
			if _, ok := ParseTestID(line); ok {
				headerIdx = append(headerIdx, i)
			}
			continue
		}
		if strings.HasPrefix(trimmed, "|") {
			if id, ok := ParseTestID(trimmed); ok && !inChecklist[id.Raw] {
				inChecklist[id.Raw] = true
				checklist = append(checklist, id)
			}
		}
	}

	// Pass 2: pairwise sections between consecutive headers.
	sections := map[string]Test{}
	var sectionOrder []string
	for n, start := range headerIdx {
		end := len(lines)
		if n+1 < len(headerIdx) {
			end = headerIdx[n+1]
		}
		id, _ := ParseTestID(lines[start])
		body := strings.Join(lines[start+1:end], "\n")
		test := Test{
			ID:    id,
			Title: sectionTitle(lines[start], id.Raw),
		}
		test.Script, test.Lang = firstFencedBlock(body)
		if m := expectLine.FindStringSubmatch(body); m != nil {
			test.Expect = strings.TrimSpace(m[1])
		}
		if _, dup := sections[id.Raw]; !dup {
			sections[id.Raw] = test
			sectionOrder = append(sectionOrder, id.Raw)
		}
	}

	if len(checklist) == 0 && len(sections) == 0 {
		return nil, fmt.Errorf("plan contains no test IDs matching E<epic>-<A|B|C><num>")
	}

	plan := &Plan{}
	for _, id := range checklist {
		if t, ok := sections[id.Raw]; ok {
			plan.Tests = append(plan.Tests, t)
		} else {
			plan.Tests = append(plan.Tests, Test{ID: id})
		}
	}
	// Sections absent from the checklist still run; append in plan order.
	for _, raw := range sectionOrder {
		if !inChecklist[raw] {
			plan.Tests = append(plan.Tests, sections[raw])
		}
	}
	return plan, nil
}

func sectionTitle(header, rawID string) string {
	title := headerLine.ReplaceAllString(header, "")
	title = strings.Replace(title, rawID, "", 1)
	return strings.Trim(title, " -:\t")
}

// firstFencedBlock extracts the first ``` block and its language tag.
func firstFencedBlock(body string) (script, lang string) {
	lines := strings.Split(body, "\n")
	var buf []string
	fenced := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if fenced {
				return strings.Join(buf, "\n"), lang
			}
			fenced = true
			lang = strings.TrimPrefix(trimmed, "```")
			continue
		}
		if fenced {
			buf = append(buf, line)
		}
	}
	return "", ""
}
