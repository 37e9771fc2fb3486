package compiler

import (
	"regexp"
)

// nonExecutableElements are XML elements stripped from instructions before
// emission. They carry authoring or facilitation content that a headless
// provider must not see as work items.
var nonExecutableElements = []string{
	"example",
	"demo",
	"facilitator-note",
	"author-note",
	"web-only",
	"elicit",
	"comment",
}

var elementStrippers = buildStrippers(nonExecutableElements)

func buildStrippers(tags []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(tags)*2)
	for _, tag := range tags {
		// Paired form with content, then the self-closing form.
		out = append(out,
			regexp.MustCompile(`(?s)<`+tag+`(?:\s[^>]*)?>.*?</`+tag+`>`),
			regexp.MustCompile(`<`+tag+`(?:\s[^>]*)?/>`),
		)
	}
	return out
}

var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// filterInstructions removes non-executable elements and substitutes the
// resolved variables into what remains.
func filterInstructions(raw string, vars map[string]string) string {
	out := raw
	for _, re := range elementStrippers {
		out = re.ReplaceAllString(out, "")
	}
	out = substituteVariables(out, vars)
	return excessBlankLines.ReplaceAllString(out, "\n\n")
}
