package patch

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/provider"
)

var (
	transformedDocRe = regexp.MustCompile(`(?s)<transformed-document>\s*(.*?)\s*</transformed-document>`)
	transformLineRe  = regexp.MustCompile(`(?m)^\s*(\d+)\s*:\s*(applied|skipped|failed)\s*$`)
	collapseBlankRe  = regexp.MustCompile(`\n{3,}`)
	// unescapedLT matches a "<" that starts neither a tag nor an entity:
	// followed by a digit, space or "=".
	unescapedLT = regexp.MustCompile(`<([0-9 =])`)
)

// transformPrompt composes the patcher LLM prompt: system preamble, the raw
// workflow wrapped in <source-document>, the numbered transforms, and an
// output format demanding <transformed-document> plus per-transform status.
func transformPrompt(raw string, p *Patch) string {
	var b strings.Builder
	b.WriteString("You are a precise document transformation engine. Apply the numbered\n")
	b.WriteString("transforms to the source document. Change nothing the transforms do not ask for.\n\n")

	b.WriteString("<source-document>\n")
	b.WriteString(raw)
	b.WriteString("\n</source-document>\n\n")

	b.WriteString("<transforms>\n")
	for i, tr := range p.Transforms {
		fmt.Fprintf(&b, "%d. %s\n", i+1, tr)
	}
	b.WriteString("</transforms>\n\n")

	b.WriteString("<output-format>\n")
	b.WriteString("Return the full modified document wrapped in <transformed-document> tags,\n")
	b.WriteString("then a <transform-results> block with one line per transform in the form\n")
	b.WriteString("\"N: applied\" or \"N: skipped\".\n")
	b.WriteString("</output-format>\n")
	return b.String()
}

// extractTransformed pulls the document out of the LLM response and repairs
// unescaped "<" characters when the result does not scan as XML.
func extractTransformed(output string) (string, error) {
	m := transformedDocRe.FindStringSubmatch(output)
	if m == nil {
		return "", bmaderrors.ErrPatch("transform", "response contains no <transformed-document> block")
	}
	doc := m[1]
	if xmlBalanced(doc) {
		return doc, nil
	}
	fixed := unescapedLT.ReplaceAllString(doc, "&lt;$1")
	if xmlBalanced(fixed) {
		return fixed, nil
	}
	return "", bmaderrors.ErrPatch("transform", "transformed document is not well-formed XML even after escaping")
}

// xmlBalanced is a cheap well-formedness probe: every "<" must open a
// plausible tag, comment or entity-escaped text.
func xmlBalanced(doc string) bool {
	for i := 0; i < len(doc); i++ {
		if doc[i] != '<' {
			continue
		}
		if i+1 >= len(doc) {
			return false
		}
		c := doc[i+1]
		ok := c == '/' || c == '!' || c == '?' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		if !ok {
			return false
		}
	}
	return true
}

// countApplied parses the transform-results block. When the block is missing
// every transform is assumed applied; validation still gates the result.
func countApplied(output string, total int) int {
	matches := transformLineRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return total
	}
	applied := 0
	for _, m := range matches {
		if m[2] == "applied" {
			applied++
		}
	}
	return applied
}

// applyPostProcess runs the declared regex replacements, then collapses runs
// of blank lines.
func applyPostProcess(doc string, rules []PostProcess) (string, error) {
	for i, rule := range rules {
		re, err := compileWithFlags(rule.Pattern, rule.Flags)
		if err != nil {
			return "", bmaderrors.ErrPatch("post_process", fmt.Sprintf("rule %d: %v", i, err))
		}
		doc = re.ReplaceAllString(doc, rule.Replacement)
	}
	return collapseBlankRe.ReplaceAllString(doc, "\n\n"), nil
}

// compileWithFlags maps IGNORECASE/MULTILINE/DOTALL onto Go regexp flags.
func compileWithFlags(pattern, flags string) (*regexp.Regexp, error) {
	prefix := ""
	for _, f := range strings.FieldsFunc(flags, func(r rune) bool { return r == '|' || r == ',' }) {
		switch strings.ToUpper(strings.TrimSpace(f)) {
		case "IGNORECASE":
			prefix += "i"
		case "MULTILINE":
			prefix += "m"
		case "DOTALL":
			prefix += "s"
		case "":
		default:
			return nil, fmt.Errorf("unknown flag %q", f)
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// validate applies the patch's acceptance checks. Patterns delimited by
// slashes are regexes compiled with MULTILINE; everything else is a plain
// substring.
func validate(doc string, v *Validation) error {
	if v == nil {
		return nil
	}
	for _, want := range v.MustContain {
		ok, err := patternMatches(doc, want)
		if err != nil {
			return err
		}
		if !ok {
			return bmaderrors.ErrPatch("validation", fmt.Sprintf("must_contain %q not satisfied", want))
		}
	}
	for _, forbid := range v.MustNotContain {
		ok, err := patternMatches(doc, forbid)
		if err != nil {
			return err
		}
		if ok {
			return bmaderrors.ErrPatch("validation", fmt.Sprintf("must_not_contain %q matched", forbid))
		}
	}
	return nil
}

func patternMatches(doc, pattern string) (bool, error) {
	if len(pattern) > 1 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") {
		re, err := regexp.Compile("(?m)" + pattern[1:len(pattern)-1])
		if err != nil {
			return false, bmaderrors.ErrPatch("validation", fmt.Sprintf("bad regex %q: %v", pattern, err))
		}
		return re.MatchString(doc), nil
	}
	return strings.Contains(doc, pattern), nil
}

// runTransform drives the patcher LLM with bounded retries and returns the
// validated, post-processed document.
func runTransform(ctx context.Context, patcher provider.Provider, req provider.Request, raw string, p *Patch, maxRetries int) (string, error) {
	req.Prompt = transformPrompt(raw, p)
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		res, err := patcher.Invoke(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		doc, err := extractTransformed(res.Stdout)
		if err != nil {
			lastErr = err
			continue
		}
		doc, err = applyPostProcess(doc, p.PostProcess)
		if err != nil {
			// Broken post_process rules will not fix themselves on retry.
			return "", err
		}
		if err := validate(doc, p.Validation); err != nil {
			lastErr = err
			continue
		}

		applied := countApplied(res.Stdout, len(p.Transforms))
		required := len(p.Transforms) * 75 / 100
		if applied < required {
			lastErr = bmaderrors.ErrPatch(p.Config.Name,
				fmt.Sprintf("only %d of %d transforms applied (need %d)", applied, len(p.Transforms), required))
			continue
		}
		return doc, nil
	}
	return "", bmaderrors.ErrPatch(p.Config.Name,
		fmt.Sprintf("transform failed after %d attempts", maxRetries)).WithCause(lastErr)
}
