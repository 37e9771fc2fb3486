package compiler

import (
	"fmt"
	"log/slog"
	"strings"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
)

// EstimateTokens approximates the token count of a prompt. Four characters
// per token is close enough for budget enforcement.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// emit assembles the final XML prompt and enforces the token budget.
func emit(cw *CompiledWorkflow, softLimit, hardLimit int) (string, error) {
	var b strings.Builder

	b.WriteString("<task-context>\n")
	b.WriteString(xmlEscapeText(cw.Mission))
	b.WriteString("\n</task-context>\n\n")

	if len(cw.Context) > 0 {
		b.WriteString("<source-document>\n")
		for _, f := range cw.Context {
			fmt.Fprintf(&b, "<context name=%q>\n%s\n</context>\n", f.Rel, f.Content)
		}
		b.WriteString("</source-document>\n\n")
	}

	b.WriteString("<instructions>\n")
	b.WriteString(cw.Instructions)
	b.WriteString("\n</instructions>\n")

	if cw.OutputTemplate != "" {
		b.WriteString("\n<output-format>\n")
		b.WriteString(cw.OutputTemplate)
		b.WriteString("\n</output-format>\n")
	}

	prompt := b.String()
	cw.TokenEstimate = EstimateTokens(prompt)

	if hardLimit > 0 && cw.TokenEstimate > hardLimit {
		return "", bmaderrors.ErrCompiler(cw.WorkflowName,
			fmt.Sprintf("prompt is ~%d tokens, over the hard limit of %d", cw.TokenEstimate, hardLimit))
	}
	if softLimit > 0 && cw.TokenEstimate > softLimit {
		slog.Warn("prompt exceeds soft token limit",
			"workflow", cw.WorkflowName,
			"tokens", cw.TokenEstimate,
			"soft_limit", softLimit,
		)
	}

	// An <ask> element surviving into a headless prompt will hang the
	// subprocess waiting for input that never comes.
	if strings.Contains(prompt, "<ask") && !cw.Patched {
		slog.Error("CRITICAL: compiled prompt contains <ask> elements and no patch was applied; subprocess execution will hang",
			"workflow", cw.WorkflowName,
		)
	}
	return prompt, nil
}

// xmlEscapeText escapes the characters XML text content cannot carry raw.
func xmlEscapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
