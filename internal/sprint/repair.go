package sprint

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// CLIConfirmer renders the divergence summary as a table and asks the
// operator to approve the repair on the terminal.
type CLIConfirmer struct {
	In  io.Reader
	Out io.Writer
}

var (
	repairHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	repairCellStyle   = lipgloss.NewStyle().PaddingRight(2)
	repairWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// ConfirmRepair implements Confirmer.
func (c *CLIConfirmer) ConfirmRepair(res *Result) bool {
	fmt.Fprintln(c.Out, repairWarnStyle.Render(fmt.Sprintf(
		"sprint-status divergence %.0f%% (%d of %d entries changed)",
		res.Divergence*100, res.Changed, res.Total)))
	fmt.Fprintln(c.Out, renderDiscrepancyTable(res.Discrepancies))
	fmt.Fprint(c.Out, "Apply these changes? [y/N] ")

	scanner := bufio.NewScanner(c.In)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

// renderDiscrepancyTable lays the discrepancies out in aligned columns.
func renderDiscrepancyTable(ds []Discrepancy) string {
	rows := [][]string{{"TYPE", "STORY", "CURRENT", "EXPECTED"}}
	for _, d := range ds {
		story := ""
		if d.StoryNumber > 0 {
			story = fmt.Sprint(d.StoryNumber)
		}
		rows = append(rows, []string{d.Type, story, orDash(d.Actual), orDash(d.Expected)})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for ri, row := range rows {
		for i, cell := range row {
			padded := cell + strings.Repeat(" ", widths[i]-len(cell))
			if ri == 0 {
				padded = repairHeaderStyle.Render(padded)
			}
			b.WriteString(repairCellStyle.Render(padded))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// AutoCancelConfirmer always refuses; the dashboard has no interactive
// channel for repair approval yet, so high-divergence merges are skipped.
type AutoCancelConfirmer struct{}

// ConfirmRepair implements Confirmer.
func (AutoCancelConfirmer) ConfirmRepair(*Result) bool { return false }
