package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/bmad-assist/bmad-assist/internal/lock"
	"github.com/bmad-assist/bmad-assist/internal/sprint"
	"github.com/bmad-assist/bmad-assist/internal/state"
)

var (
	statusTitleStyle = lipgloss.NewStyle().Bold(true)
	statusDoneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show loop and sprint state",
		RunE: func(cmd *cobra.Command, args []string) error {
			project := resolveProject()

			st, err := state.Load(project)
			if err != nil {
				return err
			}
			if st == nil {
				fmt.Println("no loop state; run 'bmad-assist run' to start")
				return nil
			}

			fmt.Println(statusTitleStyle.Render("loop"))
			if holder, err := lock.New(project, "").Holder(); err == nil && holder != nil {
				fmt.Printf("  running, held by %s (pid %d)\n", holder.Owner, holder.PID)
			} else {
				fmt.Println("  not running")
			}
			if _, err := os.Stat(project.PauseFlag()); err == nil {
				fmt.Println("  " + statusWarnStyle.Render("paused"))
			}
			if st.CurrentEpic != nil {
				fmt.Printf("  epic %s, story %s, next phase %s\n",
					st.CurrentEpic, orNone(st.CurrentStory), orNone(st.CurrentPhase))
			}
			fmt.Printf("  %d stories and %d epics completed\n",
				len(st.CompletedStories), len(st.CompletedEpics))

			data, err := os.ReadFile(project.SprintStatusFile())
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			doc, err := sprint.ParseDocument(data)
			if err != nil {
				return err
			}

			fmt.Println(statusTitleStyle.Render("sprint"))
			entries := doc.Entries()
			keys := make([]string, 0, len(entries))
			for k := range entries {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				line := fmt.Sprintf("  %-40s %s", k, entries[k])
				if entries[k] == "done" {
					line = statusDoneStyle.Render(line)
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
