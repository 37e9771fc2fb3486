package cli

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/bmad-assist/bmad-assist/internal/compiler"
	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/loop"
	"github.com/bmad-assist/bmad-assist/internal/phase"
	"github.com/bmad-assist/bmad-assist/internal/qa"
	"github.com/bmad-assist/bmad-assist/internal/sprint"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the development loop",
		Long: `Run the autonomous loop until every story in every epic is done.

Stories advance through CREATE_STORY, validation fan-out and synthesis,
DEV_STORY, code review fan-out and synthesis; each epic closes with a
RETROSPECTIVE and optional QA phases.

Touch .bmad-assist/pause.flag to pause the loop between phases; remove it
to resume. Ctrl+C stops cleanly after the current phase, and the next run
picks up exactly where this one left off.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			project := resolveProject()
			cfg, err := config.Load(project.Root)
			if err != nil {
				return err
			}

			var pub events.Publisher = events.NewMemoryPublisher()
			if config.DashboardMode() {
				// A parent dashboard process parses these stdout markers.
				pub = events.NewMarkerPublisher(pub, os.Stdout)
			}

			rt := phase.NewRuntime(project, cfg, compiler.New(project, cfg), pub, events.NewRun())
			rt.QA = qa.New(project, cfg, qa.InvokerFunc(rt.InvokeMaster), qa.ExecOptions{})

			opts := loop.Options{}
			if cfg.Debug.Interactive {
				if stepper := loop.NewTTYStepper(); stepper != nil {
					opts.Stepper = stepper
				}
			}
			if !config.DashboardMode() && isatty.IsTerminal(os.Stdin.Fd()) {
				opts.Confirmer = &sprint.CLIConfirmer{In: os.Stdin, Out: os.Stderr}
			}

			return loop.New(project, cfg, rt, opts).Run(cmd.Context())
		},
	}
}
