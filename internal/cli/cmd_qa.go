package cli

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bmad-assist/bmad-assist/internal/compiler"
	"github.com/bmad-assist/bmad-assist/internal/config"
	"github.com/bmad-assist/bmad-assist/internal/events"
	"github.com/bmad-assist/bmad-assist/internal/phase"
	"github.com/bmad-assist/bmad-assist/internal/qa"
	"github.com/bmad-assist/bmad-assist/internal/state"
)

// newQACmd creates the qa command group
func newQACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Generate and execute QA plans",
	}
	cmd.AddCommand(newQAGenerateCmd())
	cmd.AddCommand(newQAExecuteCmd())
	return cmd
}

func newQAGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the e2e test plan for an epic",
		Long: `Generate an end-to-end QA plan for an epic via the master provider.

An existing plan is backed up before regeneration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			epicID, _ := cmd.Flags().GetString("epic")
			engine, st, err := buildQAEngine(qa.ExecOptions{Epic: epicID})
			if err != nil {
				return err
			}
			outputs, err := engine.GeneratePlan(cmd.Context(), st)
			if err != nil {
				return err
			}
			printOutputs(outputs)
			return nil
		},
	}
	cmd.Flags().String("epic", "", "epic to plan (default: current epic from state)")
	return cmd
}

func newQAExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute the e2e test plan for an epic",
		Long: `Execute the generated QA plan.

Category A tests run as local bash scripts with a per-test timeout.
Category B (Playwright) and C (documentation) tests are recorded as
skipped. Results land in qa-artifacts/test-results/ with a human summary
next to the YAML.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := qa.ExecOptions{}
			opts.Epic, _ = cmd.Flags().GetString("epic")
			opts.Category, _ = cmd.Flags().GetString("category")
			opts.Retry, _ = cmd.Flags().GetBool("retry")
			opts.RetryRun, _ = cmd.Flags().GetString("retry-run")
			opts.IncludeSkipped, _ = cmd.Flags().GetBool("include-skipped")
			opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")

			if batch, _ := cmd.Flags().GetBool("batch"); batch {
				opts.BatchThreshold = 1
			}
			if noBatch, _ := cmd.Flags().GetBool("no-batch"); noBatch {
				opts.BatchThreshold = math.MaxInt
			}

			engine, st, err := buildQAEngine(opts)
			if err != nil {
				return err
			}
			outputs, err := engine.ExecutePlan(cmd.Context(), st)
			if err != nil {
				return err
			}
			printOutputs(outputs)
			return nil
		},
	}
	cmd.Flags().String("epic", "", "epic to test (default: current epic from state)")
	cmd.Flags().String("category", "", `categories to run: "A" or "all"`)
	cmd.Flags().Bool("batch", false, "force batched execution")
	cmd.Flags().Bool("no-batch", false, "disable batched execution")
	cmd.Flags().Int("batch-size", 0, "tests per batch")
	cmd.Flags().Bool("retry", false, "re-run failed and errored tests from the last run")
	cmd.Flags().String("retry-run", "", "run ID the retry selection reads")
	cmd.Flags().Bool("include-skipped", false, "widen retry selection to skipped tests")
	return cmd
}

// buildQAEngine assembles a QA engine with a real provider invoker and loads
// the loop state the epic default comes from.
func buildQAEngine(opts qa.ExecOptions) (*qa.Engine, *state.State, error) {
	project := resolveProject()
	cfg, err := config.Load(project.Root)
	if err != nil {
		return nil, nil, err
	}
	pub := events.NewMemoryPublisher()
	rt := phase.NewRuntime(project, cfg, compiler.New(project, cfg), pub, events.NewRun())

	st, err := state.Load(project)
	if err != nil {
		return nil, nil, err
	}
	return qa.New(project, cfg, qa.InvokerFunc(rt.InvokeMaster), opts), st, nil
}

func printOutputs(outputs map[string]string) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %s\n", k, outputs[k])
	}
}
