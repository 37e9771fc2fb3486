// Package cli implements the bmad-assist command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
	"github.com/bmad-assist/bmad-assist/internal/paths"
)

// Exit codes. Config problems get their own code so wrappers can tell a
// broken setup from a failed run.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitConfigError = 2
)

var (
	projectFlag string
	verbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bmad-assist",
	Short: "Autonomous multi-LLM story development loop",
	Long: `bmad-assist drives stories through an LLM-powered development loop.

Each story passes through creation, multi-provider validation, development,
multi-provider code review, and synthesis; epics close with a retrospective
and optional QA phases. A dashboard streams live provider output over SSE.

Quick start:
  bmad-assist init        Initialize the current project
  bmad-assist run         Run the loop until all stories are done
  bmad-assist serve       Start the dashboard server
  bmad-assist status      Show loop and sprint state`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and prints structured errors in their user form.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		if berr := bmaderrors.As(err); berr != nil {
			fmt.Fprintln(os.Stderr, berr.UserMessage())
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if berr := bmaderrors.As(err); berr != nil {
		switch berr.Code {
		case bmaderrors.CodeConfigMissing, bmaderrors.CodeConfigInvalid:
			return ExitConfigError
		}
	}
	return ExitError
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "project root (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newQACmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initEnv binds BMAD_* environment variables to flags and sets log level.
func initEnv() {
	viper.SetEnvPrefix("BMAD")
	viper.AutomaticEnv()

	if projectFlag == "" {
		if p := viper.GetString("project"); p != "" {
			projectFlag = p
		}
	}

	level := slog.LevelInfo
	if verbose || viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// resolveProject picks the project root from the flag or the original
// working directory.
func resolveProject() *paths.Project {
	root := projectFlag
	if root == "" {
		root = paths.GetOriginalCWD()
	}
	return paths.New(root)
}
