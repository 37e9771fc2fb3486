package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bmad-assist/bmad-assist/internal/config"
)

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show bmad-assist version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bmad-assist version", config.Version)
		},
	}
}
