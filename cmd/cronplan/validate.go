package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cronplan/internal/schedule"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "validate EXPRESSION",
		Short:   "Check a cron expression",
		Long:    "Checks a cron expression without searching for run times. Unquoted fields are joined with spaces.",
		Example: `  cronplan validate "0 */5 9-17 * * MON-FRI"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := strings.Join(args, " ")
			if msg := schedule.ValidationMessage(expr); msg != "" {
				return errors.New(msg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid: %s\n", expr)
			return nil
		},
	}
}
