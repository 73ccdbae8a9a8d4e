package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cronplan/internal/core"
	"cronplan/internal/schedule"
)

// namedRule is one entry of a rules file.
type namedRule struct {
	Name              string `yaml:"name"`
	schedule.RuleSpec `yaml:",inline"`
}

func fileCmd() *cobra.Command {
	var (
		at  string
		utc bool
	)
	cmd := &cobra.Command{
		Use:   "file FILE",
		Short: "Check every rule in a YAML rules file and print its next run",
		Example: `  # rules.yaml
  - name: standup
    kind: cron
    expression: "0 30 9 * * MON-FRI"
  - name: rent
    kind: recurring
    frequency: monthly
    interval: 1
    day_of_month: 1
    time: "08:00"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read rules file: %w", err)
			}
			var rules []namedRule
			if err := yaml.Unmarshal(data, &rules); err != nil {
				return fmt.Errorf("parse rules file %s: %w", args[0], err)
			}
			reference, err := referenceTime(at, utc)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			failed := 0
			for i, entry := range rules {
				name := entry.Name
				if name == "" {
					name = fmt.Sprintf("#%d", i+1)
				}
				next, summary, err := checkRule(entry.RuleSpec, reference)
				if err != nil {
					failed++
					fmt.Fprintf(w, "FAIL  %s: %s\n", name, schedule.Describe(err))
					continue
				}
				fmt.Fprintf(w, "ok    %s: %s, next %s (%s)\n", name, summary,
					schedule.FormatInstant(next), humanize.RelTime(next, reference, "ago", "from now"))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d rules failed", failed, len(rules))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Reference time in RFC 3339 (default now)")
	cmd.Flags().BoolVar(&utc, "utc", false, "Evaluate in UTC instead of local time")
	return cmd
}

func checkRule(spec schedule.RuleSpec, reference time.Time) (time.Time, string, error) {
	rule, err := spec.Rule()
	if err != nil {
		return time.Time{}, "", err
	}
	next, err := core.NextRunAt(rule, reference)
	if err != nil {
		return time.Time{}, "", err
	}
	return next.In(reference.Location()), schedule.Summary(rule), nil
}
