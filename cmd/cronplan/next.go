package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cronplan/internal/core"
	"cronplan/internal/schedule"
)

func nextCmd() *cobra.Command {
	var (
		cronExpr string
		ruleFile string
		at       string
		count    int
		utc      bool
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the next run times of a schedule",
		Example: `  cronplan next --cron "0 30 9 * * MON-FRI"
  cronplan next --rule-file standup.yaml --count 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rule, err := loadRule(cronExpr, ruleFile)
			if err != nil {
				return err
			}
			reference, err := referenceTime(at, utc)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return printNextRuns(cmd.OutOrStdout(), rule, reference, count)
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (5 or 6 fields)")
	cmd.Flags().StringVar(&ruleFile, "rule-file", "", "YAML or JSON file holding one rule")
	cmd.Flags().StringVar(&at, "at", "", "Reference time in RFC 3339 (default now)")
	cmd.Flags().IntVar(&count, "count", 5, "Number of run times to print")
	cmd.Flags().BoolVar(&utc, "utc", false, "Evaluate in UTC instead of local time")
	cmd.MarkFlagsMutuallyExclusive("cron", "rule-file")
	cmd.MarkFlagsOneRequired("cron", "rule-file")
	return cmd
}

func printNextRuns(w io.Writer, rule schedule.Rule, reference time.Time, count int) error {
	if _, err := core.NextRunAt(rule, reference); err != nil {
		return errors.New(schedule.Describe(err))
	}
	fmt.Fprintf(w, "%s\n", schedule.Summary(rule))
	times, err := schedule.NextRuns(rule, reference, count)
	for _, t := range times {
		fmt.Fprintf(w, "  %s  (%s)\n", schedule.FormatInstant(t), humanize.RelTime(t, reference, "ago", "from now"))
	}
	if err != nil {
		if len(times) > 0 && errors.Is(err, schedule.ErrNoNextRun) {
			fmt.Fprintf(w, "no further runs\n")
			return nil
		}
		return errors.New(schedule.Describe(err))
	}
	return nil
}

func loadRule(cronExpr, ruleFile string) (schedule.Rule, error) {
	if ruleFile == "" {
		return schedule.Cron{Expression: strings.TrimSpace(cronExpr)}, nil
	}
	data, err := os.ReadFile(ruleFile)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var spec schedule.RuleSpec
	if strings.EqualFold(filepath.Ext(ruleFile), ".json") {
		err = json.Unmarshal(data, &spec)
	} else {
		err = yaml.Unmarshal(data, &spec)
	}
	if err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", ruleFile, err)
	}
	rule, err := spec.Rule()
	if err != nil {
		return nil, errors.New(schedule.Describe(err))
	}
	return rule, nil
}

func referenceTime(at string, utc bool) (time.Time, error) {
	loc := time.Local
	if utc {
		loc = time.UTC
	}
	if at == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC 3339: %w", err)
	}
	if utc {
		return t.UTC(), nil
	}
	return t, nil
}
