package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNextWithCron(t *testing.T) {
	out, err := run(t, "next", "--cron", "0 30 9 * * MON-FRI", "--at", "2024-01-05T10:00:00Z", "--utc", "--count", "2")
	require.NoError(t, err)
	assert.Equal(t, "cron 0 30 9 * * MON-FRI\n"+
		"  2024-01-08T09:30:00Z  (2 days from now)\n"+
		"  2024-01-09T09:30:00Z  (3 days from now)\n", out)
}

func TestNextWithRuleFile(t *testing.T) {
	path := writeFile(t, "rule.yaml", `
kind: recurring
frequency: daily
interval: 1
time: "07:00"
start_date: "2024-01-01"
end_date: "2024-01-02"
`)
	out, err := run(t, "next", "--rule-file", path, "--at", "2024-01-01T00:00:00Z", "--utc")
	require.NoError(t, err)
	assert.Contains(t, out, "daily at 07:00")
	assert.Contains(t, out, "2024-01-01T07:00:00Z")
	assert.Contains(t, out, "2024-01-02T07:00:00Z")
	assert.Contains(t, out, "no further runs")
}

func TestNextWithJSONRuleFile(t *testing.T) {
	path := writeFile(t, "rule.json", `{"kind":"once","date":"2024-03-01","time":"14:00"}`)
	out, err := run(t, "next", "--rule-file", path, "--at", "2024-01-01T00:00:00Z", "--utc", "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, "once at 2024-03-01 14:00\n  2024-03-01T14:00:00Z  (2 months from now)\n", out)
}

func TestNextErrors(t *testing.T) {
	_, err := run(t, "next", "--cron", "0 0 0 31 2 *", "--at", "2024-01-01T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "This schedule never runs")

	_, err = run(t, "next", "--cron", "*/x * * * * *")
	require.Error(t, err)
	assert.Equal(t, "Invalid cron expression: second field: invalid step in */x", err.Error())

	_, err = run(t, "next")
	assert.Error(t, err)

	_, err = run(t, "next", "--cron", "* * * * *", "--at", "tomorrow")
	assert.Error(t, err)
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", "0", "*/5", "9-17", "*", "*", "MON-FRI")
	require.NoError(t, err)
	assert.Equal(t, "valid: 0 */5 9-17 * * MON-FRI\n", out)

	_, err = run(t, "validate", "0 0 0 * * 8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "day-of-week field")
}

func TestFileCommand(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
- name: standup
  kind: cron
  expression: "0 30 9 * * MON-FRI"
- name: rent
  kind: recurring
  frequency: monthly
  interval: 1
  day_of_month: 1
  time: "08:00"
- name: leap
  kind: recurring
  frequency: yearly
  interval: 1
  day_of_month: 30
  month_of_year: 2
`)
	out, err := run(t, "file", path, "--at", "2024-01-05T10:00:00Z", "--utc")
	require.Error(t, err)
	assert.Equal(t, "1 of 3 rules failed", err.Error())
	assert.Contains(t, out, "ok    standup: cron 0 30 9 * * MON-FRI, next 2024-01-08T09:30:00Z (2 days from now)")
	assert.Contains(t, out, "ok    rent: monthly at 08:00, next 2024-02-01T08:00:00Z")
	assert.Contains(t, out, "FAIL  leap: This schedule never runs")
}
