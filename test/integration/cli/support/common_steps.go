package support

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/dpmscan/cmd/dpmscan/cmd"
	"github.com/MeKo-Tech/dpmscan/internal/batch"
	"github.com/MeKo-Tech/dpmscan/internal/machine"
	"github.com/cucumber/godog"
)

// iRunCommand runs the dpmscan command tree in-process from the scenario's
// temporary directory.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] != "dpmscan" {
		return fmt.Errorf("unsupported command %q", parts[0])
	}

	restore, err := testCtx.enter()
	if err != nil {
		return err
	}
	defer restore()

	root := cmd.NewRootCommand()
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(parts[1:])

	start := time.Now()
	err = root.Execute()
	testCtx.LastDuration = time.Since(start)
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	testCtx.LastError = err
	testCtx.LastExitCode = 0
	if err != nil {
		testCtx.LastExitCode = 1
	}
	return nil
}

// enter switches into the temp directory with the scenario's environment
// and returns a function undoing both.
func (testCtx *TestContext) enter() (func(), error) {
	prevDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(testCtx.TempDir); err != nil {
		return nil, err
	}

	prevEnv := map[string]*string{}
	for name, value := range testCtx.EnvVars {
		if old, ok := os.LookupEnv(name); ok {
			prevEnv[name] = &old
		} else {
			prevEnv[name] = nil
		}
		_ = os.Setenv(name, value)
	}

	return func() {
		for name, old := range prevEnv {
			if old == nil {
				_ = os.Unsetenv(name)
			} else {
				_ = os.Setenv(name, *old)
			}
		}
		_ = os.Chdir(prevDir)
	}, nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nStderr: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeEmpty() error {
	if strings.TrimSpace(testCtx.LastOutput) != "" {
		return fmt.Errorf("expected no output, got: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theLogShouldContainOnce(expectedText string) error {
	if n := strings.Count(testCtx.LastStderr, expectedText); n != 1 {
		return fmt.Errorf("log contains '%s' %d times\nLog: %s", expectedText, n, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldMention(text string) error {
	if testCtx.LastError == nil {
		return errors.New("no error was returned")
	}
	if !strings.Contains(testCtx.LastError.Error(), text) {
		return fmt.Errorf("error %q does not mention %q", testCtx.LastError, text)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldBeAConfigurationError() error {
	if !machine.IsConfigurationError(testCtx.LastError) {
		return fmt.Errorf("expected a configuration error, got %v", testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldBeAnImageLoadError() error {
	var loadErr *batch.ImageLoadError
	if !errors.As(testCtx.LastError, &loadErr) {
		return fmt.Errorf("expected an image load error, got %v", testCtx.LastError)
	}
	return nil
}

// theReportShouldListBefore checks the order of two files in a text report.
func (testCtx *TestContext) theReportShouldListBefore(first, second string) error {
	i := strings.Index(testCtx.LastOutput, first)
	j := strings.Index(testCtx.LastOutput, second)
	if i < 0 || j < 0 {
		return fmt.Errorf("report lacks %s or %s\nOutput: %s", first, second, testCtx.LastOutput)
	}
	if i > j {
		return fmt.Errorf("%s is listed after %s", first, second)
	}
	return nil
}

// theReportRowShouldRead checks one line of a text report.
func (testCtx *TestContext) theReportRowShouldRead(file, data string) error {
	for _, line := range strings.Split(testCtx.LastOutput, "\n") {
		if strings.Contains(line, file) {
			if strings.Contains(line, data) {
				return nil
			}
			return fmt.Errorf("row of %s is %q, want data %q", file, strings.TrimSpace(line), data)
		}
	}
	return fmt.Errorf("no row for %s\nOutput: %s", file, testCtx.LastOutput)
}

func (testCtx *TestContext) csvRows() ([][]string, error) {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastOutput)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("output is not valid CSV: %w\nOutput: %s", err, testCtx.LastOutput)
	}
	if len(records) == 0 {
		return nil, errors.New("CSV output is empty")
	}
	return records[1:], nil
}

func (testCtx *TestContext) theCSVReportShouldHaveRows(n int) error {
	rows, err := testCtx.csvRows()
	if err != nil {
		return err
	}
	if len(rows) != n {
		return fmt.Errorf("CSV has %d rows, want %d", len(rows), n)
	}
	return nil
}

func (testCtx *TestContext) csvRowShouldBe(index int, file, status, data string) error {
	rows, err := testCtx.csvRows()
	if err != nil {
		return err
	}
	if index < 1 || index > len(rows) {
		return fmt.Errorf("CSV has no row %d", index)
	}
	got := rows[index-1]
	want := []string{file, status, data}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		return fmt.Errorf("row %d is %v, want %v", index, got, want)
	}
	return nil
}

func (testCtx *TestContext) theJSONReportFieldShouldBe(field, expected string) error {
	var doc map[string]any
	if err := json.Unmarshal([]byte(testCtx.LastOutput), &doc); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	got := fmt.Sprint(doc[field])
	if got != expected {
		return fmt.Errorf("JSON field %s is %q, want %q", field, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, value)
	return nil
}

// RegisterCommonSteps registers command and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)

	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should be empty$`, testCtx.theOutputShouldBeEmpty)
	sc.Step(`^the log should contain "([^"]*)" once$`, testCtx.theLogShouldContainOnce)

	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the error should be a configuration error$`, testCtx.theErrorShouldBeAConfigurationError)
	sc.Step(`^the error should be an image load error$`, testCtx.theErrorShouldBeAnImageLoadError)

	sc.Step(`^the report should list "([^"]*)" before "([^"]*)"$`, testCtx.theReportShouldListBefore)
	sc.Step(`^the report row for "([^"]*)" should read "([^"]*)"$`, testCtx.theReportRowShouldRead)
	sc.Step(`^the CSV report should have (\d+) rows?$`, testCtx.theCSVReportShouldHaveRows)
	sc.Step(`^CSV row (\d+) should be "([^"]*)", "([^"]*)", "([^"]*)"$`, testCtx.csvRowShouldBe)
	sc.Step(`^the JSON report field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONReportFieldShouldBe)
}
