package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	defer SetVersion(original)

	SetVersion("1.2.3-test")
	if rootCmd.Version != "1.2.3-test" {
		t.Errorf("Expected version to be 1.2.3-test, got %s", rootCmd.Version)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "stackctl" {
		t.Errorf("Expected Use to be 'stackctl', got %s", rootCmd.Use)
	}
	if rootCmd.Short == "" || rootCmd.Long == "" {
		t.Error("Expected Short and Long descriptions to be set")
	}
	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "stackctl version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	if err := testCmd.Execute(); err != nil {
		t.Fatalf("Error executing version command: %v", err)
	}

	if got := buf.String(); got != "stackctl version 1.0.0\n" {
		t.Errorf("Unexpected version output %q", got)
	}
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, expected := range []string{"deploy", "rollback", "teardown", "verify", "plan", "status", "mcp", "version", "self-update"} {
		if !found[expected] {
			t.Errorf("Expected subcommand %s to be registered", expected)
		}
	}
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"descriptors", "context", "namespace", "output", "lock", "log-level", "log-format", "debug"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Expected persistent flag --%s", name)
		}
	}
	if f := rootCmd.PersistentFlags().ShorthandLookup("n"); f == nil || f.Name != "namespace" {
		t.Error("Expected -n to be the shorthand for --namespace")
	}
}

func TestDeployCommandHelp(t *testing.T) {
	var buf bytes.Buffer
	deployCmd := newDeployCmd()
	deployCmd.SetOut(&buf)
	deployCmd.SetArgs([]string{"--help"})

	if err := deployCmd.Execute(); err != nil {
		t.Fatalf("Error executing deploy help: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"--plan-only", "--dry-run", "--timeout-per-stage", "--skip-verify", "Exit codes"} {
		if !strings.Contains(output, want) {
			t.Errorf("Help output should contain %q. Got: %q", want, output)
		}
	}
}
