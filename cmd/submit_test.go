package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubmitCmd_Structure(t *testing.T) {
	if submitCmd == nil {
		t.Fatal("submitCmd should not be nil")
	}
	if submitCmd.Use != "submit [SQL statement]" {
		t.Errorf("submitCmd.Use = %q", submitCmd.Use)
	}

	found := false
	for _, c := range rootCmd.Commands() {
		if c.Use == submitCmd.Use {
			found = true
		}
	}
	if !found {
		t.Error("submit command should be registered with root command")
	}
}

func TestGetSQLInput_FromArgs(t *testing.T) {
	got, err := getSQLInput(submitCmd, []string{"  SELECT 1  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "SELECT 1" {
		t.Errorf("got %q, want trimmed SELECT 1", got)
	}
}

func TestGetSQLInput_NoInput(t *testing.T) {
	if _, err := getSQLInput(submitCmd, []string{}); err == nil {
		t.Error("expected error when no SQL provided")
	}
}

func TestGetSQLInput_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "q.sql")
	if err := os.WriteFile(path, []byte("SELECT 2\n"), 0600); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	cmd := submitCmd
	cmd.Flags().Set("file", path)
	defer cmd.Flags().Set("file", "")

	got, err := getSQLInput(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "SELECT 2" {
		t.Errorf("got %q, want trimmed SELECT 2", got)
	}
}
