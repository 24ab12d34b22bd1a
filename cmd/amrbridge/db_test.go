package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestDBCmd_Help(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db --help failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Database management") {
		t.Errorf("expected help to mention 'Database management', got: %s", out)
	}
	for _, sub := range []string{"create", "migrate", "drop"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestDBDropCmd_Help(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "drop", "--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db drop --help failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "--yes") {
		t.Errorf("expected help to mention '--yes' flag, got: %s", out)
	}
	if !strings.Contains(out, "amrbridge.yaml") {
		t.Errorf("expected default config path 'amrbridge.yaml', got: %s", out)
	}
}

func TestConfirmDrop(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)

	cmd.SetIn(strings.NewReader("yes\n"))
	if !confirmDrop(cmd, "amrbridge") {
		t.Error("typed yes, want confirmation")
	}

	cmd.SetIn(strings.NewReader("no\n"))
	if confirmDrop(cmd, "amrbridge") {
		t.Error("typed no, want rejection")
	}
}
