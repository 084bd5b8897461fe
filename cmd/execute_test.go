package cmd

import (
	"os"
	"testing"
)

func TestExecuteVersion(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"knoll", "version"}
	if err := Execute(); err != nil {
		t.Fatalf("Execute(version) error: %v", err)
	}
}

func TestExecuteHelp(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"knoll", "help"}
	if err := Execute(); err != nil {
		t.Fatalf("Execute(help) error: %v", err)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	orig := os.Args
	defer func() { os.Args = orig }()

	os.Args = []string{"knoll", "frobnicate"}
	if err := Execute(); err == nil {
		t.Fatal("Execute(unknown) should fail")
	}
}
