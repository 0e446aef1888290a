package main

import "testing"

func TestHelpListsCommandGroups(t *testing.T) {
	out, _, err := runCLI(t, "", "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, want := range []string{"Sessions:", "Queue:", "Daemon:", "submit", "maintenance", "config"} {
		requireContains(t, out, want)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	if _, _, err := runCLI(t, "", "frobnicate"); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
