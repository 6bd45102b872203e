package main

import "testing"

func TestBuildRootCmdRegistersAllSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"serve", "doctor", "status", "schedule", "agents", "skills"} {
		if !names[want] {
			t.Fatalf("expected %q subcommand to be registered", want)
		}
	}
}
