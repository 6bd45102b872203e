package main

import "testing"

func TestAgentsCmdHasCRUDSubcommands(t *testing.T) {
	cmd := buildAgentsCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"create", "list", "get", "delete"} {
		if !names[want] {
			t.Fatalf("expected %q subcommand under agents", want)
		}
	}
}

func TestScheduleCmdHasListPauseResume(t *testing.T) {
	cmd := buildScheduleCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"list", "pause", "resume"} {
		if !names[want] {
			t.Fatalf("expected %q subcommand under schedule", want)
		}
	}
}

func TestSkillsCmdHasListReload(t *testing.T) {
	cmd := buildSkillsCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"list", "reload"} {
		if !names[want] {
			t.Fatalf("expected %q subcommand under skills", want)
		}
	}
}

func TestDoctorAndStatusCmdsAcceptConfigFlag(t *testing.T) {
	if f := buildDoctorCmd().Flags().Lookup("config"); f == nil {
		t.Fatal("expected doctor --config flag")
	}
	if f := buildStatusCmd().Flags().Lookup("config"); f == nil {
		t.Fatal("expected status --config flag")
	}
}
