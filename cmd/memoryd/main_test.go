package main

import "testing"

func TestBuildRootCmdIncludesServe(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	if !names["serve"] {
		t.Fatalf("expected \"serve\" subcommand to be registered")
	}
}

func TestServeFlagsHaveDefaults(t *testing.T) {
	cmd := buildServeCmd()
	if f := cmd.Flags().Lookup("db"); f == nil || f.DefValue != "./memory.db" {
		t.Fatalf("expected --db default of ./memory.db, got %+v", f)
	}
	if f := cmd.Flags().Lookup("embed-dim"); f == nil || f.DefValue != "256" {
		t.Fatalf("expected --embed-dim default of 256, got %+v", f)
	}
}
