package main

import (
	"testing"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	want := []string{"status", "queue", "budget", "session", "test-notify", "config"}
	for _, name := range want {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestQueueCommandHasListAndDead(t *testing.T) {
	var apiFlag, tokenFlag, configFlag string
	ctx := newCommandContext(&apiFlag, &tokenFlag, &configFlag)
	queueCmd := newQueueCommand(ctx)

	names := make(map[string]bool)
	for _, cmd := range queueCmd.Commands() {
		names[cmd.Name()] = true
	}
	if !names["list"] || !names["dead"] {
		t.Fatalf("queue subcommands = %v, want list and dead", names)
	}
}
