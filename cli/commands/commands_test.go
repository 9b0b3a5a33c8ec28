package commands

import "testing"

func TestAllCommandsRegistersEverySubcommand(t *testing.T) {
	want := []string{"list", "stdio", "pause", "resume", "delete", "shell"}

	got := AllCommands()
	for _, name := range want {
		factory, ok := got[name]
		if !ok {
			t.Fatalf("missing command %q", name)
		}
		if _, err := factory(); err != nil {
			t.Fatalf("command %q factory returned error: %v", name, err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("AllCommands() has %d entries, want %d", len(got), len(want))
	}
}
