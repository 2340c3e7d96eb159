package app

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"empty defaults to serve", []string{}, CommandServe},
		{"nil defaults to serve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"case insensitive", []string{"Worker"}, CommandWorker},
		{"surrounding spaces", []string{" migrate "}, CommandMigrate},
		{"unknown defaults to serve", []string{"unknown"}, CommandServe},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCommandValues_MatchCLINames(t *testing.T) {
	for name, cmd := range commands {
		if string(cmd) != name {
			t.Errorf("commands[%q] = %q", name, cmd)
		}
	}
	if len(commands) != 4 {
		t.Errorf("len(commands) = %d, want 4", len(commands))
	}
}
