package topic

import "testing"

func TestBuilder(t *testing.T) {
	b := NewBuilder("fleet/v1")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"register", b.Register("dev-001"), "fleet/v1/register/dev-001"},
		{"status", b.Status("dev-001"), "fleet/v1/update/status/dev-001"},
		{"progress", b.Progress("dev-001"), "fleet/v1/update/progress/dev-001"},
		{"command", b.Command("dev-001"), "fleet/v1/command/dev-001"},
		{"status wildcard", b.StatusWildcard(), "fleet/v1/update/status/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
