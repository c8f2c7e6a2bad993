package mqtt

import "testing"

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/b/c/d", false},
		{"a/#", "a/b/c/d", true},
		// "#" includes the parent level per the MQTT spec.
		{"a/#", "a", true},
		{"a/+", "a/b", true},
		{"a/+", "a", false},
		{"#", "anything/at/all", true},
		{"fleet/v1/command/+", "fleet/v1/command/dev-001", true},
		{"fleet/v1/command/+", "fleet/v1/update/status/dev-001", false},
	}

	for _, tt := range tests {
		if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
			t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
