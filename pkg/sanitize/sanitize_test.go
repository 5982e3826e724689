package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomID(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"clinic-1", "clinic-1", true},
		{"  Room_42 ", "Room_42", true},
		{"", "", false},
		{"   ", "", false},
		{"a b", "a b", false},
		{"../etc", "../etc", false},
		{"<script>", "<script>", false},
		{strings.Repeat("r", 64), strings.Repeat("r", 64), true},
		{strings.Repeat("r", 65), strings.Repeat("r", 65), false},
	}

	for _, tt := range tests {
		got, ok := RoomID(tt.input, 64)
		assert.Equal(t, tt.ok, ok, "%q", tt.input)
		assert.Equal(t, tt.want, got, "%q", tt.input)
	}
}

func TestNote(t *testing.T) {
	assert.Equal(t, "wifi <dropped>", Note("  wifi <dropped>\x00 ", 500))
	assert.Equal(t, "a<b & c", Note("a<b & c", 500), "markup is kept as written")
	assert.Equal(t, "héll", Note("héllo", 4))
	assert.Equal(t, "ab", Note("ab   cd", 4))
	assert.Equal(t, "", Note("\x07\x1b", 10))
}
