package randx

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomID(t *testing.T) {
	seen := make(map[string]struct{})
	for range 50 {
		id, err := RoomID()
		require.NoError(t, err)
		assert.Len(t, id, RoomIDLength)
		assert.True(t, IsValidRoomID(id), "generated id %q must validate", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 50)
}

func TestUUID(t *testing.T) {
	_, err := uuid.Parse(UUID())
	assert.NoError(t, err)
}

func TestIsValidRoomID(t *testing.T) {
	tests := []struct {
		input  string
		expect bool
	}{
		{"demo", true},
		{"default-room", true},
		{"6f1c7f8e-2b1a-4c3d-9e8f-0a1b2c3d4e5f", true},
		{"r_2", true},
		{"", false},
		{"../etc", false},
		{"a/b", false},
		{"room id", false},
		{strings.Repeat("a", MaxRoomIDLength), true},
		{strings.Repeat("a", MaxRoomIDLength+1), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, IsValidRoomID(tt.input), "input=%q", tt.input)
	}
}
