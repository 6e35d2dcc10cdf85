/*
Package randx provides functions for generating cryptographically secure identifiers.

It generates Base62 room ids for freshly created rooms, UUIDs for users, connections and
chat messages, and validates room ids supplied by clients before they are used as
storage key prefixes.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// RoomIDLength is the length of server-generated room ids.
	RoomIDLength = 10

	// MaxRoomIDLength bounds client-supplied room ids.
	MaxRoomIDLength = 128
)

// RoomID generates a Base62 room id using crypto/rand.
func RoomID() (string, error) {
	result := make([]byte, RoomIDLength)

	for i := range RoomIDLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for room id: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// UUID returns a random (v4) UUID string. It backs user ids, connection ids and chat
// message ids.
func UUID() string {
	return uuid.New().String()
}

// IsValidRoomID reports whether id may name a room. Room ids come from URLs ("demo",
// "default-room", UUIDs, generated ids) and become storage key prefixes, so only
// letters, digits, '-' and '_' are accepted.
func IsValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLength {
		return false
	}

	for _, char := range id {
		switch {
		case char >= '0' && char <= '9',
			char >= 'A' && char <= 'Z',
			char >= 'a' && char <= 'z',
			char == '-', char == '_':
		default:
			return false
		}
	}

	return true
}
