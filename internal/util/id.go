package util

import "github.com/google/uuid"

func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewToken returns an opaque random token suitable for share links.
func NewToken() string {
	return uuid.NewString() + uuid.NewString()
}
