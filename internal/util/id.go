package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID, optionally prefixed as "<prefix>_<hex>".
func NewID(prefix string) string {
	id := uuid.New()
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + strings.ReplaceAll(id.String(), "-", "")
}
