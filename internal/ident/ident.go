// Package ident generates mutation identifiers.
//
// Identifiers are an epoch-millisecond prefix followed by a random suffix, so
// they sort roughly by creation time while staying unique across rapid
// enqueues. They are opaque to the server and never reused.
package ident

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New generates a new mutation identifier.
func New() string {
	return NewAt(time.Now())
}

// NewAt generates an identifier with the given creation time.
func NewAt(t time.Time) string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%d-%s", t.UnixMilli(), suffix)
}

// CreatedAt extracts the epoch-millisecond prefix from an identifier.
// Returns 0 for identifiers not produced by this package.
func CreatedAt(id string) int64 {
	prefix, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0
	}
	ms, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}
