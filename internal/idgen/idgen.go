// Package idgen builds the short, URL safe identifiers used for codes and sessions.
package idgen

import (
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

const (
	CodePrefix    = "qr_"
	SessionPrefix = "session_"
)

// New returns prefix followed by the base58 encoding of a UUIDv7, so IDs sort by creation time
// within the same millisecond resolution and are never reused.
func New(prefix string) string {
	id := uuid.Must(uuid.NewV7())
	return prefix + base58.Encode(id[:])
}

// Code returns a fresh code identifier.
func Code() string { return New(CodePrefix) }

// Session returns a fresh session identifier.
func Session() string { return New(SessionPrefix) }
