// Package idgen produces short identifiers for calls and servers. The body
// is a UUIDv7 encoded as base58, so ids with the same prefix sort roughly
// by creation time.
package idgen

import (
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

func New(prefix string) string {
	id := uuid.Must(uuid.NewV7())

	return prefix + base58.Encode(id[:])
}

func NewNS(ns string) string {
	return New(ns + "-")
}
