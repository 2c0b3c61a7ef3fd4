package store

import "github.com/google/uuid"

// newID produces a short, prefixed identifier of the form
// "<prefix>-<8 lowercase hex>", using a UUIDv4 as the entropy source
// and truncating to the first 8 hex characters of its string form.
func newID(prefix string) string {
	raw := uuid.New().String()
	hex := raw[:8]
	return prefix + "-" + hex
}
