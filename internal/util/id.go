package util

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID such as "card_01J9...". IDs sort by creation
// time, which the stores rely on for oldest-first listings.
func NewID(prefix string) string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.DefaultEntropy())
	if err != nil {
		id = ulid.Make()
	}
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}
