// Package identity derives stable point identifiers for stored chunks.
//
// The id for a chunk is a name-based UUID (version 5) over the string
// "<source_id>:<index>" in the URL namespace. The same source and index
// always produce the same id, so re-ingesting a document overwrites its
// existing points instead of duplicating them.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// DeriveID returns the deterministic point id for the chunk at index within
// the given source. It is a pure function: independent of process, time, and
// chunk content.
func DeriveID(sourceID string, index int) string {
	name := fmt.Sprintf("%s:%d", sourceID, index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
