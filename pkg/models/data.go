package models

import "time"

// RawData represents the output of one command collected from a remote
// device, before any parsing or structuring.
type RawData struct {
	// Unique identifier for tracking this collection instance
	CollectionID string `json:"collection_id"`

	// Identifier for the source device (e.g., hostname or IP)
	SourceID string `json:"source_id"`

	// Timestamp when the data was collected
	Timestamp time.Time `json:"timestamp"`

	// Identifier for the data chunk: the command text that produced it
	ChunkID string `json:"chunk_id"`

	// Cache generation the command ran in
	Generation int `json:"generation"`

	// The actual raw text collected. Nil when the command timed out or the
	// replay file had no entry for it.
	Payload *string `json:"payload,omitempty"`
}
