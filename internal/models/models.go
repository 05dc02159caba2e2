package models

// Chunk is one bounded span of extracted text from a source document. It is
// the unit that gets embedded and stored. Index is the chunk's position within
// its source and is used only for identity derivation.
type Chunk struct {
	Text     string
	SourceID string
	Index    int
}

// Payload is the data stored alongside each vector. This is the complete
// persisted payload shape; nothing else belongs in the collection.
type Payload struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// ChunkRecord is one stored chunk as returned by fetch operations.
type ChunkRecord struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// SearchResult holds the retrieval output for one query: chunk texts in rank
// order (most similar first) and the deduplicated set of source identifiers
// they came from.
type SearchResult struct {
	Contexts []string `json:"contexts"`
	Sources  []string `json:"sources"`
}

// SourceAggregate is the on-demand aggregation over the whole collection:
// chunk counts keyed by source identifier. It is derived by scanning, never
// persisted, so it is only as fresh as the scan that produced it.
type SourceAggregate struct {
	Sources      map[string]int `json:"sources"`
	TotalSources int            `json:"total_sources"`
	TotalChunks  int            `json:"total_chunks"`
}
