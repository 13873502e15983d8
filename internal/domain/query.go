package domain

// KeyPrefix namespaces every Redis key owned by the node.
const KeyPrefix = "querynode:"

// CollectionPrefix is prepended to a content hash to name its collection.
const CollectionPrefix = "query_"

// CollectionName returns the collection addressed by a content hash.
func CollectionName(contentHash string) string {
	return CollectionPrefix + contentHash
}

// QueryRequest is a single retrieval request. At least one of FileID or FileURL must resolve.
type QueryRequest struct {
	FileID  *int64
	FileURL *string
	Query   string
	Limit   *int
}

// FileRecord is a registry entry for an encrypted file.
type FileRecord struct {
	ID    int64
	Owner string
	URL   string
	Hash  string
}

// Passage is one scored search hit. Score is cosine similarity in [0, 1].
type Passage struct {
	Content string
	Score   float64
}

// QueryResult is a successful query outcome.
type QueryResult struct {
	Data     []Passage
	Owner    string
	FileID   int64
	FileURL  string
	FileHash string
}
