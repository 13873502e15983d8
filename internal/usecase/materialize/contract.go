package materialize

import "context"

// Index is the vector index a collection is built into.
type Index interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string) error
	Save(ctx context.Context, name string, chunks []string) error
}

// Registry hands out decryption keys wrapped for this node.
type Registry interface {
	GetDecryptionKey(ctx context.Context, fileID int64, consumer string) (string, error)
}

// Decryptor fetches and opens an encrypted file.
type Decryptor interface {
	Decrypt(ctx context.Context, url, wrappedKey string) ([]byte, error)
}

// Chunker splits plaintext into passages.
type Chunker interface {
	Chunk(text string) ([]string, error)
}
