// Package db holds the storage-neutral types shared by the Redis store and its consumers.
package db

import (
	"encoding/binary"
	"errors"
	"math"
)

// Sentinel errors. Consumers match them with errors.Is.
var (
	ErrKeyNotFound   = errors.New("db: key not found")
	ErrIndexNotFound = errors.New("db: index not found")
	ErrIndexExists   = errors.New("db: index already exists")
)

// Error names the Redis command that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// HashSetItem is one hash written by a pipelined HSET.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// KNNQuery asks for the K chunks nearest to Vector.
type KNNQuery struct {
	IndexName    string
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult lists hits nearest first.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hit. Score is cosine similarity clamped to [0, 1].
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// VectorBlob encodes v as little-endian FLOAT32, the layout HNSW fields store and KNN params expect.
func VectorBlob(v []float32) string {
	buf := make([]byte, 0, 4*len(v))
	for _, f := range v {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return string(buf)
}
