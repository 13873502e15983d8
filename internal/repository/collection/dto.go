package collection

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/querynode/internal/db"
)

// Metadata states. Only ready collections are visible to HasCollection.
const (
	stateBuilding = "building"
	stateReady    = "ready"
)

// chunkNamespace seeds deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c1f0e-3a55-4d43-9a0e-6a1f3bfe2a71")

func buildingMeta(name string, vectorDim int) map[string]string {
	return map[string]string{
		"name":       name,
		"state":      stateBuilding,
		"vector_dim": strconv.Itoa(vectorDim),
		"created_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
}

func readyMeta(chunks int) map[string]string {
	return map[string]string{
		"state":    stateReady,
		"chunks":   strconv.Itoa(chunks),
		"ready_at": strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
}

// chunkID is stable for a (collection, position) pair, so a rebuild overwrites instead of duplicating.
func chunkID(name string, i int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(name+"/"+strconv.Itoa(i))).String()
}

func chunkToHash(name string, i int, content string, vec []float32) db.HashSetItem {
	return db.HashSetItem{
		Key: collectionPrefix(name) + chunkID(name, i),
		Fields: map[string]string{
			fieldContent:   content,
			fieldChunk:     strconv.Itoa(i),
			fieldEmbedding: db.VectorBlob(vec),
		},
	}
}
