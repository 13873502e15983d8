package redis

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/querynode/internal/db"
)

// distanceField is the alias FT.SEARCH gives the KNN distance of the @embedding clause.
const distanceField = "__embedding_score"

var unknownIndex = []string{"unknown index name", "no such index"}

// CreateIndex runs FT.CREATE. An existing index yields db.ErrIndexExists.
func (s *Store) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	cmd := s.client.B().Arbitrary("FT.CREATE").Args(def.CreateArgs()...).Build()
	err := s.exec(ctx, "FT.CREATE", cmd)
	if serverSays(err, "index already exists") {
		return db.ErrIndexExists
	}
	return err
}

// DropIndex runs FT.DROPINDEX, with DD when the indexed hashes should go too.
func (s *Store) DropIndex(ctx context.Context, name string, deleteDocs bool) error {
	args := []string{name}
	if deleteDocs {
		args = append(args, "DD")
	}
	err := s.exec(ctx, "FT.DROPINDEX", s.client.B().Arbitrary("FT.DROPINDEX").Args(args...).Build())
	if serverSays(err, unknownIndex...) {
		return db.ErrIndexNotFound
	}
	return err
}

// SearchKNN returns the K nearest chunks, nearest first.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	switch {
	case q.IndexName == "":
		return nil, errors.New("knn: index name is required")
	case len(q.Vector) == 0:
		return nil, errors.New("knn: query vector is empty")
	case q.K <= 0:
		return nil, errors.New("knn: k must be positive")
	}

	k := strconv.Itoa(q.K)
	args := []string{q.IndexName, "*=>[KNN " + k + " @embedding $BLOB]"}
	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)+1))
		args = append(args, q.ReturnFields...)
		args = append(args, distanceField)
	}
	args = append(args,
		"SORTBY", distanceField,
		"LIMIT", "0", k,
		"PARAMS", "2", "BLOB", db.VectorBlob(q.Vector),
		"DIALECT", "2",
	)

	reply, err := s.client.Do(ctx, s.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()).ToArray()
	if err != nil {
		if serverSays(err, unknownIndex...) {
			return nil, db.ErrIndexNotFound
		}
		return nil, &db.Error{Op: "FT.SEARCH", Err: err}
	}
	return parseSearchReply(reply)
}

// parseSearchReply reads [total, key1, [f, v, ...], key2, ...].
func parseSearchReply(reply []rueidis.RedisMessage) (*db.SearchResult, error) {
	res := &db.SearchResult{}
	if len(reply) == 0 {
		return res, nil
	}
	total, err := reply[0].AsInt64()
	if err != nil {
		return nil, &db.Error{Op: "FT.SEARCH", Err: err}
	}
	res.Total = int(total)

	for i := 1; i+1 < len(reply); i += 2 {
		key, err := reply[i].ToString()
		if err != nil {
			continue
		}
		pairs, err := reply[i+1].ToArray()
		if err != nil {
			continue
		}
		e := db.SearchEntry{Key: key, Fields: make(map[string]string, len(pairs)/2)}
		for j := 0; j+1 < len(pairs); j += 2 {
			name, nerr := pairs[j].ToString()
			val, verr := pairs[j+1].ToString()
			if nerr == nil && verr == nil {
				e.Fields[name] = val
			}
		}
		if d, ok := e.Fields[distanceField]; ok {
			if dist, err := strconv.ParseFloat(d, 64); err == nil {
				e.Score = math.Max(0, 1-dist)
			}
			delete(e.Fields, distanceField)
		}
		res.Entries = append(res.Entries, e)
	}
	return res, nil
}
